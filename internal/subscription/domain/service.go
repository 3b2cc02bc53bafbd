package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	"gorm.io/gorm"
)

// CreateRequest describes a subscription created alongside its tenant.
// OnTrial selects the trialing path with a trial-days period; otherwise
// the subscription starts active with a full billing period.
type CreateRequest struct {
	TenantID   snowflake.ID
	Plan       *plandomain.Plan
	Cycle      BillingCycle
	OnTrial    bool
	Gateway    string
	ExternalID string
	Now        time.Time
}

// LimitCheck is the answer to a quota question. Used is only populated by
// callers that know current consumption.
type LimitCheck struct {
	WithinLimit bool
	Limit       plandomain.Limit
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	GetByTenantID(ctx context.Context, tenantID snowflake.ID) (Subscription, error)

	// Tx-scoped operations used inside the provisioner's transaction.
	Create(ctx context.Context, tx *gorm.DB, req CreateRequest) (*Subscription, error)
	Expire(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, reason TransitionReason) error
	Reactivate(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, plan *plandomain.Plan, cycle BillingCycle, externalID string, now time.Time) (*Subscription, error)
	SwapPlan(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, plan *plandomain.Plan, cycle BillingCycle, now time.Time) (*Subscription, error)
	DeleteByTenantID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error

	// Transition row-locks the subscription and applies one state-machine
	// move in its own transaction.
	Transition(ctx context.Context, subscriptionID snowflake.ID, target Status, reason TransitionReason) error
	Cancel(ctx context.Context, tenantID snowflake.ID, immediate bool) error

	// CheckLimit is the single quota authority consulted before admitting
	// a metered operation. It does not mutate state.
	CheckLimit(ctx context.Context, tenantID snowflake.ID, resource string, proposed float64) (LimitCheck, error)
	LimitFor(ctx context.Context, tenantID snowflake.ID, resource string) (plandomain.Limit, error)
}
