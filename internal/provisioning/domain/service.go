// Package domain defines the tenant lifecycle orchestration contract:
// atomic creation and teardown of a tenant's schema, subscription, and
// admin identity.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	subscriptiondomain "github.com/croftlabs/croft/internal/subscription/domain"
	tenantdomain "github.com/croftlabs/croft/internal/tenant/domain"
)

type CreateTenantRequest struct {
	Name                   string
	PlanTier               plandomain.Tier
	BillingCycle           subscriptiondomain.BillingCycle
	PayerEmail             string
	ExternalSubscriptionID string
	Gateway                string
	// AdminEmail, when set, provisions an admin identity scoped to the
	// new workspace and issues it an initial credential.
	AdminEmail string
}

type ReactivateTenantRequest struct {
	TenantID               snowflake.ID
	PlanTier               plandomain.Tier // empty keeps the current plan
	BillingCycle           subscriptiondomain.BillingCycle
	ExternalSubscriptionID string
}

type UpgradeSubscriptionRequest struct {
	TenantID     snowflake.ID
	NewPlanTier  plandomain.Tier
	BillingCycle subscriptiondomain.BillingCycle
}

// Result reports a lifecycle operation. AdminPassword is only set when
// an admin identity was issued during CreateTenant, and Degraded marks a
// success whose identity step failed after the durable state committed.
type Result struct {
	Tenant        *tenantdomain.Tenant
	Subscription  *subscriptiondomain.Subscription
	SchemaName    string
	AdminPassword string
	Degraded      bool
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	CreateTenant(ctx context.Context, req CreateTenantRequest) (Result, error)
	DeactivateTenant(ctx context.Context, tenantID snowflake.ID, reason string) (Result, error)
	ReactivateTenant(ctx context.Context, req ReactivateTenantRequest) (Result, error)
	UpgradeSubscription(ctx context.Context, req UpgradeSubscriptionRequest) (Result, error)
	DeleteTenant(ctx context.Context, tenantID snowflake.ID, reason string) error
}

// DuplicateAccountError carries the conflicting tenant's display name so
// callers can render the duplicate-signup message without leaking other
// tenants' data.
type DuplicateAccountError struct {
	ExistingTenant string
}

func (e *DuplicateAccountError) Error() string { return "duplicate_account" }

func (e *DuplicateAccountError) Is(target error) bool { return target == ErrDuplicateAccount }

var (
	ErrDuplicateAccount = errors.New("duplicate_account")
	ErrInvalidName      = errors.New("invalid_tenant_name")
	ErrInvalidEmail     = errors.New("invalid_payer_email")
)
