// Package domain contains the append-only billing audit log.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Well-known event types written by the lifecycle and webhook paths.
const (
	EventTrialStarted         = "trial.started"
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpgraded = "subscription.upgraded"
	EventTenantDeactivated    = "tenant.deactivated"
	EventTenantReactivated    = "tenant.reactivated"
	EventTenantDeleted        = "tenant.deleted"
	EventPaymentSucceeded     = "payment.succeeded"
	EventPaymentFailed        = "payment.failed"
	EventSubscriptionSynced   = "subscription.synced"
)

// BillingEvent is an immutable audit record tied to a tenant and
// optionally a subscription. ExternalEventID carries the gateway's event
// id for webhook duplicate-suppression audits.
type BillingEvent struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	TenantID        snowflake.ID      `gorm:"not null;index"`
	SubscriptionID  *snowflake.ID     `gorm:"index"`
	EventType       string            `gorm:"type:text;not null"`
	Payload         datatypes.JSONMap `gorm:"type:jsonb;not null"`
	ExternalEventID *string           `gorm:"type:text;index"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingEvent) TableName() string { return "billing_events" }
