// Package domain contains the subscription state machine models. One
// subscription exists per tenant and transitions only through the engine.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
	StatusPaused   Status = "paused"
)

// Terminal reports whether the sweep may still move this subscription.
// Terminal states are left only by explicit reactivation.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusExpired
}

// BillingCycle is the renewal cadence.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

func ParseBillingCycle(value string) (BillingCycle, error) {
	switch BillingCycle(value) {
	case CycleMonthly, CycleYearly:
		return BillingCycle(value), nil
	default:
		return "", ErrInvalidBillingCycle
	}
}

// PeriodEnd computes the end of a period starting at from.
func (c BillingCycle) PeriodEnd(from time.Time) time.Time {
	if c == CycleYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

// Subscription binds one tenant to one plan.
type Subscription struct {
	ID                 snowflake.ID      `gorm:"primaryKey"`
	TenantID           snowflake.ID      `gorm:"not null;uniqueIndex"`
	PlanID             snowflake.ID      `gorm:"not null;index"`
	Status             Status            `gorm:"type:text;not null"`
	BillingCycle       BillingCycle      `gorm:"type:text;not null"`
	CurrentPeriodStart time.Time         `gorm:"not null"`
	CurrentPeriodEnd   time.Time         `gorm:"not null"`
	TrialEnd           *time.Time        `gorm:""`
	CancelAtPeriodEnd  bool              `gorm:"not null;default:false"`
	CanceledAt         *time.Time        `gorm:""`
	Gateway            string            `gorm:"type:text"`
	ExternalID         string            `gorm:"type:text;index"`
	AutoRenew          bool              `gorm:"not null;default:true"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// TransitionReason tags why a transition happened, for the audit trail.
type TransitionReason string

const (
	ReasonPayment       TransitionReason = "payment"
	ReasonPaymentFailed TransitionReason = "payment_failed"
	ReasonTrialLapsed   TransitionReason = "trial_lapsed"
	ReasonOverdue       TransitionReason = "overdue"
	ReasonCancelRequest TransitionReason = "cancel_request"
	ReasonReactivation  TransitionReason = "reactivation"
	ReasonGatewaySync   TransitionReason = "gateway_sync"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrInvalidBillingCycle  = errors.New("invalid_billing_cycle")
	ErrInvalidPeriod        = errors.New("invalid_period")
)
