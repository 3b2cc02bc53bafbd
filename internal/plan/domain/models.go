// Package domain contains the subscription plan catalog models.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Tier identifies a plan level. Exactly one active plan exists per tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Metered resource names used across the plan catalog and usage meter.
const (
	ResourceAPIRequests = "eosda_requests"
	ResourceAreaHa      = "area_ha"
	ResourceSeats       = "seats"
	ResourceParcels     = "parcels"
)

// Plan is a named bundle of resource limits and price. Immutable once
// referenced by a live subscription except for administrative correction.
type Plan struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Tier        Tier         `gorm:"type:text;not null;index"`
	DisplayName string       `gorm:"type:text;not null"`
	// Prices are minor units keyed by currency code.
	MonthlyPrices datatypes.JSONMap `gorm:"type:jsonb"`
	YearlyPrices  datatypes.JSONMap `gorm:"type:jsonb"`
	Limits        LimitMap          `gorm:"type:jsonb;not null"`
	TrialDays     int               `gorm:"not null;default:0"`
	Active        bool              `gorm:"not null;default:true"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// LimitFor returns the limit for a resource. Resources absent from the
// map are unlimited: plans only constrain what they name.
func (p *Plan) LimitFor(resource string) Limit {
	if limit, ok := p.Limits[resource]; ok {
		return limit
	}
	return Unlimited()
}

func ParseTier(value string) (Tier, error) {
	switch Tier(value) {
	case TierFree, TierBasic, TierPro, TierEnterprise:
		return Tier(value), nil
	default:
		return "", ErrUnknownTier
	}
}

var (
	ErrUnknownTier   = errors.New("unknown_plan_tier")
	ErrPlanNotFound  = errors.New("plan_not_found")
	ErrTierInactive  = errors.New("plan_tier_inactive")
	ErrDuplicateTier = errors.New("duplicate_active_tier")
)
