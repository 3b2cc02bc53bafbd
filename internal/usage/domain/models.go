// Package domain contains per-tenant-per-period usage metering models.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	"gorm.io/datatypes"
)

// UsageMetrics is one calendar month of metered consumption for one
// tenant. Created lazily on first metered operation; never deleted.
type UsageMetrics struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_period,priority:1"`
	Year     int          `gorm:"not null;uniqueIndex:ux_usage_period,priority:2"`
	Month    int          `gorm:"not null;uniqueIndex:ux_usage_period,priority:3"`

	APICalls float64 `gorm:"not null;default:0"`
	AreaHa   float64 `gorm:"not null;default:0"`
	Seats    float64 `gorm:"not null;default:0"`
	Parcels  float64 `gorm:"not null;default:0"`

	// Overages holds max(0, used-limit) per resource. Advisory billing
	// data, not an admission gate.
	Overages  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageMetrics) TableName() string { return "usage_metrics" }

// Counter returns the stored count for a metered resource.
func (m *UsageMetrics) Counter(resource string) (float64, bool) {
	switch resource {
	case plandomain.ResourceAPIRequests:
		return m.APICalls, true
	case plandomain.ResourceAreaHa:
		return m.AreaHa, true
	case plandomain.ResourceSeats:
		return m.Seats, true
	case plandomain.ResourceParcels:
		return m.Parcels, true
	default:
		return 0, false
	}
}

// Decision is the outcome of a metered-operation admission check. On
// deny, Used and Limit give the caller enough to render a quota error.
type Decision struct {
	Allowed  bool
	Resource string
	Used     float64
	Limit    plandomain.Limit
}

var (
	ErrUnknownResource = errors.New("unknown_metered_resource")
)
