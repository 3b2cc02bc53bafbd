package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	// GetOrCreateCurrentPeriod is an idempotent get-or-create keyed by
	// (tenant, year, month) of the call time.
	GetOrCreateCurrentPeriod(ctx context.Context, tenantID snowflake.ID) (UsageMetrics, error)

	// RecordAndCheck atomically admits or denies a metered delta against
	// the plan limit. Concurrent calls cannot both pass against a stale
	// count: the increment and the limit comparison are one statement.
	RecordAndCheck(ctx context.Context, tenantID snowflake.ID, resource string, delta float64) (Decision, error)

	// CalculateOverages persists max(0, used-limit) per bounded resource
	// for the given period and returns the computed map.
	CalculateOverages(ctx context.Context, tenantID snowflake.ID, year, month int) (map[string]float64, error)
}
