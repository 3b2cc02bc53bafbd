package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	// ActiveByTier returns the single active plan for a tier, served from
	// a short-lived cache.
	ActiveByTier(ctx context.Context, tier Tier) (*Plan, error)
	// ByID resolves a plan referenced by a live subscription.
	ByID(ctx context.Context, planID snowflake.ID) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
	// Activate marks a plan active and deactivates any other plan of the
	// same tier in the same transaction.
	Activate(ctx context.Context, planID string) error
}
