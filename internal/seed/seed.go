// Package seed bootstraps the default plan catalog so a fresh install
// can take signups immediately.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EnsurePlans inserts the stock tiers when the catalog is empty. An
// already-populated catalog is left untouched.
func EnsurePlans(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&plandomain.Plan{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		for _, plan := range defaultPlans(node) {
			if err := tx.Create(plan).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func defaultPlans(node *snowflake.Node) []*plandomain.Plan {
	return []*plandomain.Plan{
		{
			ID:            node.Generate(),
			Tier:          plandomain.TierFree,
			DisplayName:   "Free",
			MonthlyPrices: datatypes.JSONMap{"USD": 0},
			YearlyPrices:  datatypes.JSONMap{"USD": 0},
			Limits: plandomain.LimitMap{
				plandomain.ResourceAPIRequests: plandomain.Bounded(50),
				plandomain.ResourceAreaHa:      plandomain.Bounded(100),
				plandomain.ResourceSeats:       plandomain.Bounded(2),
				plandomain.ResourceParcels:     plandomain.Bounded(10),
			},
			TrialDays: 14,
			Active:    true,
		},
		{
			ID:            node.Generate(),
			Tier:          plandomain.TierBasic,
			DisplayName:   "Basic",
			MonthlyPrices: datatypes.JSONMap{"USD": 29},
			YearlyPrices:  datatypes.JSONMap{"USD": 290},
			Limits: plandomain.LimitMap{
				plandomain.ResourceAPIRequests: plandomain.Bounded(100),
				plandomain.ResourceAreaHa:      plandomain.Bounded(1000),
				plandomain.ResourceSeats:       plandomain.Bounded(5),
				plandomain.ResourceParcels:     plandomain.Bounded(100),
			},
			Active: true,
		},
		{
			ID:            node.Generate(),
			Tier:          plandomain.TierPro,
			DisplayName:   "Pro",
			MonthlyPrices: datatypes.JSONMap{"USD": 99},
			YearlyPrices:  datatypes.JSONMap{"USD": 990},
			Limits: plandomain.LimitMap{
				plandomain.ResourceAPIRequests: plandomain.Bounded(1000),
				plandomain.ResourceAreaHa:      plandomain.Bounded(10000),
				plandomain.ResourceSeats:       plandomain.Bounded(25),
				plandomain.ResourceParcels:     plandomain.Bounded(1000),
			},
			Active: true,
		},
		{
			ID:            node.Generate(),
			Tier:          plandomain.TierEnterprise,
			DisplayName:   "Enterprise",
			MonthlyPrices: datatypes.JSONMap{"USD": 499},
			YearlyPrices:  datatypes.JSONMap{"USD": 4990},
			Limits: plandomain.LimitMap{
				plandomain.ResourceAPIRequests: plandomain.Unlimited(),
				plandomain.ResourceAreaHa:      plandomain.Unlimited(),
				plandomain.ResourceSeats:       plandomain.Unlimited(),
				plandomain.ResourceParcels:     plandomain.Unlimited(),
			},
			Active: true,
		},
	}
}
