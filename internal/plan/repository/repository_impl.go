package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/croftlabs/croft/internal/plan/domain"
	"gorm.io/gorm"
)

type Repository interface {
	FindActiveByTier(ctx context.Context, tx *gorm.DB, tier domain.Tier) (*domain.Plan, error)
	FindByID(ctx context.Context, tx *gorm.DB, planID snowflake.ID) (*domain.Plan, error)
	List(ctx context.Context, tx *gorm.DB) ([]domain.Plan, error)
	Insert(ctx context.Context, tx *gorm.DB, plan *domain.Plan) error
	SetActive(ctx context.Context, tx *gorm.DB, planID snowflake.ID, tier domain.Tier) error
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) FindActiveByTier(ctx context.Context, tx *gorm.DB, tier domain.Tier) (*domain.Plan, error) {
	var plan domain.Plan
	err := tx.WithContext(ctx).
		Where("tier = ? AND active = ?", tier, true).
		Order("updated_at desc").
		First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, planID snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := tx.WithContext(ctx).Where("id = ?", planID).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, tx *gorm.DB) ([]domain.Plan, error) {
	var plans []domain.Plan
	if err := tx.WithContext(ctx).Order("tier asc, updated_at desc").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, plan *domain.Plan) error {
	return tx.WithContext(ctx).Create(plan).Error
}

// SetActive flips the active flag to the given plan and away from every
// other plan of the tier. Run inside a transaction.
func (r *repo) SetActive(ctx context.Context, tx *gorm.DB, planID snowflake.ID, tier domain.Tier) error {
	if err := tx.WithContext(ctx).Exec(
		`UPDATE plans SET active = ? WHERE tier = ? AND id != ?`,
		false, tier, planID,
	).Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).Exec(
		`UPDATE plans SET active = ? WHERE id = ?`,
		true, planID,
	).Error
}
