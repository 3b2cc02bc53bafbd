package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/croftlabs/croft/internal/cache"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	"github.com/croftlabs/croft/internal/plan/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const catalogTTL = 5 * time.Minute

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	repo   repository.Repository
	byTier *cache.TTLCache[plandomain.Tier, *plandomain.Plan]
	byID   *cache.TTLCache[snowflake.ID, *plandomain.Plan]
}

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo repository.Repository
}

func NewService(p ServiceParam) plandomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("plan.catalog"),
		repo:   p.Repo,
		byTier: cache.NewTTLCache[plandomain.Tier, *plandomain.Plan](),
		byID:   cache.NewTTLCache[snowflake.ID, *plandomain.Plan](),
	}
}

// ActiveByTier implements domain.Service.
func (s *Service) ActiveByTier(ctx context.Context, tier plandomain.Tier) (*plandomain.Plan, error) {
	if cached, ok := s.byTier.Get(tier); ok {
		return cached, nil
	}

	plan, err := s.repo.FindActiveByTier(ctx, s.db, tier)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}

	s.byTier.Set(tier, plan, catalogTTL)
	s.byID.Set(plan.ID, plan, catalogTTL)
	return plan, nil
}

// ByID implements domain.Service.
func (s *Service) ByID(ctx context.Context, planID snowflake.ID) (*plandomain.Plan, error) {
	if cached, ok := s.byID.Get(planID); ok {
		return cached, nil
	}

	plan, err := s.repo.FindByID(ctx, s.db, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}

	s.byID.Set(planID, plan, catalogTTL)
	return plan, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context) ([]plandomain.Plan, error) {
	return s.repo.List(ctx, s.db)
}

// Activate implements domain.Service.
func (s *Service) Activate(ctx context.Context, planID string) error {
	id, err := snowflake.ParseString(strings.TrimSpace(planID))
	if err != nil || id == 0 {
		return plandomain.ErrPlanNotFound
	}

	var tier plandomain.Tier
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if plan == nil {
			return plandomain.ErrPlanNotFound
		}
		tier = plan.Tier
		return s.repo.SetActive(ctx, tx, id, plan.Tier)
	})
	if err != nil {
		return err
	}

	s.byTier.Delete(tier)
	s.byID.Delete(id)
	s.log.Info("plan activated", zap.String("plan_id", planID), zap.String("tier", string(tier)))
	return nil
}
