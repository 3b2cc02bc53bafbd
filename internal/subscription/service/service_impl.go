package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/croftlabs/croft/internal/clock"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	subscriptiondomain "github.com/croftlabs/croft/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  subscriptiondomain.Repository

	plansvc plandomain.Service
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  subscriptiondomain.Repository

	Plansvc plandomain.Service
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.engine"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		plansvc: p.Plansvc,
	}
}

// GetByTenantID implements domain.Service.
func (s *Service) GetByTenantID(ctx context.Context, tenantID snowflake.ID) (subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByTenantID(ctx, s.db, tenantID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if subscription == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *subscription, nil
}

// Create implements domain.Service. Runs inside the provisioner's
// transaction so the subscription commits atomically with its tenant.
func (s *Service) Create(ctx context.Context, tx *gorm.DB, req subscriptiondomain.CreateRequest) (*subscriptiondomain.Subscription, error) {
	if req.Plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}

	now := req.Now
	subscription := &subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		TenantID:           req.TenantID,
		PlanID:             req.Plan.ID,
		BillingCycle:       req.Cycle,
		CurrentPeriodStart: now,
		Gateway:            req.Gateway,
		ExternalID:         req.ExternalID,
		AutoRenew:          true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if req.OnTrial {
		trialDays := req.Plan.TrialDays
		if trialDays <= 0 {
			trialDays = 14
		}
		trialEnd := now.AddDate(0, 0, trialDays)
		subscription.Status = subscriptiondomain.StatusTrialing
		subscription.TrialEnd = &trialEnd
		subscription.CurrentPeriodEnd = trialEnd
	} else {
		subscription.Status = subscriptiondomain.StatusActive
		subscription.CurrentPeriodEnd = req.Cycle.PeriodEnd(now)
	}

	if err := s.repo.Insert(ctx, tx, subscription); err != nil {
		return nil, err
	}
	return subscription, nil
}

// Expire implements domain.Service. Idempotent: expiring an expired
// subscription is a no-op success.
func (s *Service) Expire(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, reason subscriptiondomain.TransitionReason) error {
	subscription, err := s.repo.FindByTenantIDForUpdate(ctx, tx, tenantID)
	if err != nil {
		return err
	}
	if subscription == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	if subscription.Status == subscriptiondomain.StatusExpired {
		return nil
	}

	now := s.clock.Now()
	subscription.Status = subscriptiondomain.StatusExpired
	subscription.AutoRenew = false
	subscription.UpdatedAt = now

	s.log.Info("subscription expired",
		zap.String("tenant_id", tenantID.String()),
		zap.String("reason", string(reason)),
	)
	return s.repo.Update(ctx, tx, subscription)
}

// Reactivate implements domain.Service. Recomputes a fresh period from
// now and restores auto-renew; may change plan.
func (s *Service) Reactivate(
	ctx context.Context,
	tx *gorm.DB,
	tenantID snowflake.ID,
	plan *plandomain.Plan,
	cycle subscriptiondomain.BillingCycle,
	externalID string,
	now time.Time,
) (*subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByTenantIDForUpdate(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	if plan != nil {
		subscription.PlanID = plan.ID
	}
	if externalID != "" {
		subscription.ExternalID = externalID
	}
	subscription.Status = subscriptiondomain.StatusActive
	subscription.BillingCycle = cycle
	subscription.CurrentPeriodStart = now
	subscription.CurrentPeriodEnd = cycle.PeriodEnd(now)
	subscription.TrialEnd = nil
	subscription.CancelAtPeriodEnd = false
	subscription.CanceledAt = nil
	subscription.AutoRenew = true
	subscription.UpdatedAt = now

	if err := s.repo.Update(ctx, tx, subscription); err != nil {
		return nil, err
	}
	return subscription, nil
}

// SwapPlan implements domain.Service. Resets period and trial-end, sets
// active. Whether the new tier is "higher" is the caller's judgment.
func (s *Service) SwapPlan(
	ctx context.Context,
	tx *gorm.DB,
	tenantID snowflake.ID,
	plan *plandomain.Plan,
	cycle subscriptiondomain.BillingCycle,
	now time.Time,
) (*subscriptiondomain.Subscription, error) {
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}

	subscription, err := s.repo.FindByTenantIDForUpdate(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	subscription.PlanID = plan.ID
	subscription.Status = subscriptiondomain.StatusActive
	subscription.BillingCycle = cycle
	subscription.CurrentPeriodStart = now
	subscription.CurrentPeriodEnd = cycle.PeriodEnd(now)
	subscription.TrialEnd = nil
	subscription.UpdatedAt = now

	if err := s.repo.Update(ctx, tx, subscription); err != nil {
		return nil, err
	}
	return subscription, nil
}

// DeleteByTenantID implements domain.Service.
func (s *Service) DeleteByTenantID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	return s.repo.DeleteByTenantID(ctx, tx, tenantID)
}

// Transition implements domain.Service.
func (s *Service) Transition(
	ctx context.Context,
	subscriptionID snowflake.ID,
	target subscriptiondomain.Status,
	reason subscriptiondomain.TransitionReason,
) error {
	if !isValidStatus(target) {
		return subscriptiondomain.ErrInvalidStatus
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		if subscription.Status == target {
			return nil
		}
		if !isTransitionAllowed(subscription.Status, target) {
			return subscriptiondomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		applyTransition(subscription, target, now)

		s.log.Info("subscription transition",
			zap.String("subscription_id", subscriptionID.String()),
			zap.String("target", string(target)),
			zap.String("reason", string(reason)),
		)
		return s.repo.Update(ctx, tx, subscription)
	})
}

// Cancel implements domain.Service. Immediate cancellation moves to
// canceled now; otherwise the subscription runs out its period and the
// sweep finishes the job.
func (s *Service) Cancel(ctx context.Context, tenantID snowflake.ID, immediate bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByTenantIDForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if subscription.Status.Terminal() {
			return nil
		}

		now := s.clock.Now()
		if immediate {
			if !isTransitionAllowed(subscription.Status, subscriptiondomain.StatusCanceled) {
				return subscriptiondomain.ErrInvalidTransition
			}
			applyTransition(subscription, subscriptiondomain.StatusCanceled, now)
		} else {
			subscription.CancelAtPeriodEnd = true
			subscription.AutoRenew = false
			subscription.UpdatedAt = now
		}
		return s.repo.Update(ctx, tx, subscription)
	})
}

// CheckLimit implements domain.Service.
func (s *Service) CheckLimit(ctx context.Context, tenantID snowflake.ID, resource string, proposed float64) (subscriptiondomain.LimitCheck, error) {
	limit, err := s.LimitFor(ctx, tenantID, resource)
	if err != nil {
		return subscriptiondomain.LimitCheck{}, err
	}
	return subscriptiondomain.LimitCheck{
		WithinLimit: limit.Admits(proposed),
		Limit:       limit,
	}, nil
}

// LimitFor implements domain.Service.
func (s *Service) LimitFor(ctx context.Context, tenantID snowflake.ID, resource string) (plandomain.Limit, error) {
	subscription, err := s.GetByTenantID(ctx, tenantID)
	if err != nil {
		return plandomain.Limit{}, err
	}

	plan, err := s.plansvc.ByID(ctx, subscription.PlanID)
	if err != nil {
		return plandomain.Limit{}, err
	}
	return plan.LimitFor(resource), nil
}

func applyTransition(subscription *subscriptiondomain.Subscription, target subscriptiondomain.Status, now time.Time) {
	switch target {
	case subscriptiondomain.StatusCanceled:
		subscription.CanceledAt = &now
		subscription.AutoRenew = false
	case subscriptiondomain.StatusExpired:
		subscription.AutoRenew = false
	case subscriptiondomain.StatusActive:
		subscription.CancelAtPeriodEnd = false
		subscription.CanceledAt = nil
		subscription.AutoRenew = true
	}
	subscription.Status = target
	subscription.UpdatedAt = now
}

func isValidStatus(status subscriptiondomain.Status) bool {
	switch status {
	case subscriptiondomain.StatusTrialing,
		subscriptiondomain.StatusActive,
		subscriptiondomain.StatusPastDue,
		subscriptiondomain.StatusCanceled,
		subscriptiondomain.StatusExpired,
		subscriptiondomain.StatusPaused:
		return true
	default:
		return false
	}
}

func isTransitionAllowed(current, target subscriptiondomain.Status) bool {
	// Terminal states are left only through explicit reactivation, which
	// rewrites the row directly rather than moving through here.
	switch current {
	case subscriptiondomain.StatusTrialing:
		return target == subscriptiondomain.StatusActive ||
			target == subscriptiondomain.StatusCanceled ||
			target == subscriptiondomain.StatusExpired
	case subscriptiondomain.StatusActive:
		return target == subscriptiondomain.StatusPastDue ||
			target == subscriptiondomain.StatusCanceled ||
			target == subscriptiondomain.StatusExpired ||
			target == subscriptiondomain.StatusPaused
	case subscriptiondomain.StatusPastDue:
		return target == subscriptiondomain.StatusActive ||
			target == subscriptiondomain.StatusCanceled ||
			target == subscriptiondomain.StatusExpired
	case subscriptiondomain.StatusPaused:
		return target == subscriptiondomain.StatusActive ||
			target == subscriptiondomain.StatusCanceled ||
			target == subscriptiondomain.StatusExpired
	default:
		return false
	}
}
