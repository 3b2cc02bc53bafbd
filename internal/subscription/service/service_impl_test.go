package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/croftlabs/croft/internal/clock"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	subscriptiondomain "github.com/croftlabs/croft/internal/subscription/domain"
	"github.com/croftlabs/croft/internal/subscription/repository"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type planCatalogStub struct {
	plans map[snowflake.ID]*plandomain.Plan
}

func (s *planCatalogStub) ActiveByTier(ctx context.Context, tier plandomain.Tier) (*plandomain.Plan, error) {
	for _, plan := range s.plans {
		if plan.Tier == tier && plan.Active {
			return plan, nil
		}
	}
	return nil, plandomain.ErrPlanNotFound
}

func (s *planCatalogStub) ByID(ctx context.Context, planID snowflake.ID) (*plandomain.Plan, error) {
	if plan, ok := s.plans[planID]; ok {
		return plan, nil
	}
	return nil, plandomain.ErrPlanNotFound
}

func (s *planCatalogStub) List(ctx context.Context) ([]plandomain.Plan, error) {
	return nil, nil
}

func (s *planCatalogStub) Activate(ctx context.Context, planID string) error {
	return nil
}

func setupService(t *testing.T, fc *clock.FakeClock) (subscriptiondomain.Service, *gorm.DB, *snowflake.Node, *planCatalogStub) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	stripRowLocks(t, db)

	if err := db.AutoMigrate(&subscriptiondomain.Subscription{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(10)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	catalog := &planCatalogStub{plans: map[snowflake.ID]*plandomain.Plan{}}
	svc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fc,
		Repo:    repository.Provide(),
		Plansvc: catalog,
	})
	return svc, db, node, catalog
}

// SQLite support hack: drop row-locking clauses, sqlite has no FOR UPDATE.
func stripRowLocks(t *testing.T, db *gorm.DB) {
	t.Helper()
	err := db.Callback().Query().Before("gorm:query").Register("sqlite_strip_for_update", func(d *gorm.DB) {
		delete(d.Statement.Clauses, "FOR")
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
}

func trialPlan(node *snowflake.Node) *plandomain.Plan {
	return &plandomain.Plan{
		ID:        node.Generate(),
		Tier:      plandomain.TierFree,
		TrialDays: 14,
		Active:    true,
		Limits:    plandomain.LimitMap{plandomain.ResourceAPIRequests: plandomain.Bounded(50)},
	}
}

func TestCreateTrialing(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, db, node, catalog := setupService(t, fc)
	ctx := context.Background()

	plan := trialPlan(node)
	catalog.plans[plan.ID] = plan

	subscription, err := svc.Create(ctx, db, subscriptiondomain.CreateRequest{
		TenantID: node.Generate(),
		Plan:     plan,
		Cycle:    subscriptiondomain.CycleMonthly,
		OnTrial:  true,
		Now:      fc.Now(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if subscription.Status != subscriptiondomain.StatusTrialing {
		t.Fatalf("expected trialing, got %s", subscription.Status)
	}
	wantEnd := fc.Now().AddDate(0, 0, 14)
	if subscription.TrialEnd == nil || !subscription.TrialEnd.Equal(wantEnd) {
		t.Fatalf("expected trial end %v, got %v", wantEnd, subscription.TrialEnd)
	}
	if !subscription.CurrentPeriodEnd.Equal(wantEnd) {
		t.Fatalf("trial period should end with the trial, got %v", subscription.CurrentPeriodEnd)
	}
	if !subscription.AutoRenew {
		t.Fatalf("new subscriptions auto-renew")
	}
}

func TestCreatePaid(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, db, node, catalog := setupService(t, fc)
	ctx := context.Background()

	plan := &plandomain.Plan{ID: node.Generate(), Tier: plandomain.TierBasic, Active: true}
	catalog.plans[plan.ID] = plan

	subscription, err := svc.Create(ctx, db, subscriptiondomain.CreateRequest{
		TenantID: node.Generate(),
		Plan:     plan,
		Cycle:    subscriptiondomain.CycleYearly,
		Now:      fc.Now(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if subscription.Status != subscriptiondomain.StatusActive {
		t.Fatalf("expected active, got %s", subscription.Status)
	}
	if subscription.TrialEnd != nil {
		t.Fatalf("paid subscription has no trial end")
	}
	if want := fc.Now().AddDate(1, 0, 0); !subscription.CurrentPeriodEnd.Equal(want) {
		t.Fatalf("expected yearly period end %v, got %v", want, subscription.CurrentPeriodEnd)
	}

	if _, err := svc.Create(ctx, db, subscriptiondomain.CreateRequest{TenantID: node.Generate()}); !errors.Is(err, plandomain.ErrPlanNotFound) {
		t.Fatalf("expected plan_not_found without a plan, got %v", err)
	}
}

func seedSubscription(t *testing.T, db *gorm.DB, node *snowflake.Node, planID snowflake.ID, status subscriptiondomain.Status, now time.Time) *subscriptiondomain.Subscription {
	t.Helper()
	subscription := &subscriptiondomain.Subscription{
		ID:                 node.Generate(),
		TenantID:           node.Generate(),
		PlanID:             planID,
		Status:             status,
		BillingCycle:       subscriptiondomain.CycleMonthly,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		AutoRenew:          true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := db.Create(subscription).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return subscription
}

func TestTransitionTable(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, db, node, catalog := setupService(t, fc)
	ctx := context.Background()

	plan := trialPlan(node)
	catalog.plans[plan.ID] = plan

	cases := []struct {
		name    string
		from    subscriptiondomain.Status
		to      subscriptiondomain.Status
		allowed bool
	}{
		{"trialing to active", subscriptiondomain.StatusTrialing, subscriptiondomain.StatusActive, true},
		{"trialing to expired", subscriptiondomain.StatusTrialing, subscriptiondomain.StatusExpired, true},
		{"trialing to past_due", subscriptiondomain.StatusTrialing, subscriptiondomain.StatusPastDue, false},
		{"active to past_due", subscriptiondomain.StatusActive, subscriptiondomain.StatusPastDue, true},
		{"active to paused", subscriptiondomain.StatusActive, subscriptiondomain.StatusPaused, true},
		{"active to trialing", subscriptiondomain.StatusActive, subscriptiondomain.StatusTrialing, false},
		{"past_due to active", subscriptiondomain.StatusPastDue, subscriptiondomain.StatusActive, true},
		{"paused to active", subscriptiondomain.StatusPaused, subscriptiondomain.StatusActive, true},
		{"canceled is terminal", subscriptiondomain.StatusCanceled, subscriptiondomain.StatusActive, false},
		{"expired is terminal", subscriptiondomain.StatusExpired, subscriptiondomain.StatusActive, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			subscription := seedSubscription(t, db, node, plan.ID, tc.from, fc.Now())

			err := svc.Transition(ctx, subscription.ID, tc.to, subscriptiondomain.ReasonPayment)
			if tc.allowed {
				if err != nil {
					t.Fatalf("expected transition to succeed: %v", err)
				}
				var got subscriptiondomain.Subscription
				if err := db.First(&got, "id = ?", subscription.ID).Error; err != nil {
					t.Fatalf("reload: %v", err)
				}
				if got.Status != tc.to {
					t.Fatalf("expected status %s, got %s", tc.to, got.Status)
				}
			} else if !errors.Is(err, subscriptiondomain.ErrInvalidTransition) {
				t.Fatalf("expected invalid_transition, got %v", err)
			}
		})
	}
}

func TestTransitionNoOpAndUnknown(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, db, node, catalog := setupService(t, fc)
	ctx := context.Background()

	plan := trialPlan(node)
	catalog.plans[plan.ID] = plan
	subscription := seedSubscription(t, db, node, plan.ID, subscriptiondomain.StatusActive, fc.Now())

	// Same-status transitions are idempotent successes.
	if err := svc.Transition(ctx, subscription.ID, subscriptiondomain.StatusActive, subscriptiondomain.ReasonPayment); err != nil {
		t.Fatalf("same-status transition: %v", err)
	}

	if err := svc.Transition(ctx, subscription.ID, "vanished", subscriptiondomain.ReasonPayment); !errors.Is(err, subscriptiondomain.ErrInvalidStatus) {
		t.Fatalf("expected invalid_status, got %v", err)
	}
	if err := svc.Transition(ctx, node.Generate(), subscriptiondomain.StatusActive, subscriptiondomain.ReasonPayment); !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		t.Fatalf("expected subscription_not_found, got %v", err)
	}
}

func TestCancelImmediateAndDeferred(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, db, node, catalog := setupService(t, fc)
	ctx := context.Background()

	plan := trialPlan(node)
	catalog.plans[plan.ID] = plan

	immediate := seedSubscription(t, db, node, plan.ID, subscriptiondomain.StatusActive, fc.Now())
	if err := svc.Cancel(ctx, immediate.TenantID, true); err != nil {
		t.Fatalf("immediate cancel: %v", err)
	}
	var got subscriptiondomain.Subscription
	if err := db.First(&got, "id = ?", immediate.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != subscriptiondomain.StatusCanceled || got.CanceledAt == nil || got.AutoRenew {
		t.Fatalf("expected canceled with timestamp and auto-renew off, got %+v", got)
	}

	// Canceling a terminal subscription is a no-op success.
	if err := svc.Cancel(ctx, immediate.TenantID, true); err != nil {
		t.Fatalf("cancel on terminal: %v", err)
	}

	deferred := seedSubscription(t, db, node, plan.ID, subscriptiondomain.StatusActive, fc.Now())
	if err := svc.Cancel(ctx, deferred.TenantID, false); err != nil {
		t.Fatalf("deferred cancel: %v", err)
	}
	// Fresh struct: reusing got would carry the first primary key into
	// gorm's WHERE clause.
	var kept subscriptiondomain.Subscription
	if err := db.First(&kept, "id = ?", deferred.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if kept.Status != subscriptiondomain.StatusActive {
		t.Fatalf("deferred cancel keeps the subscription running, got %s", kept.Status)
	}
	if !kept.CancelAtPeriodEnd || kept.AutoRenew {
		t.Fatalf("expected cancel-at-period-end with auto-renew off, got %+v", kept)
	}
}

func TestExpireIdempotent(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, db, node, catalog := setupService(t, fc)
	ctx := context.Background()

	plan := trialPlan(node)
	catalog.plans[plan.ID] = plan
	subscription := seedSubscription(t, db, node, plan.ID, subscriptiondomain.StatusActive, fc.Now())

	if err := svc.Expire(ctx, db, subscription.TenantID, subscriptiondomain.ReasonOverdue); err != nil {
		t.Fatalf("expire: %v", err)
	}
	var got subscriptiondomain.Subscription
	if err := db.First(&got, "id = ?", subscription.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != subscriptiondomain.StatusExpired || got.AutoRenew {
		t.Fatalf("expected expired with auto-renew off, got %+v", got)
	}

	if err := svc.Expire(ctx, db, subscription.TenantID, subscriptiondomain.ReasonOverdue); err != nil {
		t.Fatalf("expire twice: %v", err)
	}
}

func TestReactivateFreshPeriod(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, db, node, catalog := setupService(t, fc)
	ctx := context.Background()

	plan := trialPlan(node)
	catalog.plans[plan.ID] = plan
	subscription := seedSubscription(t, db, node, plan.ID, subscriptiondomain.StatusExpired, fc.Now())

	fc.Advance(45 * 24 * time.Hour)
	now := fc.Now()
	restored, err := svc.Reactivate(ctx, db, subscription.TenantID, nil, subscriptiondomain.CycleMonthly, "pre_42", now)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}

	if restored.Status != subscriptiondomain.StatusActive || !restored.AutoRenew {
		t.Fatalf("expected active auto-renewing subscription, got %+v", restored)
	}
	if !restored.CurrentPeriodStart.Equal(now) || !restored.CurrentPeriodEnd.Equal(now.AddDate(0, 1, 0)) {
		t.Fatalf("expected a fresh period from now, got %v..%v", restored.CurrentPeriodStart, restored.CurrentPeriodEnd)
	}
	if restored.TrialEnd != nil || restored.CancelAtPeriodEnd || restored.CanceledAt != nil {
		t.Fatalf("reactivation must clear trial and cancellation markers, got %+v", restored)
	}
	if restored.ExternalID != "pre_42" {
		t.Fatalf("expected external id to be replaced, got %q", restored.ExternalID)
	}
}

func TestCheckLimit(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, db, node, catalog := setupService(t, fc)
	ctx := context.Background()

	plan := trialPlan(node)
	catalog.plans[plan.ID] = plan
	subscription := seedSubscription(t, db, node, plan.ID, subscriptiondomain.StatusActive, fc.Now())

	check, err := svc.CheckLimit(ctx, subscription.TenantID, plandomain.ResourceAPIRequests, 50)
	if err != nil {
		t.Fatalf("check limit: %v", err)
	}
	if !check.WithinLimit {
		t.Fatalf("expected exactly-at-limit to pass")
	}

	check, err = svc.CheckLimit(ctx, subscription.TenantID, plandomain.ResourceAPIRequests, 51)
	if err != nil {
		t.Fatalf("check limit: %v", err)
	}
	if check.WithinLimit {
		t.Fatalf("expected over-limit to fail")
	}

	// Resources the plan does not bound are unconstrained.
	check, err = svc.CheckLimit(ctx, subscription.TenantID, plandomain.ResourceParcels, 1e9)
	if err != nil {
		t.Fatalf("check limit: %v", err)
	}
	if !check.WithinLimit || !check.Limit.IsUnlimited() {
		t.Fatalf("expected unlimited resource to pass, got %+v", check)
	}

	if _, err := svc.CheckLimit(ctx, node.Generate(), plandomain.ResourceSeats, 1); !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		t.Fatalf("expected subscription_not_found, got %v", err)
	}
}
