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
	usagedomain "github.com/croftlabs/croft/internal/usage/domain"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// quotaStub answers limit questions from a fixed table so the meter can
// be exercised without the full subscription stack.
type quotaStub struct {
	limits map[string]plandomain.Limit
}

func (s *quotaStub) LimitFor(ctx context.Context, tenantID snowflake.ID, resource string) (plandomain.Limit, error) {
	if limit, ok := s.limits[resource]; ok {
		return limit, nil
	}
	return plandomain.Unlimited(), nil
}

func (s *quotaStub) CheckLimit(ctx context.Context, tenantID snowflake.ID, resource string, proposed float64) (subscriptiondomain.LimitCheck, error) {
	limit, err := s.LimitFor(ctx, tenantID, resource)
	if err != nil {
		return subscriptiondomain.LimitCheck{}, err
	}
	return subscriptiondomain.LimitCheck{WithinLimit: limit.Admits(proposed), Limit: limit}, nil
}

func (s *quotaStub) GetByTenantID(ctx context.Context, tenantID snowflake.ID) (subscriptiondomain.Subscription, error) {
	return subscriptiondomain.Subscription{}, nil
}

func (s *quotaStub) Create(ctx context.Context, tx *gorm.DB, req subscriptiondomain.CreateRequest) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}

func (s *quotaStub) Expire(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, reason subscriptiondomain.TransitionReason) error {
	return nil
}

func (s *quotaStub) Reactivate(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, plan *plandomain.Plan, cycle subscriptiondomain.BillingCycle, externalID string, now time.Time) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}

func (s *quotaStub) SwapPlan(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, plan *plandomain.Plan, cycle subscriptiondomain.BillingCycle, now time.Time) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}

func (s *quotaStub) DeleteByTenantID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	return nil
}

func (s *quotaStub) Transition(ctx context.Context, subscriptionID snowflake.ID, target subscriptiondomain.Status, reason subscriptiondomain.TransitionReason) error {
	return nil
}

func (s *quotaStub) Cancel(ctx context.Context, tenantID snowflake.ID, immediate bool) error {
	return nil
}

func setupMeter(t *testing.T, fc *clock.FakeClock, limits map[string]plandomain.Limit) (usagedomain.Service, *quotaStub, *snowflake.Node) {
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

	if err := db.AutoMigrate(&usagedomain.UsageMetrics{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(10)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	stub := &quotaStub{limits: limits}
	svc := NewService(ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fc,
		Subsvc: stub,
	})
	return svc, stub, node
}

func TestRecordAndCheckAdmitsUpToLimit(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	svc, _, node := setupMeter(t, fc, map[string]plandomain.Limit{
		plandomain.ResourceAPIRequests: plandomain.Bounded(100),
	})
	ctx := context.Background()
	tenantID := node.Generate()

	decision, err := svc.RecordAndCheck(ctx, tenantID, plandomain.ResourceAPIRequests, 99)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !decision.Allowed || decision.Used != 99 {
		t.Fatalf("expected admit at 99, got %+v", decision)
	}

	// The hundredth request lands exactly on the limit and is admitted.
	decision, err = svc.RecordAndCheck(ctx, tenantID, plandomain.ResourceAPIRequests, 1)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !decision.Allowed || decision.Used != 100 {
		t.Fatalf("expected admit at exactly the limit, got %+v", decision)
	}

	// The next one is denied and the counter stays put.
	decision, err = svc.RecordAndCheck(ctx, tenantID, plandomain.ResourceAPIRequests, 1)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("expected deny past the limit")
	}
	if decision.Used != 100 || decision.Limit.Value() != 100 {
		t.Fatalf("deny must report used and limit, got %+v", decision)
	}
}

func TestRecordAndCheckUnlimited(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	svc, _, node := setupMeter(t, fc, map[string]plandomain.Limit{
		plandomain.ResourceAreaHa: plandomain.Unlimited(),
	})
	ctx := context.Background()
	tenantID := node.Generate()

	for i := 0; i < 3; i++ {
		decision, err := svc.RecordAndCheck(ctx, tenantID, plandomain.ResourceAreaHa, 50000)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("unlimited resource must always admit")
		}
	}
}

func TestRecordAndCheckUnknownResource(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	svc, _, node := setupMeter(t, fc, nil)

	if _, err := svc.RecordAndCheck(context.Background(), node.Generate(), "gpu_hours", 1); !errors.Is(err, usagedomain.ErrUnknownResource) {
		t.Fatalf("expected unknown_metered_resource, got %v", err)
	}
}

func TestGetOrCreateCurrentPeriod(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	svc, _, node := setupMeter(t, fc, nil)
	ctx := context.Background()
	tenantID := node.Generate()

	first, err := svc.GetOrCreateCurrentPeriod(ctx, tenantID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if first.Year != 2026 || first.Month != 3 {
		t.Fatalf("expected March 2026 period, got %d-%d", first.Year, first.Month)
	}

	second, err := svc.GetOrCreateCurrentPeriod(ctx, tenantID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("same period must return the same row")
	}

	// A new calendar month opens a fresh, zeroed period.
	fc.Advance(20 * 24 * time.Hour)
	next, err := svc.GetOrCreateCurrentPeriod(ctx, tenantID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if next.ID == first.ID || next.Month != 4 {
		t.Fatalf("expected a fresh April period, got %+v", next)
	}
}

func TestQuotaResetsNextMonth(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 28, 9, 0, 0, 0, time.UTC))
	svc, _, node := setupMeter(t, fc, map[string]plandomain.Limit{
		plandomain.ResourceAPIRequests: plandomain.Bounded(10),
	})
	ctx := context.Background()
	tenantID := node.Generate()

	if _, err := svc.RecordAndCheck(ctx, tenantID, plandomain.ResourceAPIRequests, 10); err != nil {
		t.Fatalf("record: %v", err)
	}
	decision, err := svc.RecordAndCheck(ctx, tenantID, plandomain.ResourceAPIRequests, 1)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("expected deny in the exhausted month")
	}

	fc.Advance(7 * 24 * time.Hour)
	decision, err = svc.RecordAndCheck(ctx, tenantID, plandomain.ResourceAPIRequests, 1)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !decision.Allowed || decision.Used != 1 {
		t.Fatalf("expected the new month to start from zero, got %+v", decision)
	}
}

func TestCalculateOverages(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	svc, stub, node := setupMeter(t, fc, map[string]plandomain.Limit{
		plandomain.ResourceAPIRequests: plandomain.Bounded(1000),
		plandomain.ResourceSeats:       plandomain.Unlimited(),
	})
	ctx := context.Background()
	tenantID := node.Generate()

	if _, err := svc.RecordAndCheck(ctx, tenantID, plandomain.ResourceAPIRequests, 150); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := svc.RecordAndCheck(ctx, tenantID, plandomain.ResourceSeats, 30); err != nil {
		t.Fatalf("record: %v", err)
	}

	// A mid-cycle downgrade can leave recorded usage above the new cap.
	stub.limits[plandomain.ResourceAPIRequests] = plandomain.Bounded(100)

	overages, err := svc.CalculateOverages(ctx, tenantID, 2026, 3)
	if err != nil {
		t.Fatalf("calculate overages: %v", err)
	}
	if got := overages[plandomain.ResourceAPIRequests]; got != 50 {
		t.Fatalf("expected overage 50, got %v", got)
	}
	// Unlimited resources never produce overages.
	if _, ok := overages[plandomain.ResourceSeats]; ok {
		t.Fatalf("unexpected overage for unlimited resource")
	}

	// A period with no usage row yields an empty map, not an error.
	empty, err := svc.CalculateOverages(ctx, tenantID, 2025, 12)
	if err != nil {
		t.Fatalf("calculate overages: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no overages, got %v", empty)
	}
}
