package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/croftlabs/croft/internal/billingevent"
	billingeventdomain "github.com/croftlabs/croft/internal/billingevent/domain"
	"github.com/croftlabs/croft/internal/clock"
	"github.com/croftlabs/croft/internal/config"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	planrepository "github.com/croftlabs/croft/internal/plan/repository"
	planservice "github.com/croftlabs/croft/internal/plan/service"
	"github.com/croftlabs/croft/internal/providers/email"
	provisioningdomain "github.com/croftlabs/croft/internal/provisioning/domain"
	subscriptiondomain "github.com/croftlabs/croft/internal/subscription/domain"
	subscriptionrepository "github.com/croftlabs/croft/internal/subscription/repository"
	subscriptionservice "github.com/croftlabs/croft/internal/subscription/service"
	tenantdomain "github.com/croftlabs/croft/internal/tenant/domain"
	tenantrepository "github.com/croftlabs/croft/internal/tenant/repository"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// schemalessTenantRepo skips schema DDL, which sqlite does not speak.
// Everything else behaves like the real repository.
type schemalessTenantRepo struct {
	tenantdomain.Repository
}

func (schemalessTenantRepo) CreateSchema(ctx context.Context, tx *gorm.DB, schemaName string) error {
	return nil
}

func (schemalessTenantRepo) DropSchema(ctx context.Context, tx *gorm.DB, schemaName string) error {
	return nil
}

type harness struct {
	svc     provisioningdomain.Service
	db      *gorm.DB
	node    *snowflake.Node
	fc      *clock.FakeClock
	tenants tenantdomain.Repository
}

func setupProvisioner(t *testing.T) *harness {
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

	// SQLite support hack: drop row-locking clauses.
	err = db.Callback().Query().Before("gorm:query").Register("sqlite_strip_for_update", func(d *gorm.DB) {
		delete(d.Statement.Clauses, "FOR")
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	err = db.AutoMigrate(
		&tenantdomain.Tenant{},
		&tenantdomain.SchemaTombstone{},
		&tenantdomain.TenantDomain{},
		&tenantdomain.TenantUser{},
		&subscriptiondomain.Subscription{},
		&plandomain.Plan{},
		&billingeventdomain.BillingEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(10)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	planRepo := planrepository.Provide()
	seedPlans(t, db, node, planRepo)

	plansvc := planservice.NewService(planservice.ServiceParam{DB: db, Log: log, Repo: planRepo})
	subRepo := subscriptionrepository.Provide()
	subsvc := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   fc,
		Repo:    subRepo,
		Plansvc: plansvc,
	})
	tenants := schemalessTenantRepo{tenantrepository.Provide()}

	cfg := config.Config{
		Environment:      "test",
		TenantBaseDomain: "croft.test",
		PlatformSchema:   "public",
	}

	svc := NewService(ServiceParam{
		DB:       db,
		Log:      log,
		Cfg:      cfg,
		GenID:    node,
		Clock:    fc,
		Tenants:  tenants,
		Subsvc:   subsvc,
		Subs:     subRepo,
		Plansvc:  plansvc,
		Events:   billingevent.NewRecorder(node),
		Emailsvc: &email.NoOpProvider{},
	})
	return &harness{svc: svc, db: db, node: node, fc: fc, tenants: tenants}
}

func seedPlans(t *testing.T, db *gorm.DB, node *snowflake.Node, repo planrepository.Repository) {
	t.Helper()
	ctx := context.Background()
	plans := []*plandomain.Plan{
		{
			ID:        node.Generate(),
			Tier:      plandomain.TierFree,
			TrialDays: 14,
			Active:    true,
			Limits: plandomain.LimitMap{
				plandomain.ResourceAPIRequests: plandomain.Bounded(50),
				plandomain.ResourceSeats:       plandomain.Bounded(2),
			},
		},
		{
			ID:     node.Generate(),
			Tier:   plandomain.TierBasic,
			Active: true,
			Limits: plandomain.LimitMap{
				plandomain.ResourceAPIRequests: plandomain.Bounded(100),
			},
		},
	}
	for _, plan := range plans {
		if err := repo.Insert(ctx, db, plan); err != nil {
			t.Fatalf("seed plan %s: %v", plan.Tier, err)
		}
	}
}

func (h *harness) eventCount(t *testing.T, eventType string) int64 {
	t.Helper()
	var count int64
	err := h.db.Model(&billingeventdomain.BillingEvent{}).
		Where("event_type = ?", eventType).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}

func TestCreateTenantTrialSignup(t *testing.T) {
	h := setupProvisioner(t)
	ctx := context.Background()

	result, err := h.svc.CreateTenant(ctx, provisioningdomain.CreateTenantRequest{
		Name:         "Green Acres",
		PlanTier:     plandomain.TierFree,
		BillingCycle: subscriptiondomain.CycleMonthly,
		PayerEmail:   "Owner@GreenAcres.Farm",
		AdminEmail:   "owner@greenacres.farm",
	})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	if result.SchemaName != "green_acres" {
		t.Fatalf("expected schema green_acres, got %q", result.SchemaName)
	}
	if !result.Tenant.OnTrial {
		t.Fatalf("free-tier signup starts on trial")
	}
	if result.Tenant.PayerEmail != "owner@greenacres.farm" {
		t.Fatalf("payer email should be normalized, got %q", result.Tenant.PayerEmail)
	}
	if result.Subscription.Status != subscriptiondomain.StatusTrialing {
		t.Fatalf("expected trialing subscription, got %s", result.Subscription.Status)
	}
	if !result.Tenant.PaidUntil.Equal(result.Subscription.CurrentPeriodEnd) {
		t.Fatalf("paid-until must track the trial end")
	}
	if result.AdminPassword == "" || result.Degraded {
		t.Fatalf("expected issued admin credential, got %+v", result)
	}

	var hostname tenantdomain.TenantDomain
	if err := h.db.First(&hostname, "tenant_id = ?", result.Tenant.ID).Error; err != nil {
		t.Fatalf("load domain: %v", err)
	}
	if hostname.Hostname != "green_acres.croft.test" || !hostname.IsPrimary {
		t.Fatalf("expected primary default hostname, got %+v", hostname)
	}

	var admin tenantdomain.TenantUser
	if err := h.db.First(&admin, "tenant_id = ?", result.Tenant.ID).Error; err != nil {
		t.Fatalf("load admin: %v", err)
	}
	if admin.Role != "admin" || admin.PasswordHash == result.AdminPassword {
		t.Fatalf("admin identity must store a hash, got %+v", admin)
	}

	if got := h.eventCount(t, billingeventdomain.EventTrialStarted); got != 1 {
		t.Fatalf("expected one trial.started event, got %d", got)
	}
}

func TestCreateTenantValidation(t *testing.T) {
	h := setupProvisioner(t)
	ctx := context.Background()

	_, err := h.svc.CreateTenant(ctx, provisioningdomain.CreateTenantRequest{
		Name:       "   ",
		PlanTier:   plandomain.TierFree,
		PayerEmail: "a@b.c",
	})
	if !errors.Is(err, provisioningdomain.ErrInvalidName) {
		t.Fatalf("expected invalid_tenant_name, got %v", err)
	}

	_, err = h.svc.CreateTenant(ctx, provisioningdomain.CreateTenantRequest{
		Name:       "Farm",
		PlanTier:   plandomain.TierFree,
		PayerEmail: "not-an-email",
	})
	if !errors.Is(err, provisioningdomain.ErrInvalidEmail) {
		t.Fatalf("expected invalid_payer_email, got %v", err)
	}

	_, err = h.svc.CreateTenant(ctx, provisioningdomain.CreateTenantRequest{
		Name:       "Farm",
		PlanTier:   "platinum",
		PayerEmail: "a@b.c",
	})
	if !errors.Is(err, plandomain.ErrPlanNotFound) {
		t.Fatalf("expected plan_not_found for unknown tier, got %v", err)
	}
}

func TestCreateTenantDigitPrefixSchema(t *testing.T) {
	h := setupProvisioner(t)

	result, err := h.svc.CreateTenant(context.Background(), provisioningdomain.CreateTenantRequest{
		Name:         "4 Seasons Farm",
		PlanTier:     plandomain.TierFree,
		BillingCycle: subscriptiondomain.CycleMonthly,
		PayerEmail:   "ops@4seasons.farm",
	})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if result.SchemaName != "t_4_seasons_farm" {
		t.Fatalf("digit-leading names need a prefix, got %q", result.SchemaName)
	}
}

func TestCreateTenantDuplicatePayerEmail(t *testing.T) {
	h := setupProvisioner(t)
	ctx := context.Background()

	_, err := h.svc.CreateTenant(ctx, provisioningdomain.CreateTenantRequest{
		Name:         "Green Acres",
		PlanTier:     plandomain.TierFree,
		BillingCycle: subscriptiondomain.CycleMonthly,
		PayerEmail:   "owner@greenacres.farm",
	})
	if err != nil {
		t.Fatalf("first signup: %v", err)
	}

	_, err = h.svc.CreateTenant(ctx, provisioningdomain.CreateTenantRequest{
		Name:         "Other Farm",
		PlanTier:     plandomain.TierBasic,
		BillingCycle: subscriptiondomain.CycleMonthly,
		PayerEmail:   "Owner@GreenAcres.Farm",
	})
	if !errors.Is(err, provisioningdomain.ErrDuplicateAccount) {
		t.Fatalf("expected duplicate_account, got %v", err)
	}
	var duplicate *provisioningdomain.DuplicateAccountError
	if !errors.As(err, &duplicate) {
		t.Fatalf("expected DuplicateAccountError, got %T", err)
	}
	if duplicate.ExistingTenant != "Green Acres" {
		t.Fatalf("duplicate error should name the existing workspace, got %q", duplicate.ExistingTenant)
	}
}

func TestDeactivateThenReactivate(t *testing.T) {
	h := setupProvisioner(t)
	ctx := context.Background()

	created, err := h.svc.CreateTenant(ctx, provisioningdomain.CreateTenantRequest{
		Name:         "Willow Brook",
		PlanTier:     plandomain.TierBasic,
		BillingCycle: subscriptiondomain.CycleMonthly,
		PayerEmail:   "owner@willowbrook.farm",
	})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	tenantID := created.Tenant.ID

	deactivated, err := h.svc.DeactivateTenant(ctx, tenantID, "overdue")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if !deactivated.Tenant.PaidUntil.Before(h.fc.Now()) {
		t.Fatalf("deactivation must push paid-until into the past")
	}
	var subscription subscriptiondomain.Subscription
	if err := h.db.First(&subscription, "tenant_id = ?", tenantID).Error; err != nil {
		t.Fatalf("load subscription: %v", err)
	}
	if subscription.Status != subscriptiondomain.StatusExpired {
		t.Fatalf("expected expired subscription, got %s", subscription.Status)
	}

	// A second deactivation is a harmless repeat.
	if _, err := h.svc.DeactivateTenant(ctx, tenantID, "overdue"); err != nil {
		t.Fatalf("repeat deactivate: %v", err)
	}

	h.fc.Advance(10 * 24 * time.Hour)
	reactivated, err := h.svc.ReactivateTenant(ctx, provisioningdomain.ReactivateTenantRequest{
		TenantID:     tenantID,
		BillingCycle: subscriptiondomain.CycleMonthly,
	})
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if reactivated.Subscription.Status != subscriptiondomain.StatusActive {
		t.Fatalf("expected active subscription, got %s", reactivated.Subscription.Status)
	}
	if !reactivated.Tenant.PaidUntil.After(h.fc.Now()) {
		t.Fatalf("reactivation must restore a future paid-until")
	}
	if got := h.eventCount(t, billingeventdomain.EventTenantReactivated); got != 1 {
		t.Fatalf("expected one tenant.reactivated event, got %d", got)
	}
}

func TestUpgradeSubscription(t *testing.T) {
	h := setupProvisioner(t)
	ctx := context.Background()

	created, err := h.svc.CreateTenant(ctx, provisioningdomain.CreateTenantRequest{
		Name:         "Clover Field",
		PlanTier:     plandomain.TierFree,
		BillingCycle: subscriptiondomain.CycleMonthly,
		PayerEmail:   "owner@cloverfield.farm",
	})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	upgraded, err := h.svc.UpgradeSubscription(ctx, provisioningdomain.UpgradeSubscriptionRequest{
		TenantID:     created.Tenant.ID,
		NewPlanTier:  plandomain.TierBasic,
		BillingCycle: subscriptiondomain.CycleYearly,
	})
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	if upgraded.Subscription.Status != subscriptiondomain.StatusActive {
		t.Fatalf("upgrade converts the trial, got %s", upgraded.Subscription.Status)
	}
	if upgraded.Subscription.PlanID == created.Subscription.PlanID {
		t.Fatalf("expected the plan to change")
	}
	if upgraded.Tenant.OnTrial {
		t.Fatalf("upgraded tenant is no longer on trial")
	}
	if want := h.fc.Now().AddDate(1, 0, 0); !upgraded.Tenant.PaidUntil.Equal(want) {
		t.Fatalf("expected yearly paid-until %v, got %v", want, upgraded.Tenant.PaidUntil)
	}
	if got := h.eventCount(t, billingeventdomain.EventSubscriptionUpgraded); got != 1 {
		t.Fatalf("expected one subscription.upgraded event, got %d", got)
	}
}

func TestDeleteTenantTombstonesSchemaName(t *testing.T) {
	h := setupProvisioner(t)
	ctx := context.Background()

	created, err := h.svc.CreateTenant(ctx, provisioningdomain.CreateTenantRequest{
		Name:         "Foo Farm",
		PlanTier:     plandomain.TierFree,
		BillingCycle: subscriptiondomain.CycleMonthly,
		PayerEmail:   "owner@foofarm.example",
		AdminEmail:   "owner@foofarm.example",
	})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	tenantID := created.Tenant.ID

	if err := h.svc.DeleteTenant(ctx, tenantID, "trial_lapsed"); err != nil {
		t.Fatalf("delete tenant: %v", err)
	}

	remaining, err := h.tenants.FindByID(ctx, h.db, tenantID)
	if err != nil {
		t.Fatalf("find tenant: %v", err)
	}
	if remaining != nil {
		t.Fatalf("tenant row should be gone")
	}
	var count int64
	if err := h.db.Model(&subscriptiondomain.Subscription{}).Where("tenant_id = ?", tenantID).Count(&count).Error; err != nil {
		t.Fatalf("count subscriptions: %v", err)
	}
	if count != 0 {
		t.Fatalf("subscription rows should be gone")
	}
	if err := h.db.Model(&tenantdomain.TenantUser{}).Where("tenant_id = ?", tenantID).Count(&count).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 0 {
		t.Fatalf("user rows should be gone")
	}
	if got := h.eventCount(t, billingeventdomain.EventTenantDeleted); got != 1 {
		t.Fatalf("expected one tenant.deleted event, got %d", got)
	}

	// The schema name stays reserved forever.
	_, err = h.svc.CreateTenant(ctx, provisioningdomain.CreateTenantRequest{
		Name:         "Foo Farm",
		PlanTier:     plandomain.TierFree,
		BillingCycle: subscriptiondomain.CycleMonthly,
		PayerEmail:   "new-owner@foofarm.example",
	})
	if !errors.Is(err, tenantdomain.ErrSchemaNameTaken) {
		t.Fatalf("expected schema_name_taken after deletion, got %v", err)
	}
}

func TestDeleteTenantRefusesPlatformSchema(t *testing.T) {
	h := setupProvisioner(t)
	ctx := context.Background()

	platform := &tenantdomain.Tenant{
		ID:          h.node.Generate(),
		SchemaName:  "public",
		DisplayName: "Platform",
		PayerEmail:  "ops@croft.test",
		PaidUntil:   h.fc.Now().AddDate(1, 0, 0),
	}
	if err := h.tenants.Insert(ctx, h.db, platform); err != nil {
		t.Fatalf("seed platform tenant: %v", err)
	}

	err := h.svc.DeleteTenant(ctx, platform.ID, "mistake")
	if !errors.Is(err, tenantdomain.ErrPlatformSchema) {
		t.Fatalf("expected platform_schema_protected, got %v", err)
	}

	kept, err := h.tenants.FindByID(ctx, h.db, platform.ID)
	if err != nil {
		t.Fatalf("find tenant: %v", err)
	}
	if kept == nil {
		t.Fatalf("platform tenant must survive")
	}
}

func TestDeleteTenantNotFound(t *testing.T) {
	h := setupProvisioner(t)

	err := h.svc.DeleteTenant(context.Background(), h.node.Generate(), "whatever")
	if !errors.Is(err, tenantdomain.ErrTenantNotFound) {
		t.Fatalf("expected tenant_not_found, got %v", err)
	}
}
