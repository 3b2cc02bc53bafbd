package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/croftlabs/croft/internal/billingevent"
	billingeventdomain "github.com/croftlabs/croft/internal/billingevent/domain"
	"github.com/croftlabs/croft/internal/clock"
	"github.com/croftlabs/croft/internal/config"
	"github.com/croftlabs/croft/internal/observability/metrics"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	"github.com/croftlabs/croft/internal/providers/email"
	provisioningdomain "github.com/croftlabs/croft/internal/provisioning/domain"
	subscriptiondomain "github.com/croftlabs/croft/internal/subscription/domain"
	tenantdomain "github.com/croftlabs/croft/internal/tenant/domain"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const maxSchemaNameLen = 63

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   config.Config
	genID *snowflake.Node
	clock clock.Clock

	tenants  tenantdomain.Repository
	subsvc   subscriptiondomain.Service
	subs     subscriptiondomain.Repository
	plansvc  plandomain.Service
	events   *billingevent.Recorder
	emailsvc email.Provider
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	GenID *snowflake.Node
	Clock clock.Clock

	Tenants  tenantdomain.Repository
	Subsvc   subscriptiondomain.Service
	Subs     subscriptiondomain.Repository
	Plansvc  plandomain.Service
	Events   *billingevent.Recorder
	Emailsvc email.Provider
}

func NewService(p ServiceParam) provisioningdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("provisioning"),
		cfg:      p.Cfg,
		genID:    p.GenID,
		clock:    p.Clock,
		tenants:  p.Tenants,
		subsvc:   p.Subsvc,
		subs:     p.Subs,
		plansvc:  p.Plansvc,
		events:   p.Events,
		emailsvc: p.Emailsvc,
	}
}

// CreateTenant implements domain.Service.
func (s *Service) CreateTenant(ctx context.Context, req provisioningdomain.CreateTenantRequest) (provisioningdomain.Result, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return provisioningdomain.Result{}, provisioningdomain.ErrInvalidName
	}
	payerEmail := strings.ToLower(strings.TrimSpace(req.PayerEmail))
	if payerEmail == "" || !strings.Contains(payerEmail, "@") {
		return provisioningdomain.Result{}, provisioningdomain.ErrInvalidEmail
	}

	schemaName, err := s.schemaNameFor(name)
	if err != nil {
		return provisioningdomain.Result{}, err
	}

	plan, err := s.plansvc.ActiveByTier(ctx, req.PlanTier)
	if err != nil {
		return provisioningdomain.Result{}, err
	}

	// Anti-abuse policy: one live workspace per payer email. A second
	// signup names the existing workspace instead of silently reusing it.
	existing, err := s.subs.FindLiveByPayerEmail(ctx, s.db, payerEmail)
	if err != nil {
		return provisioningdomain.Result{}, err
	}
	if existing != nil {
		conflicting, err := s.tenants.FindByID(ctx, s.db, existing.TenantID)
		if err != nil {
			return provisioningdomain.Result{}, err
		}
		duplicate := &provisioningdomain.DuplicateAccountError{}
		if conflicting != nil {
			duplicate.ExistingTenant = conflicting.DisplayName
		}
		return provisioningdomain.Result{}, duplicate
	}

	now := s.clock.Now()
	onTrial := req.PlanTier == plandomain.TierFree

	tenant := &tenantdomain.Tenant{
		ID:          s.genID.Generate(),
		SchemaName:  schemaName,
		DisplayName: name,
		PayerEmail:  payerEmail,
		OnTrial:     onTrial,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var subscription *subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := s.tenants.SchemaNameTaken(ctx, tx, schemaName)
		if err != nil {
			return err
		}
		if taken {
			return tenantdomain.ErrSchemaNameTaken
		}
		if err := s.tenants.ReserveSchemaName(ctx, tx, schemaName); err != nil {
			return err
		}

		subscription, err = s.subsvc.Create(ctx, tx, subscriptiondomain.CreateRequest{
			TenantID:   tenant.ID,
			Plan:       plan,
			Cycle:      req.BillingCycle,
			OnTrial:    onTrial,
			Gateway:    req.Gateway,
			ExternalID: req.ExternalSubscriptionID,
			Now:        now,
		})
		if err != nil {
			return err
		}

		tenant.PaidUntil = subscription.CurrentPeriodEnd
		if err := s.tenants.Insert(ctx, tx, tenant); err != nil {
			return err
		}

		if err := s.tenants.InsertDomain(ctx, tx, &tenantdomain.TenantDomain{
			ID:        s.genID.Generate(),
			TenantID:  tenant.ID,
			Hostname:  schemaName + "." + s.cfg.TenantBaseDomain,
			IsPrimary: true,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		eventType := billingeventdomain.EventSubscriptionCreated
		if onTrial {
			eventType = billingeventdomain.EventTrialStarted
		}
		if err := s.events.Append(ctx, tx, tenant.ID, &subscription.ID, eventType, map[string]any{
			"plan_tier":     string(req.PlanTier),
			"billing_cycle": string(req.BillingCycle),
			"schema_name":   schemaName,
		}, nil); err != nil {
			return err
		}

		// Schema DDL last: it is the final reversible step, and nothing
		// irreversible happens until the whole unit commits.
		return s.tenants.CreateSchema(ctx, tx, schemaName)
	})
	if err != nil {
		metrics.Billing().ProvisionOperations.WithLabelValues("create", "error").Inc()
		return provisioningdomain.Result{}, err
	}

	result := provisioningdomain.Result{
		Tenant:       tenant,
		Subscription: subscription,
		SchemaName:   schemaName,
	}

	// Identity issuance happens after the durable state committed and
	// must not fail the provisioning: a missing admin login is degraded
	// service, not a missing workspace.
	if adminEmail := strings.TrimSpace(req.AdminEmail); adminEmail != "" {
		password, err := s.issueAdminIdentity(ctx, tenant.ID, adminEmail)
		if err != nil {
			s.log.Warn("tenant provisioned without admin identity",
				zap.String("tenant_id", tenant.ID.String()),
				zap.String("schema", schemaName),
				zap.Error(err),
			)
			result.Degraded = true
		} else {
			result.AdminPassword = password
		}
	}

	s.sendWelcomeEmail(ctx, tenant, onTrial)

	metrics.Billing().ProvisionOperations.WithLabelValues("create", "ok").Inc()
	s.log.Info("tenant provisioned",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("schema", schemaName),
		zap.String("plan_tier", string(req.PlanTier)),
		zap.Bool("on_trial", onTrial),
	)
	return result, nil
}

// DeactivateTenant implements domain.Service. Non-destructive: the
// schema and all its data stay untouched for possible reactivation.
func (s *Service) DeactivateTenant(ctx context.Context, tenantID snowflake.ID, reason string) (provisioningdomain.Result, error) {
	var tenant *tenantdomain.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		tenant, err = s.tenants.FindByID(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}

		if err := s.subsvc.Expire(ctx, tx, tenantID, subscriptiondomain.ReasonOverdue); err != nil {
			return err
		}

		now := s.clock.Now()
		tenant.PaidUntil = now.AddDate(0, 0, -1)
		tenant.OnTrial = false
		tenant.UpdatedAt = now
		if err := s.tenants.Update(ctx, tx, tenant); err != nil {
			return err
		}

		return s.events.Append(ctx, tx, tenantID, nil, billingeventdomain.EventTenantDeactivated, map[string]any{
			"reason": reason,
		}, nil)
	})
	if err != nil {
		metrics.Billing().ProvisionOperations.WithLabelValues("deactivate", "error").Inc()
		return provisioningdomain.Result{}, err
	}

	metrics.Billing().ProvisionOperations.WithLabelValues("deactivate", "ok").Inc()
	return provisioningdomain.Result{Tenant: tenant, SchemaName: tenant.SchemaName}, nil
}

// ReactivateTenant implements domain.Service.
func (s *Service) ReactivateTenant(ctx context.Context, req provisioningdomain.ReactivateTenantRequest) (provisioningdomain.Result, error) {
	var plan *plandomain.Plan
	if req.PlanTier != "" {
		var err error
		plan, err = s.plansvc.ActiveByTier(ctx, req.PlanTier)
		if err != nil {
			return provisioningdomain.Result{}, err
		}
	}

	var (
		tenant       *tenantdomain.Tenant
		subscription *subscriptiondomain.Subscription
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		tenant, err = s.tenants.FindByID(ctx, tx, req.TenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}

		now := s.clock.Now()
		subscription, err = s.subsvc.Reactivate(ctx, tx, req.TenantID, plan, req.BillingCycle, req.ExternalSubscriptionID, now)
		if err != nil {
			return err
		}

		tenant.PaidUntil = subscription.CurrentPeriodEnd
		tenant.OnTrial = false
		tenant.UpdatedAt = now
		if err := s.tenants.Update(ctx, tx, tenant); err != nil {
			return err
		}

		return s.events.Append(ctx, tx, req.TenantID, &subscription.ID, billingeventdomain.EventTenantReactivated, map[string]any{
			"billing_cycle": string(req.BillingCycle),
		}, nil)
	})
	if err != nil {
		metrics.Billing().ProvisionOperations.WithLabelValues("reactivate", "error").Inc()
		return provisioningdomain.Result{}, err
	}

	metrics.Billing().ProvisionOperations.WithLabelValues("reactivate", "ok").Inc()
	return provisioningdomain.Result{Tenant: tenant, Subscription: subscription, SchemaName: tenant.SchemaName}, nil
}

// UpgradeSubscription implements domain.Service.
func (s *Service) UpgradeSubscription(ctx context.Context, req provisioningdomain.UpgradeSubscriptionRequest) (provisioningdomain.Result, error) {
	plan, err := s.plansvc.ActiveByTier(ctx, req.NewPlanTier)
	if err != nil {
		return provisioningdomain.Result{}, err
	}

	var (
		tenant       *tenantdomain.Tenant
		subscription *subscriptiondomain.Subscription
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		tenant, err = s.tenants.FindByID(ctx, tx, req.TenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}

		now := s.clock.Now()
		subscription, err = s.subsvc.SwapPlan(ctx, tx, req.TenantID, plan, req.BillingCycle, now)
		if err != nil {
			return err
		}

		tenant.PaidUntil = subscription.CurrentPeriodEnd
		tenant.OnTrial = false
		tenant.UpdatedAt = now
		if err := s.tenants.Update(ctx, tx, tenant); err != nil {
			return err
		}

		return s.events.Append(ctx, tx, req.TenantID, &subscription.ID, billingeventdomain.EventSubscriptionUpgraded, map[string]any{
			"plan_tier":     string(req.NewPlanTier),
			"billing_cycle": string(req.BillingCycle),
		}, nil)
	})
	if err != nil {
		metrics.Billing().ProvisionOperations.WithLabelValues("upgrade", "error").Inc()
		return provisioningdomain.Result{}, err
	}

	metrics.Billing().ProvisionOperations.WithLabelValues("upgrade", "ok").Inc()
	return provisioningdomain.Result{Tenant: tenant, Subscription: subscription, SchemaName: tenant.SchemaName}, nil
}

// DeleteTenant implements domain.Service. Destructive and irreversible.
// Application rows go first so a crash mid-operation leaves at worst an
// orphaned empty schema, never a tenant row pointing at a destroyed one.
func (s *Service) DeleteTenant(ctx context.Context, tenantID snowflake.ID, reason string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.tenants.FindByID(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}

		// The platform's own schema can never be a deletion target. The
		// guard runs before any row is touched.
		if tenant.SchemaName == s.cfg.PlatformSchema {
			return tenantdomain.ErrPlatformSchema
		}

		if err := s.tenants.DeleteDomains(ctx, tx, tenantID); err != nil {
			return err
		}
		if err := s.tenants.DeleteUsers(ctx, tx, tenantID); err != nil {
			return err
		}
		if err := s.subsvc.DeleteByTenantID(ctx, tx, tenantID); err != nil {
			return err
		}
		if err := s.events.Append(ctx, tx, tenantID, nil, billingeventdomain.EventTenantDeleted, map[string]any{
			"reason":      reason,
			"schema_name": tenant.SchemaName,
		}, nil); err != nil {
			return err
		}
		if err := s.tenants.Delete(ctx, tx, tenantID); err != nil {
			return err
		}

		return s.tenants.DropSchema(ctx, tx, tenant.SchemaName)
	})
	if err != nil {
		metrics.Billing().ProvisionOperations.WithLabelValues("delete", "error").Inc()
		return err
	}

	metrics.Billing().ProvisionOperations.WithLabelValues("delete", "ok").Inc()
	s.log.Info("tenant deleted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("reason", reason),
	)
	return nil
}

func (s *Service) schemaNameFor(name string) (string, error) {
	candidate := strings.ReplaceAll(slug.Make(name), "-", "_")
	if candidate == "" {
		return "", provisioningdomain.ErrInvalidName
	}
	if candidate[0] >= '0' && candidate[0] <= '9' {
		candidate = "t_" + candidate
	}
	if len(candidate) > maxSchemaNameLen {
		candidate = candidate[:maxSchemaNameLen]
	}
	return candidate, nil
}

func (s *Service) issueAdminIdentity(ctx context.Context, tenantID snowflake.ID, adminEmail string) (string, error) {
	password, err := generatePassword()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	user := &tenantdomain.TenantUser{
		ID:           s.genID.Generate(),
		TenantID:     tenantID,
		Email:        strings.ToLower(adminEmail),
		PasswordHash: string(hash),
		Role:         "admin",
		CreatedAt:    s.clock.Now(),
	}
	if err := s.tenants.InsertUser(ctx, s.db, user); err != nil {
		return "", err
	}
	return password, nil
}

func (s *Service) sendWelcomeEmail(ctx context.Context, tenant *tenantdomain.Tenant, onTrial bool) {
	subject := "Your Croft workspace is ready"
	body := "<p>Workspace <b>" + tenant.DisplayName + "</b> has been created.</p>"
	if onTrial {
		body += "<p>Your free trial is now running.</p>"
	}
	if err := s.emailsvc.Send(ctx, []string{tenant.PayerEmail}, subject, body); err != nil {
		// Best effort only: mail trouble never fails provisioning.
		s.log.Warn("welcome email failed",
			zap.String("tenant_id", tenant.ID.String()),
			zap.Error(err),
		)
	}
}

func generatePassword() (string, error) {
	raw := make([]byte, 18)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
