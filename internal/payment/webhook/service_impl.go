// Package webhook turns inbound gateway notifications into trusted state
// changes: verify, dedupe, dispatch, record.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/croftlabs/croft/internal/billingevent"
	billingeventdomain "github.com/croftlabs/croft/internal/billingevent/domain"
	"github.com/croftlabs/croft/internal/cache"
	"github.com/croftlabs/croft/internal/clock"
	invoicedomain "github.com/croftlabs/croft/internal/invoice/domain"
	"github.com/croftlabs/croft/internal/observability/metrics"
	"github.com/croftlabs/croft/internal/payment/adapters"
	paymentdomain "github.com/croftlabs/croft/internal/payment/domain"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	provisioningdomain "github.com/croftlabs/croft/internal/provisioning/domain"
	subscriptiondomain "github.com/croftlabs/croft/internal/subscription/domain"
	tenantdomain "github.com/croftlabs/croft/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Fingerprints of delivered bodies live this long. Gateways retry on
// timeout within seconds, so tens of seconds of suppression is enough;
// the billing_events external-id check is the durable backstop.
const dedupeTTL = 30 * time.Second

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Adapters    *adapters.Registry
	Subs        subscriptiondomain.Repository
	Invoices    invoicedomain.Repository
	Tenants     tenantdomain.Repository
	Events      *billingevent.Recorder
	Provisioner provisioningdomain.Service
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	genID       *snowflake.Node
	adapters    *adapters.Registry
	subs        subscriptiondomain.Repository
	invoices    invoicedomain.Repository
	tenants     tenantdomain.Repository
	events      *billingevent.Recorder
	provisioner provisioningdomain.Service
	seen        *cache.TTLCache[string, struct{}]
}

func NewService(p Params) paymentdomain.Processor {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.webhook"),
		clock:       p.Clock,
		genID:       p.GenID,
		adapters:    p.Adapters,
		subs:        p.Subs,
		invoices:    p.Invoices,
		tenants:     p.Tenants,
		events:      p.Events,
		provisioner: p.Provisioner,
		seen:        cache.NewTTLCache[string, struct{}](),
	}
}

func (s *Service) Handle(ctx context.Context, gateway string, payload []byte, headers http.Header) (paymentdomain.Ack, error) {
	g, err := paymentdomain.ParseGateway(gateway)
	if err != nil {
		return paymentdomain.Ack{}, err
	}
	adapter, err := s.adapters.Adapter(g)
	if err != nil {
		return paymentdomain.Ack{}, err
	}
	if !json.Valid(payload) {
		metrics.Billing().WebhookRejected.WithLabelValues(g.String(), "invalid_payload").Inc()
		return paymentdomain.Ack{}, paymentdomain.ErrInvalidPayload
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		metrics.Billing().WebhookRejected.WithLabelValues(g.String(), "signature").Inc()
		s.log.Warn("webhook signature rejected", zap.String("gateway", g.String()))
		return paymentdomain.Ack{}, err
	}

	// First-writer-wins on the body fingerprint: retried deliveries
	// within the window ack without touching state.
	sum := sha256.Sum256(payload)
	fingerprint := g.String() + ":" + hex.EncodeToString(sum[:])
	if !s.seen.SetIfAbsent(fingerprint, struct{}{}, dedupeTTL) {
		metrics.Billing().WebhookDuplicates.Inc()
		return paymentdomain.Ack{Status: paymentdomain.AckDuplicate}, nil
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return paymentdomain.Ack{Status: paymentdomain.AckIgnored}, nil
		}
		s.seen.Delete(fingerprint)
		metrics.Billing().WebhookRejected.WithLabelValues(g.String(), "parse").Inc()
		return paymentdomain.Ack{}, err
	}

	if event.ExternalEventID != "" {
		applied, err := s.events.SeenExternalEvent(ctx, s.db, externalEventKey(event))
		if err != nil {
			s.seen.Delete(fingerprint)
			return paymentdomain.Ack{}, err
		}
		if applied {
			metrics.Billing().WebhookDuplicates.Inc()
			return paymentdomain.Ack{Status: paymentdomain.AckDuplicate, EventType: event.Type}, nil
		}
	}

	ack, err := s.dispatch(ctx, event)
	if err != nil {
		// A failed apply must not poison the retry window: the gateway
		// redelivers the same bytes and expects them to land.
		s.seen.Delete(fingerprint)
		return paymentdomain.Ack{}, err
	}
	metrics.Billing().WebhookIngests.WithLabelValues(g.String(), event.Type).Inc()
	return ack, nil
}

func (s *Service) dispatch(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.Ack, error) {
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		return s.applyPaymentSucceeded(ctx, event)
	case paymentdomain.EventTypePaymentFailed:
		return s.applyPaymentFailed(ctx, event)
	case paymentdomain.EventTypeSubscriptionCreated,
		paymentdomain.EventTypeSubscriptionUpdated,
		paymentdomain.EventTypeSubscriptionCanceled:
		return s.applySubscriptionSync(ctx, event)
	default:
		return paymentdomain.Ack{Status: paymentdomain.AckIgnored}, nil
	}
}

// applyPaymentSucceeded marks the invoice paid and extends the
// subscription's period, under row locks: webhook delivery is concurrent
// and out-of-order across gateways.
func (s *Service) applyPaymentSucceeded(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.Ack, error) {
	var applied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.locateSubscription(ctx, tx, event)
		if err != nil {
			return err
		}
		if subscription == nil {
			s.log.Warn("payment for unknown subscription",
				zap.String("gateway", event.Gateway.String()),
				zap.String("external_subscription_id", event.ExternalSubscriptionID),
			)
			return nil
		}
		if subscription.Status.Terminal() {
			s.log.Warn("payment for terminal subscription",
				zap.String("subscription_id", subscription.ID.String()),
				zap.String("status", string(subscription.Status)),
			)
			return nil
		}

		now := s.clock.Now()
		if err := s.settleInvoice(ctx, tx, subscription, event, now); err != nil {
			return err
		}

		// Extend from the current period end when still inside it, from
		// now when the payment arrives late.
		start := subscription.CurrentPeriodEnd
		if start.Before(now) {
			start = now
		}
		subscription.Status = subscriptiondomain.StatusActive
		subscription.CurrentPeriodStart = start
		subscription.CurrentPeriodEnd = subscription.BillingCycle.PeriodEnd(start)
		subscription.TrialEnd = nil
		subscription.UpdatedAt = now
		if err := s.subs.Update(ctx, tx, subscription); err != nil {
			return err
		}

		tenant, err := s.tenants.FindByID(ctx, tx, subscription.TenantID)
		if err != nil {
			return err
		}
		if tenant != nil {
			tenant.PaidUntil = subscription.CurrentPeriodEnd
			tenant.OnTrial = false
			tenant.UpdatedAt = now
			if err := s.tenants.Update(ctx, tx, tenant); err != nil {
				return err
			}
		}

		applied = true
		key := externalEventKey(event)
		return s.events.Append(ctx, tx, subscription.TenantID, &subscription.ID,
			billingeventdomain.EventPaymentSucceeded, map[string]any{
				"gateway":            event.Gateway.String(),
				"amount":             event.Amount,
				"currency":           event.Currency,
				"current_period_end": subscription.CurrentPeriodEnd,
			}, &key)
	})
	if err != nil {
		return paymentdomain.Ack{}, err
	}
	if !applied {
		return paymentdomain.Ack{Status: paymentdomain.AckIgnored, EventType: event.Type}, nil
	}
	return paymentdomain.Ack{Status: paymentdomain.AckApplied, EventType: event.Type}, nil
}

func (s *Service) applyPaymentFailed(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.Ack, error) {
	var applied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.locateSubscription(ctx, tx, event)
		if err != nil {
			return err
		}
		if subscription == nil || subscription.Status.Terminal() {
			return nil
		}

		if subscription.Status != subscriptiondomain.StatusPastDue {
			subscription.Status = subscriptiondomain.StatusPastDue
			subscription.UpdatedAt = s.clock.Now()
			if err := s.subs.Update(ctx, tx, subscription); err != nil {
				return err
			}
		}

		applied = true
		key := externalEventKey(event)
		return s.events.Append(ctx, tx, subscription.TenantID, &subscription.ID,
			billingeventdomain.EventPaymentFailed, map[string]any{
				"gateway": event.Gateway.String(),
				"reason":  string(subscriptiondomain.ReasonPaymentFailed),
			}, &key)
	})
	if err != nil {
		return paymentdomain.Ack{}, err
	}
	if !applied {
		return paymentdomain.Ack{Status: paymentdomain.AckIgnored, EventType: event.Type}, nil
	}
	return paymentdomain.Ack{Status: paymentdomain.AckApplied, EventType: event.Type}, nil
}

// applySubscriptionSync maps the gateway's status onto the state
// machine. A gateway-active subscription with no local record is the
// asynchronous-first-payment path and falls through to tenant creation.
func (s *Service) applySubscriptionSync(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.Ack, error) {
	target, ok := targetStatus(event)
	if !ok {
		return paymentdomain.Ack{Status: paymentdomain.AckIgnored, EventType: event.Type}, nil
	}

	var (
		applied     bool
		needsCreate bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.locateSubscription(ctx, tx, event)
		if err != nil {
			return err
		}
		if subscription == nil {
			needsCreate = target == subscriptiondomain.StatusActive
			return nil
		}
		if subscription.Status == target || subscription.Status.Terminal() {
			return nil
		}

		subscription.Status = target
		now := s.clock.Now()
		if target == subscriptiondomain.StatusCanceled {
			subscription.CanceledAt = &now
			subscription.AutoRenew = false
		}
		subscription.UpdatedAt = now
		if err := s.subs.Update(ctx, tx, subscription); err != nil {
			return err
		}

		applied = true
		key := externalEventKey(event)
		return s.events.Append(ctx, tx, subscription.TenantID, &subscription.ID,
			billingeventdomain.EventSubscriptionSynced, map[string]any{
				"gateway": event.Gateway.String(),
				"status":  string(target),
				"reason":  string(subscriptiondomain.ReasonGatewaySync),
			}, &key)
	})
	if err != nil {
		return paymentdomain.Ack{}, err
	}

	if needsCreate {
		return s.createFromGateway(ctx, event)
	}
	if !applied {
		return paymentdomain.Ack{Status: paymentdomain.AckIgnored, EventType: event.Type}, nil
	}
	return paymentdomain.Ack{Status: paymentdomain.AckApplied, EventType: event.Type}, nil
}

// createFromGateway provisions a tenant for a gateway subscription that
// went active before any synchronous signup: checkout metadata carries
// the workspace details.
func (s *Service) createFromGateway(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.Ack, error) {
	name := event.Metadata["tenant_name"]
	tierRaw := event.Metadata["plan_tier"]
	cycleRaw := event.Metadata["billing_cycle"]
	if name == "" || tierRaw == "" || event.PayerEmail == "" {
		s.log.Warn("active gateway subscription without checkout metadata",
			zap.String("gateway", event.Gateway.String()),
			zap.String("external_subscription_id", event.ExternalSubscriptionID),
		)
		return paymentdomain.Ack{Status: paymentdomain.AckIgnored, EventType: event.Type}, nil
	}

	tier, err := plandomain.ParseTier(tierRaw)
	if err != nil {
		return paymentdomain.Ack{}, err
	}
	cycle := subscriptiondomain.CycleMonthly
	if parsed, err := subscriptiondomain.ParseBillingCycle(cycleRaw); err == nil {
		cycle = parsed
	}

	result, err := s.provisioner.CreateTenant(ctx, provisioningdomain.CreateTenantRequest{
		Name:                   name,
		PlanTier:               tier,
		BillingCycle:           cycle,
		PayerEmail:             event.PayerEmail,
		ExternalSubscriptionID: event.ExternalSubscriptionID,
		Gateway:                event.Gateway.String(),
		AdminEmail:             event.PayerEmail,
	})
	if err != nil {
		// A concurrent synchronous signup may have won the race.
		if errors.Is(err, provisioningdomain.ErrDuplicateAccount) {
			return paymentdomain.Ack{Status: paymentdomain.AckDuplicate, EventType: event.Type}, nil
		}
		return paymentdomain.Ack{}, err
	}

	s.log.Info("tenant provisioned from gateway webhook",
		zap.String("gateway", event.Gateway.String()),
		zap.String("tenant_id", result.Tenant.ID.String()),
		zap.String("schema", result.SchemaName),
	)
	return paymentdomain.Ack{Status: paymentdomain.AckApplied, EventType: event.Type}, nil
}

// locateSubscription row-locks by the gateway's external id first, then
// by the invoice the external reference points at.
func (s *Service) locateSubscription(ctx context.Context, tx *gorm.DB, event *paymentdomain.PaymentEvent) (*subscriptiondomain.Subscription, error) {
	if event.ExternalSubscriptionID != "" {
		subscription, err := s.subs.FindByExternalIDForUpdate(ctx, tx, event.Gateway.String(), event.ExternalSubscriptionID)
		if err != nil {
			return nil, err
		}
		if subscription != nil {
			return subscription, nil
		}
	}
	if event.ExternalRef != "" {
		invoice, err := s.invoices.FindByExternalRefForUpdate(ctx, tx, event.ExternalRef)
		if err != nil {
			return nil, err
		}
		if invoice != nil {
			return s.subs.FindByIDForUpdate(ctx, tx, invoice.SubscriptionID)
		}
	}
	return nil, nil
}

func (s *Service) settleInvoice(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, event *paymentdomain.PaymentEvent, now time.Time) error {
	if event.ExternalRef != "" {
		invoice, err := s.invoices.FindByExternalRefForUpdate(ctx, tx, event.ExternalRef)
		if err != nil {
			return err
		}
		if invoice != nil {
			if invoice.Status == invoicedomain.InvoiceStatusPaid {
				return nil
			}
			invoice.Status = invoicedomain.InvoiceStatusPaid
			invoice.PaidAt = &now
			if event.Amount > 0 {
				invoice.Amount = event.Amount
				invoice.Currency = event.Currency
			}
			return s.invoices.Update(ctx, tx, invoice)
		}
	}

	// No open invoice for this payment: record a paid one so the ledger
	// stays complete.
	externalRef := event.ExternalRef
	if externalRef == "" {
		externalRef = event.Gateway.String() + ":" + event.ExternalPaymentID
	}
	return s.invoices.Insert(ctx, tx, &invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		TenantID:       subscription.TenantID,
		SubscriptionID: subscription.ID,
		ExternalRef:    externalRef,
		Amount:         event.Amount,
		Currency:       event.Currency,
		Status:         invoicedomain.InvoiceStatusPaid,
		PaidAt:         &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func targetStatus(event *paymentdomain.PaymentEvent) (subscriptiondomain.Status, bool) {
	switch event.Status {
	case paymentdomain.StatusActive:
		return subscriptiondomain.StatusActive, true
	case paymentdomain.StatusPaused:
		return subscriptiondomain.StatusPaused, true
	case paymentdomain.StatusCanceled:
		return subscriptiondomain.StatusCanceled, true
	case paymentdomain.StatusPastDue:
		return subscriptiondomain.StatusPastDue, true
	default:
		return "", false
	}
}

// externalEventKey prefixes the gateway so two gateways can never
// collide on event ids in the audit backstop.
func externalEventKey(event *paymentdomain.PaymentEvent) string {
	return event.Gateway.String() + ":" + event.ExternalEventID
}
