// Package reconciliation runs the periodic sweep that applies
// time-based subscription transitions: lapsed trials are torn down,
// overdue paid accounts move to past_due and then expire, and deferred
// cancellations land at period end.
package reconciliation

import (
	"context"
	"sync"
	"time"

	"github.com/croftlabs/croft/internal/clock"
	"github.com/croftlabs/croft/internal/config"
	"github.com/croftlabs/croft/internal/observability/metrics"
	provisioningdomain "github.com/croftlabs/croft/internal/provisioning/domain"
	"github.com/croftlabs/croft/internal/ratelimit"
	subscriptiondomain "github.com/croftlabs/croft/internal/subscription/domain"
	tenantdomain "github.com/croftlabs/croft/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const runLockKey = "croft:reconciliation:run"

// Result aggregates one sweep. Per-tenant errors are counted, not
// propagated: one broken tenant never aborts the batch.
type Result struct {
	Checked       int
	Deleted       int
	Deactivated   int
	MarkedPastDue int
	Canceled      int
	Errors        int
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         config.Config
	Clock       clock.Clock
	Subs        subscriptiondomain.Repository
	Subsvc      subscriptiondomain.Service
	Tenants     tenantdomain.Repository
	Provisioner provisioningdomain.Service
	Locker      *ratelimit.Locker `optional:"true"`
	JobConfig   Config            `optional:"true"`
}

type Job struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	appCfg      config.Config
	clock       clock.Clock
	subs        subscriptiondomain.Repository
	subsvc      subscriptiondomain.Service
	tenants     tenantdomain.Repository
	provisioner provisioningdomain.Service
	locker      *ratelimit.Locker

	// Serializes runs within one process; the redis lock serializes
	// across processes when configured.
	running sync.Mutex
}

func New(p Params) *Job {
	return &Job{
		db:          p.DB,
		log:         p.Log.Named("reconciliation"),
		cfg:         p.JobConfig.withDefaults(),
		appCfg:      p.Cfg,
		clock:       p.Clock,
		subs:        p.Subs,
		subsvc:      p.Subsvc,
		tenants:     p.Tenants,
		provisioner: p.Provisioner,
		locker:      p.Locker,
	}
}

// RunForever ticks until the context ends. A run that cannot take the
// cross-process lock is skipped, not queued.
func (j *Job) RunForever(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.RunInterval)
	defer ticker.Stop()

	for {
		j.runLocked(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (j *Job) runLocked(ctx context.Context) {
	if j.locker != nil {
		token, ok, err := j.locker.TryLock(ctx, runLockKey, j.cfg.LockTTL)
		if err != nil {
			j.log.Warn("run lock unavailable, falling back to in-process guard", zap.Error(err))
		} else if !ok {
			j.log.Info("sweep already running elsewhere, skipping")
			return
		} else {
			defer func() {
				if err := j.locker.Unlock(ctx, runLockKey, token); err != nil {
					j.log.Warn("run lock release failed", zap.Error(err))
				}
			}()
		}
	}

	result, err := j.RunOnce(ctx, false)
	if err != nil {
		j.log.Error("sweep failed", zap.Error(err))
		return
	}
	j.log.Info("sweep finished",
		zap.Int("checked", result.Checked),
		zap.Int("deleted", result.Deleted),
		zap.Int("deactivated", result.Deactivated),
		zap.Int("marked_past_due", result.MarkedPastDue),
		zap.Int("canceled", result.Canceled),
		zap.Int("errors", result.Errors),
	)
}

// RunOnce evaluates every non-terminal subscription against the state
// machine's time-based rules. With dryRun the decisions are counted but
// nothing is applied.
func (j *Job) RunOnce(ctx context.Context, dryRun bool) (Result, error) {
	j.running.Lock()
	defer j.running.Unlock()

	start := time.Now()
	m := metrics.Billing()
	m.SweepRuns.Inc()
	defer m.ObserveSweep(start)

	subscriptions, err := j.subs.ListNonTerminal(ctx, j.db)
	if err != nil {
		return Result{}, err
	}

	now := j.clock.Now()
	var result Result
	for i := range subscriptions {
		subscription := &subscriptions[i]

		tenant, err := j.tenants.FindByID(ctx, j.db, subscription.TenantID)
		if err != nil {
			j.recordError(&result, subscription, err)
			continue
		}
		if tenant == nil {
			continue
		}
		// The platform's own workspace is never swept.
		if tenant.SchemaName == j.appCfg.PlatformSchema {
			continue
		}

		result.Checked++
		if err := j.reconcileOne(ctx, subscription, now, dryRun, &result); err != nil {
			j.recordError(&result, subscription, err)
		}
	}
	return result, nil
}

func (j *Job) reconcileOne(
	ctx context.Context,
	subscription *subscriptiondomain.Subscription,
	now time.Time,
	dryRun bool,
	result *Result,
) error {
	// Deferred cancellation lands at period end regardless of status.
	// Counters increment only once the action has applied; a dry run
	// counts the decision itself.
	if subscription.CancelAtPeriodEnd && now.After(subscription.CurrentPeriodEnd) {
		if !dryRun {
			if err := j.subsvc.Transition(ctx, subscription.ID, subscriptiondomain.StatusCanceled, subscriptiondomain.ReasonCancelRequest); err != nil {
				return err
			}
		}
		result.Canceled++
		metrics.Billing().SweepTransitions.WithLabelValues("canceled").Inc()
		return nil
	}

	switch subscription.Status {
	case subscriptiondomain.StatusTrialing:
		if subscription.TrialEnd == nil || now.Before(*subscription.TrialEnd) {
			return nil
		}
		// Trial lapsed without conversion: the whole tenant goes.
		if !dryRun {
			if err := j.provisioner.DeleteTenant(ctx, subscription.TenantID, string(subscriptiondomain.ReasonTrialLapsed)); err != nil {
				return err
			}
		}
		result.Deleted++
		metrics.Billing().SweepTransitions.WithLabelValues("trial_deleted").Inc()
		return nil

	case subscriptiondomain.StatusActive, subscriptiondomain.StatusPastDue:
		overdue := now.Sub(subscription.CurrentPeriodEnd)
		if overdue <= 0 {
			return nil
		}
		if overdue > j.cfg.OverdueGrace {
			// Data is kept; only the subscription expires.
			if !dryRun {
				if _, err := j.provisioner.DeactivateTenant(ctx, subscription.TenantID, string(subscriptiondomain.ReasonOverdue)); err != nil {
					return err
				}
			}
			result.Deactivated++
			metrics.Billing().SweepTransitions.WithLabelValues("deactivated").Inc()
			return nil
		}
		if subscription.Status == subscriptiondomain.StatusActive {
			if !dryRun {
				if err := j.subsvc.Transition(ctx, subscription.ID, subscriptiondomain.StatusPastDue, subscriptiondomain.ReasonOverdue); err != nil {
					return err
				}
			}
			result.MarkedPastDue++
			metrics.Billing().SweepTransitions.WithLabelValues("past_due").Inc()
		}
		return nil

	default:
		return nil
	}
}

func (j *Job) recordError(result *Result, subscription *subscriptiondomain.Subscription, err error) {
	result.Errors++
	metrics.Billing().SweepErrors.Inc()
	j.log.Warn("tenant reconciliation failed",
		zap.String("tenant_id", subscription.TenantID.String()),
		zap.String("subscription_id", subscription.ID.String()),
		zap.Error(err),
	)
}
