package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/croftlabs/croft/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return tx.WithContext(ctx).Create(subscription).Error
}

func (r *repo) Update(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET plan_id = ?, status = ?, billing_cycle = ?, current_period_start = ?, current_period_end = ?,
		     trial_end = ?, cancel_at_period_end = ?, canceled_at = ?, gateway = ?, external_id = ?,
		     auto_renew = ?, updated_at = ?
		 WHERE id = ?`,
		subscription.PlanID,
		subscription.Status,
		subscription.BillingCycle,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.TrialEnd,
		subscription.CancelAtPeriodEnd,
		subscription.CanceledAt,
		subscription.Gateway,
		subscription.ExternalID,
		subscription.AutoRenew,
		subscription.UpdatedAt,
		subscription.ID,
	).Error
}

func (r *repo) DeleteByTenantID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	return tx.WithContext(ctx).Exec(`DELETE FROM subscriptions WHERE tenant_id = ?`, tenantID).Error
}

func (r *repo) FindByTenantID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, tx, "tenant_id = ?", tenantID)
}

func (r *repo) FindByTenantIDForUpdate(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOneLocked(ctx, tx, "tenant_id = ?", tenantID)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOneLocked(ctx, tx, "id = ?", id)
}

func (r *repo) FindByExternalIDForUpdate(ctx context.Context, tx *gorm.DB, gateway, externalID string) (*subscriptiondomain.Subscription, error) {
	return r.findOneLocked(ctx, tx, "gateway = ? AND external_id = ?", gateway, externalID)
}

func (r *repo) ListNonTerminal(ctx context.Context, tx *gorm.DB) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := tx.WithContext(ctx).
		Where("status NOT IN ?", []subscriptiondomain.Status{
			subscriptiondomain.StatusCanceled,
			subscriptiondomain.StatusExpired,
		}).
		Order("created_at asc").
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) FindLiveByPayerEmail(ctx context.Context, tx *gorm.DB, payerEmail string) (*subscriptiondomain.LiveAccount, error) {
	var row subscriptiondomain.LiveAccount
	err := tx.WithContext(ctx).Raw(
		`SELECT t.id AS tenant_id, t.schema_name, s.status
		 FROM tenants t
		 JOIN subscriptions s ON s.tenant_id = t.id
		 WHERE t.payer_email = ? AND s.status IN (?, ?)
		 LIMIT 1`,
		payerEmail,
		subscriptiondomain.StatusActive,
		subscriptiondomain.StatusTrialing,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.TenantID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) findOne(ctx context.Context, tx *gorm.DB, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := tx.WithContext(ctx).Where(query, args...).First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) findOneLocked(ctx context.Context, tx *gorm.DB, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(query, args...).
		First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}
