package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/croftlabs/croft/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct{}

func Provide() domain.Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) error {
	return tx.WithContext(ctx).Create(invoice).Error
}

func (r *Repository) Update(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, paid_at = ?, amount = ?, currency = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		invoice.Status, invoice.PaidAt, invoice.Amount, invoice.Currency, invoice.ID,
	).Error
}

func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := tx.WithContext(ctx).
		Where("id = ?", id).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// FindByExternalRefForUpdate row-locks the invoice so concurrent webhook
// deliveries for one payment serialize on it.
func (r *Repository) FindByExternalRefForUpdate(ctx context.Context, tx *gorm.DB, externalRef string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_ref = ?", externalRef).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *Repository) ListByTenantID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := tx.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *Repository) DeleteByTenantID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	return tx.WithContext(ctx).Exec(`DELETE FROM invoices WHERE tenant_id = ?`, tenantID).Error
}
