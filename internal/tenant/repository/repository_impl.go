package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/bwmarrin/snowflake"
	"github.com/croftlabs/croft/internal/tenant/domain"
	"gorm.io/gorm"
)

// schemaNamePattern is the shape of a DB-safe schema identifier. Enforced
// here as the last line of defense before names reach DDL strings.
var schemaNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, tenant *domain.Tenant) error {
	return tx.WithContext(ctx).Create(tenant).Error
}

func (r *repo) Update(ctx context.Context, tx *gorm.DB, tenant *domain.Tenant) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE tenants
		 SET display_name = ?, payer_email = ?, paid_until = ?, on_trial = ?, updated_at = ?
		 WHERE id = ?`,
		tenant.DisplayName,
		tenant.PayerEmail,
		tenant.PaidUntil,
		tenant.OnTrial,
		tenant.UpdatedAt,
		tenant.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	return tx.WithContext(ctx).Exec(`DELETE FROM tenants WHERE id = ?`, tenantID).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := tx.WithContext(ctx).Where("id = ?", tenantID).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) FindBySchemaName(ctx context.Context, tx *gorm.DB, schemaName string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := tx.WithContext(ctx).Where("schema_name = ?", schemaName).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) ListAll(ctx context.Context, tx *gorm.DB) ([]domain.Tenant, error) {
	var tenants []domain.Tenant
	if err := tx.WithContext(ctx).Order("created_at asc").Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *repo) SchemaNameTaken(ctx context.Context, tx *gorm.DB, schemaName string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT (SELECT COUNT(1) FROM tenants WHERE schema_name = ?)
		      + (SELECT COUNT(1) FROM schema_tombstones WHERE schema_name = ?)`,
		schemaName,
		schemaName,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ReserveSchemaName(ctx context.Context, tx *gorm.DB, schemaName string) error {
	return tx.WithContext(ctx).Create(&domain.SchemaTombstone{SchemaName: schemaName}).Error
}

func (r *repo) CreateSchema(ctx context.Context, tx *gorm.DB, schemaName string) error {
	if !schemaNamePattern.MatchString(schemaName) {
		return domain.ErrInvalidSchemaName
	}
	return tx.WithContext(ctx).Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, schemaName)).Error
}

func (r *repo) DropSchema(ctx context.Context, tx *gorm.DB, schemaName string) error {
	if !schemaNamePattern.MatchString(schemaName) {
		return domain.ErrInvalidSchemaName
	}
	return tx.WithContext(ctx).Exec(fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, schemaName)).Error
}

func (r *repo) InsertDomain(ctx context.Context, tx *gorm.DB, tenantDomain *domain.TenantDomain) error {
	return tx.WithContext(ctx).Create(tenantDomain).Error
}

func (r *repo) DeleteDomains(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	return tx.WithContext(ctx).Exec(`DELETE FROM tenant_domains WHERE tenant_id = ?`, tenantID).Error
}

func (r *repo) InsertUser(ctx context.Context, tx *gorm.DB, user *domain.TenantUser) error {
	return tx.WithContext(ctx).Create(user).Error
}

func (r *repo) DeleteUsers(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	return tx.WithContext(ctx).Exec(`DELETE FROM tenant_users WHERE tenant_id = ?`, tenantID).Error
}
