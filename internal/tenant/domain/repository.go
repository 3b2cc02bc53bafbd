package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

//go:generate mockgen -source=repository.go -destination=./mocks/mock_repository.go -package=mocks
type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, tenant *Tenant) error
	Update(ctx context.Context, tx *gorm.DB, tenant *Tenant) error
	Delete(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error
	FindByID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*Tenant, error)
	FindBySchemaName(ctx context.Context, tx *gorm.DB, schemaName string) (*Tenant, error)
	ListAll(ctx context.Context, tx *gorm.DB) ([]Tenant, error)

	// SchemaNameTaken consults live tenants and tombstones.
	SchemaNameTaken(ctx context.Context, tx *gorm.DB, schemaName string) (bool, error)
	ReserveSchemaName(ctx context.Context, tx *gorm.DB, schemaName string) error

	CreateSchema(ctx context.Context, tx *gorm.DB, schemaName string) error
	DropSchema(ctx context.Context, tx *gorm.DB, schemaName string) error

	InsertDomain(ctx context.Context, tx *gorm.DB, domain *TenantDomain) error
	DeleteDomains(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error

	InsertUser(ctx context.Context, tx *gorm.DB, user *TenantUser) error
	DeleteUsers(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error
}
