// Package domain contains the tenant registry models. Tenant rows live in
// the platform schema; each tenant's own data lives in the schema named by
// SchemaName.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tenant is the identity of one customer workspace.
type Tenant struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	SchemaName  string       `gorm:"type:varchar(63);not null;uniqueIndex"`
	DisplayName string       `gorm:"type:text;not null"`
	PayerEmail  string       `gorm:"type:text;not null;index"`
	PaidUntil   time.Time    `gorm:"not null"`
	OnTrial     bool         `gorm:"not null;default:false"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// SchemaTombstone records every schema name ever assigned. Names are
// reserved forever, even after the tenant is deleted.
type SchemaTombstone struct {
	SchemaName string    `gorm:"type:varchar(63);primaryKey"`
	ReservedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SchemaTombstone) TableName() string { return "schema_tombstones" }

// TenantDomain is a routable address pointing at one tenant workspace.
type TenantDomain struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	TenantID  snowflake.ID `gorm:"not null;index"`
	Hostname  string       `gorm:"type:text;not null;uniqueIndex"`
	IsPrimary bool         `gorm:"not null;default:false"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TenantDomain) TableName() string { return "tenant_domains" }

// TenantUser is an identity scoped to one tenant workspace. Only the
// provisioning-time admin identity is managed here.
type TenantUser struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	TenantID     snowflake.ID `gorm:"not null;index"`
	Email        string       `gorm:"type:text;not null"`
	PasswordHash string       `gorm:"type:text;not null"`
	Role         string       `gorm:"type:text;not null"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TenantUser) TableName() string { return "tenant_users" }

var (
	ErrTenantNotFound    = errors.New("tenant_not_found")
	ErrSchemaNameTaken   = errors.New("schema_name_taken")
	ErrInvalidSchemaName = errors.New("invalid_schema_name")
	ErrPlatformSchema    = errors.New("platform_schema_protected")
)
