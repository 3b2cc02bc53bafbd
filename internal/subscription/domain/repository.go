package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// LiveAccount is a payer-email match against a non-terminal subscription.
type LiveAccount struct {
	TenantID   snowflake.ID
	SchemaName string
	Status     Status
}

//go:generate mockgen -source=repository.go -destination=./mocks/mock_repository.go -package=mocks
type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, subscription *Subscription) error
	Update(ctx context.Context, tx *gorm.DB, subscription *Subscription) error
	DeleteByTenantID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error
	FindByTenantID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	FindByTenantIDForUpdate(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByExternalIDForUpdate(ctx context.Context, tx *gorm.DB, gateway, externalID string) (*Subscription, error)
	ListNonTerminal(ctx context.Context, tx *gorm.DB) ([]Subscription, error)
	FindLiveByPayerEmail(ctx context.Context, tx *gorm.DB, payerEmail string) (*LiveAccount, error)
}
