package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

//go:generate mockgen -source=repository.go -destination=./mocks/mock_repository.go -package=mocks
type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, invoice *Invoice) error
	Update(ctx context.Context, tx *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByExternalRefForUpdate(ctx context.Context, tx *gorm.DB, externalRef string) (*Invoice, error)
	ListByTenantID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) ([]Invoice, error)
	DeleteByTenantID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error
}
