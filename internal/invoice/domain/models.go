// Package domain contains the invoice rows webhook payments settle.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type InvoiceStatus string

const (
	InvoiceStatusOpen InvoiceStatus = "open"
	InvoiceStatusPaid InvoiceStatus = "paid"
	InvoiceStatusVoid InvoiceStatus = "void"
)

// Invoice is a charge against one subscription period. ExternalRef is
// the reference embedded in the original checkout request; gateways echo
// it back in payment events.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	TenantID       snowflake.ID  `gorm:"not null;index"`
	SubscriptionID snowflake.ID  `gorm:"not null;index"`
	ExternalRef    string        `gorm:"type:text;not null;uniqueIndex"`
	Amount         int64         `gorm:"not null"`
	Currency       string        `gorm:"type:text;not null"`
	Status         InvoiceStatus `gorm:"type:text;not null"`
	PaidAt         *time.Time    `gorm:""`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

var (
	ErrInvoiceNotFound = errors.New("invoice_not_found")
)
