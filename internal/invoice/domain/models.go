// Package domain contains persistence models and lifecycle rules for
// invoices.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusCreated          InvoiceStatus = "created"
	InvoiceStatusPaymentInitiated InvoiceStatus = "payment_initiated"
	InvoiceStatusPartiallyPaid    InvoiceStatus = "partially_paid"
	InvoiceStatusPaid             InvoiceStatus = "paid"
	InvoiceStatusExpired          InvoiceStatus = "expired"
)

// Expiration window bounds relative to creation.
const (
	MinExpirationWindow = time.Hour
	MaxExpirationWindow = 30 * 24 * time.Hour
	// DefaultExpirationWindow applies when the creation request carries no
	// explicit expires_at.
	DefaultExpirationWindow = 24 * time.Hour
)

// Invoice is the aggregate root. Installments and payment transactions
// exist only in relation to it.
type Invoice struct {
	ID snowflake.ID `gorm:"primaryKey"`
	// ExternalID is the client-chosen idempotency key for creation.
	ExternalID string        `gorm:"type:text;not null;uniqueIndex:ux_invoices_external_id"`
	Currency   string        `gorm:"type:text;not null"`
	Gateway    string        `gorm:"type:text;not null"`
	Status     InvoiceStatus `gorm:"type:text;not null;default:'created';index"`

	Subtotal    int64 `gorm:"not null"`
	ServiceFee  int64 `gorm:"column:service_fee;not null"`
	Tax         int64 `gorm:"not null"`
	TotalAmount int64 `gorm:"not null"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ExpiresAt time.Time `gorm:"not null;index"`
	// PaymentInitiatedAt is write-once. Once set, line items and monetary
	// fields are immutable.
	PaymentInitiatedAt *time.Time `gorm:""`

	Metadata datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Immutable reports whether monetary fields may still change.
func (i Invoice) Immutable() bool { return i.PaymentInitiatedAt != nil }

// Expirable reports whether the expiration sweep may claim the invoice.
// Invoices holding any applied payment are never expired.
func (i Invoice) Expirable(now time.Time) bool {
	switch i.Status {
	case InvoiceStatusCreated, InvoiceStatusPaymentInitiated:
		return now.After(i.ExpiresAt)
	default:
		return false
	}
}

// InvoiceItem represents a line on an invoice.
type InvoiceItem struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	InvoiceID   snowflake.ID `gorm:"not null;index"`
	Description string       `gorm:"type:text"`
	Quantity    int64        `gorm:"not null"`
	UnitAmount  int64        `gorm:"not null"`
	Amount      int64        `gorm:"not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// StatusForPaidTotal derives the post-payment status from the cumulative
// ledger total. Status is a pure function of the ledger, so out-of-order
// deliveries converge. The second return reports an overpayment.
func StatusForPaidTotal(totalAmount, paidTotal int64) (InvoiceStatus, bool) {
	switch {
	case paidTotal <= 0:
		return InvoiceStatusPaymentInitiated, false
	case paidTotal < totalAmount:
		return InvoiceStatusPartiallyPaid, false
	case paidTotal == totalAmount:
		return InvoiceStatusPaid, false
	default:
		return InvoiceStatusPaid, true
	}
}

// ValidateExpiration enforces the expiration window invariants.
func ValidateExpiration(createdAt, expiresAt, now time.Time, lastInstallmentDue *time.Time) error {
	if expiresAt.Before(now) {
		return ErrPastExpiration
	}
	if expiresAt.Before(createdAt.Add(MinExpirationWindow)) {
		return ErrInvalidExpiration
	}
	if expiresAt.After(createdAt.Add(MaxExpirationWindow)) {
		return ErrInvalidExpiration
	}
	if lastInstallmentDue != nil && expiresAt.Before(*lastInstallmentDue) {
		return ErrInvalidExpiration
	}
	return nil
}
