// Package domain contains the idempotent payment ledger. The invoice's
// status is a pure function of the entries recorded here.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/payrail/internal/invoice/domain"
	"gorm.io/gorm"
)

// PaymentTransaction is a durable record of one gateway-confirmed payment
// event. Entries are created exactly once and never updated or deleted.
// (invoice_id, transaction_ref) is the idempotency key: the store's unique
// index is the sole arbiter under concurrent duplicate delivery.
type PaymentTransaction struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	InvoiceID      snowflake.ID `gorm:"not null;index;uniqueIndex:ux_payment_transactions_invoice_ref,priority:1"`
	TransactionRef string       `gorm:"type:text;not null;uniqueIndex:ux_payment_transactions_invoice_ref,priority:2"`
	Gateway        string       `gorm:"type:text;not null"`
	AmountPaid     int64        `gorm:"not null"`
	Currency       string       `gorm:"type:text;not null"`
	ReceivedAt     time.Time    `gorm:"not null"`
	// Checksum is the raw-event digest kept for dedup audits.
	Checksum  string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentTransaction) TableName() string { return "payment_transactions" }

// PaymentEvent is the canonical payment event handed to the ledger.
type PaymentEvent struct {
	InvoiceID      snowflake.ID
	TransactionRef string
	Gateway        string
	Amount         int64
	Currency       string
	ReceivedAt     time.Time
	Checksum       string
}

// ApplyResult reports the deterministic outcome of one delivery.
type ApplyResult struct {
	InvoiceID      snowflake.ID                `json:"invoice_id"`
	TransactionRef string                      `json:"transaction_ref"`
	Status         invoicedomain.InvoiceStatus `json:"status"`
	PaidTotal      int64                       `json:"paid_total"`
	// Duplicate means the entry already existed; the call succeeded with
	// the previously computed effect.
	Duplicate bool `json:"duplicate"`
	// Overpaid flags a ledger total exceeding the invoice total. The
	// entry is still recorded; resolution is an operator decision.
	Overpaid       bool  `json:"overpaid"`
	OverpaidAmount int64 `json:"overpaid_amount,omitempty"`
}

type Service interface {
	// ApplyEvent records the event exactly once and drives the invoice
	// state machine. Redelivery returns the prior outcome as success.
	ApplyEvent(ctx context.Context, event PaymentEvent) (*ApplyResult, error)
	ListTransactions(ctx context.Context, invoiceID snowflake.ID) ([]PaymentTransaction, error)
}

type Repository interface {
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *PaymentTransaction) (bool, error)
	FindTransaction(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, transactionRef string) (*PaymentTransaction, error)
	SumPaid(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (int64, error)
	ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]PaymentTransaction, error)
}
