package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrail/internal/installment"
	"gorm.io/gorm"
)

// Service owns every legal invoice transition. The webhook reconciler and
// the expiration sweeper both go through it.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*InvoiceDetail, error)
	Get(ctx context.Context, id snowflake.ID) (*InvoiceDetail, error)
	GetByExternalID(ctx context.Context, externalID string) (*InvoiceDetail, error)

	// GetForUpdateTx locks the invoice row for the rest of the caller's
	// transaction. Money-state writers must take this lock before reading
	// the ledger so concurrent deliveries serialize their sums.
	GetForUpdateTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Invoice, error)

	// UpdateDraft changes line items or expiration on a not-yet-initiated
	// invoice and recomputes totals. Fails with ErrInvoiceImmutable once
	// payment_initiated_at is set.
	UpdateDraft(ctx context.Context, id snowflake.ID, change DraftChange) (*InvoiceDetail, error)

	// InitiatePayment marks the first payment attempt. Write-once;
	// repeated calls are no-ops returning the current state.
	InitiatePayment(ctx context.Context, id snowflake.ID, at time.Time) (*Invoice, error)

	// RecordPaymentTx applies a cumulative paid total inside the caller's
	// transaction, settling installments and recomputing status. The
	// returned flag reports an overpayment.
	RecordPaymentTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, paidTotal int64, receivedAt time.Time) (*Invoice, bool, error)

	// Expire transitions an unpaid, past-due invoice to expired.
	// Idempotent on already-expired invoices; rejected with
	// ErrInvalidTransition once any payment has been applied.
	Expire(ctx context.Context, id snowflake.ID, now time.Time) (*Invoice, error)

	// ListExpirable returns ids of invoices the sweeper should expire.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]snowflake.ID, error)
}

type ItemInput struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
}

type InstallmentTerms struct {
	Count        int        `json:"count"`
	IntervalDays int        `json:"interval_days"`
	FirstDueAt   *time.Time `json:"first_due_at,omitempty"`
}

type CreateRequest struct {
	ExternalID   string            `json:"external_id"`
	Currency     string            `json:"currency"`
	Items        []ItemInput       `json:"items"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Installments *InstallmentTerms `json:"installments,omitempty"`
}

type DraftChange struct {
	Items     []ItemInput `json:"items,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

type InvoiceDetail struct {
	Invoice      Invoice
	Items        []InvoiceItem
	Installments []installment.Installment
}
