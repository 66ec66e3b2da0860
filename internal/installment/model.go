// Package installment builds and settles installment schedules for
// invoices paid in parts.
package installment

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

// Installment is one scheduled partial due-amount of an invoice total.
type Installment struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	InvoiceID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_installments_invoice_seq,priority:1"`
	Sequence  int          `gorm:"not null;uniqueIndex:ux_installments_invoice_seq,priority:2"`
	DueAt     time.Time    `gorm:"not null"`
	Amount    int64        `gorm:"not null"`
	// PaidAmount never exceeds Amount.
	PaidAmount int64     `gorm:"not null;default:0"`
	Status     Status    `gorm:"type:text;not null;default:'pending'"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Installment) TableName() string { return "installments" }

func (i Installment) Remaining() int64 {
	return i.Amount - i.PaidAmount
}
