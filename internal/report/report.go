// Package report aggregates settled revenue from the transaction ledger.
package report

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RevenueRow summarizes paid invoices for one currency and gateway pair.
type RevenueRow struct {
	Currency     string `gorm:"column:currency" json:"currency"`
	Gateway      string `gorm:"column:gateway" json:"gateway"`
	InvoiceCount int64  `gorm:"column:invoice_count" json:"invoiceCount"`
	Subtotal     int64  `gorm:"column:subtotal" json:"subtotal"`
	ServiceFee   int64  `gorm:"column:service_fee" json:"serviceFee"`
	Tax          int64  `gorm:"column:tax" json:"tax"`
	Total        int64  `gorm:"column:total" json:"total"`
}

type Filter struct {
	From     *time.Time
	To       *time.Time
	Currency string
	Gateway  string
}

type Service interface {
	Revenue(ctx context.Context, f Filter) ([]RevenueRow, error)
}

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type serviceImpl struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) Service {
	return &serviceImpl{
		db:  p.DB,
		log: p.Log.Named("report.service"),
	}
}

// Revenue reports by invoice amounts, not ledger sums, so overpaid
// invoices contribute their invoiced total rather than what was received.
func (s *serviceImpl) Revenue(ctx context.Context, f Filter) ([]RevenueRow, error) {
	query := s.db.WithContext(ctx).
		Table("invoices").
		Select(`currency, gateway,
			COUNT(*) AS invoice_count,
			COALESCE(SUM(subtotal), 0) AS subtotal,
			COALESCE(SUM(service_fee), 0) AS service_fee,
			COALESCE(SUM(tax), 0) AS tax,
			COALESCE(SUM(total_amount), 0) AS total`).
		Where("status = ?", "paid")

	if f.From != nil {
		query = query.Where("updated_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		query = query.Where("updated_at < ?", f.To.UTC())
	}
	if f.Currency != "" {
		query = query.Where("currency = ?", f.Currency)
	}
	if f.Gateway != "" {
		query = query.Where("gateway = ?", f.Gateway)
	}

	var rows []RevenueRow
	if err := query.
		Group("currency, gateway").
		Order("currency, gateway").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
