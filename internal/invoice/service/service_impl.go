package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrail/internal/clock"
	"github.com/smallbiznis/payrail/internal/config"
	gatewaydomain "github.com/smallbiznis/payrail/internal/gateway/domain"
	"github.com/smallbiznis/payrail/internal/installment"
	invoicedomain "github.com/smallbiznis/payrail/internal/invoice/domain"
	taxdomain "github.com/smallbiznis/payrail/internal/tax/domain"
	taxservice "github.com/smallbiznis/payrail/internal/tax/service"
	"github.com/smallbiznis/payrail/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.Config
	GatewaySvc  gatewaydomain.Service
	TaxResolver taxdomain.TaxResolver
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.Config
	gatewaySvc  gatewaydomain.Service
	taxResolver taxdomain.TaxResolver
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoice.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Cfg,
		gatewaySvc:  p.GatewaySvc,
		taxResolver: p.TaxResolver,
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateRequest) (*invoicedomain.InvoiceDetail, error) {
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		return nil, invoicedomain.ErrInvalidExternalID
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, invoicedomain.ErrInvalidCurrency
	}
	items, subtotal, err := s.buildItems(req.Items)
	if err != nil {
		return nil, err
	}

	gw, err := s.gatewaySvc.Select(s.cfg.GatewayEnvironment, currency)
	if err != nil {
		return nil, err
	}

	fee := gw.ServiceFee(subtotal)
	taxDef, err := s.taxResolver.ResolveForInvoice(ctx)
	if err != nil {
		return nil, err
	}
	var taxAmount int64
	if taxDef != nil {
		taxAmount = taxservice.ComputeTaxExclusive(subtotal, taxDef.Rate)
	}
	total := subtotal + fee + taxAmount

	now := s.clock.Now()
	expiresAt := now.Add(invoicedomain.DefaultExpirationWindow)
	if req.ExpiresAt != nil {
		expiresAt = req.ExpiresAt.UTC()
	}

	var schedule []installment.Installment
	if req.Installments != nil {
		schedule, err = s.buildSchedule(total, now, expiresAt, *req.Installments)
		if err != nil {
			return nil, err
		}
	}
	var lastDue *time.Time
	if len(schedule) > 0 {
		due := installment.LastDue(schedule)
		lastDue = &due
	}
	if err := invoicedomain.ValidateExpiration(now, expiresAt, now, lastDue); err != nil {
		return nil, err
	}

	inv := invoicedomain.Invoice{
		ID:          s.genID.Generate(),
		ExternalID:  externalID,
		Currency:    currency,
		Gateway:     gw.Name,
		Status:      invoicedomain.InvoiceStatusCreated,
		Subtotal:    subtotal,
		ServiceFee:  fee,
		Tax:         taxAmount,
		TotalAmount: total,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   expiresAt,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&inv).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].ID = s.genID.Generate()
			items[i].InvoiceID = inv.ID
			items[i].CreatedAt = now
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}
		for i := range schedule {
			schedule[i].ID = s.genID.Generate()
			schedule[i].InvoiceID = inv.ID
			schedule[i].CreatedAt = now
			schedule[i].UpdatedAt = now
		}
		if len(schedule) > 0 {
			if err := tx.Create(&schedule).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// The external id is the creation idempotency key: a retry returns
		// the invoice the first attempt committed.
		if db.IsDuplicateKeyErr(err) {
			return s.GetByExternalID(ctx, externalID)
		}
		return nil, err
	}

	s.log.Info("invoice created",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("external_id", externalID),
		zap.String("gateway", gw.Name),
		zap.String("currency", currency),
		zap.Int64("total_amount", total),
	)

	return &invoicedomain.InvoiceDetail{Invoice: inv, Items: items, Installments: schedule}, nil
}

func (s *Service) buildItems(inputs []invoicedomain.ItemInput) ([]invoicedomain.InvoiceItem, int64, error) {
	if len(inputs) == 0 {
		return nil, 0, invoicedomain.ErrInvalidItems
	}
	items := make([]invoicedomain.InvoiceItem, 0, len(inputs))
	var subtotal int64
	for _, in := range inputs {
		if in.Quantity <= 0 || in.UnitAmount <= 0 {
			return nil, 0, invoicedomain.ErrInvalidItems
		}
		amount := in.Quantity * in.UnitAmount
		subtotal += amount
		items = append(items, invoicedomain.InvoiceItem{
			Description: strings.TrimSpace(in.Description),
			Quantity:    in.Quantity,
			UnitAmount:  in.UnitAmount,
			Amount:      amount,
		})
	}
	return items, subtotal, nil
}

func (s *Service) buildSchedule(total int64, now, expiresAt time.Time, terms invoicedomain.InstallmentTerms) ([]installment.Installment, error) {
	if terms.IntervalDays <= 0 {
		return nil, installment.ErrInvalidInterval
	}
	interval := time.Duration(terms.IntervalDays) * 24 * time.Hour
	firstDue := now.Add(interval)
	if terms.FirstDueAt != nil {
		firstDue = terms.FirstDueAt.UTC()
	}
	return installment.BuildSchedule(total, terms.Count, firstDue, interval)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.InvoiceDetail, error) {
	return s.loadDetail(ctx, s.db, &invoicedomain.Invoice{ID: id})
}

// GetForUpdateTx locks the invoice row until tx commits. Tests on sqlite
// strip the FOR UPDATE clause; sqlite's single writer serializes anyway.
func (s *Service) GetForUpdateTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var inv invoicedomain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT id, external_id, currency, gateway, status,
		        subtotal, service_fee, tax, total_amount,
		        created_at, updated_at, expires_at, payment_initiated_at
		 FROM invoices
		 WHERE id = ?
		 FOR UPDATE`,
		id,
	).Scan(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, invoicedomain.ErrNotFound
	}
	return &inv, nil
}

func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*invoicedomain.InvoiceDetail, error) {
	return s.loadDetail(ctx, s.db, &invoicedomain.Invoice{ExternalID: strings.TrimSpace(externalID)})
}

func (s *Service) loadDetail(ctx context.Context, tx *gorm.DB, filter *invoicedomain.Invoice) (*invoicedomain.InvoiceDetail, error) {
	var inv invoicedomain.Invoice
	err := tx.WithContext(ctx).Where(filter).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoicedomain.ErrNotFound
		}
		return nil, err
	}

	var items []invoicedomain.InvoiceItem
	if err := tx.WithContext(ctx).Where("invoice_id = ?", inv.ID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	schedule, err := s.loadSchedule(ctx, tx, inv.ID)
	if err != nil {
		return nil, err
	}
	return &invoicedomain.InvoiceDetail{Invoice: inv, Items: items, Installments: schedule}, nil
}

func (s *Service) loadSchedule(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) ([]installment.Installment, error) {
	var schedule []installment.Installment
	err := tx.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("sequence ASC").
		Find(&schedule).Error
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

func (s *Service) UpdateDraft(ctx context.Context, id snowflake.ID, change invoicedomain.DraftChange) (*invoicedomain.InvoiceDetail, error) {
	var detail *invoicedomain.InvoiceDetail
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Hold the row lock so a payment landing mid-update cannot have
		// its status overwritten by this snapshot.
		if _, err := s.GetForUpdateTx(ctx, tx, id); err != nil {
			return err
		}
		current, err := s.loadDetail(ctx, tx, &invoicedomain.Invoice{ID: id})
		if err != nil {
			return err
		}
		inv := current.Invoice
		if inv.Immutable() {
			return invoicedomain.ErrInvoiceImmutable
		}
		if inv.Status == invoicedomain.InvoiceStatusExpired {
			return invoicedomain.ErrInvoiceExpired
		}

		now := s.clock.Now()
		items := current.Items
		subtotal := inv.Subtotal
		if len(change.Items) > 0 {
			items, subtotal, err = s.buildItems(change.Items)
			if err != nil {
				return err
			}
		}

		gw, err := s.gatewaySvc.Get(inv.Gateway)
		if err != nil {
			return err
		}
		fee := gw.ServiceFee(subtotal)
		taxDef, err := s.taxResolver.ResolveForInvoice(ctx)
		if err != nil {
			return err
		}
		var taxAmount int64
		if taxDef != nil {
			taxAmount = taxservice.ComputeTaxExclusive(subtotal, taxDef.Rate)
		}
		total := subtotal + fee + taxAmount

		expiresAt := inv.ExpiresAt
		if change.ExpiresAt != nil {
			expiresAt = change.ExpiresAt.UTC()
		}
		schedule := current.Installments
		if len(schedule) > 0 && total != inv.TotalAmount {
			schedule = rebuildAmounts(schedule, total)
		}
		var lastDue *time.Time
		if len(schedule) > 0 {
			due := installment.LastDue(schedule)
			lastDue = &due
		}
		if err := invoicedomain.ValidateExpiration(inv.CreatedAt, expiresAt, now, lastDue); err != nil {
			return err
		}

		inv.Subtotal = subtotal
		inv.ServiceFee = fee
		inv.Tax = taxAmount
		inv.TotalAmount = total
		inv.ExpiresAt = expiresAt
		inv.UpdatedAt = now
		if err := tx.Save(&inv).Error; err != nil {
			return err
		}

		if len(change.Items) > 0 {
			if err := tx.Where("invoice_id = ?", inv.ID).Delete(&invoicedomain.InvoiceItem{}).Error; err != nil {
				return err
			}
			for i := range items {
				items[i].ID = s.genID.Generate()
				items[i].InvoiceID = inv.ID
				items[i].CreatedAt = now
			}
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}
		for i := range schedule {
			schedule[i].UpdatedAt = now
			if err := tx.Save(&schedule[i]).Error; err != nil {
				return err
			}
		}

		detail = &invoicedomain.InvoiceDetail{Invoice: inv, Items: items, Installments: schedule}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// rebuildAmounts redistributes a new total across an existing schedule,
// keeping sequence and due dates. Only callable before any payment.
func rebuildAmounts(schedule []installment.Installment, total int64) []installment.Installment {
	count := int64(len(schedule))
	base := total / count
	var allocated int64
	for i := range schedule {
		amount := base
		if int64(i) == count-1 {
			amount = total - allocated
		}
		allocated += amount
		schedule[i].Amount = amount
	}
	return schedule
}

func (s *Service) InitiatePayment(ctx context.Context, id snowflake.ID, at time.Time) (*invoicedomain.Invoice, error) {
	at = at.UTC()
	var out invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv invoicedomain.Invoice
		if err := tx.Where("id = ?", id).First(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invoicedomain.ErrNotFound
			}
			return err
		}
		if inv.Status == invoicedomain.InvoiceStatusExpired {
			return invoicedomain.ErrInvoiceExpired
		}
		if inv.PaymentInitiatedAt != nil {
			out = inv
			return nil
		}

		res := tx.Exec(
			`UPDATE invoices
			 SET payment_initiated_at = ?, status = ?, updated_at = ?
			 WHERE id = ? AND payment_initiated_at IS NULL AND status = ?`,
			at,
			invoicedomain.InvoiceStatusPaymentInitiated,
			s.clock.Now(),
			id,
			invoicedomain.InvoiceStatusCreated,
		)
		if res.Error != nil {
			return res.Error
		}
		return tx.Where("id = ?", id).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) RecordPaymentTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, paidTotal int64, receivedAt time.Time) (*invoicedomain.Invoice, bool, error) {
	inv, err := s.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if inv.Status == invoicedomain.InvoiceStatusExpired {
		return nil, false, invoicedomain.ErrInvoiceExpired
	}

	receivedAt = receivedAt.UTC()
	if inv.PaymentInitiatedAt == nil {
		inv.PaymentInitiatedAt = &receivedAt
	}

	status, overpaid := invoicedomain.StatusForPaidTotal(inv.TotalAmount, paidTotal)
	// Ledger rows are never deleted, so the true cumulative total only
	// grows. A total smaller than what settled the invoice is a stale
	// read and must not downgrade it.
	if inv.Status == invoicedomain.InvoiceStatusPaid {
		status = invoicedomain.InvoiceStatusPaid
	}
	inv.Status = status
	inv.UpdatedAt = s.clock.Now()

	res := tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?,
		     payment_initiated_at = COALESCE(payment_initiated_at, ?),
		     updated_at = ?
		 WHERE id = ? AND status != ?`,
		inv.Status,
		receivedAt,
		inv.UpdatedAt,
		inv.ID,
		invoicedomain.InvoiceStatusExpired,
	)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost a race against the sweeper inside another transaction.
		return nil, false, invoicedomain.ErrInvoiceExpired
	}
	return inv, overpaid, nil
}

func (s *Service) Expire(ctx context.Context, id snowflake.ID, now time.Time) (*invoicedomain.Invoice, error) {
	now = now.UTC()
	var out invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE invoices
			 SET status = ?, updated_at = ?
			 WHERE id = ? AND status IN (?, ?) AND expires_at < ?`,
			invoicedomain.InvoiceStatusExpired,
			now,
			id,
			invoicedomain.InvoiceStatusCreated,
			invoicedomain.InvoiceStatusPaymentInitiated,
			now,
		)
		if res.Error != nil {
			return res.Error
		}

		var inv invoicedomain.Invoice
		if err := tx.Where("id = ?", id).First(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invoicedomain.ErrNotFound
			}
			return err
		}

		if res.RowsAffected == 0 {
			if inv.Status == invoicedomain.InvoiceStatusExpired {
				// Expiring an expired invoice is a no-op, not an error.
				out = inv
				return nil
			}
			return invoicedomain.ErrInvalidTransition
		}

		schedule, err := s.loadSchedule(ctx, tx, id)
		if err != nil {
			return err
		}
		// Expiration requires expires_at past every due date, so this
		// flags the whole pending remainder.
		installment.MarkOverdue(schedule, now)
		for i := range schedule {
			if schedule[i].Status != installment.StatusOverdue {
				continue
			}
			schedule[i].UpdatedAt = now
			if err := tx.Save(&schedule[i]).Error; err != nil {
				return err
			}
		}

		s.log.Info("invoice expired",
			zap.String("invoice_id", inv.ID.String()),
			zap.Time("expires_at", inv.ExpiresAt),
		)
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) ListExpirable(ctx context.Context, now time.Time, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM invoices
		 WHERE status IN (?, ?) AND expires_at < ?
		 ORDER BY expires_at ASC
		 LIMIT ?`,
		invoicedomain.InvoiceStatusCreated,
		invoicedomain.InvoiceStatusPaymentInitiated,
		now.UTC(),
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
