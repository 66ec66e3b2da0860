package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrail/internal/clock"
	"github.com/smallbiznis/payrail/internal/installment"
	invoicedomain "github.com/smallbiznis/payrail/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/payrail/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/payrail/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	InvoiceSvc invoicedomain.Service
	Repo       ledgerdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
	repo       ledgerdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ApplyEvent(ctx context.Context, event ledgerdomain.PaymentEvent) (*ledgerdomain.ApplyResult, error) {
	event.TransactionRef = strings.TrimSpace(event.TransactionRef)
	if event.TransactionRef == "" {
		return nil, ledgerdomain.ErrInvalidTransactionRef
	}
	if event.InvoiceID == 0 {
		return nil, ledgerdomain.ErrInvalidEvent
	}
	if event.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = s.clock.Now()
	}
	event.ReceivedAt = event.ReceivedAt.UTC()
	event.Currency = strings.ToUpper(strings.TrimSpace(event.Currency))

	var result *ledgerdomain.ApplyResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the invoice row for the whole unit of work. Two deliveries
		// with distinct refs otherwise each sum the ledger before the
		// other commits and write a status from a partial total.
		inv, err := s.invoiceSvc.GetForUpdateTx(ctx, tx, event.InvoiceID)
		if err != nil {
			return err
		}
		if event.Currency != "" && event.Currency != inv.Currency {
			return ledgerdomain.ErrCurrencyMismatch
		}
		if inv.Status == invoicedomain.InvoiceStatusExpired {
			return invoicedomain.ErrInvoiceExpired
		}

		txn := ledgerdomain.PaymentTransaction{
			ID:             s.genID.Generate(),
			InvoiceID:      event.InvoiceID,
			TransactionRef: event.TransactionRef,
			Gateway:        strings.ToLower(strings.TrimSpace(event.Gateway)),
			AmountPaid:     event.Amount,
			Currency:       inv.Currency,
			ReceivedAt:     event.ReceivedAt,
			Checksum:       event.Checksum,
			CreatedAt:      s.clock.Now(),
		}

		inserted, err := s.repo.InsertTransaction(ctx, tx, &txn)
		if err != nil {
			return err
		}

		paidTotal, err := s.repo.SumPaid(ctx, tx, event.InvoiceID)
		if err != nil {
			return err
		}

		if !inserted {
			// Redelivery. The effect is already durable; report the prior
			// outcome as success.
			existing, err := s.repo.FindTransaction(ctx, tx, event.InvoiceID, event.TransactionRef)
			if err != nil {
				return err
			}
			if existing == nil {
				return ledgerdomain.ErrInvalidEvent
			}
			result = &ledgerdomain.ApplyResult{
				InvoiceID:      inv.ID,
				TransactionRef: event.TransactionRef,
				Status:         inv.Status,
				PaidTotal:      paidTotal,
				Duplicate:      true,
				Overpaid:       paidTotal > inv.TotalAmount,
				OverpaidAmount: overAmount(paidTotal, inv.TotalAmount),
			}
			return nil
		}

		overAlloc, err := s.settleInstallments(ctx, tx, event.InvoiceID, event.Amount)
		if err != nil {
			return err
		}

		updated, overTotal, err := s.invoiceSvc.RecordPaymentTx(ctx, tx, event.InvoiceID, paidTotal, event.ReceivedAt)
		if err != nil {
			return err
		}

		result = &ledgerdomain.ApplyResult{
			InvoiceID:      updated.ID,
			TransactionRef: event.TransactionRef,
			Status:         updated.Status,
			PaidTotal:      paidTotal,
			Overpaid:       overAlloc || overTotal,
			OverpaidAmount: overAmount(paidTotal, updated.TotalAmount),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Overpaid {
		s.log.Warn("overpayment recorded, pending operator review",
			zap.String("invoice_id", result.InvoiceID.String()),
			zap.String("transaction_ref", result.TransactionRef),
			zap.Int64("paid_total", result.PaidTotal),
			zap.Int64("overpaid_amount", result.OverpaidAmount),
		)
	}
	if s.obsMetrics != nil {
		outcome := obsmetrics.WebhookOutcomeApplied
		if result.Duplicate {
			outcome = obsmetrics.WebhookOutcomeDuplicate
		}
		s.obsMetrics.RecordWebhookOutcome(event.Gateway, outcome)
	}
	return result, nil
}

// settleInstallments allocates one event amount oldest-due-first. Amount
// beyond the schedule's remainder is reported as overpayment, never
// allocated past an installment's full amount.
func (s *Service) settleInstallments(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, amount int64) (bool, error) {
	var schedule []installment.Installment
	err := tx.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("sequence ASC").
		Find(&schedule).Error
	if err != nil {
		return false, err
	}
	if len(schedule) == 0 {
		return false, nil
	}

	overpaid := false
	if err := installment.ApplyPayment(schedule, amount); err != nil {
		if !errors.Is(err, installment.ErrScheduleExhausted) {
			return false, err
		}
		overpaid = true
		if remaining := installment.Remaining(schedule); remaining > 0 {
			if err := installment.ApplyPayment(schedule, remaining); err != nil {
				return false, err
			}
		}
	}

	now := s.clock.Now()
	for i := range schedule {
		schedule[i].UpdatedAt = now
		if err := tx.WithContext(ctx).Save(&schedule[i]).Error; err != nil {
			return false, err
		}
	}
	return overpaid, nil
}

func (s *Service) ListTransactions(ctx context.Context, invoiceID snowflake.ID) ([]ledgerdomain.PaymentTransaction, error) {
	return s.repo.ListByInvoice(ctx, s.db, invoiceID)
}

func overAmount(paidTotal, totalAmount int64) int64 {
	if paidTotal > totalAmount {
		return paidTotal - totalAmount
	}
	return 0
}
