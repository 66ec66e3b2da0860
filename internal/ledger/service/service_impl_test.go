package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/payrail/internal/clock"
	"github.com/smallbiznis/payrail/internal/config"
	gatewayservice "github.com/smallbiznis/payrail/internal/gateway/service"
	"github.com/smallbiznis/payrail/internal/installment"
	invoicedomain "github.com/smallbiznis/payrail/internal/invoice/domain"
	invoiceservice "github.com/smallbiznis/payrail/internal/invoice/service"
	ledgerdomain "github.com/smallbiznis/payrail/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/payrail/internal/ledger/repository"
	taxdomain "github.com/smallbiznis/payrail/internal/tax/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type taxStub struct{}

func (taxStub) ResolveForInvoice(ctx context.Context) (*taxdomain.TaxDefinition, error) {
	return nil, nil
}

// stripForUpdate removes locking clauses sqlite cannot parse so the
// FOR UPDATE paths stay runnable; sqlite's single writer serializes.
func stripForUpdate(db *gorm.DB) {
	db.Callback().Query().Before("gorm:query").Register("sqlite_strip_for_update", func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(strings.ReplaceAll(sql, "FOR UPDATE", ""))
		}
	})
	db.Callback().Row().Before("gorm:row").Register("sqlite_strip_for_update_row", func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(strings.ReplaceAll(sql, "FOR UPDATE", ""))
		}
	})
}

type fixture struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	invoiceSvc invoicedomain.Service
	ledgerSvc  ledgerdomain.Service
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stripForUpdate(db)
	if err := db.AutoMigrate(
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&installment.Installment{},
		&ledgerdomain.PaymentTransaction{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	holder, err := config.NewStaticGatewayCatalogHolder(config.DefaultGatewayCatalog())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	cfg := config.Config{GatewayEnvironment: config.EnvironmentSandbox}
	gwSvc := gatewayservice.NewService(gatewayservice.Params{
		Log:     zap.NewNop(),
		Cfg:     cfg,
		Catalog: holder,
	})
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Cfg:         cfg,
		GatewaySvc:  gwSvc,
		TaxResolver: taxStub{},
	})
	ledgerSvc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		InvoiceSvc: invoiceSvc,
		Repo:       ledgerrepository.Provide(),
	})
	return &fixture{db: db, clock: clk, invoiceSvc: invoiceSvc, ledgerSvc: ledgerSvc}
}

func (f *fixture) createInvoice(t *testing.T, externalID string, req invoicedomain.CreateRequest) *invoicedomain.InvoiceDetail {
	t.Helper()
	req.ExternalID = externalID
	if req.Currency == "" {
		req.Currency = "IDR"
	}
	if len(req.Items) == 0 {
		req.Items = []invoicedomain.ItemInput{{Quantity: 1, UnitAmount: 1_000_000}}
	}
	detail, err := f.invoiceSvc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return detail
}

func (f *fixture) countTransactions(t *testing.T, invoiceID snowflake.ID) int64 {
	t.Helper()
	var count int64
	err := f.db.Model(&ledgerdomain.PaymentTransaction{}).
		Where("invoice_id = ?", invoiceID).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	return count
}

func TestApplyEventPartialThenPaid(t *testing.T) {
	f := setupFixture(t)
	detail := f.createInvoice(t, "ord-2001", invoicedomain.CreateRequest{})
	total := detail.Invoice.TotalAmount

	first, err := f.ledgerSvc.ApplyEvent(context.Background(), ledgerdomain.PaymentEvent{
		InvoiceID:      detail.Invoice.ID,
		TransactionRef: "txn-a",
		Gateway:        "midtrans",
		Amount:         500_000,
		Currency:       "IDR",
		ReceivedAt:     f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("apply first: %v", err)
	}
	if first.Status != invoicedomain.InvoiceStatusPartiallyPaid {
		t.Fatalf("status after partial = %s, want partially_paid", first.Status)
	}
	if first.PaidTotal != 500_000 {
		t.Fatalf("paid total = %d, want 500000", first.PaidTotal)
	}

	second, err := f.ledgerSvc.ApplyEvent(context.Background(), ledgerdomain.PaymentEvent{
		InvoiceID:      detail.Invoice.ID,
		TransactionRef: "txn-b",
		Gateway:        "midtrans",
		Amount:         total - 500_000,
		Currency:       "IDR",
		ReceivedAt:     f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("apply second: %v", err)
	}
	if second.Status != invoicedomain.InvoiceStatusPaid {
		t.Fatalf("status after full = %s, want paid", second.Status)
	}
	if second.Overpaid {
		t.Fatalf("exact settlement flagged overpaid")
	}
	if f.countTransactions(t, detail.Invoice.ID) != 2 {
		t.Fatalf("expected 2 ledger rows")
	}
}

func TestApplyEventDuplicateDeliveries(t *testing.T) {
	f := setupFixture(t)
	detail := f.createInvoice(t, "ord-2002", invoicedomain.CreateRequest{})

	event := ledgerdomain.PaymentEvent{
		InvoiceID:      detail.Invoice.ID,
		TransactionRef: "txn-dup",
		Gateway:        "midtrans",
		Amount:         300_000,
		Currency:       "IDR",
		ReceivedAt:     f.clock.Now(),
	}

	first, err := f.ledgerSvc.ApplyEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first delivery reported duplicate")
	}

	for i := 0; i < 5; i++ {
		res, err := f.ledgerSvc.ApplyEvent(context.Background(), event)
		if err != nil {
			t.Fatalf("redelivery %d: %v", i, err)
		}
		if !res.Duplicate {
			t.Fatalf("redelivery %d not reported duplicate", i)
		}
		if res.PaidTotal != 300_000 {
			t.Fatalf("redelivery %d changed paid total: %d", i, res.PaidTotal)
		}
		if res.Status != first.Status {
			t.Fatalf("redelivery %d changed status: %s", i, res.Status)
		}
	}

	if f.countTransactions(t, detail.Invoice.ID) != 1 {
		t.Fatalf("expected exactly 1 ledger row after redeliveries")
	}
}

func TestApplyEventConcurrentDuplicates(t *testing.T) {
	f := setupFixture(t)
	detail := f.createInvoice(t, "ord-2003", invoicedomain.CreateRequest{})

	event := ledgerdomain.PaymentEvent{
		InvoiceID:      detail.Invoice.ID,
		TransactionRef: "txn-race",
		Gateway:        "midtrans",
		Amount:         200_000,
		Currency:       "IDR",
		ReceivedAt:     f.clock.Now(),
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledgerSvc.ApplyEvent(context.Background(), event)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent apply: %v", err)
		}
	}
	if f.countTransactions(t, detail.Invoice.ID) != 1 {
		t.Fatalf("expected exactly 1 ledger row after concurrent deliveries")
	}
}

func TestApplyEventConcurrentDistinctRefs(t *testing.T) {
	f := setupFixture(t)
	detail := f.createInvoice(t, "ord-2009", invoicedomain.CreateRequest{})
	total := detail.Invoice.TotalAmount
	if total%4 != 0 {
		t.Fatalf("total %d not divisible by 4", total)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			_, err := f.ledgerSvc.ApplyEvent(context.Background(), ledgerdomain.PaymentEvent{
				InvoiceID:      detail.Invoice.ID,
				TransactionRef: fmt.Sprintf("txn-part-%d", seq),
				Gateway:        "midtrans",
				Amount:         total / 4,
				Currency:       "IDR",
				ReceivedAt:     f.clock.Now(),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent apply: %v", err)
		}
	}
	if f.countTransactions(t, detail.Invoice.ID) != 4 {
		t.Fatalf("expected 4 ledger rows")
	}

	reloaded, err := f.invoiceSvc.Get(context.Background(), detail.Invoice.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Invoice.Status != invoicedomain.InvoiceStatusPaid {
		t.Fatalf("status = %s, want paid", reloaded.Invoice.Status)
	}

	var paid int64
	err = f.db.Model(&ledgerdomain.PaymentTransaction{}).
		Where("invoice_id = ?", detail.Invoice.ID).
		Select("COALESCE(SUM(amount_paid), 0)").
		Scan(&paid).Error
	if err != nil {
		t.Fatalf("sum paid: %v", err)
	}
	if paid != total {
		t.Fatalf("paid total = %d, want %d", paid, total)
	}
}

func TestExpireRacingPaymentStaysConsistent(t *testing.T) {
	f := setupFixture(t)
	expires := f.clock.Now().Add(time.Hour)
	detail := f.createInvoice(t, "ord-2010", invoicedomain.CreateRequest{ExpiresAt: &expires})
	total := detail.Invoice.TotalAmount
	f.clock.Advance(2 * time.Hour)

	var wg sync.WaitGroup
	var applyErr, expireErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, applyErr = f.ledgerSvc.ApplyEvent(context.Background(), ledgerdomain.PaymentEvent{
			InvoiceID:      detail.Invoice.ID,
			TransactionRef: "txn-race-expire",
			Gateway:        "midtrans",
			Amount:         total,
			Currency:       "IDR",
			ReceivedAt:     f.clock.Now(),
		})
	}()
	go func() {
		defer wg.Done()
		_, expireErr = f.invoiceSvc.Expire(context.Background(), detail.Invoice.ID, f.clock.Now())
	}()
	wg.Wait()

	reloaded, err := f.invoiceSvc.Get(context.Background(), detail.Invoice.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rows := f.countTransactions(t, detail.Invoice.ID)

	// Whichever transaction wins, the loser must observe the committed
	// status and the ledger must agree with it.
	switch reloaded.Invoice.Status {
	case invoicedomain.InvoiceStatusExpired:
		if !errors.Is(applyErr, invoicedomain.ErrInvoiceExpired) {
			t.Fatalf("expired invoice accepted payment: %v", applyErr)
		}
		if expireErr != nil {
			t.Fatalf("expire: %v", expireErr)
		}
		if rows != 0 {
			t.Fatalf("expired invoice has %d ledger rows", rows)
		}
	case invoicedomain.InvoiceStatusPaid:
		if applyErr != nil {
			t.Fatalf("apply: %v", applyErr)
		}
		if !errors.Is(expireErr, invoicedomain.ErrInvalidTransition) {
			t.Fatalf("paid invoice expired: %v", expireErr)
		}
		if rows != 1 {
			t.Fatalf("paid invoice has %d ledger rows", rows)
		}
	default:
		t.Fatalf("inconsistent final status %s", reloaded.Invoice.Status)
	}
}

func TestApplyEventOverpayment(t *testing.T) {
	f := setupFixture(t)
	detail := f.createInvoice(t, "ord-2004", invoicedomain.CreateRequest{})
	total := detail.Invoice.TotalAmount

	res, err := f.ledgerSvc.ApplyEvent(context.Background(), ledgerdomain.PaymentEvent{
		InvoiceID:      detail.Invoice.ID,
		TransactionRef: "txn-over",
		Gateway:        "midtrans",
		Amount:         total + 500,
		Currency:       "IDR",
		ReceivedAt:     f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Status != invoicedomain.InvoiceStatusPaid {
		t.Fatalf("status = %s, want paid", res.Status)
	}
	if !res.Overpaid || res.OverpaidAmount != 500 {
		t.Fatalf("overpaid = %v amount = %d, want true/500", res.Overpaid, res.OverpaidAmount)
	}
	// The excess is recorded in the ledger, not discarded.
	if f.countTransactions(t, detail.Invoice.ID) != 1 {
		t.Fatalf("expected the overpayment row recorded")
	}
}

func TestApplyEventRejectsExpiredInvoice(t *testing.T) {
	f := setupFixture(t)
	expires := f.clock.Now().Add(2 * time.Hour)
	detail := f.createInvoice(t, "ord-2005", invoicedomain.CreateRequest{ExpiresAt: &expires})

	f.clock.Advance(3 * time.Hour)
	if _, err := f.invoiceSvc.Expire(context.Background(), detail.Invoice.ID, f.clock.Now()); err != nil {
		t.Fatalf("expire: %v", err)
	}

	_, err := f.ledgerSvc.ApplyEvent(context.Background(), ledgerdomain.PaymentEvent{
		InvoiceID:      detail.Invoice.ID,
		TransactionRef: "txn-late",
		Gateway:        "midtrans",
		Amount:         100_000,
		Currency:       "IDR",
		ReceivedAt:     f.clock.Now(),
	})
	if !errors.Is(err, invoicedomain.ErrInvoiceExpired) {
		t.Fatalf("expected ErrInvoiceExpired, got %v", err)
	}
	if f.countTransactions(t, detail.Invoice.ID) != 0 {
		t.Fatalf("late payment must not reach the ledger")
	}
}

func TestApplyEventCurrencyMismatch(t *testing.T) {
	f := setupFixture(t)
	detail := f.createInvoice(t, "ord-2006", invoicedomain.CreateRequest{})

	_, err := f.ledgerSvc.ApplyEvent(context.Background(), ledgerdomain.PaymentEvent{
		InvoiceID:      detail.Invoice.ID,
		TransactionRef: "txn-usd",
		Gateway:        "midtrans",
		Amount:         100_000,
		Currency:       "USD",
		ReceivedAt:     f.clock.Now(),
	})
	if !errors.Is(err, ledgerdomain.ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
}

func TestApplyEventUnknownInvoice(t *testing.T) {
	f := setupFixture(t)

	_, err := f.ledgerSvc.ApplyEvent(context.Background(), ledgerdomain.PaymentEvent{
		InvoiceID:      snowflake.ID(12345),
		TransactionRef: "txn-ghost",
		Gateway:        "midtrans",
		Amount:         100_000,
		ReceivedAt:     f.clock.Now(),
	})
	if !errors.Is(err, invoicedomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyEventValidation(t *testing.T) {
	f := setupFixture(t)
	detail := f.createInvoice(t, "ord-2007", invoicedomain.CreateRequest{})

	if _, err := f.ledgerSvc.ApplyEvent(context.Background(), ledgerdomain.PaymentEvent{
		InvoiceID: detail.Invoice.ID,
		Amount:    100_000,
	}); !errors.Is(err, ledgerdomain.ErrInvalidTransactionRef) {
		t.Fatalf("expected ErrInvalidTransactionRef, got %v", err)
	}

	if _, err := f.ledgerSvc.ApplyEvent(context.Background(), ledgerdomain.PaymentEvent{
		InvoiceID:      detail.Invoice.ID,
		TransactionRef: "txn-zero",
		Amount:         0,
	}); !errors.Is(err, ledgerdomain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestApplyEventSettlesInstallments(t *testing.T) {
	f := setupFixture(t)
	expires := f.clock.Now().Add(29 * 24 * time.Hour)
	detail := f.createInvoice(t, "ord-2008", invoicedomain.CreateRequest{
		ExpiresAt: &expires,
		Installments: &invoicedomain.InstallmentTerms{
			Count:        2,
			IntervalDays: 7,
		},
	})
	total := detail.Invoice.TotalAmount

	res, err := f.ledgerSvc.ApplyEvent(context.Background(), ledgerdomain.PaymentEvent{
		InvoiceID:      detail.Invoice.ID,
		TransactionRef: "txn-settle",
		Gateway:        "midtrans",
		Amount:         total,
		Currency:       "IDR",
		ReceivedAt:     f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Status != invoicedomain.InvoiceStatusPaid {
		t.Fatalf("status = %s, want paid", res.Status)
	}

	var schedule []installment.Installment
	if err := f.db.Where("invoice_id = ?", detail.Invoice.ID).Order("sequence ASC").Find(&schedule).Error; err != nil {
		t.Fatalf("load schedule: %v", err)
	}
	for i, inst := range schedule {
		if inst.Status != installment.StatusPaid || inst.Remaining() != 0 {
			t.Fatalf("installment %d not settled: %s remaining=%d", i, inst.Status, inst.Remaining())
		}
	}
}
