package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
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
	ledgerservice "github.com/smallbiznis/payrail/internal/ledger/service"
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
	webhookSvc *Service
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
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		InvoiceSvc: invoiceSvc,
		Repo:       ledgerrepository.Provide(),
	})
	webhookSvc := NewService(Params{
		Log:        zap.NewNop(),
		GatewaySvc: gwSvc,
		InvoiceSvc: invoiceSvc,
		LedgerSvc:  ledgerSvc,
	})
	return &fixture{db: db, clock: clk, invoiceSvc: invoiceSvc, webhookSvc: webhookSvc}
}

func (f *fixture) createInvoice(t *testing.T, externalID string) *invoicedomain.InvoiceDetail {
	t.Helper()
	detail, err := f.invoiceSvc.Create(context.Background(), invoicedomain.CreateRequest{
		ExternalID: externalID,
		Currency:   "IDR",
		Items:      []invoicedomain.ItemInput{{Quantity: 1, UnitAmount: 1_000_000}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return detail
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func signedHeaders(payload []byte, secret string) http.Header {
	h := http.Header{}
	h.Set(SignatureHeader, sign(payload, secret))
	return h
}

func callbackBody(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

func TestIngestAppliesPayment(t *testing.T) {
	f := setupFixture(t)
	detail := f.createInvoice(t, "ord-3001")
	total := detail.Invoice.TotalAmount

	// 16:30 Jakarta time is 09:30 UTC.
	payload := callbackBody(t, map[string]any{
		"transaction_ref":  "mt-001",
		"invoice_id":       detail.Invoice.ID.String(),
		"amount_paid":      total,
		"currency":         "IDR",
		"transaction_time": "2026-06-01 16:30:00",
	})

	result, err := f.webhookSvc.Ingest(context.Background(), "midtrans", payload, signedHeaders(payload, "midtrans-sandbox-secret"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != invoicedomain.InvoiceStatusPaid {
		t.Fatalf("status = %s, want paid", result.Status)
	}
	if result.Duplicate {
		t.Fatalf("first delivery reported duplicate")
	}

	var txn ledgerdomain.PaymentTransaction
	if err := f.db.Where("invoice_id = ?", detail.Invoice.ID).First(&txn).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	want := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	if !txn.ReceivedAt.Equal(want) {
		t.Fatalf("received_at = %s, want %s (gateway local time normalized)", txn.ReceivedAt, want)
	}
	if txn.Checksum == "" {
		t.Fatalf("checksum not recorded")
	}
}

func TestIngestResolvesByExternalID(t *testing.T) {
	f := setupFixture(t)
	detail := f.createInvoice(t, "ord-3002")

	payload := callbackBody(t, map[string]any{
		"transaction_ref":  "mt-002",
		"external_id":      "ord-3002",
		"amount_paid":      100_000,
		"currency":         "IDR",
		"transaction_time": "2026-06-01 16:30:00",
	})

	result, err := f.webhookSvc.Ingest(context.Background(), "midtrans", payload, signedHeaders(payload, "midtrans-sandbox-secret"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.InvoiceID != detail.Invoice.ID {
		t.Fatalf("resolved wrong invoice: %s", result.InvoiceID.String())
	}
	if result.Status != invoicedomain.InvoiceStatusPartiallyPaid {
		t.Fatalf("status = %s, want partially_paid", result.Status)
	}
}

func TestIngestRejectsBadSignature(t *testing.T) {
	f := setupFixture(t)
	detail := f.createInvoice(t, "ord-3003")

	payload := callbackBody(t, map[string]any{
		"transaction_ref":  "mt-003",
		"invoice_id":       detail.Invoice.ID.String(),
		"amount_paid":      100_000,
		"currency":         "IDR",
		"transaction_time": "2026-06-01 16:30:00",
	})

	headers := http.Header{}
	headers.Set(SignatureHeader, sign(payload, "wrong-secret"))
	if _, err := f.webhookSvc.Ingest(context.Background(), "midtrans", payload, headers); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	if _, err := f.webhookSvc.Ingest(context.Background(), "midtrans", payload, http.Header{}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for missing header, got %v", err)
	}

	// Nothing may reach the ledger on a rejected delivery.
	var count int64
	if err := f.db.Model(&ledgerdomain.PaymentTransaction{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected webhook wrote %d ledger rows", count)
	}
}

func TestIngestRedeliveryIsDuplicate(t *testing.T) {
	f := setupFixture(t)
	detail := f.createInvoice(t, "ord-3004")

	payload := callbackBody(t, map[string]any{
		"transaction_ref":  "mt-004",
		"invoice_id":       detail.Invoice.ID.String(),
		"amount_paid":      100_000,
		"currency":         "IDR",
		"transaction_time": "2026-06-01 16:30:00",
	})
	headers := signedHeaders(payload, "midtrans-sandbox-secret")

	if _, err := f.webhookSvc.Ingest(context.Background(), "midtrans", payload, headers); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	redelivered, err := f.webhookSvc.Ingest(context.Background(), "midtrans", payload, headers)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !redelivered.Duplicate {
		t.Fatalf("redelivery not reported duplicate")
	}

	var count int64
	if err := f.db.Model(&ledgerdomain.PaymentTransaction{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 ledger row, got %d", count)
	}
}

func TestIngestUnknownGateway(t *testing.T) {
	f := setupFixture(t)

	payload := callbackBody(t, map[string]any{"transaction_ref": "x"})
	if _, err := f.webhookSvc.Ingest(context.Background(), "paypal", payload, http.Header{}); err == nil {
		t.Fatalf("expected error for unknown gateway")
	}
	if _, err := f.webhookSvc.Ingest(context.Background(), "", payload, http.Header{}); !errors.Is(err, ErrInvalidGateway) {
		t.Fatalf("expected ErrInvalidGateway, got %v", err)
	}
}

func TestIngestMalformedPayload(t *testing.T) {
	f := setupFixture(t)

	payload := []byte("{not json")
	headers := signedHeaders(payload, "midtrans-sandbox-secret")
	if _, err := f.webhookSvc.Ingest(context.Background(), "midtrans", payload, headers); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}
