// Package webhook reconciles asynchronous gateway callbacks into the
// payment ledger. Every delivery produces a deterministic, logged
// outcome: applied, duplicate or rejected.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/smallbiznis/payrail/internal/gateway/domain"
	invoicedomain "github.com/smallbiznis/payrail/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/payrail/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/payrail/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body keyed by
// the gateway's webhook secret.
const SignatureHeader = "X-Callback-Signature"

type Params struct {
	fx.In

	Log        *zap.Logger
	GatewaySvc gatewaydomain.Service
	InvoiceSvc invoicedomain.Service
	LedgerSvc  ledgerdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	gatewaySvc gatewaydomain.Service
	invoiceSvc invoicedomain.Service
	ledgerSvc  ledgerdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("webhook.service"),
		gatewaySvc: p.GatewaySvc,
		invoiceSvc: p.InvoiceSvc,
		ledgerSvc:  p.LedgerSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// callbackPayload is the canonical callback shape. Either invoice_id or
// external_id identifies the invoice; transaction_time is the gateway's
// local wall clock.
type callbackPayload struct {
	TransactionRef  string `json:"transaction_ref"`
	InvoiceID       string `json:"invoice_id"`
	ExternalID      string `json:"external_id"`
	AmountPaid      int64  `json:"amount_paid"`
	Currency        string `json:"currency"`
	TransactionTime string `json:"transaction_time"`
}

func (s *Service) Ingest(ctx context.Context, gateway string, payload []byte, headers http.Header) (*ledgerdomain.ApplyResult, error) {
	gateway = strings.ToLower(strings.TrimSpace(gateway))
	if gateway == "" {
		return nil, ErrInvalidGateway
	}
	gw, err := s.gatewaySvc.Get(gateway)
	if err != nil {
		return nil, s.reject(gateway, err)
	}
	if !json.Valid(payload) {
		return nil, s.reject(gateway, ErrInvalidPayload)
	}

	// Signature verification happens before anything reaches the ledger.
	if err := verifySignature(payload, headers.Get(SignatureHeader), gw.WebhookSecret); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("gateway", gateway))
		return nil, s.reject(gateway, err)
	}

	var cb callbackPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, s.reject(gateway, ErrInvalidPayload)
	}

	invoiceID, err := s.resolveInvoice(ctx, cb)
	if err != nil {
		return nil, s.reject(gateway, err)
	}

	receivedAt, err := s.gatewaySvc.ParseLocalTime(cb.TransactionTime, gateway)
	if err != nil {
		return nil, s.reject(gateway, ErrInvalidPayload)
	}

	checksum := sha256.Sum256(payload)
	result, err := s.ledgerSvc.ApplyEvent(ctx, ledgerdomain.PaymentEvent{
		InvoiceID:      invoiceID,
		TransactionRef: cb.TransactionRef,
		Gateway:        gateway,
		Amount:         cb.AmountPaid,
		Currency:       cb.Currency,
		ReceivedAt:     receivedAt,
		Checksum:       hex.EncodeToString(checksum[:]),
	})
	if err != nil {
		return nil, s.reject(gateway, err)
	}

	s.log.Info("webhook processed",
		zap.String("gateway", gateway),
		zap.String("invoice_id", result.InvoiceID.String()),
		zap.String("transaction_ref", result.TransactionRef),
		zap.String("status", string(result.Status)),
		zap.Bool("duplicate", result.Duplicate),
	)
	return result, nil
}

func (s *Service) resolveInvoice(ctx context.Context, cb callbackPayload) (snowflake.ID, error) {
	if raw := strings.TrimSpace(cb.InvoiceID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return 0, invoicedomain.ErrNotFound
		}
		return id, nil
	}
	if external := strings.TrimSpace(cb.ExternalID); external != "" {
		detail, err := s.invoiceSvc.GetByExternalID(ctx, external)
		if err != nil {
			return 0, err
		}
		return detail.Invoice.ID, nil
	}
	return 0, invoicedomain.ErrNotFound
}

func (s *Service) reject(gateway string, err error) error {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookOutcome(gateway, obsmetrics.WebhookOutcomeRejected)
	}
	return err
}

func verifySignature(payload []byte, signature, secret string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" || secret == "" {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrInvalidSignature
	}
	return nil
}
