package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/payrail/internal/installment"
	invoicedomain "github.com/smallbiznis/payrail/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/payrail/internal/ledger/domain"
)

type invoiceItemRequest struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
}

type installmentTermsRequest struct {
	Count        int        `json:"count"`
	IntervalDays int        `json:"interval_days"`
	FirstDueAt   *time.Time `json:"first_due_at,omitempty"`
}

type createInvoiceRequest struct {
	ExternalID   string                   `json:"external_id"`
	Currency     string                   `json:"currency"`
	Items        []invoiceItemRequest     `json:"items"`
	ExpiresAt    *time.Time               `json:"expires_at,omitempty"`
	Installments *installmentTermsRequest `json:"installments,omitempty"`
}

type updateInvoiceRequest struct {
	Items     []invoiceItemRequest `json:"items,omitempty"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
}

type invoiceItemResponse struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
	Amount      int64  `json:"amount"`
}

type installmentResponse struct {
	Sequence   int       `json:"sequence"`
	DueAt      time.Time `json:"due_at"`
	Amount     int64     `json:"amount"`
	PaidAmount int64     `json:"paid_amount"`
	Status     string    `json:"status"`
}

type transactionResponse struct {
	TransactionRef string    `json:"transaction_ref"`
	Gateway        string    `json:"gateway"`
	AmountPaid     int64     `json:"amount_paid"`
	Currency       string    `json:"currency"`
	ReceivedAt     time.Time `json:"received_at"`
}

type invoiceResponse struct {
	ID                 string                `json:"id"`
	ExternalID         string                `json:"external_id"`
	Currency           string                `json:"currency"`
	Gateway            string                `json:"gateway"`
	Status             string                `json:"status"`
	Subtotal           int64                 `json:"subtotal"`
	ServiceFee         int64                 `json:"service_fee"`
	Tax                int64                 `json:"tax"`
	TotalAmount        int64                 `json:"total_amount"`
	CreatedAt          time.Time             `json:"created_at"`
	ExpiresAt          time.Time             `json:"expires_at"`
	PaymentInitiatedAt *time.Time            `json:"payment_initiated_at,omitempty"`
	Items              []invoiceItemResponse `json:"items,omitempty"`
	Installments       []installmentResponse `json:"installments,omitempty"`
	Transactions       []transactionResponse `json:"transactions,omitempty"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	createReq := invoicedomain.CreateRequest{
		ExternalID: strings.TrimSpace(req.ExternalID),
		Currency:   strings.TrimSpace(req.Currency),
		ExpiresAt:  req.ExpiresAt,
	}
	for _, item := range req.Items {
		createReq.Items = append(createReq.Items, invoicedomain.ItemInput{
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
		})
	}
	if req.Installments != nil {
		createReq.Installments = &invoicedomain.InstallmentTerms{
			Count:        req.Installments.Count,
			IntervalDays: req.Installments.IntervalDays,
			FirstDueAt:   req.Installments.FirstDueAt,
		}
	}

	detail, err := s.invoiceSvc.Create(c.Request.Context(), createReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": newInvoiceResponse(detail, nil)})
}

func (s *Server) GetInvoice(c *gin.Context) {
	detail, err := s.lookupInvoice(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	txns, err := s.ledgerSvc.ListTransactions(c.Request.Context(), detail.Invoice.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newInvoiceResponse(detail, txns)})
}

func (s *Server) UpdateInvoiceDraft(c *gin.Context) {
	id, err := parseInvoiceID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	change := invoicedomain.DraftChange{ExpiresAt: req.ExpiresAt}
	for _, item := range req.Items {
		change.Items = append(change.Items, invoicedomain.ItemInput{
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
		})
	}

	detail, err := s.invoiceSvc.UpdateDraft(c.Request.Context(), id, change)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newInvoiceResponse(detail, nil)})
}

func (s *Server) InitiateInvoicePayment(c *gin.Context) {
	id, err := parseInvoiceID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inv, err := s.invoiceSvc.InitiatePayment(c.Request.Context(), id, s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newInvoiceResponse(&invoicedomain.InvoiceDetail{Invoice: *inv}, nil)})
}

// InvoiceDocument streams the invoice as a PDF.
func (s *Server) InvoiceDocument(c *gin.Context) {
	detail, err := s.lookupInvoice(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.pdfRenderer.RenderInvoice(c.Request.Context(), detail)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="invoice-`+detail.Invoice.ID.String()+`.pdf"`)
	c.DataFromReader(http.StatusOK, -1, "application/pdf", doc, nil)
}

// lookupInvoice resolves the path parameter first as an internal id,
// then as a client external_id.
func (s *Server) lookupInvoice(c *gin.Context) (*invoicedomain.InvoiceDetail, error) {
	raw := strings.TrimSpace(c.Param("id"))
	if raw == "" {
		return nil, invalidRequestError()
	}

	if id, err := snowflake.ParseString(raw); err == nil {
		detail, err := s.invoiceSvc.Get(c.Request.Context(), id)
		if err == nil {
			return detail, nil
		}
	}
	return s.invoiceSvc.GetByExternalID(c.Request.Context(), raw)
}

func parseInvoiceID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, newValidationError("id", "invalid_id", "invalid invoice id")
	}
	return id, nil
}

func newInvoiceResponse(detail *invoicedomain.InvoiceDetail, txns []ledgerdomain.PaymentTransaction) invoiceResponse {
	inv := detail.Invoice
	resp := invoiceResponse{
		ID:                 inv.ID.String(),
		ExternalID:         inv.ExternalID,
		Currency:           inv.Currency,
		Gateway:            inv.Gateway,
		Status:             string(inv.Status),
		Subtotal:           inv.Subtotal,
		ServiceFee:         inv.ServiceFee,
		Tax:                inv.Tax,
		TotalAmount:        inv.TotalAmount,
		CreatedAt:          inv.CreatedAt,
		ExpiresAt:          inv.ExpiresAt,
		PaymentInitiatedAt: inv.PaymentInitiatedAt,
	}
	for _, item := range detail.Items {
		resp.Items = append(resp.Items, invoiceItemResponse{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
			Amount:      item.Amount,
		})
	}
	resp.Installments = newInstallmentResponses(detail.Installments)
	for _, txn := range txns {
		resp.Transactions = append(resp.Transactions, transactionResponse{
			TransactionRef: txn.TransactionRef,
			Gateway:        txn.Gateway,
			AmountPaid:     txn.AmountPaid,
			Currency:       txn.Currency,
			ReceivedAt:     txn.ReceivedAt,
		})
	}
	return resp
}

func newInstallmentResponses(rows []installment.Installment) []installmentResponse {
	out := make([]installmentResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, installmentResponse{
			Sequence:   row.Sequence,
			DueAt:      row.DueAt,
			Amount:     row.Amount,
			PaidAmount: row.PaidAmount,
			Status:     string(row.Status),
		})
	}
	return out
}
