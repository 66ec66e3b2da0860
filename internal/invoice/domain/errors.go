package domain

import "errors"

var (
	ErrNotFound          = errors.New("invoice_not_found")
	ErrInvalidExternalID = errors.New("invalid_external_id")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrInvalidItems      = errors.New("invalid_line_items")
	ErrInvalidExpiration = errors.New("invalid_expiration")
	ErrPastExpiration    = errors.New("past_expiration")
	ErrInvoiceImmutable  = errors.New("invoice_immutable")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrInvoiceExpired    = errors.New("invoice_expired")
)
