package domain

import "errors"

var (
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidTransactionRef = errors.New("invalid_transaction_ref")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrCurrencyMismatch      = errors.New("currency_mismatch")
)
