package domain

import "errors"

var (
	ErrUnknownGateway      = errors.New("unknown_gateway")
	ErrUnsupportedCurrency = errors.New("unsupported_currency")
)
