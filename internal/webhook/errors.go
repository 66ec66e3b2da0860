package webhook

import "errors"

var (
	ErrInvalidGateway   = errors.New("invalid_gateway")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidSignature = errors.New("invalid_signature")
)
