package installment

import "errors"

var (
	ErrInvalidCount      = errors.New("invalid_installment_count")
	ErrInvalidInterval   = errors.New("invalid_installment_interval")
	ErrInvalidAmount     = errors.New("invalid_installment_amount")
	ErrScheduleExhausted = errors.New("schedule_exhausted")
)
