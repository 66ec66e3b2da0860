package domain

import (
	"errors"
	"testing"
	"time"
)

func TestStatusForPaidTotal(t *testing.T) {
	cases := []struct {
		name     string
		total    int64
		paid     int64
		want     InvoiceStatus
		overpaid bool
	}{
		{"nothing paid", 1000, 0, InvoiceStatusPaymentInitiated, false},
		{"partial", 1000, 500, InvoiceStatusPartiallyPaid, false},
		{"exact", 1000, 1000, InvoiceStatusPaid, false},
		{"over", 1000, 1500, InvoiceStatusPaid, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, overpaid := StatusForPaidTotal(tc.total, tc.paid)
			if status != tc.want || overpaid != tc.overpaid {
				t.Fatalf("got (%s, %v), want (%s, %v)", status, overpaid, tc.want, tc.overpaid)
			}
		})
	}
}

func TestStatusConvergesRegardlessOfOrder(t *testing.T) {
	// Status depends only on the cumulative total, so the delivery order
	// of partial payments cannot change the end state.
	totals := []int64{200, 300, 500}
	var running int64
	for _, amount := range totals {
		running += amount
	}
	a, _ := StatusForPaidTotal(1000, running)
	running = 0
	for i := len(totals) - 1; i >= 0; i-- {
		running += totals[i]
	}
	b, _ := StatusForPaidTotal(1000, running)
	if a != b || a != InvoiceStatusPaid {
		t.Fatalf("order-dependent status: %s vs %s", a, b)
	}
}

func TestValidateExpiration(t *testing.T) {
	createdAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	now := createdAt

	if err := ValidateExpiration(createdAt, createdAt.Add(24*time.Hour), now, nil); err != nil {
		t.Fatalf("valid window rejected: %v", err)
	}
	if err := ValidateExpiration(createdAt, createdAt.Add(30*time.Minute), now, nil); !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("expected ErrInvalidExpiration for short window, got %v", err)
	}
	if err := ValidateExpiration(createdAt, createdAt.Add(31*24*time.Hour), now, nil); !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("expected ErrInvalidExpiration for long window, got %v", err)
	}
	if err := ValidateExpiration(createdAt, createdAt.Add(-time.Hour), now, nil); !errors.Is(err, ErrPastExpiration) {
		t.Fatalf("expected ErrPastExpiration, got %v", err)
	}

	// Expiration may not cut the installment schedule short.
	lastDue := createdAt.Add(72 * time.Hour)
	if err := ValidateExpiration(createdAt, createdAt.Add(48*time.Hour), now, &lastDue); !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("expected ErrInvalidExpiration before last due, got %v", err)
	}
	if err := ValidateExpiration(createdAt, createdAt.Add(96*time.Hour), now, &lastDue); err != nil {
		t.Fatalf("expiration after last due rejected: %v", err)
	}
}

func TestExpirable(t *testing.T) {
	now := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	inv := Invoice{Status: InvoiceStatusCreated, ExpiresAt: now.Add(-time.Minute)}
	if !inv.Expirable(now) {
		t.Fatalf("past-due created invoice should be expirable")
	}

	inv.Status = InvoiceStatusPartiallyPaid
	if inv.Expirable(now) {
		t.Fatalf("invoice with payments must never expire")
	}

	inv.Status = InvoiceStatusCreated
	inv.ExpiresAt = now.Add(time.Hour)
	if inv.Expirable(now) {
		t.Fatalf("future expiration should not be expirable")
	}
}
