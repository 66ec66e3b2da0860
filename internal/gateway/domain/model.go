// Package domain contains the gateway reference data consumed by shared
// fee, currency and timezone logic.
package domain

import (
	"math"
	"strings"
	"time"
)

// Gateway is one payment provider as data. Providers differ only in the
// values here, never in code paths.
type Gateway struct {
	Name             string
	Currencies       []string
	FeePercentage    float64
	FeeFixed         int64
	Region           string
	Active           bool
	Environment      string
	UTCOffsetMinutes int
	WebhookSecret    string
}

// SupportsCurrency reports whether the gateway accepts the ISO currency
// code, case-insensitively.
func (g Gateway) SupportsCurrency(code string) bool {
	code = strings.TrimSpace(code)
	for _, c := range g.Currencies {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

// ServiceFee computes the gateway fee for a subtotal in currency minor
// units. The percentage part is truncated, never rounded, so creation and
// any later recomputation agree to the unit.
func (g Gateway) ServiceFee(subtotal int64) int64 {
	if subtotal <= 0 {
		return g.FeeFixed
	}
	ppm := int64(math.Round(g.FeePercentage * 1_000_000))
	return subtotal*ppm/1_000_000 + g.FeeFixed
}

// Location returns the gateway's fixed-offset zone. The supported
// providers do not observe daylight saving.
func (g Gateway) Location() *time.Location {
	if g.UTCOffsetMinutes == 0 {
		return time.UTC
	}
	return time.FixedZone(g.Name, g.UTCOffsetMinutes*60)
}
