package domain

import "time"

// Service resolves gateways from the live catalog.
type Service interface {
	// Get returns the gateway by name for the configured environment.
	Get(name string) (Gateway, error)
	// Select picks the gateway for a new invoice in the given currency:
	// active entries in the requested environment supporting the currency,
	// ordered by fee percentage, then fixed fee, then name. The order is
	// total so creation retries land on the same gateway.
	Select(environment, currency string) (Gateway, error)
	// ToGatewayTime converts a UTC instant to the gateway's local wall
	// clock. ToUTC is its exact inverse.
	ToGatewayTime(t time.Time, gateway string) (time.Time, error)
	ToUTC(t time.Time, gateway string) (time.Time, error)
	// ParseLocalTime parses a gateway-local timestamp string into UTC.
	ParseLocalTime(value, gateway string) (time.Time, error)
}
