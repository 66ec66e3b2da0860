package service

import (
	"context"
	"math"

	taxdomain "github.com/smallbiznis/payrail/internal/tax/domain"
	"go.uber.org/fx"
)

type resolverParam struct {
	fx.In

	Repository taxdomain.Repository
}

type resolver struct {
	repo taxdomain.Repository
}

func NewResolver(p resolverParam) taxdomain.TaxResolver {
	return &resolver{repo: p.Repository}
}

func (r *resolver) ResolveForInvoice(ctx context.Context) (*taxdomain.TaxDefinition, error) {
	def, err := r.repo.GetActiveTaxDefinition(ctx)
	if err != nil {
		return nil, err
	}
	if def == nil || def.Rate == nil || *def.Rate <= 0 {
		return nil, nil
	}
	return def, nil
}

// ComputeTaxExclusive calculates tax added on top of subtotal.
// Rounding happens only here to keep stored values integer-safe.
func ComputeTaxExclusive(subtotal int64, rate *float64) int64 {
	if subtotal <= 0 || rate == nil || *rate <= 0 {
		return 0
	}

	tax := float64(subtotal) * (*rate)
	result := int64(math.Round(tax))
	if result < 0 {
		return 0
	}
	return result
}
