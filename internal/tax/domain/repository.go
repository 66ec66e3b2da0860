package domain

import "context"

type Repository interface {
	// GetActiveTaxDefinition returns the enabled definition, or nil when
	// no tax applies.
	GetActiveTaxDefinition(ctx context.Context) (*TaxDefinition, error)
	Create(ctx context.Context, def *TaxDefinition) error
}

// TaxResolver returns the tax definition to apply to a new invoice.
type TaxResolver interface {
	ResolveForInvoice(ctx context.Context) (*TaxDefinition, error)
}
