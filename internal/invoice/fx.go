package invoice

import (
	"github.com/smallbiznis/payrail/internal/invoice/service"
	"github.com/smallbiznis/payrail/internal/tax"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	tax.Module,
	fx.Provide(service.NewService),
)
