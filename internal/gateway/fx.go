package gateway

import (
	"github.com/smallbiznis/payrail/internal/gateway/service"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway.service",
	fx.Provide(service.NewService),
)
