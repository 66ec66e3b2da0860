package sweeper

import (
	"context"

	"github.com/smallbiznis/payrail/internal/config"
	"go.uber.org/fx"
)

// Module runs the expiration sweeper in the background for the lifetime
// of the application when enabled in config.
var Module = fx.Module("sweeper",
	fx.Provide(New),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, cfg config.Config, s *Sweeper) {
	if !cfg.Sweeper.Enabled {
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(done)
				s.RunForever(runCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
