package metricspush

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/payrail/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module pushes gathered metrics upstream on an interval.
var Module = fx.Module("observability.metricspush",
	fx.Provide(NewPusher),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, cfg config.Config, pusher Pusher, log *zap.Logger) {
	if pusher == nil {
		return
	}
	log = log.Named("metricspush")

	interval := time.Duration(cfg.MetricsPush.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("metrics push starting", zap.Duration("interval", interval))
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-runCtx.Done():
						return
					case <-ticker.C:
						if err := pusher.Push(runCtx, prometheus.DefaultGatherer); err != nil {
							log.Warn("metrics push failed", zap.Error(err))
						}
					}
				}
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
