// Package sweeper expires unpaid, past-due invoices on a fixed period.
// It shares the invoice service's Expire entry point with the webhook
// reconciler so one authority decides legal transitions.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/payrail/internal/clock"
	"github.com/smallbiznis/payrail/internal/config"
	invoicedomain "github.com/smallbiznis/payrail/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/payrail/internal/observability/metrics"
	"github.com/smallbiznis/payrail/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lockKey = "sweeper:expire:lock"

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	InvoiceSvc invoicedomain.Service
	Locker     *ratelimit.Locker   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Sweeper struct {
	log        *zap.Logger
	cfg        config.SweeperConfig
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
	locker     *ratelimit.Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Sweeper {
	return &Sweeper{
		log:        p.Log.Named("sweeper").With(zap.String("component", "sweeper")),
		cfg:        p.Cfg.Sweeper,
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Sweeper) Interval() time.Duration {
	if s.cfg.IntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.cfg.IntervalSeconds) * time.Second
}

// RunOnce performs one sweep. When a distributed lock is configured and
// another instance holds it, the run is skipped without error.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		ttl := time.Duration(s.cfg.LockTTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = time.Minute
		}
		token, ok, err := s.locker.TryLock(ctx, lockKey, ttl)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("sweep lock held elsewhere, skipping run")
			return nil
		}
		defer func() {
			_ = s.locker.Release(ctx, lockKey, token)
		}()
	}

	now := s.clock.Now()
	ids, err := s.invoiceSvc.ListExpirable(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.obsMetrics.RecordSweep(0, true)
		return err
	}

	expired := 0
	var errs error
	for _, id := range ids {
		if _, err := s.invoiceSvc.Expire(ctx, id, now); err != nil {
			// A payment landed between the scan and the transition. The
			// state machine rejected the expire; that is the deterministic
			// resolution, not a failure of the sweep.
			if errors.Is(err, invoicedomain.ErrInvalidTransition) {
				s.log.Info("expire rejected by state machine",
					zap.String("invoice_id", id.String()),
				)
				continue
			}
			errs = errors.Join(errs, err)
			continue
		}
		expired++
	}

	s.obsMetrics.RecordSweep(expired, errs != nil)
	if expired > 0 {
		s.log.Info("sweep finished",
			zap.Int("expired", expired),
			zap.Int("scanned", len(ids)),
		)
	}
	return errs
}

// RunForever sweeps on the configured period until the context ends.
func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
