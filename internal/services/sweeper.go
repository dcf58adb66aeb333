package services

import (
	"context"
	"time"

	"github.com/cheetahbyte/plg/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	defaultSweepInterval = 5 * time.Minute
	webhookRetention     = 30 * 24 * time.Hour
)

// Sweeper runs periodic housekeeping: devices that stopped heartbeating are
// marked inactive, lapsed trials and invites are expired and old webhook
// records pruned.
type Sweeper struct {
	repo             Repository
	interval         time.Duration
	heartbeatTimeout time.Duration
	now              func() time.Time
}

func NewSweeper(repo Repository, interval, heartbeatTimeout time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		repo:             repo,
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
		now:              time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs every task once. Failures are logged and do not stop the
// remaining tasks.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now().UTC()

	if s.heartbeatTimeout > 0 {
		s.task(ctx, "stale_devices", func(ctx context.Context) (int64, error) {
			return s.repo.MarkStaleDevicesInactive(ctx, now.Add(-s.heartbeatTimeout))
		})
	}
	s.task(ctx, "expired_trials", func(ctx context.Context) (int64, error) {
		return s.repo.ExpireTrials(ctx, now)
	})
	s.task(ctx, "expired_invites", func(ctx context.Context) (int64, error) {
		return s.repo.ExpireInvites(ctx, now)
	})
	s.task(ctx, "webhook_events", func(ctx context.Context) (int64, error) {
		return s.repo.PruneWebhookEvents(ctx, now.Add(-webhookRetention))
	})
}

func (s *Sweeper) task(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	if ctx.Err() != nil {
		return
	}
	n, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Str("task", name).Msg("sweep task failed")
		return
	}
	if n > 0 {
		metrics.SweeperRunsTotal.WithLabelValues(name).Add(float64(n))
		log.Info().Str("task", name).Int64("affected", n).Msg("sweep task done")
	}
}
