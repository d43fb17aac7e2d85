package worker

import (
	"context"
	"time"

	"github.com/polyvox/notify-engine/internal/digest"
	"github.com/polyvox/notify-engine/internal/outbox"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler drives the periodic jobs: draining the email outbox and
// compiling digests. Both jobs are also reachable through the internal
// HTTP triggers; the schedules here are the steady-state path.
type Scheduler struct {
	Processor  *outbox.Processor
	Aggregator *digest.Aggregator
	Log        *zap.Logger

	OutboxSpec string
	DigestSpec string
}

// Run installs the cron entries and blocks until ctx is cancelled. Jobs
// already in flight are allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()

	if _, err := c.AddFunc(s.OutboxSpec, func() {
		res, err := s.Processor.Run(ctx, 0, time.Now().UTC())
		if err != nil {
			s.Log.Error("cron: outbox run", zap.Error(err))
			return
		}
		if res.Processed > 0 {
			s.Log.Info("cron: outbox run",
				zap.Int("processed", res.Processed),
				zap.Int("sent", res.Sent),
				zap.Int("failed", res.Failed))
		}
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc(s.DigestSpec, func() {
		res, err := s.Aggregator.Run(ctx, digest.Params{}, time.Now().UTC())
		if err != nil {
			s.Log.Error("cron: digest run", zap.Error(err))
			return
		}
		s.Log.Info("cron: digest run",
			zap.Int("sent", res.Sent),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
			zap.Int("events", res.ProcessedEvents))
	}); err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()
	return nil
}
