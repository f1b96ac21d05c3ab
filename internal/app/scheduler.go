package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Scheduler drives the recurring sweeps: automation TTL expiry, parked
// job requeue, automation job processing, and queue draining
type Scheduler struct {
	app    *App
	cron   *cron.Cron
	mu     sync.Mutex
	active bool
	logger arbor.ILogger
}

// NewScheduler creates a stopped scheduler
func NewScheduler(a *App, logger arbor.ILogger) *Scheduler {
	return &Scheduler{app: a, cron: cron.New(), logger: logger}
}

// Start registers the sweep on the given cron spec and starts ticking
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", spec).Msg("Sweep scheduler started")
	return nil
}

// Stop halts the cron loop; a sweep in flight finishes
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// sweep runs one maintenance pass. Overlapping ticks are skipped.
func (s *Scheduler) sweep() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	ctx := context.Background()

	expired, err := s.app.Automation.ExpireStale(ctx, s.app.Config.Runtime.AutomationJobTTL)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Automation TTL sweep failed")
	} else if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("Expired stale automation jobs")
	}

	if requeued, err := s.app.Worker.RequeueParked(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Parked job requeue failed")
	} else if requeued > 0 {
		s.logger.Info().Int("requeued", requeued).Msg("Requeued parked automation jobs")
	}

	for {
		processed, err := s.app.Worker.ProcessNext(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Automation job failed")
		}
		if !processed {
			break
		}
	}

	if processed, err := s.app.RunUntilComplete(ctx); err != nil {
		s.logger.Warn().Err(err).Int("processed", processed).Msg("Queue drain stopped on error")
	} else if processed > 0 {
		s.logger.Info().Int("processed", processed).Msg("Queue drain complete")
	}

	if err := s.app.StorageManager.RunGC(); err != nil {
		s.logger.Warn().Err(err).Msg("Badger value log gc failed")
	}
}
