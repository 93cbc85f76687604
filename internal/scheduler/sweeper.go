package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/interfaces"
)

// Sweeper evicts terminal job records that have outlived the retention
// window and emits an hourly job-count snapshot. Pending, queued and
// running records are never touched.
type Sweeper struct {
	store  interfaces.JobStore
	retain time.Duration
	cron   *cron.Cron
	logger arbor.ILogger

	running bool
}

// NewSweeper creates a retention sweeper for the given store.
func NewSweeper(store interfaces.JobStore, retain time.Duration, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		store:  store,
		retain: retain,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start schedules the eviction pass (every minute) and the stats snapshot
// (hourly). Returns an error if already running.
func (s *Sweeper) Start() error {
	if s.running {
		return fmt.Errorf("sweeper already running")
	}

	if _, err := s.cron.AddFunc("*/1 * * * *", s.sweep); err != nil {
		return fmt.Errorf("failed to schedule eviction pass: %w", err)
	}
	if _, err := s.cron.AddFunc("0 * * * *", s.logStats); err != nil {
		return fmt.Errorf("failed to schedule stats snapshot: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("retain_terminal_for", s.retain.String()).
		Msg("Retention sweeper started")

	return nil
}

// Stop halts the cron schedule and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Retention sweeper stopped")
}

// sweep removes terminal records whose FinishedAt predates the retention
// cutoff.
func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-s.retain)

	evicted, err := s.store.EvictTerminalBefore(context.Background(), cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Terminal job eviction failed")
		return
	}
	if evicted > 0 {
		s.logger.Info().
			Int("evicted", evicted).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Evicted terminal job records past retention")
	}
}

// logStats writes one line of job counts by status.
func (s *Sweeper) logStats() {
	counts, err := s.store.CountByStatus(context.Background())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to count jobs for stats snapshot")
		return
	}

	event := s.logger.Info()
	total := 0
	for status, count := range counts {
		event = event.Int(string(status), count)
		total += count
	}
	event.Int("total", total).Msg("Job store snapshot")
}
