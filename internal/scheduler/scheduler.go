// Package scheduler triggers sync cycles on calendar schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"shelfwatch/internal/catalog"
)

// CycleRunner runs one sync cycle for a category. Satisfied by
// *engine.Engine.
type CycleRunner interface {
	RunCycle(ctx context.Context, category catalog.Category) ([]catalog.Alert, error)
}

// Entry binds one category sweep to a cron expression.
type Entry struct {
	Category catalog.Category
	Schedule string
}

// Scheduler owns the cron instance driving scheduled sweeps. Overlapping
// triggers are harmless: the engine serializes cycles, a late trigger just
// waits its turn.
type Scheduler struct {
	runner       CycleRunner
	cron         *cron.Cron
	cycleTimeout time.Duration
	logger       *zap.Logger
}

// New builds a Scheduler with the standard five-field cron parser.
func New(runner CycleRunner, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner: runner,
		cron: cron.New(cron.WithParser(
			cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		)),
		cycleTimeout: 10 * time.Minute,
		logger:       logger,
	}
}

// Add registers one scheduled sweep.
func (s *Scheduler) Add(entry Entry) error {
	if !entry.Category.Valid() {
		return fmt.Errorf("unknown category %q", entry.Category)
	}
	category := entry.Category
	_, err := s.cron.AddFunc(entry.Schedule, func() {
		s.runScheduled(category)
	})
	if err != nil {
		return fmt.Errorf("schedule %s sweep (%q): %w", category, entry.Schedule, err)
	}
	s.logger.Info("sweep scheduled",
		zap.String("category", string(category)),
		zap.String("schedule", entry.Schedule))
	return nil
}

// Start begins firing scheduled sweeps.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling new sweeps and waits for running ones to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// NextRuns reports the upcoming fire times, for logging and introspection.
func (s *Scheduler) NextRuns() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

// runScheduled runs one sweep to completion. Failures are logged and
// swallowed; the next tick retries naturally.
func (s *Scheduler) runScheduled(category catalog.Category) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cycleTimeout)
	defer cancel()

	alerts, err := s.runner.RunCycle(ctx, category)
	if err != nil {
		s.logger.Error("scheduled sweep failed",
			zap.String("category", string(category)),
			zap.Error(err))
		return
	}
	s.logger.Info("scheduled sweep finished",
		zap.String("category", string(category)),
		zap.Int("alerts", len(alerts)))
}
