// Package scheduler runs the periodic extraction and the daily retention
// cleanup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stefi19/roomsched/internal/extract"
	"github.com/stefi19/roomsched/internal/logging"
)

// Trigger starts extraction runs. Satisfied by *extract.Orchestrator.
type Trigger interface {
	Run(ctx context.Context) error
}

// CleanupStore removes expired manual events.
type CleanupStore interface {
	DeleteManualEventsBefore(cutoff time.Time) (int64, error)
}

// Scheduler owns the cron instance.
type Scheduler struct {
	cron          *cron.Cron
	trigger       Trigger
	cleanup       CleanupStore
	intervalMin   int
	retentionDays int
	log           zerolog.Logger
}

// New builds a scheduler. intervalMin <= 0 defaults to 60, retentionDays to 60.
func New(trigger Trigger, cleanup CleanupStore, intervalMin, retentionDays int) *Scheduler {
	if intervalMin <= 0 {
		intervalMin = 60
	}
	if retentionDays <= 0 {
		retentionDays = 60
	}
	return &Scheduler{
		cron:          cron.New(),
		trigger:       trigger,
		cleanup:       cleanup,
		intervalMin:   intervalMin,
		retentionDays: retentionDays,
		log:           logging.Component("scheduler"),
	}
}

// Start kicks off an immediate extraction run and registers the periodic
// jobs: extraction every intervalMin minutes and the retention cleanup once
// a night.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %dm", s.intervalMin)
	if _, err := s.cron.AddFunc(spec, func() { s.runExtraction(ctx) }); err != nil {
		return fmt.Errorf("scheduler: register extraction: %w", err)
	}
	if _, err := s.cron.AddFunc("30 3 * * *", func() { s.runCleanup() }); err != nil {
		return fmt.Errorf("scheduler: register cleanup: %w", err)
	}

	s.cron.Start()
	go s.runExtraction(ctx)

	s.log.Info().Int("interval_min", s.intervalMin).Int("retention_days", s.retentionDays).
		Msg("scheduler started")
	return nil
}

// Stop halts the cron loop; running jobs finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runExtraction(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := s.trigger.Run(ctx)
	switch {
	case errors.Is(err, extract.ErrAlreadyRunning):
		s.log.Debug().Msg("scheduled run skipped, previous still in flight")
	case err != nil:
		s.log.Error().Err(err).Msg("scheduled extraction failed")
	}
}

func (s *Scheduler) runCleanup() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	n, err := s.cleanup.DeleteManualEventsBefore(cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("retention cleanup failed")
		return
	}
	if n > 0 {
		s.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("retention cleanup done")
	}
}
