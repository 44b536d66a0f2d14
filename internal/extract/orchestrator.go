package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stefi19/roomsched/internal/logging"
	"github.com/stefi19/roomsched/internal/model"
)

// ErrAlreadyRunning is returned when a run is requested while one is in
// flight. Only one extraction run exists per process at a time.
var ErrAlreadyRunning = errors.New("extract: a run is already in progress")

// SourceLister is the slice of the store the orchestrator needs.
type SourceLister interface {
	ListSources(enabledOnly bool) ([]model.CalendarSource, error)
	TouchLastFetched(id int64, at time.Time) error
}

// ProgressStore persists the progress document and the end-of-run artifacts.
type ProgressStore interface {
	ArtifactWriter
	WriteProgress(p *model.ImportProgress) error
	WriteCompleteMarker(text string) error
	WriteSubjectMap(m map[string]string) error
}

// Merger rebuilds the merged schedule from the artifact directory. Satisfied
// by *merge.Merger.
type Merger interface {
	Rebuild() error
}

// Orchestrator runs the full pipeline: phase 1 fetches every source with an
// ICS URL concurrently, phase 2 pushes the failures and the ICS-less sources
// through the browser pool, phase 3 merges artifacts into the schedule.
type Orchestrator struct {
	Extractor *Extractor
	Sources   SourceLister
	Artifacts ProgressStore
	Merge     Merger

	ICSConcurrency    int
	RenderConcurrency int

	log zerolog.Logger

	mu       sync.Mutex
	running  bool
	progress *model.ImportProgress
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(ex *Extractor, sources SourceLister, artifacts ProgressStore, merge Merger, icsConc, renderConc int) *Orchestrator {
	if icsConc <= 0 {
		icsConc = 8
	}
	if renderConc <= 0 {
		renderConc = 4
	}
	return &Orchestrator{
		Extractor:         ex,
		Sources:           sources,
		Artifacts:         artifacts,
		Merge:             merge,
		ICSConcurrency:    icsConc,
		RenderConcurrency: renderConc,
		log:               logging.Component("extract"),
	}
}

// Progress returns a snapshot of the in-memory progress of the current (or
// last) run, nil before the first run.
func (o *Orchestrator) Progress() *model.ImportProgress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress.Clone()
}

// Running reports whether a run is in flight.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Run executes one full extraction. Returns ErrAlreadyRunning if a run is in
// flight. The progress document is rewritten after every source so observers
// always see fresh counters; finished is set true on every exit path.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	runID := uuid.NewString()
	o.progress = &model.ImportProgress{
		RunID:        runID,
		StartedAt:    time.Now().UTC(),
		CurrentPhase: model.PhaseICS,
	}
	o.mu.Unlock()

	log := o.log.With().Str("run_id", runID).Logger()
	log.Info().Msg("extraction run starting")

	defer func() {
		o.mu.Lock()
		now := time.Now().UTC()
		o.progress.Finished = true
		o.progress.FinishedAt = &now
		o.progress.CurrentPhase = model.PhaseIdle
		if err != nil {
			o.progress.Error = err.Error()
		}
		snapshot := o.progress.Clone()
		o.running = false
		o.mu.Unlock()

		if werr := o.Artifacts.WriteProgress(snapshot); werr != nil {
			log.Error().Err(werr).Msg("writing final progress failed")
		}
		stamp := fmt.Sprintf("run %s finished at %s: %d/%d succeeded, %d failed\n",
			runID, now.Format(time.RFC3339), snapshot.Succeeded, snapshot.Total, snapshot.Failed)
		if werr := o.Artifacts.WriteCompleteMarker(stamp); werr != nil {
			log.Error().Err(werr).Msg("writing completion marker failed")
		}
		log.Info().Int("succeeded", snapshot.Succeeded).Int("failed", snapshot.Failed).
			Msg("extraction run finished")
	}()

	sources, err := o.Sources.ListSources(true)
	if err != nil {
		return fmt.Errorf("extract: list sources: %w", err)
	}

	o.updateProgress(func(p *model.ImportProgress) {
		p.Total = len(sources)
		p.Queued = len(sources)
	})

	// Phase 1: ICS for every source that has a feed URL.
	var withFeed, needRender []model.CalendarSource
	for _, src := range sources {
		if src.ICSURL != "" {
			withFeed = append(withFeed, src)
		} else {
			needRender = append(needRender, src)
		}
	}

	var renderMu sync.Mutex
	forEachLimited(ctx, withFeed, o.ICSConcurrency, func(src model.CalendarSource) {
		n, ferr := o.Extractor.FromICS(ctx, src)
		if ferr != nil {
			log.Warn().Err(ferr).Str("calendar", src.DisplayName).Msg("ics phase failed, queuing render")
			renderMu.Lock()
			needRender = append(needRender, src)
			renderMu.Unlock()
			return
		}
		o.sourceDone(src, n, nil)
	})

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Phase 2: browser fallback.
	o.updateProgress(func(p *model.ImportProgress) { p.CurrentPhase = model.PhaseRender })
	forEachLimited(ctx, needRender, o.RenderConcurrency, func(src model.CalendarSource) {
		n, rerr := o.Extractor.FromRenderer(ctx, src)
		o.sourceDone(src, n, rerr)
	})

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Phase 3: merge artifacts into the schedule.
	o.updateProgress(func(p *model.ImportProgress) { p.CurrentPhase = model.PhaseMerge })
	if o.Extractor.Abbrevs != nil {
		if werr := o.Artifacts.WriteSubjectMap(o.Extractor.Abbrevs.Snapshot()); werr != nil {
			log.Error().Err(werr).Msg("persisting subject map failed")
		}
	}
	if err := o.Merge.Rebuild(); err != nil {
		return fmt.Errorf("extract: merge: %w", err)
	}
	return nil
}

// sourceDone updates counters after one source completes either phase.
func (o *Orchestrator) sourceDone(src model.CalendarSource, eventCount int, err error) {
	if err == nil {
		o.log.Debug().Str("calendar", src.DisplayName).Int("events", eventCount).Msg("source extracted")
		if terr := o.Sources.TouchLastFetched(src.ID, time.Now().UTC()); terr != nil {
			o.log.Error().Err(terr).Str("calendar", src.DisplayName).Msg("touch last_fetched failed")
		}
	} else {
		o.log.Error().Err(err).Str("calendar", src.DisplayName).Msg("source extraction failed")
	}

	o.updateProgress(func(p *model.ImportProgress) {
		p.Queued--
		p.LastSource = src.DisplayName
		if err == nil {
			p.Succeeded++
			p.FilesWritten++
		} else {
			p.Failed++
		}
	})
}

// updateProgress mutates the progress under lock and persists a snapshot.
func (o *Orchestrator) updateProgress(fn func(p *model.ImportProgress)) {
	o.mu.Lock()
	fn(o.progress)
	snapshot := o.progress.Clone()
	o.mu.Unlock()

	if err := o.Artifacts.WriteProgress(snapshot); err != nil {
		o.log.Error().Err(err).Msg("writing progress failed")
	}
}

// forEachLimited runs fn over items with at most limit in flight, stopping
// dispatch once ctx is done. Already-dispatched items run to completion.
func forEachLimited(ctx context.Context, items []model.CalendarSource, limit int, fn func(model.CalendarSource)) {
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(src model.CalendarSource) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(src)
		}(item)
	}
	wg.Wait()
}
