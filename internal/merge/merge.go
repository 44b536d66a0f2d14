// Package merge folds the per-calendar artifacts into the room-indexed
// schedule and the calendar map, the two documents every read goes through.
package merge

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/stefi19/roomsched/internal/artifact"
	"github.com/stefi19/roomsched/internal/hashutil"
	"github.com/stefi19/roomsched/internal/logging"
	"github.com/stefi19/roomsched/internal/model"
)

// SourceLister is the slice of the store the merger needs.
type SourceLister interface {
	ListSources(enabledOnly bool) ([]model.CalendarSource, error)
}

// Merger rebuilds schedule_by_room.json and calendar_map.json from whatever
// artifacts are on disk.
type Merger struct {
	Artifacts *artifact.Store
	Sources   SourceLister

	log zerolog.Logger
}

// NewMerger wires a merger.
func NewMerger(artifacts *artifact.Store, sources SourceLister) *Merger {
	return &Merger{
		Artifacts: artifacts,
		Sources:   sources,
		log:       logging.Component("merge"),
	}
}

// Rebuild reads every per-calendar artifact and produces the merged
// schedule. The calendar map lists every known source, enabled or not, so
// the admin surface can show the full roster; disabled sources' events are
// excluded from the schedule itself. The artifact-directory fingerprint is
// computed before writing so a concurrent extractor marking new artifacts
// triggers the next rebuild rather than being silently absorbed.
func (m *Merger) Rebuild() error {
	fp, err := hashutil.Dir(m.Artifacts.Dir())
	if err != nil {
		return err
	}

	sources, err := m.Sources.ListSources(false)
	if err != nil {
		return fmt.Errorf("merge: list sources: %w", err)
	}

	calMap := make(map[string]model.CalendarMeta, len(sources))
	enabled := make(map[string]bool, len(sources))
	sourceRoom := make(map[string]string, len(sources))
	for _, src := range sources {
		hash := hashutil.SourceHash(src.PrimaryURL)
		calMap[hash] = model.CalendarMeta{
			URL:      src.PrimaryURL,
			Name:     src.DisplayName,
			Color:    src.Color,
			Building: src.Building,
			Room:     src.Room,
			Enabled:  src.Enabled,
		}
		enabled[hash] = src.Enabled
		sourceRoom[hash] = src.Room
	}

	hashes, err := m.Artifacts.ListEventHashes()
	if err != nil {
		return err
	}

	sched := &model.MergedSchedule{
		Rooms:  map[string][]model.Event{},
		Events: []model.Event{},
	}
	skipped := 0
	for _, hash := range hashes {
		// Artifacts from deleted or disabled sources stay on disk but do
		// not reach the schedule.
		if known, ok := enabled[hash]; !ok || !known {
			skipped++
			continue
		}
		events, err := m.Artifacts.ReadEvents(hash)
		if err != nil {
			m.log.Error().Err(err).Str("source", hash).Msg("unreadable artifact skipped")
			continue
		}
		for _, ev := range events {
			room := ev.Room
			if room == "" {
				room = sourceRoom[hash]
			}
			if room == "" {
				room = model.UnassignedRoom
			}
			ev.Room = roomKeyToField(room)
			sched.Rooms[room] = append(sched.Rooms[room], ev)
			sched.Events = append(sched.Events, ev)
		}
	}

	sortEvents(sched.Events)
	for room := range sched.Rooms {
		sortEvents(sched.Rooms[room])
	}

	if err := m.Artifacts.WriteSchedule(sched, calMap, fp); err != nil {
		return fmt.Errorf("merge: write schedule: %w", err)
	}
	m.log.Info().Int("rooms", len(sched.Rooms)).Int("events", len(sched.Events)).
		Int("skipped_sources", skipped).Msg("schedule rebuilt")
	return nil
}

// roomKeyToField keeps the unassigned bucket name out of the per-event room
// field; the bucket exists only as a schedule key.
func roomKeyToField(room string) string {
	if room == model.UnassignedRoom {
		return ""
	}
	return room
}

// sortEvents orders by start, then source hash, then raw title, so merge
// output is deterministic for identical inputs.
func sortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		if events[i].Source != events[j].Source {
			return events[i].Source < events[j].Source
		}
		return events[i].Title < events[j].Title
	})
}
