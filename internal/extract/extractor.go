// Package extract drives the two-phase extraction pipeline: ICS feeds first,
// headless rendering for the stragglers, then a merge of all per-calendar
// artifacts into the room-indexed schedule.
package extract

import (
	"context"
	"sort"
	"time"

	"github.com/stefi19/roomsched/internal/hashutil"
	"github.com/stefi19/roomsched/internal/ics"
	"github.com/stefi19/roomsched/internal/model"
	"github.com/stefi19/roomsched/internal/parse"
	"github.com/stefi19/roomsched/internal/render"
)

// ICSClient is the feed fetcher, satisfied by *ics.Client.
type ICSClient interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Renderer is the browser fallback, satisfied by *render.Pool.
type Renderer interface {
	Extract(ctx context.Context, url string) ([]render.RawItem, error)
}

// ArtifactWriter is the slice of the artifact store the extractor needs.
type ArtifactWriter interface {
	WriteEvents(sourceHash string, events []model.Event) error
}

// Extractor turns one calendar source into its per-calendar artifact.
type Extractor struct {
	ICS       ICSClient
	Renderer  Renderer
	Artifacts ArtifactWriter
	Abbrevs   *parse.AbbrevMap

	// WindowDays is the half-width of the extraction window around now.
	WindowDays int

	// Now is test-overridable.
	Now func() time.Time
}

func (e *Extractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Extractor) window() (time.Time, time.Time) {
	days := e.WindowDays
	if days <= 0 {
		days = 60
	}
	now := e.now()
	return now.AddDate(0, 0, -days), now.AddDate(0, 0, days)
}

// FromICS extracts a source through its ICS feed. Any returned error means
// the caller should fall back to the renderer; an empty feed is a success
// and writes an empty artifact.
func (e *Extractor) FromICS(ctx context.Context, src model.CalendarSource) (int, error) {
	body, err := e.ICS.Fetch(ctx, src.ICSURL)
	if err != nil {
		return 0, err
	}
	parsed, err := ics.Parse(body)
	if err != nil {
		return 0, err
	}

	lo, hi := e.window()
	occ, err := ics.Expand(parsed, lo, hi)
	if err != nil {
		return 0, err
	}

	events := make([]model.Event, 0, len(occ))
	for _, o := range occ {
		events = append(events, model.Event{
			Start:    o.Start,
			End:      o.End,
			Title:    o.Summary,
			Location: o.Location,
		})
	}
	return e.finish(src, events)
}

// FromRenderer extracts a source by loading its published page in the
// browser pool and harvesting the calendar service responses.
func (e *Extractor) FromRenderer(ctx context.Context, src model.CalendarSource) (int, error) {
	items, err := e.Renderer.Extract(ctx, src.PrimaryURL)
	if err != nil {
		return 0, err
	}

	lo, hi := e.window()
	events := make([]model.Event, 0, len(items))
	for _, it := range items {
		if it.End.Before(lo) || it.Start.After(hi) {
			continue
		}
		events = append(events, model.Event{
			Start:    it.Start,
			End:      it.End,
			Title:    it.Subject,
			Location: it.Location,
		})
	}
	return e.finish(src, events)
}

// finish normalizes, dedupes and writes the artifact for one source.
func (e *Extractor) finish(src model.CalendarSource, events []model.Event) (int, error) {
	events = e.normalize(src, events)
	if err := e.Artifacts.WriteEvents(hashutil.SourceHash(src.PrimaryURL), events); err != nil {
		return 0, err
	}
	return len(events), nil
}

// normalize stamps the source hash, parses titles and locations into
// structured fields and drops duplicate (start, end, title) triples.
func (e *Extractor) normalize(src model.CalendarSource, events []model.Event) []model.Event {
	if e.Abbrevs != nil {
		titles := make([]string, 0, len(events))
		for _, ev := range events {
			titles = append(titles, ev.Title)
		}
		e.Abbrevs.LearnFrom(titles)
	}

	hash := hashutil.SourceHash(src.PrimaryURL)
	group := parse.Group(src.DisplayName)

	type key struct {
		start, end int64
		title      string
	}
	seen := make(map[key]struct{}, len(events))
	out := make([]model.Event, 0, len(events))

	for _, ev := range events {
		k := key{ev.Start.UnixNano(), ev.End.UnixNano(), ev.Title}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		pt := parse.Title(ev.Title, e.Abbrevs)
		loc := parse.Location(ev.Location)

		ev.Source = hash
		ev.DisplayTitle = pt.DisplayTitle
		ev.Subject = pt.Subject
		ev.Professor = pt.Professor
		ev.GroupDisplay = group

		// Room: explicit location wins, then the source's own room, then
		// whatever the title carried.
		switch {
		case loc.Room != "":
			ev.Room = loc.Room
		case src.Room != "":
			ev.Room = src.Room
		case pt.RoomCode != "":
			ev.Room = parse.NormalizeRoom(pt.RoomCode)
		}
		switch {
		case loc.Building != "":
			ev.Building = loc.Building
		case src.Building != "":
			ev.Building = src.Building
		}

		ev.Color = src.Color
		ev.CalendarName = src.DisplayName
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Title < out[j].Title
	})
	return out
}
