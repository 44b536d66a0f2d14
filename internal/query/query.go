// Package query is the read side: it filters the merged schedule (plus the
// admin-entered manual events) into the event lists the HTTP API serves.
package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/stefi19/roomsched/internal/model"
	"github.com/stefi19/roomsched/internal/parse"
	"github.com/stefi19/roomsched/internal/schedule"
)

// ManualSource is the synthetic source tag manual events carry in API output.
const ManualSource = "manual"

// defaultWindowDays is the half-width of the window applied when a query
// sets neither bound.
const defaultWindowDays = 7

// defaultDepartureDays covers today and tomorrow.
const defaultDepartureDays = 2

// ManualLister is the slice of the store the query layer needs.
type ManualLister interface {
	ListManualEvents(from, to time.Time) ([]model.ManualEvent, error)
}

// Filter narrows an event query. String fields are case-insensitive
// substring matches; zero time bounds mean "default window".
type Filter struct {
	Subject   string
	Professor string
	Room      string
	Building  string
	Group     string
	From      time.Time
	To        time.Time
}

// Service answers read queries from the schedule cache.
type Service struct {
	Cache  *schedule.Cache
	Manual ManualLister
	Loc    *time.Location

	// Now is test-overridable.
	Now func() time.Time
}

// NewService wires a query service. loc drives day grouping; nil means UTC.
func NewService(cache *schedule.Cache, manual ManualLister, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{Cache: cache, Manual: manual, Loc: loc}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Events returns schedule plus manual events matching f, sorted by start.
func (s *Service) Events(ctx context.Context, f Filter) ([]model.Event, error) {
	sched, _, err := s.Cache.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	from, to := f.From, f.To
	if from.IsZero() && to.IsZero() {
		now := s.now().In(s.Loc)
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.Loc)
		from = today.AddDate(0, 0, -defaultWindowDays)
		to = today.AddDate(0, 0, defaultWindowDays+1)
	}

	out := make([]model.Event, 0, 64)
	for _, ev := range sched.Events {
		if matches(ev, f, from, to) {
			out = append(out, ev)
		}
	}

	manual, err := s.manualEvents(from, to)
	if err != nil {
		return nil, err
	}
	for _, ev := range manual {
		if matches(ev, f, from, to) {
			out = append(out, ev)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Source < out[j].Source
	})
	return out, nil
}

// Calendars returns the calendar map for the API.
func (s *Service) Calendars(ctx context.Context) (map[string]model.CalendarMeta, error) {
	_, calMap, err := s.Cache.Ensure(ctx)
	return calMap, err
}

// Departures groups the next `days` days of events by day, then by room.
// Keys are "2006-01-02" dates in the service timezone. days <= 0 means the
// default of today plus tomorrow.
func (s *Service) Departures(ctx context.Context, days int) (map[string]map[string][]model.Event, error) {
	if days <= 0 {
		days = defaultDepartureDays
	}
	now := s.now().In(s.Loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.Loc)

	events, err := s.Events(ctx, Filter{From: today, To: today.AddDate(0, 0, days)})
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string][]model.Event)
	for _, ev := range events {
		day := ev.Start.In(s.Loc).Format("2006-01-02")
		room := ev.Room
		if room == "" {
			room = model.UnassignedRoom
		}
		if out[day] == nil {
			out[day] = make(map[string][]model.Event)
		}
		out[day][room] = append(out[day][room], ev)
	}
	return out, nil
}

// manualEvents parses the manual rows through the same title/location
// pipeline as extracted events so all filters apply to them. The time bounds
// are pushed down to the store.
func (s *Service) manualEvents(from, to time.Time) ([]model.Event, error) {
	rows, err := s.Manual.ListManualEvents(from, to)
	if err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(rows))
	for _, m := range rows {
		pt := parse.Title(m.Title, nil)
		loc := parse.Location(m.Location)
		out = append(out, model.Event{
			Source:       ManualSource,
			Start:        m.Start,
			End:          m.End,
			Title:        m.Title,
			DisplayTitle: pt.DisplayTitle,
			Subject:      pt.Subject,
			Professor:    pt.Professor,
			Room:         loc.Room,
			Building:     loc.Building,
			Location:     m.Location,
		})
	}
	return out, nil
}

func matches(ev model.Event, f Filter, from, to time.Time) bool {
	if !from.IsZero() && ev.End.Before(from) {
		return false
	}
	if !to.IsZero() && !ev.Start.Before(to) {
		return false
	}
	if f.Subject != "" && !containsFold(ev.Subject, f.Subject) && !containsFold(ev.Title, f.Subject) {
		return false
	}
	if f.Professor != "" && !containsFold(ev.Professor, f.Professor) {
		return false
	}
	if f.Room != "" && !containsFold(ev.Room, f.Room) {
		return false
	}
	if f.Building != "" && !containsFold(ev.Building, f.Building) {
		return false
	}
	if f.Group != "" && !containsFold(ev.GroupDisplay, f.Group) {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
