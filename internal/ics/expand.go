package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"
)

const maxOccurrencesPerEvent = 5000

// Occurrence is one concrete event instance inside the expansion window.
type Occurrence struct {
	UID      string
	Summary  string
	Location string
	Start    time.Time
	End      time.Time
	AllDay   bool
}

// Expand turns the parsed VEVENTs into concrete occurrences within the
// closed window [rangeStart, rangeEnd]. Handles plain events, RRULE
// recurrence, EXDATE exceptions and RECURRENCE-ID overrides. Expansion of a
// single event is capped to avoid runaway rules.
func Expand(events []ParsedEvent, rangeStart, rangeEnd time.Time) ([]Occurrence, error) {
	if rangeEnd.Before(rangeStart) {
		return nil, errors.New("ics: expansion range end before start")
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	out := make([]Occurrence, 0, len(events))
	for uid, bases := range baseByUID {
		overrides := overridesByUID[uid]
		for _, ev := range bases {
			if ev.RawRRule == "" {
				out = append(out, expandSingle(ev, overrides, rangeStart, rangeEnd)...)
			} else {
				out = append(out, expandRecurring(ev, overrides, rangeStart, rangeEnd)...)
			}
		}
	}
	return out, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, rangeStart, rangeEnd time.Time) []Occurrence {
	if ev.End.Before(rangeStart) || ev.Start.After(rangeEnd) {
		return nil
	}
	start, end := ev.Start, ev.End
	if o, ok := overrideFor(overrides, start); ok {
		ev, start, end = o, o.Start, o.End
	}
	return []Occurrence{makeOccurrence(ev, start, end)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, rangeStart, rangeEnd time.Time) []Occurrence {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	times := set.Between(rangeStart.In(ev.Start.Location()), rangeEnd.In(ev.Start.Location()), true)
	if len(times) > maxOccurrencesPerEvent {
		times = times[:maxOccurrencesPerEvent]
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]Occurrence, 0, len(times))
	for _, start := range times {
		var end time.Time
		if ev.AllDay {
			start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
			end = start.Add(24 * time.Hour)
		} else {
			end = start.Add(dur)
		}
		occEv := ev
		if o, ok := overrideFor(overrides, start); ok {
			occEv, start, end = o, o.Start, o.End
		}
		out = append(out, makeOccurrence(occEv, start, end))
	}
	return out
}

func overrideFor(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.In(start.Location()).Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time) Occurrence {
	return Occurrence{
		UID:      ev.UID,
		Summary:  ev.Summary,
		Location: ev.Location,
		Start:    start,
		End:      end,
		AllDay:   ev.AllDay,
	}
}
