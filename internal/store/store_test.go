package store

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stefi19/roomsched/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestUpsertInsertThenUpdate(t *testing.T) {
	s := newTestStore(t)

	id, err := s.UpsertSourceByURL(model.CalendarSource{
		PrimaryURL:  "https://outlook.example/published/room1",
		ICSURL:      "https://outlook.example/published/room1.ics",
		DisplayName: "DAIC 479",
		Enabled:     true,
	})
	if err != nil {
		t.Fatal(err)
	}

	src, err := s.GetSource(id)
	if err != nil {
		t.Fatal(err)
	}
	if src.Color == "" {
		t.Error("insert did not assign a palette color")
	}
	if !src.Enabled {
		t.Error("insert did not keep enabled flag")
	}

	// Admin disables the source and picks a color; re-import must not undo it.
	if err := s.UpdateSourceFields(id, map[string]interface{}{
		"enabled": false, "color": "#123456",
	}); err != nil {
		t.Fatal(err)
	}

	id2, err := s.UpsertSourceByURL(model.CalendarSource{
		PrimaryURL:  "https://outlook.example/published/room1",
		DisplayName: "DAIC 479 renamed",
		Enabled:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id {
		t.Fatalf("upsert created a new row: %d != %d", id2, id)
	}

	src, err = s.GetSource(id)
	if err != nil {
		t.Fatal(err)
	}
	if src.DisplayName != "DAIC 479 renamed" {
		t.Errorf("display name = %q", src.DisplayName)
	}
	if src.Enabled {
		t.Error("re-import re-enabled a disabled source")
	}
	if src.Color != "#123456" {
		t.Errorf("re-import overwrote color: %q", src.Color)
	}
}

func TestListSourcesEnabledOnly(t *testing.T) {
	s := newTestStore(t)
	for i, enabled := range []bool{true, false, true} {
		_, err := s.UpsertSourceByURL(model.CalendarSource{
			PrimaryURL:  "https://outlook.example/cal/" + string(rune('a'+i)),
			DisplayName: "Room " + string(rune('A'+i)),
			Enabled:     enabled,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListSources(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d, want 3", len(all))
	}
	enabled, err := s.ListSources(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(enabled) != 2 {
		t.Fatalf("enabled = %d, want 2", len(enabled))
	}
}

func TestUpdateSourceFieldsRejectsUnknown(t *testing.T) {
	s := newTestStore(t)
	id, err := s.UpsertSourceByURL(model.CalendarSource{
		PrimaryURL: "https://outlook.example/cal/x", Enabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSourceFields(id, map[string]interface{}{"primary_url": "nope"}); err == nil {
		t.Fatal("expected rejection of primary_url update")
	}
}

func TestDeleteSourceNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteSource(9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestManualEventLifecycle(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	id, err := s.AddManualEvent(model.ManualEvent{
		Start:    now,
		End:      now.Add(2 * time.Hour),
		Title:    "Exam - Operating Systems",
		Location: "utcn_room_ac_daic_479@campus.utcluj.ro",
	})
	if err != nil {
		t.Fatal(err)
	}

	events, err := s.ListManualEvents(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].ID != id {
		t.Fatalf("events = %+v", events)
	}
	if !events[0].Start.Equal(now) {
		t.Errorf("start = %v, want %v", events[0].Start, now)
	}

	if err := s.DeleteManualEvent(id); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteManualEvent(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestManualEventValidation(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	if _, err := s.AddManualEvent(model.ManualEvent{Start: now, End: now, Title: "x"}); err == nil {
		t.Error("zero-length event accepted")
	}
	if _, err := s.AddManualEvent(model.ManualEvent{Start: now, End: now.Add(time.Hour)}); err == nil {
		t.Error("untitled event accepted")
	}
}

func TestRetentionCleanup(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	old := model.ManualEvent{Start: now.AddDate(0, 0, -90), End: now.AddDate(0, 0, -90).Add(time.Hour), Title: "old"}
	fresh := model.ManualEvent{Start: now, End: now.Add(time.Hour), Title: "fresh"}
	for _, ev := range []model.ManualEvent{old, fresh} {
		if _, err := s.AddManualEvent(ev); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.DeleteManualEventsBefore(now.AddDate(0, 0, -60))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
	events, err := s.ListManualEvents(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Title != "fresh" {
		t.Fatalf("events = %+v", events)
	}
}

func TestListManualEventsRange(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	for i, title := range []string{"monday", "tuesday", "wednesday"} {
		start := base.AddDate(0, 0, i)
		if _, err := s.AddManualEvent(model.ManualEvent{
			Start: start, End: start.Add(2 * time.Hour), Title: title,
		}); err != nil {
			t.Fatal(err)
		}
	}

	events, err := s.ListManualEvents(base.AddDate(0, 0, 1), base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Title != "tuesday" {
		t.Fatalf("events = %+v, want just tuesday", events)
	}

	// Open upper bound.
	events, err = s.ListManualEvents(base.AddDate(0, 0, 1), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

const rosterCSV = `Nume_Sala,Email_Sala,Cladire,Optiune_Delegat,PublishedCalendarUrl,PublishedICalUrl
DAIC 479,utcn_room_ac_daic_479@campus.utcluj.ro,,delegat,https://outlook.example/published/479,https://outlook.example/published/479.ics
Baritiu BT5.03,utcn_room_ac_bar_bt-503@campus.utcluj.ro,Baritiu,,https://outlook.example/published/bt503,
,,,,,
`

func TestImportCSV(t *testing.T) {
	s := newTestStore(t)

	report, err := s.ImportCSV(strings.NewReader(rosterCSV))
	if err != nil {
		t.Fatal(err)
	}
	if report.Inserted != 2 || report.Skipped != 1 {
		t.Fatalf("report = %+v", report)
	}

	sources, err := s.ListSources(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 2 {
		t.Fatalf("sources = %d", len(sources))
	}

	var daic model.CalendarSource
	for _, src := range sources {
		if src.DisplayName == "DAIC 479" {
			daic = src
		}
	}
	if daic.Room != "479" {
		t.Errorf("room = %q, want parsed from email", daic.Room)
	}
	if daic.Building != "DAIC" {
		t.Errorf("building = %q, want derived from email", daic.Building)
	}
	if daic.ICSURL == "" {
		t.Error("ics url not imported")
	}
	if !daic.Enabled {
		t.Error("new source not enabled")
	}
}

func TestImportCSVIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ImportCSV(strings.NewReader(rosterCSV)); err != nil {
		t.Fatal(err)
	}
	report, err := s.ImportCSV(strings.NewReader(rosterCSV))
	if err != nil {
		t.Fatal(err)
	}
	if report.Inserted != 0 || report.Updated != 2 {
		t.Fatalf("second import report = %+v", report)
	}
	sources, err := s.ListSources(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 2 {
		t.Fatalf("re-import duplicated rows: %d", len(sources))
	}
}

func TestColorForIsStable(t *testing.T) {
	a := colorFor("https://outlook.example/published/479")
	b := colorFor("https://outlook.example/published/479")
	if a != b {
		t.Fatalf("colorFor not deterministic: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "#") {
		t.Fatalf("color %q is not a hex color", a)
	}
}
