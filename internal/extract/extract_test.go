package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stefi19/roomsched/internal/artifact"
	"github.com/stefi19/roomsched/internal/hashutil"
	"github.com/stefi19/roomsched/internal/model"
	"github.com/stefi19/roomsched/internal/parse"
	"github.com/stefi19/roomsched/internal/render"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeICS struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  int
}

func (f *fakeICS) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, errors.New("unexpected url " + url)
	}
	return []byte(body), nil
}

type fakeRenderer struct {
	mu    sync.Mutex
	items map[string][]render.RawItem
	errs  map[string]error
	calls int
}

func (f *fakeRenderer) Extract(ctx context.Context, url string) ([]render.RawItem, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	return f.items[url], nil
}

type fakeSources struct {
	mu      sync.Mutex
	sources []model.CalendarSource
	touched []int64
}

func (f *fakeSources) ListSources(enabledOnly bool) ([]model.CalendarSource, error) {
	return f.sources, nil
}

func (f *fakeSources) TouchLastFetched(id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	return nil
}

type fakeMerger struct {
	mu    sync.Mutex
	calls int
	block chan struct{}
}

func (f *fakeMerger) Rebuild() error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil
}

func feedWith(title string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//T//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:u1\r\n" +
		"DTSTART:20260310T080000Z\r\nDTEND:20260310T100000Z\r\n" +
		"SUMMARY:" + title + "\r\n" +
		"LOCATION:utcn_room_ac_daic_479@campus.utcluj.ro\r\n" +
		"END:VEVENT\r\nEND:VCALENDAR\r\n"
}

func newTestExtractor(t *testing.T, ics *fakeICS, renderer *fakeRenderer) (*Extractor, *artifact.Store) {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ex := &Extractor{
		ICS:        ics,
		Renderer:   renderer,
		Artifacts:  store,
		Abbrevs:    parse.NewAbbrevMap(),
		WindowDays: 60,
		Now:        func() time.Time { return testNow },
	}
	return ex, store
}

func TestExtractorNormalizeDedupes(t *testing.T) {
	ex, _ := newTestExtractor(t, &fakeICS{}, &fakeRenderer{})
	src := model.CalendarSource{PrimaryURL: "https://cal/a", DisplayName: "DAIC 479", Room: "479"}

	events := []model.Event{
		{Start: testNow, End: testNow.Add(time.Hour), Title: "FP 479"},
		{Start: testNow, End: testNow.Add(time.Hour), Title: "FP 479"},
		{Start: testNow.Add(2 * time.Hour), End: testNow.Add(3 * time.Hour), Title: "FP 479"},
	}
	out := ex.normalize(src, events)
	if len(out) != 2 {
		t.Fatalf("got %d events after dedupe, want 2", len(out))
	}
	for _, ev := range out {
		if ev.Source != hashutil.SourceHash(src.PrimaryURL) {
			t.Errorf("source = %q", ev.Source)
		}
	}
}

func TestExtractorFromICSParsesFields(t *testing.T) {
	icsClient := &fakeICS{bodies: map[string]string{
		"https://cal/a.ics": feedWith("Functional programming (FP) - R. Slavescu - 40 [In-person]"),
	}}
	ex, store := newTestExtractor(t, icsClient, &fakeRenderer{})
	src := model.CalendarSource{
		PrimaryURL: "https://cal/a", ICSURL: "https://cal/a.ics",
		DisplayName: "DAIC 479 CTI 3A", Color: "#123456",
	}

	n, err := ex.FromICS(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("n = %d", n)
	}

	events, err := store.ReadEvents(hashutil.SourceHash(src.PrimaryURL))
	if err != nil {
		t.Fatal(err)
	}
	ev := events[0]
	if ev.Subject != "Functional Programming" {
		t.Errorf("subject = %q", ev.Subject)
	}
	if ev.Professor != "R. Slavescu" {
		t.Errorf("professor = %q", ev.Professor)
	}
	if ev.Room != "479" {
		t.Errorf("room = %q, want from location email", ev.Room)
	}
	if ev.Building != "DAIC" {
		t.Errorf("building = %q", ev.Building)
	}
	if ev.GroupDisplay != "Year 3 • Group A" {
		t.Errorf("group = %q", ev.GroupDisplay)
	}
	if ev.Color != "#123456" {
		t.Errorf("color = %q", ev.Color)
	}
}

func TestExtractorFromRendererRespectsWindow(t *testing.T) {
	renderer := &fakeRenderer{items: map[string][]render.RawItem{
		"https://cal/b": {
			{Subject: "inside", Start: testNow, End: testNow.Add(time.Hour)},
			{Subject: "way past", Start: testNow.AddDate(1, 0, 0), End: testNow.AddDate(1, 0, 0).Add(time.Hour)},
		},
	}}
	ex, store := newTestExtractor(t, &fakeICS{}, renderer)
	src := model.CalendarSource{PrimaryURL: "https://cal/b"}

	n, err := ex.FromRenderer(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1 (outside-window item dropped)", n)
	}
	events, err := store.ReadEvents(hashutil.SourceHash(src.PrimaryURL))
	if err != nil {
		t.Fatal(err)
	}
	if events[0].Title != "inside" {
		t.Fatalf("events = %+v", events)
	}
}

func newTestOrchestrator(t *testing.T, sources []model.CalendarSource, icsClient *fakeICS, renderer *fakeRenderer) (*Orchestrator, *artifact.Store, *fakeSources, *fakeMerger) {
	t.Helper()
	ex, store := newTestExtractor(t, icsClient, renderer)
	srcList := &fakeSources{sources: sources}
	merger := &fakeMerger{}
	orch := NewOrchestrator(ex, srcList, store, merger, 4, 2)
	return orch, store, srcList, merger
}

func TestRunAllICS(t *testing.T) {
	sources := []model.CalendarSource{
		{ID: 1, PrimaryURL: "https://cal/a", ICSURL: "https://cal/a.ics", DisplayName: "A", Enabled: true},
		{ID: 2, PrimaryURL: "https://cal/b", ICSURL: "https://cal/b.ics", DisplayName: "B", Enabled: true},
	}
	icsClient := &fakeICS{bodies: map[string]string{
		"https://cal/a.ics": feedWith("FP 479"),
		"https://cal/b.ics": feedWith("AI 26B"),
	}}
	renderer := &fakeRenderer{}
	orch, store, srcList, merger := newTestOrchestrator(t, sources, icsClient, renderer)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if renderer.calls != 0 {
		t.Errorf("renderer called %d times, want 0", renderer.calls)
	}
	if merger.calls != 1 {
		t.Errorf("merge called %d times, want 1", merger.calls)
	}
	if len(srcList.touched) != 2 {
		t.Errorf("touched = %v", srcList.touched)
	}

	p, err := store.ReadProgress()
	if err != nil {
		t.Fatal(err)
	}
	if !p.Finished || p.Succeeded != 2 || p.Failed != 0 || p.Total != 2 {
		t.Fatalf("progress = %+v", p)
	}
	if p.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}
}

func TestRunEmptyFeedSucceedsWithoutRenderer(t *testing.T) {
	sources := []model.CalendarSource{
		{ID: 1, PrimaryURL: "https://cal/quiet", ICSURL: "https://cal/quiet.ics", DisplayName: "Quiet", Enabled: true},
	}
	icsClient := &fakeICS{bodies: map[string]string{
		"https://cal/quiet.ics": "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//T//EN\r\nEND:VCALENDAR\r\n",
	}}
	renderer := &fakeRenderer{}
	orch, store, srcList, _ := newTestOrchestrator(t, sources, icsClient, renderer)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A feed with zero events is a success: no browser fallback.
	if renderer.calls != 0 {
		t.Errorf("renderer calls = %d, want 0", renderer.calls)
	}

	hash := hashutil.SourceHash("https://cal/quiet")
	hashes, err := store.ListEventHashes()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, h := range hashes {
		if h == hash {
			found = true
		}
	}
	if !found {
		t.Fatalf("no artifact written for the empty feed, hashes = %v", hashes)
	}
	events, err := store.ReadEvents(hash)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("artifact has %d events, want 0", len(events))
	}

	p, _ := store.ReadProgress()
	if p.Succeeded != 1 || p.Failed != 0 {
		t.Fatalf("progress = %+v", p)
	}
	if len(srcList.touched) != 1 {
		t.Errorf("touched = %v, want the empty-feed source", srcList.touched)
	}
}

func TestRunICSFailureFallsBackToRenderer(t *testing.T) {
	sources := []model.CalendarSource{
		{ID: 1, PrimaryURL: "https://cal/a", ICSURL: "https://cal/a.ics", DisplayName: "A", Enabled: true},
	}
	icsClient := &fakeICS{errs: map[string]error{
		"https://cal/a.ics": errors.New("boom"),
	}}
	renderer := &fakeRenderer{items: map[string][]render.RawItem{
		"https://cal/a": {{Subject: "FP 479", Start: testNow, End: testNow.Add(time.Hour)}},
	}}
	orch, store, _, _ := newTestOrchestrator(t, sources, icsClient, renderer)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if renderer.calls != 1 {
		t.Fatalf("renderer calls = %d, want 1", renderer.calls)
	}
	p, _ := store.ReadProgress()
	if p.Succeeded != 1 || p.Failed != 0 {
		t.Fatalf("progress = %+v", p)
	}
}

func TestRunSourceWithoutFeedGoesStraightToRenderer(t *testing.T) {
	sources := []model.CalendarSource{
		{ID: 1, PrimaryURL: "https://cal/nofeed", DisplayName: "NF", Enabled: true},
	}
	icsClient := &fakeICS{}
	renderer := &fakeRenderer{items: map[string][]render.RawItem{
		"https://cal/nofeed": {{Subject: "SCS p 103", Start: testNow, End: testNow.Add(time.Hour)}},
	}}
	orch, _, _, _ := newTestOrchestrator(t, sources, icsClient, renderer)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if icsClient.calls != 0 {
		t.Errorf("ics calls = %d, want 0", icsClient.calls)
	}
	if renderer.calls != 1 {
		t.Errorf("renderer calls = %d, want 1", renderer.calls)
	}
}

func TestRunBothPhasesFailCountsFailure(t *testing.T) {
	sources := []model.CalendarSource{
		{ID: 1, PrimaryURL: "https://cal/bad", ICSURL: "https://cal/bad.ics", DisplayName: "Bad", Enabled: true},
	}
	icsClient := &fakeICS{errs: map[string]error{"https://cal/bad.ics": errors.New("ics down")}}
	renderer := &fakeRenderer{errs: map[string]error{"https://cal/bad": errors.New("render down")}}
	orch, store, srcList, merger := newTestOrchestrator(t, sources, icsClient, renderer)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	p, _ := store.ReadProgress()
	if !p.Finished || p.Failed != 1 || p.Succeeded != 0 {
		t.Fatalf("progress = %+v", p)
	}
	if len(srcList.touched) != 0 {
		t.Errorf("failed source was touched: %v", srcList.touched)
	}
	// Merge still runs so partial results reach the schedule.
	if merger.calls != 1 {
		t.Errorf("merge calls = %d, want 1", merger.calls)
	}
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	sources := []model.CalendarSource{
		{ID: 1, PrimaryURL: "https://cal/a", ICSURL: "https://cal/a.ics", DisplayName: "A", Enabled: true},
	}
	icsClient := &fakeICS{bodies: map[string]string{"https://cal/a.ics": feedWith("FP 479")}}
	orch, _, _, merger := newTestOrchestrator(t, sources, icsClient, &fakeRenderer{})
	merger.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- orch.Run(context.Background()) }()

	// Wait until the first run parks inside the merge phase.
	deadline := time.After(5 * time.Second)
	for !orch.Running() {
		select {
		case <-deadline:
			t.Fatal("first run never started")
		case <-time.After(10 * time.Millisecond):
		}
	}
	for orch.Progress() == nil || orch.Progress().CurrentPhase != model.PhaseMerge {
		select {
		case <-deadline:
			t.Fatal("first run never reached merge phase")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := orch.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second run err = %v, want ErrAlreadyRunning", err)
	}

	close(merger.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if orch.Running() {
		t.Fatal("still marked running after completion")
	}
}

func TestRunWritesSubjectMap(t *testing.T) {
	sources := []model.CalendarSource{
		{ID: 1, PrimaryURL: "https://cal/a", ICSURL: "https://cal/a.ics", DisplayName: "A", Enabled: true},
	}
	icsClient := &fakeICS{bodies: map[string]string{
		"https://cal/a.ics": feedWith("Functional programming (FP) - R. Slavescu - 40"),
	}}
	orch, store, _, _ := newTestOrchestrator(t, sources, icsClient, &fakeRenderer{})

	if err := orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	m, err := store.ReadSubjectMap()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.EqualFold(m["FP"], "Functional Programming") {
		t.Fatalf("subject map = %v", m)
	}
}
