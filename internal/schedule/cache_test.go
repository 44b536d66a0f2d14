package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stefi19/roomsched/internal/artifact"
	"github.com/stefi19/roomsched/internal/hashutil"
	"github.com/stefi19/roomsched/internal/model"
)

// countingRebuilder writes a trivial schedule and counts invocations.
type countingRebuilder struct {
	store *artifact.Store
	calls int
	fail  error
}

func (r *countingRebuilder) Rebuild() error {
	r.calls++
	if r.fail != nil {
		return r.fail
	}
	fp, err := hashutil.Dir(r.store.Dir())
	if err != nil {
		return err
	}
	sched := &model.MergedSchedule{
		Rooms:  map[string][]model.Event{},
		Events: []model.Event{},
	}
	return r.store.WriteSchedule(sched, map[string]model.CalendarMeta{}, fp)
}

func newTestCache(t *testing.T) (*Cache, *artifact.Store, *countingRebuilder) {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rb := &countingRebuilder{store: store}
	return NewCache(store, rb), store, rb
}

func TestEnsureRebuildsOnce(t *testing.T) {
	cache, _, rb := newTestCache(t)
	ctx := context.Background()

	if _, _, err := cache.Ensure(ctx); err != nil {
		t.Fatal(err)
	}
	if rb.calls != 1 {
		t.Fatalf("rebuilds = %d, want 1", rb.calls)
	}

	// Second call within the TTL hits the in-memory snapshot.
	if _, _, err := cache.Ensure(ctx); err != nil {
		t.Fatal(err)
	}
	if rb.calls != 1 {
		t.Fatalf("rebuilds after cached read = %d, want 1", rb.calls)
	}
}

func TestEnsureRebuildsWhenArtifactsChange(t *testing.T) {
	cache, store, rb := newTestCache(t)
	ctx := context.Background()

	if _, _, err := cache.Ensure(ctx); err != nil {
		t.Fatal(err)
	}

	// New artifact lands and the TTL expires: next read must rebuild.
	if err := store.WriteEvents("abcd1234", []model.Event{{
		Source: "abcd1234",
		Start:  time.Now(),
		End:    time.Now().Add(time.Hour),
		Title:  "FP",
	}}); err != nil {
		t.Fatal(err)
	}
	cache.now = func() time.Time { return time.Now().Add(2 * defaultTTL) }

	if _, _, err := cache.Ensure(ctx); err != nil {
		t.Fatal(err)
	}
	if rb.calls != 2 {
		t.Fatalf("rebuilds = %d, want 2", rb.calls)
	}
}

func TestEnsureSkipsRebuildWhenDiskIsFresh(t *testing.T) {
	cache, store, rb := newTestCache(t)
	ctx := context.Background()

	// Simulate another process having already rebuilt: schedule and
	// fingerprint on disk match the directory.
	if err := rb.Rebuild(); err != nil {
		t.Fatal(err)
	}
	rb.calls = 0
	_ = store

	if _, _, err := cache.Ensure(ctx); err != nil {
		t.Fatal(err)
	}
	if rb.calls != 0 {
		t.Fatalf("rebuilds = %d, want 0 (disk was fresh)", rb.calls)
	}
}

func TestEnsureServesStaleScheduleWhenRebuildFails(t *testing.T) {
	cache, store, rb := newTestCache(t)
	ctx := context.Background()

	if _, _, err := cache.Ensure(ctx); err != nil {
		t.Fatal(err)
	}

	// A new artifact makes the cached schedule stale, and the rebuild breaks.
	if err := store.WriteEvents("abcd1234", []model.Event{{
		Source: "abcd1234", Start: time.Now(), End: time.Now().Add(time.Hour), Title: "FP",
	}}); err != nil {
		t.Fatal(err)
	}
	rb.fail = errors.New("merge exploded")
	cache.now = func() time.Time { return time.Now().Add(2 * defaultTTL) }

	sched, calMap, err := cache.Ensure(ctx)
	if err != nil {
		t.Fatalf("Ensure returned %v, want stale schedule", err)
	}
	if sched == nil || calMap == nil {
		t.Fatal("stale schedule not served")
	}
	if msg := cache.LastRebuildError(); msg == "" {
		t.Fatal("rebuild failure not recorded")
	}

	// Recovery: the next check past the TTL retries and clears the error.
	rb.fail = nil
	cache.now = func() time.Time { return time.Now().Add(4 * defaultTTL) }
	if _, _, err := cache.Ensure(ctx); err != nil {
		t.Fatal(err)
	}
	if msg := cache.LastRebuildError(); msg != "" {
		t.Fatalf("rebuild error not cleared: %q", msg)
	}
}

func TestInvalidateForcesRecheck(t *testing.T) {
	cache, store, rb := newTestCache(t)
	ctx := context.Background()

	if _, _, err := cache.Ensure(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteEvents("feedbeef", []model.Event{{
		Source: "feedbeef", Start: time.Now(), End: time.Now().Add(time.Hour), Title: "AI",
	}}); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate()

	if _, _, err := cache.Ensure(ctx); err != nil {
		t.Fatal(err)
	}
	if rb.calls != 2 {
		t.Fatalf("rebuilds = %d, want 2 after invalidate", rb.calls)
	}
}
