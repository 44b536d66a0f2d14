// Package schedule serves the merged schedule to readers, rebuilding it only
// when the artifact directory has actually changed. Freshness is a cheap
// stat-only fingerprint; rebuilds are guarded by a file lock so multiple
// processes sharing the artifact directory do the work once.
package schedule

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/stefi19/roomsched/internal/artifact"
	"github.com/stefi19/roomsched/internal/hashutil"
	"github.com/stefi19/roomsched/internal/logging"
	"github.com/stefi19/roomsched/internal/model"
)

// defaultTTL is how long a fingerprint check is trusted before re-statting
// the artifact directory.
const defaultTTL = 60 * time.Second

// Rebuilder regenerates the on-disk schedule. Satisfied by *merge.Merger.
type Rebuilder interface {
	Rebuild() error
}

// Cache is the single entry point for schedule reads.
type Cache struct {
	artifacts *artifact.Store
	rebuild   Rebuilder
	ttl       time.Duration
	lock      *flock.Flock
	log       zerolog.Logger

	// now is test-overridable.
	now func() time.Time

	mu        chan struct{} // 1-slot semaphore, held across slow rebuilds
	cached    *model.MergedSchedule
	cachedMap map[string]model.CalendarMeta
	cachedFP  hashutil.Fingerprint
	checkedAt time.Time

	errMu      sync.Mutex
	rebuildErr string
}

// NewCache wires a cache over the artifact store.
func NewCache(artifacts *artifact.Store, rebuild Rebuilder) *Cache {
	c := &Cache{
		artifacts: artifacts,
		rebuild:   rebuild,
		ttl:       defaultTTL,
		lock:      flock.New(filepath.Join(artifacts.Dir(), ".schedule.lock")),
		log:       logging.Component("schedule"),
		now:       time.Now,
		mu:        make(chan struct{}, 1),
	}
	return c
}

// Ensure returns a schedule and calendar map no staler than the artifact
// directory plus the TTL. The returned values are shared snapshots; callers
// must not mutate them.
func (c *Cache) Ensure(ctx context.Context) (*model.MergedSchedule, map[string]model.CalendarMeta, error) {
	select {
	case c.mu <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	defer func() { <-c.mu }()

	now := c.now()
	if c.cached != nil && now.Sub(c.checkedAt) < c.ttl {
		return c.cached, c.cachedMap, nil
	}

	dirFP, err := hashutil.Dir(c.artifacts.Dir())
	if err != nil {
		return nil, nil, err
	}
	if c.cached != nil && dirFP.Equal(c.cachedFP) {
		c.checkedAt = now
		return c.cached, c.cachedMap, nil
	}

	// The directory moved on from what we have cached. Take the
	// cross-process lock; whoever gets it first rebuilds, the rest load the
	// fresh result from disk.
	locked, err := c.lock.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule: lock: %w", err)
	}
	if !locked {
		return nil, nil, fmt.Errorf("schedule: could not acquire rebuild lock")
	}
	defer c.lock.Unlock()

	diskFP, fpErr := c.artifacts.ReadScheduleFingerprint()
	if fpErr != nil {
		c.log.Warn().Err(fpErr).Msg("unreadable schedule fingerprint, forcing rebuild")
	}

	// Missing or corrupt schedule file also forces a rebuild.
	sched, readErr := c.artifacts.ReadSchedule()
	needRebuild := fpErr != nil || !diskFP.Equal(dirFP) || readErr != nil

	if needRebuild {
		c.log.Info().Str("have", diskFP.String()).Str("want", dirFP.String()).
			Msg("schedule stale, rebuilding")
		if rerr := c.rebuild.Rebuild(); rerr != nil {
			c.setRebuildError(rerr)
			c.log.Error().Err(rerr).Msg("rebuild failed, serving last good schedule")
			// Readers keep the previous merged schedule. Keeping the stale
			// fingerprint means the next check past the TTL retries the
			// rebuild.
			if readErr == nil {
				calMap, merr := c.artifacts.ReadCalendarMap()
				if merr != nil {
					return c.staleSnapshot(now, rerr)
				}
				c.cached = sched
				c.cachedMap = calMap
				c.cachedFP = diskFP
				c.checkedAt = now
				return sched, calMap, nil
			}
			return c.staleSnapshot(now, rerr)
		}
		c.setRebuildError(nil)
		sched, readErr = c.artifacts.ReadSchedule()
		if readErr != nil {
			return nil, nil, fmt.Errorf("schedule: load after rebuild: %w", readErr)
		}
	}
	calMap, err := c.artifacts.ReadCalendarMap()
	if err != nil {
		return nil, nil, err
	}

	c.cached = sched
	c.cachedMap = calMap
	c.cachedFP = dirFP
	c.checkedAt = now
	return sched, calMap, nil
}

// staleSnapshot serves the in-memory snapshot when both the rebuild and the
// on-disk schedule are unusable. Only a process that never saw a good
// schedule gives up with an error.
func (c *Cache) staleSnapshot(now time.Time, err error) (*model.MergedSchedule, map[string]model.CalendarMeta, error) {
	if c.cached != nil {
		c.checkedAt = now
		return c.cached, c.cachedMap, nil
	}
	return nil, nil, err
}

func (c *Cache) setRebuildError(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if err == nil {
		c.rebuildErr = ""
	} else {
		c.rebuildErr = err.Error()
	}
}

// LastRebuildError reports the most recent failed rebuild, empty once a
// rebuild succeeds again.
func (c *Cache) LastRebuildError() string {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.rebuildErr
}

// Fingerprint stats the artifact directory for status reporting.
func (c *Cache) Fingerprint() (hashutil.Fingerprint, error) {
	return hashutil.Dir(c.artifacts.Dir())
}

// Invalidate drops the in-memory snapshot so the next Ensure re-checks disk.
func (c *Cache) Invalidate() {
	c.mu <- struct{}{}
	c.cached = nil
	c.cachedMap = nil
	c.checkedAt = time.Time{}
	<-c.mu
}
