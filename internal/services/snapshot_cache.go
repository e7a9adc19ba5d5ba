package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultBackgroundRefreshTimeout = 10 * time.Second

// snapshotCache holds an immutable value fetched from a slow source. Readers never block on a
// refresh once a value is installed. Each fetch is tagged with a generation; results older than the
// installed value or than the invalidation floor are discarded.
type snapshotCache[T any] struct {
	name    string
	ttl     time.Duration
	fetch   func(context.Context) (T, error)
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
	metrics Metrics

	current atomic.Pointer[cacheEntry[T]]
	seq     atomic.Uint64
	floor   atomic.Uint64
	group   singleflight.Group
}

type cacheEntry[T any] struct {
	value      T
	generation uint64
	fetchedAt  time.Time
	expiresAt  time.Time
}

func newSnapshotCache[T any](name string, ttl time.Duration, fetch func(context.Context) (T, error), now func() time.Time, logger func(context.Context, string, map[string]any), metrics Metrics) *snapshotCache[T] {
	return &snapshotCache[T]{
		name:    name,
		ttl:     ttl,
		fetch:   fetch,
		now:     now,
		logger:  logger,
		metrics: metrics,
	}
}

// Get returns the cached value, loading it on first use. A stale value is returned immediately while
// a background refresh runs.
func (c *snapshotCache[T]) Get(ctx context.Context) (T, error) {
	entry := c.current.Load()
	if entry != nil && c.fresh(entry) {
		return entry.value, nil
	}
	if entry != nil {
		c.refreshInBackground()
		return entry.value, nil
	}

	value, err, _ := c.group.Do(c.flightKey(), func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return value.(T), nil
}

// Refresh fetches synchronously and returns the installed value.
func (c *snapshotCache[T]) Refresh(ctx context.Context) (T, error) {
	value, err, _ := c.group.Do(c.flightKey(), func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return value.(T), nil
}

// Invalidate marks every fetch started so far as superseded. The next Get refreshes.
func (c *snapshotCache[T]) Invalidate() {
	c.floor.Store(c.seq.Load() + 1)
}

// FetchedAt reports when the installed value was loaded.
func (c *snapshotCache[T]) FetchedAt() (time.Time, bool) {
	entry := c.current.Load()
	if entry == nil {
		return time.Time{}, false
	}
	return entry.fetchedAt, true
}

func (c *snapshotCache[T]) fresh(entry *cacheEntry[T]) bool {
	if entry.generation < c.floor.Load() {
		return false
	}
	return c.now().Before(entry.expiresAt)
}

func (c *snapshotCache[T]) flightKey() string {
	return fmt.Sprintf("refresh-%d", c.floor.Load())
}

func (c *snapshotCache[T]) refreshInBackground() {
	c.group.DoChan(c.flightKey(), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultBackgroundRefreshTimeout)
		defer cancel()
		return c.refresh(ctx)
	})
}

func (c *snapshotCache[T]) refresh(ctx context.Context) (T, error) {
	gen := c.seq.Add(1)
	value, err := c.fetch(ctx)
	if err != nil {
		c.metrics.RecordCacheRefresh(ctx, c.name, "error")
		fields := map[string]any{"error": err.Error(), "generation": gen}
		if entry := c.current.Load(); entry != nil {
			fields["servingFetchedAt"] = entry.fetchedAt
		}
		c.logger(ctx, c.name+".refresh_failed", fields)
		var zero T
		return zero, err
	}

	fetchedAt := c.now()
	candidate := &cacheEntry[T]{
		value:      value,
		generation: gen,
		fetchedAt:  fetchedAt,
		expiresAt:  fetchedAt.Add(c.ttl),
	}
	for {
		if gen < c.floor.Load() {
			c.metrics.RecordCacheRefresh(ctx, c.name, "superseded")
			c.logger(ctx, c.name+".refresh_superseded", map[string]any{"generation": gen})
			if entry := c.current.Load(); entry != nil && entry.generation >= c.floor.Load() {
				return entry.value, nil
			}
			// nothing newer exists yet; serve this result without installing it
			return value, nil
		}
		existing := c.current.Load()
		if existing != nil && existing.generation >= gen {
			c.metrics.RecordCacheRefresh(ctx, c.name, "superseded")
			return existing.value, nil
		}
		if c.current.CompareAndSwap(existing, candidate) {
			c.metrics.RecordCacheRefresh(ctx, c.name, "ok")
			return value, nil
		}
	}
}
