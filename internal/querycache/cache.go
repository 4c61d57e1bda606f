// Package querycache holds the result of the one active analysis query of a panel.
//
// The entry carries a generation counter. Every key change or refresh bumps it, and a
// fetch that completes for an older generation is reported as ErrStale and never stored.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"CryptoAgent/internal/domain/models"

	"golang.org/x/sync/singleflight"
)

// ErrStale is returned when a fetch finished after its key or generation was superseded.
var ErrStale = errors.New("stale query result")

// ErrNoKey is returned by Refresh when no key has been loaded yet.
var ErrNoKey = errors.New("no active query key")

// Status of the cache entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// FetchFunc performs the actual request for a key.
type FetchFunc[V any] func(ctx context.Context, key models.QueryKey) (V, error)

// Entry is a copy of the cache state.
type Entry[V any] struct {
	Key        models.QueryKey
	Status     Status
	Value      V
	HasValue   bool
	Err        error
	Generation uint64
	UpdatedAt  time.Time
}

// Result is what Load and Refresh hand back: the value and the generation it belongs to.
type Result[V any] struct {
	Value      V
	Generation uint64
	Cached     bool
}

// Cache is a keyed single-entry cache with request de-duplication.
type Cache[V any] struct {
	fetch FetchFunc[V]
	group singleflight.Group
	now   func() time.Time

	mu    sync.Mutex
	entry Entry[V]
}

// New creates an idle cache around fetch.
func New[V any](fetch FetchFunc[V]) *Cache[V] {
	return &Cache[V]{
		fetch: fetch,
		now:   time.Now,
		entry: Entry[V]{Status: StatusIdle},
	}
}

// Load returns the value for key.
//   - same key, ready: the cached value, no request.
//   - same key, pending: joins the in-flight request.
//   - new key: drops the previous entry, bumps the generation and fetches.
//
// A same-key entry in error state is fetched again.
func (c *Cache[V]) Load(ctx context.Context, key models.QueryKey) (Result[V], error) {
	c.mu.Lock()
	if c.entry.Key == key && c.entry.Generation > 0 {
		switch c.entry.Status {
		case StatusReady:
			res := Result[V]{Value: c.entry.Value, Generation: c.entry.Generation, Cached: true}
			c.mu.Unlock()
			return res, nil
		case StatusPending:
			gen := c.entry.Generation
			c.mu.Unlock()
			return c.await(ctx, key, gen)
		}
	}

	gen := c.begin(key, c.entry.Key != key)
	c.mu.Unlock()
	return c.await(ctx, key, gen)
}

// Refresh re-fetches the active key under a new generation. The previous value stays
// readable through Current until the new one resolves.
func (c *Cache[V]) Refresh(ctx context.Context) (Result[V], error) {
	c.mu.Lock()
	if c.entry.Generation == 0 || c.entry.Key.IsZero() {
		c.mu.Unlock()
		return Result[V]{}, ErrNoKey
	}
	key := c.entry.Key
	gen := c.begin(key, false)
	c.mu.Unlock()
	return c.await(ctx, key, gen)
}

// Invalidate forgets the entry. In-flight fetches become stale.
func (c *Cache[V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = Entry[V]{Status: StatusIdle, Generation: c.entry.Generation + 1, UpdatedAt: c.now()}
}

// Current returns a copy of the entry.
func (c *Cache[V]) Current() Entry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry
}

// IsCurrent reports whether gen is still the active generation.
func (c *Cache[V]) IsCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry.Generation == gen
}

// begin must be called with mu held.
func (c *Cache[V]) begin(key models.QueryKey, reset bool) uint64 {
	next := Entry[V]{
		Key:        key,
		Status:     StatusPending,
		Generation: c.entry.Generation + 1,
		UpdatedAt:  c.now(),
	}
	if !reset {
		next.Value = c.entry.Value
		next.HasValue = c.entry.HasValue
	}
	c.entry = next
	return next.Generation
}

func (c *Cache[V]) await(ctx context.Context, key models.QueryKey, gen uint64) (Result[V], error) {
	flight := fmt.Sprintf("%s#%d", key, gen)
	ch := c.group.DoChan(flight, func() (interface{}, error) {
		// Detached from the first caller's cancellation so joiners still get a result.
		v, err := c.fetch(context.WithoutCancel(ctx), key)
		c.settle(gen, v, err)
		return v, err
	})

	select {
	case <-ctx.Done():
		return Result[V]{}, ctx.Err()
	case r := <-ch:
		if !c.IsCurrent(gen) {
			return Result[V]{}, fmt.Errorf("%w: %s generation %d", ErrStale, key, gen)
		}
		if r.Err != nil {
			return Result[V]{}, r.Err
		}
		v, _ := r.Val.(V)
		return Result[V]{Value: v, Generation: gen}, nil
	}
}

func (c *Cache[V]) settle(gen uint64, v V, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry.Generation != gen {
		return
	}
	c.entry.UpdatedAt = c.now()
	if err != nil {
		c.entry.Status = StatusError
		c.entry.Err = err
		return
	}
	c.entry.Status = StatusReady
	c.entry.Value = v
	c.entry.HasValue = true
	c.entry.Err = nil
}
