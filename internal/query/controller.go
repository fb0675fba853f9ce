// Package query keeps cached collections fresh against the remote store.
//
// Each collection key moves through idle -> fetching -> {fresh, error}. A
// fresh key goes back to fetching once its stale time has passed or when it
// is invalidated; an errored key is retried by the next Load or Refetch.
// Loads are disabled, not failed, while the identity is unresolved.
//
// All bookkeeping lives on the scheduler loop. Remote reads run on their
// own goroutines and post their results back, where a fetch token decides
// whether the result still applies.
package query

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/cache"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/identity"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/observability"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/remote"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/scheduler"
	appErrors "github.com/dinakaranthiru/meds-buddy-check-tracker/pkg/errors"
)

// DefaultStaleTime is how long a fetched collection is served without
// going back to the remote store.
const DefaultStaleTime = 5 * time.Minute

// Status describes where a key is in its fetch lifecycle.
type Status string

const (
	StatusNotReady Status = "not_ready"
	StatusIdle     Status = "idle"
	StatusFetching Status = "fetching"
	StatusFresh    Status = "fresh"
	StatusError    Status = "error"
)

// Fetch outcomes reported to metrics.
const (
	outcomeSuccess  = "success"
	outcomeError    = "error"
	outcomeCanceled = "canceled"
)

// Result is what a caller sees for one collection.
type Result struct {
	Key     cache.Key
	Status  Status
	Records []medication.Record
	// Present is false when the collection has never been fetched,
	// which is different from an empty collection.
	Present bool
	Err     error
}

// Options tune the controller.
type Options struct {
	StaleTime time.Duration
	// RefetchOnInvalidate starts a background fetch when a key the current
	// owner has loaded is invalidated.
	RefetchOnInvalidate bool
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		StaleTime:           DefaultStaleTime,
		RefetchOnInvalidate: true,
	}
}

// keyState is the loop-confined bookkeeping for one key.
type keyState struct {
	err     error
	waiters []chan Result
}

// Controller runs the read side of the cache.
type Controller struct {
	loop     *scheduler.Loop
	store    *cache.Store
	remote   remote.Store
	identity identity.Source
	metrics  *observability.Collector
	logger   *zap.Logger

	staleTime           atomic.Int64
	refetchOnInvalidate bool

	// Loop-confined.
	states map[cache.Key]*keyState
	kinds  map[string]struct{}

	baseCtx   context.Context
	cancelAll context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
	unwatch   func()
}

// NewController wires a controller to the cache store. Call Start to follow
// identity changes.
func NewController(
	loop *scheduler.Loop,
	store *cache.Store,
	remoteStore remote.Store,
	source identity.Source,
	opts Options,
	metrics *observability.Collector,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StaleTime <= 0 {
		opts.StaleTime = DefaultStaleTime
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		loop:                loop,
		store:               store,
		remote:              remoteStore,
		identity:            source,
		metrics:             metrics,
		logger:              logger,
		refetchOnInvalidate: opts.RefetchOnInvalidate,
		states:              make(map[cache.Key]*keyState),
		kinds:               make(map[string]struct{}),
		baseCtx:             ctx,
		cancelAll:           cancel,
	}
	c.staleTime.Store(int64(opts.StaleTime))

	// Registration must happen on the loop like every other store call.
	loop.Post(func() {
		store.OnInvalidate(c.handleInvalidate)
	})
	return c
}

// Start subscribes to identity changes so loaded kinds are fetched for a
// newly resolved owner.
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		c.unwatch = c.identity.Watch(func(id identity.Identity) {
			c.loop.Post(func() { c.handleIdentity(id) })
		})
	})
}

// Stop unsubscribes from identity changes and cancels outstanding reads.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		if c.unwatch != nil {
			c.unwatch()
		}
		c.cancelAll()
	})
}

// StaleTime returns the current freshness window.
func (c *Controller) StaleTime() time.Duration {
	return time.Duration(c.staleTime.Load())
}

// SetStaleTime changes the freshness window. Safe to call from any goroutine.
func (c *Controller) SetStaleTime(d time.Duration) {
	if d <= 0 {
		return
	}
	c.staleTime.Store(int64(d))
	c.logger.Info("Stale time updated", zap.Duration("stale_time", d))
}

// Load returns the collection of kind for the current owner, fetching it
// when it is missing, stale or invalidated. Fresh collections are served
// without a remote call and concurrent loads share one fetch. A failed fetch
// returns the previous collection alongside a REMOTE_READ_FAILED error.
func (c *Controller) Load(ctx context.Context, kind string) (Result, error) {
	return c.load(ctx, kind, false)
}

// Refetch is Load without the freshness check. It joins a fetch that is
// already running.
func (c *Controller) Refetch(ctx context.Context, kind string) (Result, error) {
	return c.load(ctx, kind, true)
}

// Peek returns what the cache holds for kind without fetching.
func (c *Controller) Peek(ctx context.Context, kind string) (Result, error) {
	var res Result
	err := c.loop.Do(ctx, func() {
		id := c.identity.Current()
		if !id.Resolved() {
			res = Result{Status: StatusNotReady}
			return
		}
		res = c.result(cache.Key{Kind: kind, OwnerID: id.ID})
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Invalidate marks the current owner's collection of kind stale. The data
// stays in place until a fetch replaces it.
func (c *Controller) Invalidate(ctx context.Context, kind string) error {
	var opErr error
	err := c.loop.Do(ctx, func() {
		id := c.identity.Current()
		if !id.Resolved() {
			opErr = appErrors.NewNotAuthenticated("no signed-in user")
			return
		}
		c.store.Invalidate(cache.Key{Kind: kind, OwnerID: id.ID})
	})
	if err != nil {
		return err
	}
	return opErr
}

func (c *Controller) load(ctx context.Context, kind string, force bool) (Result, error) {
	var (
		res  Result
		wait chan Result
	)
	err := c.loop.Do(ctx, func() {
		c.kinds[kind] = struct{}{}

		id := c.identity.Current()
		if !id.Resolved() {
			res = Result{Status: StatusNotReady}
			return
		}

		key := cache.Key{Kind: kind, OwnerID: id.ID}
		if !force && c.store.Fresh(key, c.StaleTime()) {
			c.metrics.CacheHit()
			res = c.result(key)
			return
		}

		if !c.store.InFlight(key) {
			c.metrics.CacheMiss()
			c.startFetch(key)
		}
		wait = make(chan Result, 1)
		st := c.state(key)
		st.waiters = append(st.waiters, wait)
	})
	if err != nil {
		return Result{}, err
	}

	if wait != nil {
		select {
		case res = <-wait:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return res, res.Err
}

// startFetch begins a remote read for key, retiring any read in flight.
// Waiters of a retired read are answered with what the cache holds once the
// current task is done.
func (c *Controller) startFetch(key cache.Key) {
	ctx, cancel := context.WithCancel(c.baseCtx)
	token := c.store.BeginFetch(key, func() {
		cancel()
		c.releaseWaiters(key)
	})

	c.logger.Debug("Fetching collection",
		zap.String("key", key.String()),
		zap.Uint64("token", token),
	)

	go func() {
		records, err := c.remote.ListByOwner(ctx, key.Kind, key.OwnerID)
		cancel()
		if !c.loop.Post(func() { c.finishFetch(key, token, records, err) }) {
			c.logger.Debug("Dropping fetch result after shutdown", zap.String("key", key.String()))
		}
	}()
}

func (c *Controller) finishFetch(key cache.Key, token uint64, records []medication.Record, err error) {
	st := c.state(key)

	if err != nil {
		if !c.store.AbandonFetch(key, token) {
			c.metrics.RecordFetch(outcomeCanceled)
			return
		}
		st.err = appErrors.NewRemoteReadFailed("failed to load "+key.Kind, err)
		c.metrics.RecordFetch(outcomeError)
		c.logger.Warn("Fetch failed, keeping cached data",
			zap.String("key", key.String()),
			zap.Error(err),
		)
		c.deliver(key)
		return
	}

	if !c.store.CompleteFetch(key, token, records) {
		c.metrics.RecordFetch(outcomeCanceled)
		c.logger.Debug("Ignoring result of canceled fetch",
			zap.String("key", key.String()),
			zap.Uint64("token", token),
		)
		return
	}
	st.err = nil
	c.metrics.RecordFetch(outcomeSuccess)
	c.deliver(key)
}

// handleInvalidate runs on the loop for every store invalidation. A read
// already in flight may predate the write that caused the invalidation, so
// it is always replaced; otherwise a new read starts only for keys the
// current owner is looking at and that have no unsettled optimistic writes.
func (c *Controller) handleInvalidate(key cache.Key) {
	if c.store.InFlight(key) {
		st := c.state(key)
		waiters := st.waiters
		st.waiters = nil
		c.startFetch(key)
		st.waiters = append(st.waiters, waiters...)
		return
	}

	if !c.refetchOnInvalidate || !c.observed(key) {
		return
	}
	if n := c.store.PendingWrites(key); n > 0 {
		// The settle of the last pending write invalidates again.
		c.logger.Debug("Deferring refetch until pending writes settle",
			zap.String("key", key.String()),
			zap.Int("pending_writes", n),
		)
		return
	}
	c.startFetch(key)
}

func (c *Controller) handleIdentity(id identity.Identity) {
	if !id.Resolved() {
		return
	}
	c.logger.Debug("Identity resolved", zap.String("owner_id", id.ID))

	for kind := range c.kinds {
		key := cache.Key{Kind: kind, OwnerID: id.ID}
		if c.store.Fresh(key, c.StaleTime()) || c.store.InFlight(key) {
			continue
		}
		c.startFetch(key)
	}
}

func (c *Controller) observed(key cache.Key) bool {
	if _, ok := c.kinds[key.Kind]; !ok {
		return false
	}
	id := c.identity.Current()
	return id.Resolved() && id.ID == key.OwnerID
}

func (c *Controller) releaseWaiters(key cache.Key) {
	st := c.state(key)
	if len(st.waiters) == 0 {
		return
	}
	waiters := st.waiters
	st.waiters = nil
	c.loop.Post(func() {
		res := c.result(key)
		for _, w := range waiters {
			w <- res
		}
	})
}

func (c *Controller) deliver(key cache.Key) {
	st := c.state(key)
	if len(st.waiters) == 0 {
		return
	}
	res := c.result(key)
	for _, w := range st.waiters {
		w <- res
	}
	st.waiters = nil
}

func (c *Controller) result(key cache.Key) Result {
	records, present := c.store.Get(key)
	res := Result{Key: key, Records: records, Present: present}

	st := c.states[key]
	switch {
	case c.store.InFlight(key):
		res.Status = StatusFetching
	case st != nil && st.err != nil:
		res.Status = StatusError
		res.Err = st.err
	case c.store.Fresh(key, c.StaleTime()):
		res.Status = StatusFresh
	default:
		res.Status = StatusIdle
	}
	return res
}

func (c *Controller) state(key cache.Key) *keyState {
	st, ok := c.states[key]
	if !ok {
		st = &keyState{}
		c.states[key] = st
	}
	return st
}
