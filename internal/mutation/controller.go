// Package mutation applies local writes to the cache before the remote store
// confirms them, then reconciles.
//
// Every mutation follows the same order: cancel the key's in-flight fetch,
// snapshot the collection, insert a placeholder, write to the remote store,
// then either keep the placeholder (commit) or restore the snapshot
// (rollback), and finally invalidate the key so a refetch replaces the
// placeholder with the server's record. The first three steps run as a
// single scheduler task, so no fetch completion can land between them.
package mutation

import (
	"context"
	"sync"
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

// Controller runs the optimistic write protocol.
type Controller struct {
	loop     *scheduler.Loop
	store    *cache.Store
	remote   remote.Store
	identity identity.Source
	metrics  *observability.Collector
	logger   *zap.Logger
	now      func() time.Time

	// Loop-confined: unsettled mutations per key in call order.
	pending map[cache.Key][]*Mutation

	writes sync.WaitGroup
}

// NewController creates a mutation controller.
func NewController(
	loop *scheduler.Loop,
	store *cache.Store,
	remoteStore remote.Store,
	source identity.Source,
	metrics *observability.Collector,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		loop:     loop,
		store:    store,
		remote:   remoteStore,
		identity: source,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		pending:  make(map[cache.Key][]*Mutation),
	}
}

// SetClock replaces the clock used for placeholder timestamps.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// Mutate optimistically inserts a record of kind for the current owner. It
// returns once the placeholder is visible in the cache; the remote write
// continues in the background and the returned handle reports how it
// settles. Canceling ctx does not abort the write.
//
// Without a resolved owner it fails with NOT_AUTHENTICATED, and with invalid
// fields with VALIDATION; neither touches the cache. A ctx that is already
// done fails the call before anything is applied. Once the placeholder is
// queued the call always returns its handle, so an error from Mutate means
// nothing was written.
//
// While several mutations on one key are unsettled, the background refetch
// that follows each settle is held back until the last one settles, so
// server data cannot replace placeholders that are still pending.
func (c *Controller) Mutate(ctx context.Context, kind string, fields medication.Fields) (*Mutation, error) {
	id := c.identity.Current()
	if !id.Resolved() {
		return nil, appErrors.NewNotAuthenticated("no signed-in user")
	}
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := cache.Key{Kind: kind, OwnerID: id.ID}
	m := newMutation(key, medication.NewPlaceholder(id.ID, fields, c.now()))
	writeCtx := context.WithoutCancel(ctx)

	// Counted before posting so Shutdown sees writes still queued on the loop.
	c.writes.Add(1)
	applied := make(chan struct{})
	if !c.loop.Post(func() {
		defer close(applied)
		c.apply(writeCtx, m)
	}) {
		c.writes.Done()
		return nil, appErrors.NewUnavailable("cache is shutting down", scheduler.ErrStopped)
	}

	// apply never blocks, and a stopping loop drains queued tasks.
	<-applied
	return m, nil
}

// Pending returns the unsettled placeholders of kind for the current owner
// in call order.
func (c *Controller) Pending(ctx context.Context, kind string) ([]medication.Record, error) {
	id := c.identity.Current()
	if !id.Resolved() {
		return nil, appErrors.NewNotAuthenticated("no signed-in user")
	}

	var out []medication.Record
	err := c.loop.Do(ctx, func() {
		for _, m := range c.pending[cache.Key{Kind: kind, OwnerID: id.ID}] {
			out = append(out, m.placeholder)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Shutdown waits for remote writes still in flight.
func (c *Controller) Shutdown(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		c.writes.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apply runs on the loop: suppress races, snapshot, speculative apply, then
// hand the remote write to a goroutine.
func (c *Controller) apply(ctx context.Context, m *Mutation) {
	if c.store.CancelInFlight(m.key) {
		c.logger.Debug("Canceled fetch before optimistic write", zap.String("key", m.key.String()))
	}

	m.snapshot, m.snapshotPresent = c.store.Get(m.key)
	c.store.Set(m.key, medication.InsertOrdered(m.snapshot, m.placeholder))

	c.pending[m.key] = append(c.pending[m.key], m)
	c.store.BeginWrite(m.key)
	c.metrics.MutationStarted()

	c.logger.Debug("Applied placeholder",
		zap.String("key", m.key.String()),
		zap.String("placeholder_id", m.placeholder.ID),
	)

	go c.write(ctx, m)
}

func (c *Controller) write(ctx context.Context, m *Mutation) {
	defer c.writes.Done()

	rec, err := c.remote.Insert(ctx, m.key.Kind, m.key.OwnerID, m.placeholder.Fields)
	if c.loop.Post(func() { c.settle(m, rec, err) }) {
		return
	}

	// The loop is gone, so there is no cache left to reconcile.
	if err != nil {
		m.rollBack(appErrors.NewRemoteWriteFailed("failed to save "+m.key.Kind, err))
	} else {
		m.commit(rec)
	}
	m.finish()
}

// settle runs on the loop once the remote write has returned.
func (c *Controller) settle(m *Mutation, rec medication.Record, err error) {
	c.forget(m)

	if err != nil {
		if m.snapshotPresent {
			c.store.Set(m.key, m.snapshot)
		} else {
			c.store.Remove(m.key)
		}
		m.rollBack(appErrors.NewRemoteWriteFailed("failed to save "+m.key.Kind, err))
		c.logger.Warn("Remote write failed, rolled back",
			zap.String("key", m.key.String()),
			zap.String("placeholder_id", m.placeholder.ID),
			zap.Error(err),
		)
	} else {
		m.commit(rec)
		c.logger.Debug("Remote write committed",
			zap.String("key", m.key.String()),
			zap.String("placeholder_id", m.placeholder.ID),
			zap.String("id", rec.ID),
		)
	}

	c.store.EndWrite(m.key)
	c.store.Invalidate(m.key)
	c.metrics.MutationSettled(string(m.State()))
	m.finish()
}

func (c *Controller) forget(m *Mutation) {
	list := c.pending[m.key]
	for i, p := range list {
		if p == m {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.pending, m.key)
		return
	}
	c.pending[m.key] = list
}
