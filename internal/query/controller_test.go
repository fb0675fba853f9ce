package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/cache"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/identity"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/observability"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/remote/mocks"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/scheduler"
	appErrors "github.com/dinakaranthiru/meds-buddy-check-tracker/pkg/errors"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeClock is shared by the loop goroutine and the test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	loop     *scheduler.Loop
	store    *cache.Store
	remote   *mocks.ControlledStore
	identity *identity.Static
	metrics  *observability.Collector
	clock    *fakeClock
	ctrl     *Controller
}

func newHarness(t *testing.T, opts Options, initial identity.Identity) *harness {
	t.Helper()
	h := &harness{
		loop:     scheduler.New(nil),
		store:    cache.NewStore(nil),
		remote:   mocks.NewControlledStore(),
		identity: identity.NewStatic(initial),
		metrics:  observability.NewCollector("query_test"),
		clock:    &fakeClock{now: base},
	}
	h.store.SetClock(h.clock.Now)
	h.ctrl = NewController(h.loop, h.store, h.remote, h.identity, opts, h.metrics, nil)
	h.loop.Start()
	h.ctrl.Start()
	t.Cleanup(func() {
		h.ctrl.Stop()
		h.loop.Stop()
	})
	return h
}

func alice() identity.Identity { return identity.Identity{ID: "alice"} }

type loadResult struct {
	res Result
	err error
}

func (h *harness) loadAsync(load func(context.Context, string) (Result, error)) <-chan loadResult {
	out := make(chan loadResult, 1)
	go func() {
		res, err := load(context.Background(), medication.Kind)
		out <- loadResult{res: res, err: err}
	}()
	return out
}

func (h *harness) storeGet(t *testing.T, key cache.Key) ([]medication.Record, bool) {
	t.Helper()
	var (
		records []medication.Record
		present bool
	)
	require.NoError(t, h.loop.Do(context.Background(), func() {
		records, present = h.store.Get(key)
	}))
	return records, present
}

func (h *harness) canceledFetches() float64 {
	return testutil.ToFloat64(h.metrics.Fetches.WithLabelValues(outcomeCanceled))
}

func wait(t *testing.T, ch <-chan loadResult) loadResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for load")
		return loadResult{}
	}
}

func rec(id, owner string, offset time.Duration) medication.Record {
	return medication.Record{
		ID:        id,
		CreatedAt: base.Add(offset),
		OwnerID:   owner,
		Fields:    medication.Fields{Name: id},
	}
}

func ids(records []medication.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

// primeLoad runs one successful load returning records.
func (h *harness) primeLoad(t *testing.T, records ...medication.Record) Result {
	t.Helper()
	ch := h.loadAsync(h.ctrl.Load)
	h.remote.NextList(t).Return(records)
	r := wait(t, ch)
	require.NoError(t, r.err)
	return r.res
}

func TestLoadNotReady(t *testing.T) {
	tests := []struct {
		name string
		id   identity.Identity
	}{
		{name: "resolving", id: identity.Identity{Resolving: true}},
		{name: "signed out", id: identity.Identity{}},
		{name: "resolving with stale id", id: identity.Identity{ID: "alice", Resolving: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultOptions(), tt.id)

			res, err := h.ctrl.Load(context.Background(), medication.Kind)
			require.NoError(t, err)
			assert.Equal(t, StatusNotReady, res.Status)
			assert.Nil(t, res.Records)

			res, err = h.ctrl.Peek(context.Background(), medication.Kind)
			require.NoError(t, err)
			assert.Equal(t, StatusNotReady, res.Status)

			assert.Zero(t, h.remote.ListCount())
		})
	}
}

func TestLoadFetchesInCreationOrder(t *testing.T) {
	h := newHarness(t, DefaultOptions(), alice())

	ch := h.loadAsync(h.ctrl.Load)
	call := h.remote.NextList(t)
	assert.Equal(t, medication.Kind, call.Kind)
	assert.Equal(t, "alice", call.OwnerID)

	call.Return([]medication.Record{rec("b", "alice", 2*time.Minute), rec("a", "alice", time.Minute)})

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, StatusFresh, r.res.Status)
	assert.True(t, r.res.Present)
	assert.Equal(t, []string{"a", "b"}, ids(r.res.Records))
	assert.Equal(t, cache.Key{Kind: medication.Kind, OwnerID: "alice"}, r.res.Key)
}

func TestLoadEmptyCollectionIsPresent(t *testing.T) {
	h := newHarness(t, DefaultOptions(), alice())

	res := h.primeLoad(t)
	assert.True(t, res.Present)
	assert.Empty(t, res.Records)
}

func TestLoadWithinStaleTimeIsServedFromCache(t *testing.T) {
	h := newHarness(t, DefaultOptions(), alice())
	h.primeLoad(t, rec("a", "alice", 0))

	for i := 0; i < 3; i++ {
		res, err := h.ctrl.Load(context.Background(), medication.Kind)
		require.NoError(t, err)
		assert.Equal(t, StatusFresh, res.Status)
		assert.Equal(t, []string{"a"}, ids(res.Records))
	}
	assert.EqualValues(t, 1, h.remote.ListCount())
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.CacheHits))

	t.Run("Should fetch again once the stale time has passed", func(t *testing.T) {
		h.clock.Advance(DefaultStaleTime)

		ch := h.loadAsync(h.ctrl.Load)
		h.remote.NextList(t).Return([]medication.Record{rec("a", "alice", 0), rec("b", "alice", time.Minute)})
		r := wait(t, ch)
		require.NoError(t, r.err)
		assert.Equal(t, []string{"a", "b"}, ids(r.res.Records))
		assert.EqualValues(t, 2, h.remote.ListCount())
	})
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	h := newHarness(t, DefaultOptions(), alice())

	first := h.loadAsync(h.ctrl.Load)
	call := h.remote.NextList(t)
	second := h.loadAsync(h.ctrl.Load)

	call.Return([]medication.Record{rec("a", "alice", 0)})

	for _, ch := range []<-chan loadResult{first, second} {
		r := wait(t, ch)
		require.NoError(t, r.err)
		assert.Equal(t, []string{"a"}, ids(r.res.Records))
	}
	assert.EqualValues(t, 1, h.remote.ListCount())
}

func TestFailedFetchKeepsPreviousData(t *testing.T) {
	h := newHarness(t, DefaultOptions(), alice())
	h.primeLoad(t, rec("a", "alice", 0))
	h.clock.Advance(DefaultStaleTime + time.Second)

	ch := h.loadAsync(h.ctrl.Load)
	h.remote.NextList(t).Fail(errors.New("network down"))

	r := wait(t, ch)
	require.Error(t, r.err)
	assert.True(t, appErrors.IsRemoteReadFailed(r.err))
	assert.ErrorContains(t, r.err, "network down")
	assert.Equal(t, StatusError, r.res.Status)
	assert.True(t, r.res.Present)
	assert.Equal(t, []string{"a"}, ids(r.res.Records))

	peek, err := h.ctrl.Peek(context.Background(), medication.Kind)
	require.NoError(t, err)
	assert.Equal(t, StatusError, peek.Status)
	assert.Equal(t, []string{"a"}, ids(peek.Records))

	t.Run("Should retry on the next load", func(t *testing.T) {
		ch := h.loadAsync(h.ctrl.Load)
		h.remote.NextList(t).Return([]medication.Record{rec("a", "alice", 0), rec("b", "alice", time.Minute)})

		r := wait(t, ch)
		require.NoError(t, r.err)
		assert.Equal(t, StatusFresh, r.res.Status)
		assert.Nil(t, r.res.Err)
		assert.Equal(t, []string{"a", "b"}, ids(r.res.Records))
	})
}

func TestFailedFirstFetchLeavesCollectionAbsent(t *testing.T) {
	h := newHarness(t, DefaultOptions(), alice())

	ch := h.loadAsync(h.ctrl.Load)
	h.remote.NextList(t).Fail(errors.New("timeout"))

	r := wait(t, ch)
	assert.True(t, appErrors.IsRemoteReadFailed(r.err))
	assert.False(t, r.res.Present)
	assert.Nil(t, r.res.Records)
}

func TestInvalidateKeepsDataAndRefetches(t *testing.T) {
	h := newHarness(t, DefaultOptions(), alice())
	h.primeLoad(t, rec("a", "alice", 0))

	require.NoError(t, h.ctrl.Invalidate(context.Background(), medication.Kind))
	call := h.remote.NextList(t)

	peek, err := h.ctrl.Peek(context.Background(), medication.Kind)
	require.NoError(t, err)
	assert.Equal(t, StatusFetching, peek.Status)
	assert.Equal(t, []string{"a"}, ids(peek.Records), "invalidation must not clear data")

	call.Return([]medication.Record{rec("a", "alice", 0), rec("b", "alice", time.Minute)})

	res, err := h.ctrl.Load(context.Background(), medication.Kind)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(res.Records))
	assert.EqualValues(t, 2, h.remote.ListCount())
}

func TestInvalidateDefersRefetchWhileWritesPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultOptions(), alice())
	h.primeLoad(t, rec("a", "alice", 0))
	key := cache.Key{Kind: medication.Kind, OwnerID: "alice"}

	require.NoError(t, h.loop.Do(ctx, func() { h.store.BeginWrite(key) }))
	require.NoError(t, h.ctrl.Invalidate(ctx, medication.Kind))

	peek, err := h.ctrl.Peek(ctx, medication.Kind)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, peek.Status, "refetch waits for the pending write")
	assert.EqualValues(t, 1, h.remote.ListCount())

	require.NoError(t, h.loop.Do(ctx, func() {
		h.store.EndWrite(key)
		h.store.Invalidate(key)
	}))
	h.remote.NextList(t).Return([]medication.Record{rec("a", "alice", 0), rec("b", "alice", time.Minute)})

	res, err := h.ctrl.Load(ctx, medication.Kind)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(res.Records))
}

func TestInvalidateWithoutBackgroundRefetch(t *testing.T) {
	opts := DefaultOptions()
	opts.RefetchOnInvalidate = false
	h := newHarness(t, opts, alice())
	h.primeLoad(t, rec("a", "alice", 0))

	require.NoError(t, h.ctrl.Invalidate(context.Background(), medication.Kind))

	peek, err := h.ctrl.Peek(context.Background(), medication.Kind)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, peek.Status)
	assert.Equal(t, []string{"a"}, ids(peek.Records))

	ch := h.loadAsync(h.ctrl.Load)
	h.remote.NextList(t).Return([]medication.Record{rec("c", "alice", 0)})
	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, []string{"c"}, ids(r.res.Records))
}

func TestInvalidateDuringFetchRestartsIt(t *testing.T) {
	opts := DefaultOptions()
	opts.RefetchOnInvalidate = false
	h := newHarness(t, opts, alice())

	ch := h.loadAsync(h.ctrl.Load)
	stale := h.remote.NextList(t)

	require.NoError(t, h.ctrl.Invalidate(context.Background(), medication.Kind))
	fresh := h.remote.NextList(t)
	assert.ErrorIs(t, stale.Ctx.Err(), context.Canceled)

	stale.Return([]medication.Record{rec("old", "alice", 0)})
	fresh.Return([]medication.Record{rec("new", "alice", 0)})

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, []string{"new"}, ids(r.res.Records))

	require.Eventually(t, func() bool { return h.canceledFetches() == 1 }, time.Second, 5*time.Millisecond)
	res, err := h.ctrl.Peek(context.Background(), medication.Kind)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids(res.Records))
}

func TestCanceledFetchCompletionIsIgnored(t *testing.T) {
	h := newHarness(t, DefaultOptions(), alice())
	key := cache.Key{Kind: medication.Kind, OwnerID: "alice"}

	ch := h.loadAsync(h.ctrl.Load)
	call := h.remote.NextList(t)

	require.NoError(t, h.loop.Do(context.Background(), func() {
		assert.True(t, h.store.CancelInFlight(key))
	}))

	r := wait(t, ch)
	require.NoError(t, r.err, "a canceled fetch is not an error")
	assert.Equal(t, StatusIdle, r.res.Status)
	assert.False(t, r.res.Present)

	call.Return([]medication.Record{rec("a", "alice", 0)})
	require.Eventually(t, func() bool { return h.canceledFetches() == 1 }, time.Second, 5*time.Millisecond)

	_, present := h.storeGet(t, key)
	assert.False(t, present)
}

func TestRefetchIgnoresFreshness(t *testing.T) {
	h := newHarness(t, DefaultOptions(), alice())
	h.primeLoad(t, rec("a", "alice", 0))

	ch := h.loadAsync(h.ctrl.Refetch)
	h.remote.NextList(t).Return([]medication.Record{rec("b", "alice", 0)})

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, []string{"b"}, ids(r.res.Records))
	assert.EqualValues(t, 2, h.remote.ListCount())
}

func TestIdentityChangeLoadsForNewOwner(t *testing.T) {
	h := newHarness(t, DefaultOptions(), identity.Identity{Resolving: true})

	res, err := h.ctrl.Load(context.Background(), medication.Kind)
	require.NoError(t, err)
	require.Equal(t, StatusNotReady, res.Status)

	h.identity.Set(alice())
	call := h.remote.NextList(t)
	assert.Equal(t, "alice", call.OwnerID)
	call.Return([]medication.Record{rec("a", "alice", 0)})

	require.Eventually(t, func() bool {
		res, err := h.ctrl.Peek(context.Background(), medication.Kind)
		return err == nil && res.Status == StatusFresh
	}, time.Second, 5*time.Millisecond)

	h.identity.Set(identity.Identity{ID: "bob"})
	call = h.remote.NextList(t)
	assert.Equal(t, "bob", call.OwnerID)
	call.Return([]medication.Record{})

	require.Eventually(t, func() bool {
		res, err := h.ctrl.Peek(context.Background(), medication.Kind)
		return err == nil && res.Status == StatusFresh && res.Present
	}, time.Second, 5*time.Millisecond)

	records, present := h.storeGet(t, cache.Key{Kind: medication.Kind, OwnerID: "alice"})
	assert.True(t, present)
	assert.Equal(t, []string{"a"}, ids(records), "another owner's entry is untouched")
}

func TestInvalidateRequiresIdentity(t *testing.T) {
	h := newHarness(t, DefaultOptions(), identity.Identity{})

	err := h.ctrl.Invalidate(context.Background(), medication.Kind)
	assert.True(t, appErrors.IsNotAuthenticated(err))
}

func TestSetStaleTime(t *testing.T) {
	h := newHarness(t, DefaultOptions(), alice())
	assert.Equal(t, DefaultStaleTime, h.ctrl.StaleTime())

	h.ctrl.SetStaleTime(time.Second)
	assert.Equal(t, time.Second, h.ctrl.StaleTime())

	h.ctrl.SetStaleTime(0)
	assert.Equal(t, time.Second, h.ctrl.StaleTime(), "non-positive values are ignored")

	h.primeLoad(t, rec("a", "alice", 0))
	h.clock.Advance(2 * time.Second)

	ch := h.loadAsync(h.ctrl.Load)
	h.remote.NextList(t).Return(nil)
	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.True(t, r.res.Present)
}
