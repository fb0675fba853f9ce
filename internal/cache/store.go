// Package cache holds the cached record collections, keyed by owner.
//
// A Store is not safe for concurrent use. It is confined to the scheduler
// loop goroutine: every method must be called from a scheduler task. That
// confinement is what lets the mutation controller cancel an in-flight fetch,
// snapshot a collection and apply a placeholder without any fetch completion
// landing in between.
package cache

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
)

// Key identifies one cached collection.
type Key struct {
	Kind    string
	OwnerID string
}

func (k Key) String() string {
	return k.Kind + ":" + k.OwnerID
}

// entry is one cached collection plus its freshness metadata
type entry struct {
	records   []medication.Record
	present   bool
	fetchedAt time.Time
	stale     bool
}

// fetch tracks the single in-flight remote read for a key
type fetch struct {
	token  uint64
	cancel func()
}

// Store keeps cached collections and in-flight fetch bookkeeping.
type Store struct {
	entries  map[Key]*entry
	inflight map[Key]*fetch
	tokens   uint64
	writes   map[Key]int

	subscribers  map[Key]map[uint64]func([]medication.Record, bool)
	subSeq       uint64
	onInvalidate []func(Key)

	now    func() time.Time
	logger *zap.Logger
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		entries:     make(map[Key]*entry),
		inflight:    make(map[Key]*fetch),
		writes:      make(map[Key]int),
		subscribers: make(map[Key]map[uint64]func([]medication.Record, bool)),
		now:         time.Now,
		logger:      logger,
	}
}

// SetClock replaces the time source used for freshness. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Get returns a copy of the collection for key and whether it is present.
// An absent collection (never fetched, or removed) is distinct from an empty one.
func (s *Store) Get(key Key) ([]medication.Record, bool) {
	e, ok := s.entries[key]
	if !ok || !e.present {
		return nil, false
	}
	return cloneRecords(e.records), true
}

// Set replaces the collection for key. It does not merge and it does not
// change freshness: a speculative write is not a fetch.
func (s *Store) Set(key Key, records []medication.Record) {
	e := s.entry(key)
	e.records = cloneRecords(records)
	e.present = true
	s.notify(key, e)
}

// Remove returns key to the absent state, keeping its stale flag.
func (s *Store) Remove(key Key) {
	e, ok := s.entries[key]
	if !ok {
		return
	}
	e.records = nil
	e.present = false
	e.fetchedAt = time.Time{}
	s.notify(key, e)
}

// CancelInFlight retires the in-flight fetch for key, if any, and runs its
// cancel hook before returning. The retired fetch's completion becomes a
// no-op. It reports whether a fetch was canceled.
func (s *Store) CancelInFlight(key Key) bool {
	f, ok := s.inflight[key]
	if !ok {
		return false
	}
	delete(s.inflight, key)
	s.logger.Debug("Canceled in-flight fetch",
		zap.String("key", key.String()),
		zap.Uint64("token", f.token),
	)
	if f.cancel != nil {
		f.cancel()
	}
	return true
}

// Invalidate marks key stale so the next read fetches. Existing data is kept
// to avoid flicker. Invalidation listeners run after the flag is set.
func (s *Store) Invalidate(key Key) {
	e := s.entry(key)
	e.stale = true
	for _, fn := range s.onInvalidate {
		fn(key)
	}
}

// OnInvalidate registers fn to run on every Invalidate.
func (s *Store) OnInvalidate(fn func(Key)) {
	s.onInvalidate = append(s.onInvalidate, fn)
}

// BeginFetch records a new in-flight fetch for key and returns its token.
// Any fetch already in flight for key is canceled first.
func (s *Store) BeginFetch(key Key, cancel func()) uint64 {
	s.CancelInFlight(key)
	s.tokens++
	s.inflight[key] = &fetch{token: s.tokens, cancel: cancel}
	return s.tokens
}

// CompleteFetch applies a fetch result if token is still the in-flight fetch
// for key. Records are stored ordered by CreatedAt and the entry becomes
// fresh. It reports whether the result was applied.
func (s *Store) CompleteFetch(key Key, token uint64, records []medication.Record) bool {
	f, ok := s.inflight[key]
	if !ok || f.token != token {
		return false
	}
	delete(s.inflight, key)

	sorted := cloneRecords(records)
	medication.SortByCreatedAt(sorted)

	e := s.entry(key)
	e.records = sorted
	e.present = true
	e.fetchedAt = s.now()
	e.stale = false
	s.notify(key, e)
	return true
}

// AbandonFetch drops a failed fetch without touching the cached data. It
// reports whether token was still the in-flight fetch for key.
func (s *Store) AbandonFetch(key Key, token uint64) bool {
	f, ok := s.inflight[key]
	if !ok || f.token != token {
		return false
	}
	delete(s.inflight, key)
	return true
}

// InFlight reports whether a fetch is running for key.
func (s *Store) InFlight(key Key) bool {
	_, ok := s.inflight[key]
	return ok
}

// Fresh reports whether key holds fetched data younger than window that has
// not been invalidated.
func (s *Store) Fresh(key Key, window time.Duration) bool {
	e, ok := s.entries[key]
	if !ok || !e.present || e.stale || e.fetchedAt.IsZero() {
		return false
	}
	return s.now().Sub(e.fetchedAt) < window
}

// FetchedAt returns when key was last filled by a fetch.
func (s *Store) FetchedAt(key Key) time.Time {
	if e, ok := s.entries[key]; ok {
		return e.fetchedAt
	}
	return time.Time{}
}

// BeginWrite records an unsettled optimistic write for key.
func (s *Store) BeginWrite(key Key) {
	s.writes[key]++
}

// EndWrite records that one optimistic write for key has settled.
func (s *Store) EndWrite(key Key) {
	if s.writes[key] <= 1 {
		delete(s.writes, key)
		return
	}
	s.writes[key]--
}

// PendingWrites returns how many optimistic writes for key are unsettled.
func (s *Store) PendingWrites(key Key) int {
	return s.writes[key]
}

// Subscribe calls fn with the new collection whenever key changes.
// fn runs on the loop goroutine and must not block.
func (s *Store) Subscribe(key Key, fn func(records []medication.Record, present bool)) (unsubscribe func()) {
	s.subSeq++
	id := s.subSeq
	if s.subscribers[key] == nil {
		s.subscribers[key] = make(map[uint64]func([]medication.Record, bool))
	}
	s.subscribers[key][id] = fn
	return func() {
		delete(s.subscribers[key], id)
		if len(s.subscribers[key]) == 0 {
			delete(s.subscribers, key)
		}
	}
}

// Close cancels every in-flight fetch and drops all entries.
func (s *Store) Close() {
	for key := range s.inflight {
		s.CancelInFlight(key)
	}
	s.entries = make(map[Key]*entry)
	s.writes = make(map[Key]int)
	s.subscribers = make(map[Key]map[uint64]func([]medication.Record, bool))
	s.onInvalidate = nil
}

func (s *Store) entry(key Key) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

func (s *Store) notify(key Key, e *entry) {
	for _, fn := range s.subscribers[key] {
		fn(cloneRecords(e.records), e.present)
	}
}

func cloneRecords(records []medication.Record) []medication.Record {
	if records == nil {
		return nil
	}
	return slices.Clone(records)
}
