// Package mocks provides remote store doubles for testing the cache controllers.
package mocks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
)

// callTimeout bounds how long a test waits for an expected remote call.
const callTimeout = 2 * time.Second

type listResult struct {
	records []medication.Record
	err     error
}

type insertResult struct {
	record medication.Record
	err    error
}

// ListCall is one pending ListByOwner call. The caller stays blocked until
// the test answers with Return or Fail, whatever happens to its context.
type ListCall struct {
	Ctx     context.Context
	Kind    string
	OwnerID string
	respond chan listResult
}

// Return completes the call successfully.
func (c *ListCall) Return(records []medication.Record) {
	c.respond <- listResult{records: records}
}

// Fail completes the call with err.
func (c *ListCall) Fail(err error) {
	c.respond <- listResult{err: err}
}

// InsertCall is one pending Insert call.
type InsertCall struct {
	Ctx     context.Context
	Kind    string
	OwnerID string
	Fields  medication.Fields
	respond chan insertResult
}

// Return completes the call with the server's record.
func (c *InsertCall) Return(rec medication.Record) {
	c.respond <- insertResult{record: rec}
}

// Fail completes the call with err.
func (c *InsertCall) Fail(err error) {
	c.respond <- insertResult{err: err}
}

// ControlledStore is a remote.Store whose calls block until the test
// answers them, so tests decide exactly when each remote operation settles.
// Like the PostgREST client it does not abort on context cancellation.
type ControlledStore struct {
	lists   chan *ListCall
	inserts chan *InsertCall

	listCount   atomic.Int64
	insertCount atomic.Int64
}

// NewControlledStore creates a store with room for many unanswered calls.
func NewControlledStore() *ControlledStore {
	return &ControlledStore{
		lists:   make(chan *ListCall, 64),
		inserts: make(chan *InsertCall, 64),
	}
}

// ListByOwner implements remote.Store.
func (s *ControlledStore) ListByOwner(ctx context.Context, kind, ownerID string) ([]medication.Record, error) {
	s.listCount.Add(1)
	call := &ListCall{Ctx: ctx, Kind: kind, OwnerID: ownerID, respond: make(chan listResult, 1)}
	s.lists <- call
	res := <-call.respond
	return res.records, res.err
}

// Insert implements remote.Store.
func (s *ControlledStore) Insert(ctx context.Context, kind, ownerID string, fields medication.Fields) (medication.Record, error) {
	s.insertCount.Add(1)
	call := &InsertCall{Ctx: ctx, Kind: kind, OwnerID: ownerID, Fields: fields, respond: make(chan insertResult, 1)}
	s.inserts <- call
	res := <-call.respond
	return res.record, res.err
}

// NextList waits for the next ListByOwner call.
func (s *ControlledStore) NextList(t testing.TB) *ListCall {
	t.Helper()
	select {
	case call := <-s.lists:
		return call
	case <-time.After(callTimeout):
		t.Fatal("timed out waiting for ListByOwner call")
		return nil
	}
}

// NextInsert waits for the next Insert call.
func (s *ControlledStore) NextInsert(t testing.TB) *InsertCall {
	t.Helper()
	select {
	case call := <-s.inserts:
		return call
	case <-time.After(callTimeout):
		t.Fatal("timed out waiting for Insert call")
		return nil
	}
}

// NoPendingList asserts that no ListByOwner call is waiting to be answered.
func (s *ControlledStore) NoPendingList(t testing.TB) {
	t.Helper()
	select {
	case call := <-s.lists:
		t.Fatalf("unexpected ListByOwner call for owner %q", call.OwnerID)
	default:
	}
}

// ListCount returns how many ListByOwner calls were made.
func (s *ControlledStore) ListCount() int64 {
	return s.listCount.Load()
}

// InsertCount returns how many Insert calls were made.
func (s *ControlledStore) InsertCount() int64 {
	return s.insertCount.Load()
}
