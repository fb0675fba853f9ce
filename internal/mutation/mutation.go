package mutation

import (
	"context"
	"sync"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/cache"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
)

// State is the lifecycle position of one optimistic write.
type State string

const (
	StateApplying   State = "applying"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// Mutation is one optimistic insert: the placeholder shown to the user and
// the snapshot to restore if the remote store rejects the write.
//
// key, placeholder and the snapshot are written once on the loop before the
// handle is published. The outcome fields are guarded by mu.
type Mutation struct {
	key         cache.Key
	placeholder medication.Record

	snapshot        []medication.Record
	snapshotPresent bool

	mu     sync.Mutex
	state  State
	record medication.Record
	err    error
	done   chan struct{}
}

func newMutation(key cache.Key, placeholder medication.Record) *Mutation {
	return &Mutation{
		key:         key,
		placeholder: placeholder,
		state:       StateApplying,
		done:        make(chan struct{}),
	}
}

// Key returns the collection the mutation writes to.
func (m *Mutation) Key() cache.Key {
	return m.key
}

// Placeholder returns the locally synthesized record.
func (m *Mutation) Placeholder() medication.Record {
	return m.placeholder
}

// State returns the current state.
func (m *Mutation) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done is closed once the mutation has settled and its key was invalidated.
func (m *Mutation) Done() <-chan struct{} {
	return m.done
}

// Err returns the settle error of a rolled back mutation.
func (m *Mutation) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Record returns the server's record once the mutation has committed.
func (m *Mutation) Record() (medication.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record, m.state == StateCommitted
}

// Wait blocks until the mutation settles and returns the server's record or
// the write error.
func (m *Mutation) Wait(ctx context.Context) (medication.Record, error) {
	select {
	case <-m.done:
	case <-ctx.Done():
		return medication.Record{}, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record, m.err
}

// commit moves applying -> committed. It reports false if the mutation had
// already settled.
func (m *Mutation) commit(rec medication.Record) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateApplying {
		return false
	}
	m.state = StateCommitted
	m.record = rec
	return true
}

// rollBack moves applying -> rolled_back.
func (m *Mutation) rollBack(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateApplying {
		return false
	}
	m.state = StateRolledBack
	m.err = err
	return true
}

// finish releases waiters. Only the settling path calls it, once.
func (m *Mutation) finish() {
	close(m.done)
}
