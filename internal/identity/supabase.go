package identity

import (
	"context"
	"sync"

	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
)

// userLookup resolves an access token to a user identifier.
type userLookup func(token string) (string, error)

// Supabase resolves the signed-in user from a Supabase access token.
// While a lookup is running the identity reports Resolving.
type Supabase struct {
	lookup userLookup
	logger *zap.Logger

	mu      sync.RWMutex
	current Identity
	seq     uint64
	watchers
}

// NewSupabase creates a source backed by the Supabase auth API.
func NewSupabase(client *supabase.Client, logger *zap.Logger) *Supabase {
	return newSupabase(func(token string) (string, error) {
		// GetUser does not take a context; the request uses the client's HTTP settings.
		user, err := client.Auth.WithToken(token).GetUser()
		if err != nil {
			return "", err
		}
		return user.ID.String(), nil
	}, logger)
}

func newSupabase(lookup userLookup, logger *zap.Logger) *Supabase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supabase{lookup: lookup, logger: logger}
}

// Current implements Source.
func (s *Supabase) Current() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Watch implements Source.
func (s *Supabase) Watch(fn func(Identity)) func() {
	return s.add(fn)
}

// SetToken starts resolving token in the background. The identity reports
// Resolving until the lookup finishes; a failed lookup leaves no user.
// The returned channel is closed once this token's lookup has settled.
func (s *Supabase) SetToken(ctx context.Context, token string) <-chan struct{} {
	settled := make(chan struct{})
	if token == "" {
		s.SignOut()
		close(settled)
		return settled
	}

	seq := s.set(Identity{Resolving: true}, 0)
	go func() {
		defer close(settled)

		type result struct {
			id  string
			err error
		}
		out := make(chan result, 1)
		go func() {
			id, err := s.lookup(token)
			out <- result{id, err}
		}()

		var res result
		select {
		case res = <-out:
		case <-ctx.Done():
			res.err = ctx.Err()
		}

		if res.err != nil {
			s.logger.Warn("Failed to resolve Supabase user from token", zap.Error(res.err))
			s.set(Identity{}, seq)
			return
		}
		if res.id == "" {
			s.logger.Warn("Supabase returned a user without an id")
		}
		s.set(Identity{ID: res.id}, seq)
	}()
	return settled
}

// SignOut clears the identity immediately.
func (s *Supabase) SignOut() {
	s.set(Identity{}, 0)
}

// set stores id unless a newer SetToken or SignOut has happened since seq was
// issued. seq 0 always wins and starts a new generation.
func (s *Supabase) set(id Identity, seq uint64) uint64 {
	s.mu.Lock()
	if seq != 0 && seq != s.seq {
		s.mu.Unlock()
		return s.seq
	}
	if seq == 0 {
		s.seq++
	}
	s.current = id
	current := s.seq
	s.mu.Unlock()

	s.notify(id)
	return current
}
