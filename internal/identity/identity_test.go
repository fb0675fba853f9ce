package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityResolved(t *testing.T) {
	assert.True(t, Identity{ID: "u1"}.Resolved())
	assert.False(t, Identity{ID: "u1", Resolving: true}.Resolved())
	assert.False(t, Identity{}.Resolved())
}

func TestStaticNotifiesWatchers(t *testing.T) {
	s := NewStatic(Identity{Resolving: true})

	var mu sync.Mutex
	var seen []Identity
	cancel := s.Watch(func(id Identity) {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
	})

	s.Set(Identity{ID: "u1"})
	cancel()
	s.Set(Identity{ID: "u2"})

	assert.Equal(t, Identity{ID: "u2"}, s.Current())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Identity{{ID: "u1"}}, seen)
}

func TestSupabaseSetToken(t *testing.T) {
	t.Run("Should resolve the user", func(t *testing.T) {
		release := make(chan struct{})
		s := newSupabase(func(token string) (string, error) {
			<-release
			return "user-" + token, nil
		}, nil)

		settled := s.SetToken(context.Background(), "abc")
		assert.Equal(t, Identity{Resolving: true}, s.Current())

		close(release)
		waitClosed(t, settled)
		assert.Equal(t, Identity{ID: "user-abc"}, s.Current())
	})

	t.Run("Should leave no user when the lookup fails", func(t *testing.T) {
		s := newSupabase(func(string) (string, error) {
			return "", errors.New("invalid JWT")
		}, nil)

		waitClosed(t, s.SetToken(context.Background(), "bad"))
		assert.Equal(t, Identity{}, s.Current())
	})

	t.Run("Should sign out on an empty token", func(t *testing.T) {
		s := newSupabase(func(string) (string, error) { return "u1", nil }, nil)
		waitClosed(t, s.SetToken(context.Background(), "abc"))
		require.Equal(t, "u1", s.Current().ID)

		waitClosed(t, s.SetToken(context.Background(), ""))
		assert.Equal(t, Identity{}, s.Current())
	})

	t.Run("Should let a sign out during lookup win", func(t *testing.T) {
		release := make(chan struct{})
		s := newSupabase(func(string) (string, error) {
			<-release
			return "u1", nil
		}, nil)

		settled := s.SetToken(context.Background(), "abc")
		s.SignOut()
		close(release)
		waitClosed(t, settled)

		assert.Equal(t, Identity{}, s.Current())
	})

	t.Run("Should notify watchers of each transition", func(t *testing.T) {
		s := newSupabase(func(string) (string, error) { return "u1", nil }, nil)

		var mu sync.Mutex
		var seen []Identity
		s.Watch(func(id Identity) {
			mu.Lock()
			seen = append(seen, id)
			mu.Unlock()
		})

		waitClosed(t, s.SetToken(context.Background(), "abc"))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []Identity{{Resolving: true}, {ID: "u1"}}, seen)
	})
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lookup to settle")
	}
}
