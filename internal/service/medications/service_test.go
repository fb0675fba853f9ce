package medications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/cache"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/identity"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/mutation"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/query"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/remote"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/scheduler"
	appErrors "github.com/dinakaranthiru/meds-buddy-check-tracker/pkg/errors"
)

func setupService(t *testing.T) (Service, *remote.Memory, *identity.Static) {
	t.Helper()

	loop := scheduler.New(nil)
	store := cache.NewStore(nil)
	backend := remote.NewMemory()
	ids := identity.NewStatic(identity.Identity{ID: "alice"})

	queries := query.NewController(loop, store, backend, ids, query.DefaultOptions(), nil, nil)
	mutations := mutation.NewController(loop, store, backend, ids, nil, nil)

	loop.Start()
	queries.Start()
	t.Cleanup(func() {
		queries.Stop()
		loop.Stop()
	})
	return NewService(queries, mutations, nil), backend, ids
}

func waitSettled(t *testing.T, m *mutation.Mutation) (medication.Record, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.Wait(ctx)
}

func TestServiceAddThenList(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	res, err := svc.List(ctx)
	require.NoError(t, err)
	assert.True(t, res.Present)
	assert.Empty(t, res.Records)

	m, err := svc.Add(ctx, medication.Fields{Name: "Aspirin", Dosage: "81mg"})
	require.NoError(t, err)
	assert.True(t, m.Placeholder().IsPlaceholder())

	saved, err := waitSettled(t, m)
	require.NoError(t, err)

	res, err = svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, saved.ID, res.Records[0].ID)
	assert.False(t, res.Records[0].IsPlaceholder())

	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestServiceAddFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	svc, backend, _ := setupService(t)

	_, err := svc.List(ctx)
	require.NoError(t, err)

	backend.SetError(remote.OpInsert, errors.New("permission denied"))
	m, err := svc.Add(ctx, medication.Fields{Name: "Aspirin"})
	require.NoError(t, err, "the optimistic part succeeds")

	_, err = waitSettled(t, m)
	assert.True(t, appErrors.IsRemoteWriteFailed(err))

	res, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Records)
}

func TestServiceRequiresIdentity(t *testing.T) {
	ctx := context.Background()
	svc, _, ids := setupService(t)
	ids.Set(identity.Identity{Resolving: true})

	res, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, query.StatusNotReady, res.Status)

	_, err = svc.Add(ctx, medication.Fields{Name: "Aspirin"})
	assert.True(t, appErrors.IsNotAuthenticated(err))

	assert.True(t, appErrors.IsNotAuthenticated(svc.Invalidate(ctx)))

	_, err = svc.Pending(ctx)
	assert.True(t, appErrors.IsNotAuthenticated(err))
}

func TestServiceInvalidateRefetches(t *testing.T) {
	ctx := context.Background()
	svc, backend, _ := setupService(t)

	_, err := svc.List(ctx)
	require.NoError(t, err)

	_, err = backend.Insert(ctx, medication.Kind, "alice", medication.Fields{Name: "Added elsewhere"})
	require.NoError(t, err)

	res, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Records, "fresh data is served from cache")

	require.NoError(t, svc.Invalidate(ctx))
	res, err = svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Added elsewhere", res.Records[0].Name)
}
