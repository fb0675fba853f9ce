package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/cache"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/identity"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/mutation"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/observability"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/query"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/remote"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/scheduler"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/service/medications"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/pkg/api"
	appErrors "github.com/dinakaranthiru/meds-buddy-check-tracker/pkg/errors"
)

// stubService answers with canned results.
type stubService struct {
	listResult query.Result
	listErr    error
	addErr     error
	invErr     error
	pending    []medication.Record
	pendingErr error
}

func (s *stubService) List(ctx context.Context) (query.Result, error) {
	return s.listResult, s.listErr
}

func (s *stubService) Add(ctx context.Context, fields medication.Fields) (*mutation.Mutation, error) {
	return nil, s.addErr
}

func (s *stubService) Invalidate(ctx context.Context) error {
	return s.invErr
}

func (s *stubService) Pending(ctx context.Context) ([]medication.Record, error) {
	return s.pending, s.pendingErr
}

type testServer struct {
	handler http.Handler
	backend *remote.Memory
	ids     *identity.Static
}

func newTestServer(t *testing.T, svc medications.Service) http.Handler {
	t.Helper()
	metrics := observability.NewCollector("handlers_test")
	router := NewRouter(RouterConfig{
		RequestTimeout: 2 * time.Second,
		MetricsEnabled: true,
		Provider:       "memory",
		Environment:    "test",
	}, NewMedicationHandler(svc, nil), metrics, nil)
	return router.Setup()
}

// newLiveServer runs the full cache stack on the in-memory remote store.
func newLiveServer(t *testing.T) *testServer {
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

	svc := medications.NewService(queries, mutations, nil)
	return &testServer{handler: newTestServer(t, svc), backend: backend, ids: ids}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", appErrors.NewValidation("name is required"), http.StatusBadRequest},
		{"not authenticated", appErrors.NewNotAuthenticated("no user"), http.StatusUnauthorized},
		{"write failed", appErrors.NewRemoteWriteFailed("save", errors.New("x")), http.StatusBadGateway},
		{"read failed", appErrors.NewRemoteReadFailed("load", errors.New("x")), http.StatusBadGateway},
		{"unavailable", appErrors.NewUnavailable("breaker open", nil), http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestListHandler(t *testing.T) {
	records := []medication.Record{
		{ID: "a", CreatedAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), OwnerID: "alice", Fields: medication.Fields{Name: "Aspirin"}},
		{ID: medication.NewPlaceholderID(), OwnerID: "alice", Fields: medication.Fields{Name: "Iron"}},
	}

	t.Run("Should return cached data with a failed refresh", func(t *testing.T) {
		readErr := appErrors.NewRemoteReadFailed("failed to load medications", errors.New("network down"))
		h := newTestServer(t, &stubService{
			listResult: query.Result{Status: query.StatusError, Records: records, Present: true, Err: readErr},
			listErr:    readErr,
		})

		w := do(t, h, http.MethodGet, "/api/v1/medications", "")
		require.Equal(t, http.StatusOK, w.Code)

		resp := decode[api.ListMedicationsResponse](t, w)
		assert.Equal(t, "error", resp.Status)
		assert.True(t, resp.Loaded)
		assert.Contains(t, resp.Error, "network down")
		require.Len(t, resp.Medications, 2)
		assert.False(t, resp.Medications[0].Pending)
		assert.True(t, resp.Medications[1].Pending)
	})

	t.Run("Should fail when nothing is cached", func(t *testing.T) {
		readErr := appErrors.NewRemoteReadFailed("failed to load medications", errors.New("network down"))
		h := newTestServer(t, &stubService{
			listResult: query.Result{Status: query.StatusError, Err: readErr},
			listErr:    readErr,
		})

		w := do(t, h, http.MethodGet, "/api/v1/medications", "")
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("Should report not ready while signing in", func(t *testing.T) {
		h := newTestServer(t, &stubService{listResult: query.Result{Status: query.StatusNotReady}})

		w := do(t, h, http.MethodGet, "/api/v1/medications", "")
		require.Equal(t, http.StatusOK, w.Code)

		resp := decode[api.ListMedicationsResponse](t, w)
		assert.Equal(t, "not_ready", resp.Status)
		assert.False(t, resp.Loaded)
		assert.NotNil(t, resp.Medications)
	})
}

func TestCreateHandlerErrors(t *testing.T) {
	t.Run("Should reject malformed JSON", func(t *testing.T) {
		h := newTestServer(t, &stubService{})
		w := do(t, h, http.MethodPost, "/api/v1/medications", "{")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Should reject a bad wait flag", func(t *testing.T) {
		h := newTestServer(t, &stubService{})
		w := do(t, h, http.MethodPost, "/api/v1/medications?wait=maybe", `{"name":"Aspirin"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Should map service errors", func(t *testing.T) {
		h := newTestServer(t, &stubService{addErr: appErrors.NewNotAuthenticated("no signed-in user")})
		w := do(t, h, http.MethodPost, "/api/v1/medications", `{"name":"Aspirin"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, decode[api.ErrorResponse](t, w).Error, "no signed-in user")
	})

	t.Run("Should hide internal error details", func(t *testing.T) {
		h := newTestServer(t, &stubService{addErr: errors.New("secret connection string")})
		w := do(t, h, http.MethodPost, "/api/v1/medications", `{"name":"Aspirin"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "secret")
	})
}

func TestInvalidateAndPendingHandlers(t *testing.T) {
	h := newTestServer(t, &stubService{
		pending: []medication.Record{{ID: "temp-1", Fields: medication.Fields{Name: "Aspirin"}}},
	})

	w := do(t, h, http.MethodPost, "/api/v1/medications/invalidate", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/medications/pending", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[api.PendingResponse](t, w)
	require.Len(t, resp.Medications, 1)
	assert.Equal(t, "Aspirin", resp.Medications[0].Name)

	h = newTestServer(t, &stubService{invErr: appErrors.NewNotAuthenticated("no signed-in user")})
	w = do(t, h, http.MethodPost, "/api/v1/medications/invalidate", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLiveCreateAndList(t *testing.T) {
	srv := newLiveServer(t)

	w := do(t, srv.handler, http.MethodGet, "/api/v1/medications", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[api.ListMedicationsResponse](t, w).Medications)

	t.Run("Should accept and return the placeholder", func(t *testing.T) {
		w := do(t, srv.handler, http.MethodPost, "/api/v1/medications", `{"name":"Aspirin","dosage":"81mg"}`)
		require.Equal(t, http.StatusAccepted, w.Code)

		resp := decode[api.MutationResponse](t, w)
		assert.True(t, resp.Placeholder.Pending)
		assert.True(t, medication.IsPlaceholderID(resp.Placeholder.ID))
		assert.Equal(t, "Aspirin", resp.Placeholder.Name)
	})

	t.Run("Should wait for the remote store when asked", func(t *testing.T) {
		w := do(t, srv.handler, http.MethodPost, "/api/v1/medications?wait=true", `{"name":"Vitamin D"}`)
		require.Equal(t, http.StatusCreated, w.Code)

		resp := decode[api.MutationResponse](t, w)
		assert.Equal(t, string(mutation.StateCommitted), resp.State)
		require.NotNil(t, resp.Medication)
		assert.False(t, resp.Medication.Pending)
	})

	t.Run("Should converge to the server records", func(t *testing.T) {
		require.Eventually(t, func() bool {
			w := do(t, srv.handler, http.MethodGet, "/api/v1/medications/pending", "")
			return w.Code == http.StatusOK && len(decode[api.PendingResponse](t, w).Medications) == 0
		}, 2*time.Second, 10*time.Millisecond)

		w := do(t, srv.handler, http.MethodGet, "/api/v1/medications", "")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[api.ListMedicationsResponse](t, w)
		require.Len(t, resp.Medications, 2)
		for _, m := range resp.Medications {
			assert.False(t, m.Pending)
		}
	})

	t.Run("Should report a rejected write", func(t *testing.T) {
		srv.backend.SetError(remote.OpInsert, errors.New("permission denied"))
		defer srv.backend.SetError(remote.OpInsert, nil)

		w := do(t, srv.handler, http.MethodPost, "/api/v1/medications?wait=true", `{"name":"Iron"}`)
		require.Equal(t, http.StatusBadGateway, w.Code)

		resp := decode[api.MutationResponse](t, w)
		assert.Equal(t, string(mutation.StateRolledBack), resp.State)
		assert.Contains(t, resp.Error, "permission denied")
	})

	t.Run("Should validate the body", func(t *testing.T) {
		w := do(t, srv.handler, http.MethodPost, "/api/v1/medications", `{"dosage":"81mg"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[api.ErrorResponse](t, w).Error, "name is required")
	})
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, &stubService{})

	w := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[api.HealthResponse](t, w)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "memory", health.Provider)

	w = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "handlers_test_http_requests_total")
}
