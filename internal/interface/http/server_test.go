package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/classhub/progression-engine/internal/application/query"
	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/shared"
	"github.com/classhub/progression-engine/internal/domain/stats"
	"github.com/classhub/progression-engine/internal/domain/xp"
	"github.com/classhub/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/classhub/progression-engine/internal/interface/http/handlers"
)

func newTestServer(t *testing.T, health *handlers.CompositeHealthChecker) *Server {
	t.Helper()
	clock := shared.FixedClock{At: time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)}
	store := memory.NewStore(clock)

	key, err := stats.NewKey("s1", "class-a")
	require.NoError(t, err)
	_, err = store.Mutate(context.Background(), key, func(sess *stats.Session) error {
		sess.Record().AddBalance(40)
		sess.AppendTransaction(ledger.Transaction{
			ID: "t1", UserID: "s1", ClassroomID: "class-a", Amount: 40,
			Type: ledger.TypeManualGrant, CreatedAt: clock.At,
		})
		return nil
	})
	require.NoError(t, err)

	return NewServer(DefaultConfig(), Dependencies{
		Progress: query.NewGetProgressHandler(store, memory.NewSettingsRepository(xp.DefaultSettings()), nil, clock),
		History:  query.NewWalletHistoryHandler(store, store),
		Health:   health,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("metrics"))
		}),
	})
}

func do(s *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServer_Progress(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(s, "/api/v1/students/s1/progress?classroom=class-a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 40.0, body["Balance"])
	assert.Equal(t, false, body["Legacy"])
}

func TestServer_Wallet(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(s, "/api/v1/students/s1/wallet?classroom=class-a&type=manual_grant,debit")
	require.Equal(t, http.StatusOK, rec.Code)

	var body query.WalletHistoryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, int64(40), body.Balance)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "t1", body.Items[0].ID)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("postgres", func(context.Context) error { return nil })
	s := newTestServer(t, health)

	rec := do(s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	health.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	rec = do(s, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Healthy)
	assert.Equal(t, "checks failed: redis", status.Message)
	assert.True(t, status.Checks["postgres"].Healthy)

	rec = do(s, "/metrics")
	assert.Equal(t, "metrics", rec.Body.String())
	assert.Equal(t, http.StatusOK, do(s, "/live").Code)
}

func TestServer_UnknownRouteAndMethod(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, do(s, "/api/v1/teachers").Code)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/students/s1/progress", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_TracesByRoutePattern(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	base := newTestServer(t, nil)
	deps := base.deps
	deps.Tracer = tp.Tracer("test")
	s := NewServer(DefaultConfig(), deps)

	rec := do(s, "/api/v1/students/s1/progress?classroom=class-a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Header().Get("X-Trace-ID"), 32)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/v1/students/{id}/progress", spans[0].Name())
}
