package httpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/polymarket-hedge/internal/arbitrage"
	"github.com/mselser95/polymarket-hedge/internal/circuitbreaker"
	"github.com/mselser95/polymarket-hedge/internal/execution"
	"github.com/mselser95/polymarket-hedge/internal/ledger"
	"github.com/mselser95/polymarket-hedge/internal/relationship"
	"github.com/mselser95/polymarket-hedge/internal/storage"
	"github.com/mselser95/polymarket-hedge/pkg/healthprobe"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	yes = types.OutcomeKey{Venue: "polymarket", MarketID: "m1", Side: types.SideYes}
	no  = types.OutcomeKey{Venue: "polymarket", MarketID: "m1", Side: types.SideNo}
)

type fakeOpportunities struct {
	open   []arbitrage.Opportunity
	window time.Duration
}

func (f *fakeOpportunities) Open() []arbitrage.Opportunity       { return f.open }
func (f *fakeOpportunities) DecayWindow() time.Duration          { return f.window }
func (f *fakeOpportunities) SetDecayWindow(window time.Duration) { f.window = window }

type fakeExecutions struct {
	execs     map[string]execution.Execution
	cancelErr error
	cancelled []string
}

func (f *fakeExecutions) Executions() []execution.Execution {
	out := make([]execution.Execution, 0, len(f.execs))
	for _, e := range f.execs {
		out = append(out, e)
	}
	return out
}

func (f *fakeExecutions) Execution(id string) (execution.Execution, bool) {
	e, ok := f.execs[id]
	return e, ok
}

func (f *fakeExecutions) Cancel(id string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeBreaker struct {
	status circuitbreaker.Status
	resets int
}

func (f *fakeBreaker) GetStatus() circuitbreaker.Status { return f.status }
func (f *fakeBreaker) Reset() {
	f.resets++
	f.status.Tripped = false
	f.status.Enabled = true
}

type fakeHistory struct {
	err error
}

func (f *fakeHistory) ListOpportunities(ctx context.Context, limit int) ([]storage.OpportunityRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]storage.OpportunityRecord, limit)
	for i := range out {
		out[i].ID = fmt.Sprintf("o%d", i)
	}
	return out, nil
}

func (f *fakeHistory) ListExecutions(ctx context.Context, limit int) ([]storage.ExecutionRecord, error) {
	return []storage.ExecutionRecord{{ID: "e1", State: "settled"}}, f.err
}

func (f *fakeHistory) PositionSummaries(ctx context.Context) ([]storage.PositionSummary, error) {
	return []storage.PositionSummary{{Outcome: yes, NetQuantity: 10, FillCount: 1}}, f.err
}

type testEnv struct {
	server  *Server
	opps    *fakeOpportunities
	execs   *fakeExecutions
	breaker *fakeBreaker
	history *fakeHistory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry := relationship.NewRegistry()
	registry.Put(*relationship.NewCandidate(yes, no, 1.0, 1.0, relationship.KindComplementary, "rule:same-market"))
	other := types.OutcomeKey{Venue: "kalshi", MarketID: "k1", Side: types.SideNo}
	registry.Put(*relationship.NewCandidate(yes, other, 0.91, 1.0, relationship.KindComplementary, "rule:cross-venue"))

	l := ledger.New(&ledger.Config{InitialCapital: 1000})
	require.NoError(t, l.RecordFill(yes, 10, 0.42, "e1"))

	env := &testEnv{
		opps:    &fakeOpportunities{window: 10 * time.Second, open: []arbitrage.Opportunity{{ID: "o1", Margin: 0.01}}},
		execs:   &fakeExecutions{execs: map[string]execution.Execution{"e1": {ID: "e1", State: execution.StateCommitting}}},
		breaker: &fakeBreaker{status: circuitbreaker.Status{Tripped: true, TripReason: "unhedged exposure"}},
		history: &fakeHistory{},
	}
	env.server = New(&Config{
		Port:          "0",
		Logger:        zap.NewNop(),
		HealthChecker: healthprobe.New(),
		Candidates:    registry,
		Opportunities: env.opps,
		Executions:    env.execs,
		Positions:     l,
		Breaker:       env.breaker,
		History:       env.history,
	})
	return env
}

func (e *testEnv) do(method, path string, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v))
	return v
}

func TestHealthAndReady(t *testing.T) {
	hc := healthprobe.New()
	server := New(&Config{Port: "0", HealthChecker: hc})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	hc.SetReady(true)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	server := New(&Config{Port: "0", HealthChecker: healthprobe.New()})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAPIRoutesOnlyWithComponents(t *testing.T) {
	server := New(&Config{Port: "0", HealthChecker: healthprobe.New()})

	for _, path := range []string{"/api/candidates", "/api/opportunities", "/api/executions", "/api/positions", "/api/breaker"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestCandidates(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/candidates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]relationship.Candidate](t, rec), 2)

	rec = env.do(http.MethodGet, "/api/candidates?tier=T2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[[]relationship.Candidate](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "rule:cross-venue", got[0].Source)

	rec = env.do(http.MethodGet, "/api/candidates?tier=T9", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpportunities(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/opportunities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[[]arbitrage.Opportunity](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "o1", got[0].ID)
}

func TestDecayWindow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/decay-window", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10.0, decodeBody[DecayWindowResponse](t, rec).Seconds)

	rec = env.do(http.MethodPut, "/api/decay-window", `{"decay_window":"15s"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 15*time.Second, env.opps.window)

	tests := []struct {
		name string
		body string
	}{
		{name: "not-json", body: `15s`},
		{name: "bad-duration", body: `{"decay_window":"soon"}`},
		{name: "zero", body: `{"decay_window":"0s"}`},
		{name: "negative", body: `{"decay_window":"-5s"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPut, "/api/decay-window", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 15*time.Second, env.opps.window)
		})
	}
}

func TestExecutions(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/executions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]execution.Execution](t, rec), 1)

	rec = env.do(http.MethodGet, "/api/executions/e1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, execution.StateCommitting, decodeBody[execution.Execution](t, rec).State)

	rec = env.do(http.MethodGet, "/api/executions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelExecution(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/executions/e1/cancel", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"e1"}, env.execs.cancelled)

	rec = env.do(http.MethodPost, "/api/executions/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.execs.cancelErr = fmt.Errorf("cancel e1: %w", types.ErrCancelNotAllowed)
	rec = env.do(http.MethodPost, "/api/executions/e1/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Error, "cancel")
}

func TestPositions(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeBody[PositionsResponse](t, rec)
	require.Len(t, got.Positions, 1)
	assert.Equal(t, yes, got.Positions[0].Outcome)
	assert.InDelta(t, 1000-4.2, got.AvailableCapital, 1e-9)
}

func TestBreaker(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/breaker", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[circuitbreaker.Status](t, rec).Tripped)

	rec = env.do(http.MethodPost, "/api/breaker/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[circuitbreaker.Status](t, rec).Tripped)
	assert.Equal(t, 1, env.breaker.resets)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/history/opportunities?limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]storage.OpportunityRecord](t, rec), 3)

	rec = env.do(http.MethodGet, "/api/history/opportunities?limit=bogus", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]storage.OpportunityRecord](t, rec), defaultHistoryLimit)

	rec = env.do(http.MethodGet, "/api/history/executions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/history/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]storage.PositionSummary](t, rec), 1)

	env.history.err = errors.New("db down")
	rec = env.do(http.MethodGet, "/api/history/executions", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	server := New(&Config{Port: "0", Logger: zap.NewNop(), HealthChecker: healthprobe.New()})

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-serverDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after shutdown")
	}
}

func TestServer_Timeouts(t *testing.T) {
	server := New(&Config{Port: "8080", HealthChecker: healthprobe.New()})

	assert.Equal(t, 15*time.Second, server.server.ReadTimeout)
	assert.Equal(t, 10*time.Second, server.server.ReadHeaderTimeout)
	assert.Equal(t, 15*time.Second, server.server.WriteTimeout)
	assert.Equal(t, 60*time.Second, server.server.IdleTimeout)
}
