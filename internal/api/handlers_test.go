package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/loadsched/internal/auth"
	"github.com/mattjoyce/loadsched/internal/engine"
	"github.com/mattjoyce/loadsched/internal/events"
	"github.com/mattjoyce/loadsched/internal/journal"
	"github.com/mattjoyce/loadsched/internal/loader"
)

// mockScheduler implements Scheduler for testing. Unset funcs succeed.
type mockScheduler struct {
	loadFunc     func(ctx context.Context, spec engine.LoadSpec) (loader.RequestInfo, error)
	resultFunc   func(ctx context.Context, id string) (engine.Result, error)
	resultsFunc  func(ctx context.Context, owner string) ([]engine.Result, error)
	cancelFunc   func(ctx context.Context, owner string) (int, int, error)
	finishedFunc func(ctx context.Context, url string) error
	snapshot     loader.Snapshot

	suspended bool
	served    []loader.Priority
	started   []string
}

func (m *mockScheduler) Load(ctx context.Context, spec engine.LoadSpec) (loader.RequestInfo, error) {
	return m.loadFunc(ctx, spec)
}

func (m *mockScheduler) Result(ctx context.Context, id string) (engine.Result, error) {
	if m.resultFunc == nil {
		return engine.Result{}, engine.ErrUnknownLoad
	}
	return m.resultFunc(ctx, id)
}

func (m *mockScheduler) Results(ctx context.Context, owner string) ([]engine.Result, error) {
	if m.resultsFunc == nil {
		return nil, nil
	}
	return m.resultsFunc(ctx, owner)
}

func (m *mockScheduler) Cancel(ctx context.Context, owner string) (int, int, error) {
	return m.cancelFunc(ctx, owner)
}

func (m *mockScheduler) Suspend(context.Context) error { m.suspended = true; return nil }
func (m *mockScheduler) Resume(context.Context) error  { m.suspended = false; return nil }

func (m *mockScheduler) Serve(_ context.Context, p loader.Priority) error {
	m.served = append(m.served, p)
	return nil
}

func (m *mockScheduler) NonCacheStarted(_ context.Context, url string) error {
	m.started = append(m.started, url)
	return nil
}

func (m *mockScheduler) NonCacheFinished(ctx context.Context, url string) error {
	if m.finishedFunc == nil {
		return nil
	}
	return m.finishedFunc(ctx, url)
}

func (m *mockScheduler) Snapshot(context.Context) (loader.Snapshot, error) {
	return m.snapshot, nil
}

// mockJournal implements LoadJournal for testing.
type mockJournal struct {
	records map[string]journal.Record
}

func (m *mockJournal) Get(_ context.Context, id string) (*journal.Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, journal.ErrNotFound
	}
	return &rec, nil
}

func (m *mockJournal) ListByOwner(_ context.Context, owner string, limit int) ([]journal.Record, error) {
	var out []journal.Record
	for _, rec := range m.records {
		if rec.Owner == owner && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

const testKey = "test-key"

func newTestServer(sched Scheduler, j LoadJournal) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		APIKey: testKey,
		Tokens: []auth.TokenConfig{
			{Token: "reader", Scopes: []string{auth.ScopeLoadsRO}},
			{Token: "loader", Scopes: []string{auth.ScopeLoadsRW}},
		},
	}
	return New(cfg, sched, j, events.NewHub(16), logger)
}

func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	sched := &mockScheduler{snapshot: loader.Snapshot{
		Suspended: true,
		Hosts: []loader.HostSnapshot{
			{Endpoint: "https://a.test:443", QueuedHigh: 1, QueuedLow: 2, InFlight: 3},
			{Endpoint: "https://b.test:443", InFlight: 1},
		},
		Stats: loader.StatsSnapshot{Enqueued: 7},
	}}
	s := newTestServer(sched, nil)

	rr := do(t, s, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[HealthzResponse](t, rr)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Suspended)
	assert.Equal(t, 2, resp.Hosts)
	assert.Equal(t, 4, resp.InFlight)
	assert.Equal(t, 3, resp.Queued)
	assert.Equal(t, uint64(7), resp.Stats.Enqueued)
}

func TestAuth(t *testing.T) {
	s := newTestServer(&mockScheduler{}, nil)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"missing token", http.MethodGet, "/hosts", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/hosts", "nope", http.StatusUnauthorized},
		{"reader can read", http.MethodGet, "/hosts", "reader", http.StatusOK},
		{"reader cannot suspend", http.MethodPost, "/suspend", "reader", http.StatusForbidden},
		{"loader cannot suspend", http.MethodPost, "/suspend", "loader", http.StatusForbidden},
		{"loader can read", http.MethodGet, "/hosts", "loader", http.StatusOK},
		{"api key can suspend", http.MethodPost, "/suspend", testKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestCreateLoad(t *testing.T) {
	var got engine.LoadSpec
	sched := &mockScheduler{loadFunc: func(_ context.Context, spec engine.LoadSpec) (loader.RequestInfo, error) {
		if spec.URL == "bad" {
			return loader.RequestInfo{}, errors.Join(engine.ErrInvalidLoad, errors.New("no scheme"))
		}
		if spec.URL == "down" {
			return loader.RequestInfo{}, context.DeadlineExceeded
		}
		got = spec
		return loader.RequestInfo{ID: "req-1", URL: spec.URL, Owner: loader.Owner(spec.Owner), State: loader.StateQueued}, nil
	}}
	s := newTestServer(sched, nil)

	rr := do(t, s, http.MethodPost, "/loads", "loader", engine.LoadSpec{Owner: "doc", URL: "https://a.test/x.css", Priority: "high"})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	info := decode[loader.RequestInfo](t, rr)
	assert.Equal(t, "req-1", info.ID)
	assert.Equal(t, loader.StateQueued, info.State)
	assert.Equal(t, "high", got.Priority)

	rr = do(t, s, http.MethodPost, "/loads", "loader", engine.LoadSpec{Owner: "doc", URL: "bad"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodPost, "/loads", "loader", engine.LoadSpec{Owner: "doc", URL: "down"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/loads", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer loader")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLoad(t *testing.T) {
	sched := &mockScheduler{resultFunc: func(_ context.Context, id string) (engine.Result, error) {
		if id == "live" {
			return engine.Result{RequestInfo: loader.RequestInfo{ID: id}, Bytes: 42}, nil
		}
		return engine.Result{}, engine.ErrUnknownLoad
	}}
	j := &mockJournal{records: map[string]journal.Record{
		"old": {ID: "old", Owner: "doc", State: "completed", UpdatedAt: time.Now()},
	}}
	s := newTestServer(sched, j)

	rr := do(t, s, http.MethodGet, "/loads/live", "reader", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[LoadResponse](t, rr)
	assert.Equal(t, "engine", resp.Source)
	require.NotNil(t, resp.Result)
	assert.Equal(t, int64(42), resp.Result.Bytes)

	rr = do(t, s, http.MethodGet, "/loads/old", "reader", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp = decode[LoadResponse](t, rr)
	assert.Equal(t, "journal", resp.Source)
	require.NotNil(t, resp.Record)
	assert.Equal(t, "completed", resp.Record.State)

	rr = do(t, s, http.MethodGet, "/loads/missing", "reader", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	noJournal := newTestServer(sched, nil)
	rr = do(t, noJournal, http.MethodGet, "/loads/old", "reader", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOwnerLoads(t *testing.T) {
	sched := &mockScheduler{resultsFunc: func(_ context.Context, owner string) ([]engine.Result, error) {
		if owner != "live" {
			return nil, nil
		}
		return []engine.Result{
			{RequestInfo: loader.RequestInfo{ID: "a"}},
			{RequestInfo: loader.RequestInfo{ID: "b"}},
			{RequestInfo: loader.RequestInfo{ID: "c"}},
		}, nil
	}}
	j := &mockJournal{records: map[string]journal.Record{
		"x": {ID: "x", Owner: "gone"},
	}}
	s := newTestServer(sched, j)

	rr := do(t, s, http.MethodGet, "/owners/live/loads?limit=2", "reader", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[OwnerLoadsResponse](t, rr)
	assert.Equal(t, "engine", resp.Source)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "b", resp.Results[0].ID, "limit keeps the newest")

	rr = do(t, s, http.MethodGet, "/owners/gone/loads", "reader", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp = decode[OwnerLoadsResponse](t, rr)
	assert.Equal(t, "journal", resp.Source)
	assert.Len(t, resp.Records, 1)

	rr = do(t, s, http.MethodGet, "/owners/live/loads?limit=0", "reader", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCancelOwner(t *testing.T) {
	sched := &mockScheduler{cancelFunc: func(_ context.Context, owner string) (int, int, error) {
		return 2, 1, nil
	}}
	s := newTestServer(sched, nil)

	rr := do(t, s, http.MethodDelete, "/owners/doc", "reader", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, s, http.MethodDelete, "/owners/doc", "loader", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, CancelResponse{Owner: "doc", Queued: 2, InFlight: 1}, decode[CancelResponse](t, rr))
}

func TestControl(t *testing.T) {
	sched := &mockScheduler{finishedFunc: func(_ context.Context, url string) error {
		return loader.ErrNonCacheUnderflow
	}}
	s := newTestServer(sched, nil)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/suspend", testKey, nil).Code)
	assert.True(t, sched.suspended)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/resume", testKey, nil).Code)
	assert.False(t, sched.suspended)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/serve", testKey, nil).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/serve?min=high", testKey, nil).Code)
	assert.Equal(t, []loader.Priority{loader.Low, loader.High}, sched.served)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/serve?min=auto", testKey, nil).Code)

	rr := do(t, s, http.MethodPost, "/noncache/start", testKey, NonCacheRequest{URL: "https://a.test/x"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"https://a.test/x"}, sched.started)

	rr = do(t, s, http.MethodPost, "/noncache/finish", testKey, NonCacheRequest{URL: "https://a.test/x"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, s, http.MethodPost, "/noncache/start", testKey, NonCacheRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("x"))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(12), parseLastEventID("12"))
}
