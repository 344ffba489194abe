package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-project/drover/internal/config"
	"github.com/drover-project/drover/internal/daemon"
	"github.com/drover-project/drover/internal/health"
	"github.com/drover-project/drover/internal/logger"
	"github.com/drover-project/drover/internal/progress"
	"github.com/drover-project/drover/internal/storage"
	"github.com/drover-project/drover/internal/supervisor"
)

type stubDaemon struct {
	mu        sync.Mutex
	reachable bool
	models    []daemon.ModelInfo
	listErr   error
	genResp   *daemon.GenerateResponse
	genErr    error
	listCalls int
}

func (d *stubDaemon) BaseURL() string { return "http://localhost:11434" }

func (d *stubDaemon) Reachable(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reachable
}

func (d *stubDaemon) ListModels(ctx context.Context) ([]daemon.ModelInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listCalls++
	return d.models, d.listErr
}

func (d *stubDaemon) IsModelAvailable(ctx context.Context, model string) (bool, error) {
	models, err := d.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.Name == model {
			return true, nil
		}
	}
	return false, nil
}

func (d *stubDaemon) Version(ctx context.Context) (string, error) { return "0.5.0", nil }

func (d *stubDaemon) Generate(ctx context.Context, req *daemon.GenerateRequest) (*daemon.GenerateResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.genResp, d.genErr
}

type stubStarter struct {
	result supervisor.StartResult
}

func (s *stubStarter) Start(model string) supervisor.StartResult {
	r := s.result
	if r.Model == "" {
		r.Model = model
	}
	return r
}

type testEnv struct {
	server  *Server
	daemon  *stubDaemon
	starter *stubStarter
	tracker *progress.Tracker
	store   *storage.MemoryStore
	cache   *health.ResponseCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Daemon.ActiveModel = "llama3:8b"
	cfg.Log.Output = "stdout"

	log, err := logger.NewLogger(&cfg.Log)
	require.NoError(t, err)

	d := &stubDaemon{reachable: true}
	starter := &stubStarter{}
	tracker := progress.NewTracker()
	cache := health.NewResponseCache(3 * time.Second)
	reconciler := health.NewReconciler(30 * time.Second)
	store := storage.NewMemoryStore()

	srv := New(cfg, log, d, tracker, reconciler, cache, starter, store, nil)
	return &testEnv{
		server:  srv,
		daemon:  d,
		starter: starter,
		tracker: tracker,
		store:   store,
		cache:   cache,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Engine().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthReportsReconciledStatus(t *testing.T) {
	env := newTestEnv(t)
	env.daemon.models = []daemon.ModelInfo{{Name: "llama3:8b"}}

	w := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["actual_status"])
	assert.Equal(t, true, body["model_available"])
}

func TestHealthAlwaysHTTP200WhenDaemonDown(t *testing.T) {
	env := newTestEnv(t)
	env.daemon.reachable = false

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "error", body["actual_status"])
}

func TestHealthServedFromCache(t *testing.T) {
	env := newTestEnv(t)
	env.daemon.models = []daemon.ModelInfo{{Name: "llama3:8b"}}

	env.do(t, http.MethodGet, "/api/health", nil)
	first := env.daemon.listCalls

	w := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first, env.daemon.listCalls)
	assert.Contains(t, w.Header().Get("Cache-Control"), "max-age=3")
}

func TestDownloadStartOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		result     supervisor.StartResult
		wantStatus int
	}{
		{"started", supervisor.StartResult{Outcome: supervisor.OutcomeStarted}, http.StatusAccepted},
		{"already available", supervisor.StartResult{Outcome: supervisor.OutcomeAlreadyAvailable}, http.StatusOK},
		{"already running", supervisor.StartResult{Outcome: supervisor.OutcomeAlreadyRunning}, http.StatusConflict},
		{"rate limited", supervisor.StartResult{Outcome: supervisor.OutcomeRateLimited, RetryAfterSeconds: 3}, http.StatusTooManyRequests},
		{"disabled", supervisor.StartResult{Outcome: supervisor.OutcomeDisabled}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.starter.result = tt.result

			w := env.do(t, http.MethodPost, "/api/download", map[string]string{"model": "llama3:8b"})
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.result.Outcome == supervisor.OutcomeRateLimited {
				assert.Equal(t, "3", w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestDownloadStartDefaultsToActiveModel(t *testing.T) {
	env := newTestEnv(t)
	env.starter.result = supervisor.StartResult{Outcome: supervisor.OutcomeStarted}

	w := env.do(t, http.MethodPost, "/api/download", map[string]string{})
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decode(t, w)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "llama3:8b", data["model"])
}

func TestDownloadProgressSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.Reset("llama3:8b")

	w := env.do(t, http.MethodGet, "/api/download/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["downloading"])
	assert.Equal(t, "llama3:8b", data["model"])
}

func TestDownloadResetRequiresAvailableModel(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.Reset("llama3:8b")

	// Model not listed by the daemon: refuse to reset.
	w := env.do(t, http.MethodPost, "/api/download/reset", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, env.tracker.IsDownloading())

	// Once the daemon lists it, reset clears the stuck state.
	env.daemon.mu.Lock()
	env.daemon.models = []daemon.ModelInfo{{Name: "llama3:8b"}}
	env.daemon.mu.Unlock()

	w = env.do(t, http.MethodPost, "/api/download/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.tracker.IsDownloading())

	snap := env.tracker.Snapshot()
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "Model ready", snap.Status)
}

func TestModelsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.daemon.models = []daemon.ModelInfo{{Name: "llama3:8b"}, {Name: "phi3:mini"}}

	w := env.do(t, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["count"])
}

func TestModelsEndpointDaemonDown(t *testing.T) {
	env := newTestEnv(t)
	env.daemon.listErr = errors.New("connection refused")

	w := env.do(t, http.MethodGet, "/api/models", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestChatProxy(t *testing.T) {
	env := newTestEnv(t)
	env.daemon.genResp = &daemon.GenerateResponse{Model: "llama3:8b", Response: "hello there", Done: true}

	w := env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "say hello"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "hello there", data["response"])
}

func TestChatRequiresMessage(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/chat", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatDaemonFailure(t *testing.T) {
	env := newTestEnv(t)
	env.daemon.genErr = errors.New("generate request failed")

	w := env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "request timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestChatDaemonTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.daemon.genErr = timeoutError{}

	w := env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestDownloadHistory(t *testing.T) {
	env := newTestEnv(t)
	finished := time.Now()
	require.NoError(t, env.store.SaveAttempt(context.Background(), &storage.DownloadAttempt{
		ID:         "attempt-1",
		Model:      "llama3:8b",
		Outcome:    storage.OutcomeCompleted,
		Progress:   100,
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: &finished,
	}))

	w := env.do(t, http.MethodGet, "/api/downloads/history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["count"])
}

func TestDownloadHistoryBadLimit(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/downloads/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInfoAndDebug(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "drover", data["name"])

	w = env.do(t, http.MethodGet, "/api/debug", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/info", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
