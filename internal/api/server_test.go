package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalwatch/internal/cache"
	"signalwatch/internal/classify"
	"signalwatch/internal/config"
	"signalwatch/internal/enrich"
	"signalwatch/internal/events"
	"signalwatch/internal/metrics"
	"signalwatch/internal/model"
	"signalwatch/internal/storage"
)

type testEnv struct {
	handler http.Handler
	orch    *enrich.Orchestrator
	store   storage.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemory()
	m := metrics.New()
	orch := enrich.New(store, cache.NewMemory(), nil, classify.NewFallback(nil), m, nil, enrich.Options{Workers: 1})
	orch.Start()
	t.Cleanup(orch.Close)
	svc := events.NewService(store, orch, nil, nil)
	cfg := config.DefaultConfig()
	cfg.API.MaxBodyBytes = 1024
	srv := NewServer(Deps{
		Config:  config.NewStaticManager(cfg),
		Events:  svc,
		Store:   store,
		Cache:   cache.NewMemory(),
		Metrics: m,
		Version: "test",
	})
	return &testEnv{handler: srv.Handler(), orch: orch, store: store}
}

type response struct {
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data"`
	Error         string          `json:"error"`
	CorrelationID string          `json:"correlationId"`
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	var resp response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func TestHealthEchoesCorrelationID(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/health", "", "X-Correlation-ID", "abc-123")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "abc-123", body.CorrelationID)

	rec, _ = env.do(t, http.MethodGet, "/health", "")
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"), "a correlation id is minted when absent")
}

func TestWatchListAndEventFlow(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.do(t, http.MethodPost, "/api/watch-lists", `{"name":"Endpoint","terms":["trojan","c2"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(t, resp.Success)
	var wl model.WatchList
	require.NoError(t, json.Unmarshal(resp.Data, &wl))

	rec, resp = env.do(t, http.MethodPost, "/api/events",
		`{"watchListId":"`+wl.ID+`","eventData":{"type":"malware","description":"Trojan malware found on host","metadata":{"host":"ws-1"}}}`,
		"X-Correlation-ID", "corr-e2e")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "corr-e2e", resp.CorrelationID)
	var created model.Event
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.False(t, created.Processed)
	assert.Nil(t, created.Analysis)

	env.orch.Close()

	rec, resp = env.do(t, http.MethodGet, "/api/events/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Event
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.True(t, got.Processed)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, model.SeverityHigh, got.Analysis.Severity)
	assert.Equal(t, "Endpoint", got.WatchListName)

	rec, resp = env.do(t, http.MethodGet, "/api/events?watchListId="+wl.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Event
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 1)

	rec, resp = env.do(t, http.MethodGet, "/api/watch-lists/"+wl.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail model.WatchListDetail
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.Len(t, detail.Events, 1)

	rec, resp = env.do(t, http.MethodGet, "/api/watch-lists", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []model.WatchListSummary
	require.NoError(t, json.Unmarshal(resp.Data, &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].EventCount)

	rec, resp = env.do(t, http.MethodDelete, "/api/watch-lists/"+wl.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, resp = env.do(t, http.MethodGet, "/api/events/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Resource not found", resp.Error)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		errMsg string
	}{
		{"validation", http.MethodPost, "/api/watch-lists", `{"name":"","terms":[]}`, http.StatusBadRequest, "Validation error"},
		{"bad json", http.MethodPost, "/api/watch-lists", `{"name":`, http.StatusBadRequest, "Invalid JSON body"},
		{"missing event data", http.MethodPost, "/api/events", `{"watchListId":"x","eventData":{"type":"t"}}`, http.StatusBadRequest, "Validation error"},
		{"number out of range", http.MethodPost, "/api/events", `{"watchListId":"x","eventData":{"type":"t","description":"d","metadata":{"n":1e400}}}`, http.StatusBadRequest, "Invalid JSON body"},
		{"unknown watch list", http.MethodPost, "/api/events", `{"watchListId":"nope","eventData":{"type":"t","description":"d"}}`, http.StatusNotFound, "Resource not found"},
		{"missing watch list", http.MethodGet, "/api/watch-lists/nope", "", http.StatusNotFound, "Resource not found"},
		{"unknown route", http.MethodGet, "/api/nothing", "", http.StatusNotFound, "Route not found"},
		{"bad limit", http.MethodGet, "/api/events?limit=abc", "", http.StatusBadRequest, "Validation error"},
		{"too large", http.MethodPost, "/api/watch-lists", `{"name":"` + strings.Repeat("a", 2048) + `","terms":["x"]}`, http.StatusRequestEntityTooLarge, "Request body too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.False(t, resp.Success)
			assert.Equal(t, tt.errMsg, resp.Error)
			assert.NotEmpty(t, resp.CorrelationID)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestMetricsAndStatus(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec, _ = env.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "ok", st.Status)
	assert.Equal(t, "memory", st.Storage.Backend)
	assert.Equal(t, "memory", st.Cache.Backend)
	assert.False(t, st.Classifier.Remote)
	assert.Equal(t, "test", st.Version)
}
