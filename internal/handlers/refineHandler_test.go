package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepcli/prep/contextfile"
	"github.com/prepcli/prep/history"
	"github.com/prepcli/prep/localratelimiter"
	"github.com/prepcli/prep/metrics"
	"github.com/prepcli/prep/mockllm"
	"github.com/prepcli/prep/models"
	"github.com/prepcli/prep/refiner"
	"github.com/prepcli/prep/templates"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryHistory struct {
	entries []history.Entry
}

func (m *memoryHistory) Append(_ context.Context, e history.Entry) (int64, error) {
	m.entries = append(m.entries, e)
	return int64(len(m.entries)), nil
}

type testServer struct {
	router  *gin.Engine
	refine  *RefineHandler
	mock    *mockllm.MockLLMClient
	metrics *metrics.MonitoringClient
	history *memoryHistory
	keys    []string
}

func newTestServer(t *testing.T, acceptPartial bool, limiter *localratelimiter.RateLimiter, steps ...mockllm.Step) *testServer {
	t.Helper()

	srv := &testServer{
		mock:    mockllm.NewMockLLMClient(models.ProviderOllamaLocal, "llama3.2", steps...),
		metrics: metrics.NewMonitoringClient(),
		history: &memoryHistory{},
	}
	factory := func(_ models.ProviderConfig, creds models.Credentials) (refiner.Provider, error) {
		srv.keys = append(srv.keys, creds.APIKey)
		return srv.mock, nil
	}

	composer := refiner.NewComposer(templates.Builtin(), contextfile.NewReader(afero.NewMemMapFs(), models.MaxContextBytes, nil))
	orchestrator := refiner.NewOrchestrator(refiner.Environment{
		DefaultProvider: models.ProviderOllamaLocal,
		LookupEnv:       func(string) (string, bool) { return "", false },
	}, composer, refiner.OrchestratorOptions{
		Factory:                factory,
		Recorder:               srv.metrics,
		AcceptPartialOnDecline: acceptPartial,
	})

	srv.refine = NewRefineHandler(orchestrator, cache.New(time.Minute, time.Minute), srv.metrics, srv.history, nil)
	router, err := NewRouter(RouterOptions{
		Refine:      srv.refine,
		Health:      NewHealthHandler(srv.metrics),
		Metrics:     srv.metrics,
		RateLimiter: limiter,
	})
	require.NoError(t, err)
	srv.router = router
	return srv
}

func (s *testServer) post(t *testing.T, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/refine", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRefine_Success(t *testing.T) {
	srv := newTestServer(t, false, nil, mockllm.Refined("Write a Go HTTP server with graceful shutdown."))

	w := srv.post(t, RefineRequest{Prompt: "go server", Template: "code"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "Write a Go HTTP server with graceful shutdown.", body["refinedPrompt"])
	assert.Equal(t, "go server", body["originalPrompt"])
	assert.Equal(t, false, body["cached"])
	assert.NotEmpty(t, body["runId"])

	require.Len(t, srv.history.entries, 1)
	assert.Equal(t, "code", srv.history.entries[0].Template)

	calls := srv.mock.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].ComposedPrompt, "### Instruction")
}

func TestRefine_AnswersFeedClarification(t *testing.T) {
	srv := newTestServer(t, false, nil,
		mockllm.Asks("", "Which language?"),
		mockllm.Refined("Write it in Go."))

	w := srv.post(t, RefineRequest{Prompt: "write a parser", Answers: []string{"Go"}}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Clarifications []models.ClarificationExchange `json:"clarifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Clarifications, 1)
	assert.Equal(t, "Which language?", resp.Clarifications[0].Question)
	assert.Equal(t, "Go", resp.Clarifications[0].Answer)
	assert.Equal(t, 2, srv.mock.CallCount())
}

func TestRefine_CachesIdenticalRequests(t *testing.T) {
	srv := newTestServer(t, false, nil, mockllm.Refined("refined"))

	first := srv.post(t, RefineRequest{Prompt: "same prompt"}, nil)
	second := srv.post(t, RefineRequest{Prompt: "same prompt"}, nil)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, true, decode(t, second)["cached"])
	assert.Equal(t, 1, srv.mock.CallCount())

	other := srv.post(t, RefineRequest{Prompt: "same prompt"}, map[string]string{"X-Api-Key": "k2"})
	require.Equal(t, http.StatusOK, other.Code)
	assert.Equal(t, false, decode(t, other)["cached"])
	assert.Equal(t, 2, srv.mock.CallCount())
}

func TestRefine_APIKeyHeaders(t *testing.T) {
	srv := newTestServer(t, false, nil, mockllm.Refined("refined"))

	srv.post(t, RefineRequest{Prompt: "one", Provider: "openai"}, map[string]string{"Authorization": "Bearer sk-bearer"})
	srv.post(t, RefineRequest{Prompt: "two", Provider: "openai"}, map[string]string{"X-Api-Key": "sk-header"})
	srv.post(t, RefineRequest{Prompt: "three"}, map[string]string{"X-Api-Key": "ignored"})

	assert.Equal(t, []string{"sk-bearer", "sk-header", ""}, srv.keys)
}

func TestRefine_BadRequests(t *testing.T) {
	srv := newTestServer(t, false, nil, mockllm.Refined("refined"))

	tests := []struct {
		name string
		body any
		kind string
	}{
		{"missing prompt", map[string]any{"template": "code"}, "BadRequest"},
		{"blank prompt", RefineRequest{Prompt: "   "}, "EmptyPrompt"},
		{"unknown template", RefineRequest{Prompt: "x", Template: "nope"}, "TemplateNotFound"},
		{"unknown provider", RefineRequest{Prompt: "x", Provider: "mystery"}, "UnknownProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.post(t, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.kind, decode(t, w)["kind"])
		})
	}
	assert.Equal(t, 0, srv.mock.CallCount())
}

func TestRefine_ProviderErrorStatus(t *testing.T) {
	tests := []struct {
		kind   models.ErrorKind
		status int
	}{
		{models.KindAuthMissing, http.StatusUnauthorized},
		{models.KindAuthInvalid, http.StatusUnauthorized},
		{models.KindTimeout, http.StatusGatewayTimeout},
		{models.KindNetworkFailure, http.StatusBadGateway},
		{models.KindMalformedResponse, http.StatusBadGateway},
		{models.KindCancelled, http.StatusRequestTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			srv := newTestServer(t, false, nil, mockllm.Fails(models.ProviderOllamaLocal, tt.kind))
			w := srv.post(t, RefineRequest{Prompt: "x"}, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.kind.String(), decode(t, w)["kind"])
			assert.Empty(t, srv.history.entries)
		})
	}
}

func TestRefine_RateLimitedUpstream(t *testing.T) {
	srv := newTestServer(t, false, nil, mockllm.Step{Err: &models.ProviderError{
		Kind:       models.KindRateLimited,
		Provider:   models.ProviderOpenAI,
		RetryAfter: 12 * time.Second,
	}})

	w := srv.post(t, RefineRequest{Prompt: "x"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "12", w.Header().Get("Retry-After"))
	assert.Equal(t, 1, srv.mock.CallCount())
}

func TestRefine_Declined(t *testing.T) {
	srv := newTestServer(t, false, nil, mockllm.Asks("draft", "Which database?", "How many users?"))

	w := srv.post(t, RefineRequest{Prompt: "build an app"}, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	body := decode(t, w)
	assert.Equal(t, "UserDeclined", body["kind"])
	assert.Equal(t, []any{"Which database?", "How many users?"}, body["questions"])
}

func TestRefine_PartialIsNotCached(t *testing.T) {
	srv := newTestServer(t, true, nil, mockllm.Asks("draft prompt", "Which database?"))

	first := srv.post(t, RefineRequest{Prompt: "build an app"}, nil)
	require.Equal(t, http.StatusOK, first.Code)
	body := decode(t, first)
	assert.Equal(t, "draft prompt", body["refinedPrompt"])
	assert.Equal(t, true, body["partial"])
	assert.Equal(t, []any{"Which database?"}, body["pendingQuestions"])

	srv.post(t, RefineRequest{Prompt: "build an app"}, nil)
	assert.Equal(t, 2, srv.mock.CallCount())
}

func TestRefine_RoundLimit(t *testing.T) {
	srv := newTestServer(t, false, nil, mockllm.Asks("", "More detail?"))

	w := srv.post(t, RefineRequest{Prompt: "x", MaxRounds: 2, Answers: []string{"a", "b", "c"}}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	body := decode(t, w)
	assert.Equal(t, "RoundLimitExceeded", body["kind"])
	assert.Equal(t, float64(2), body["rounds"])
	assert.Equal(t, 3, srv.mock.CallCount())
}

func TestRefine_ContextTooLarge(t *testing.T) {
	srv := newTestServer(t, false, nil, mockllm.Refined("refined"))

	big := bytes.Repeat([]byte("a"), models.MaxContextBytes+1)
	w := srv.post(t, RefineRequest{Prompt: "x", Context: string(big)}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 0, srv.mock.CallCount())
}

func TestRouter_RateLimitsRefine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := localratelimiter.NewRateLimiter(ctx, 0.001, 1, nil)
	srv := newTestServer(t, false, limiter, mockllm.Refined("refined"))

	assert.Equal(t, http.StatusOK, srv.post(t, RefineRequest{Prompt: "a"}, nil).Code)
	w := srv.post(t, RefineRequest{Prompt: "b"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 1, srv.mock.CallCount())

	health := httptest.NewRecorder()
	srv.router.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, false, nil, mockllm.Refined("refined"))
	require.Equal(t, http.StatusOK, srv.post(t, RefineRequest{Prompt: "a"}, nil).Code)

	health := httptest.NewRecorder()
	srv.router.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, health.Code)
	body := decode(t, health)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["refinements"])

	m := httptest.NewRecorder()
	srv.router.ServeHTTP(m, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), metrics.RefinementsTotal)
	assert.Contains(t, m.Body.String(), metrics.ServeRequestsTotal)
}

func TestRouter_IgnoresForwardedFor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := localratelimiter.NewRateLimiter(ctx, 0.001, 1, nil)
	srv := newTestServer(t, false, limiter, mockllm.Refined("refined"))

	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"} {
		w := srv.post(t, RefineRequest{Prompt: "a"}, map[string]string{
			"X-Forwarded-For": ip,
			"X-Real-IP":       ip,
			"Origin":          "https://evil.example",
		})
		if i == 0 {
			assert.Equal(t, http.StatusOK, w.Code)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, w.Code, "request from %s", ip)
		}
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	}
	assert.Equal(t, 1, srv.mock.CallCount())
}

func TestRouter_TrustedProxyForwardsClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := localratelimiter.NewRateLimiter(ctx, 0.001, 1, nil)
	srv := newTestServer(t, false, limiter, mockllm.Refined("one"), mockllm.Refined("two"))

	// httptest requests arrive from 192.0.2.1.
	router, err := NewRouter(RouterOptions{
		Refine:         srv.refine,
		RateLimiter:    limiter,
		TrustedProxies: []string{"192.0.2.0/24"},
	})
	require.NoError(t, err)
	srv.router = router

	assert.Equal(t, http.StatusOK, srv.post(t, RefineRequest{Prompt: "a"}, map[string]string{"X-Forwarded-For": "10.0.0.1"}).Code)
	assert.Equal(t, http.StatusOK, srv.post(t, RefineRequest{Prompt: "b"}, map[string]string{"X-Forwarded-For": "10.0.0.2"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, srv.post(t, RefineRequest{Prompt: "c"}, map[string]string{"X-Forwarded-For": "10.0.0.1"}).Code)
}

func TestRouter_InvalidTrustedProxy(t *testing.T) {
	_, err := NewRouter(RouterOptions{TrustedProxies: []string{"not-an-ip"}})
	assert.Error(t, err)
}

func TestRouter_CORS(t *testing.T) {
	withOrigin := func(router *gin.Engine, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}
	health := NewHealthHandler(metrics.NewMonitoringClient())

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"none configured", nil, "https://app.example", ""},
		{"listed origin", []string{"https://app.example"}, "https://app.example", "https://app.example"},
		{"unlisted origin", []string{"https://app.example"}, "https://evil.example", ""},
		{"wildcard", []string{"*"}, "https://evil.example", "*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, err := NewRouter(RouterOptions{Health: health, AllowedOrigins: tt.allowed})
			require.NoError(t, err)
			assert.Equal(t, tt.want, withOrigin(router, tt.origin).Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
