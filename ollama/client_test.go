package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepcli/prep/models"
)

func replyBody(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(ChatResponse{
		Model:   "llama3.2",
		Message: &Message{Role: "assistant", Content: content},
		Done:    true,
	})
	require.NoError(t, err)
	return body
}

func testCall(prompt string, exchanges ...models.ClarificationExchange) models.ProviderCall {
	return models.ProviderCall{ComposedPrompt: prompt, Exchanges: exchanges}
}

func testConfig(provider models.ProviderID, endpoint string) models.ProviderConfig {
	return models.ProviderConfig{
		Provider: provider,
		Endpoint: endpoint,
		Model:    "llama3.2",
		Timeout:  5 * time.Second,
	}
}

func TestLocalClient_Refine(t *testing.T) {
	t.Parallel()

	var payload ChatPayload
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write(replyBody(t, `{"refined_prompt":"Build a responsive portfolio website.","needs_clarification":false,"questions":[]}`))
	}))
	defer server.Close()

	client := NewLocalClient(testConfig(models.ProviderOllamaLocal, server.URL+"/"), nil, nil)
	reply, err := client.Refine(context.Background(), testCall("### Prompt\nmake a website"))
	require.NoError(t, err)

	assert.Equal(t, "Build a responsive portfolio website.", reply.RefinedPrompt)
	assert.False(t, reply.AsksClarification())

	assert.Empty(t, authHeader)
	assert.Equal(t, "llama3.2", payload.Model)
	assert.Equal(t, "json", payload.Format)
	assert.False(t, payload.Stream)
	require.Len(t, payload.Messages, 2)
	assert.Equal(t, "system", payload.Messages[0].Role)
	assert.Contains(t, payload.Messages[1].Content, "make a website")
}

func TestLocalClient_ClarificationReply(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(replyBody(t, "```json\n{\"refined_prompt\":\"\",\"needs_clarification\":true,\"questions\":[\"Which stack?\"]}\n```"))
	}))
	defer server.Close()

	client := NewLocalClient(testConfig(models.ProviderOllamaLocal, server.URL), nil, nil)
	reply, err := client.Refine(context.Background(), testCall("make a website"))
	require.NoError(t, err)
	assert.True(t, reply.AsksClarification())
	assert.Equal(t, []string{"Which stack?"}, reply.Questions)
}

func TestLocalClient_SendsExchanges(t *testing.T) {
	t.Parallel()

	var payload ChatPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write(replyBody(t, `{"refined_prompt":"done"}`))
	}))
	defer server.Close()

	client := NewLocalClient(testConfig(models.ProviderOllamaLocal, server.URL), nil, nil)
	_, err := client.Refine(context.Background(), testCall("make a website",
		models.ClarificationExchange{Round: 1, Question: "Which stack?", Answer: "Go"}))
	require.NoError(t, err)
	assert.Contains(t, payload.Messages[1].Content, "Q1: Which stack? → Answer: Go")
}

func TestLocalClient_UnreachableIsNetworkFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	client := NewLocalClient(testConfig(models.ProviderOllamaLocal, endpoint), nil, nil)
	_, err := client.Refine(context.Background(), testCall("make a website"))

	pe, ok := models.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, models.KindNetworkFailure, pe.Kind)
	assert.Equal(t, endpoint, pe.Endpoint)
}

func TestCloudClient_NoKeyNoRequest(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	client := NewCloudClient(testConfig(models.ProviderOllamaCloud, server.URL), models.Credentials{}, nil, nil)
	_, err := client.Refine(context.Background(), testCall("x"))

	pe, ok := models.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, models.KindAuthMissing, pe.Kind)
	assert.Equal(t, "OLLAMA_API_KEY", pe.EnvVar)
	assert.Equal(t, int32(0), hits.Load())
}

func TestCloudClient_SendsBearer(t *testing.T) {
	t.Parallel()

	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		_, _ = w.Write(replyBody(t, `{"refined_prompt":"ok"}`))
	}))
	defer server.Close()

	client := NewCloudClient(testConfig(models.ProviderOllamaCloud, server.URL), models.Credentials{APIKey: "secret"}, nil, nil)
	_, err := client.Refine(context.Background(), testCall("x"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", authHeader)
}

func TestClient_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		header map[string]string
		kind   models.ErrorKind
		retry  time.Duration
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, kind: models.KindAuthInvalid},
		{name: "forbidden", status: http.StatusForbidden, kind: models.KindAuthInvalid},
		{name: "rate limited", status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "30"}, kind: models.KindRateLimited, retry: 30 * time.Second},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, kind: models.KindTimeout},
		{name: "server error", status: http.StatusInternalServerError, kind: models.KindNetworkFailure},
		{name: "not found", status: http.StatusNotFound, kind: models.KindNetworkFailure},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			client := NewCloudClient(testConfig(models.ProviderOllamaCloud, server.URL), models.Credentials{APIKey: "k"}, nil, nil)
			_, err := client.Refine(context.Background(), testCall("x"))

			pe, ok := models.AsProviderError(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.retry, pe.RetryAfter)
		})
	}
}

func TestClient_MalformedReplies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>oops</html>`},
		{name: "backend error", body: `{"error":"model not found"}`},
		{name: "no message", body: `{"model":"llama3.2","done":true}`},
		{name: "content not json", body: `{"message":{"role":"assistant","content":"Sure! Here is your prompt"}}`},
		{name: "empty refined prompt", body: `{"message":{"role":"assistant","content":"{\"refined_prompt\":\"\"}"}}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewLocalClient(testConfig(models.ProviderOllamaLocal, server.URL), nil, nil)
			_, err := client.Refine(context.Background(), testCall("x"))
			assert.True(t, models.IsKind(err, models.KindMalformedResponse), "got %v", err)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	config := testConfig(models.ProviderOllamaLocal, server.URL)
	config.Timeout = 50 * time.Millisecond
	client := NewLocalClient(config, nil, nil)

	_, err := client.Refine(context.Background(), testCall("x"))
	assert.True(t, models.IsKind(err, models.KindTimeout), "got %v", err)
}

func TestClient_Cancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	client := NewLocalClient(testConfig(models.ProviderOllamaLocal, server.URL), nil, nil)
	_, err := client.Refine(ctx, testCall("x"))
	assert.True(t, models.IsKind(err, models.KindCancelled), "got %v", err)
}
