package openai

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

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(body)
}

func testConfig(endpoint string) models.ProviderConfig {
	return models.ProviderConfig{
		Provider: models.ProviderOpenAI,
		Endpoint: endpoint,
		Model:    "gpt-4o",
		Timeout:  5 * time.Second,
	}
}

func TestOpenAIClient_Refine(t *testing.T) {
	t.Parallel()

	var request map[string]any
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(`{"refined_prompt":"Write unit tests for the parser.","needs_clarification":false,"questions":[]}`)))
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig(server.URL+"/v1"), models.Credentials{APIKey: "sk-test"}, nil, nil)
	reply, err := client.Refine(context.Background(), models.ProviderCall{ComposedPrompt: "### Prompt\nwrite tests"})
	require.NoError(t, err)

	assert.Equal(t, "Write unit tests for the parser.", reply.RefinedPrompt)
	assert.Equal(t, "Bearer sk-test", authHeader)
	assert.Equal(t, "gpt-4o", request["model"])
	assert.InDelta(t, 0.7, request["temperature"], 0.001)
	format, ok := request["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAIClient_NoKeyNoRequest(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig(server.URL), models.Credentials{APIKey: "  "}, nil, nil)
	_, err := client.Refine(context.Background(), models.ProviderCall{ComposedPrompt: "write tests"})

	pe, ok := models.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, models.KindAuthMissing, pe.Kind)
	assert.Equal(t, "OPENAI_API_KEY", pe.EnvVar)
	assert.Equal(t, int32(0), hits.Load())
}

func TestOpenAIClient_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		kind   models.ErrorKind
	}{
		{status: http.StatusUnauthorized, kind: models.KindAuthInvalid},
		{status: http.StatusTooManyRequests, kind: models.KindRateLimited},
		{status: http.StatusBadGateway, kind: models.KindNetworkFailure},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"denied","type":"invalid_request_error"}}`))
			}))
			defer server.Close()

			client := NewOpenAIClient(testConfig(server.URL), models.Credentials{APIKey: "sk"}, nil, nil)
			_, err := client.Refine(context.Background(), models.ProviderCall{ComposedPrompt: "x"})

			pe, ok := models.AsProviderError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Equal(t, tt.status, pe.StatusCode)
			if tt.kind == models.KindRateLimited {
				assert.Equal(t, 7*time.Second, pe.RetryAfter)
			}
		})
	}
}

func TestOpenAIClient_MalformedContent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("I cannot do that")))
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig(server.URL), models.Credentials{APIKey: "sk"}, nil, nil)
	_, err := client.Refine(context.Background(), models.ProviderCall{ComposedPrompt: "x"})
	assert.True(t, models.IsKind(err, models.KindMalformedResponse), "got %v", err)
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig(server.URL), models.Credentials{APIKey: "sk"}, nil, nil)
	_, err := client.Refine(context.Background(), models.ProviderCall{ComposedPrompt: "x"})
	assert.True(t, models.IsKind(err, models.KindMalformedResponse), "got %v", err)
}

func TestOpenAIClient_Unreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	client := NewOpenAIClient(testConfig(endpoint), models.Credentials{APIKey: "sk"}, nil, nil)
	_, err := client.Refine(context.Background(), models.ProviderCall{ComposedPrompt: "x"})
	assert.True(t, models.IsKind(err, models.KindNetworkFailure), "got %v", err)
}

func hangingServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})
	return server
}

func TestOpenAIClient_Timeout(t *testing.T) {
	t.Parallel()

	config := testConfig(hangingServer(t).URL)
	config.Timeout = 50 * time.Millisecond
	client := NewOpenAIClient(config, models.Credentials{APIKey: "sk"}, nil, nil)

	_, err := client.Refine(context.Background(), models.ProviderCall{ComposedPrompt: "x"})
	assert.True(t, models.IsKind(err, models.KindTimeout), "got %v", err)
}

func TestOpenAIClient_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	client := NewOpenAIClient(testConfig(hangingServer(t).URL), models.Credentials{APIKey: "sk"}, nil, nil)
	_, err := client.Refine(ctx, models.ProviderCall{ComposedPrompt: "x"})
	assert.True(t, models.IsKind(err, models.KindCancelled), "got %v", err)
}
