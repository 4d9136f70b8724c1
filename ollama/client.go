package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prepcli/prep/models"
	"github.com/prepcli/prep/utils"
)

const (
	chatPath        = "/api/chat"
	maxResponseSize = 4 << 20
)

// OllamaClient talks to the native Ollama chat API, either a local server or Ollama Cloud.
type OllamaClient struct {
	provider    models.ProviderID
	config      models.ProviderConfig
	credentials models.Credentials
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewLocalClient builds the keyless adapter for a local Ollama server.
func NewLocalClient(config models.ProviderConfig, httpClient *http.Client, logger *zap.Logger) *OllamaClient {
	return newClient(models.ProviderOllamaLocal, config, models.Credentials{}, httpClient, logger)
}

// NewCloudClient builds the Bearer-authenticated adapter for Ollama Cloud.
func NewCloudClient(config models.ProviderConfig, credentials models.Credentials, httpClient *http.Client, logger *zap.Logger) *OllamaClient {
	return newClient(models.ProviderOllamaCloud, config, credentials, httpClient, logger)
}

func newClient(provider models.ProviderID, config models.ProviderConfig, credentials models.Credentials, httpClient *http.Client, logger *zap.Logger) *OllamaClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaClient{
		provider:    provider,
		config:      config,
		credentials: credentials,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatPayload represents the payload sent to the Ollama chat API
type ChatPayload struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   string    `json:"format"`
}

// ChatResponse represents the non-streaming response of the chat API.
type ChatResponse struct {
	Model   string   `json:"model"`
	Message *Message `json:"message,omitempty"`
	Done    bool     `json:"done"`
	Error   string   `json:"error,omitempty"`
}

func (c *OllamaClient) ID() models.ProviderID {
	return c.provider
}

func (c *OllamaClient) Model() string {
	return c.config.Model
}

// Refine performs exactly one chat call. The cloud variant fails before any I/O without a key.
func (c *OllamaClient) Refine(ctx context.Context, call models.ProviderCall) (*models.ProviderReply, error) {
	if c.provider.RequiresKey() && !c.credentials.Present() {
		return nil, models.NewAuthMissingError(c.provider)
	}

	ctx, cancel := utils.WithRequestTimeout(ctx, c.config.Timeout)
	defer cancel()

	payload := ChatPayload{
		Model: c.config.Model,
		Messages: []Message{
			{Role: "system", Content: utils.SystemPrompt},
			{Role: "user", Content: utils.BuildUserMessage(call.ComposedPrompt, call.Exchanges)},
		},
		Stream: false,
		Format: "json",
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, models.NewProviderError(models.KindMalformedResponse, c.provider, fmt.Errorf("error marshalling payload: %w", err))
	}

	endpoint := strings.TrimRight(c.config.Endpoint, "/") + chatPath
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, utils.ClassifyTransportError(ctx, c.provider, c.config.Endpoint, fmt.Errorf("error creating request: %w", err))
	}

	request.Header.Set("Content-Type", "application/json")
	if c.provider.RequiresKey() {
		request.Header.Set("Authorization", "Bearer "+c.credentials.APIKey)
	}

	start := time.Now()
	c.logger.Debug("sending chat request",
		zap.Stringer("provider", c.provider),
		zap.String("model", c.config.Model),
		zap.String("endpoint", endpoint),
		zap.Int("exchanges", len(call.Exchanges)))

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, utils.ClassifyTransportError(ctx, c.provider, c.config.Endpoint, err)
	}
	defer response.Body.Close()

	responseData, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, utils.ClassifyTransportError(ctx, c.provider, c.config.Endpoint, fmt.Errorf("error reading response: %w", err))
	}

	c.logger.Debug("chat response received",
		zap.Stringer("provider", c.provider),
		zap.Int("status", response.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if pe := utils.ClassifyStatus(c.provider, response.StatusCode, response.Header, responseData); pe != nil {
		pe.Endpoint = c.config.Endpoint
		return nil, pe
	}

	var chatResponse ChatResponse
	if err := json.Unmarshal(responseData, &chatResponse); err != nil {
		return nil, models.NewMalformedResponseError(c.provider, "error unmarshalling response: %v", err)
	}
	if chatResponse.Error != "" {
		return nil, models.NewMalformedResponseError(c.provider, "backend reported an error: %s", chatResponse.Error)
	}
	if chatResponse.Message == nil {
		return nil, models.NewMalformedResponseError(c.provider, "response has no message")
	}

	return utils.ParseRefinerReply(c.provider, chatResponse.Message.Content)
}
