package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/prepcli/prep/models"
	"github.com/prepcli/prep/utils"
)

const temperature = 0.7

type OpenAIClient struct {
	config      models.ProviderConfig
	credentials models.Credentials
	transport   http.RoundTripper
	logger      *zap.Logger
}

// NewOpenAIClient builds the adapter. transport may be nil to use http.DefaultTransport.
func NewOpenAIClient(config models.ProviderConfig, credentials models.Credentials, transport http.RoundTripper, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{
		config:      config,
		credentials: credentials,
		transport:   transport,
		logger:      logger,
	}
}

func (c *OpenAIClient) ID() models.ProviderID {
	return models.ProviderOpenAI
}

func (c *OpenAIClient) Model() string {
	return c.config.Model
}

// Refine calls the Chat Completions API in JSON mode.
func (c *OpenAIClient) Refine(ctx context.Context, call models.ProviderCall) (*models.ProviderReply, error) {
	if !c.credentials.Present() {
		return nil, models.NewAuthMissingError(models.ProviderOpenAI)
	}

	ctx, cancel := utils.WithRequestTimeout(ctx, c.config.Timeout)
	defer cancel()

	recorder := utils.NewResponseRecorder(c.transport)
	clientConfig := openaigo.DefaultConfig(c.credentials.APIKey)
	if c.config.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimRight(c.config.Endpoint, "/")
	}
	clientConfig.HTTPClient = &http.Client{Transport: recorder}
	client := openaigo.NewClientWithConfig(clientConfig)

	request := utils.ToChatCompletionRequestFromPrompt(
		utils.SystemPrompt,
		utils.BuildUserMessage(call.ComposedPrompt, call.Exchanges),
		c.config.Model,
		temperature,
	)
	request.ResponseFormat = &openaigo.ChatCompletionResponseFormat{
		Type: openaigo.ChatCompletionResponseFormatTypeJSONObject,
	}

	start := time.Now()
	c.logger.Debug("sending chat completion",
		zap.String("model", c.config.Model),
		zap.String("endpoint", clientConfig.BaseURL),
		zap.Int("exchanges", len(call.Exchanges)))

	resp, err := client.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, utils.ClassifySDKError(ctx, models.ProviderOpenAI, c.config.Endpoint, recorder, err)
	}

	c.logger.Debug("chat completion received",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("promptTokens", resp.Usage.PromptTokens),
		zap.Int("completionTokens", resp.Usage.CompletionTokens))

	if len(resp.Choices) == 0 {
		return nil, models.NewMalformedResponseError(models.ProviderOpenAI, "no choices in response")
	}
	return utils.ParseRefinerReply(models.ProviderOpenAI, resp.Choices[0].Message.Content)
}
