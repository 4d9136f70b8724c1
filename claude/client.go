package claude

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic"
	"go.uber.org/zap"

	"github.com/prepcli/prep/models"
	"github.com/prepcli/prep/utils"
)

const (
	maxTokens  = 4096
	apiVersion = "2023-06-01"
)

type ClaudeClient struct {
	config      models.ProviderConfig
	credentials models.Credentials
	transport   http.RoundTripper
	logger      *zap.Logger
}

// NewClaudeClient builds the adapter. transport may be nil to use http.DefaultTransport.
func NewClaudeClient(config models.ProviderConfig, credentials models.Credentials, transport http.RoundTripper, logger *zap.Logger) *ClaudeClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaudeClient{
		config:      config,
		credentials: credentials,
		transport:   transport,
		logger:      logger,
	}
}

func (c *ClaudeClient) ID() models.ProviderID {
	return models.ProviderAnthropic
}

func (c *ClaudeClient) Model() string {
	return c.config.Model
}

// Refine calls the Messages API. Claude has no JSON response mode, so the system prompt
// demands raw JSON and fenced replies are cleaned before parsing.
func (c *ClaudeClient) Refine(ctx context.Context, call models.ProviderCall) (*models.ProviderReply, error) {
	if !c.credentials.Present() {
		return nil, models.NewAuthMissingError(models.ProviderAnthropic)
	}

	ctx, cancel := utils.WithRequestTimeout(ctx, c.config.Timeout)
	defer cancel()

	recorder := utils.NewResponseRecorder(c.transport)
	opts := []anthropic.ClientOption{
		anthropic.WithHTTPClient(&http.Client{Transport: recorder}),
		anthropic.WithAPIVersion(apiVersion),
	}
	if c.config.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimRight(c.config.Endpoint, "/")))
	}
	client := anthropic.NewClient(c.credentials.APIKey, opts...)

	userMessage := utils.BuildUserMessage(call.ComposedPrompt, call.Exchanges)
	request := anthropic.MessagesRequest{
		Model:     c.config.Model,
		System:    utils.SystemPrompt + utils.JSONOnlySuffix,
		MaxTokens: maxTokens,
		Messages: []anthropic.Message{
			{
				Role: "user",
				Content: []anthropic.MessageContent{
					{
						Type: "text",
						Text: &userMessage,
					},
				},
			},
		},
	}

	start := time.Now()
	c.logger.Debug("sending messages request",
		zap.String("model", c.config.Model),
		zap.String("endpoint", c.config.Endpoint),
		zap.Int("exchanges", len(call.Exchanges)))

	resp, err := client.CreateMessages(ctx, request)
	if err != nil {
		return nil, utils.ClassifySDKError(ctx, models.ProviderAnthropic, c.config.Endpoint, recorder, err)
	}

	c.logger.Debug("messages response received",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("inputTokens", resp.Usage.InputTokens),
		zap.Int("outputTokens", resp.Usage.OutputTokens))

	return utils.ParseRefinerReply(models.ProviderAnthropic, responseText(resp))
}

func responseText(resp anthropic.MessagesResponse) string {
	var b strings.Builder
	for _, content := range resp.Content {
		b.WriteString(content.Text)
	}
	return b.String()
}
