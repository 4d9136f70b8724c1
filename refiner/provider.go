// Package refiner turns a user prompt into a refined prompt by composing a request,
// dispatching it to a backend and driving the clarification exchange.
package refiner

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/prepcli/prep/claude"
	"github.com/prepcli/prep/models"
	"github.com/prepcli/prep/ollama"
	"github.com/prepcli/prep/openai"
)

// Provider is the contract every backend adapter satisfies. Refine performs exactly one
// outbound call and never retries; every failure is a *models.ProviderError.
type Provider interface {
	ID() models.ProviderID
	Model() string
	Refine(ctx context.Context, call models.ProviderCall) (*models.ProviderReply, error)
}

// ProviderFactory builds the adapter for a resolved configuration.
type ProviderFactory func(config models.ProviderConfig, credentials models.Credentials) (Provider, error)

// NewProviderFactory returns the factory for the four built-in backends. transport may be nil.
func NewProviderFactory(transport http.RoundTripper, logger *zap.Logger) ProviderFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(config models.ProviderConfig, credentials models.Credentials) (Provider, error) {
		switch config.Provider {
		case models.ProviderOllamaLocal:
			return ollama.NewLocalClient(config, &http.Client{Transport: transport}, logger), nil
		case models.ProviderOllamaCloud:
			return ollama.NewCloudClient(config, credentials, &http.Client{Transport: transport}, logger), nil
		case models.ProviderOpenAI:
			return openai.NewOpenAIClient(config, credentials, transport, logger), nil
		case models.ProviderAnthropic:
			return claude.NewClaudeClient(config, credentials, transport, logger), nil
		}
		return nil, fmt.Errorf("unsupported provider: %q", config.Provider)
	}
}
