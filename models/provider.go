package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ProviderID string

const (
	ProviderOllamaLocal ProviderID = "ollama"
	ProviderOllamaCloud ProviderID = "ollama-cloud"
	ProviderOpenAI      ProviderID = "openai"
	ProviderAnthropic   ProviderID = "anthropic"
)

// Providers lists every selectable backend in display order.
var Providers = []ProviderID{
	ProviderOllamaLocal,
	ProviderOllamaCloud,
	ProviderOpenAI,
	ProviderAnthropic,
}

// ErrUnknownProvider is wrapped by ParseProviderID for names it does not recognize.
var ErrUnknownProvider = errors.New("unknown provider")

// ParseProviderID accepts the canonical names and the short aliases the CLI has always taken.
func ParseProviderID(name string) (ProviderID, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ollama", "ollama-local", "local":
		return ProviderOllamaLocal, nil
	case "ollama-cloud", "cloud":
		return ProviderOllamaCloud, nil
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	}
	return "", fmt.Errorf("%w %q (expected one of: ollama, ollama-cloud, openai, anthropic)", ErrUnknownProvider, name)
}

func (p ProviderID) String() string {
	return string(p)
}

// DisplayName is the human readable backend name.
func (p ProviderID) DisplayName() string {
	switch p {
	case ProviderOllamaLocal:
		return "Ollama (Local)"
	case ProviderOllamaCloud:
		return "Ollama Cloud"
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderAnthropic:
		return "Anthropic"
	}
	return string(p)
}

// KeyEnvVar names the environment variable holding the API key, empty for keyless backends.
func (p ProviderID) KeyEnvVar() string {
	switch p {
	case ProviderOllamaCloud:
		return "OLLAMA_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	}
	return ""
}

// DefaultEndpoint is the base URL used when the config file does not set one.
func (p ProviderID) DefaultEndpoint() string {
	switch p {
	case ProviderOllamaLocal:
		return "http://localhost:11434"
	case ProviderOllamaCloud:
		return "https://api.ollama.com"
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	case ProviderAnthropic:
		return "https://api.anthropic.com/v1"
	}
	return ""
}

// DefaultModel is the model used when neither the flag nor the config file names one.
func (p ProviderID) DefaultModel() string {
	switch p {
	case ProviderOllamaLocal, ProviderOllamaCloud:
		return "llama3.2"
	case ProviderOpenAI:
		return "gpt-4o"
	case ProviderAnthropic:
		return "claude-3-5-sonnet-20241022"
	}
	return ""
}

func (p ProviderID) RequiresKey() bool {
	return p.KeyEnvVar() != ""
}

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 300 * time.Second

// ProviderConfig is everything an adapter needs except the key, so it is safe to print and persist.
type ProviderConfig struct {
	Provider  ProviderID    `json:"provider"`
	Endpoint  string        `json:"endpoint"`
	Model     string        `json:"model"`
	KeyEnvVar string        `json:"keyEnvVar,omitempty"`
	Timeout   time.Duration `json:"timeout"`
}

// Credentials holds a resolved API key. It is never serialized.
type Credentials struct {
	APIKey string `json:"-" yaml:"-" mapstructure:"-"`
}

func (c Credentials) Present() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// String redacts the key so credentials can be passed to loggers safely.
func (c Credentials) String() string {
	if !c.Present() {
		return "<none>"
	}
	return "<redacted>"
}
