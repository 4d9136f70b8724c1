package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies every way a backend call can fail.
type ErrorKind int

const (
	KindAuthMissing ErrorKind = iota + 1
	KindAuthInvalid
	KindNetworkFailure
	KindRateLimited
	KindMalformedResponse
	KindTimeout
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthMissing:
		return "AuthMissing"
	case KindAuthInvalid:
		return "AuthInvalid"
	case KindNetworkFailure:
		return "NetworkFailure"
	case KindRateLimited:
		return "RateLimited"
	case KindMalformedResponse:
		return "MalformedResponse"
	case KindTimeout:
		return "Timeout"
	case KindCancelled:
		return "Cancelled"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ProviderError is the only error type adapters return.
type ProviderError struct {
	Kind       ErrorKind
	Provider   ProviderID
	EnvVar     string
	Endpoint   string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	name := e.Provider.DisplayName()
	switch e.Kind {
	case KindAuthMissing:
		return fmt.Sprintf("%s requires an API key. Set the %s environment variable or pass --api-key", name, e.EnvVar)
	case KindAuthInvalid:
		if e.EnvVar != "" {
			return fmt.Sprintf("authentication with %s failed (HTTP %d). Check your %s value", name, e.StatusCode, e.EnvVar)
		}
		return fmt.Sprintf("authentication with %s failed (HTTP %d)", name, e.StatusCode)
	case KindNetworkFailure:
		msg := fmt.Sprintf("could not reach %s", name)
		if e.Endpoint != "" {
			msg += " at " + e.Endpoint
		}
		if e.Provider == ProviderOllamaLocal {
			msg += ". Is Ollama running? Try: ollama serve"
		}
		return withCause(msg, e.Err)
	case KindRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("rate limited by %s, retry after %s", name, e.RetryAfter)
		}
		return fmt.Sprintf("rate limited by %s. Please wait and try again", name)
	case KindMalformedResponse:
		return withCause(fmt.Sprintf("%s returned a response that could not be used", name), e.Err)
	case KindTimeout:
		return fmt.Sprintf("request to %s timed out. The model might be loading or the prompt is very long", name)
	case KindCancelled:
		return fmt.Sprintf("request to %s was cancelled", name)
	}
	return withCause(fmt.Sprintf("%s failed", name), e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func withCause(msg string, err error) string {
	if err == nil {
		return msg
	}
	return msg + ": " + err.Error()
}

func NewProviderError(kind ErrorKind, provider ProviderID, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Err: err}
}

func NewAuthMissingError(provider ProviderID) *ProviderError {
	return &ProviderError{Kind: KindAuthMissing, Provider: provider, EnvVar: provider.KeyEnvVar()}
}

func NewMalformedResponseError(provider ProviderID, format string, args ...any) *ProviderError {
	return &ProviderError{Kind: KindMalformedResponse, Provider: provider, Err: fmt.Errorf(format, args...)}
}

// AsProviderError unwraps err to a *ProviderError if there is one in the chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsKind reports whether err carries a ProviderError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.Kind == kind
}
