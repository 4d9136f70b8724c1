package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prepcli/prep/models"
)

// ClassifyTransportError maps a failed round trip onto the provider error taxonomy.
// Caller cancellation wins over deadline expiry, which wins over generic network failure.
func ClassifyTransportError(ctx context.Context, provider models.ProviderID, endpoint string, err error) *models.ProviderError {
	if pe, ok := models.AsProviderError(err); ok {
		return pe
	}

	kind := models.KindNetworkFailure
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		kind = models.KindCancelled
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = models.KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = models.KindTimeout
	}

	pe := models.NewProviderError(kind, provider, err)
	pe.Endpoint = endpoint
	return pe
}

// ClassifyStatus turns a non-2xx HTTP status into a ProviderError. It returns nil for success.
func ClassifyStatus(provider models.ProviderID, status int, header http.Header, body []byte) *models.ProviderError {
	if status >= 200 && status < 300 {
		return nil
	}

	pe := &models.ProviderError{
		Provider:   provider,
		StatusCode: status,
		EnvVar:     provider.KeyEnvVar(),
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		pe.Kind = models.KindAuthInvalid
	case http.StatusTooManyRequests:
		pe.Kind = models.KindRateLimited
		if header != nil {
			pe.RetryAfter = ParseRetryAfter(header.Get("Retry-After"), time.Now())
		}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		pe.Kind = models.KindTimeout
	default:
		pe.Kind = models.KindNetworkFailure
	}

	pe.Err = fmt.Errorf("%s returned HTTP %d: %s", provider.DisplayName(), status, Truncate(strings.TrimSpace(string(body)), 300))
	return pe
}

// ParseRetryAfter understands both forms of the Retry-After header: delay-seconds and an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}

// ClassifySDKError classifies an error returned by an SDK client whose transport was a
// ResponseRecorder. The recorded status decides auth/rate-limit failures; a 2xx status with an
// error means the body could not be decoded.
func ClassifySDKError(ctx context.Context, provider models.ProviderID, endpoint string, recorder *ResponseRecorder, err error) *models.ProviderError {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassifyTransportError(ctx, provider, endpoint, err)
	}

	status, header := recorder.Last()
	if status == 0 {
		return ClassifyTransportError(ctx, provider, endpoint, err)
	}
	if pe := ClassifyStatus(provider, status, header, nil); pe != nil {
		pe.Endpoint = endpoint
		pe.Err = err
		return pe
	}
	return models.NewMalformedResponseError(provider, "could not decode response: %v", err)
}
