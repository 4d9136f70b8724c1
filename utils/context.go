package utils

import (
	"context"
	"time"
)

// WithRequestTimeout bounds a single backend call. A zero timeout leaves ctx untouched.
func WithRequestTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
