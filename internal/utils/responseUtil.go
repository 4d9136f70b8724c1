package utils

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func ProcessGenericInternalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// ProcessError writes an error body with a machine-readable kind.
func ProcessError(c *gin.Context, status int, kind, message string) {
	c.JSON(status, gin.H{"error": message, "kind": kind})
}

// ProcessRateLimited answers 429 and forwards the upstream retry hint when there is one.
func ProcessRateLimited(c *gin.Context, kind, message string, retryAfter time.Duration) {
	body := gin.H{"error": message, "kind": kind}
	if retryAfter > 0 {
		secs := int(retryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		body["retryAfterSeconds"] = secs
	}
	c.JSON(http.StatusTooManyRequests, body)
}
