package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Middleware enforces the per-client request limit. Health probes are
// exempt so external monitors never get throttled out.
func Middleware(limiter *Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		ip := c.ClientIP()
		allowed, remaining := limiter.Allow(ip)

		c.Writer.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.Limit()))
		c.Writer.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			retryAfter := limiter.RetryAfter(ip)
			logger.Warn("Rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", c.Request.URL.Path),
				slog.Duration("retry_after", retryAfter),
			)
			c.Writer.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter.Seconds(),
			})
			return
		}

		c.Next()
	}
}
