package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"listing-enricher/internal/ratelimit"
)

// RateLimitMiddleware rejects requests with 429 once limiter is exhausted.
// A nil limiter lets everything through.
func RateLimitMiddleware(limiter *ratelimit.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.AllowRequest() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many requests. Please try again later.",
				"stats":   limiter.GetStats(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
