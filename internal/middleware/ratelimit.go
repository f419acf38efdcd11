package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/hospital-api/internal/handler"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
	"github.com/jwalitptl/hospital-api/pkg/ratelimit"
)

// RateLimit applies policy per client IP. Limiter failures let the request
// through so a Redis outage does not take the API down with it.
func RateLimit(limiter ratelimit.Limiter, policy ratelimit.Policy, m *metrics.Metrics) gin.HandlerFunc {
	limit := strconv.Itoa(policy.Limit)

	return func(c *gin.Context) {
		decision, err := limiter.Allow(c.Request.Context(), policy, c.ClientIP())
		if err != nil {
			log.Warn().
				Err(err).
				Str("policy", policy.Name).
				Str("request_id", c.GetString(ContextRequestID)).
				Msg("Rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			m.RateLimited(policy.Name)
			retry := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				handler.NewErrorResponse("too many requests, please try again later"))
			return
		}
		c.Next()
	}
}
