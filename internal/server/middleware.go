package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/payrail/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// CorrelationMiddleware accepts a caller-supplied request ID or mints
// one, stores it on the request context and echoes it back so clients
// can quote it in support tickets.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := correlation.ContextWithCorrelationID(c.Request.Context(), c.GetHeader(requestIDHeader))
		ctx, cid := correlation.EnsureCorrelationID(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, cid)
		c.Next()
	}
}

// rateLimitMiddleware throttles API traffic per caller. The key is the
// API key when one is presented, otherwise the client address, so one
// noisy integration cannot starve the rest.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.ClientIP()
		}

		res, err := s.limiter.Allow(c.Request.Context(), key)
		if err != nil {
			// A broken limiter backend must not take the API down.
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if res.Allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			c.Next()
			return
		}

		retryAfter := res.RetryAfter
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.5)))
		s.obsMetrics.RecordRateLimitDenied("api")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
			Type:    "too_many_requests",
			Message: "too many requests",
		}})
	}
}
