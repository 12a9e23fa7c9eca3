package api

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/netmon/internal/logger"
	"github.com/netmon/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger tags each request with an id and logs it once completed.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		log := logger.WithRequestID(requestID)
		ev := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("remote_addr", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Int("response_size", c.Writer.Size()).
			Dur("duration_ms", time.Since(start)).
			Msg("request completed")
	}
}

// Metrics records request counts and latency per route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

// Recovery turns handler panics into 500 responses.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log := logger.WithRequestID(c.GetString("request_id"))
				log.Error().
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Interface("panic", err).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				metrics.PanicsRecovered.WithLabelValues("http_handler").Inc()
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// allowHost consumes one unit of hostID's ingest budget.
func (s *Server) allowHost(hostID uint) RateDecision {
	if s.limiter == nil || s.rateLimit <= 0 {
		return RateDecision{Allowed: true}
	}
	key := "host:" + strconv.FormatUint(uint64(hostID), 10)
	return s.limiter.Allow(key, s.rateLimit, s.rateWindow)
}

// allowIngest applies the per-host ingest limit and writes 429 when exceeded.
func (s *Server) allowIngest(c *gin.Context, hostID uint) bool {
	decision := s.allowHost(hostID)
	if s.rateLimit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(s.rateLimit))
	}
	if !decision.WindowEnd.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.WindowEnd.Unix(), 10))
	}
	if !decision.Allowed {
		metrics.RateLimitHits.WithLabelValues(c.FullPath()).Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return false
	}
	return true
}
