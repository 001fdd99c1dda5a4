package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tracecore/pkg/domain"
)

// Request headers carrying caller identity. Authentication happens upstream;
// the API trusts these headers as asserted by the gateway.
const (
	HeaderPrincipal = "X-Actor-Principal"
	HeaderComponent = "X-Actor-Component"
	HeaderRequestID = "X-Request-ID"
)

const (
	ctxCaller    = "tracecore.caller"
	ctxRequestID = "tracecore.request_id"
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func (s *Server) accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString(ctxRequestID),
		)
	}
}

// callerMiddleware records the asserted caller when a principal header is
// present. Reads are open to anonymous clients.
func callerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := strings.TrimSpace(c.GetHeader(HeaderPrincipal))
		if principal != "" {
			component := strings.TrimSpace(c.GetHeader(HeaderComponent))
			c.Set(ctxCaller, domain.Via(domain.ActorID(principal), domain.ActorID(component)))
		}
		c.Next()
	}
}

// requirePrincipal rejects requests that carry no principal. It guards every
// mutation and the caller-relative reads.
func requirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if callerFrom(c).Principal == "" {
			WriteErrorCode(c, http.StatusUnauthorized, "UNAUTHENTICATED", HeaderPrincipal+" header is required")
			return
		}
		c.Next()
	}
}

func callerFrom(c *gin.Context) domain.Caller {
	v, _ := c.Get(ctxCaller)
	caller, _ := v.(domain.Caller)
	return caller
}

// rateLimitMiddleware limits each principal, or each client IP for anonymous
// requests. Limiter failures pass through unless the server is configured to
// fail closed.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()
		if principal := callerFrom(c).Principal; principal != "" {
			key = "principal:" + string(principal)
		}
		decision, err := s.limiter.Allow(c.Request.Context(), key)
		if err != nil {
			s.logger.Warn("rate limiter unavailable", "error", err)
			if s.failClosed {
				WriteErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
				return
			}
			c.Next()
			return
		}
		writeRateLimitHeaders(c, decision.Allowed, decision.Limit, decision.Remaining, decision.ResetAt, s.now())
		if !decision.Allowed {
			WriteErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func writeRateLimitHeaders(c *gin.Context, allowed bool, limit, remaining int, resetAt, now time.Time) {
	if limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(limit))
	}
	if remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(remaining))
	}
	if resetAt.IsZero() {
		return
	}
	c.Header("RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	if !allowed {
		retryAfter := int64(resetAt.Sub(now).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
