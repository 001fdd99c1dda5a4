// Package httpapi exposes the traceability core over HTTP with gin.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tracecore/internal/core"
	"tracecore/internal/infra/ratelimit"
)

// Server routes HTTP requests to a core.Service.
type Server struct {
	svc        *core.Service
	engine     *gin.Engine
	logger     *slog.Logger
	limiter    ratelimit.Limiter
	failClosed bool
	metrics    http.Handler
	now        func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the access and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRateLimiter limits /v1 requests per principal. With failClosed set,
// limiter errors reject the request.
func WithRateLimiter(l ratelimit.Limiter, failClosed bool) Option {
	return func(s *Server) {
		s.limiter = l
		s.failClosed = failClosed
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithNow overrides the clock used for Retry-After.
func WithNow(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer builds the router. Call gin.SetMode before NewServer to pick the
// gin mode.
func NewServer(svc *core.Service, opts ...Option) *Server {
	s := &Server{svc: svc, logger: discardLogger(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestIDMiddleware(), s.accessLogMiddleware())
	s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := s.engine.Group("/v1", callerMiddleware(), s.rateLimitMiddleware())
	authed := v1.Group("", requirePrincipal())

	v1.GET("/system", s.handleSystem)
	authed.PUT("/system/owner", s.handleTransferOwnership)
	authed.PUT("/system/status", s.handleUpdateStatus)
	authed.PUT("/system/version", s.handleUpdateVersion)

	v1.GET("/admins", s.handleListAdmins)
	authed.PUT("/admins/:actor", s.handleAddAdmin)
	authed.DELETE("/admins/:actor", s.handleRemoveAdmin)

	v1.GET("/callers", s.handleListCallers)
	authed.PUT("/callers/:actor", s.handleWhitelistCaller)
	authed.DELETE("/callers/:actor", s.handleRemoveCaller)

	v1.GET("/actors/:actor/roles", s.handleRoles)
	authed.GET("/me/roles", s.handleMyRoles)

	v1.GET("/agencies", s.handleListAgencies)
	authed.POST("/agencies", s.handleRegisterAgency)
	v1.GET("/agencies/:id", s.handleGetAgency)
	authed.PUT("/agencies/:id", s.handleUpdateAgency)
	authed.DELETE("/agencies/:id", s.handleRemoveAgency)

	v1.GET("/thresholds", s.handleListThresholds)
	authed.PUT("/thresholds/:parameter", s.handleSetThreshold)
	v1.GET("/thresholds/:parameter", s.handleGetThreshold)
	v1.GET("/thresholds/:parameter/evaluate", s.handleEvaluate)

	v1.GET("/events", s.handleListEvents)
	authed.POST("/events", s.handleRecordEvent)
	v1.GET("/events/verify", s.handleVerifyChain)
	v1.GET("/events/:id", s.handleGetEvent)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"system": s.svc.SystemStatus(ctx),
		"height": s.svc.Height(ctx),
	})
}
