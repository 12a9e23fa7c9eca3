package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/netmon/internal/alert"
	"github.com/netmon/internal/auth"
	"github.com/netmon/internal/ingest"
	"github.com/netmon/internal/logger"
	"github.com/netmon/internal/models"
	"github.com/netmon/internal/report"
	"github.com/netmon/internal/repository"
)

// Options wires the server to the rest of the application.
type Options struct {
	Repo     *repository.Repository
	Engine   *alert.Engine
	Pipeline *ingest.Pipeline
	Auth     *auth.Authenticator

	// Limiter is optional. RateLimit is the number of samples a host may push
	// per RateWindow.
	Limiter    RateLimiter
	RateLimit  int
	RateWindow time.Duration

	// DefaultTriggers registers the stock triggers for every new host.
	DefaultTriggers bool
}

type Server struct {
	repo            *repository.Repository
	engine          *alert.Engine
	pipeline        *ingest.Pipeline
	auth            *auth.Authenticator
	reports         *report.Generator
	limiter         RateLimiter
	rateLimit       int
	rateWindow      time.Duration
	defaultTriggers bool

	router     *gin.Engine
	httpServer *http.Server
	log        zerolog.Logger
	now        func() time.Time
}

func NewServer(opts Options) *Server {
	window := opts.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	s := &Server{
		repo:            opts.Repo,
		engine:          opts.Engine,
		pipeline:        opts.Pipeline,
		auth:            opts.Auth,
		reports:         report.NewGenerator(opts.Repo),
		limiter:         opts.Limiter,
		rateLimit:       opts.RateLimit,
		rateWindow:      window,
		defaultTriggers: opts.DefaultTriggers,
		router:          gin.New(),
		log:             logger.WithComponent("api"),
		now:             func() time.Time { return time.Now().UTC() },
	}
	s.router.Use(Recovery(), RequestLogger(), Metrics())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.GET("", s.banner)

	// Public routes
	v1.POST("/auth/register", s.register)
	v1.POST("/auth/login", s.login)

	// Protected routes
	api := v1.Group("")
	api.Use(s.auth.Middleware())

	writers := auth.RequireRole(models.RoleAdmin, models.RoleUser)

	api.GET("/auth/me", s.me)
	api.POST("/auth/api-key", s.rotateAPIKey)

	hosts := api.Group("/hosts")
	{
		hosts.GET("", s.listHosts)
		hosts.POST("", writers, s.createHost)
		hosts.GET("/:id", s.getHost)
		hosts.PATCH("/:id", writers, s.updateHost)
		hosts.DELETE("/:id", writers, s.deleteHost)
		hosts.POST("/:id/heartbeat", writers, s.heartbeat)
	}

	samples := api.Group("/metrics")
	{
		samples.GET("", s.listMetrics)
		samples.POST("", writers, s.createMetric)
		samples.POST("/batch", writers, s.createMetricBatch)
		samples.GET("/latest/:host_id", s.latestMetrics)
	}

	alerts := api.Group("/alerts")
	{
		alerts.GET("", s.listAlerts)
		alerts.POST("", writers, s.createAlert)
		alerts.GET("/:id", s.getAlert)
		alerts.PUT("/:id/resolve", writers, s.resolveAlert)
	}

	triggers := api.Group("/triggers")
	{
		triggers.GET("", s.listTriggers)
		triggers.POST("", writers, s.createTrigger)
		triggers.POST("/validate", writers, s.validateTrigger)
		triggers.POST("/test", writers, s.testTrigger)
		triggers.GET("/export", s.exportTriggers)
		triggers.POST("/import", writers, s.importTriggers)
		triggers.GET("/:id", s.getTrigger)
		triggers.PATCH("/:id", writers, s.updateTrigger)
		triggers.DELETE("/:id", writers, s.deleteTrigger)
		triggers.PUT("/:id/enable", writers, s.enableTrigger)
		triggers.PUT("/:id/disable", writers, s.disableTrigger)
	}

	api.GET("/dashboard", s.dashboard)

	// User management endpoints
	admin := api.Group("/admin")
	admin.Use(auth.RequireRole(models.RoleAdmin))
	admin.GET("/users", s.listUsers)
	admin.GET("/users/:id", s.getUser)
	admin.PUT("/users/:id", s.updateUser)
	admin.DELETE("/users/:id", s.deleteUser)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	sqlDB, err := s.repo.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"queue_depth":   s.pipeline.Depth(),
		"active_alerts": len(s.engine.Manager.Active()),
	})
}

func (s *Server) banner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"name": "netmon", "version": "v1"})
}

func (s *Server) dashboard(c *gin.Context) {
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	summary, err := s.reports.Dashboard(c.Request.Context(), scope)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// scope resolves the hosts the caller may see. On failure the response has
// already been written.
func (s *Server) scope(c *gin.Context) (repository.Scope, bool) {
	user := auth.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return repository.Scope{}, false
	}
	scope, err := s.repo.HostScope(c.Request.Context(), user)
	if err != nil {
		respondError(c, err)
		return repository.Scope{}, false
	}
	return scope, true
}

// visibleHost loads host id if the caller may see it.
func (s *Server) visibleHost(c *gin.Context, id uint) (*models.Host, bool) {
	scope, ok := s.scope(c)
	if !ok {
		return nil, false
	}
	host, err := s.repo.HostByID(c.Request.Context(), scope, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "host not found"})
			return nil, false
		}
		respondError(c, err)
		return nil, false
	}
	return host, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, alert.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, alert.ErrInvalidTrigger), errors.Is(err, ingest.ErrInvalidSample):
		return http.StatusBadRequest
	case errors.Is(err, alert.ErrStaleSample), errors.Is(err, alert.ErrDuplicateActive):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, ingest.ErrPipelineClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log := logger.WithRequestID(c.GetString("request_id"))
		log.Error().Err(err).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// queryUint parses an optional numeric query parameter. Missing means 0.
func queryUint(c *gin.Context, name string) (uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}
