// internal/api/api.go
package api

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/datastore"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/health"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/observability"
	"github.com/audiohub/audiohub-go/internal/orchestrator"
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo         *echo.Echo
	Group        *echo.Group
	DS           datastore.Interface
	Settings     *conf.Settings
	Orchestrator *orchestrator.Orchestrator
	Health       *health.Tracker

	logger       *slog.Logger
	accessLog    *slog.Logger // request log, file-backed when configured
	closeLog     func() error
	catalogCache *cache.Cache // memoizes the /models response
	startTime    time.Time
	metrics      *observability.Metrics

	// Auth middleware is injected so tests can run without tokens.
	authMiddleware echo.MiddlewareFunc
}

// Option customizes the Controller during New.
type Option func(*Controller)

// WithAuthMiddleware sets the authentication middleware for the protected
// route group.
func WithAuthMiddleware(mw echo.MiddlewareFunc) Option {
	return func(c *Controller) {
		c.authMiddleware = mw
	}
}

// New creates the API controller and registers all routes on e.
func New(e *echo.Echo, orch *orchestrator.Orchestrator, ds datastore.Interface,
	tracker *health.Tracker, settings *conf.Settings,
	m *observability.Metrics, opts ...Option) (*Controller, error) {

	if e == nil {
		return nil, fmt.Errorf("echo instance must not be nil")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator must not be nil")
	}
	if settings == nil {
		return nil, fmt.Errorf("settings must not be nil")
	}

	logger := logging.ForService("api")

	cacheTTL := time.Duration(settings.WebServer.CacheTTL) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Second
	}

	c := &Controller{
		Echo:         e,
		DS:           ds,
		Settings:     settings,
		Orchestrator: orch,
		Health:       tracker,
		logger:       logger,
		accessLog:    logger,
		catalogCache: cache.New(cacheTTL, 2*cacheTTL),
		startTime:    time.Now(),
		metrics:      m,
	}

	if settings.WebServer.Log.Enabled {
		fileLogger, closer, err := logging.NewFileLogger(settings.WebServer.Log, "api", slog.LevelInfo)
		if err != nil {
			logger.Warn("access log file disabled", "error", err)
		} else {
			c.accessLog = fileLogger
			c.closeLog = closer
		}
	}

	// Default to token auth from settings; tests inject their own.
	c.authMiddleware = c.BearerAuthMiddleware()

	for _, opt := range opts {
		opt(c)
	}

	c.Group = e.Group("/api/v1")

	// Recover should be early so handler panics still produce a response.
	c.Group.Use(middleware.Recover())
	c.Group.Use(middleware.CORS())
	c.Group.Use(middleware.BodyLimit("8M"))
	c.Group.Use(c.LoggingMiddleware())
	c.Group.Use(c.MetricsMiddleware())
	if settings.WebServer.RateLimit > 0 {
		c.Group.Use(c.RateLimitMiddleware())
	}

	c.initRoutes()

	return c, nil
}

// Close releases the access log file writer if one was opened.
func (c *Controller) Close() error {
	if c.closeLog == nil {
		return nil
	}
	return c.closeLog()
}

// initRoutes registers all API endpoints.
func (c *Controller) initRoutes() {
	// Health stays reachable without a token.
	c.Group.GET("/health", c.HealthCheck)

	// Everything else sits behind token auth when a token is configured.
	protected := c.Group.Group("", c.authMiddleware)
	protected.GET("/models", c.GetModels)
	protected.POST("/models/load", c.LoadModel)
	protected.POST("/models/unload", c.UnloadModel)
	protected.POST("/tasks", c.SubmitTask)
	protected.GET("/tasks", c.RecentTasks)
	protected.GET("/tasks/:id", c.GetTask)

	// Prometheus metrics live outside the versioned group.
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// LoggingMiddleware creates a middleware function that logs API requests.
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()

			err := next(ctx)

			req := ctx.Request()
			res := ctx.Response()

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", res.Status),
				slog.String("ip", ctx.RealIP()),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			}
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}
			c.accessLog.LogAttrs(req.Context(), slog.LevelInfo, "API request", attrs...)

			return err
		}
	}
}

// MetricsMiddleware records request counts, latencies, and the in-flight
// gauge.
func (c *Controller) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if c.metrics == nil || c.metrics.API == nil {
				return next(ctx)
			}

			c.metrics.API.RequestStarted()
			start := time.Now()

			err := next(ctx)

			c.metrics.API.RequestFinished()
			c.metrics.API.RecordRequest(
				ctx.Request().Method,
				ctx.Path(),
				ctx.Response().Status,
				time.Since(start).Seconds(),
			)
			return err
		}
	}
}

// ErrorResponse is the JSON error body returned by all handlers.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates a short random identifier for error tracking.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError constructs and returns an appropriate error response.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	errorResp := NewErrorResponse(err, message, code)

	c.logger.Error("API error",
		"correlation_id", errorResp.CorrelationID,
		"message", message,
		"error", errorResp.Error,
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP(),
	)

	return ctx.JSON(code, errorResp)
}

// httpStatusFor maps the error kind taxonomy onto HTTP status codes.
// Planning failures are distinguishable from malformed requests: the task
// was well formed but no catalog model can serve it.
func httpStatusFor(err error) int {
	if kind, ok := errors.KindOf(err); ok {
		switch kind {
		case errors.KindInvalidInput:
			if errors.IsCategory(err, errors.CategoryPlanning) {
				return http.StatusUnprocessableEntity
			}
			return http.StatusBadRequest
		case errors.KindResourceExceeded:
			return http.StatusServiceUnavailable
		case errors.KindTimeout:
			return http.StatusGatewayTimeout
		case errors.KindConnection:
			return http.StatusBadGateway
		case errors.KindModel, errors.KindUnknown:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
