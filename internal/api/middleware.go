// internal/api/middleware.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// bearerTokenParts is the expected number of parts when splitting the
// Authorization header.
const bearerTokenParts = 2

// BearerAuthMiddleware validates the Authorization header against the
// bcrypt token hash from configuration. An empty hash disables auth
// entirely, which keeps single-host deployments zero-config.
func (c *Controller) BearerAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			hash := c.Settings.WebServer.AuthToken
			if hash == "" {
				return next(ctx)
			}

			header := ctx.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return c.unauthorized(ctx, "missing authorization header")
			}

			parts := strings.SplitN(header, " ", bearerTokenParts)
			if len(parts) != bearerTokenParts || !strings.EqualFold(parts[0], "bearer") {
				return c.unauthorized(ctx, "authorization header must be a bearer token")
			}

			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(parts[1])); err != nil {
				return c.unauthorized(ctx, "invalid token")
			}

			return next(ctx)
		}
	}
}

func (c *Controller) unauthorized(ctx echo.Context, message string) error {
	if c.metrics != nil && c.metrics.API != nil {
		c.metrics.API.RecordAuthFailure()
	}
	c.logger.Warn("Rejected unauthenticated request",
		"path", ctx.Request().URL.Path,
		"ip", ctx.RealIP(),
		"reason", message)
	return ctx.JSON(http.StatusUnauthorized, NewErrorResponse(nil, message, http.StatusUnauthorized))
}

// RateLimitMiddleware applies a per-client token bucket keyed by IP.
func (c *Controller) RateLimitMiddleware() echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(c.Settings.WebServer.RateLimit),
		Burst:     c.Settings.WebServer.RateBurst,
		ExpiresIn: 3 * time.Minute,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden,
				NewErrorResponse(err, "could not identify client", http.StatusForbidden))
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			if c.metrics != nil && c.metrics.API != nil {
				c.metrics.API.RecordRateLimited()
			}
			c.logger.Warn("Rate limited client", "ip", identifier)
			return ctx.JSON(http.StatusTooManyRequests,
				NewErrorResponse(err, "rate limit exceeded", http.StatusTooManyRequests))
		},
	})
}
