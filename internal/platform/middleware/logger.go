package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/db"
)

// Logger emits one structured line per request. The request id doubles as
// the correlation id carried on audit events and error envelopes. Tenant and
// actor are read back from the request context after the downstream identity
// middleware has resolved them.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}

			req := c.Request()
			ctx := req.Context()
			rid, _ := c.Get("request_id").(string)

			evt = evt.
				Str("correlation_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())

			if tenant := db.TenantFromContext(ctx); tenant != "" {
				evt = evt.Str("tenant_id", tenant)
			}
			if actor := auth.UserIDFromContext(ctx); actor != "" {
				evt = evt.Str("actor_id", actor)
			}

			evt.Msg("request")
			return err
		}
	}
}
