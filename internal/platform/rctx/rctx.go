// Package rctx carries the per-request identity every workflow operation
// needs. Services take an explicit RequestContext value instead of digging
// values out of context.Context, which keeps them trivially unit-testable.
package rctx

import (
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/db"
)

// RequestContext identifies the tenant and actor behind one inbound command.
// IdempotencyKey is the caller-supplied x-idempotency-key header; it is
// recorded for traceability, not used for deduplication.
type RequestContext struct {
	TenantID       string
	ActorID        string
	CorrelationID  string
	IdempotencyKey string
}

// FromEcho builds a RequestContext from the middleware-populated request.
func FromEcho(c echo.Context) RequestContext {
	ctx := c.Request().Context()
	rid, _ := c.Get("request_id").(string)
	return RequestContext{
		TenantID:       db.TenantFromContext(ctx),
		ActorID:        auth.UserIDFromContext(ctx),
		CorrelationID:  rid,
		IdempotencyKey: c.Request().Header.Get("x-idempotency-key"),
	}
}
