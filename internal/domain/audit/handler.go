package audit

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/domainerr"
	"github.com/clinicore/clinicore/internal/platform/rctx"
	"github.com/clinicore/clinicore/pkg/pagination"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "auditor"))
	g.GET("/audit-events", h.ListEvents)
	g.GET("/encounters/:id/audit-events", h.ListByEncounter)
}

func (h *Handler) ListEvents(c echo.Context) error {
	rc := rctx.FromEcho(c)
	pg := pagination.FromContext(c)

	entityType := c.QueryParam("entity_type")
	entityID := c.QueryParam("entity_id")
	if entityType == "" || entityID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "entity_type and entity_id are required")
	}

	evs, total, err := h.repo.ListByEntity(c.Request().Context(), rc.TenantID, entityType, entityID, pg.Limit, pg.Offset)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	if evs == nil {
		evs = []*Event{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(evs, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListByEncounter(c echo.Context) error {
	rc := rctx.FromEcho(c)
	pg := pagination.FromContext(c)

	evs, total, err := h.repo.ListByEncounter(c.Request().Context(), rc.TenantID, c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	if evs == nil {
		evs = []*Event{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(evs, total, pg.Limit, pg.Offset))
}
