package encounter

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/command"
	"github.com/clinicore/clinicore/internal/platform/domainerr"
	"github.com/clinicore/clinicore/internal/platform/rctx"
	"github.com/clinicore/clinicore/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the plain REST routes. Custom-verb commands are
// registered separately via RegisterCommands.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "lab_tech"))
	readGroup.GET("/encounters", h.ListEncounters)
	readGroup.GET("/encounters/:id", h.GetEncounter)
	readGroup.GET("/encounters/:id/prep", h.GetPrep)

	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	writeGroup.POST("/encounters", h.CreateEncounter)
	writeGroup.PUT("/encounters/:id/prep", h.SavePrep)
}

// RegisterCommands binds the lifecycle verbs on the shared command mux.
func (h *Handler) RegisterCommands(mux *command.Mux) {
	mux.Register("start-prep", h.StartPrep, auth.RequireRole("admin", "physician", "nurse"))
	mux.Register("start-main", h.StartMain, auth.RequireRole("admin", "physician", "nurse"))
	mux.Register("finalize", h.Finalize, auth.RequireRole("admin", "physician"))
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	rc := rctx.FromEcho(c)

	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enc, err := h.svc.Create(c.Request().Context(), rc, in)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	rc := rctx.FromEcho(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	enc, err := h.svc.Get(c.Request().Context(), rc.TenantID, id)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	rc := rctx.FromEcho(c)
	pg := pagination.FromContext(c)

	var (
		encs  []*Encounter
		total int
		err   error
	)
	if patientRef := c.QueryParam("patient_ref"); patientRef != "" {
		encs, total, err = h.svc.ListByPatient(c.Request().Context(), rc.TenantID, patientRef, pg.Limit, pg.Offset)
	} else {
		encs, total, err = h.svc.List(c.Request().Context(), rc.TenantID, pg.Limit, pg.Offset)
	}
	if err != nil {
		return domainerr.Respond(c, err)
	}
	if encs == nil {
		encs = []*Encounter{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetPrep(c echo.Context) error {
	rc := rctx.FromEcho(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	prep, err := h.svc.GetPrep(c.Request().Context(), rc.TenantID, id)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, prep)
}

func (h *Handler) SavePrep(c echo.Context) error {
	rc := rctx.FromEcho(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var prep PrepRecord
	if err := c.Bind(&prep); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	saved, err := h.svc.SavePrep(c.Request().Context(), rc, id, &prep)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) StartPrep(c echo.Context) error {
	return h.runTransition(c, h.svc.StartPrep)
}

func (h *Handler) StartMain(c echo.Context) error {
	return h.runTransition(c, h.svc.StartMain)
}

func (h *Handler) Finalize(c echo.Context) error {
	return h.runTransition(c, h.svc.Finalize)
}

func (h *Handler) runTransition(c echo.Context, op func(ctx context.Context, rc rctx.RequestContext, id uuid.UUID) (*Encounter, error)) error {
	rc := rctx.FromEcho(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	enc, err := op(c.Request().Context(), rc, id)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, enc)
}
