package catalog

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/platform/auth"
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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "lab_tech"))
	readGroup.GET("/catalog/tests", h.ListTests)
	readGroup.GET("/catalog/tests/:id", h.GetTest)
	readGroup.GET("/catalog/tests/:id/parameters", h.ListParameters)

	writeGroup := api.Group("", auth.RequireRole("admin"))
	writeGroup.POST("/catalog/tests", h.CreateTest)
	writeGroup.POST("/catalog/tests/:id/parameters", h.CreateParameter)
}

func (h *Handler) CreateTest(c echo.Context) error {
	rc := rctx.FromEcho(c)

	var t Test
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.TenantID = rc.TenantID
	t.Active = true
	if err := h.svc.CreateTest(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTest(c echo.Context) error {
	rc := rctx.FromEcho(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTest(c.Request().Context(), rc.TenantID, id)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTests(c echo.Context) error {
	rc := rctx.FromEcho(c)
	pg := pagination.FromContext(c)

	tests, total, err := h.svc.ListTests(c.Request().Context(), rc.TenantID, pg.Limit, pg.Offset)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	if tests == nil {
		tests = []*Test{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(tests, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateParameter(c echo.Context) error {
	rc := rctx.FromEcho(c)
	testID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var p Parameter
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.TenantID = rc.TenantID
	p.TestID = testID
	p.Active = true
	if err := h.svc.CreateParameter(c.Request().Context(), &p); err != nil {
		if err == domainerr.ErrNotFound {
			return domainerr.Respond(c, err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListParameters(c echo.Context) error {
	rc := rctx.FromEcho(c)
	testID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	params, err := h.svc.ListActiveParameters(c.Request().Context(), rc.TenantID, testID)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	if params == nil {
		params = []*Parameter{}
	}
	return c.JSON(http.StatusOK, params)
}
