package laborder

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/command"
	"github.com/clinicore/clinicore/internal/platform/domainerr"
	"github.com/clinicore/clinicore/internal/platform/rctx"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse", "lab_tech"))
	g.GET("/encounters/:id/lab-orders", h.ListOrders)
	g.GET("/encounters/:id/lab-orders/:orderId", h.GetOrder)
}

// RegisterCommands binds the lab workflow verbs on the shared command mux.
// Result entry belongs to the bench; verification and publication need a
// verifier role.
func (h *Handler) RegisterCommands(mux *command.Mux) {
	mux.Register("lab-add-test", h.AddTest, auth.RequireRole("admin", "physician", "nurse"))
	mux.Register("lab-enter-results", h.EnterResults, auth.RequireRole("admin", "lab_tech"))
	mux.Register("lab-verify", h.Verify, auth.RequireRole("admin", "physician", "lab_tech"))
	mux.Register("lab-publish", h.Publish, auth.RequireRole("admin", "physician", "lab_tech"))
}

func (h *Handler) ListOrders(c echo.Context) error {
	rc := rctx.FromEcho(c)
	encID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListOrders(c.Request().Context(), rc.TenantID, encID)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	if items == nil {
		items = []*OrderItem{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetOrder(c echo.Context) error {
	rc := rctx.FromEcho(c)
	encID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	view, err := h.svc.GetOrderView(c.Request().Context(), rc.TenantID, encID, orderID)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) AddTest(c echo.Context) error {
	rc := rctx.FromEcho(c)
	encID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		TestID uuid.UUID `json:"test_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.TestID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "test_id is required")
	}
	view, err := h.svc.AddTest(c.Request().Context(), rc, encID, body.TestID)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) EnterResults(c echo.Context) error {
	rc := rctx.FromEcho(c)
	encID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		OrderItemID uuid.UUID     `json:"order_item_id"`
		Results     []ResultInput `json:"results"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.OrderItemID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "order_item_id is required")
	}
	view, err := h.svc.EnterResults(c.Request().Context(), rc, encID, body.OrderItemID, body.Results)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Verify(c echo.Context) error {
	rc := rctx.FromEcho(c)
	encID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		OrderItemID uuid.UUID `json:"order_item_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.OrderItemID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "order_item_id is required")
	}
	view, err := h.svc.VerifyResults(c.Request().Context(), rc, encID, body.OrderItemID)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Publish(c echo.Context) error {
	rc := rctx.FromEcho(c)
	encID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	proj, err := h.svc.PublishReport(c.Request().Context(), rc, encID)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, proj)
}
