package document

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/command"
	"github.com/clinicore/clinicore/internal/platform/domainerr"
	"github.com/clinicore/clinicore/internal/platform/rctx"
	"github.com/clinicore/clinicore/internal/platform/storage"
)

type Handler struct {
	svc   *Service
	store storage.DocumentStore
}

func NewHandler(svc *Service, store storage.DocumentStore) *Handler {
	return &Handler{svc: svc, store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse", "lab_tech"))
	g.GET("/documents/:id", h.Get)
	g.GET("/documents/:id/file", h.GetFile)
	g.GET("/encounters/:id/documents", h.ListByEncounter)
}

// RegisterCommands binds the pipeline entry point on the shared command
// mux.
func (h *Handler) RegisterCommands(mux *command.Mux) {
	mux.Register("document", h.Queue, auth.RequireRole("admin", "physician"))
}

func (h *Handler) Queue(c echo.Context) error {
	rc := rctx.FromEcho(c)
	encID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		DocumentType string `json:"document_type"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.DocumentType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "document_type is required")
	}
	doc, err := h.svc.Queue(c.Request().Context(), rc, encID, body.DocumentType)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, doc.Projection())
}

func (h *Handler) Get(c echo.Context) error {
	rc := rctx.FromEcho(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	doc, err := h.svc.Get(c.Request().Context(), rc.TenantID, id)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, doc.Projection())
}

func (h *Handler) GetFile(c echo.Context) error {
	rc := rctx.FromEcho(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	doc, err := h.svc.Get(c.Request().Context(), rc.TenantID, id)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	if doc.Status != StatusRendered || doc.StorageKey == nil {
		return echo.NewHTTPError(http.StatusNotFound, "document is not rendered")
	}
	body, _, err := h.store.Get(c.Request().Context(), rc.TenantID, *doc.StorageKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "document file not found")
	}
	if err != nil {
		return domainerr.Respond(c, err)
	}
	defer body.Close()
	return c.Stream(http.StatusOK, "application/pdf", body)
}

func (h *Handler) ListByEncounter(c echo.Context) error {
	rc := rctx.FromEcho(c)
	encID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	docs, err := h.svc.ListByEncounter(c.Request().Context(), rc.TenantID, encID)
	if err != nil {
		return domainerr.Respond(c, err)
	}
	projections := make([]*Projection, 0, len(docs))
	for _, d := range docs {
		projections = append(projections, d.Projection())
	}
	return c.JSON(http.StatusOK, projections)
}
