// Package command routes custom-verb requests of the form
// POST /encounters/{id}:verb. The verb shares a path segment with the id,
// so a single catch-all route splits the segment and dispatches to the
// handler registered for the verb.
package command

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Mux maps command verbs to their handlers. Handlers read the entity id
// from the "id" path parameter as if it had been routed directly.
type Mux struct {
	handlers map[string]echo.HandlerFunc
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]echo.HandlerFunc)}
}

// Register binds a verb to a handler, wrapping it in the given middleware
// the way an echo route would. Registering a verb twice panics; that is a
// wiring mistake, not a runtime condition.
func (m *Mux) Register(verb string, h echo.HandlerFunc, mw ...echo.MiddlewareFunc) {
	if _, dup := m.handlers[verb]; dup {
		panic("command: duplicate verb " + verb)
	}
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	m.handlers[verb] = h
}

// Handler returns the echo handler to mount on the catch-all route. The
// route must declare a single "ref" parameter holding "{id}:{verb}".
func (m *Mux) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		id, verb, ok := strings.Cut(c.Param("ref"), ":")
		if !ok || id == "" || verb == "" {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		h, ok := m.handlers[verb]
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		c.SetParamNames("id")
		c.SetParamValues(id)
		return h(c)
	}
}
