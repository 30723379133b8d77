package command

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestMuxDispatch(t *testing.T) {
	mux := NewMux()
	var gotID string
	mux.Register("finalize", func(c echo.Context) error {
		gotID = c.Param("id")
		return c.NoContent(http.StatusOK)
	})

	e := echo.New()
	e.POST("/encounters/:ref", mux.Handler())

	req := httptest.NewRequest(http.MethodPost, "/encounters/abc-123:finalize", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotID != "abc-123" {
		t.Errorf("id = %q, want abc-123", gotID)
	}
}

func TestMuxUnknownVerb(t *testing.T) {
	mux := NewMux()
	mux.Register("finalize", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e := echo.New()
	e.POST("/encounters/:ref", mux.Handler())

	for _, path := range []string{"/encounters/abc:unknown", "/encounters/abc", "/encounters/:finalize"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("POST %s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestMuxAppliesVerbMiddleware(t *testing.T) {
	mux := NewMux()
	deny := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusForbidden, "forbidden")
		}
	}
	reached := false
	mux.Register("finalize", func(c echo.Context) error {
		reached = true
		return c.NoContent(http.StatusOK)
	}, deny)

	e := echo.New()
	e.POST("/encounters/:ref", mux.Handler())

	req := httptest.NewRequest(http.MethodPost, "/encounters/abc:finalize", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if reached {
		t.Error("middleware did not guard the verb handler")
	}
}

func TestMuxDuplicateVerbPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("duplicate Register did not panic")
		}
	}()
	mux := NewMux()
	h := func(c echo.Context) error { return nil }
	mux.Register("finalize", h)
	mux.Register("finalize", h)
}
