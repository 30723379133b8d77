package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContextDefaults(t *testing.T) {
	p := paramsFor(t, "")
	if p.Limit != DefaultLimit {
		t.Errorf("Limit = %d, want %d", p.Limit, DefaultLimit)
	}
	if p.Offset != 0 {
		t.Errorf("Offset = %d, want 0", p.Offset)
	}
}

func TestFromContextClampsLimit(t *testing.T) {
	p := paramsFor(t, "limit=5000&offset=40")
	if p.Limit != MaxLimit {
		t.Errorf("Limit = %d, want %d", p.Limit, MaxLimit)
	}
	if p.Offset != 40 {
		t.Errorf("Offset = %d, want 40", p.Offset)
	}
}

func TestNewResponseHasMore(t *testing.T) {
	r := NewResponse(nil, 55, 20, 20)
	if !r.HasMore {
		t.Error("HasMore = false, want true")
	}
	r = NewResponse(nil, 55, 20, 40)
	if r.HasMore {
		t.Error("HasMore = true, want false")
	}
}
