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
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor(t, "")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := paramsFor(t, "?limit=50&offset=10")
	if p.Limit != 50 || p.Offset != 10 {
		t.Errorf("expected 50/10, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_Clamps(t *testing.T) {
	if p := paramsFor(t, "?limit=500"); p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
	if p := paramsFor(t, "?offset=-5"); p.Offset != 0 {
		t.Errorf("expected negative offset clamped to 0, got %d", p.Offset)
	}
	if p := paramsFor(t, "?limit=abc"); p.Limit != DefaultLimit {
		t.Errorf("expected default limit for garbage input, got %d", p.Limit)
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	r := Page(items, Params{Limit: 2, Offset: 1})
	got := r.Data.([]int)
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("expected [2 3], got %v", got)
	}
	if r.Total != 5 || !r.HasMore {
		t.Errorf("expected total 5 with more, got %+v", r)
	}

	r = Page(items, Params{Limit: 10, Offset: 3})
	if got := r.Data.([]int); len(got) != 2 || r.HasMore {
		t.Errorf("expected last 2 without more, got %v has_more=%v", got, r.HasMore)
	}

	r = Page(items, Params{Limit: 10, Offset: 50})
	if got := r.Data.([]int); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil page, got %#v", got)
	}
}

func TestPage_NilInput(t *testing.T) {
	r := Page[string](nil, Params{Limit: DefaultLimit})
	if got := r.Data.([]string); got == nil || len(got) != 0 {
		t.Errorf("expected empty page, got %#v", got)
	}
	if r.Total != 0 {
		t.Errorf("expected total 0, got %d", r.Total)
	}
}
