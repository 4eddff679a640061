package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func serve(mw echo.MiddlewareFunc, header, value string) (*httptest.ResponseRecorder, echo.Context) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = mw(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })(c)
	return rec, c
}

func TestRequireUser(t *testing.T) {
	m := NewAuthMiddleware("")
	tests := []struct {
		name   string
		value  string
		status int
		userID uint64
	}{
		{"missing", "", http.StatusUnauthorized, 0},
		{"not a number", "abc", http.StatusUnauthorized, 0},
		{"zero", "0", http.StatusUnauthorized, 0},
		{"valid", " 42 ", http.StatusNoContent, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, c := serve(m.RequireUser, UserIDHeader, tt.value)
			if rec.Code != tt.status {
				t.Fatalf("status=%d want %d", rec.Code, tt.status)
			}
			if got := UserID(c); got != tt.userID {
				t.Fatalf("userID=%d want %d", got, tt.userID)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	m := NewAuthMiddleware("s3cret")
	if rec, _ := serve(m.RequireAdmin, "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status=%d", rec.Code)
	}
	if rec, _ := serve(m.RequireAdmin, AdminTokenHeader, "guess"); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong token status=%d", rec.Code)
	}
	rec, c := serve(m.RequireAdmin, AdminTokenHeader, "s3cret")
	if rec.Code != http.StatusNoContent || !IsAdmin(c) {
		t.Fatalf("status=%d admin=%v", rec.Code, IsAdmin(c))
	}

	disabled := NewAuthMiddleware("")
	if disabled.AdminEnabled() {
		t.Fatalf("admin enabled without token")
	}
	if rec, _ := serve(disabled.RequireAdmin, AdminTokenHeader, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("disabled status=%d", rec.Code)
	}
}
