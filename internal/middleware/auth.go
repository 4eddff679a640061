package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	UserIDHeader     = "X-User-ID"
	AdminTokenHeader = "X-Admin-Token"

	userIDKey = "userID"
	adminKey  = "admin"
)

// AuthMiddleware trusts the identity header set by the gateway in front of the service.
type AuthMiddleware struct {
	adminToken string
}

func NewAuthMiddleware(adminToken string) *AuthMiddleware {
	return &AuthMiddleware{adminToken: adminToken}
}

// AdminEnabled reports whether admin routes should be mounted at all.
func (m *AuthMiddleware) AdminEnabled() bool {
	return m.adminToken != ""
}

func (m *AuthMiddleware) RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := strings.TrimSpace(c.Request().Header.Get(UserIDHeader))
		if raw == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid_user"})
		}
		c.Set(userIDKey, id)
		return next(c)
	}
}

func (m *AuthMiddleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.Request().Header.Get(AdminTokenHeader)
		if !m.AdminEnabled() || token == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.adminToken)) != 1 {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid_token"})
		}
		c.Set(adminKey, true)
		return next(c)
	}
}

// UserID returns the caller set by RequireUser, or 0.
func UserID(c echo.Context) uint64 {
	id, _ := c.Get(userIDKey).(uint64)
	return id
}

func IsAdmin(c echo.Context) bool {
	ok, _ := c.Get(adminKey).(bool)
	return ok
}
