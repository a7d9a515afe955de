package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/runbeam/relay/pkg/utils"
)

// The access gate applied before requests reach the dispatcher core.
// Submitters authenticate with an API key, the worker authenticates
// with the session token minted when the gate is created.
type Gate struct {
	enabled bool
	token   string
	keys    *KeyStore
}

func NewGate(enabled bool, keys *KeyStore) *Gate {
	return &Gate{
		enabled: enabled,
		token:   utils.SecureToken(),
		keys:    keys,
	}
}

// The token the worker must present on the event stream,
// result and heartbeat endpoints.
func (g *Gate) SessionToken() string {
	return g.token
}

// Echo middleware for the submission boundary.
func (g *Gate) RequireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !g.enabled {
			return next(c)
		}

		key := c.Request().Header.Get("X-API-Key")
		if key == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "X-API-Key header required")
		}

		if !g.keys.IsValid(key) {
			return echo.NewHTTPError(http.StatusForbidden, "Invalid API key")
		}

		return next(c)
	}
}

// Echo middleware for the worker-facing endpoints.
func (g *Gate) RequireSessionToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !g.enabled {
			return next(c)
		}

		header := c.Request().Header.Get(echo.HeaderAuthorization)
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "bearer") {
			return echo.NewHTTPError(http.StatusUnauthorized, "Bearer authorization required")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) != 1 {
			return echo.NewHTTPError(http.StatusForbidden, "Invalid session token")
		}

		return next(c)
	}
}
