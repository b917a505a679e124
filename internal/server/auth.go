package server

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"purchasedash/internal/core"
)

// AuthMiddleware requires "Authorization: Bearer <masterKey>" on every request
// except those whose path equals one of skipPaths or, for entries ending in "*",
// starts with the entry's prefix. An empty masterKey disables authentication.
func AuthMiddleware(masterKey string, skipPaths []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" || skipAuth(c.Request().URL.Path, skipPaths) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return unauthorized(c, "missing authorization header")
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return unauthorized(c, "invalid authorization header format, expected 'Bearer <token>'")
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(masterKey)) != 1 {
				return unauthorized(c, "invalid master key")
			}

			return next(c)
		}
	}
}

func skipAuth(path string, skipPaths []string) bool {
	for _, p := range skipPaths {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

func unauthorized(c echo.Context, message string) error {
	err := core.NewAuthenticationError(message)
	return c.JSON(err.HTTPStatusCode(), err.ToJSON())
}
