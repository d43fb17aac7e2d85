package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

// APIKeyMiddleware authenticates internal callers using the X-API-Key header.
// The intake and trigger endpoints are service-to-service only; there is no
// per-caller account model, just the shared internal key.
func APIKeyMiddleware(internalKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if internalKey == "" {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "internal key not configured"})
			}
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(internalKey)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			return next(c)
		}
	}
}

// RunnerTokenMiddleware guards the digest trigger with a dedicated bearer
// token, distinct from the internal API key. An empty configured token
// disables the endpoint rather than leaving it open.
func RunnerTokenMiddleware(runnerToken string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if runnerToken == "" {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "runner token not configured"})
			}
			auth := strings.TrimSpace(c.Request().Header.Get("Authorization"))
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(runnerToken)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			return next(c)
		}
	}
}
