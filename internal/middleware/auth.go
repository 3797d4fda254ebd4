// Package middleware defines echo middleware for request tracking, panics,
// api key guards and rate limiting
package middleware

import (
	"crypto/subtle"

	"skin-api/internal/shared"

	"github.com/labstack/echo/v4"
)

// RequireAPIKey only lets requests through that carry key as bearer token
func RequireAPIKey(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if key == "" {
				return c.String(401, "Metrics disabled")
			}
			apiKey, err := shared.ExtractAPIKey(c)
			if err != nil {
				return c.String(401, "Missing or invalid API key")
			}
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) != 1 {
				return c.String(401, "Unauthorized API key")
			}
			return next(c)
		}
	}
}
