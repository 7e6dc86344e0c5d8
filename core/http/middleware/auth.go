package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/verbatimhq/verbatim/core/config"
	"github.com/verbatimhq/verbatim/core/schema"
)

// authExempt endpoints never require a key: health probes and the metrics
// scrape must work before any operator has provisioned credentials.
var authExempt = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
}

// KeyAuth guards every route with the configured API keys. Keys are looked up
// in the Authorization header (Bearer scheme), the x-api-key header and the
// token cookie. The key list can change at runtime through the dynamic config
// watcher, so the closures read the live config instead of capturing a copy.
func KeyAuth(appConfig *config.ApplicationConfig) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:Authorization,header:x-api-key,cookie:token",
		Skipper: func(c echo.Context) bool {
			if len(appConfig.ApiKeys) == 0 {
				return true
			}
			_, exempt := authExempt[c.Request().URL.Path]
			return exempt
		},
		Validator: func(key string, c echo.Context) (bool, error) {
			for _, validKey := range appConfig.ApiKeys {
				if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
					return true, nil
				}
			}
			return false, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			c.Response().Header().Set("WWW-Authenticate", "Bearer")
			return c.JSON(http.StatusUnauthorized, schema.ErrorResponse{
				Message: "a valid API key is required",
			})
		},
	})
}
