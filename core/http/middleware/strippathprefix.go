package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// StripPathPrefix rewrites the request path when a reverse proxy announces
// its mount point through X-Forwarded-Prefix, so /transcription/v1/jobs
// routes as /v1/jobs. Must be registered with e.Pre to run before routing.
func StripPathPrefix() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			prefix := c.Request().Header.Get("X-Forwarded-Prefix")
			if prefix == "" || prefix == "/" {
				return next(c)
			}
			prefix = "/" + strings.Trim(prefix, "/")

			path := c.Request().URL.Path
			var stripped string
			switch {
			case path == prefix:
				stripped = "/"
			case strings.HasPrefix(path, prefix+"/"):
				stripped = path[len(prefix):]
			default:
				return next(c)
			}

			c.Request().URL.Path = stripped
			c.Request().URL.RawPath = ""
			if q := c.Request().URL.RawQuery; q != "" {
				c.Request().RequestURI = stripped + "?" + q
			} else {
				c.Request().RequestURI = stripped
			}
			return next(c)
		}
	}
}
