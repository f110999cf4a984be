package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// apiContentSecurityPolicy forbids everything; the API serves JSON and
// export files, never documents.
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// NewCORS allows the given origins to call the API. Export downloads need
// Content-Disposition exposed so browser clients can read the file name.
func NewCORS(allowedOrigins []string) echo.MiddlewareFunc {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
		},
		ExposeHeaders: []string{echo.HeaderContentDisposition},
	})
}

// NewSecureHeaders sets response headers for a JSON API reached over the
// local network. HSTS is left off because the companion usually listens on
// plain HTTP.
func NewSecureHeaders() echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ContentSecurityPolicy: apiContentSecurityPolicy,
	})
}

// NewBodyLimit rejects request bodies over limit (e.g. "64M") with 413.
// Requests matched by skip are not limited.
func NewBodyLimit(limit string, skip middleware.Skipper) echo.MiddlewareFunc {
	return middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
		Skipper: skip,
		Limit:   limit,
	})
}
