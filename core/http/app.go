package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	httpMiddleware "github.com/verbatimhq/verbatim/core/http/middleware"
	"github.com/verbatimhq/verbatim/core/http/routes"

	"github.com/verbatimhq/verbatim/core/application"
	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/core/services"
	"github.com/verbatimhq/verbatim/core/store"

	"github.com/rs/zerolog/log"
)

// @title Verbatim API
// @version 1.0.0
// @description Tiered audio transcription job pipeline.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// requestValidator plugs go-playground/validator into echo's Validate hook.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// statusForKind maps pipeline error kinds to HTTP status codes.
func statusForKind(kind schema.ErrorKind) int {
	switch kind {
	case schema.ErrorFileNotFound:
		return http.StatusNotFound
	case schema.ErrorFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case schema.ErrorInvalidFormat, schema.ErrorFileCorrupted,
		schema.ErrorInsufficientAudio, schema.ErrorLanguageNotSupported,
		schema.ErrorModeNotAvailable:
		return http.StatusBadRequest
	case schema.ErrorRateLimited, schema.ErrorOrganizationLimit:
		return http.StatusTooManyRequests
	case schema.ErrorSubscriptionExpired:
		return http.StatusPaymentRequired
	case schema.ErrorNetworkTimeout, schema.ErrorProviderRateLimited,
		schema.ErrorProviderQuotaExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func API(application *application.Application) (*echo.Echo, error) {
	e := echo.New()

	// Set body limit
	if application.ApplicationConfig().UploadLimitMB > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", application.ApplicationConfig().UploadLimitMB)))
	}

	// Request validation
	e.Validator = &requestValidator{validate: validator.New()}

	// Set error handler. Pipeline errors carry their own user-facing message;
	// anything unrecognized is logged and reported as a bare 500.
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		resp := schema.ErrorResponse{Message: "internal server error"}

		var pipelineErr *schema.PipelineError
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &pipelineErr):
			code = statusForKind(pipelineErr.Kind)
			resp.Kind = pipelineErr.Kind
			resp.Message = pipelineErr.Message
		case errors.As(err, &httpErr):
			code = httpErr.Code
			resp.Message = fmt.Sprintf("%v", httpErr.Message)
		case errors.Is(err, services.ErrQueueFull):
			code = http.StatusTooManyRequests
			resp.Kind = schema.ErrorRateLimited
			resp.Message = err.Error()
		case errors.Is(err, services.ErrJobFinished):
			code = http.StatusConflict
			resp.Message = err.Error()
		case errors.Is(err, store.ErrJobNotFound),
			errors.Is(err, store.ErrTermNotFound),
			errors.Is(err, store.ErrSuggestionNotFound):
			code = http.StatusNotFound
			resp.Message = err.Error()
		default:
			log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled API error")
		}

		if jsonErr := c.JSON(code, resp); jsonErr != nil {
			log.Error().Err(jsonErr).Msg("failed to write error response")
		}
	}

	// Hide banner
	e.HideBanner = true

	// Middleware - StripPathPrefix must be registered early as it rewrites the path before routing
	e.Pre(httpMiddleware.StripPathPrefix())

	e.Use(middleware.RequestID())

	// Custom logger middleware using zerolog
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := log.Logger.Info()
			err := next(c)
			start.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Msg("HTTP request")
			return err
		}
	})

	// Recover middleware
	e.Use(middleware.Recover())

	// Metrics middleware
	e.Use(httpMiddleware.APIMetrics(application.MetricsService()))

	// Health checks should always be exempt from auth, so register these first
	routes.HealthRoutes(e)

	// Auth is applied to all endpoints. Filtering out endpoints to bypass is
	// the role of the Skipper property of the KeyAuth configuration
	e.Use(httpMiddleware.KeyAuth(application.ApplicationConfig()))

	// CORS middleware
	if application.ApplicationConfig().CORS {
		corsConfig := middleware.CORSConfig{}
		if application.ApplicationConfig().CORSAllowOrigins != "" {
			corsConfig.AllowOrigins = strings.Split(application.ApplicationConfig().CORSAllowOrigins, ",")
		}
		e.Use(middleware.CORSWithConfig(corsConfig))
	}

	routes.RegisterVerbatimRoutes(e, application)

	e.Server.RegisterOnShutdown(func() {
		log.Info().Msg("verbatim API server shutting down")
	})

	return e, nil
}
