package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/verbatimhq/verbatim/core/application"
	"github.com/verbatimhq/verbatim/core/http/endpoints/verbatim"
	"github.com/verbatimhq/verbatim/internal"
)

func RegisterVerbatimRoutes(e *echo.Echo, app *application.Application) {
	e.POST("/v1/admission/check", verbatim.AdmissionCheckEndpoint(app))

	e.POST("/v1/jobs", verbatim.SubmitJobEndpoint(app))
	e.GET("/v1/jobs", verbatim.ListJobsEndpoint(app))
	e.GET("/v1/jobs/:id", verbatim.GetJobEndpoint(app))
	e.DELETE("/v1/jobs/:id", verbatim.CancelJobEndpoint(app))

	e.GET("/v1/organizations/:id/usage", verbatim.UsageEndpoint(app))
	e.PUT("/v1/organizations/:id/limits", verbatim.SetLimitEndpoint(app))

	e.POST("/v1/organizations/:id/vocabulary", verbatim.UpsertTermEndpoint(app))
	e.GET("/v1/organizations/:id/vocabulary", verbatim.ListTermsEndpoint(app))
	e.PATCH("/v1/organizations/:id/vocabulary/:termID", verbatim.PatchTermEndpoint(app))
	e.DELETE("/v1/organizations/:id/vocabulary/:termID", verbatim.DeleteTermEndpoint(app))
	e.GET("/v1/organizations/:id/vocabulary/suggestions", verbatim.ListSuggestionsEndpoint(app))
	e.POST("/v1/organizations/:id/vocabulary/suggestions/:sid/review", verbatim.ReviewSuggestionEndpoint(app))
	e.POST("/v1/organizations/:id/corrections", verbatim.RecordCorrectionEndpoint(app))

	e.GET("/v1/organizations/:id/reports/accuracy", verbatim.AccuracyReportsEndpoint(app))

	e.GET("/v1/stats", verbatim.StatsEndpoint(app))
	e.GET("/v1/events", verbatim.EventsEndpoint(app))

	if !app.ApplicationConfig().DisableMetricsEndpoint {
		e.GET("/metrics", verbatim.MetricsEndpoint(app))
	}

	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, struct {
			Version string `json:"version"`
		}{Version: internal.PrintableVersion()})
	})
}
