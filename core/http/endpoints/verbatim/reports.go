package verbatim

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/verbatimhq/verbatim/core/application"
	"github.com/verbatimhq/verbatim/core/schema"
)

// AccuracyReportsEndpoint lists aggregated accuracy reports
// @Summary List accuracy reports
// @Description List the organization's weekly or monthly accuracy reports, most recent first
// @Tags reports
// @Produce json
// @Param id path string true "Organization ID"
// @Param period query string false "Report period (weekly, monthly), default weekly"
// @Param limit query int false "Maximum number of reports"
// @Success 200 {array} schema.AccuracyReport "Reports"
// @Failure 400 {object} schema.ErrorResponse "Invalid period"
// @Router /v1/organizations/{id}/reports/accuracy [get]
func AccuracyReportsEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		period := schema.PeriodWeekly
		switch p := c.QueryParam("period"); p {
		case "", string(schema.PeriodWeekly):
		case string(schema.PeriodMonthly):
			period = schema.PeriodMonthly
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "period must be weekly or monthly")
		}

		limit := 0
		if l := c.QueryParam("limit"); l != "" {
			if n, err := strconv.Atoi(l); err == nil {
				limit = n
			}
		}

		reports, err := app.AccuracyService().Reports(c.Request().Context(), c.Param("id"), period, limit)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, reports)
	}
}
