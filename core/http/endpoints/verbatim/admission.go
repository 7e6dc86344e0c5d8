package verbatim

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/verbatimhq/verbatim/core/application"
	"github.com/verbatimhq/verbatim/core/schema"
)

// admissionStatus maps a denial reason to the HTTP status of the decision
// body. Denials are regular responses, not errors.
func admissionStatus(reason schema.ErrorKind) int {
	switch reason {
	case schema.ErrorRateLimited, schema.ErrorOrganizationLimit:
		return http.StatusTooManyRequests
	case schema.ErrorModeNotAvailable:
		return http.StatusForbidden
	default:
		return http.StatusForbidden
	}
}

// AdmissionCheckEndpoint evaluates a request against quota without consuming it
// @Summary Check admission
// @Description Evaluate whether a transcription request would be admitted, without reserving quota
// @Tags admission
// @Accept json
// @Produce json
// @Param request body schema.AdmissionRequest true "Admission request"
// @Success 200 {object} schema.AdmissionDecision "Decision, allowed or not"
// @Failure 400 {object} schema.ErrorResponse "Invalid request"
// @Router /v1/admission/check [post]
func AdmissionCheckEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req schema.AdmissionRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		if err := c.Validate(&req); err != nil {
			return err
		}

		decision, err := app.QuotaGate().Check(c.Request().Context(), req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, decision)
	}
}

// UsageEndpoint reports consumed minutes per mode for an organization
// @Summary Get organization usage
// @Description List the organization's usage counters, one per mode with recorded activity or a configured limit
// @Tags admission
// @Produce json
// @Param id path string true "Organization ID"
// @Success 200 {array} schema.UsageCounter "Usage counters"
// @Router /v1/organizations/{id}/usage [get]
func UsageEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		counters, err := app.QuotaGate().Usage(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, counters)
	}
}

// SetLimitEndpoint configures an organization's allowance for one mode
// @Summary Set an organization mode limit
// @Description Set the period allowance in minutes for one mode. Zero disables the mode, -1 removes the cap
// @Tags admission
// @Accept json
// @Produce json
// @Param id path string true "Organization ID"
// @Param request body schema.SetLimitRequest true "Limit"
// @Success 200 {array} schema.UsageCounter "Updated usage counters"
// @Failure 400 {object} schema.ErrorResponse "Invalid request"
// @Router /v1/organizations/{id}/limits [put]
func SetLimitEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req schema.SetLimitRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		if err := c.Validate(&req); err != nil {
			return err
		}

		org := c.Param("id")
		if err := app.QuotaGate().SetLimit(c.Request().Context(), org, req.Mode, req.LimitMinutes); err != nil {
			return err
		}
		counters, err := app.QuotaGate().Usage(c.Request().Context(), org)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, counters)
	}
}
