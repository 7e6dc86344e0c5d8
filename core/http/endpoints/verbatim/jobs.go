package verbatim

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/verbatimhq/verbatim/core/application"
	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/core/store"
)

// SubmitJobEndpoint enqueues a transcription job
// @Summary Submit a transcription job
// @Description Admit the request against the organization's quota and enqueue a transcription job
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body schema.SubmitJobRequest true "Job submission"
// @Success 201 {object} schema.SubmitJobResponse "Job accepted"
// @Failure 400 {object} schema.ErrorResponse "Invalid request"
// @Failure 403 {object} schema.AdmissionDecision "Mode not available for the organization"
// @Failure 429 {object} schema.AdmissionDecision "Quota exhausted or rate limited"
// @Router /v1/jobs [post]
func SubmitJobEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req schema.SubmitJobRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		if err := c.Validate(&req); err != nil {
			return err
		}

		job, decision, err := app.Orchestrator().Submit(c.Request().Context(), req)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			if decision.RetryAfterSeconds > 0 {
				c.Response().Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
			}
			return c.JSON(admissionStatus(decision.Reason), decision)
		}

		return c.JSON(http.StatusCreated, schema.SubmitJobResponse{Job: job, Admission: decision})
	}
}

// GetJobEndpoint returns one job with its current state
// @Summary Get a transcription job
// @Description Get a transcription job by ID, including the transcript once completed
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} schema.JobStatusResponse "Job details"
// @Failure 404 {object} schema.ErrorResponse "Job not found"
// @Router /v1/jobs/{id} [get]
func GetJobEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		job, err := app.Orchestrator().GetJob(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, schema.JobStatusResponse{Job: job})
	}
}

// ListJobsEndpoint lists jobs with optional filtering
// @Summary List transcription jobs
// @Description Page through jobs, optionally filtered by organization, meeting, state and mode
// @Tags jobs
// @Produce json
// @Param organization_id query string false "Filter by organization"
// @Param meeting_id query string false "Filter by meeting"
// @Param state query string false "Filter by state (queued, processing, completed, failed_retryable, failed_permanent, cancelled)"
// @Param mode query string false "Filter by mode (fast, balanced, precision)"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} schema.JobListResponse "Jobs"
// @Router /v1/jobs [get]
func ListJobsEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		f := store.ListFilter{
			OrganizationID: c.QueryParam("organization_id"),
			MeetingID:      c.QueryParam("meeting_id"),
			State:          schema.JobState(c.QueryParam("state")),
			Mode:           schema.TranscriptionMode(c.QueryParam("mode")),
		}
		if limit := c.QueryParam("limit"); limit != "" {
			if l, err := strconv.Atoi(limit); err == nil {
				f.Limit = l
			}
		}
		if offset := c.QueryParam("offset"); offset != "" {
			if o, err := strconv.Atoi(offset); err == nil {
				f.Offset = o
			}
		}

		jobs, total, err := app.Orchestrator().ListJobs(c.Request().Context(), f)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, schema.JobListResponse{Jobs: jobs, Total: total})
	}
}

// CancelJobEndpoint cancels a queued or running job
// @Summary Cancel a transcription job
// @Description Cancel a job; queued jobs are withdrawn, running jobs are interrupted
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} schema.JobStatusResponse "Job cancelled"
// @Failure 404 {object} schema.ErrorResponse "Job not found"
// @Failure 409 {object} schema.ErrorResponse "Job already finished"
// @Router /v1/jobs/{id} [delete]
func CancelJobEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		job, err := app.Orchestrator().Cancel(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, schema.JobStatusResponse{Job: job})
	}
}
