package verbatim

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/verbatimhq/verbatim/core/application"
	"github.com/verbatimhq/verbatim/core/schema"
)

// UpsertTermEndpoint creates or updates a custom vocabulary term
// @Summary Upsert a vocabulary term
// @Description Create a custom vocabulary term for the organization, or update it when the term already exists
// @Tags vocabulary
// @Accept json
// @Produce json
// @Param id path string true "Organization ID"
// @Param request body schema.UpsertVocabularyRequest true "Term"
// @Success 201 {object} schema.VocabularyTerm "Term stored"
// @Failure 400 {object} schema.ErrorResponse "Invalid request"
// @Router /v1/organizations/{id}/vocabulary [post]
func UpsertTermEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req schema.UpsertVocabularyRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		if err := c.Validate(&req); err != nil {
			return err
		}

		term, err := app.VocabularyService().UpsertTerm(c.Request().Context(), c.Param("id"), req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, term)
	}
}

// ListTermsEndpoint lists the organization's active vocabulary
// @Summary List vocabulary terms
// @Description List the organization's active vocabulary terms
// @Tags vocabulary
// @Produce json
// @Param id path string true "Organization ID"
// @Success 200 {array} schema.VocabularyTerm "Terms"
// @Router /v1/organizations/{id}/vocabulary [get]
func ListTermsEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		terms, err := app.VocabularyService().ListTerms(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, terms)
	}
}

// PatchTermEndpoint updates an existing vocabulary term
// @Summary Update a vocabulary term
// @Description Update variations, context hints or confidence of an existing term
// @Tags vocabulary
// @Accept json
// @Produce json
// @Param id path string true "Organization ID"
// @Param termID path string true "Term ID"
// @Param request body schema.UpsertVocabularyRequest true "Term"
// @Success 200 {object} schema.VocabularyTerm "Term updated"
// @Failure 404 {object} schema.ErrorResponse "Term not found"
// @Router /v1/organizations/{id}/vocabulary/{termID} [patch]
func PatchTermEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		org := c.Param("id")
		existing, err := app.VocabularyService().GetTerm(c.Request().Context(), org, c.Param("termID"))
		if err != nil {
			return err
		}

		// Fields absent from the body keep their stored values.
		req := schema.UpsertVocabularyRequest{
			Term:         existing.Term,
			Variations:   existing.Variations,
			ContextHints: existing.ContextHints,
			Confidence:   existing.Confidence,
		}
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		req.Term = existing.Term
		if err := c.Validate(&req); err != nil {
			return err
		}

		term, err := app.VocabularyService().UpsertTerm(c.Request().Context(), org, req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, term)
	}
}

// DeleteTermEndpoint deactivates a vocabulary term
// @Summary Deactivate a vocabulary term
// @Description Deactivate a term so the matcher stops applying it. History is kept
// @Tags vocabulary
// @Produce json
// @Param id path string true "Organization ID"
// @Param termID path string true "Term ID"
// @Success 200 {object} map[string]string "Term deactivated"
// @Failure 404 {object} schema.ErrorResponse "Term not found"
// @Router /v1/organizations/{id}/vocabulary/{termID} [delete]
func DeleteTermEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := app.VocabularyService().DeactivateTerm(c.Request().Context(), c.Param("id"), c.Param("termID")); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "term deactivated"})
	}
}

// ListSuggestionsEndpoint lists learned vocabulary candidates pending review
// @Summary List vocabulary suggestions
// @Description List correction-derived vocabulary candidates that reached the suggestion threshold and await review
// @Tags vocabulary
// @Produce json
// @Param id path string true "Organization ID"
// @Success 200 {array} schema.VocabularySuggestion "Pending suggestions"
// @Router /v1/organizations/{id}/vocabulary/suggestions [get]
func ListSuggestionsEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		suggestions, err := app.VocabularyService().PendingSuggestions(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, suggestions)
	}
}

// ReviewSuggestionEndpoint accepts or rejects a vocabulary suggestion
// @Summary Review a vocabulary suggestion
// @Description Accept a suggestion into the active vocabulary or reject it
// @Tags vocabulary
// @Accept json
// @Produce json
// @Param id path string true "Organization ID"
// @Param sid path string true "Suggestion ID"
// @Param request body schema.SuggestionReviewRequest true "Review action"
// @Success 200 {object} schema.VocabularySuggestion "Reviewed suggestion"
// @Failure 400 {object} schema.ErrorResponse "Invalid action"
// @Failure 404 {object} schema.ErrorResponse "Suggestion not found"
// @Router /v1/organizations/{id}/vocabulary/suggestions/{sid}/review [post]
func ReviewSuggestionEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req schema.SuggestionReviewRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		if err := c.Validate(&req); err != nil {
			return err
		}

		suggestion, err := app.VocabularyService().ReviewSuggestion(c.Request().Context(), c.Param("id"), c.Param("sid"), req.Action)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, suggestion)
	}
}

// RecordCorrectionEndpoint stores a manual transcript correction
// @Summary Record a transcript correction
// @Description Store a manual correction; repeated corrections become vocabulary suggestions
// @Tags vocabulary
// @Accept json
// @Produce json
// @Param id path string true "Organization ID"
// @Param request body schema.CorrectionRequest true "Correction"
// @Success 201 {object} schema.CorrectionRecord "Correction recorded"
// @Failure 400 {object} schema.ErrorResponse "Invalid request"
// @Router /v1/organizations/{id}/corrections [post]
func RecordCorrectionEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req schema.CorrectionRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		if err := c.Validate(&req); err != nil {
			return err
		}

		record, err := app.VocabularyService().RecordCorrection(c.Request().Context(), c.Param("id"), req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, record)
	}
}
