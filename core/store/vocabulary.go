package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/verbatimhq/verbatim/core/schema"
)

var (
	ErrTermNotFound       = errors.New("vocabulary term not found")
	ErrSuggestionNotFound = errors.New("vocabulary suggestion not found")
)

type VocabularyStore struct {
	db *gorm.DB
}

// Upsert creates the term or, when the organization already has it, updates
// the mutable fields in place and reactivates it.
func (s *VocabularyStore) Upsert(ctx context.Context, term *schema.VocabularyTerm) (*schema.VocabularyTerm, error) {
	now := time.Now().UTC()
	var existing VocabularyTermRow
	err := s.db.WithContext(ctx).
		First(&existing, "organization_id = ? AND term = ?", term.OrganizationID, term.Term).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := termRowFromSchema(term)
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
		if row.Confidence == 0 {
			row.Confidence = 0.5
		}
		row.Active = true
		row.CreatedAt = now
		row.UpdatedAt = now
		if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
			return nil, fmt.Errorf("creating term %q: %w", term.Term, err)
		}
		return row.toSchema(), nil
	case err != nil:
		return nil, fmt.Errorf("loading term %q: %w", term.Term, err)
	}

	existing.Variations = term.Variations
	existing.ContextHints = term.ContextHints
	existing.Phonetic = term.Phonetic
	if term.Confidence > 0 {
		existing.Confidence = term.Confidence
	}
	existing.Active = true
	existing.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return nil, fmt.Errorf("updating term %q: %w", term.Term, err)
	}
	return existing.toSchema(), nil
}

func (s *VocabularyStore) Get(ctx context.Context, org, termID string) (*schema.VocabularyTerm, error) {
	var row VocabularyTermRow
	err := s.db.WithContext(ctx).First(&row, "id = ? AND organization_id = ?", termID, org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTermNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading term %s: %w", termID, err)
	}
	return row.toSchema(), nil
}

// ListActive returns the organization's live terms, the matcher's input.
func (s *VocabularyStore) ListActive(ctx context.Context, org string) ([]*schema.VocabularyTerm, error) {
	var rows []VocabularyTermRow
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND active = ?", org, true).
		Order("term ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing terms for %s: %w", org, err)
	}
	terms := make([]*schema.VocabularyTerm, 0, len(rows))
	for i := range rows {
		terms = append(terms, rows[i].toSchema())
	}
	return terms, nil
}

// Deactivate soft-deletes a term. The row stays for correction history.
func (s *VocabularyStore) Deactivate(ctx context.Context, org, termID string) error {
	res := s.db.WithContext(ctx).Model(&VocabularyTermRow{}).
		Where("id = ? AND organization_id = ?", termID, org).
		Updates(map[string]interface{}{"active": false, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("deactivating term %s: %w", termID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTermNotFound
	}
	return nil
}

// RecordMatch bumps usage and nudges confidence up after the matcher applied
// the term. Confidence saturates below 0.99.
func (s *VocabularyStore) RecordMatch(ctx context.Context, termID string, confidenceStep float64) error {
	return s.db.WithContext(ctx).Model(&VocabularyTermRow{}).
		Where("id = ?", termID).
		Updates(map[string]interface{}{
			"usage_count": gorm.Expr("usage_count + 1"),
			"confidence":  gorm.Expr("CASE WHEN confidence + ? > 0.99 THEN 0.99 ELSE confidence + ? END", confidenceStep, confidenceStep),
			"updated_at":  time.Now().UTC(),
		}).Error
}

// PenalizeTerm lowers confidence after a correction disproved a substitution,
// flooring at 0.05 so a term can recover.
func (s *VocabularyStore) PenalizeTerm(ctx context.Context, termID string, confidenceStep float64) error {
	return s.db.WithContext(ctx).Model(&VocabularyTermRow{}).
		Where("id = ?", termID).
		Updates(map[string]interface{}{
			"confidence": gorm.Expr("CASE WHEN confidence - ? < 0.05 THEN 0.05 ELSE confidence - ? END", confidenceStep, confidenceStep),
			"updated_at": time.Now().UTC(),
		}).Error
}

// AppendCorrection stores one manual edit, append-only.
func (s *VocabularyStore) AppendCorrection(ctx context.Context, rec *schema.CorrectionRecord) (*schema.CorrectionRecord, error) {
	row := &CorrectionRow{
		ID:             rec.ID,
		OrganizationID: rec.OrganizationID,
		JobID:          rec.JobID,
		Original:       rec.Original,
		Corrected:      rec.Corrected,
		Applied:        rec.Applied,
		CreatedAt:      time.Now().UTC(),
	}
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("recording correction: %w", err)
	}
	return row.toSchema(), nil
}

// CountCorrections returns how many corrections a job accumulated.
func (s *VocabularyStore) CountCorrections(ctx context.Context, jobID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&CorrectionRow{}).Where("job_id = ?", jobID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("counting corrections for %s: %w", jobID, err)
	}
	return n, nil
}

// BumpSuggestion counts one more sighting of a corrected phrase, creating
// the pending suggestion on first sight. Returns the updated suggestion.
func (s *VocabularyStore) BumpSuggestion(ctx context.Context, org, term string) (*schema.VocabularySuggestion, error) {
	now := time.Now().UTC()
	row := SuggestionRow{
		ID:             uuid.New().String(),
		OrganizationID: org,
		Term:           term,
		Occurrences:    1,
		FirstSeen:      now,
		LastSeen:       now,
		Status:         string(schema.SuggestionPending),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "organization_id"}, {Name: "term"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"occurrences": gorm.Expr("occurrences + 1"),
			"last_seen":   now,
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("bumping suggestion %q: %w", term, err)
	}

	var current SuggestionRow
	if err := s.db.WithContext(ctx).First(&current, "organization_id = ? AND term = ?", org, term).Error; err != nil {
		return nil, fmt.Errorf("loading suggestion %q: %w", term, err)
	}
	return current.toSchema(), nil
}

// ListSuggestions returns suggestions in the given status, most seen first.
func (s *VocabularyStore) ListSuggestions(ctx context.Context, org string, status schema.SuggestionStatus) ([]*schema.VocabularySuggestion, error) {
	var rows []SuggestionRow
	q := s.db.WithContext(ctx).Where("organization_id = ?", org)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if err := q.Order("occurrences DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing suggestions for %s: %w", org, err)
	}
	out := make([]*schema.VocabularySuggestion, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toSchema())
	}
	return out, nil
}

// UpdateSuggestionStatus moves a suggestion through review.
func (s *VocabularyStore) UpdateSuggestionStatus(ctx context.Context, org, suggestionID string, status schema.SuggestionStatus) (*schema.VocabularySuggestion, error) {
	var row SuggestionRow
	err := s.db.WithContext(ctx).First(&row, "id = ? AND organization_id = ?", suggestionID, org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSuggestionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading suggestion %s: %w", suggestionID, err)
	}
	row.Status = string(status)
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return nil, fmt.Errorf("updating suggestion %s: %w", suggestionID, err)
	}
	return row.toSchema(), nil
}
