package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/verbatimhq/verbatim/core/schema"
)

type AccuracyStore struct {
	db *gorm.DB
}

// InsertMetric appends one per-job accuracy record.
func (s *AccuracyStore) InsertMetric(ctx context.Context, m *schema.AccuracyMetric) error {
	row := metricRowFromSchema(m)
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("inserting accuracy metric for job %s: %w", m.JobID, err)
	}
	return nil
}

// MetricsSince returns an organization's metrics recorded in [since, until).
func (s *AccuracyStore) MetricsSince(ctx context.Context, org string, since, until time.Time) ([]*schema.AccuracyMetric, error) {
	var rows []AccuracyMetricRow
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND created_at >= ? AND created_at < ?", org, since, until).
		Order("created_at ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing metrics for %s: %w", org, err)
	}
	out := make([]*schema.AccuracyMetric, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toSchema())
	}
	return out, nil
}

// OrganizationsWithMetrics lists the distinct organizations that recorded
// metrics in [since, until), the aggregation cron's work list.
func (s *AccuracyStore) OrganizationsWithMetrics(ctx context.Context, since, until time.Time) ([]string, error) {
	var orgs []string
	err := s.db.WithContext(ctx).Model(&AccuracyMetricRow{}).
		Where("created_at >= ? AND created_at < ?", since, until).
		Distinct("organization_id").Pluck("organization_id", &orgs).Error
	if err != nil {
		return nil, fmt.Errorf("listing organizations with metrics: %w", err)
	}
	return orgs, nil
}

// SaveReport upserts the aggregation for (org, period, period start), so the
// cron can safely re-run.
func (s *AccuracyStore) SaveReport(ctx context.Context, r *schema.AccuracyReport) error {
	row := &AccuracyReportRow{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Period:         string(r.Period),
		PeriodStart:    r.PeriodStart,
		SampleCount:    r.SampleCount,
		Modes:          r.Modes,
		Recommendation: r.Recommendation,
		CreatedAt:      time.Now().UTC(),
	}
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "period"}, {Name: "period_start"}},
		DoUpdates: clause.AssignmentColumns([]string{"sample_count", "modes", "recommendation", "created_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("saving accuracy report for %s: %w", r.OrganizationID, err)
	}
	return nil
}

// Reports returns an organization's reports for one period type, newest
// first.
func (s *AccuracyStore) Reports(ctx context.Context, org string, period schema.ReportPeriod, limit int) ([]*schema.AccuracyReport, error) {
	if limit <= 0 || limit > 100 {
		limit = 12
	}
	var rows []AccuracyReportRow
	q := s.db.WithContext(ctx).Where("organization_id = ?", org)
	if period != "" {
		q = q.Where("period = ?", string(period))
	}
	if err := q.Order("period_start DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing reports for %s: %w", org, err)
	}
	out := make([]*schema.AccuracyReport, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toSchema())
	}
	return out, nil
}
