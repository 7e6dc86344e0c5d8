package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/verbatimhq/verbatim/core/schema"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore struct {
	db *gorm.DB
}

func (s *JobStore) Create(ctx context.Context, job *schema.TranscriptionJob) error {
	if err := s.db.WithContext(ctx).Create(jobRowFromSchema(job)).Error; err != nil {
		return fmt.Errorf("creating job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*schema.TranscriptionJob, error) {
	var row JobRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	return row.toSchema(), nil
}

// Save persists the full job. The orchestrator owns job mutation, so writes
// do not race with each other for one job.
func (s *JobStore) Save(ctx context.Context, job *schema.TranscriptionJob) error {
	if err := s.db.WithContext(ctx).Save(jobRowFromSchema(job)).Error; err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	return nil
}

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	OrganizationID string
	MeetingID      string
	State          schema.JobState
	Mode           schema.TranscriptionMode
	Limit          int
	Offset         int
}

func (s *JobStore) List(ctx context.Context, f ListFilter) ([]*schema.TranscriptionJob, int64, error) {
	q := s.db.WithContext(ctx).Model(&JobRow{})
	if f.OrganizationID != "" {
		q = q.Where("organization_id = ?", f.OrganizationID)
	}
	if f.MeetingID != "" {
		q = q.Where("meeting_id = ?", f.MeetingID)
	}
	if f.State != "" {
		q = q.Where("state = ?", string(f.State))
	}
	if f.Mode != "" {
		q = q.Where("mode = ?", string(f.Mode))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting jobs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []JobRow
	if err := q.Order("queued_at DESC").Limit(limit).Offset(f.Offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}

	jobs := make([]*schema.TranscriptionJob, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].toSchema())
	}
	return jobs, total, nil
}

// ListByStates returns every non-archived job currently in one of the given
// states, oldest first. Used on startup to re-queue work that was in flight
// when the process stopped.
func (s *JobStore) ListByStates(ctx context.Context, states ...schema.JobState) ([]*schema.TranscriptionJob, error) {
	ss := make([]string, 0, len(states))
	for _, st := range states {
		ss = append(ss, string(st))
	}
	var rows []JobRow
	if err := s.db.WithContext(ctx).Where("state IN ?", ss).Order("queued_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing jobs by state: %w", err)
	}
	jobs := make([]*schema.TranscriptionJob, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].toSchema())
	}
	return jobs, nil
}

// CountByState groups non-archived jobs by state.
func (s *JobStore) CountByState(ctx context.Context) (map[schema.JobState]int64, error) {
	type bucket struct {
		State string
		N     int64
	}
	var buckets []bucket
	err := s.db.WithContext(ctx).Model(&JobRow{}).
		Select("state, COUNT(*) AS n").Group("state").Scan(&buckets).Error
	if err != nil {
		return nil, fmt.Errorf("counting jobs by state: %w", err)
	}
	out := make(map[schema.JobState]int64, len(buckets))
	for _, b := range buckets {
		out[schema.JobState(b.State)] = b.N
	}
	return out, nil
}

// ArchiveOlderThan soft-deletes terminal jobs whose completion predates the
// cutoff. Returns the number of archived jobs.
func (s *JobStore) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("state IN ?", []string{
			string(schema.StateCompleted),
			string(schema.StateFailedPermanent),
			string(schema.StateCancelled),
		}).
		Where("completed_at IS NOT NULL AND completed_at < ?", cutoff).
		Delete(&JobRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("archiving jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
