package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/verbatimhq/verbatim/core/schema"
)

// JobRow is the persisted form of a transcription job. Variable-shaped
// fields (options, segments, error) are stored as JSON columns. Archived
// jobs are soft-deleted so day-to-day queries never see them.
type JobRow struct {
	ID             string                   `gorm:"primaryKey"`
	MeetingID      string                   `gorm:"index"`
	OrganizationID string                   `gorm:"index:idx_jobs_org_state"`
	UserID         string
	SourcePath     string
	Mode           string                   `gorm:"index"`
	Language       string
	Priority       int
	Options        schema.ProcessingOptions `gorm:"serializer:json"`

	State       string                `gorm:"index:idx_jobs_org_state"`
	Progress    int
	Attempts    int
	MaxAttempts int
	Error       *schema.PipelineError `gorm:"serializer:json"`

	EstimatedMinutes float64
	DurationSeconds  float64
	AudioQuality     string
	ChunkCount       int
	PassCount        int

	Segments   []schema.TranscriptSegment `gorm:"serializer:json"`
	Transcript string
	Enhanced   bool

	CallbackURL                string
	RequiresManualIntervention bool

	QueuedAt    time.Time `gorm:"index"`
	StartedAt   *time.Time
	CompletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (JobRow) TableName() string { return "transcription_jobs" }

func jobRowFromSchema(j *schema.TranscriptionJob) *JobRow {
	return &JobRow{
		ID:                         j.ID,
		MeetingID:                  j.MeetingID,
		OrganizationID:             j.OrganizationID,
		UserID:                     j.UserID,
		SourcePath:                 j.SourcePath,
		Mode:                       string(j.Mode),
		Language:                   j.Language,
		Priority:                   int(j.Priority),
		Options:                    j.Options,
		State:                      string(j.State),
		Progress:                   j.Progress,
		Attempts:                   j.Attempts,
		MaxAttempts:                j.MaxAttempts,
		Error:                      j.Error,
		EstimatedMinutes:           j.EstimatedMinutes,
		DurationSeconds:            j.DurationSeconds,
		AudioQuality:               string(j.AudioQuality),
		ChunkCount:                 j.ChunkCount,
		PassCount:                  j.PassCount,
		Segments:                   j.Segments,
		Transcript:                 j.Transcript,
		Enhanced:                   j.Enhanced,
		CallbackURL:                j.CallbackURL,
		RequiresManualIntervention: j.RequiresManualIntervention,
		QueuedAt:                   j.QueuedAt,
		StartedAt:                  j.StartedAt,
		CompletedAt:                j.CompletedAt,
	}
}

func (r *JobRow) toSchema() *schema.TranscriptionJob {
	return &schema.TranscriptionJob{
		ID:                         r.ID,
		MeetingID:                  r.MeetingID,
		OrganizationID:             r.OrganizationID,
		UserID:                     r.UserID,
		SourcePath:                 r.SourcePath,
		Mode:                       schema.TranscriptionMode(r.Mode),
		Language:                   r.Language,
		Priority:                   schema.JobPriority(r.Priority),
		Options:                    r.Options,
		State:                      schema.JobState(r.State),
		Progress:                   r.Progress,
		Attempts:                   r.Attempts,
		MaxAttempts:                r.MaxAttempts,
		Error:                      r.Error,
		EstimatedMinutes:           r.EstimatedMinutes,
		DurationSeconds:            r.DurationSeconds,
		AudioQuality:               schema.AudioQuality(r.AudioQuality),
		ChunkCount:                 r.ChunkCount,
		PassCount:                  r.PassCount,
		Segments:                   r.Segments,
		Transcript:                 r.Transcript,
		Enhanced:                   r.Enhanced,
		CallbackURL:                r.CallbackURL,
		RequiresManualIntervention: r.RequiresManualIntervention,
		QueuedAt:                   r.QueuedAt,
		StartedAt:                  r.StartedAt,
		CompletedAt:                r.CompletedAt,
	}
}

// UsageCounterRow accumulates consumed minutes per organization, mode and
// monthly period. The composite key makes the conditional reserve a single
// row update.
type UsageCounterRow struct {
	OrganizationID  string    `gorm:"primaryKey"`
	Mode            string    `gorm:"primaryKey"`
	PeriodStart     time.Time `gorm:"primaryKey"`
	ConsumedMinutes float64
	RequestCount    int64
	LimitMinutes    float64
	UpdatedAt       time.Time
}

func (UsageCounterRow) TableName() string { return "usage_counters" }

func (r *UsageCounterRow) toSchema() schema.UsageCounter {
	return schema.UsageCounter{
		OrganizationID:  r.OrganizationID,
		Mode:            schema.TranscriptionMode(r.Mode),
		PeriodStart:     r.PeriodStart,
		ConsumedMinutes: r.ConsumedMinutes,
		RequestCount:    r.RequestCount,
		LimitMinutes:    r.LimitMinutes,
	}
}

// OrganizationLimitRow is the configured monthly allowance copied onto new
// period counters. A missing row means unlimited.
type OrganizationLimitRow struct {
	OrganizationID string    `gorm:"primaryKey"`
	Mode           string    `gorm:"primaryKey"`
	LimitMinutes   float64
	UpdatedAt      time.Time
}

func (OrganizationLimitRow) TableName() string { return "organization_limits" }

// VocabularyTermRow keeps terms soft-deleted through the Active flag rather
// than row deletion, so correction history stays attributable.
type VocabularyTermRow struct {
	ID             string    `gorm:"primaryKey"`
	OrganizationID string    `gorm:"index:idx_vocab_org_term,unique"`
	Term           string    `gorm:"index:idx_vocab_org_term,unique"`
	Variations     []string  `gorm:"serializer:json"`
	Phonetic       string
	ContextHints   []string  `gorm:"serializer:json"`
	UsageCount     int64
	Confidence     float64
	Active         bool      `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (VocabularyTermRow) TableName() string { return "vocabulary_terms" }

func termRowFromSchema(t *schema.VocabularyTerm) *VocabularyTermRow {
	return &VocabularyTermRow{
		ID:             t.ID,
		OrganizationID: t.OrganizationID,
		Term:           t.Term,
		Variations:     t.Variations,
		Phonetic:       t.Phonetic,
		ContextHints:   t.ContextHints,
		UsageCount:     t.UsageCount,
		Confidence:     t.Confidence,
		Active:         t.Active,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func (r *VocabularyTermRow) toSchema() *schema.VocabularyTerm {
	return &schema.VocabularyTerm{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Term:           r.Term,
		Variations:     r.Variations,
		Phonetic:       r.Phonetic,
		ContextHints:   r.ContextHints,
		UsageCount:     r.UsageCount,
		Confidence:     r.Confidence,
		Active:         r.Active,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// CorrectionRow is append-only.
type CorrectionRow struct {
	ID             string    `gorm:"primaryKey"`
	OrganizationID string    `gorm:"index"`
	JobID          string    `gorm:"index"`
	Original       string
	Corrected      string
	Applied        bool      `gorm:"index"`
	CreatedAt      time.Time
}

func (CorrectionRow) TableName() string { return "correction_records" }

func (r *CorrectionRow) toSchema() *schema.CorrectionRecord {
	return &schema.CorrectionRecord{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		JobID:          r.JobID,
		Original:       r.Original,
		Corrected:      r.Corrected,
		Applied:        r.Applied,
		CreatedAt:      r.CreatedAt,
	}
}

// SuggestionRow counts recurring corrected phrases per organization.
type SuggestionRow struct {
	ID             string    `gorm:"primaryKey"`
	OrganizationID string    `gorm:"index:idx_suggestion_org_term,unique"`
	Term           string    `gorm:"index:idx_suggestion_org_term,unique"`
	Occurrences    int
	FirstSeen      time.Time
	LastSeen       time.Time
	Status         string    `gorm:"index"`
}

func (SuggestionRow) TableName() string { return "vocabulary_suggestions" }

func (r *SuggestionRow) toSchema() *schema.VocabularySuggestion {
	return &schema.VocabularySuggestion{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Term:           r.Term,
		Occurrences:    r.Occurrences,
		FirstSeen:      r.FirstSeen,
		LastSeen:       r.LastSeen,
		Status:         schema.SuggestionStatus(r.Status),
	}
}

// AccuracyMetricRow is append-only, one per completed job.
type AccuracyMetricRow struct {
	ID                 string    `gorm:"primaryKey"`
	JobID              string    `gorm:"index"`
	OrganizationID     string    `gorm:"index:idx_accuracy_org_created"`
	Mode               string
	WordErrorProxy     float64
	CharErrorProxy     float64
	AvgConfidence      float64
	LowConfidenceRatio float64
	AudioQuality       string
	ExceedsBound       bool
	PassCount          int
	CorrectionCount    int
	ProcessingSeconds  float64
	CreatedAt          time.Time `gorm:"index:idx_accuracy_org_created"`
}

func (AccuracyMetricRow) TableName() string { return "accuracy_metrics" }

func metricRowFromSchema(m *schema.AccuracyMetric) *AccuracyMetricRow {
	return &AccuracyMetricRow{
		ID:                 m.ID,
		JobID:              m.JobID,
		OrganizationID:     m.OrganizationID,
		Mode:               string(m.Mode),
		WordErrorProxy:     m.WordErrorProxy,
		CharErrorProxy:     m.CharErrorProxy,
		AvgConfidence:      m.AvgConfidence,
		LowConfidenceRatio: m.LowConfidenceRatio,
		AudioQuality:       string(m.AudioQuality),
		ExceedsBound:       m.ExceedsBound,
		PassCount:          m.PassCount,
		CorrectionCount:    m.CorrectionCount,
		ProcessingSeconds:  m.ProcessingSeconds,
		CreatedAt:          m.CreatedAt,
	}
}

func (r *AccuracyMetricRow) toSchema() *schema.AccuracyMetric {
	return &schema.AccuracyMetric{
		ID:                 r.ID,
		JobID:              r.JobID,
		OrganizationID:     r.OrganizationID,
		Mode:               schema.TranscriptionMode(r.Mode),
		WordErrorProxy:     r.WordErrorProxy,
		CharErrorProxy:     r.CharErrorProxy,
		AvgConfidence:      r.AvgConfidence,
		LowConfidenceRatio: r.LowConfidenceRatio,
		AudioQuality:       schema.AudioQuality(r.AudioQuality),
		ExceedsBound:       r.ExceedsBound,
		PassCount:          r.PassCount,
		CorrectionCount:    r.CorrectionCount,
		ProcessingSeconds:  r.ProcessingSeconds,
		CreatedAt:          r.CreatedAt,
	}
}

// AccuracyReportRow stores the periodic aggregation.
type AccuracyReportRow struct {
	ID             string                                           `gorm:"primaryKey"`
	OrganizationID string                                           `gorm:"index:idx_report_unique,unique"`
	Period         string                                           `gorm:"index:idx_report_unique,unique"`
	PeriodStart    time.Time                                        `gorm:"index:idx_report_unique,unique"`
	SampleCount    int
	Modes          map[schema.TranscriptionMode]schema.ModeAccuracy `gorm:"serializer:json"`
	Recommendation string
	CreatedAt      time.Time
}

func (AccuracyReportRow) TableName() string { return "accuracy_reports" }

func (r *AccuracyReportRow) toSchema() *schema.AccuracyReport {
	return &schema.AccuracyReport{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Period:         schema.ReportPeriod(r.Period),
		PeriodStart:    r.PeriodStart,
		SampleCount:    r.SampleCount,
		Modes:          r.Modes,
		Recommendation: r.Recommendation,
		CreatedAt:      r.CreatedAt,
	}
}
