package schema

import "time"

// AccuracyMetric is the per-job accuracy estimate recorded after completion.
// Without ground-truth transcripts the error rates are proxies derived from
// inter-pass disagreement, confidence distribution and correction density.
type AccuracyMetric struct {
	ID                 string            `json:"id"` // UUID
	JobID              string            `json:"job_id"`
	OrganizationID     string            `json:"organization_id"`
	Mode               TranscriptionMode `json:"mode"`
	WordErrorProxy     float64           `json:"word_error_proxy"` // 0..1, lower is better
	CharErrorProxy     float64           `json:"char_error_proxy"`
	AvgConfidence      float64           `json:"avg_confidence"`
	LowConfidenceRatio float64           `json:"low_confidence_ratio"`
	AudioQuality       AudioQuality      `json:"audio_quality"`
	ExceedsBound       bool              `json:"exceeds_bound,omitempty"` // above the max error for its quality class
	PassCount          int               `json:"pass_count"`
	CorrectionCount    int               `json:"correction_count"`
	ProcessingSeconds  float64           `json:"processing_seconds"`
	CreatedAt          time.Time         `json:"created_at"`
}

// ReportPeriod is the aggregation window of an accuracy report.
type ReportPeriod string

const (
	PeriodWeekly  ReportPeriod = "weekly"
	PeriodMonthly ReportPeriod = "monthly"
)

// ModeAccuracy aggregates metrics for one transcription mode.
type ModeAccuracy struct {
	SampleCount      int                  `json:"sample_count"`
	AvgWordError     float64              `json:"avg_word_error"`
	AvgConfidence    float64              `json:"avg_confidence"`
	QualityBreakdown map[AudioQuality]int `json:"quality_breakdown,omitempty"`
}

// AccuracyReport is the periodic per-organization aggregation, produced only
// once enough samples accumulated to be statistically meaningful.
type AccuracyReport struct {
	ID             string                             `json:"id"` // UUID
	OrganizationID string                             `json:"organization_id"`
	Period         ReportPeriod                       `json:"period"`
	PeriodStart    time.Time                          `json:"period_start"`
	SampleCount    int                                `json:"sample_count"`
	Modes          map[TranscriptionMode]ModeAccuracy `json:"modes"`
	Recommendation string                             `json:"recommendation,omitempty"`
	CreatedAt      time.Time                          `json:"created_at"`
}
