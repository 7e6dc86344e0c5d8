package schema

import (
	"time"
)

// TranscriptionMode selects the speed/accuracy tier of a job.
type TranscriptionMode string

const (
	ModeFast      TranscriptionMode = "fast"      // single pass, lowest latency
	ModeBalanced  TranscriptionMode = "balanced"  // up to two passes
	ModePrecision TranscriptionMode = "precision" // multi-pass, highest accuracy
)

func (m TranscriptionMode) Valid() bool {
	switch m {
	case ModeFast, ModeBalanced, ModePrecision:
		return true
	}
	return false
}

// Priority returns the scheduling priority implied by the mode. Faster modes
// carry user-facing latency expectations and are dequeued first.
func (m TranscriptionMode) Priority() JobPriority {
	switch m {
	case ModeFast:
		return PriorityHigh
	case ModePrecision:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// JobPriority orders jobs in the scheduling queue, lower values first.
type JobPriority int

const (
	PriorityHigh   JobPriority = 0
	PriorityNormal JobPriority = 1
	PriorityLow    JobPriority = 2
)

func (p JobPriority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// JobState is a node in the job lifecycle state machine.
type JobState string

const (
	StateQueued           JobState = "queued"
	StatePreprocessing    JobState = "preprocessing"
	StateTranscribing     JobState = "transcribing"
	StateEnhancing        JobState = "enhancing"
	StateAIPostProcessing JobState = "ai_post_processing"
	StateMonitoring       JobState = "monitoring"
	StateCompleted        JobState = "completed"
	StateFailedRetryable  JobState = "failed_retryable"
	StateFailedPermanent  JobState = "failed_permanent"
	StateCancelled        JobState = "cancelled"
)

// Terminal reports whether the state absorbs the job: no further transitions
// except re-queueing a retryable failure.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailedPermanent, StateCancelled:
		return true
	}
	return false
}

// CanTransitionTo is the edge table of the lifecycle state machine. Progress
// is monotonic; the only backward edge is failed_retryable back to queued.
func (s JobState) CanTransitionTo(next JobState) bool {
	if s == next {
		return false
	}
	switch s {
	case StateQueued:
		switch next {
		case StatePreprocessing, StateFailedRetryable, StateFailedPermanent, StateCancelled:
			return true
		}
	case StatePreprocessing:
		switch next {
		case StateTranscribing, StateFailedRetryable, StateFailedPermanent, StateCancelled:
			return true
		}
	case StateTranscribing:
		switch next {
		case StateEnhancing, StateFailedRetryable, StateFailedPermanent, StateCancelled:
			return true
		}
	case StateEnhancing:
		switch next {
		case StateAIPostProcessing, StateMonitoring, StateFailedRetryable, StateFailedPermanent, StateCancelled:
			return true
		}
	case StateAIPostProcessing:
		switch next {
		case StateMonitoring, StateFailedRetryable, StateFailedPermanent, StateCancelled:
			return true
		}
	case StateMonitoring:
		switch next {
		case StateCompleted, StateFailedRetryable, StateFailedPermanent, StateCancelled:
			return true
		}
	case StateFailedRetryable:
		switch next {
		case StateQueued, StateFailedPermanent, StateCancelled:
			return true
		}
	}
	return false
}

// ProcessingOptions carries the per-job pipeline switches. Nil pointer fields
// mean "use the mode profile default"; requests are merged onto the profile
// before validation, so a resolved job always has every switch set.
type ProcessingOptions struct {
	Preprocess       *bool             `json:"preprocess,omitempty" yaml:"preprocess,omitempty"`
	MultiPass        *bool             `json:"multi_pass,omitempty" yaml:"multi_pass,omitempty"`
	Vocabulary       *bool             `json:"vocabulary,omitempty" yaml:"vocabulary,omitempty"`
	AIPostProcess    *bool             `json:"ai_post_process,omitempty" yaml:"ai_post_process,omitempty"`
	MaxPasses        int               `json:"max_passes,omitempty" yaml:"max_passes,omitempty"`
	MinConfidence    float64           `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	MinAudioQuality  AudioQuality      `json:"min_audio_quality,omitempty" yaml:"min_audio_quality,omitempty"`
	SpeakerCountHint int               `json:"speaker_count_hint,omitempty" yaml:"speaker_count_hint,omitempty"`
	CustomVocabulary []string          `json:"custom_vocabulary,omitempty" yaml:"custom_vocabulary,omitempty"`
	ContextHints     []string          `json:"context_hints,omitempty" yaml:"context_hints,omitempty"`
	Temperatures     []float64         `json:"temperatures,omitempty" yaml:"temperatures,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func boolValue(p *bool) bool { return p != nil && *p }

func (o ProcessingOptions) PreprocessEnabled() bool    { return boolValue(o.Preprocess) }
func (o ProcessingOptions) MultiPassEnabled() bool     { return boolValue(o.MultiPass) }
func (o ProcessingOptions) VocabularyEnabled() bool    { return boolValue(o.Vocabulary) }
func (o ProcessingOptions) AIPostProcessEnabled() bool { return boolValue(o.AIPostProcess) }

// TranscriptionJob is the unit of work flowing through the pipeline.
type TranscriptionJob struct {
	ID             string            `json:"id"` // UUID
	MeetingID      string            `json:"meeting_id"`
	OrganizationID string            `json:"organization_id"`
	UserID         string            `json:"user_id,omitempty"`
	SourcePath     string            `json:"source_path"`
	Mode           TranscriptionMode `json:"mode"`
	Language       string            `json:"language,omitempty"`
	Priority       JobPriority       `json:"priority"`
	Options        ProcessingOptions `json:"options"`

	State       JobState       `json:"state"`
	Progress    int            `json:"progress"` // 0-100
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	Error       *PipelineError `json:"error,omitempty"`

	EstimatedMinutes float64      `json:"estimated_minutes"`
	DurationSeconds  float64      `json:"duration_seconds,omitempty"` // measured during preprocessing
	AudioQuality     AudioQuality `json:"audio_quality,omitempty"`
	ChunkCount       int          `json:"chunk_count,omitempty"` // 0 when not chunked
	PassCount        int          `json:"pass_count,omitempty"`

	Segments   []TranscriptSegment `json:"segments,omitempty"`
	Transcript string              `json:"transcript,omitempty"`
	Enhanced   bool                `json:"enhanced,omitempty"` // AI post-processing applied

	CallbackURL                string `json:"callback_url,omitempty"`
	RequiresManualIntervention bool   `json:"requires_manual_intervention,omitempty"`

	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BilledPass reports whether the job already consumed provider work. Used by
// the refund policy on cancellation.
func (j *TranscriptionJob) BilledPass() bool {
	return j.PassCount > 0
}
