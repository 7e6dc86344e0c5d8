package schema

import "time"

// SubmitJobRequest is the POST /v1/jobs payload.
type SubmitJobRequest struct {
	MeetingID        string             `json:"meeting_id" validate:"required"`
	OrganizationID   string             `json:"organization_id" validate:"required"`
	UserID           string             `json:"user_id,omitempty"`
	AudioPath        string             `json:"audio_path" validate:"required"`
	Mode             TranscriptionMode  `json:"mode,omitempty" validate:"omitempty,oneof=fast balanced precision"`
	Language         string             `json:"language,omitempty"`
	EstimatedMinutes float64            `json:"estimated_minutes,omitempty" validate:"omitempty,gt=0"`
	CallbackURL      string             `json:"callback_url,omitempty" validate:"omitempty,url"`
	Options          *ProcessingOptions `json:"options,omitempty"`
}

// SubmitJobResponse carries the accepted job together with the admission
// snapshot so callers see their remaining allowance without a second call.
type SubmitJobResponse struct {
	Job       *TranscriptionJob `json:"job"`
	Admission AdmissionDecision `json:"admission"`
}

// JobStatusResponse is the job as reported by the API. Segments are included
// only once the job completed.
type JobStatusResponse struct {
	Job *TranscriptionJob `json:"job"`
}

// JobListResponse pages through an organization's jobs.
type JobListResponse struct {
	Jobs  []*TranscriptionJob `json:"jobs"`
	Total int64               `json:"total"`
}

// UpsertVocabularyRequest creates or updates a vocabulary term.
type UpsertVocabularyRequest struct {
	Term         string   `json:"term" validate:"required"`
	Variations   []string `json:"variations,omitempty"`
	ContextHints []string `json:"context_hints,omitempty"`
	Confidence   float64  `json:"confidence,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// CorrectionRequest records a manual transcript correction.
type CorrectionRequest struct {
	JobID     string `json:"job_id,omitempty"`
	Original  string `json:"original" validate:"required"`
	Corrected string `json:"corrected" validate:"required"`
}

// SuggestionReviewRequest accepts or rejects a learned vocabulary candidate.
type SuggestionReviewRequest struct {
	Action string `json:"action" validate:"required,oneof=accept reject"`
}

// SetLimitRequest configures an organization's period allowance for one mode.
// Zero disables the mode, -1 removes the cap.
type SetLimitRequest struct {
	Mode         TranscriptionMode `json:"mode" validate:"required,oneof=fast balanced precision"`
	LimitMinutes float64           `json:"limit_minutes" validate:"gte=-1"`
}

// ErrorResponse is the uniform error body of the API.
type ErrorResponse struct {
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message"`
}

// StatsResponse summarizes recent pipeline activity for operators.
type StatsResponse struct {
	Window       time.Duration               `json:"window"`
	JobsByState  map[JobState]int64          `json:"jobs_by_state"`
	JobsByMode   map[TranscriptionMode]int64 `json:"jobs_by_mode"`
	AvgDuration  float64                     `json:"avg_duration_seconds"`
	RecentEvents []CompletionEvent           `json:"recent_events,omitempty"`
}
