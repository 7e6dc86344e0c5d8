package schema

import "time"

// UnlimitedMinutes marks a counter without a period cap.
const UnlimitedMinutes float64 = -1

// UsageCounter tracks consumed transcription minutes for one organization,
// mode and billing period. It is mutated only through the usage store's
// conditional reserve, never read-modify-written by callers.
type UsageCounter struct {
	OrganizationID  string            `json:"organization_id"`
	Mode            TranscriptionMode `json:"mode"`
	PeriodStart     time.Time         `json:"period_start"` // first day of the month, UTC
	ConsumedMinutes float64           `json:"consumed_minutes"`
	RequestCount    int64             `json:"request_count"`
	LimitMinutes    float64           `json:"limit_minutes"` // -1 means unlimited
}

// Remaining returns the minutes left in the period, or UnlimitedMinutes.
func (c UsageCounter) Remaining() float64 {
	if c.LimitMinutes < 0 {
		return UnlimitedMinutes
	}
	r := c.LimitMinutes - c.ConsumedMinutes
	if r < 0 {
		return 0
	}
	return r
}

// AdmissionRequest asks the gate whether a transcription may start.
type AdmissionRequest struct {
	OrganizationID   string            `json:"organization_id" validate:"required"`
	UserID           string            `json:"user_id,omitempty"`
	Mode             TranscriptionMode `json:"mode" validate:"required,oneof=fast balanced precision"`
	EstimatedMinutes float64           `json:"estimated_minutes" validate:"omitempty,gt=0"`
}

// AdmissionDecision is the gate's answer. A denial is not an error: it
// carries everything a client needs to render the situation.
type AdmissionDecision struct {
	Allowed           bool      `json:"allowed"`
	Reason            ErrorKind `json:"reason,omitempty"` // set when denied
	Message           string    `json:"message,omitempty"`
	LimitMinutes      float64   `json:"limit_minutes"`
	UsedMinutes       float64   `json:"used_minutes"`
	RemainingMinutes  float64   `json:"remaining_minutes"`
	ResetAt           time.Time `json:"reset_at,omitempty"` // next period start
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
}
