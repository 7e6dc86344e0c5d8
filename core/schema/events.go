package schema

import "time"

// CompletionEvent is published on the broker when a job reaches a terminal
// state. Seq is assigned by the broker and strictly increases, so consumers
// can detect gaps after reconnecting.
type CompletionEvent struct {
	Seq            int64          `json:"seq"`
	JobID          string         `json:"job_id"`
	MeetingID      string         `json:"meeting_id"`
	OrganizationID string         `json:"organization_id"`
	State          JobState       `json:"state"`
	Transcript     string         `json:"transcript,omitempty"`
	Error          *PipelineError `json:"error,omitempty"`
	Attempts       int            `json:"attempts"`
	EmittedAt      time.Time      `json:"emitted_at"`
}
