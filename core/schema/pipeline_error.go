package schema

import (
	"fmt"
	"time"
)

// ErrorKind is the classified category of a pipeline failure. The classifier
// in core/services is the only producer; every stage failure passes through
// it before the orchestrator decides between retry and terminal failure.
type ErrorKind string

const (
	ErrorNetworkTimeout         ErrorKind = "network_timeout"
	ErrorProviderRateLimited    ErrorKind = "provider_rate_limited"
	ErrorProviderQuotaExhausted ErrorKind = "provider_quota_exhausted"
	ErrorFileNotFound           ErrorKind = "file_not_found"
	ErrorFileCorrupted          ErrorKind = "file_corrupted"
	ErrorFileTooLarge           ErrorKind = "file_too_large"
	ErrorInvalidFormat          ErrorKind = "invalid_format"
	ErrorInsufficientAudio      ErrorKind = "insufficient_audio_quality"
	ErrorLanguageNotSupported   ErrorKind = "language_not_supported"
	ErrorWorkerCrash            ErrorKind = "worker_crash"
	ErrorOrganizationLimit      ErrorKind = "org_limit_exceeded"
	ErrorSubscriptionExpired    ErrorKind = "subscription_expired"
	ErrorModeNotAvailable       ErrorKind = "mode_not_available"
	ErrorRateLimited            ErrorKind = "rate_limited"
	ErrorUnknown                ErrorKind = "unknown"
)

// PipelineError is a classified failure. Message is what the end user sees;
// Err keeps the wrapped cause for logs.
type PipelineError struct {
	Kind       ErrorKind     `json:"kind"`
	Stage      string        `json:"stage,omitempty"`
	Message    string        `json:"message"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retry_after,omitempty"` // provider-mandated wait, zero when absent
	Manual     bool          `json:"requires_manual_intervention,omitempty"`

	Err error `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// WithStage returns a copy annotated with the pipeline stage that failed.
func (e *PipelineError) WithStage(stage string) *PipelineError {
	cp := *e
	cp.Stage = stage
	return &cp
}
