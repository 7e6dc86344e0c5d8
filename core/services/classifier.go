package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/verbatimhq/verbatim/core/backend"
	"github.com/verbatimhq/verbatim/core/schema"
)

// kindPolicy fixes retry and escalation behavior per error kind. Stages never
// decide retries themselves, the orchestrator consults Classify and this table
// only.
type kindPolicy struct {
	retryable bool
	manual    bool
	message   string
}

var kindPolicies = map[schema.ErrorKind]kindPolicy{
	schema.ErrorNetworkTimeout:         {retryable: true, message: "the transcription provider did not respond in time; the job will be retried"},
	schema.ErrorProviderRateLimited:    {retryable: true, message: "the transcription provider is rate limiting requests; the job will be retried shortly"},
	schema.ErrorProviderQuotaExhausted: {manual: true, message: "the transcription provider account is out of credit; contact your administrator"},
	schema.ErrorFileNotFound:           {message: "the audio file could not be found; upload it again"},
	schema.ErrorFileCorrupted:          {message: "the audio file is corrupted or truncated and cannot be decoded"},
	schema.ErrorFileTooLarge:           {message: "the audio file exceeds the upload size limit"},
	schema.ErrorInvalidFormat:          {message: "the audio format is not supported"},
	schema.ErrorInsufficientAudio:      {message: "the recording quality is too low to transcribe reliably"},
	schema.ErrorLanguageNotSupported:   {message: "the requested language is not supported"},
	schema.ErrorWorkerCrash:            {retryable: true, message: "an internal worker crashed while processing the job; it will be retried"},
	schema.ErrorOrganizationLimit:      {message: "the organization's transcription minutes for this period are exhausted"},
	schema.ErrorSubscriptionExpired:    {manual: true, message: "the organization's subscription has expired"},
	schema.ErrorModeNotAvailable:       {message: "the requested transcription mode is not available on the current plan"},
	schema.ErrorRateLimited:            {retryable: true, message: "too many requests; slow down and try again"},
	schema.ErrorUnknown:                {retryable: true, message: "an unexpected error occurred; the job will be retried"},
}

// Failure builds a classified error of a known kind with the standard policy
// applied. An empty message keeps the kind's default.
func Failure(kind schema.ErrorKind, message string) *schema.PipelineError {
	policy, ok := kindPolicies[kind]
	if !ok {
		policy = kindPolicies[schema.ErrorUnknown]
		kind = schema.ErrorUnknown
	}
	if message == "" {
		message = policy.message
	}
	return &schema.PipelineError{
		Kind:      kind,
		Message:   message,
		Retryable: policy.retryable,
		Manual:    policy.manual,
	}
}

// Classify maps an arbitrary stage error onto the error taxonomy. It is a
// pure function: identical inputs classify identically. Stages may pre-tag a
// kind by returning a *schema.PipelineError, classification then only
// normalizes the retry policy for that kind.
func Classify(err error) *schema.PipelineError {
	if err == nil {
		return nil
	}

	var perr *schema.PipelineError
	if errors.As(err, &perr) {
		normalized := Failure(perr.Kind, perr.Message)
		normalized.Stage = perr.Stage
		normalized.RetryAfter = perr.RetryAfter
		normalized.Err = perr.Err
		return normalized
	}

	if classified := classifyProvider(err); classified != nil {
		return classified
	}

	if errors.Is(err, context.Canceled) {
		out := Failure(schema.ErrorUnknown, "processing was cancelled")
		out.Retryable = false
		out.Err = err
		return out
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failureWithCause(schema.ErrorNetworkTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return failureWithCause(schema.ErrorNetworkTimeout, err)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return failureWithCause(schema.ErrorFileNotFound, err)
	}

	return failureWithCause(schema.ErrorUnknown, err)
}

func classifyProvider(err error) *schema.PipelineError {
	var provErr *backend.ProviderError
	if !errors.As(err, &provErr) {
		return nil
	}

	msg := strings.ToLower(provErr.Message)
	switch {
	case provErr.StatusCode == 429:
		out := failureWithCause(schema.ErrorProviderRateLimited, err)
		out.RetryAfter = provErr.RetryAfter
		return out
	case provErr.StatusCode == 402 || strings.Contains(provErr.Code, "insufficient_quota"):
		return failureWithCause(schema.ErrorProviderQuotaExhausted, err)
	case provErr.StatusCode == 401 || provErr.StatusCode == 403:
		out := Failure(schema.ErrorProviderQuotaExhausted, "the transcription provider rejected the configured credentials")
		out.Err = err
		return out
	case provErr.StatusCode == 413:
		return failureWithCause(schema.ErrorFileTooLarge, err)
	case provErr.StatusCode == 400 && strings.Contains(msg, "language"):
		return failureWithCause(schema.ErrorLanguageNotSupported, err)
	case provErr.StatusCode == 400 && (strings.Contains(msg, "format") || strings.Contains(msg, "decode") || strings.Contains(msg, "corrupt") || strings.Contains(msg, "audio file")):
		return failureWithCause(schema.ErrorInvalidFormat, err)
	default:
		return failureWithCause(schema.ErrorUnknown, err)
	}
}

func failureWithCause(kind schema.ErrorKind, err error) *schema.PipelineError {
	out := Failure(kind, "")
	out.Err = err
	return out
}

// ClassifyPanic turns a recovered panic value into a worker crash error.
func ClassifyPanic(v interface{}) *schema.PipelineError {
	out := Failure(schema.ErrorWorkerCrash, "")
	out.Err = fmt.Errorf("panic: %v", v)
	return out
}

const (
	retryInitialInterval = 2 * time.Second
	retryMaxInterval     = 2 * time.Minute
	crashRetryDelay      = 5 * time.Second
)

// RetryDelay computes the wait before re-queueing a retryable failure.
// Provider-mandated waits win; worker crashes use a fixed short delay; the
// rest follow an exponential schedule by attempt number.
func RetryDelay(perr *schema.PipelineError, attempt int) time.Duration {
	if perr == nil || !perr.Retryable {
		return 0
	}
	if perr.RetryAfter > 0 {
		return perr.RetryAfter
	}
	if perr.Kind == schema.ErrorWorkerCrash {
		return crashRetryDelay
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	delay := policy.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = policy.NextBackOff()
	}
	return delay
}
