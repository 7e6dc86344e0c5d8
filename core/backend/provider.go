package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/pkg/audio"
)

// TranscribeRequest is one provider pass over a single audio buffer.
type TranscribeRequest struct {
	Audio       audio.PCM
	Language    string
	Prompt      string
	Temperature float64
}

// PassResult is the outcome of one transcription pass.
type PassResult struct {
	Temperature float64
	Result      schema.TranscriptionResult
}

// Transcriber runs a single speech-to-text pass. Implementations must be safe
// for concurrent use, the engine fans passes and chunks out in parallel.
type Transcriber interface {
	TranscribePass(ctx context.Context, req TranscribeRequest) (*PassResult, error)
}

// Enhancer rewrites a finished transcript for grammar, punctuation and
// capitalization without touching its content.
type Enhancer interface {
	EnhanceText(ctx context.Context, text string, language string) (string, error)
}

// ProviderError carries enough of the upstream failure for the error
// classifier to pick a retry policy without inspecting provider SDK types.
type ProviderError struct {
	StatusCode int
	Code       string
	Type       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider: %s", e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
