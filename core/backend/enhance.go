package backend

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/verbatimhq/verbatim/core/schema"
)

// ShouldEnhance reports whether AI post-processing applies: the resolved
// options must enable it and the recording must be long enough to be worth a
// completion call.
func ShouldEnhance(options schema.ProcessingOptions, duration time.Duration, minSeconds int) bool {
	if !options.AIPostProcessEnabled() {
		return false
	}
	return duration >= time.Duration(minSeconds)*time.Second
}

// EnhanceTranscript polishes grammar and punctuation. Enhancement is an
// optional improvement, a provider failure keeps the transcript as-is rather
// than failing a job that already carries a usable result.
func EnhanceTranscript(ctx context.Context, enhancer Enhancer, text, language string) (string, bool) {
	if text == "" || enhancer == nil {
		return text, false
	}

	enhanced, err := enhancer.EnhanceText(ctx, text, language)
	if err != nil {
		log.Warn().Err(err).Msg("ai post-processing failed, keeping raw transcript")
		return text, false
	}
	if enhanced == "" {
		log.Warn().Msg("ai post-processing returned empty text, keeping raw transcript")
		return text, false
	}
	// A drastic length change means the model rewrote content instead of
	// fixing punctuation.
	if ratio := float64(len(enhanced)) / float64(len(text)); ratio < 0.66 || ratio > 1.5 {
		log.Warn().
			Int("original_len", len(text)).
			Int("enhanced_len", len(enhanced)).
			Msg("ai post-processing changed transcript length drastically, keeping raw transcript")
		return text, false
	}
	return enhanced, true
}
