package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/pkg/audio"
)

const enhanceSystemPrompt = `You fix grammar, punctuation and capitalization in speech-to-text transcripts.
Rules:
- Never add, remove or reorder information.
- Never translate or paraphrase.
- Keep proper nouns, product names and technical terms exactly as written.
- Return only the corrected transcript, no commentary.`

// OpenAIProvider implements Transcriber and Enhancer on the OpenAI-compatible
// audio and chat completion APIs.
type OpenAIProvider struct {
	client          *openai.Client
	transcribeModel string
	enhanceModel    string
}

func NewOpenAIProvider(apiKey, baseURL, transcribeModel, enhanceModel string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:          openai.NewClientWithConfig(cfg),
		transcribeModel: transcribeModel,
		enhanceModel:    enhanceModel,
	}
}

func (p *OpenAIProvider) TranscribePass(ctx context.Context, req TranscribeRequest) (*PassResult, error) {
	if len(req.Audio.Samples) == 0 {
		return nil, &ProviderError{Message: "empty audio buffer"}
	}
	var buf bytes.Buffer
	if err := audio.WriteWAV(&buf, req.Audio); err != nil {
		return nil, fmt.Errorf("encoding pass audio: %w", err)
	}

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       p.transcribeModel,
		FilePath:    "audio.wav",
		Reader:      &buf,
		Language:    req.Language,
		Prompt:      req.Prompt,
		Temperature: float32(req.Temperature),
		Format:      openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, wrapProviderErr(err)
	}

	result := audioResponseToResult(resp)
	log.Debug().
		Float64("temperature", req.Temperature).
		Int("segments", len(result.Segments)).
		Float64("avg_confidence", result.AvgConfidence()).
		Msg("transcription pass finished")

	return &PassResult{Temperature: req.Temperature, Result: result}, nil
}

func (p *OpenAIProvider) EnhanceText(ctx context.Context, text string, language string) (string, error) {
	user := text
	if language != "" {
		user = fmt.Sprintf("Transcript language: %s\n\n%s", language, text)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.enhanceModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: enhanceSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", wrapProviderErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Message: "chat completion returned no choices"}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// audioResponseToResult converts a verbose transcription response. Whisper
// reports per-segment avg_logprob and no_speech_prob rather than a
// confidence, exp(avg_logprob) scaled by speech likelihood is the usual proxy.
func audioResponseToResult(resp openai.AudioResponse) schema.TranscriptionResult {
	result := schema.TranscriptionResult{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: secondsToDuration(resp.Duration),
	}

	for i, seg := range resp.Segments {
		confidence := math.Exp(seg.AvgLogprob) * (1 - seg.NoSpeechProb)
		if confidence > 1 {
			confidence = 1
		}
		if confidence < 0 {
			confidence = 0
		}
		result.Segments = append(result.Segments, schema.TranscriptSegment{
			Index:      i,
			Start:      secondsToDuration(seg.Start),
			End:        secondsToDuration(seg.End),
			Text:       strings.TrimSpace(seg.Text),
			Confidence: confidence,
		})
	}

	for _, word := range resp.Words {
		mid := (word.Start + word.End) / 2
		for i := range result.Segments {
			if secondsToDuration(mid) >= result.Segments[i].Start && secondsToDuration(mid) < result.Segments[i].End {
				result.Segments[i].Words = append(result.Segments[i].Words, schema.TranscriptWord{
					Word:  strings.TrimSpace(word.Word),
					Start: secondsToDuration(word.Start),
					End:   secondsToDuration(word.End),
				})
				break
			}
		}
	}

	return result
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var retryAfterRe = regexp.MustCompile(`(?i)try again in ([0-9.]+)\s*(ms|s|m)`)

// retryAfterFromMessage pulls the suggested wait out of rate limit messages
// ("Please try again in 20s"), the API does not expose the header itself.
func retryAfterFromMessage(msg string) time.Duration {
	m := retryAfterRe.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch m[2] {
	case "ms":
		return time.Duration(v * float64(time.Millisecond))
	case "m":
		return time.Duration(v * float64(time.Minute))
	default:
		return time.Duration(v * float64(time.Second))
	}
}

func wrapProviderErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			StatusCode: apiErr.HTTPStatusCode,
			Code:       fmt.Sprint(apiErr.Code),
			Type:       apiErr.Type,
			Message:    apiErr.Message,
			RetryAfter: retryAfterFromMessage(apiErr.Message),
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Err:        err,
		}
	}
	// Transport-level failures (timeouts, refused connections) stay as-is so
	// the classifier can inspect net error semantics.
	return err
}
