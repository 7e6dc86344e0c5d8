package backend

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Provider response mapping", func() {
	It("converts verbose segments with a confidence proxy", func() {
		raw := `{
			"task": "transcribe",
			"language": "en",
			"duration": 10,
			"text": " hello world ",
			"segments": [
				{"id": 0, "start": 0, "end": 5, "text": " hello world ", "avg_logprob": 0, "no_speech_prob": 0.1}
			],
			"words": [
				{"word": "hello", "start": 0.5, "end": 1.0}
			]
		}`
		var resp openai.AudioResponse
		Expect(json.Unmarshal([]byte(raw), &resp)).To(Succeed())

		result := audioResponseToResult(resp)
		Expect(result.Text).To(Equal("hello world"))
		Expect(result.Language).To(Equal("en"))
		Expect(result.Duration).To(Equal(10 * time.Second))
		Expect(result.Segments).To(HaveLen(1))
		Expect(result.Segments[0].Text).To(Equal("hello world"))
		Expect(result.Segments[0].Confidence).To(BeNumerically("~", 0.9, 0.001))
		Expect(result.Segments[0].Words).To(HaveLen(1))
		Expect(result.Segments[0].Words[0].Word).To(Equal("hello"))
	})

	It("parses the suggested wait from rate limit messages", func() {
		Expect(retryAfterFromMessage("Rate limit reached. Please try again in 20s.")).To(Equal(20 * time.Second))
		Expect(retryAfterFromMessage("Please try again in 350 ms")).To(Equal(350 * time.Millisecond))
		Expect(retryAfterFromMessage("please try again in 1.5m")).To(Equal(90 * time.Second))
		Expect(retryAfterFromMessage("no hint here")).To(BeZero())
	})

	It("wraps API errors with their status for the classifier", func() {
		err := wrapProviderErr(&openai.APIError{
			HTTPStatusCode: 429,
			Code:           "rate_limit_exceeded",
			Message:        "Rate limit reached. Please try again in 2s.",
		})

		var perr *ProviderError
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(perr.StatusCode).To(Equal(429))
		Expect(perr.Code).To(Equal("rate_limit_exceeded"))
		Expect(perr.RetryAfter).To(Equal(2 * time.Second))
	})

	It("passes transport errors through untouched", func() {
		cause := errors.New("dial tcp: connection refused")
		Expect(wrapProviderErr(cause)).To(MatchError(cause))
	})
})
