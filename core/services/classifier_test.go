package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/verbatimhq/verbatim/core/backend"
	"github.com/verbatimhq/verbatim/core/schema"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("error classifier", func() {
	Context("Classify", func() {
		It("returns nil for a nil error", func() {
			Expect(Classify(nil)).To(BeNil())
		})

		It("normalizes the policy of a pre-tagged error and keeps its context", func() {
			cause := errors.New("short read")
			perr := Classify(fmt.Errorf("decoding: %w", &schema.PipelineError{
				Kind:  schema.ErrorFileCorrupted,
				Stage: "preprocessing",
				Err:   cause,
			}))
			Expect(perr.Kind).To(Equal(schema.ErrorFileCorrupted))
			Expect(perr.Stage).To(Equal("preprocessing"))
			Expect(perr.Retryable).To(BeFalse())
			Expect(perr.Message).ToNot(BeEmpty(), "an untagged message picks up the kind's default")
			Expect(errors.Is(perr, cause)).To(BeTrue())
		})

		It("treats cancellation as terminal", func() {
			perr := Classify(context.Canceled)
			Expect(perr.Retryable).To(BeFalse())
		})

		It("classifies a deadline as a retryable network timeout", func() {
			perr := Classify(fmt.Errorf("pass 2: %w", context.DeadlineExceeded))
			Expect(perr.Kind).To(Equal(schema.ErrorNetworkTimeout))
			Expect(perr.Retryable).To(BeTrue())
		})

		It("classifies a missing file as permanent", func() {
			perr := Classify(fmt.Errorf("open: %w", fs.ErrNotExist))
			Expect(perr.Kind).To(Equal(schema.ErrorFileNotFound))
			Expect(perr.Retryable).To(BeFalse())
		})

		It("falls back to a retryable unknown", func() {
			perr := Classify(errors.New("something odd"))
			Expect(perr.Kind).To(Equal(schema.ErrorUnknown))
			Expect(perr.Retryable).To(BeTrue())
		})

		It("classifies the same error identically every time", func() {
			err := &backend.ProviderError{StatusCode: 429, Message: "slow down", RetryAfter: 10 * time.Second}
			first := Classify(err)
			second := Classify(err)
			Expect(second.Kind).To(Equal(first.Kind))
			Expect(second.Retryable).To(Equal(first.Retryable))
			Expect(second.RetryAfter).To(Equal(first.RetryAfter))
			Expect(second.Message).To(Equal(first.Message))
		})

		Context("provider failures", func() {
			classify := func(provErr *backend.ProviderError) *schema.PipelineError {
				return Classify(fmt.Errorf("pass 1: %w", provErr))
			}

			It("maps 429 to a retryable provider rate limit", func() {
				perr := classify(&backend.ProviderError{StatusCode: 429, Message: "slow down"})
				Expect(perr.Kind).To(Equal(schema.ErrorProviderRateLimited))
				Expect(perr.Retryable).To(BeTrue())
			})

			It("maps 402 and insufficient_quota to exhausted provider quota", func() {
				perr := classify(&backend.ProviderError{StatusCode: 402, Message: "payment required"})
				Expect(perr.Kind).To(Equal(schema.ErrorProviderQuotaExhausted))
				Expect(perr.Retryable).To(BeFalse())

				perr = classify(&backend.ProviderError{StatusCode: 400, Code: "insufficient_quota", Message: "quota"})
				Expect(perr.Kind).To(Equal(schema.ErrorProviderQuotaExhausted))
			})

			It("treats rejected credentials like exhausted quota, retries cannot fix them", func() {
				perr := classify(&backend.ProviderError{StatusCode: 401, Message: "invalid api key"})
				Expect(perr.Kind).To(Equal(schema.ErrorProviderQuotaExhausted))
				Expect(perr.Retryable).To(BeFalse())
				Expect(perr.Message).To(ContainSubstring("credentials"))
			})

			It("maps 413 to an oversized upload", func() {
				perr := classify(&backend.ProviderError{StatusCode: 413, Message: "request entity too large"})
				Expect(perr.Kind).To(Equal(schema.ErrorFileTooLarge))
				Expect(perr.Retryable).To(BeFalse())
			})

			It("reads unsupported language and bad format out of 400 messages", func() {
				perr := classify(&backend.ProviderError{StatusCode: 400, Message: "language 'xx' is not supported"})
				Expect(perr.Kind).To(Equal(schema.ErrorLanguageNotSupported))

				perr = classify(&backend.ProviderError{StatusCode: 400, Message: "could not decode audio format"})
				Expect(perr.Kind).To(Equal(schema.ErrorInvalidFormat))
			})

			It("retries anything else the provider throws", func() {
				perr := classify(&backend.ProviderError{StatusCode: 500, Message: "internal"})
				Expect(perr.Kind).To(Equal(schema.ErrorUnknown))
				Expect(perr.Retryable).To(BeTrue())
			})
		})

		It("carries the provider's retry-after through classification", func() {
			perr := Classify(&backend.ProviderError{StatusCode: 429, Message: "slow down", RetryAfter: 42 * time.Second})
			Expect(perr.RetryAfter).To(Equal(42 * time.Second))
		})

		It("flags provider quota exhaustion for manual intervention", func() {
			perr := Classify(&backend.ProviderError{StatusCode: 402, Message: "payment required"})
			Expect(perr.Manual).To(BeTrue())
		})
	})

	Context("ClassifyPanic", func() {
		It("turns a panic value into a retryable worker crash", func() {
			perr := ClassifyPanic("index out of range")
			Expect(perr.Kind).To(Equal(schema.ErrorWorkerCrash))
			Expect(perr.Retryable).To(BeTrue())
			Expect(perr.Err.Error()).To(ContainSubstring("index out of range"))
		})
	})

	Context("RetryDelay", func() {
		It("is zero for terminal failures", func() {
			Expect(RetryDelay(Failure(schema.ErrorFileNotFound, ""), 1)).To(BeZero())
			Expect(RetryDelay(nil, 1)).To(BeZero())
		})

		It("honors a provider-mandated wait over the schedule", func() {
			perr := Failure(schema.ErrorProviderRateLimited, "")
			perr.RetryAfter = 90 * time.Second
			Expect(RetryDelay(perr, 3)).To(Equal(90 * time.Second))
		})

		It("uses a short fixed delay for worker crashes", func() {
			Expect(RetryDelay(Failure(schema.ErrorWorkerCrash, ""), 1)).To(Equal(5 * time.Second))
			Expect(RetryDelay(Failure(schema.ErrorWorkerCrash, ""), 3)).To(Equal(5 * time.Second))
		})

		It("doubles the delay per attempt and caps it", func() {
			perr := Failure(schema.ErrorNetworkTimeout, "")
			first := RetryDelay(perr, 1)
			second := RetryDelay(perr, 2)
			third := RetryDelay(perr, 3)
			Expect(first).To(Equal(2 * time.Second))
			Expect(second).To(Equal(4 * time.Second))
			Expect(third).To(Equal(8 * time.Second))

			Expect(RetryDelay(perr, 12)).To(Equal(2 * time.Minute))
		})
	})
})
