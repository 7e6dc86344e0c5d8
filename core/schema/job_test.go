package schema_test

import (
	"time"

	. "github.com/verbatimhq/verbatim/core/schema"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Job lifecycle", func() {

	Context("mode to priority mapping", func() {
		It("dequeues fast jobs before balanced before precision", func() {
			Expect(ModeFast.Priority()).To(BeNumerically("<", ModeBalanced.Priority()))
			Expect(ModeBalanced.Priority()).To(BeNumerically("<", ModePrecision.Priority()))
		})

		It("rejects unknown modes", func() {
			Expect(TranscriptionMode("turbo").Valid()).To(BeFalse())
			Expect(ModeBalanced.Valid()).To(BeTrue())
		})
	})

	Context("state machine", func() {
		It("walks the happy path in order", func() {
			path := []JobState{
				StateQueued, StatePreprocessing, StateTranscribing,
				StateEnhancing, StateAIPostProcessing, StateMonitoring, StateCompleted,
			}
			for i := 0; i < len(path)-1; i++ {
				Expect(path[i].CanTransitionTo(path[i+1])).To(BeTrue(),
					"expected %s -> %s to be allowed", path[i], path[i+1])
			}
		})

		It("allows skipping ai_post_processing", func() {
			Expect(StateEnhancing.CanTransitionTo(StateMonitoring)).To(BeTrue())
		})

		It("never regresses along the happy path", func() {
			Expect(StateTranscribing.CanTransitionTo(StateQueued)).To(BeFalse())
			Expect(StateMonitoring.CanTransitionTo(StateTranscribing)).To(BeFalse())
			Expect(StateCompleted.CanTransitionTo(StateQueued)).To(BeFalse())
		})

		It("lets any active state fail or cancel", func() {
			for _, s := range []JobState{StateQueued, StatePreprocessing, StateTranscribing, StateEnhancing, StateAIPostProcessing, StateMonitoring} {
				Expect(s.CanTransitionTo(StateFailedRetryable)).To(BeTrue())
				Expect(s.CanTransitionTo(StateFailedPermanent)).To(BeTrue())
				Expect(s.CanTransitionTo(StateCancelled)).To(BeTrue())
			}
		})

		It("only re-queues from failed_retryable", func() {
			Expect(StateFailedRetryable.CanTransitionTo(StateQueued)).To(BeTrue())
			Expect(StateFailedRetryable.CanTransitionTo(StateFailedPermanent)).To(BeTrue())
			Expect(StateFailedPermanent.CanTransitionTo(StateQueued)).To(BeFalse())
			Expect(StateCancelled.CanTransitionTo(StateQueued)).To(BeFalse())
		})

		It("treats completed, failed_permanent and cancelled as terminal", func() {
			Expect(StateCompleted.Terminal()).To(BeTrue())
			Expect(StateFailedPermanent.Terminal()).To(BeTrue())
			Expect(StateCancelled.Terminal()).To(BeTrue())
			Expect(StateFailedRetryable.Terminal()).To(BeFalse())
			Expect(StateTranscribing.Terminal()).To(BeFalse())
		})
	})

	Context("audio quality ranking", func() {
		It("orders poor < fair < good < excellent", func() {
			Expect(QualityPoor.AtLeast(QualityFair)).To(BeFalse())
			Expect(QualityGood.AtLeast(QualityFair)).To(BeTrue())
			Expect(QualityExcellent.AtLeast(QualityExcellent)).To(BeTrue())
		})

		It("ranks unknown qualities below every floor", func() {
			Expect(AudioQuality("pristine").AtLeast(QualityPoor)).To(BeFalse())
		})
	})

	Context("transcription result statistics", func() {
		It("weights confidence by segment duration", func() {
			r := TranscriptionResult{Segments: []TranscriptSegment{
				{Start: 0, End: 9 * time.Second, Confidence: 1.0},
				{Start: 9 * time.Second, End: 10 * time.Second, Confidence: 0.0},
			}}
			Expect(r.AvgConfidence()).To(BeNumerically("~", 0.9, 0.001))
		})

		It("counts segments below the confidence threshold", func() {
			r := TranscriptionResult{Segments: []TranscriptSegment{
				{Confidence: 0.95}, {Confidence: 0.5}, {Confidence: 0.7}, {Confidence: 0.9},
			}}
			Expect(r.LowConfidenceRatio(0.8)).To(Equal(0.5))
		})
	})

	Context("usage counters", func() {
		It("computes remaining minutes", func() {
			c := UsageCounter{LimitMinutes: 500, ConsumedMinutes: 498}
			Expect(c.Remaining()).To(Equal(2.0))
		})

		It("treats negative limits as unlimited", func() {
			c := UsageCounter{LimitMinutes: UnlimitedMinutes, ConsumedMinutes: 10000}
			Expect(c.Remaining()).To(Equal(UnlimitedMinutes))
		})

		It("never reports negative remaining", func() {
			c := UsageCounter{LimitMinutes: 100, ConsumedMinutes: 150}
			Expect(c.Remaining()).To(Equal(0.0))
		})
	})
})
