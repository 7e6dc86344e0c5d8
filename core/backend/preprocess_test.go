package backend_test

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/verbatimhq/verbatim/core/backend"
	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/pkg/audio"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// synthSpeech alternates tone bursts with noise-floor gaps, a crude stand-in
// for talk with pauses. burstAmp drives the tone, noiseAmp the floor.
func synthSpeech(dur time.Duration, rate int, burstAmp, noiseAmp float64) audio.PCM {
	rng := rand.New(rand.NewSource(42))
	n := int(dur.Seconds() * float64(rate))
	samples := make([]int16, n)
	burstLen := rate / 2 // 500ms on, 500ms off
	for i := 0; i < n; i++ {
		v := (rng.Float64()*2 - 1) * noiseAmp
		if (i/burstLen)%2 == 0 {
			v += burstAmp * math.Sin(2*math.Pi*440*float64(i)/float64(rate))
		}
		samples[i] = int16(v)
	}
	return audio.PCM{Samples: samples, SampleRate: rate}
}

var _ = Describe("Preprocessing", func() {
	var opts backend.PreprocessOptions

	BeforeEach(func() {
		opts = backend.DefaultPreprocessOptions()
	})

	It("rejects recordings shorter than the minimum", func() {
		pcm := audio.PCM{Samples: make([]int16, 8000), SampleRate: 16000}

		_, _, err := backend.Preprocess(pcm, opts)

		var perr *schema.PipelineError
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(perr.Kind).To(Equal(schema.ErrorInsufficientAudio))
		Expect(perr.Retryable).To(BeFalse())
	})

	It("rejects recordings with no detectable speech", func() {
		pcm := audio.PCM{Samples: make([]int16, 3*16000), SampleRate: 16000}

		_, _, err := backend.Preprocess(pcm, opts)

		var perr *schema.PipelineError
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(perr.Kind).To(Equal(schema.ErrorInsufficientAudio))
	})

	It("finds voiced spans and classifies clean audio as excellent", func() {
		pcm := synthSpeech(4*time.Second, 16000, 2000, 60)

		cleaned, report, err := backend.Preprocess(pcm, opts)
		Expect(err).ToNot(HaveOccurred())

		Expect(report.Quality).To(Equal(schema.QualityExcellent))
		Expect(report.SNRDecibels).To(BeNumerically(">", 25))
		Expect(report.VoicedSpans).To(HaveLen(4))
		Expect(report.VoicedRatio).To(BeNumerically("~", 0.5, 0.1))
		Expect(report.SampleRate).To(Equal(16000))
		Expect(cleaned.Samples).To(HaveLen(len(pcm.Samples)))
	})

	It("amplifies quiet recordings toward the target loudness", func() {
		pcm := synthSpeech(4*time.Second, 16000, 2000, 60)

		_, report, err := backend.Preprocess(pcm, opts)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.AppliedGain).To(BeNumerically(">", 1))
	})

	It("classifies a barely audible recording as poor", func() {
		pcm := synthSpeech(4*time.Second, 16000, 2500, 1500)

		_, report, err := backend.Preprocess(pcm, opts)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Quality).To(Equal(schema.QualityPoor))
	})

	It("resamples non-16k input to the target rate", func() {
		pcm := synthSpeech(4*time.Second, 8000, 2000, 60)

		cleaned, report, err := backend.Preprocess(pcm, opts)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.SampleRate).To(Equal(16000))
		Expect(cleaned.SampleRate).To(Equal(16000))
		Expect(cleaned.Samples).To(HaveLen(len(pcm.Samples) * 2))
	})

	It("does not mutate the caller's buffer", func() {
		pcm := synthSpeech(4*time.Second, 16000, 2000, 60)
		original := make([]int16, len(pcm.Samples))
		copy(original, pcm.Samples)

		_, _, err := backend.Preprocess(pcm, opts)
		Expect(err).ToNot(HaveOccurred())
		Expect(pcm.Samples).To(Equal(original))
	})
})
