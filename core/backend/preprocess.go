package backend

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/pkg/audio"
)

// PreprocessOptions tune the cleaning chain. Zero values are replaced by
// DefaultPreprocessOptions, callers normally override nothing.
type PreprocessOptions struct {
	TargetSampleRate int
	TargetDBFS       float64
	HighPassHz       float64
	LowPassHz        float64
	GateAttenuation  float64
	FrameDuration    time.Duration
	MinVoicedSpan    time.Duration
	MaxVoicedGap     time.Duration
	MinDuration      time.Duration
}

func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		TargetSampleRate: 16000,
		TargetDBFS:       -20,
		HighPassHz:       80,
		LowPassHz:        7500,
		GateAttenuation:  0.15,
		FrameDuration:    20 * time.Millisecond,
		MinVoicedSpan:    200 * time.Millisecond,
		MaxVoicedGap:     300 * time.Millisecond,
		MinDuration:      time.Second,
	}
}

// Preprocess cleans a decoded recording and classifies its quality: band-pass
// filtering, a noise gate on silent frames, loudness normalization and
// energy-based voice activity segmentation. The returned buffer is what the
// transcription passes consume.
func Preprocess(pcm audio.PCM, opts PreprocessOptions) (audio.PCM, *schema.PreprocessReport, error) {
	def := DefaultPreprocessOptions()
	if opts.TargetSampleRate == 0 {
		opts = def
	}

	if pcm.Duration() < opts.MinDuration {
		return audio.PCM{}, nil, &schema.PipelineError{
			Kind:    schema.ErrorInsufficientAudio,
			Message: "recording is too short to transcribe",
		}
	}

	if pcm.SampleRate != opts.TargetSampleRate {
		pcm = audio.PCM{
			Samples:    audio.ResampleInt16(pcm.Samples, pcm.SampleRate, opts.TargetSampleRate),
			SampleRate: opts.TargetSampleRate,
		}
	}

	samples := make([]int16, len(pcm.Samples))
	copy(samples, pcm.Samples)
	bandPass(samples, pcm.SampleRate, opts.HighPassHz, opts.LowPassHz)

	frameLen := int(float64(pcm.SampleRate) * opts.FrameDuration.Seconds())
	if frameLen <= 0 {
		frameLen = pcm.SampleRate / 50
	}
	energies := frameEnergies(samples, frameLen)
	noiseFloor, speechLevel := levelEstimates(energies)
	snr := signalToNoise(speechLevel, noiseFloor)

	gateFrames(samples, energies, frameLen, noiseFloor*1.5, opts.GateAttenuation)

	voicedFrames := markVoiced(energies, noiseFloor, speechLevel)
	spans := voicedSpans(voicedFrames, frameLen, pcm.SampleRate, opts)
	voicedRatio := spansDuration(spans).Seconds() / pcm.Duration().Seconds()

	if len(spans) == 0 {
		return audio.PCM{}, nil, &schema.PipelineError{
			Kind:    schema.ErrorInsufficientAudio,
			Message: "no speech detected in the recording",
		}
	}

	gain := normalizeLoudness(samples, spans, pcm.SampleRate, opts.TargetDBFS)

	quality := classifyQuality(snr, clippedRatio(samples))
	report := &schema.PreprocessReport{
		Quality:     quality,
		SNRDecibels: snr,
		VoicedRatio: voicedRatio,
		AppliedGain: gain,
		Duration:    pcm.Duration(),
		SampleRate:  pcm.SampleRate,
		VoicedSpans: spans,
	}

	log.Debug().
		Str("quality", string(quality)).
		Float64("snr_db", snr).
		Float64("voiced_ratio", voicedRatio).
		Float64("gain", gain).
		Msg("preprocessing finished")

	return audio.PCM{Samples: samples, SampleRate: pcm.SampleRate}, report, nil
}

// bandPass applies single-pole high-pass and low-pass filters in place,
// trimming rumble below speech and hiss above it.
func bandPass(samples []int16, sampleRate int, highPassHz, lowPassHz float64) {
	if len(samples) == 0 {
		return
	}
	dt := 1.0 / float64(sampleRate)

	// Low-pass: y[i] = y[i-1] + a*(x[i]-y[i-1])
	rcLow := 1.0 / (2 * math.Pi * lowPassHz)
	aLow := dt / (rcLow + dt)
	// High-pass: y[i] = b*(y[i-1] + x[i] - x[i-1])
	rcHigh := 1.0 / (2 * math.Pi * highPassHz)
	bHigh := rcHigh / (rcHigh + dt)

	lowPrev := float64(samples[0])
	highPrev := float64(samples[0])
	xPrev := float64(samples[0])
	for i := range samples {
		x := float64(samples[i])
		low := lowPrev + aLow*(x-lowPrev)
		lowPrev = low
		high := bHigh * (highPrev + low - xPrev)
		highPrev = high
		xPrev = low
		samples[i] = clampInt16(high)
	}
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// frameEnergies returns the normalized RMS of each frame.
func frameEnergies(samples []int16, frameLen int) []float64 {
	n := len(samples) / frameLen
	if len(samples)%frameLen != 0 {
		n++
	}
	energies := make([]float64, 0, n)
	for off := 0; off < len(samples); off += frameLen {
		end := off + frameLen
		if end > len(samples) {
			end = len(samples)
		}
		energies = append(energies, audio.RMS(samples[off:end]))
	}
	return energies
}

// levelEstimates derives the noise floor and speech level from the frame
// energy distribution (10th and 90th percentile).
func levelEstimates(energies []float64) (noise, speech float64) {
	if len(energies) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(energies))
	copy(sorted, energies)
	sort.Float64s(sorted)
	noise = sorted[len(sorted)/10]
	speech = sorted[len(sorted)*9/10]
	return noise, speech
}

func signalToNoise(speech, noise float64) float64 {
	const minLevel = 1e-6
	if speech < minLevel {
		return 0
	}
	if noise < minLevel {
		noise = minLevel
	}
	snr := 20 * math.Log10(speech/noise)
	if snr < 0 {
		snr = 0
	}
	return snr
}

func gateFrames(samples []int16, energies []float64, frameLen int, threshold, attenuation float64) {
	for f, energy := range energies {
		if energy >= threshold {
			continue
		}
		off := f * frameLen
		end := off + frameLen
		if end > len(samples) {
			end = len(samples)
		}
		for i := off; i < end; i++ {
			samples[i] = int16(float64(samples[i]) * attenuation)
		}
	}
}

// markVoiced flags frames whose energy clears the geometric midpoint between
// the noise floor and the speech level, with a two-frame hangover so word
// tails are not chopped.
func markVoiced(energies []float64, noise, speech float64) []bool {
	voiced := make([]bool, len(energies))
	const minLevel = 1e-6
	if speech < minLevel {
		return voiced
	}
	threshold := math.Sqrt(noise * speech)
	if threshold < minLevel {
		threshold = speech / 2
	}
	hangover := 0
	for i, energy := range energies {
		if energy >= threshold {
			voiced[i] = true
			hangover = 2
		} else if hangover > 0 {
			voiced[i] = true
			hangover--
		}
	}
	return voiced
}

func voicedSpans(voiced []bool, frameLen, sampleRate int, opts PreprocessOptions) []schema.VoicedSpan {
	frameDur := time.Duration(float64(frameLen) / float64(sampleRate) * float64(time.Second))

	var spans []schema.VoicedSpan
	start := -1
	for i, v := range voiced {
		switch {
		case v && start < 0:
			start = i
		case !v && start >= 0:
			spans = append(spans, schema.VoicedSpan{
				Start: time.Duration(start) * frameDur,
				End:   time.Duration(i) * frameDur,
			})
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, schema.VoicedSpan{
			Start: time.Duration(start) * frameDur,
			End:   time.Duration(len(voiced)) * frameDur,
		})
	}

	// Merge close spans, then drop blips shorter than the minimum.
	merged := make([]schema.VoicedSpan, 0, len(spans))
	for _, span := range spans {
		if n := len(merged); n > 0 && span.Start-merged[n-1].End <= opts.MaxVoicedGap {
			merged[n-1].End = span.End
			continue
		}
		merged = append(merged, span)
	}
	kept := merged[:0]
	for _, span := range merged {
		if span.End-span.Start >= opts.MinVoicedSpan {
			kept = append(kept, span)
		}
	}
	return kept
}

func spansDuration(spans []schema.VoicedSpan) time.Duration {
	var total time.Duration
	for _, span := range spans {
		total += span.End - span.Start
	}
	return total
}

// normalizeLoudness scales the whole buffer so the voiced portion sits at the
// target level. The gain is capped so no sample clips.
func normalizeLoudness(samples []int16, spans []schema.VoicedSpan, sampleRate int, targetDBFS float64) float64 {
	var sum float64
	var count int
	var peak float64
	for _, span := range spans {
		lo := int(span.Start.Seconds() * float64(sampleRate))
		hi := int(span.End.Seconds() * float64(sampleRate))
		if hi > len(samples) {
			hi = len(samples)
		}
		for i := lo; i < hi; i++ {
			v := float64(samples[i]) / math.MaxInt16
			sum += v * v
			count++
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}
	}
	if count == 0 || sum == 0 {
		return 1
	}

	rms := math.Sqrt(sum / float64(count))
	gain := audio.GainForTarget(audio.DBFS(rms), targetDBFS)
	if peak*gain > 0.999 {
		gain = 0.999 / peak
	}
	if gain != 1 {
		copy(samples, audio.ApplyGain(samples, gain))
	}
	return gain
}

func clippedRatio(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	clipped := 0
	for _, s := range samples {
		if s >= math.MaxInt16-1 || s <= math.MinInt16+1 {
			clipped++
		}
	}
	return float64(clipped) / float64(len(samples))
}

func classifyQuality(snr, clipped float64) schema.AudioQuality {
	var quality schema.AudioQuality
	switch {
	case snr >= 25:
		quality = schema.QualityExcellent
	case snr >= 15:
		quality = schema.QualityGood
	case snr >= 8:
		quality = schema.QualityFair
	default:
		quality = schema.QualityPoor
	}
	if clipped > 0.01 && quality.Rank() > schema.QualityPoor.Rank() {
		quality = demote(quality)
	}
	return quality
}

func demote(q schema.AudioQuality) schema.AudioQuality {
	switch q {
	case schema.QualityExcellent:
		return schema.QualityGood
	case schema.QualityGood:
		return schema.QualityFair
	default:
		return schema.QualityPoor
	}
}
