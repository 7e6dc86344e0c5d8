package schema

import "time"

// TranscriptWord is a single recognized word with its time span.
type TranscriptWord struct {
	Text       string        `json:"text"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float64       `json:"confidence"`
}

// TranscriptSegment is a contiguous span of recognized speech.
type TranscriptSegment struct {
	Index      int              `json:"index"`
	Start      time.Duration    `json:"start"`
	End        time.Duration    `json:"end"`
	Text       string           `json:"text"`
	Speaker    string           `json:"speaker,omitempty"`
	Confidence float64          `json:"confidence"`
	Words      []TranscriptWord `json:"words,omitempty"`
}

// TranscriptionResult is the output of one transcription pass or of the
// merged pipeline.
type TranscriptionResult struct {
	Segments []TranscriptSegment `json:"segments"`
	Text     string              `json:"text"`
	Language string              `json:"language,omitempty"`
	Duration time.Duration       `json:"duration,omitempty"`
}

// AvgConfidence returns the duration-weighted mean segment confidence.
// Segments without a span fall back to equal weighting.
func (r TranscriptionResult) AvgConfidence() float64 {
	if len(r.Segments) == 0 {
		return 0
	}
	var weighted, total float64
	for _, s := range r.Segments {
		w := (s.End - s.Start).Seconds()
		if w <= 0 {
			w = 1
		}
		weighted += s.Confidence * w
		total += w
	}
	return weighted / total
}

// LowConfidenceRatio returns the fraction of segments below threshold.
func (r TranscriptionResult) LowConfidenceRatio(threshold float64) float64 {
	if len(r.Segments) == 0 {
		return 0
	}
	var low int
	for _, s := range r.Segments {
		if s.Confidence < threshold {
			low++
		}
	}
	return float64(low) / float64(len(r.Segments))
}

// AudioQuality classifies the signal condition of a recording.
type AudioQuality string

const (
	QualityPoor      AudioQuality = "poor"
	QualityFair      AudioQuality = "fair"
	QualityGood      AudioQuality = "good"
	QualityExcellent AudioQuality = "excellent"
)

// Rank orders qualities from poor (0) to excellent (3). Unknown values rank
// below poor so quality floors reject them.
func (q AudioQuality) Rank() int {
	switch q {
	case QualityPoor:
		return 0
	case QualityFair:
		return 1
	case QualityGood:
		return 2
	case QualityExcellent:
		return 3
	}
	return -1
}

// AtLeast reports whether q meets the floor quality.
func (q AudioQuality) AtLeast(floor AudioQuality) bool {
	return q.Rank() >= floor.Rank()
}

// PreprocessReport summarizes what audio preprocessing did to a recording.
type PreprocessReport struct {
	Quality         AudioQuality  `json:"quality"`
	SNRDecibels     float64       `json:"snr_decibels"`
	VoicedRatio     float64       `json:"voiced_ratio"` // share of frames with speech energy
	AppliedGain     float64       `json:"applied_gain"`
	Duration        time.Duration `json:"duration"`
	SampleRate      int           `json:"sample_rate"`
	VoicedSpans     []VoicedSpan  `json:"voiced_spans,omitempty"`
	CleanedAudioRef string        `json:"cleaned_audio_ref,omitempty"` // temp file holding processed audio
}

// VoicedSpan is a region of the recording carrying speech energy.
type VoicedSpan struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}
