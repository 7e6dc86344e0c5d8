package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/verbatimhq/verbatim/core/backend"
	cliContext "github.com/verbatimhq/verbatim/core/cli/context"
	"github.com/verbatimhq/verbatim/core/config"
	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/pkg/audio"
)

type TranscribeCMD struct {
	Filename string `arg:""`

	Mode            string `short:"m" default:"balanced" enum:"fast,balanced,precision" help:"Transcription mode to run [${enum}]"`
	Language        string `short:"l" help:"Language of the audio file"`
	APIKey          string `env:"VERBATIM_PROVIDER_API_KEY,PROVIDER_API_KEY" help:"API key for the speech-to-text provider" group:"provider"`
	BaseURL         string `env:"VERBATIM_PROVIDER_BASE_URL,PROVIDER_BASE_URL" help:"Override the provider endpoint" group:"provider"`
	TranscribeModel string `env:"VERBATIM_TRANSCRIBE_MODEL,TRANSCRIBE_MODEL" default:"whisper-1" help:"Provider model used for transcription passes" group:"provider"`
	EnhanceModel    string `env:"VERBATIM_ENHANCE_MODEL,ENHANCE_MODEL" default:"gpt-4o-mini" help:"Provider model used for AI post-processing" group:"provider"`
	NoPreprocess    bool   `help:"Transcribe the raw audio without cleanup"`
	NoEnhance       bool   `help:"Skip AI post-processing even when the mode enables it"`
}

// Run executes the pipeline once, in-process, without the scheduler or the
// datastore: decode, preprocess, multi-pass transcription and optionally AI
// post-processing, printing the segments as they would be stored on a job.
func (t *TranscribeCMD) Run(ctx *cliContext.Context) error {
	mode := schema.TranscriptionMode(t.Mode)
	profiles := config.DefaultModeProfiles()
	opts, err := profiles.Resolve(mode, nil)
	if err != nil {
		return err
	}

	pcm, err := audio.DecodeWAV(t.Filename)
	if err != nil {
		if isAudio, ct := audio.IdentifyFile(t.Filename); isAudio && ct != "audio/wav" {
			return fmt.Errorf("%s input is not supported, convert %s to WAV first", ct, t.Filename)
		}
		return err
	}

	var quality schema.AudioQuality
	if !t.NoPreprocess && opts.PreprocessEnabled() {
		cleaned, report, err := backend.Preprocess(pcm, backend.PreprocessOptions{})
		if err != nil {
			return err
		}
		pcm = cleaned
		quality = report.Quality
		log.Info().
			Str("quality", string(report.Quality)).
			Float64("snr_db", report.SNRDecibels).
			Msg("audio preprocessed")
	}

	provider := backend.NewOpenAIProvider(t.APIKey, t.BaseURL, t.TranscribeModel, t.EnhanceModel)

	policy := backend.PassPolicy{
		Temperatures:  opts.Temperatures,
		MaxPasses:     opts.MaxPasses,
		MinConfidence: opts.MinConfidence,
	}
	if !opts.MultiPassEnabled() {
		policy.MaxPasses = 1
	}

	mp, err := backend.NewEngine(provider).Run(context.Background(), backend.TranscribeRequest{
		Audio:    pcm,
		Language: t.Language,
	}, policy, quality)
	if err != nil {
		return err
	}

	for _, segment := range mp.Result.Segments {
		fmt.Println(segment.Start.String(), "-", segment.Text)
	}

	if !t.NoEnhance && backend.ShouldEnhance(opts, pcm.Duration(), int(profiles[mode].EnhanceMinSeconds)) {
		language := t.Language
		if language == "" {
			language = mp.Result.Language
		}
		if enhanced, applied := backend.EnhanceTranscript(context.Background(), provider, mp.Result.Text, language); applied {
			fmt.Println()
			fmt.Println(enhanced)
		}
	}
	return nil
}
