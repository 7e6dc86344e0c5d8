package config

import (
	"fmt"
	"os"
	"slices"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/verbatimhq/verbatim/core/schema"
)

// ModeProfile is the full processing recipe of one transcription mode.
// Request options are merged on top of the profile at submission, so the
// profile doubles as the default and the ceiling for per-job overrides.
type ModeProfile struct {
	Description       string                   `yaml:"description,omitempty"`
	EnhanceMinSeconds float64                  `yaml:"enhance_min_seconds,omitempty"`
	Options           schema.ProcessingOptions `yaml:"options"`
}

type ModeProfiles map[schema.TranscriptionMode]ModeProfile

func boolPtr(b bool) *bool { return &b }

// DefaultModeProfiles returns the built-in fast/balanced/precision recipes.
func DefaultModeProfiles() ModeProfiles {
	return ModeProfiles{
		schema.ModeFast: {
			Description: "single deterministic pass, lowest latency",
			Options: schema.ProcessingOptions{
				Preprocess:      boolPtr(true),
				MultiPass:       boolPtr(false),
				Vocabulary:      boolPtr(true),
				AIPostProcess:   boolPtr(false),
				MaxPasses:       1,
				MinConfidence:   0.6,
				MinAudioQuality: schema.QualityPoor,
				Temperatures:    []float64{0},
			},
		},
		schema.ModeBalanced: {
			Description:       "up to two passes, enhancement for longer recordings",
			EnhanceMinSeconds: 30,
			Options: schema.ProcessingOptions{
				Preprocess:      boolPtr(true),
				MultiPass:       boolPtr(true),
				Vocabulary:      boolPtr(true),
				AIPostProcess:   boolPtr(true),
				MaxPasses:       2,
				MinConfidence:   0.75,
				MinAudioQuality: schema.QualityPoor,
				Temperatures:    []float64{0, 0.2},
			},
		},
		schema.ModePrecision: {
			Description: "multi-pass with consensus merging, highest accuracy",
			Options: schema.ProcessingOptions{
				Preprocess:      boolPtr(true),
				MultiPass:       boolPtr(true),
				Vocabulary:      boolPtr(true),
				AIPostProcess:   boolPtr(true),
				MaxPasses:       4,
				MinConfidence:   0.85,
				MinAudioQuality: schema.QualityFair,
				Temperatures:    []float64{0, 0.2, 0.4, 0.6},
			},
		},
	}
}

// LoadModeProfiles reads profile overrides from a YAML file and fills every
// gap from the built-in defaults. An empty path returns the defaults.
func LoadModeProfiles(path string) (ModeProfiles, error) {
	profiles := DefaultModeProfiles()
	if path == "" {
		return profiles, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mode profiles %s: %w", path, err)
	}
	if err := profiles.MergeYAML(data); err != nil {
		return nil, fmt.Errorf("parsing mode profiles %s: %w", path, err)
	}
	return profiles, nil
}

// MergeYAML applies partial profile definitions on top of p.
func (p ModeProfiles) MergeYAML(data []byte) error {
	var loaded map[schema.TranscriptionMode]ModeProfile
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return err
	}
	for mode, override := range loaded {
		if !mode.Valid() {
			return fmt.Errorf("unknown transcription mode %q", mode)
		}
		merged := p[mode]
		if err := mergo.Merge(&merged, override, mergo.WithOverride, mergo.WithoutDereference); err != nil {
			return fmt.Errorf("merging profile for mode %q: %w", mode, err)
		}
		p[mode] = merged
	}
	return nil
}

// Resolve merges per-request overrides onto the mode profile and returns the
// fully populated options a job runs with. The profile's MaxPasses acts as a
// ceiling: requests can lower it but never raise it.
func (p ModeProfiles) Resolve(mode schema.TranscriptionMode, overrides *schema.ProcessingOptions) (schema.ProcessingOptions, error) {
	profile, ok := p[mode]
	if !ok {
		return schema.ProcessingOptions{}, fmt.Errorf("no profile for mode %q", mode)
	}
	opts := profile.Options
	opts.Temperatures = slices.Clone(profile.Options.Temperatures)
	opts.CustomVocabulary = slices.Clone(profile.Options.CustomVocabulary)
	opts.ContextHints = slices.Clone(profile.Options.ContextHints)

	if overrides != nil {
		if err := mergo.Merge(&opts, *overrides, mergo.WithOverride, mergo.WithoutDereference); err != nil {
			return schema.ProcessingOptions{}, fmt.Errorf("merging request options: %w", err)
		}
	}

	if opts.MaxPasses < 1 {
		opts.MaxPasses = 1
	}
	if profile.Options.MaxPasses > 0 && opts.MaxPasses > profile.Options.MaxPasses {
		opts.MaxPasses = profile.Options.MaxPasses
	}
	if len(opts.Temperatures) == 0 {
		opts.Temperatures = []float64{0}
	}
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return schema.ProcessingOptions{}, fmt.Errorf("min_confidence %f out of range", opts.MinConfidence)
	}
	return opts, nil
}
