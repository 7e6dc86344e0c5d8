package application

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/verbatimhq/verbatim/core/backend"
	"github.com/verbatimhq/verbatim/core/config"
	"github.com/verbatimhq/verbatim/core/services"
	"github.com/verbatimhq/verbatim/core/store"
	"github.com/verbatimhq/verbatim/internal"
)

const (
	modeProfilesFile   = "mode_profiles.yaml"
	vocabularySeedFile = "vocabulary_seed.yaml"

	statsWindow = 24 * time.Hour
)

// New builds the application container: datastore, quota gate, event broker,
// vocabulary, accuracy monitor, metrics and the orchestrator. Nothing is
// running yet; call Start.
func New(opts ...config.AppOption) (*Application, error) {
	options := config.NewApplicationConfig(opts...)

	log.Info().
		Str("version", internal.PrintableVersion()).
		Str("address", options.Address).
		Msg("starting verbatim")

	for _, dir := range []string{options.UploadDir, options.TmpDir, options.DynamicConfigsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("unable to create directory %s: %w", dir, err)
		}
	}

	datastore, err := store.New(options.DatabaseDriver, options.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	metricsService, err := services.NewMetricsService()
	if err != nil {
		return nil, err
	}

	eventBroker := services.NewEventBroker(options.EventHistory, options.WebhookTimeout)
	if options.NATSURL != "" {
		if err := eventBroker.ConnectNATS(options.NATSURL, options.NATSSubject); err != nil {
			log.Warn().Err(err).
				Str("url", options.NATSURL).
				Msg("NATS unreachable, completion events stay local")
		}
	}

	quotaGate := services.NewQuotaGate(datastore.Usage, options.BurstRequestsPerMinute, options.MaxInflightPerMode)
	vocabulary := services.NewVocabularyService(datastore.Vocabulary, options)
	accuracy := services.NewAccuracyService(datastore.Accuracy, datastore.Vocabulary, metricsService,
		options.MinReportSamples, options.QualityErrorBounds)
	pipelineStats := services.NewPipelineStats(statsWindow)

	if options.ProviderAPIKey == "" {
		log.Warn().Msg("no provider API key configured, transcription calls will be rejected upstream")
	}
	provider := backend.NewOpenAIProvider(options.ProviderAPIKey, options.ProviderBaseURL,
		options.TranscribeModel, options.EnhanceModel)

	profiles, err := loadProfiles(options)
	if err != nil {
		return nil, err
	}

	orchestrator := services.NewOrchestrator(options, datastore, quotaGate, eventBroker,
		vocabulary, accuracy, pipelineStats, metricsService, profiles, provider, provider)

	app := &Application{
		applicationConfig: options,
		datastore:         datastore,
		quotaGate:         quotaGate,
		eventBroker:       eventBroker,
		vocabulary:        vocabulary,
		accuracy:          accuracy,
		pipelineStats:     pipelineStats,
		metricsService:    metricsService,
		orchestrator:      orchestrator,
	}

	if seed := dynamicConfigPath(options, vocabularySeedFile); seed != "" {
		if err := vocabulary.LoadSeedFile(options.Context, seed); err != nil {
			log.Warn().Err(err).Str("file", seed).Msg("vocabulary seed not loaded")
		}
	}

	return app, nil
}

// loadProfiles reads mode profile overrides from the dynamic config directory.
// A malformed file fails startup; later edits go through the watcher, which
// only warns so a running server never loses its current profiles.
func loadProfiles(options *config.ApplicationConfig) (config.ModeProfiles, error) {
	path := dynamicConfigPath(options, modeProfilesFile)
	if path == "" {
		return config.DefaultModeProfiles(), nil
	}
	profiles, err := config.LoadModeProfiles(path)
	if err != nil {
		return nil, fmt.Errorf("loading mode profiles: %w", err)
	}
	log.Info().Str("file", path).Msg("mode profiles loaded")
	return profiles, nil
}

// dynamicConfigPath returns the rooted path of a dynamic config file, or ""
// when the directory is not configured or the file does not exist.
func dynamicConfigPath(options *config.ApplicationConfig, name string) string {
	if options.DynamicConfigsDir == "" {
		return ""
	}
	path := filepath.Join(options.DynamicConfigsDir, name)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
