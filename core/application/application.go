package application

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/verbatimhq/verbatim/core/config"
	"github.com/verbatimhq/verbatim/core/services"
	"github.com/verbatimhq/verbatim/core/store"
)

// Application wires the pipeline together. Every component receives its
// dependencies here; nothing reaches for package globals.
type Application struct {
	applicationConfig *config.ApplicationConfig
	datastore         *store.Store
	quotaGate         *services.QuotaGate
	eventBroker       *services.EventBroker
	vocabulary        *services.VocabularyService
	accuracy          *services.AccuracyService
	pipelineStats     *services.PipelineStats
	metricsService    *services.MetricsService
	orchestrator      *services.Orchestrator

	configHandler *configFileHandler
}

func (a *Application) ApplicationConfig() *config.ApplicationConfig {
	return a.applicationConfig
}

func (a *Application) Datastore() *store.Store {
	return a.datastore
}

func (a *Application) QuotaGate() *services.QuotaGate {
	return a.quotaGate
}

func (a *Application) EventBroker() *services.EventBroker {
	return a.eventBroker
}

func (a *Application) VocabularyService() *services.VocabularyService {
	return a.vocabulary
}

func (a *Application) AccuracyService() *services.AccuracyService {
	return a.accuracy
}

func (a *Application) PipelineStats() *services.PipelineStats {
	return a.pipelineStats
}

func (a *Application) MetricsService() *services.MetricsService {
	return a.metricsService
}

func (a *Application) Orchestrator() *services.Orchestrator {
	return a.orchestrator
}

// Start launches the worker pools, the report crons and the dynamic config
// watcher. The context bounds the workers: cancelling it begins a drain.
func (a *Application) Start(ctx context.Context) error {
	if err := a.orchestrator.Start(ctx); err != nil {
		return err
	}
	if err := a.accuracy.Start(); err != nil {
		return err
	}
	a.startWatcher()
	return nil
}

// Shutdown drains the pipeline: intake and workers first, then the background
// services, storage last so late terminal writes still land. The context
// bounds how long running jobs may finish.
func (a *Application) Shutdown(ctx context.Context) error {
	err := a.orchestrator.Shutdown(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator did not drain cleanly")
	}

	a.accuracy.Stop()
	if a.configHandler != nil {
		if werr := a.configHandler.Stop(); werr != nil {
			log.Warn().Err(werr).Msg("closing config watcher")
		}
	}
	a.eventBroker.Close()
	a.pipelineStats.Stop()
	if merr := a.metricsService.Shutdown(ctx); merr != nil {
		log.Warn().Err(merr).Msg("shutting down metrics provider")
	}
	if serr := a.datastore.Close(); serr != nil {
		log.Warn().Err(serr).Msg("closing datastore")
	}
	return err
}
