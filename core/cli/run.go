package cli

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/verbatimhq/verbatim/core/application"
	cliContext "github.com/verbatimhq/verbatim/core/cli/context"
	"github.com/verbatimhq/verbatim/core/config"
	"github.com/verbatimhq/verbatim/core/http"
	"github.com/verbatimhq/verbatim/internal"
	"github.com/verbatimhq/verbatim/pkg/signals"
)

type RunCMD struct {
	DatabaseDriver        string        `env:"VERBATIM_DATABASE_DRIVER,DATABASE_DRIVER" default:"sqlite" enum:"sqlite,postgres" help:"Database driver backing jobs, usage and vocabulary [${enum}]" group:"storage"`
	DatabaseDSN           string        `env:"VERBATIM_DATABASE_DSN,DATABASE_DSN" default:"verbatim.db" help:"Database DSN: a file path for sqlite, a connection string for postgres" group:"storage"`
	UploadPath            string        `env:"VERBATIM_UPLOAD_PATH,UPLOAD_PATH" type:"path" default:"/tmp/verbatim/upload" help:"Path to store uploaded recordings" group:"storage"`
	TmpPath               string        `env:"VERBATIM_TMP_PATH,TMP_PATH" type:"path" default:"/tmp/verbatim" help:"Scratch space for chunked audio" group:"storage"`
	ConfigDir             string        `env:"VERBATIM_CONFIG_DIR" type:"path" default:"${basepath}/configuration" help:"Directory for dynamic loading of certain configuration files (currently api_keys.json, mode_profiles.yaml and vocabulary_seed.yaml)" group:"storage"`
	ConfigDirPollInterval time.Duration `env:"VERBATIM_CONFIG_DIR_POLL_INTERVAL" help:"Typically the config dir picks up changes automatically, but if your system has broken fsnotify events, set this to an interval to poll it (example: 1m)" group:"storage"`

	FastWorkers       int           `env:"VERBATIM_FAST_WORKERS,FAST_WORKERS" default:"4" help:"Concurrent workers for fast mode jobs" group:"pipeline"`
	BalancedWorkers   int           `env:"VERBATIM_BALANCED_WORKERS,BALANCED_WORKERS" default:"3" help:"Concurrent workers for balanced mode jobs" group:"pipeline"`
	PrecisionWorkers  int           `env:"VERBATIM_PRECISION_WORKERS,PRECISION_WORKERS" default:"2" help:"Concurrent workers for precision mode jobs" group:"pipeline"`
	QueueSize         int           `env:"VERBATIM_QUEUE_SIZE,QUEUE_SIZE" default:"1024" help:"Maximum number of jobs waiting for a worker before submissions are rejected" group:"pipeline"`
	MaxAttempts       int           `env:"VERBATIM_MAX_ATTEMPTS,MAX_ATTEMPTS" default:"3" help:"Attempts per job before a retryable failure becomes permanent" group:"pipeline"`
	JobTimeout        time.Duration `env:"VERBATIM_JOB_TIMEOUT,JOB_TIMEOUT" default:"2h" help:"Wall-clock bound for a single job attempt" group:"pipeline"`
	StageTimeout      time.Duration `env:"VERBATIM_STAGE_TIMEOUT,STAGE_TIMEOUT" default:"30m" help:"Bound for a single provider call within a job" group:"pipeline"`
	ChunkThreshold    time.Duration `env:"VERBATIM_CHUNK_THRESHOLD,CHUNK_THRESHOLD" default:"10m" help:"Recordings longer than this are split into chunks" group:"pipeline"`
	ChunkDuration     time.Duration `env:"VERBATIM_CHUNK_DURATION,CHUNK_DURATION" default:"5m" help:"Length of each chunk" group:"pipeline"`
	ChunkOverlap      time.Duration `env:"VERBATIM_CHUNK_OVERLAP,CHUNK_OVERLAP" default:"5s" help:"Overlap between consecutive chunks so words on the boundary are not lost" group:"pipeline"`
	MaxParallelChunks int           `env:"VERBATIM_MAX_PARALLEL_CHUNKS,MAX_PARALLEL_CHUNKS" default:"4" help:"Chunks transcribed concurrently per job" group:"pipeline"`
	RetentionDays     int           `env:"VERBATIM_RETENTION_DAYS,RETENTION_DAYS" default:"30" help:"Number of days to keep finished jobs (default: 30)" group:"pipeline"`

	BurstRequestsPerMinute int `env:"VERBATIM_BURST_REQUESTS_PER_MINUTE,BURST_REQUESTS_PER_MINUTE" default:"30" help:"Submissions allowed per organization per minute" group:"gate"`
	MaxInflightPerMode     int `env:"VERBATIM_MAX_INFLIGHT_PER_MODE,MAX_INFLIGHT_PER_MODE" default:"8" help:"Jobs an organization may have running per mode at once" group:"gate"`

	ProviderAPIKey  string `env:"VERBATIM_PROVIDER_API_KEY,PROVIDER_API_KEY" help:"API key for the speech-to-text provider" group:"provider"`
	ProviderBaseURL string `env:"VERBATIM_PROVIDER_BASE_URL,PROVIDER_BASE_URL" help:"Override the provider endpoint, useful for gateways and self-hosted deployments" group:"provider"`
	TranscribeModel string `env:"VERBATIM_TRANSCRIBE_MODEL,TRANSCRIBE_MODEL" default:"whisper-1" help:"Provider model used for transcription passes" group:"provider"`
	EnhanceModel    string `env:"VERBATIM_ENHANCE_MODEL,ENHANCE_MODEL" default:"gpt-4o-mini" help:"Provider model used for AI post-processing" group:"provider"`

	PhoneticThreshold        float64 `env:"VERBATIM_PHONETIC_THRESHOLD,PHONETIC_THRESHOLD" default:"0.8" help:"Similarity a token must reach before it is rewritten to a vocabulary term (0-1)" group:"vocabulary"`
	ContextWindow            int     `env:"VERBATIM_CONTEXT_WINDOW,CONTEXT_WINDOW" default:"5" help:"Words around a candidate token inspected for context hints" group:"vocabulary"`
	MinSuggestionOccurrences int     `env:"VERBATIM_MIN_SUGGESTION_OCCURRENCES,MIN_SUGGESTION_OCCURRENCES" default:"3" help:"Corrections of the same term before it is suggested for review" group:"vocabulary"`
	AutoLearn                bool    `env:"VERBATIM_AUTO_LEARN,AUTO_LEARN" default:"false" help:"Promote heavily corrected terms into the vocabulary without review" group:"vocabulary"`
	AutoLearnOccurrences     int     `env:"VERBATIM_AUTO_LEARN_OCCURRENCES,AUTO_LEARN_OCCURRENCES" default:"10" help:"Corrections of the same term before auto-learn promotes it" group:"vocabulary"`

	MinReportSamples int `env:"VERBATIM_MIN_REPORT_SAMPLES,MIN_REPORT_SAMPLES" default:"10" help:"Completed jobs a mode needs in a period before it appears in accuracy reports" group:"reports"`

	WebhookTimeout   time.Duration `env:"VERBATIM_WEBHOOK_TIMEOUT,WEBHOOK_TIMEOUT" default:"30s" help:"Bound for delivering a completion callback" group:"events"`
	EventHistory     int           `env:"VERBATIM_EVENT_HISTORY,EVENT_HISTORY" default:"256" help:"Completion events kept in memory for late subscribers" group:"events"`
	NATSURL          string        `env:"VERBATIM_NATS_URL,NATS_URL" help:"NATS server to publish completion events to (example: nats://127.0.0.1:4222). Empty keeps events local" group:"events"`
	NATSSubject      string        `env:"VERBATIM_NATS_SUBJECT,NATS_SUBJECT" default:"transcription.completed" help:"Subject completion events are published under" group:"events"`
	DisableCallbacks bool          `env:"VERBATIM_DISABLE_CALLBACKS,DISABLE_CALLBACKS" default:"false" help:"Reject jobs that carry a callback URL" group:"events"`

	Address                string   `env:"VERBATIM_ADDRESS,ADDRESS" default:":8080" help:"Bind address for the API server" group:"api"`
	CORS                   bool     `env:"VERBATIM_CORS,CORS" help:"" group:"api"`
	CORSAllowOrigins       string   `env:"VERBATIM_CORS_ALLOW_ORIGINS,CORS_ALLOW_ORIGINS" group:"api"`
	UploadLimit            int      `env:"VERBATIM_UPLOAD_LIMIT,UPLOAD_LIMIT" default:"512" help:"Default upload-limit in MB" group:"api"`
	APIKeys                []string `env:"VERBATIM_API_KEY,API_KEY" help:"List of API Keys to enable API authentication. When this is set, all the requests must be authenticated with one of these API keys" group:"api"`
	DisableMetricsEndpoint bool     `env:"VERBATIM_DISABLE_METRICS_ENDPOINT,DISABLE_METRICS_ENDPOINT" default:"false" help:"Disable the /metrics endpoint" group:"api"`

	Version bool
}

func (r *RunCMD) Run(ctx *cliContext.Context) error {
	if r.Version {
		fmt.Println(internal.PrintableVersion())
		return nil
	}

	opts := []config.AppOption{
		config.WithContext(context.Background()),
		config.WithAddress(r.Address),
		config.WithDatabase(r.DatabaseDriver, r.DatabaseDSN),
		config.WithUploadDir(r.UploadPath),
		config.WithTmpDir(r.TmpPath),
		config.WithUploadLimitMB(r.UploadLimit),
		config.WithDynamicConfigsDir(r.ConfigDir),
		config.WithDynamicConfigsDirPollInterval(r.ConfigDirPollInterval),
		config.WithWorkers(r.FastWorkers, r.BalancedWorkers, r.PrecisionWorkers),
		config.WithQueueSize(r.QueueSize),
		config.WithMaxAttempts(r.MaxAttempts),
		config.WithJobTimeout(r.JobTimeout),
		config.WithStageTimeout(r.StageTimeout),
		config.WithChunking(r.ChunkThreshold, r.ChunkDuration, r.ChunkOverlap, r.MaxParallelChunks),
		config.WithRetentionDays(r.RetentionDays),
		config.WithBurstLimits(r.BurstRequestsPerMinute, r.MaxInflightPerMode),
		config.WithProvider(r.ProviderAPIKey, r.ProviderBaseURL),
		config.WithModels(r.TranscribeModel, r.EnhanceModel),
		config.WithVocabularyMatching(r.PhoneticThreshold, r.ContextWindow),
		config.WithSuggestionThresholds(r.MinSuggestionOccurrences, r.AutoLearnOccurrences),
		config.WithMinReportSamples(r.MinReportSamples),
		config.WithWebhookTimeout(r.WebhookTimeout),
		config.WithEventHistory(r.EventHistory),
		config.WithNATS(r.NATSURL, r.NATSSubject),
		config.WithCors(r.CORS),
		config.WithCorsAllowOrigins(r.CORSAllowOrigins),
		config.WithApiKeys(r.APIKeys),
	}

	if r.AutoLearn {
		opts = append(opts, config.EnableAutoLearn)
	}
	if r.DisableCallbacks {
		opts = append(opts, config.DisableCallbacks)
	}
	if r.DisableMetricsEndpoint {
		opts = append(opts, config.DisableMetricsEndpoint)
	}

	app, err := application.New(opts...)
	if err != nil {
		return fmt.Errorf("failed basic startup tasks with error %s", err.Error())
	}

	appHTTP, err := http.API(app)
	if err != nil {
		log.Error().Err(err).Msg("error during HTTP App construction")
		return err
	}

	if err := app.Start(context.Background()); err != nil {
		return err
	}

	signals.RegisterGracefulTerminationHandler(func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := appHTTP.Shutdown(drainCtx); err != nil {
			log.Error().Err(err).Msg("error while stopping the HTTP server")
		}
		if err := app.Shutdown(drainCtx); err != nil {
			log.Error().Err(err).Msg("error while draining the pipeline")
		}
	})

	log.Info().Str("address", r.Address).Msg("verbatim is started and running")

	if err := appHTTP.Start(r.Address); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		return err
	}
	return nil
}
