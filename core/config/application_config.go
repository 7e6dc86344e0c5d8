package config

import (
	"context"
	"time"

	"github.com/verbatimhq/verbatim/core/schema"
)

type ApplicationConfig struct {
	Context context.Context
	Address string

	DatabaseDriver string // sqlite or postgres
	DatabaseDSN    string
	UploadDir      string
	TmpDir         string
	UploadLimitMB  int

	DynamicConfigsDir             string
	DynamicConfigsDirPollInterval time.Duration

	// Orchestrator sizing. Worker counts are per mode class so fast jobs
	// never wait behind precision jobs.
	FastWorkers      int
	BalancedWorkers  int
	PrecisionWorkers int
	QueueSize        int
	MaxAttempts      int

	JobTimeout   time.Duration
	StageTimeout time.Duration

	ChunkThreshold    time.Duration // recordings longer than this are chunked
	ChunkDuration     time.Duration
	ChunkOverlap      time.Duration
	MaxParallelChunks int

	RetentionDays int

	// Gate limits. Period limits live in the datastore per organization;
	// these are the in-memory burst controls.
	BurstRequestsPerMinute int
	MaxInflightPerMode     int

	// Provider access.
	ProviderAPIKey  string
	ProviderBaseURL string
	TranscribeModel string
	EnhanceModel    string

	// Vocabulary matching.
	PhoneticThreshold        float64
	ContextWindow            int
	MinSuggestionOccurrences int
	AutoLearn                bool
	AutoLearnOccurrences     int

	// Accuracy reporting. QualityErrorBounds is the max acceptable word error
	// proxy per audio quality class; jobs above their bound are flagged.
	MinReportSamples   int
	QualityErrorBounds map[schema.AudioQuality]float64

	// Completion events.
	WebhookTimeout  time.Duration
	EventHistory    int
	NATSURL         string
	NATSSubject     string
	CallbackAllowed bool

	DisableMetricsEndpoint bool

	CORS             bool
	CORSAllowOrigins string
	ApiKeys          []string
}

type AppOption func(*ApplicationConfig)

func NewApplicationConfig(o ...AppOption) *ApplicationConfig {
	opt := &ApplicationConfig{
		Context:                  context.Background(),
		Address:                  ":8080",
		DatabaseDriver:           "sqlite",
		DatabaseDSN:              "verbatim.db",
		UploadLimitMB:            512,
		FastWorkers:              4,
		BalancedWorkers:          3,
		PrecisionWorkers:         2,
		QueueSize:                1024,
		MaxAttempts:              3,
		JobTimeout:               2 * time.Hour,
		StageTimeout:             30 * time.Minute,
		ChunkThreshold:           10 * time.Minute,
		ChunkDuration:            5 * time.Minute,
		ChunkOverlap:             5 * time.Second,
		MaxParallelChunks:        4,
		RetentionDays:            30,
		BurstRequestsPerMinute:   30,
		MaxInflightPerMode:       8,
		TranscribeModel:          "whisper-1",
		EnhanceModel:             "gpt-4o-mini",
		PhoneticThreshold:        0.8,
		ContextWindow:            5,
		MinSuggestionOccurrences: 3,
		AutoLearnOccurrences:     10,
		MinReportSamples:         10,
		QualityErrorBounds: map[schema.AudioQuality]float64{
			schema.QualityExcellent: 0.08,
			schema.QualityGood:      0.15,
			schema.QualityFair:      0.25,
			schema.QualityPoor:      0.4,
		},
		WebhookTimeout:           30 * time.Second,
		EventHistory:             256,
		NATSSubject:              "transcription.completed",
		CallbackAllowed:          true,
	}
	for _, oo := range o {
		oo(opt)
	}
	return opt
}

func WithContext(ctx context.Context) AppOption {
	return func(o *ApplicationConfig) {
		o.Context = ctx
	}
}

func WithAddress(address string) AppOption {
	return func(o *ApplicationConfig) {
		o.Address = address
	}
}

func WithDatabase(driver, dsn string) AppOption {
	return func(o *ApplicationConfig) {
		o.DatabaseDriver = driver
		o.DatabaseDSN = dsn
	}
}

func WithUploadDir(dir string) AppOption {
	return func(o *ApplicationConfig) {
		o.UploadDir = dir
	}
}

func WithTmpDir(dir string) AppOption {
	return func(o *ApplicationConfig) {
		o.TmpDir = dir
	}
}

func WithUploadLimitMB(limit int) AppOption {
	return func(o *ApplicationConfig) {
		o.UploadLimitMB = limit
	}
}

func WithDynamicConfigsDir(dir string) AppOption {
	return func(o *ApplicationConfig) {
		o.DynamicConfigsDir = dir
	}
}

func WithDynamicConfigsDirPollInterval(interval time.Duration) AppOption {
	return func(o *ApplicationConfig) {
		o.DynamicConfigsDirPollInterval = interval
	}
}

func WithWorkers(fast, balanced, precision int) AppOption {
	return func(o *ApplicationConfig) {
		o.FastWorkers = fast
		o.BalancedWorkers = balanced
		o.PrecisionWorkers = precision
	}
}

func WithQueueSize(n int) AppOption {
	return func(o *ApplicationConfig) {
		o.QueueSize = n
	}
}

func WithMaxAttempts(n int) AppOption {
	return func(o *ApplicationConfig) {
		o.MaxAttempts = n
	}
}

func WithJobTimeout(d time.Duration) AppOption {
	return func(o *ApplicationConfig) {
		o.JobTimeout = d
	}
}

func WithStageTimeout(d time.Duration) AppOption {
	return func(o *ApplicationConfig) {
		o.StageTimeout = d
	}
}

func WithChunking(threshold, duration, overlap time.Duration, maxParallel int) AppOption {
	return func(o *ApplicationConfig) {
		o.ChunkThreshold = threshold
		o.ChunkDuration = duration
		o.ChunkOverlap = overlap
		o.MaxParallelChunks = maxParallel
	}
}

func WithRetentionDays(days int) AppOption {
	return func(o *ApplicationConfig) {
		o.RetentionDays = days
	}
}

func WithBurstLimits(requestsPerMinute, maxInflightPerMode int) AppOption {
	return func(o *ApplicationConfig) {
		o.BurstRequestsPerMinute = requestsPerMinute
		o.MaxInflightPerMode = maxInflightPerMode
	}
}

func WithProvider(apiKey, baseURL string) AppOption {
	return func(o *ApplicationConfig) {
		o.ProviderAPIKey = apiKey
		o.ProviderBaseURL = baseURL
	}
}

func WithModels(transcribe, enhance string) AppOption {
	return func(o *ApplicationConfig) {
		o.TranscribeModel = transcribe
		o.EnhanceModel = enhance
	}
}

func WithVocabularyMatching(phoneticThreshold float64, contextWindow int) AppOption {
	return func(o *ApplicationConfig) {
		o.PhoneticThreshold = phoneticThreshold
		o.ContextWindow = contextWindow
	}
}

func WithSuggestionThresholds(minOccurrences, autoLearnOccurrences int) AppOption {
	return func(o *ApplicationConfig) {
		o.MinSuggestionOccurrences = minOccurrences
		o.AutoLearnOccurrences = autoLearnOccurrences
	}
}

var EnableAutoLearn = func(o *ApplicationConfig) {
	o.AutoLearn = true
}

func WithMinReportSamples(n int) AppOption {
	return func(o *ApplicationConfig) {
		o.MinReportSamples = n
	}
}

func WithQualityErrorBounds(bounds map[schema.AudioQuality]float64) AppOption {
	return func(o *ApplicationConfig) {
		o.QualityErrorBounds = bounds
	}
}

func WithWebhookTimeout(d time.Duration) AppOption {
	return func(o *ApplicationConfig) {
		o.WebhookTimeout = d
	}
}

func WithEventHistory(n int) AppOption {
	return func(o *ApplicationConfig) {
		o.EventHistory = n
	}
}

func WithNATS(url, subject string) AppOption {
	return func(o *ApplicationConfig) {
		o.NATSURL = url
		if subject != "" {
			o.NATSSubject = subject
		}
	}
}

var DisableMetricsEndpoint AppOption = func(o *ApplicationConfig) {
	o.DisableMetricsEndpoint = true
}

var DisableCallbacks AppOption = func(o *ApplicationConfig) {
	o.CallbackAllowed = false
}

func WithCors(b bool) AppOption {
	return func(o *ApplicationConfig) {
		o.CORS = b
	}
}

func WithCorsAllowOrigins(b string) AppOption {
	return func(o *ApplicationConfig) {
		o.CORSAllowOrigins = b
	}
}

func WithApiKeys(apiKeys []string) AppOption {
	return func(o *ApplicationConfig) {
		o.ApiKeys = apiKeys
	}
}
