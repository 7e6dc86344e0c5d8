package services

import (
	"context"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricApi "go.opentelemetry.io/otel/sdk/metric"

	"github.com/verbatimhq/verbatim/core/schema"
)

// jobRecord is one terminal job observation in the rolling window.
type jobRecord struct {
	Timestamp time.Time
	Mode      schema.TranscriptionMode
	State     schema.JobState
	Duration  time.Duration
}

// PipelineStats keeps a bounded in-memory window of pipeline activity for
// the stats endpoint. Durable accuracy data goes through the accuracy store;
// this is the cheap operational view that survives no restart.
type PipelineStats struct {
	mu      sync.RWMutex
	records []jobRecord

	window     time.Duration
	maxRecords int
	pruneEvery time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewPipelineStats(window time.Duration) *PipelineStats {
	if window <= 0 {
		window = 24 * time.Hour
	}
	s := &PipelineStats{
		window:     window,
		maxRecords: 10000,
		pruneEvery: 5 * time.Minute,
		stopChan:   make(chan struct{}),
	}
	go s.pruneLoop()
	return s
}

func (s *PipelineStats) Window() time.Duration { return s.window }

// RecordJob records one job that reached a terminal state.
func (s *PipelineStats) RecordJob(mode schema.TranscriptionMode, state schema.JobState, duration time.Duration) {
	s.mu.Lock()
	s.records = append(s.records, jobRecord{
		Timestamp: time.Now().UTC(),
		Mode:      mode,
		State:     state,
		Duration:  duration,
	})
	s.mu.Unlock()
}

// Snapshot aggregates the current window: jobs per state, jobs per mode and
// the mean end-to-end duration in seconds.
func (s *PipelineStats) Snapshot() (map[schema.JobState]int64, map[schema.TranscriptionMode]int64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-s.window)
	byState := make(map[schema.JobState]int64)
	byMode := make(map[schema.TranscriptionMode]int64)
	var total time.Duration
	var n int64
	for _, r := range s.records {
		if !r.Timestamp.After(cutoff) {
			continue
		}
		byState[r.State]++
		byMode[r.Mode]++
		total += r.Duration
		n++
	}
	avg := 0.0
	if n > 0 {
		avg = total.Seconds() / float64(n)
	}
	return byState, byMode, avg
}

func (s *PipelineStats) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *PipelineStats) pruneLoop() {
	ticker := time.NewTicker(s.pruneEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.prune()
		case <-s.stopChan:
			return
		}
	}
}

func (s *PipelineStats) prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-s.window)
	kept := make([]jobRecord, 0, len(s.records))
	for _, r := range s.records {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	if len(kept) > s.maxRecords {
		dropped := len(kept) - s.maxRecords
		kept = kept[dropped:]
		log.Warn().
			Int("dropped", dropped).
			Int("kept", len(kept)).
			Msg("pipeline stats exceeded maximum records, dropping oldest entries")
	}
	s.records = kept
}

// MetricsService exports pipeline measurements through the OpenTelemetry
// Prometheus bridge; the registry is scraped via the metrics endpoint. The
// registry is service-owned, not the process default, so rebuilding the
// service does not collide with a previous registration.
type MetricsService struct {
	Meter metric.Meter

	provider *metricApi.MeterProvider
	registry *promclient.Registry

	apiTime     metric.Float64Histogram
	jobDuration metric.Float64Histogram
	wordError   metric.Float64Histogram
}

func NewMetricsService() (*MetricsService, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	provider := metricApi.NewMeterProvider(metricApi.WithReader(exporter))
	meter := provider.Meter("github.com/verbatimhq/verbatim")

	apiTime, err := meter.Float64Histogram("api_call",
		metric.WithDescription("API call duration in seconds"))
	if err != nil {
		return nil, err
	}
	jobDuration, err := meter.Float64Histogram("job_duration_seconds",
		metric.WithDescription("end to end transcription job duration"))
	if err != nil {
		return nil, err
	}
	wordError, err := meter.Float64Histogram("word_error_proxy",
		metric.WithDescription("estimated word error rate of completed jobs"))
	if err != nil {
		return nil, err
	}

	return &MetricsService{
		Meter:       meter,
		provider:    provider,
		registry:    registry,
		apiTime:     apiTime,
		jobDuration: jobDuration,
		wordError:   wordError,
	}, nil
}

// Registry exposes the backing prometheus registry for the scrape endpoint.
func (m *MetricsService) Registry() *promclient.Registry {
	return m.registry
}

func (m *MetricsService) ObserveAPICall(method, path string, seconds float64) {
	m.apiTime.Record(context.Background(), seconds, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

func (m *MetricsService) ObserveJob(mode schema.TranscriptionMode, state schema.JobState, seconds float64) {
	m.jobDuration.Record(context.Background(), seconds, metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("state", string(state)),
	))
}

func (m *MetricsService) ObserveWordError(mode schema.TranscriptionMode, proxy float64) {
	m.wordError.Record(context.Background(), proxy, metric.WithAttributes(
		attribute.String("mode", string(mode)),
	))
}

func (m *MetricsService) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
