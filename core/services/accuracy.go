package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/core/store"
)

const (
	// Segments below this confidence count as low-confidence spans.
	lowConfidenceThreshold = 0.6

	// charToWordRatio scales the word error proxy down to a character level
	// estimate. Character errors run at roughly half the word rate.
	charToWordRatio = 0.5

	fastErrorCeiling = 0.25
	precisionMargin  = 0.03
	poorAudioCeiling = 0.3
	outlierCeiling   = 0.2
)

// defaultQualityErrorBounds is the max acceptable word error proxy per audio
// quality class, applied when the configuration sets none.
var defaultQualityErrorBounds = map[schema.AudioQuality]float64{
	schema.QualityExcellent: 0.08,
	schema.QualityGood:      0.15,
	schema.QualityFair:      0.25,
	schema.QualityPoor:      0.4,
}

// AccuracyService derives per-job accuracy estimates and aggregates them into
// periodic per-organization reports. Without ground-truth transcripts the
// error rates are proxies built from inter-pass disagreement, the confidence
// distribution and human correction density.
type AccuracyService struct {
	accuracy   *store.AccuracyStore
	vocab      *store.VocabularyStore
	metrics    *MetricsService
	minSamples int
	bounds     map[schema.AudioQuality]float64

	cron  *cron.Cron
	clock func() time.Time
}

func NewAccuracyService(accuracy *store.AccuracyStore, vocab *store.VocabularyStore, metrics *MetricsService, minSamples int, bounds map[schema.AudioQuality]float64) *AccuracyService {
	if minSamples <= 0 {
		minSamples = 10
	}
	if len(bounds) == 0 {
		bounds = defaultQualityErrorBounds
	}
	return &AccuracyService{
		accuracy:   accuracy,
		vocab:      vocab,
		metrics:    metrics,
		minSamples: minSamples,
		bounds:     bounds,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the weekly and monthly aggregation crons.
func (a *AccuracyService) Start() error {
	c := cron.New()
	if _, err := c.AddFunc("0 0 * * 0", func() { a.aggregate(schema.PeriodWeekly) }); err != nil {
		return fmt.Errorf("scheduling weekly accuracy aggregation: %w", err)
	}
	if _, err := c.AddFunc("0 0 1 * *", func() { a.aggregate(schema.PeriodMonthly) }); err != nil {
		return fmt.Errorf("scheduling monthly accuracy aggregation: %w", err)
	}
	c.Start()
	a.cron = c
	return nil
}

func (a *AccuracyService) Stop() {
	if a.cron != nil {
		a.cron.Stop()
	}
}

func (a *AccuracyService) aggregate(period schema.ReportPeriod) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := a.RunAggregation(ctx, period, a.clock()); err != nil {
		log.Error().Err(err).Str("period", string(period)).Msg("accuracy aggregation failed")
	}
}

// ObserveJob derives and stores the accuracy metric for one completed job.
// Monitoring never fails a completed job, storage problems are only logged.
func (a *AccuracyService) ObserveJob(ctx context.Context, job *schema.TranscriptionJob, result schema.TranscriptionResult, disagreement float64) *schema.AccuracyMetric {
	corrections, err := a.vocab.CountCorrections(ctx, job.ID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("counting corrections for accuracy metric")
		corrections = 0
	}

	avgConf := result.AvgConfidence()
	lowRatio := result.LowConfidenceRatio(lowConfidenceThreshold)
	wordErr := wordErrorProxy(disagreement, avgConf, lowRatio, correctionDensity(int(corrections), len(result.Segments)))

	m := &schema.AccuracyMetric{
		JobID:              job.ID,
		OrganizationID:     job.OrganizationID,
		Mode:               job.Mode,
		WordErrorProxy:     wordErr,
		CharErrorProxy:     wordErr * charToWordRatio,
		AvgConfidence:      avgConf,
		LowConfidenceRatio: lowRatio,
		AudioQuality:       job.AudioQuality,
		PassCount:          job.PassCount,
		CorrectionCount:    int(corrections),
		ProcessingSeconds:  processingSeconds(job),
	}
	if bound, ok := a.bounds[job.AudioQuality]; ok && wordErr > bound {
		m.ExceedsBound = true
		log.Warn().
			Str("job_id", job.ID).
			Str("quality", string(job.AudioQuality)).
			Float64("word_error_proxy", wordErr).
			Float64("bound", bound).
			Msg("job exceeded the error bound for its audio quality class")
	}
	if err := a.accuracy.InsertMetric(ctx, m); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("recording accuracy metric")
	}
	if a.metrics != nil {
		a.metrics.ObserveWordError(job.Mode, wordErr)
	}
	return m
}

// RunAggregation builds and stores the report of every organization that
// recorded metrics in the period preceding now.
func (a *AccuracyService) RunAggregation(ctx context.Context, period schema.ReportPeriod, now time.Time) error {
	start, end := periodBounds(period, now)
	orgs, err := a.accuracy.OrganizationsWithMetrics(ctx, start, end)
	if err != nil {
		return err
	}

	var saved int
	for _, org := range orgs {
		report, err := a.buildReport(ctx, org, period, start, end)
		if err != nil {
			log.Error().Err(err).Str("organization_id", org).Msg("building accuracy report")
			continue
		}
		if report == nil {
			continue
		}
		if err := a.accuracy.SaveReport(ctx, report); err != nil {
			log.Error().Err(err).Str("organization_id", org).Msg("saving accuracy report")
			continue
		}
		saved++
	}

	log.Info().
		Str("period", string(period)).
		Time("period_start", start).
		Int("organizations", len(orgs)).
		Int("reports", saved).
		Msg("accuracy aggregation finished")
	return nil
}

// Reports returns an organization's stored reports, newest first.
func (a *AccuracyService) Reports(ctx context.Context, org string, period schema.ReportPeriod, limit int) ([]*schema.AccuracyReport, error) {
	return a.accuracy.Reports(ctx, org, period, limit)
}

// buildReport aggregates one organization's window into a report. Returns nil
// when the window holds fewer than minSamples metrics.
func (a *AccuracyService) buildReport(ctx context.Context, org string, period schema.ReportPeriod, start, end time.Time) (*schema.AccuracyReport, error) {
	metrics, err := a.accuracy.MetricsSince(ctx, org, start, end)
	if err != nil {
		return nil, err
	}
	if len(metrics) < a.minSamples {
		return nil, nil
	}

	type sums struct {
		n       int
		wordErr float64
		conf    float64
		quality map[schema.AudioQuality]int
	}
	byMode := map[schema.TranscriptionMode]*sums{}
	poor, outliers := 0, 0
	for _, m := range metrics {
		s := byMode[m.Mode]
		if s == nil {
			s = &sums{quality: map[schema.AudioQuality]int{}}
			byMode[m.Mode] = s
		}
		s.n++
		s.wordErr += m.WordErrorProxy
		s.conf += m.AvgConfidence
		if m.AudioQuality != "" {
			s.quality[m.AudioQuality]++
		}
		if m.AudioQuality == schema.QualityPoor {
			poor++
		}
		if m.ExceedsBound {
			outliers++
		}
	}

	modes := make(map[schema.TranscriptionMode]schema.ModeAccuracy, len(byMode))
	for mode, s := range byMode {
		modes[mode] = schema.ModeAccuracy{
			SampleCount:      s.n,
			AvgWordError:     s.wordErr / float64(s.n),
			AvgConfidence:    s.conf / float64(s.n),
			QualityBreakdown: s.quality,
		}
	}

	total := float64(len(metrics))
	return &schema.AccuracyReport{
		OrganizationID: org,
		Period:         period,
		PeriodStart:    start,
		SampleCount:    len(metrics),
		Modes:          modes,
		Recommendation: recommend(modes, float64(poor)/total, float64(outliers)/total),
	}, nil
}

// recommend derives at most one actionable hint from the aggregated window.
// Audio problems come first, they cap what any mode can deliver.
func recommend(modes map[schema.TranscriptionMode]schema.ModeAccuracy, poorShare, outlierShare float64) string {
	if poorShare > poorAudioCeiling {
		return fmt.Sprintf("%.0f%% of recordings had poor audio quality; accuracy gains are most likely from better capture conditions", poorShare*100)
	}
	if outlierShare > outlierCeiling {
		return fmt.Sprintf("%.0f%% of jobs exceeded the expected error rate for their audio quality; review vocabulary coverage or raise the default mode", outlierShare*100)
	}
	if fast, ok := modes[schema.ModeFast]; ok && fast.AvgWordError > fastErrorCeiling {
		return fmt.Sprintf("fast mode averaged an estimated %.0f%% word error rate; consider balanced or precision mode for recordings that matter", fast.AvgWordError*100)
	}
	if prec, ok := modes[schema.ModePrecision]; ok {
		if bal, ok := modes[schema.ModeBalanced]; ok && prec.AvgWordError >= bal.AvgWordError-precisionMargin {
			return "precision mode is not measurably ahead of balanced mode on your audio; balanced mode would cut cost and latency"
		}
	}
	return ""
}

// periodBounds returns the [start, end) window that closed most recently
// before now. Weekly windows are the trailing seven days ending at the
// current day's midnight, monthly windows are the previous calendar month.
func periodBounds(period schema.ReportPeriod, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	if period == schema.PeriodMonthly {
		end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return end.AddDate(0, -1, 0), end
	}
	end := now.Truncate(24 * time.Hour)
	return end.AddDate(0, 0, -7), end
}

// wordErrorProxy estimates the word error rate without ground truth. The
// weights favor inter-pass disagreement, the strongest signal available.
func wordErrorProxy(disagreement, avgConfidence, lowConfidenceRatio, correctionDensity float64) float64 {
	p := 0.45*disagreement + 0.35*(1-avgConfidence) + 0.2*lowConfidenceRatio + 0.5*correctionDensity
	return clamp01(p)
}

// correctionDensity is the human correction count per transcript segment.
func correctionDensity(corrections, segments int) float64 {
	if corrections <= 0 {
		return 0
	}
	if segments < 1 {
		segments = 1
	}
	return float64(corrections) / float64(segments)
}

func processingSeconds(job *schema.TranscriptionJob) float64 {
	if job.StartedAt == nil || job.CompletedAt == nil {
		return 0
	}
	return job.CompletedAt.Sub(*job.StartedAt).Seconds()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
