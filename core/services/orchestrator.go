package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/emirpasic/gods/v2/queues/priorityqueue"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/verbatimhq/verbatim/core/backend"
	"github.com/verbatimhq/verbatim/core/config"
	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/core/store"
	"github.com/verbatimhq/verbatim/pkg/audio"
	"github.com/verbatimhq/verbatim/pkg/concurrency"
	"github.com/verbatimhq/verbatim/pkg/xsync"
)

var (
	ErrJobFinished = errors.New("job already reached a terminal state")
	ErrQueueFull   = errors.New("scheduling queue is full")
)

// stageProgress is the percentage persisted when a job enters each state.
var stageProgress = map[schema.JobState]int{
	schema.StateQueued:           0,
	schema.StatePreprocessing:    10,
	schema.StateTranscribing:     30,
	schema.StateEnhancing:        60,
	schema.StateAIPostProcessing: 75,
	schema.StateMonitoring:       90,
	schema.StateCompleted:        100,
}

// queueItem is one scheduled job. Ordering is (priority, enqueue sequence) so
// equal priorities dequeue first-in first-out.
type queueItem struct {
	jobID    string
	priority schema.JobPriority
	seq      int64
}

func byPriority(a, b queueItem) int {
	if a.priority != b.priority {
		return int(a.priority) - int(b.priority)
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

// workerClasses are the scheduling classes. Every class owns its queue and
// worker pool so a burst of slow precision jobs can never starve fast jobs.
var workerClasses = []schema.TranscriptionMode{
	schema.ModeFast,
	schema.ModeBalanced,
	schema.ModePrecision,
}

// Orchestrator owns the job lifecycle: admission, scheduling, the stage
// pipeline, retries, cancellation and retention. Stages never pick their own
// retry policy, every failure goes through Classify.
type Orchestrator struct {
	cfg      *config.ApplicationConfig
	store    *store.Store
	gate     *QuotaGate
	broker   *EventBroker
	vocab    *VocabularyService
	accuracy *AccuracyService
	stats    *PipelineStats
	metrics  *MetricsService

	transcriber backend.Transcriber
	enhancer    backend.Enhancer

	mu       sync.Mutex
	profiles config.ModeProfiles
	queues   map[schema.TranscriptionMode]*priorityqueue.Queue[queueItem]
	seq      int64

	wake    map[schema.TranscriptionMode]chan struct{}
	cancels *xsync.SyncedMap[string, context.CancelFunc]
	// cancelRequested distinguishes a user cancellation from a shutdown or
	// timeout when a stage returns context.Canceled.
	cancelRequested *xsync.SyncedMap[string, bool]

	// workerCtx stops the dequeue loops; jobCtx aborts in-flight stages. Two
	// contexts so Shutdown can drain before it cuts running jobs.
	workerCtx  context.Context
	workerStop context.CancelFunc
	jobCtx     context.Context
	jobStop    context.CancelFunc
	wg         sync.WaitGroup

	retention *cron.Cron
	clock     func() time.Time
}

func NewOrchestrator(
	cfg *config.ApplicationConfig,
	st *store.Store,
	gate *QuotaGate,
	broker *EventBroker,
	vocab *VocabularyService,
	accuracy *AccuracyService,
	stats *PipelineStats,
	metrics *MetricsService,
	profiles config.ModeProfiles,
	transcriber backend.Transcriber,
	enhancer backend.Enhancer,
) *Orchestrator {
	if profiles == nil {
		profiles = config.DefaultModeProfiles()
	}
	queues := make(map[schema.TranscriptionMode]*priorityqueue.Queue[queueItem], len(workerClasses))
	wake := make(map[schema.TranscriptionMode]chan struct{}, len(workerClasses))
	for _, class := range workerClasses {
		queues[class] = priorityqueue.NewWith(byPriority)
		wake[class] = make(chan struct{}, 1)
	}
	return &Orchestrator{
		cfg:             cfg,
		store:           st,
		gate:            gate,
		broker:          broker,
		vocab:           vocab,
		accuracy:        accuracy,
		stats:           stats,
		metrics:         metrics,
		transcriber:     transcriber,
		enhancer:        enhancer,
		profiles:        profiles,
		queues:          queues,
		wake:            wake,
		cancels:         xsync.NewSyncedMap[string, context.CancelFunc](),
		cancelRequested: xsync.NewSyncedMap[string, bool](),
		clock:           func() time.Time { return time.Now().UTC() },
	}
}

// Profiles returns the current mode profiles.
func (o *Orchestrator) Profiles() config.ModeProfiles {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.profiles
}

// SetProfiles swaps the mode profiles, used by the config watcher. Running
// jobs keep the options they were resolved with.
func (o *Orchestrator) SetProfiles(p config.ModeProfiles) {
	if p == nil {
		return
	}
	o.mu.Lock()
	o.profiles = p
	o.mu.Unlock()
	log.Info().Msg("mode profiles reloaded")
}

// Start recovers interrupted jobs, launches the per-class worker pools and
// schedules the retention cron.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.workerCtx, o.workerStop = context.WithCancel(ctx)
	o.jobCtx, o.jobStop = context.WithCancel(context.Background())

	if err := o.recoverInterrupted(ctx); err != nil {
		return err
	}

	for _, class := range workerClasses {
		for i := 0; i < o.workersFor(class); i++ {
			o.wg.Add(1)
			go o.worker(class, i)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc("0 0 * * *", o.archiveExpired); err != nil {
		return fmt.Errorf("scheduling job retention: %w", err)
	}
	c.Start()
	o.retention = c

	log.Info().
		Int("fast_workers", o.cfg.FastWorkers).
		Int("balanced_workers", o.cfg.BalancedWorkers).
		Int("precision_workers", o.cfg.PrecisionWorkers).
		Msg("orchestrator started")
	return nil
}

// Shutdown stops dequeuing and waits for in-flight jobs. When ctx expires
// first, running stages are cut; their jobs stay in the persisted in-flight
// state and are re-queued on the next start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o.workerStop == nil {
		return nil
	}
	o.workerStop()
	if o.retention != nil {
		o.retention.Stop()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.jobStop()
		return nil
	case <-ctx.Done():
		o.jobStop()
		<-done
		return ctx.Err()
	}
}

func (o *Orchestrator) workersFor(class schema.TranscriptionMode) int {
	var n int
	switch class {
	case schema.ModeFast:
		n = o.cfg.FastWorkers
	case schema.ModeBalanced:
		n = o.cfg.BalancedWorkers
	case schema.ModePrecision:
		n = o.cfg.PrecisionWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// recoverInterrupted returns jobs that were mid-pipeline when the previous
// process stopped back to the queue.
func (o *Orchestrator) recoverInterrupted(ctx context.Context) error {
	jobs, err := o.store.Jobs.ListByStates(ctx,
		schema.StateQueued,
		schema.StatePreprocessing,
		schema.StateTranscribing,
		schema.StateEnhancing,
		schema.StateAIPostProcessing,
		schema.StateMonitoring,
		schema.StateFailedRetryable,
	)
	if err != nil {
		return fmt.Errorf("recovering interrupted jobs: %w", err)
	}

	for _, job := range jobs {
		if job.State != schema.StateQueued {
			// Recovery is the one place a job moves backwards outside the
			// edge table: the process owning the in-flight state is gone.
			log.Warn().
				Str("job_id", job.ID).
				Str("state", string(job.State)).
				Msg("re-queueing job interrupted by restart")
			job.State = schema.StateQueued
			job.Progress = stageProgress[schema.StateQueued]
			if err := o.store.Jobs.Save(ctx, job); err != nil {
				return err
			}
		}
		o.enqueue(job)
	}
	if len(jobs) > 0 {
		log.Info().Int("jobs", len(jobs)).Msg("recovered interrupted jobs")
	}
	return nil
}

// Submit admits a job through the quota gate, persists it and schedules it.
// A gate denial is returned as a decision, not an error.
func (o *Orchestrator) Submit(ctx context.Context, req schema.SubmitJobRequest) (*schema.TranscriptionJob, schema.AdmissionDecision, error) {
	mode := req.Mode
	if mode == "" {
		mode = schema.ModeBalanced
	}
	if !mode.Valid() {
		return nil, schema.AdmissionDecision{}, Failure(schema.ErrorModeNotAvailable, fmt.Sprintf("unknown transcription mode %q", mode))
	}

	options, err := o.Profiles().Resolve(mode, req.Options)
	if err != nil {
		return nil, schema.AdmissionDecision{}, Failure(schema.ErrorInvalidFormat, err.Error())
	}

	if o.queuedJobs() >= o.cfg.QueueSize {
		return nil, schema.AdmissionDecision{}, ErrQueueFull
	}

	estimate := req.EstimatedMinutes
	if estimate <= 0 {
		estimate = 1
	}
	decision, err := o.gate.Admit(ctx, schema.AdmissionRequest{
		OrganizationID:   req.OrganizationID,
		UserID:           req.UserID,
		Mode:             mode,
		EstimatedMinutes: estimate,
	})
	if err != nil {
		return nil, schema.AdmissionDecision{}, err
	}
	if !decision.Allowed {
		return nil, decision, nil
	}

	callback := req.CallbackURL
	if callback != "" && !o.cfg.CallbackAllowed {
		log.Warn().Str("meeting_id", req.MeetingID).Msg("callback URLs are disabled, dropping callback")
		callback = ""
	}

	job := &schema.TranscriptionJob{
		ID:               uuid.New().String(),
		MeetingID:        req.MeetingID,
		OrganizationID:   req.OrganizationID,
		UserID:           req.UserID,
		SourcePath:       req.AudioPath,
		Mode:             mode,
		Language:         req.Language,
		Priority:         mode.Priority(),
		Options:          options,
		State:            schema.StateQueued,
		MaxAttempts:      o.cfg.MaxAttempts,
		EstimatedMinutes: estimate,
		CallbackURL:      callback,
		QueuedAt:         o.clock(),
	}

	if err := o.store.Jobs.Create(ctx, job); err != nil {
		// Undo the reservation, the job never existed.
		o.gate.Release(job.OrganizationID, job.Mode)
		if rerr := o.gate.Refund(ctx, job.OrganizationID, job.Mode, estimate); rerr != nil {
			log.Error().Err(rerr).Str("organization_id", job.OrganizationID).Msg("refunding failed submission")
		}
		return nil, schema.AdmissionDecision{}, err
	}

	o.enqueue(job)
	log.Info().
		Str("job_id", job.ID).
		Str("meeting_id", job.MeetingID).
		Str("organization_id", job.OrganizationID).
		Str("mode", string(mode)).
		Str("priority", job.Priority.String()).
		Msg("job queued")
	return job, decision, nil
}

// GetJob loads one job.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*schema.TranscriptionJob, error) {
	return o.store.Jobs.Get(ctx, id)
}

// ListJobs pages through jobs matching the filter.
func (o *Orchestrator) ListJobs(ctx context.Context, f store.ListFilter) ([]*schema.TranscriptionJob, int64, error) {
	return o.store.Jobs.List(ctx, f)
}

// Cancel stops a job. Queued and waiting jobs finalize immediately; running
// jobs are interrupted and finalize on their worker.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*schema.TranscriptionJob, error) {
	job, err := o.store.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		return job, ErrJobFinished
	}

	// Flag first so a worker racing this call sees the request before it
	// starts running the job.
	o.cancelRequested.Set(jobID, true)
	if cancel, ok := o.cancels.GetOK(jobID); ok {
		cancel()
		log.Info().Str("job_id", jobID).Msg("cancellation requested for running job")
		return job, nil
	}

	o.finalize(job, schema.StateCancelled, nil)
	o.cancelRequested.Delete(jobID)
	return job, nil
}

func (o *Orchestrator) queuedJobs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, q := range o.queues {
		n += q.Size()
	}
	return n
}

func (o *Orchestrator) enqueue(job *schema.TranscriptionJob) {
	class := job.Mode
	if _, ok := o.queues[class]; !ok {
		class = schema.ModeBalanced
	}
	o.mu.Lock()
	o.seq++
	o.queues[class].Enqueue(queueItem{jobID: job.ID, priority: job.Priority, seq: o.seq})
	o.mu.Unlock()

	select {
	case o.wake[class] <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) dequeue(class schema.TranscriptionMode) (queueItem, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queues[class].Dequeue()
}

func (o *Orchestrator) worker(class schema.TranscriptionMode, id int) {
	defer o.wg.Done()
	for {
		select {
		case <-o.workerCtx.Done():
			return
		default:
		}

		item, ok := o.dequeue(class)
		if !ok {
			select {
			case <-o.workerCtx.Done():
				return
			case <-o.wake[class]:
				continue
			}
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("class", string(class)).
						Int("worker", id).
						Str("job_id", item.jobID).
						Interface("panic", r).
						Bytes("stack", debug.Stack()).
						Msg("worker recovered outside the stage pipeline")
				}
			}()
			o.runJob(item.jobID)
		}()
	}
}

func (o *Orchestrator) runJob(jobID string) {
	ctx, cancel := context.WithCancel(o.jobCtx)
	o.cancels.Set(jobID, cancel)
	defer func() {
		cancel()
		o.cancels.Delete(jobID)
		o.cancelRequested.Delete(jobID)
	}()

	job, err := o.store.Jobs.Get(ctx, jobID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("dequeued job could not be loaded")
		return
	}
	if job.State != schema.StateQueued {
		log.Debug().Str("job_id", jobID).Str("state", string(job.State)).Msg("skipping stale queue entry")
		return
	}
	if requested, _ := o.cancelRequested.GetOK(jobID); requested {
		// Cancel raced the dequeue and finalizes the job itself.
		return
	}

	job.Attempts++
	if job.StartedAt == nil {
		now := o.clock()
		job.StartedAt = &now
	}

	runCtx, timeoutCancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	defer timeoutCancel()

	stage, mp, err := o.executeStages(runCtx, job)
	if err == nil && runCtx.Err() != nil {
		// A lenient stage absorbed the interruption and kept going.
		err = runCtx.Err()
	}
	if err == nil {
		now := o.clock()
		job.CompletedAt = &now
		o.observe(runCtx, job, mp)
		o.finalize(job, schema.StateCompleted, nil)
		return
	}

	if requested, _ := o.cancelRequested.GetOK(job.ID); requested {
		o.finalize(job, schema.StateCancelled, nil)
		return
	}
	if o.jobCtx.Err() != nil {
		// Shutdown cut the job. Leave its persisted state alone so the next
		// start re-queues it.
		log.Info().Str("job_id", job.ID).Str("stage", stage).Msg("job interrupted by shutdown")
		return
	}

	perr := Classify(err)
	if perr.Stage == "" {
		perr.Stage = stage
	}

	if perr.Retryable && job.Attempts < job.MaxAttempts {
		o.scheduleRetry(job, perr)
		return
	}
	if perr.Retryable {
		log.Warn().
			Str("job_id", job.ID).
			Int("attempts", job.Attempts).
			Msg("retryable failure exhausted its attempts")
	}
	o.finalize(job, schema.StateFailedPermanent, perr)
}

// executeStages walks the pipeline from preprocessing to monitoring, saving
// the job on every transition. It returns the stage that failed alongside the
// error; a recovered panic comes back as a worker crash.
func (o *Orchestrator) executeStages(ctx context.Context, job *schema.TranscriptionJob) (stage string, mp *backend.MultiPassResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("job_id", job.ID).
				Str("stage", stage).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker crashed inside a stage")
			err = ClassifyPanic(r)
		}
	}()

	stage = "preprocessing"
	if err := o.transition(job, schema.StatePreprocessing); err != nil {
		return stage, nil, err
	}
	pcm, err := o.preprocessStage(ctx, job)
	if err != nil {
		return stage, nil, err
	}

	stage = "transcribing"
	if err := o.transition(job, schema.StateTranscribing); err != nil {
		return stage, nil, err
	}
	mp, err = o.transcribeStage(ctx, job, pcm)
	if err != nil {
		return stage, nil, err
	}
	job.PassCount = mp.Passes
	job.Segments = mp.Result.Segments
	job.Transcript = mp.Result.Text
	if job.Language == "" {
		job.Language = mp.Result.Language
	}

	stage = "enhancing"
	if err := o.transition(job, schema.StateEnhancing); err != nil {
		return stage, mp, err
	}
	o.vocabularyStage(ctx, job)

	if o.shouldEnhance(job) {
		stage = "ai_post_processing"
		if err := o.transition(job, schema.StateAIPostProcessing); err != nil {
			return stage, mp, err
		}
		o.enhanceStage(ctx, job)
	}

	stage = "monitoring"
	if err := o.transition(job, schema.StateMonitoring); err != nil {
		return stage, mp, err
	}
	return stage, mp, nil
}

// preprocessStage decodes the source audio, cleans it and enforces the
// quality floor. Decode failures are tagged before classification so a bad
// upload never burns retry attempts.
func (o *Orchestrator) preprocessStage(ctx context.Context, job *schema.TranscriptionJob) (audio.PCM, error) {
	pcm, err := audio.DecodeWAV(job.SourcePath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		return audio.PCM{}, &schema.PipelineError{Kind: schema.ErrorFileNotFound, Err: err}
	case errors.Is(err, audio.ErrUnsupportedDepth):
		return audio.PCM{}, &schema.PipelineError{Kind: schema.ErrorInvalidFormat, Err: err}
	default:
		// Distinguish an unsupported container from a broken one: a file that
		// sniffs as mp3 or flac is a format problem, not corruption.
		if isAudio, ct := audio.IdentifyFile(job.SourcePath); isAudio && ct != "audio/wav" {
			return audio.PCM{}, &schema.PipelineError{
				Kind:    schema.ErrorInvalidFormat,
				Message: fmt.Sprintf("%s input is not supported, upload WAV audio", ct),
				Err:     err,
			}
		}
		return audio.PCM{}, &schema.PipelineError{Kind: schema.ErrorFileCorrupted, Err: err}
	}

	job.DurationSeconds = pcm.Duration().Seconds()

	if !job.Options.PreprocessEnabled() {
		log.Debug().Str("job_id", job.ID).Msg("preprocessing disabled, transcribing raw audio")
		return pcm, ctx.Err()
	}

	cleaned, report, err := backend.Preprocess(pcm, backend.PreprocessOptions{})
	if err != nil {
		return audio.PCM{}, err
	}
	job.AudioQuality = report.Quality
	job.DurationSeconds = report.Duration.Seconds()

	if floor := job.Options.MinAudioQuality; floor != "" && !report.Quality.AtLeast(floor) {
		return audio.PCM{}, &schema.PipelineError{
			Kind:    schema.ErrorInsufficientAudio,
			Message: fmt.Sprintf("audio quality %s is below the required %s", report.Quality, floor),
		}
	}
	return cleaned, ctx.Err()
}

// transcribeStage runs the multi-pass engine, fanning long recordings out as
// overlapping chunks first.
func (o *Orchestrator) transcribeStage(ctx context.Context, job *schema.TranscriptionJob, pcm audio.PCM) (*backend.MultiPassResult, error) {
	policy := backend.PassPolicy{
		Temperatures:  job.Options.Temperatures,
		MaxPasses:     job.Options.MaxPasses,
		MinConfidence: job.Options.MinConfidence,
	}
	if !job.Options.MultiPassEnabled() {
		policy.MaxPasses = 1
	}
	engine := backend.NewEngine(o.transcriber)
	base := backend.TranscribeRequest{
		Language: job.Language,
		Prompt:   strings.Join(job.Options.CustomVocabulary, ", "),
	}

	if o.cfg.ChunkThreshold <= 0 || pcm.Duration() <= o.cfg.ChunkThreshold {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()
		base.Audio = pcm
		return engine.Run(stageCtx, base, policy, job.AudioQuality)
	}

	chunks := backend.SplitPCM(pcm, o.cfg.ChunkDuration, o.cfg.ChunkOverlap)
	job.ChunkCount = len(chunks)
	log.Info().
		Str("job_id", job.ID).
		Int("chunks", len(chunks)).
		Dur("duration", pcm.Duration()).
		Msg("chunking long recording")

	type chunkOutcome struct {
		chunk backend.Chunk
		mp    *backend.MultiPassResult
	}
	outcomes := concurrency.MapLimit(ctx, o.cfg.MaxParallelChunks, chunks,
		func(ctx context.Context, c backend.Chunk) (chunkOutcome, error) {
			chunkCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
			defer cancel()
			req := base
			req.Audio = c.PCM
			mp, err := engine.Run(chunkCtx, req, policy, job.AudioQuality)
			if err != nil {
				return chunkOutcome{}, fmt.Errorf("chunk %d: %w", c.Index, err)
			}
			return chunkOutcome{chunk: c, mp: mp}, nil
		})
	if err := concurrency.FirstError(outcomes); err != nil {
		return nil, err
	}

	results := make([]backend.ChunkResult, 0, len(chunks))
	passes := 0
	var disagreement float64
	for _, out := range outcomes {
		results = append(results, backend.ChunkResult{Chunk: out.Value.chunk, Result: out.Value.mp.Result})
		if out.Value.mp.Passes > passes {
			passes = out.Value.mp.Passes
		}
		disagreement += out.Value.mp.Disagreement
	}

	return &backend.MultiPassResult{
		Result:       backend.MergeChunkResults(results),
		Passes:       passes,
		Disagreement: disagreement / float64(len(results)),
	}, nil
}

// vocabularyStage rewrites org-specific terms in place. Matching is additive
// polish, its failure never fails a job holding a usable transcript.
func (o *Orchestrator) vocabularyStage(ctx context.Context, job *schema.TranscriptionJob) {
	if o.vocab == nil || !job.Options.VocabularyEnabled() || len(job.Segments) == 0 {
		return
	}
	segments, matches, err := o.vocab.Apply(ctx, job.OrganizationID, job.Segments)
	if err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("vocabulary matching failed, keeping raw transcript")
		return
	}
	job.Segments = segments
	job.Transcript = joinSegmentTexts(segments)
	if len(matches) > 0 {
		log.Debug().Str("job_id", job.ID).Int("matches", len(matches)).Msg("vocabulary terms applied")
	}
}

func (o *Orchestrator) shouldEnhance(job *schema.TranscriptionJob) bool {
	if o.enhancer == nil {
		return false
	}
	minSeconds := int(o.Profiles()[job.Mode].EnhanceMinSeconds)
	duration := time.Duration(job.DurationSeconds * float64(time.Second))
	return backend.ShouldEnhance(job.Options, duration, minSeconds)
}

func (o *Orchestrator) enhanceStage(ctx context.Context, job *schema.TranscriptionJob) {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()
	text, applied := backend.EnhanceTranscript(stageCtx, o.enhancer, job.Transcript, job.Language)
	job.Transcript = text
	job.Enhanced = applied
}

func (o *Orchestrator) observe(ctx context.Context, job *schema.TranscriptionJob, mp *backend.MultiPassResult) {
	if o.accuracy == nil || mp == nil {
		return
	}
	result := schema.TranscriptionResult{
		Segments: job.Segments,
		Text:     job.Transcript,
		Language: job.Language,
		Duration: time.Duration(job.DurationSeconds * float64(time.Second)),
	}
	o.accuracy.ObserveJob(ctx, job, result, mp.Disagreement)
}

// transition validates the edge, updates progress and persists the job.
func (o *Orchestrator) transition(job *schema.TranscriptionJob, next schema.JobState) error {
	if !job.State.CanTransitionTo(next) {
		return fmt.Errorf("illegal transition %s -> %s for job %s", job.State, next, job.ID)
	}
	job.State = next
	if p, ok := stageProgress[next]; ok && p > job.Progress {
		job.Progress = p
	}
	// Persist with a background context: a transition must not be lost to the
	// cancellation that caused it.
	if err := o.store.Jobs.Save(context.Background(), job); err != nil {
		return err
	}
	log.Debug().Str("job_id", job.ID).Str("state", string(next)).Int("progress", job.Progress).Msg("job transitioned")
	return nil
}

// finalize moves a job into a terminal state, settles quota and publishes the
// completion event.
func (o *Orchestrator) finalize(job *schema.TranscriptionJob, state schema.JobState, perr *schema.PipelineError) {
	ctx := context.Background()
	if job.CompletedAt == nil {
		now := o.clock()
		job.CompletedAt = &now
	}
	job.Error = perr
	if perr != nil {
		job.RequiresManualIntervention = perr.Manual
	}

	if job.State.CanTransitionTo(state) {
		job.State = state
	} else if job.State != state {
		log.Warn().
			Str("job_id", job.ID).
			Str("from", string(job.State)).
			Str("to", string(state)).
			Msg("forcing terminal state outside the edge table")
		job.State = state
	}
	if state == schema.StateCompleted {
		job.Progress = stageProgress[schema.StateCompleted]
	}
	if err := o.store.Jobs.Save(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("persisting terminal job state")
	}

	o.gate.Release(job.OrganizationID, job.Mode)
	refund := state == schema.StateFailedPermanent ||
		(state == schema.StateCancelled && !job.BilledPass())
	if refund && job.EstimatedMinutes > 0 {
		if err := o.gate.Refund(ctx, job.OrganizationID, job.Mode, job.EstimatedMinutes); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("refunding reserved minutes")
		}
	}

	if o.broker != nil {
		o.broker.PublishJob(job)
	}
	o.recordTerminal(job)

	evt := log.Info().
		Str("job_id", job.ID).
		Str("state", string(state)).
		Int("attempts", job.Attempts)
	if perr != nil {
		evt = evt.Str("kind", string(perr.Kind)).Str("error", perr.Message)
	}
	evt.Msg("job finished")
}

func (o *Orchestrator) recordTerminal(job *schema.TranscriptionJob) {
	var duration time.Duration
	if job.StartedAt != nil && job.CompletedAt != nil {
		duration = job.CompletedAt.Sub(*job.StartedAt)
	}
	if o.stats != nil {
		o.stats.RecordJob(job.Mode, job.State, duration)
	}
	if o.metrics != nil {
		o.metrics.ObserveJob(job.Mode, job.State, duration.Seconds())
	}
}

// scheduleRetry parks the job in failed_retryable and re-queues it after the
// classifier's delay.
func (o *Orchestrator) scheduleRetry(job *schema.TranscriptionJob, perr *schema.PipelineError) {
	job.Error = perr
	if err := o.transition(job, schema.StateFailedRetryable); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("parking job for retry")
		o.finalize(job, schema.StateFailedPermanent, perr)
		return
	}

	delay := RetryDelay(perr, job.Attempts)
	log.Info().
		Str("job_id", job.ID).
		Str("kind", string(perr.Kind)).
		Int("attempt", job.Attempts).
		Dur("delay", delay).
		Msg("job scheduled for retry")

	time.AfterFunc(delay, func() { o.requeue(job.ID) })
}

func (o *Orchestrator) requeue(jobID string) {
	ctx := context.Background()
	job, err := o.store.Jobs.Get(ctx, jobID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("re-queueing retry")
		return
	}
	if job.State != schema.StateFailedRetryable {
		return
	}
	if err := o.transition(job, schema.StateQueued); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("re-queueing retry")
		return
	}
	o.enqueue(job)
}

// archiveExpired is the retention cron body.
func (o *Orchestrator) archiveExpired() {
	if o.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := o.clock().AddDate(0, 0, -o.cfg.RetentionDays)
	n, err := o.store.Jobs.ArchiveOlderThan(context.Background(), cutoff)
	if err != nil {
		log.Error().Err(err).Msg("archiving expired jobs")
		return
	}
	if n > 0 {
		log.Info().Int64("jobs", n).Time("cutoff", cutoff).Msg("archived expired jobs")
	}
}

func joinSegmentTexts(segments []schema.TranscriptSegment) string {
	texts := make([]string, 0, len(segments))
	for _, s := range segments {
		texts = append(texts, s.Text)
	}
	return strings.Join(texts, " ")
}
