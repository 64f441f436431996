// Package worker runs synthesis jobs pulled from the queue. Each job moves
// through a monotonic state machine: pending, zero or more progress updates,
// then exactly one terminal state. Terminal states are never rewritten.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/tospeech/server/internal/audio"
	"github.com/tospeech/server/internal/history"
	"github.com/tospeech/server/internal/model"
	"github.com/tospeech/server/internal/queue"
	"github.com/tospeech/server/internal/state"
	"github.com/tospeech/server/internal/synth"
)

// Progress messages shown to clients while a job runs.
const (
	msgLoadingModel = "Loading model..."
	msgSynthesizing = "Synthesizing audio..."
	msgSaving       = "Saving audio file..."

	msgCancelled = "Task cancelled by user"
	msgTimedOut  = "Generation timed out"
)

// stateInterrupted marks a job cut short by worker shutdown rather than by
// the user or the clock. It is not a job state: nothing is written to the
// state store and the message is returned to the queue for redelivery.
const stateInterrupted = "interrupted"

// ackWaitSlack pads the queue ack deadline past the job timeout so a job
// that times out is finalized by this worker, not redelivered to another.
const ackWaitSlack = 30 * time.Second

// Config carries the worker's runtime settings.
type Config struct {
	VoicesDir   string
	ArtifactDir string
	JobTimeout  time.Duration
	Concurrency int
	Logger      *slog.Logger
}

// Engine consumes jobs and drives them to a terminal state. It tracks every
// in-flight job so a kill broadcast can abort the matching job immediately.
type Engine struct {
	state   *state.Store
	queue   *queue.Queue
	history history.Store
	cache   *synth.Cache

	voicesDir   string
	artifactDir string
	jobTimeout  time.Duration
	concurrency int
	log         *slog.Logger

	mu      sync.Mutex
	running map[string]*runningJob
}

// runningJob is the handle for one in-flight job. killed distinguishes a
// kill broadcast from a worker-shutdown context cancellation: both cancel
// the job context, but only the former means the user asked for it.
type runningJob struct {
	cancel context.CancelFunc
	killed atomic.Bool
}

func New(st *state.Store, q *queue.Queue, hist history.Store, cache *synth.Cache, cfg Config) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Engine{
		state:       st,
		queue:       q,
		history:     hist,
		cache:       cache,
		voicesDir:   cfg.VoicesDir,
		artifactDir: cfg.ArtifactDir,
		jobTimeout:  cfg.JobTimeout,
		concurrency: cfg.Concurrency,
		log:         cfg.Logger,
		running:     make(map[string]*runningJob),
	}
}

// Run subscribes to the kill broadcast and starts the configured number of
// consume loops, then blocks until ctx is cancelled and every loop has
// drained. Each loop owns at most one job at a time.
func (e *Engine) Run(ctx context.Context) error {
	killSub, err := e.queue.SubscribeKill(e.kill)
	if err != nil {
		return fmt.Errorf("subscribe to kill broadcast: %w", err)
	}
	defer func() { _ = killSub.Unsubscribe() }()

	ackWait := e.jobTimeout + ackWaitSlack
	errCh := make(chan error, e.concurrency)
	for i := 0; i < e.concurrency; i++ {
		go func() {
			errCh <- e.queue.Consume(ctx, func(msg *nats.Msg) {
				e.handle(ctx, msg)
			}, ackWait)
		}()
	}

	e.log.Info("worker started", "job_timeout", e.jobTimeout, "concurrency", e.concurrency)

	var firstErr error
	for i := 0; i < e.concurrency; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.log.Info("worker shutting down")
	return firstErr
}

// kill aborts an in-flight job by id. Unknown ids are ignored; the job may
// be running on another worker or already finished.
func (e *Engine) kill(jobID string) {
	e.mu.Lock()
	job, ok := e.running[jobID]
	e.mu.Unlock()
	if ok {
		e.log.Info("kill received for running job", "job_id", jobID)
		job.killed.Store(true)
		job.cancel()
	}
}

func (e *Engine) track(jobID string, job *runningJob) {
	e.mu.Lock()
	e.running[jobID] = job
	e.mu.Unlock()
}

func (e *Engine) untrack(jobID string) {
	e.mu.Lock()
	delete(e.running, jobID)
	e.mu.Unlock()
}

// handle decodes and executes one queued job. Concluded jobs are acked:
// every user-visible outcome writes a terminal state first, so redelivery
// would only rerun a finished job. A job interrupted by shutdown is nacked
// instead so a surviving worker picks it up.
func (e *Engine) handle(ctx context.Context, msg *nats.Msg) {
	var payload model.JobPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		e.log.Error("discarding undecodable job message", "error", err)
		_ = msg.Term()
		return
	}

	if st := e.execute(ctx, payload); st == stateInterrupted {
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func (e *Engine) execute(ctx context.Context, payload model.JobPayload) string {
	start := time.Now()
	log := e.log.With("job_id", payload.ID, "model", payload.Spec.ModelName)

	jctx, cancel := context.WithTimeout(ctx, e.jobTimeout)
	defer cancel()
	job := &runningJob{cancel: cancel}
	e.track(payload.ID, job)
	defer e.untrack(payload.ID)

	log.Info("job started")
	st := e.run(jctx, payload, job, log)
	if st == stateInterrupted {
		log.Info("job interrupted by shutdown, returning to queue")
		return st
	}

	jobsTotal.WithLabelValues(st).Inc()
	jobDuration.Observe(time.Since(start).Seconds())
	log.Info("job finished", "state", st, "duration", time.Since(start))
	return st
}

// run drives one job through its lifecycle and returns the state it reached.
// Cancellation is checked at the start, continuously during synthesis
// through the probe, and again before the artifact is written; a cancelled
// job never produces an artifact or a history row.
func (e *Engine) run(ctx context.Context, payload model.JobPayload, job *runningJob, log *slog.Logger) string {
	id := payload.ID
	spec := payload.Spec

	if e.state.CancelRequested(id) {
		return e.finish(id, model.StateCancelled, nil, msgCancelled, log)
	}

	e.progress(id, msgLoadingModel, log)
	loadStart := time.Now()
	handle, err := e.cache.Acquire(spec.ModelName)
	if err != nil {
		log.Error("model load failed", "error", err)
		return e.finish(id, model.StateFailed, nil, "Generation failed: model could not be loaded", log)
	}
	modelLoadDuration.Observe(time.Since(loadStart).Seconds())

	if spec.Voice != "" {
		e.progress(id, fmt.Sprintf("Configuring voice: %s...", spec.Voice), log)
	}
	voicePath, err := synth.ResolveVoice(e.voicesDir, handle.Family, spec.Voice)
	if err != nil {
		log.Error("voice resolution failed", "voice", spec.Voice, "error", err)
		return e.finish(id, model.StateFailed, nil, "Generation failed: invalid voice", log)
	}

	if st := e.halt(ctx, id, job); st != "" {
		return e.settle(st, id, log)
	}

	e.progress(id, msgSynthesizing, log)
	samples, sampleRate, err := handle.Synth.Synthesize(ctx, synth.SynthesisRequest{
		Text:           spec.Text,
		VoicePath:      voicePath,
		GuidanceScale:  spec.GuidanceScale,
		InferenceSteps: spec.InferenceSteps,
	}, func() bool { return e.state.CancelRequested(id) })
	if err != nil {
		if st := e.halt(ctx, id, job); st != "" {
			return e.settle(st, id, log)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The probe aborted the engine call; the marker may have
			// expired between the probe hit and this check.
			return e.finish(id, model.StateCancelled, nil, msgCancelled, log)
		}
		log.Error("synthesis failed", "error", err)
		return e.finish(id, model.StateFailed, nil, "Generation failed: synthesis error", log)
	}

	// A cancel that landed after synthesis finished still wins: the result
	// is discarded rather than delivered.
	if st := e.halt(ctx, id, job); st != "" {
		return e.settle(st, id, log)
	}

	e.progress(id, msgSaving, log)
	rec, err := e.saveArtifact(payload, samples, sampleRate)
	if err != nil {
		log.Error("artifact save failed", "error", err)
		return e.finish(id, model.StateFailed, nil, "Generation failed: could not save audio", log)
	}

	// A job must never stay in progress once its artifact exists. If the
	// completed write is refused, force a failure instead.
	if err := e.state.SetTerminal(id, model.StateCompleted, rec, ""); err != nil {
		log.Error("completed state write failed", "error", err)
		return e.finish(id, model.StateFailed, nil, "Generation failed: could not record result", log)
	}
	return model.StateCompleted
}

// halt reports whether the job should stop now and why: the cancellation
// marker or a kill broadcast means the user cancelled, the job deadline
// means a timeout, and a plain context cancellation means the worker itself
// is shutting down. Empty string means keep going.
func (e *Engine) halt(ctx context.Context, id string, job *runningJob) string {
	if job.killed.Load() || e.state.CancelRequested(id) {
		return model.StateCancelled
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return model.StateTimedOut
	case ctx.Err() != nil:
		return stateInterrupted
	}
	return ""
}

// settle writes the terminal state halt decided on, except for shutdown
// interruptions, which leave the store untouched for the next worker.
func (e *Engine) settle(st, id string, log *slog.Logger) string {
	switch st {
	case model.StateCancelled:
		return e.finish(id, model.StateCancelled, nil, msgCancelled, log)
	case model.StateTimedOut:
		return e.finish(id, model.StateTimedOut, nil, msgTimedOut, log)
	default:
		return stateInterrupted
	}
}

// saveArtifact normalizes the raw samples, encodes the WAV file into the
// artifact directory, and records the artifact in history. The stored path
// is the unsigned /static/ path; links are signed at read time.
func (e *Engine) saveArtifact(payload model.JobPayload, samples []float64, sampleRate int) (*model.ArtifactRecord, error) {
	pcm := audio.NormalizePCM16(samples)
	wav, err := audio.EncodeWAV(pcm, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}

	filename := "audio_" + uuid.NewString() + ".wav"
	path := filepath.Join(e.artifactDir, filename)
	if err := os.WriteFile(path, wav, 0o600); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}

	rec := &model.ArtifactRecord{
		OwnerID:        payload.OwnerID,
		TextInput:      payload.Spec.Text,
		ModelName:      payload.Spec.ModelName,
		Voice:          payload.Spec.Voice,
		GuidanceScale:  payload.Spec.GuidanceScale,
		InferenceSteps: payload.Spec.InferenceSteps,
		Duration:       audio.Duration(len(pcm), sampleRate),
		StoragePath:    "/static/" + filename,
		CreatedAt:      time.Now().UTC(),
	}

	// The job context may already be past its deadline here; the artifact
	// exists on disk, so the history row is written regardless.
	if err := e.history.CreateArtifact(context.Background(), rec); err != nil {
		return nil, fmt.Errorf("record artifact: %w", err)
	}
	return rec, nil
}

// progress publishes a progress update. Failures are logged and swallowed;
// a stale progress message never stops the job itself.
func (e *Engine) progress(id, message string, log *slog.Logger) {
	if err := e.state.SetProgress(id, message); err != nil {
		log.Warn("progress update failed", "error", err)
	}
}

// finish writes the terminal state. Non-completed states carry a
// client-safe error string; failure details stay in the logs.
func (e *Engine) finish(id, terminalState string, rec *model.ArtifactRecord, errMsg string, log *slog.Logger) string {
	if err := e.state.SetTerminal(id, terminalState, rec, errMsg); err != nil {
		log.Error("terminal state write failed", "state", terminalState, "error", err)
	}
	return terminalState
}
