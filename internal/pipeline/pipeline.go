/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package pipeline runs voice-cloning generations end to end, either inline
// for a waiting caller or detached with progress reported through the task
// tracker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-voice/internal/apperr"
	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/backend"
	"github.com/loqalabs/loqa-voice/internal/events"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/messaging"
	"github.com/loqalabs/loqa-voice/internal/metrics"
	"github.com/loqalabs/loqa-voice/internal/progress"
	"github.com/loqalabs/loqa-voice/internal/store"
	"github.com/loqalabs/loqa-voice/internal/synthesis"
)

var (
	ErrVoiceNotFound     = apperr.WithDetail(apperr.ErrNotFound, "Voice not found")
	ErrVoiceAudioMissing = apperr.WithDetail(apperr.ErrNotFound, "Voice audio file not found")
	ErrNotTranscribed    = apperr.WithDetail(apperr.ErrPreconditionFailed,
		"Voice must have transcription for TTS generation. Please transcribe the voice first.")

	// ErrShuttingDown is returned by Submit once Shutdown has begun
	ErrShuttingDown = errors.New("pipeline is shutting down")
)

// Progress milestones reported to the tracker
const (
	progressInitializing = 10
	progressGenerating   = 30
	progressGenerated    = 70
	progressProcessing   = 80
	progressSaving       = 90
)

// Synthesizer produces samples for a cloned voice
type Synthesizer interface {
	Initialize(ctx context.Context, model string) error
	GenerateWithModel(ctx context.Context, model, text, refAudioPath, refText string, progress backend.ProgressFunc) (synthesis.Result, error)
}

// EntityStore is the part of the entity store the pipeline reads and writes
type EntityStore interface {
	GetVoice(id string) (store.Voice, bool, error)
	VoiceAudioPath(id string) (string, bool)
	VoiceTranscription(id string) (string, bool, error)
	CreateGeneration(audioData []byte, text, voiceID, model string, duration *float64) (store.Generation, error)
}

// RunRecorder persists the audit record of each run
type RunRecorder interface {
	Insert(run *events.GenerationRun) error
}

// Request is a validated generation request
type Request struct {
	Text    string
	VoiceID string
	Model   string // empty selects the first catalog entry
}

// Job is a request with its voice resolved
type Job struct {
	TaskID             string
	Request            Request
	ReferenceAudioPath string
	ReferenceText      string
}

// Result is the representation of a stored generation handed to clients
type Result struct {
	store.Generation
	AudioURL string `json:"audio_url"`
}

// AudioURL is the download path for a generation's audio
func AudioURL(generationID string) string {
	return "/api/generations/" + generationID + "/audio"
}

// NewResult attaches the audio download URL to a generation
func NewResult(gen store.Generation) Result {
	return Result{Generation: gen, AudioURL: AudioURL(gen.ID)}
}

// Runner executes generation jobs
type Runner struct {
	synth   Synthesizer
	store   EntityStore
	tracker *progress.Tracker

	recorder  RunRecorder
	publisher messaging.Publisher
	metrics   *metrics.Metrics

	mu       sync.Mutex
	wg       sync.WaitGroup
	closing  bool
	inflight int
}

// Option configures optional collaborators of a Runner
type Option func(*Runner)

// WithRecorder stores a GenerationRun for every execution
func WithRecorder(r RunRecorder) Option {
	return func(rn *Runner) { rn.recorder = r }
}

// WithPublisher announces every finished run
func WithPublisher(p messaging.Publisher) Option {
	return func(rn *Runner) { rn.publisher = p }
}

// WithMetrics records run counts and durations
func WithMetrics(m *metrics.Metrics) Option {
	return func(rn *Runner) { rn.metrics = m }
}

// NewRunner wires the pipeline to its collaborators
func NewRunner(synth Synthesizer, entities EntityStore, tracker *progress.Tracker, opts ...Option) *Runner {
	r := &Runner{
		synth:     synth,
		store:     entities,
		tracker:   tracker,
		publisher: messaging.NopPublisher{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks up the voice behind req and returns a runnable job
func (r *Runner) Resolve(req Request) (Job, error) {
	if _, ok, err := r.store.GetVoice(req.VoiceID); err != nil {
		return Job{}, fmt.Errorf("failed to read voice: %w", err)
	} else if !ok {
		return Job{}, ErrVoiceNotFound
	}

	refPath, ok := r.store.VoiceAudioPath(req.VoiceID)
	if !ok {
		return Job{}, ErrVoiceAudioMissing
	}

	refText, ok, err := r.store.VoiceTranscription(req.VoiceID)
	if err != nil {
		return Job{}, fmt.Errorf("failed to read transcription: %w", err)
	}
	if !ok || strings.TrimSpace(refText) == "" {
		return Job{}, ErrNotTranscribed
	}

	return Job{
		Request:            req,
		ReferenceAudioPath: refPath,
		ReferenceText:      refText,
	}, nil
}

// Generate runs job inline and returns the stored generation
func (r *Runner) Generate(ctx context.Context, job Job) (Result, error) {
	if job.TaskID == "" {
		job.TaskID = uuid.NewString()
	}
	return r.execute(ctx, job, events.ModeSync, nil)
}

// Submit registers a task for job and runs it on its own goroutine. The task
// id is job.TaskID when set, otherwise a new UUID.
func (r *Runner) Submit(job Job) (string, error) {
	if job.TaskID == "" {
		job.TaskID = uuid.NewString()
	}

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return "", ErrShuttingDown
	}
	r.wg.Add(1)
	r.inflight++
	r.mu.Unlock()

	r.tracker.CreateTask(job.TaskID, "Queued for generation")

	go func() {
		defer func() {
			r.mu.Lock()
			r.inflight--
			r.mu.Unlock()
			r.wg.Done()
		}()
		r.Run(context.Background(), job)
	}()

	return job.TaskID, nil
}

// Run executes job, reporting each stage to the tracker. It never panics and
// never returns an error: every failure ends up on the task.
func (r *Runner) Run(ctx context.Context, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("%w: panic: %v", apperr.ErrGenerationFailed, rec)
			logging.LogError(err, "Generation task panicked", zap.String("task_id", job.TaskID))
			r.tracker.FailTask(job.TaskID, err.Error())
		}
	}()

	report := func(status progress.Status, pct int, msg string) {
		r.tracker.UpdateProgress(job.TaskID,
			progress.WithStatus(status),
			progress.WithProgress(pct),
			progress.WithMessage(msg))
	}

	result, err := r.execute(ctx, job, events.ModeAsync, report)
	if err != nil {
		r.tracker.FailTask(job.TaskID, err.Error())
		return
	}
	r.tracker.CompleteTask(job.TaskID, result)
}

type reportFunc func(status progress.Status, pct int, msg string)

func (r *Runner) execute(ctx context.Context, job Job, mode events.Mode, report reportFunc) (result Result, err error) {
	if report == nil {
		report = func(progress.Status, int, string) {}
	}
	req := job.Request
	run := events.NewGenerationRun(job.TaskID, mode, req.VoiceID, req.Text)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", apperr.ErrGenerationFailed, rec)
		}
		if err != nil {
			run.SetError(err)
		}
		r.finish(ctx, run, time.Since(start))
	}()

	report(progress.StatusInitializing, progressInitializing, "Loading model")
	if err := r.synth.Initialize(ctx, req.Model); err != nil {
		return Result{}, err
	}
	report(progress.StatusGenerating, progressGenerating, "Generating speech")

	synthResult, err := r.synth.GenerateWithModel(ctx, req.Model, req.Text,
		job.ReferenceAudioPath, job.ReferenceText, stageReporter(report))
	if err != nil {
		return Result{}, err
	}
	run.Model = synthResult.Model

	report(progress.StatusProcessing, progressProcessing, "Processing audio")
	if len(synthResult.Samples) == 0 {
		return Result{}, fmt.Errorf("%w: backend returned no audio", apperr.ErrGenerationFailed)
	}

	wavData, err := audio.EncodeWAV(synthResult.Samples, synthResult.SampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", apperr.ErrEncodingFailed, err)
	}
	if err := audio.Validate(wavData); err != nil {
		return Result{}, fmt.Errorf("%w: %v", apperr.ErrEncodingFailed, err)
	}
	duration := audio.SamplesDuration(len(synthResult.Samples), synthResult.SampleRate)
	if d, ok := audio.Duration(wavData); ok {
		duration = d
	}

	report(progress.StatusProcessing, progressSaving, "Saving generation")
	model := synthResult.Model
	if model == "" {
		model = "unknown"
	}
	gen, err := r.store.CreateGeneration(wavData, req.Text, req.VoiceID, model, &duration)
	if err != nil {
		return Result{}, fmt.Errorf("failed to save generation: %w", err)
	}

	run.SetResult(gen.ID, model, duration, synthResult.SampleRate)
	return NewResult(gen), nil
}

// stageReporter maps backend checkpoints into the generating band of the
// task's progress
func stageReporter(report reportFunc) backend.ProgressFunc {
	return func(p backend.Progress) {
		pct := progressGenerating
		switch {
		case p.Total > 0:
			pct += (progressGenerated - progressGenerating) * min(p.Current, p.Total) / p.Total
		case p.Stage == backend.StageReferenceLoaded:
			pct = 35
		case p.Stage == backend.StageGenerationStarted:
			pct = 40
		case p.Stage == backend.StageGenerationFinished:
			pct = progressGenerated
		}

		msg := p.Message
		if msg == "" {
			msg = "Generating speech"
		}
		report(progress.StatusGenerating, pct, msg)
	}
}

// finish records the run in history, metrics and on the message bus. None of
// these may fail the run.
func (r *Runner) finish(ctx context.Context, run *events.GenerationRun, elapsed time.Duration) {
	run.ProcessingTime = elapsed.Milliseconds()
	r.metrics.ObserveGeneration(string(run.Mode), run.Success, elapsed)

	if r.recorder != nil {
		if err := r.recorder.Insert(run); err != nil {
			logging.LogError(err, "Failed to record generation run", zap.String("run_id", run.RunID))
		}
	}
	if err := r.publisher.PublishGenerationRun(context.WithoutCancel(ctx), run); err != nil {
		logging.LogWarn("Failed to publish generation run",
			zap.String("run_id", run.RunID), zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("mode", string(run.Mode)),
		zap.String("voice_id", run.VoiceID),
		zap.String("model", run.Model),
		zap.Duration("elapsed", elapsed),
	}
	if run.Success {
		logging.LogTaskEvent(run.RunID, "generation_succeeded", append(fields, zap.String("generation_id", run.GenerationID))...)
	} else {
		logging.LogTaskEvent(run.RunID, "generation_failed", append(fields, zap.String("error", run.ErrorMessage))...)
	}
}

// InFlight reports how many submitted jobs have not finished
func (r *Runner) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight
}

// Wait blocks until every submitted job has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting jobs and waits for running ones until ctx is done
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d generation task(s) still running: %w", r.InFlight(), ctx.Err())
	}
}
