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

// Package server assembles the voice service and owns its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-voice/internal/api"
	"github.com/loqalabs/loqa-voice/internal/backend"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/events"
	"github.com/loqalabs/loqa-voice/internal/history"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/messaging"
	"github.com/loqalabs/loqa-voice/internal/metrics"
	"github.com/loqalabs/loqa-voice/internal/pipeline"
	"github.com/loqalabs/loqa-voice/internal/platform"
	"github.com/loqalabs/loqa-voice/internal/progress"
	"github.com/loqalabs/loqa-voice/internal/scheduler"
	"github.com/loqalabs/loqa-voice/internal/store"
	"github.com/loqalabs/loqa-voice/internal/synthesis"
	"github.com/loqalabs/loqa-voice/internal/transcription"
)

// Server represents the voice cloning HTTP service
type Server struct {
	cfg     *config.Config
	mux     *http.ServeMux
	server  *http.Server
	handler http.Handler

	platform    platform.Descriptor
	synthesis   *synthesis.Service
	store       *store.Store
	tracker     *progress.Tracker
	runner      *pipeline.Runner
	publisher   messaging.Publisher
	metrics     *metrics.Metrics
	historyDB   *history.Database
	runs        *history.RunsStore
	transcriber transcription.Transcriber
	scheduler   *scheduler.Scheduler

	closeOnce sync.Once
}

// Option customizes server construction
type Option func(*options)

type options struct {
	factory synthesis.Factory
}

// WithBackendFactory replaces the platform-selected backend
func WithBackendFactory(f synthesis.Factory) Option {
	return func(o *options) { o.factory = f }
}

// New wires every component from cfg. Optional subsystems (history, NATS,
// metrics, transcription) degrade to no-ops when disabled or unavailable.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	desc, err := platform.Detect().WithOverride(cfg.TTS.Backend)
	if err != nil {
		return nil, err
	}

	if o.factory == nil {
		backendOpts := backend.Options{PythonPath: cfg.TTS.PythonPath, SampleRate: cfg.TTS.SampleRate}
		o.factory = func() (backend.Backend, error) {
			return backend.New(desc, backendOpts)
		}
	}

	s := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		platform:  desc,
		publisher: messaging.NopPublisher{},
		scheduler: scheduler.New(time.Local),
	}

	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
	}

	if cfg.NATS.URL != "" {
		pub, err := messaging.NewNATSPublisher(messaging.NATSConfig{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxReconnect:  cfg.NATS.MaxReconnect,
			ReconnectWait: cfg.NATS.ReconnectWait,
		})
		if err != nil {
			logging.LogWarn("NATS unavailable, lifecycle events will not be published",
				zap.String("url", cfg.NATS.URL), zap.Error(err))
		} else {
			s.publisher = pub
		}
	}

	s.store, err = store.New(cfg.Storage.DataDir)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open entity store: %w", err)
	}

	s.synthesis = synthesis.NewService(o.factory, synthesis.WithLoadObserver(func(model string, err error) {
		s.metrics.ObserveModelLoad(model, err == nil)
	}))

	s.tracker = progress.NewTracker(
		progress.WithMaxEntries(cfg.Tasks.MaxEntries),
		progress.WithListener(s.publishTask),
	)
	if err := s.metrics.TrackTasks(s.tracker); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register task metrics: %w", err)
	}

	runnerOpts := []pipeline.Option{
		pipeline.WithPublisher(s.publisher),
		pipeline.WithMetrics(s.metrics),
	}
	if cfg.Storage.HistoryPath != "" {
		s.historyDB, err = history.NewDatabase(history.DatabaseConfig{Path: cfg.Storage.HistoryPath})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		s.runs = history.NewRunsStore(s.historyDB)
		runnerOpts = append(runnerOpts, pipeline.WithRecorder(s.runs))
	}
	s.runner = pipeline.NewRunner(s.synthesis, s.store, s.tracker, runnerOpts...)

	s.transcriber, err = transcription.New(transcription.Config{
		Enabled:   cfg.Transcription.Enabled,
		ModelPath: cfg.Transcription.ModelPath,
		Language:  cfg.Transcription.Language,
	})
	if err != nil {
		logging.LogWarn("Transcription unavailable", zap.Error(err))
		s.transcriber = transcription.Disabled{}
	}

	if err := s.scheduleJobs(); err != nil {
		s.Close()
		return nil, err
	}

	s.routes()
	s.handler = s.withCORS(s.withObservability(s.mux))
	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	logging.Sugar.Infow("🔧 Components configured",
		"backend", desc.Backend,
		"overridden", desc.Overridden,
		"data_dir", cfg.Storage.DataDir,
		"history", cfg.Storage.HistoryPath,
		"nats_url", cfg.NATS.URL,
		"metrics", cfg.Metrics.Enabled)

	return s, nil
}

func (s *Server) scheduleJobs() error {
	if spec := s.cfg.Tasks.CleanupSchedule; spec != "" {
		if _, err := s.scheduler.Add("task-sweep", spec, scheduler.TaskSweepJob(s.tracker, s.cfg.Tasks.MaxAge)); err != nil {
			return err
		}
	}
	if s.runs != nil && s.cfg.Storage.HistoryRetention > 0 {
		if _, err := s.scheduler.Add("history-prune", "@every 1h",
			scheduler.HistoryPruneJob(s.runs, s.cfg.Storage.HistoryRetention, nil)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) routes() {
	h := api.NewHandler(api.Deps{
		Store:       s.store,
		Synthesis:   s.synthesis,
		Runner:      s.runner,
		Tracker:     s.tracker,
		Transcriber: s.transcriber,
		Runs:        s.runs,
		Platform:    s.platform,
	})
	h.Register(s.mux)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// publishTask forwards tracker transitions to the message bus
func (s *Server) publishTask(task progress.Task) {
	event := events.TaskEvent{
		TaskID:    task.ID,
		Status:    string(task.Status),
		Progress:  task.Progress,
		Message:   task.Message,
		Error:     task.ErrorText(),
		Result:    task.Result,
		Timestamp: task.UpdatedAt,
	}
	if err := s.publisher.PublishTaskEvent(context.Background(), event); err != nil {
		logging.LogWarn("Failed to publish task event",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves HTTP and runs scheduled jobs until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Sugar.Infow("🚀 Voice service listening",
			"address", s.server.Addr,
			"backend", s.platform.Backend)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.scheduler.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) shutdown() error {
	logging.Sugar.Infow("🛑 Shutting down voice service")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
	}
	if err := s.runner.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	// Work still running holds the synthesis lock and writes run history.
	// Closing under it would block or fail, so leave it to process exit.
	if err := errors.Join(errs...); err != nil {
		logging.LogWarn("Shutdown timed out with work in flight; leaving resources open",
			zap.Error(err))
		return err
	}
	s.Close()
	logging.Sugar.Infow("✅ Voice service shut down successfully")
	return nil
}

// Close releases backend, bus and database resources. It is safe to call
// more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.synthesis != nil {
			s.synthesis.Close()
		}
		if s.transcriber != nil {
			if err := s.transcriber.Close(); err != nil {
				logging.LogWarn("Failed to close transcriber", zap.Error(err))
			}
		}
		if s.publisher != nil {
			s.publisher.Close()
		}
		if s.historyDB != nil {
			if err := s.historyDB.Close(); err != nil {
				logging.LogWarn("Failed to close history database", zap.Error(err))
			}
		}
	})
}
