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

// Package synthesis owns the single resident backend and model for the
// process and serializes every generation through it.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-voice/internal/apperr"
	"github.com/loqalabs/loqa-voice/internal/backend"
	"github.com/loqalabs/loqa-voice/internal/logging"
)

// ErrNoModelsAvailable is returned when the active backend has an empty catalog
var ErrNoModelsAvailable = fmt.Errorf("%w: no models available for this backend", apperr.ErrModelUnavailable)

// Factory builds the backend on first use
type Factory func() (backend.Backend, error)

// Result is the output of one generation together with the model that
// produced it.
type Result struct {
	Samples    []float32
	Model      string
	SampleRate int
}

// Info describes the active backend
type Info struct {
	Platform        string   `json:"platform"`
	CurrentModel    *string  `json:"current_model"`
	AvailableModels []string `json:"available_models"`
	SampleRate      int      `json:"sample_rate"`
}

// Service mediates between callers and the backend. runMu is held for the
// whole of model selection plus synthesis, so concurrent requests for
// different models run one after another instead of swapping the model
// underneath each other. mu guards the fields and is never held while the
// backend works, so read-only queries stay responsive during a generation.
type Service struct {
	runMu sync.Mutex

	mu           sync.Mutex
	factory      Factory
	backend      backend.Backend
	currentModel string

	onLoad LoadObserver
}

// LoadObserver is told about every model switch and whether it succeeded
type LoadObserver func(model string, err error)

// Option configures a Service
type Option func(*Service)

// WithLoadObserver registers fn to run after each attempt to make a new model resident
func WithLoadObserver(fn LoadObserver) Option {
	return func(s *Service) { s.onLoad = fn }
}

// NewService creates an orchestrator; the backend is built lazily
func NewService(factory Factory, opts ...Option) *Service {
	s := &Service{factory: factory}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads model, or the first catalog entry when model is empty
func (s *Service) Initialize(ctx context.Context, model string) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.initialize(ctx, model)
}

func (s *Service) ensureBackend() (backend.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil {
		return s.backend, nil
	}
	b, err := s.factory()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create backend: %v", apperr.ErrModelUnavailable, err)
	}
	s.backend = b
	logging.LogSynthesis("backend_created",
		zap.String("platform", b.Platform()),
		zap.Int("sample_rate", b.SampleRate()))
	return b, nil
}

// initialize must be called with runMu held
func (s *Service) initialize(ctx context.Context, model string) error {
	b, err := s.ensureBackend()
	if err != nil {
		return err
	}

	if model == "" {
		catalog := b.AvailableModels()
		if len(catalog) == 0 {
			return ErrNoModelsAvailable
		}
		model = catalog[0]
	}

	switching := model != s.CurrentModel()
	err = b.LoadModel(ctx, model)
	if switching && s.onLoad != nil {
		s.onLoad(model, err)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize model %q: %w", model, err)
	}

	s.mu.Lock()
	s.currentModel = model
	s.mu.Unlock()
	return nil
}

// Generate synthesizes with the default model (the first catalog entry).
func (s *Service) Generate(ctx context.Context, text, refAudioPath, refText string, progress backend.ProgressFunc) (Result, error) {
	return s.GenerateWithModel(ctx, "", text, refAudioPath, refText, progress)
}

// GenerateWithModel makes model resident and synthesizes. An empty model
// selects the first catalog entry. Calls are serialized.
func (s *Service) GenerateWithModel(ctx context.Context, model, text, refAudioPath, refText string, progress backend.ProgressFunc) (Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	b, err := s.ensureBackend()
	if err != nil {
		return Result{}, err
	}

	// An empty model always means the first catalog entry. Reloading the
	// resident model is a no-op in every backend.
	if err := s.initialize(ctx, model); err != nil {
		return Result{}, err
	}
	current := s.CurrentModel()

	if _, err := os.Stat(refAudioPath); err != nil {
		return Result{}, fmt.Errorf("%w: %s", apperr.ErrReferenceAudioMissing, refAudioPath)
	}

	start := time.Now()
	samples, err := b.Generate(ctx, backend.Request{
		Text:               text,
		ReferenceAudioPath: refAudioPath,
		ReferenceText:      refText,
		Progress:           progress,
	})
	if err != nil {
		return Result{}, classify(err)
	}

	logging.LogSynthesis("generated",
		zap.String("model", current),
		zap.Int("text_length", len(text)),
		zap.Int("samples", len(samples)),
		zap.Duration("elapsed", time.Since(start)))

	return Result{
		Samples:    samples,
		Model:      current,
		SampleRate: b.SampleRate(),
	}, nil
}

// classify makes sure every backend failure carries a taxonomy sentinel
func classify(err error) error {
	switch {
	case errors.Is(err, apperr.ErrModelUnavailable),
		errors.Is(err, apperr.ErrReferenceAudioMissing),
		errors.Is(err, apperr.ErrGenerationFailed):
		return err
	default:
		return fmt.Errorf("%w: %v", apperr.ErrGenerationFailed, err)
	}
}

// AvailableModels lists the active backend's catalog
func (s *Service) AvailableModels() ([]string, error) {
	b, err := s.ensureBackend()
	if err != nil {
		return nil, err
	}
	return b.AvailableModels(), nil
}

// BackendInfo reports platform, current model, catalog and sample rate
func (s *Service) BackendInfo() (Info, error) {
	b, err := s.ensureBackend()
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Platform:        b.Platform(),
		AvailableModels: b.AvailableModels(),
		SampleRate:      b.SampleRate(),
	}
	if model := s.CurrentModel(); model != "" {
		info.CurrentModel = &model
	}
	return info, nil
}

// CurrentModel returns the resident model name, or "" when none
func (s *Service) CurrentModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentModel
}

// Close unloads the resident model. It waits for an in-flight generation.
func (s *Service) Close() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		s.backend.UnloadModel()
	}
	s.currentModel = ""
}
