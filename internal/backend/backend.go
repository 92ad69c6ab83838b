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

// Package backend abstracts the speech model that performs voice-cloned
// synthesis. Exactly one variant is active per process; it is chosen once at
// startup from a platform descriptor.
package backend

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/loqalabs/loqa-voice/internal/apperr"
	"github.com/loqalabs/loqa-voice/internal/platform"
)

var (
	// ErrInvalidModel means the requested model is not in the variant's catalog
	ErrInvalidModel = fmt.Errorf("%w: model not in catalog", apperr.ErrModelUnavailable)
	// ErrNotReady means Generate was called before any model was loaded
	ErrNotReady = errors.New("no model loaded")
	// ErrUnimplemented is returned by variants that only publish a catalog
	ErrUnimplemented = fmt.Errorf("%w: backend not implemented on this platform", apperr.ErrModelUnavailable)
)

// DefaultSampleRate is the output rate of the Qwen3-TTS 12Hz models
const DefaultSampleRate = 24000

// MLXModels is the catalog served on Apple Silicon
var MLXModels = []string{
	"mlx-community/Qwen3-TTS-12Hz-0.6B-Base-bf16",
	"mlx-community/Qwen3-TTS-12Hz-1.7B-Base-bf16",
}

// PyTorchModels is the catalog served on NVIDIA hosts
var PyTorchModels = []string{
	"Qwen/Qwen3-TTS-12Hz-0.6B-Base",
	"Qwen/Qwen3-TTS-12Hz-1.7B-Base",
}

// Stage names the coarse checkpoints reported while generating
type Stage string

const (
	StageReferenceLoaded    Stage = "reference_loaded"
	StageGenerationStarted  Stage = "generation_started"
	StageGenerationFinished Stage = "generation_finished"
)

// Progress is one best-effort update from a running generation
type Progress struct {
	Stage   Stage
	Current int
	Total   int
	Message string
}

// ProgressFunc receives progress updates. It must not block.
type ProgressFunc func(Progress)

// Report invokes f when it is set
func (f ProgressFunc) Report(stage Stage, current, total int, message string) {
	if f == nil {
		return
	}
	f(Progress{Stage: stage, Current: current, Total: total, Message: message})
}

// Request carries everything needed to clone a voice for one utterance
type Request struct {
	Text               string
	ReferenceAudioPath string
	ReferenceText      string
	Progress           ProgressFunc
}

// Backend is the synthesis capability driven by the orchestrator
type Backend interface {
	Platform() string
	SampleRate() int
	AvailableModels() []string
	IsModelLoaded() bool
	CurrentModel() string

	// LoadModel makes name the resident model. Loading the resident model
	// again is a no-op.
	LoadModel(ctx context.Context, name string) error

	// Generate returns mono float samples in [-1, 1] at SampleRate.
	Generate(ctx context.Context, req Request) ([]float32, error)

	// UnloadModel is safe to call when nothing is loaded.
	UnloadModel()
}

// Options configures backend construction
type Options struct {
	PythonPath string
	SampleRate int
	Runner     CommandRunner // nil uses os/exec
}

// New builds the backend variant matching the descriptor
func New(desc platform.Descriptor, opts Options) (Backend, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}

	switch desc.Backend {
	case platform.BackendMLX:
		return NewMLXBackend(opts), nil
	case platform.BackendPyTorch:
		return NewPyTorchBackend(opts), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", desc.Backend)
	}
}

func inCatalog(catalog []string, name string) bool {
	return slices.Contains(catalog, name)
}
