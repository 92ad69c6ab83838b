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

// Package backendtest provides a deterministic in-memory Backend for tests.
package backendtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/loqalabs/loqa-voice/internal/backend"
)

// Call records one Generate invocation
type Call struct {
	Model string
	Req   backend.Request
}

// Fake is a controllable backend.Backend. Zero value is not usable; use New.
type Fake struct {
	mu sync.Mutex

	PlatformName string
	Rate         int
	Catalog      []string

	// Samples is returned by Generate; nil means one second of silence.
	Samples []float32
	// GenerateErr, when set, is returned by Generate.
	GenerateErr error
	// LoadErr, when set, is returned by LoadModel.
	LoadErr error
	// Panic makes Generate panic with this value.
	Panic any
	// Block, when non-nil, makes Generate wait until it is closed.
	Block chan struct{}

	current string
	loads   []string
	calls   []Call
}

// New creates a fake with a two-model catalog at 24 kHz
func New() *Fake {
	return &Fake{
		PlatformName: "fake",
		Rate:         backend.DefaultSampleRate,
		Catalog:      []string{"fake/model-small", "fake/model-large"},
	}
}

func (f *Fake) Platform() string { return f.PlatformName }

func (f *Fake) SampleRate() int { return f.Rate }

func (f *Fake) AvailableModels() []string {
	return append([]string(nil), f.Catalog...)
}

func (f *Fake) IsModelLoaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current != ""
}

func (f *Fake) CurrentModel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *Fake) LoadModel(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !slices.Contains(f.Catalog, name) {
		return fmt.Errorf("%w: %q", backend.ErrInvalidModel, name)
	}
	if f.LoadErr != nil {
		return f.LoadErr
	}
	if f.current != name {
		f.loads = append(f.loads, name)
		f.current = name
	}
	return nil
}

func (f *Fake) Generate(ctx context.Context, req backend.Request) ([]float32, error) {
	f.mu.Lock()
	model := f.current
	f.calls = append(f.calls, Call{Model: model, Req: req})
	block := f.Block
	f.mu.Unlock()

	if model == "" {
		return nil, backend.ErrNotReady
	}

	req.Progress.Report(backend.StageReferenceLoaded, 1, 3, "reference loaded")
	req.Progress.Report(backend.StageGenerationStarted, 2, 3, "generating")

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Panic != nil {
		panic(f.Panic)
	}
	if f.GenerateErr != nil {
		return nil, f.GenerateErr
	}

	req.Progress.Report(backend.StageGenerationFinished, 3, 3, "done")

	if f.Samples != nil {
		return append([]float32(nil), f.Samples...), nil
	}
	return make([]float32, f.Rate), nil
}

func (f *Fake) UnloadModel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = ""
}

// Loads returns every model actually loaded, in order
func (f *Fake) Loads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loads...)
}

// Calls returns every Generate invocation, in order
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Factory adapts the fake to a constructor that always returns it
func (f *Fake) Factory() func() (backend.Backend, error) {
	return func() (backend.Backend, error) { return f, nil }
}
