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

package backend

import (
	"context"
	"fmt"
)

// PyTorchBackend publishes the CUDA catalog but cannot synthesize yet.
// Every load and generate call fails with ErrUnimplemented.
type PyTorchBackend struct {
	sampleRate int
}

// NewPyTorchBackend creates the NVIDIA backend placeholder
func NewPyTorchBackend(opts Options) *PyTorchBackend {
	rate := opts.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	return &PyTorchBackend{sampleRate: rate}
}

func (b *PyTorchBackend) Platform() string { return "pytorch" }

func (b *PyTorchBackend) SampleRate() int { return b.sampleRate }

func (b *PyTorchBackend) AvailableModels() []string {
	return append([]string(nil), PyTorchModels...)
}

func (b *PyTorchBackend) IsModelLoaded() bool { return false }

func (b *PyTorchBackend) CurrentModel() string { return "" }

func (b *PyTorchBackend) LoadModel(_ context.Context, name string) error {
	if !inCatalog(PyTorchModels, name) {
		return fmt.Errorf("%w: %q not available for pytorch backend", ErrInvalidModel, name)
	}
	return ErrUnimplemented
}

func (b *PyTorchBackend) Generate(context.Context, Request) ([]float32, error) {
	return nil, ErrUnimplemented
}

func (b *PyTorchBackend) UnloadModel() {}
