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
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-voice/internal/apperr"
	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/logging"
)

// CommandRunner executes an external program and returns its combined output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// maxOutputInError bounds how much subprocess output ends up in error messages
const maxOutputInError = 2048

// MLXBackend synthesizes through the mlx_audio command line on Apple Silicon.
// Weights are cached by mlx_audio itself, so loading only records the model.
type MLXBackend struct {
	mu           sync.RWMutex
	currentModel string

	pythonPath string
	sampleRate int
	run        CommandRunner
}

// NewMLXBackend creates the Apple Silicon backend
func NewMLXBackend(opts Options) *MLXBackend {
	b := &MLXBackend{
		pythonPath: opts.PythonPath,
		sampleRate: opts.SampleRate,
		run:        opts.Runner,
	}
	if b.pythonPath == "" {
		b.pythonPath = "python"
	}
	if b.sampleRate <= 0 {
		b.sampleRate = DefaultSampleRate
	}
	if b.run == nil {
		b.run = execRunner
	}
	return b
}

func (b *MLXBackend) Platform() string { return "mlx" }

func (b *MLXBackend) SampleRate() int { return b.sampleRate }

func (b *MLXBackend) AvailableModels() []string {
	return append([]string(nil), MLXModels...)
}

func (b *MLXBackend) IsModelLoaded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentModel != ""
}

func (b *MLXBackend) CurrentModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentModel
}

// LoadModel validates name against the catalog and makes it resident
func (b *MLXBackend) LoadModel(ctx context.Context, name string) error {
	if !inCatalog(MLXModels, name) {
		return fmt.Errorf("%w: %q not available for mlx backend", ErrInvalidModel, name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.currentModel == name {
		return nil
	}
	previous := b.currentModel
	b.currentModel = name

	logging.LogSynthesis("load_model",
		zap.String("platform", "mlx"),
		zap.String("model", name),
		zap.String("previous_model", previous))
	return nil
}

// UnloadModel forgets the resident model
func (b *MLXBackend) UnloadModel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentModel = ""
}

// Generate runs mlx_audio.tts.generate in a scratch directory and reads back
// the first audio_*.wav it produces.
func (b *MLXBackend) Generate(ctx context.Context, req Request) ([]float32, error) {
	model := b.CurrentModel()
	if model == "" {
		return nil, ErrNotReady
	}

	if _, err := os.Stat(req.ReferenceAudioPath); err != nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrReferenceAudioMissing, req.ReferenceAudioPath)
	}
	req.Progress.Report(StageReferenceLoaded, 1, 3, "Reference audio loaded")

	outputDir, err := os.MkdirTemp("", "tts_")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create scratch dir: %v", apperr.ErrGenerationFailed, err)
	}
	defer func() { _ = os.RemoveAll(outputDir) }()

	args := []string{
		"-m", "mlx_audio.tts.generate",
		"--model", model,
		"--text", req.Text,
		"--ref_audio", req.ReferenceAudioPath,
		"--ref_text", req.ReferenceText,
		"--output", outputDir,
	}

	req.Progress.Report(StageGenerationStarted, 2, 3, "Generating speech")
	start := time.Now()

	output, err := b.run(ctx, b.pythonPath, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: mlx_audio failed: %v: %s",
			apperr.ErrGenerationFailed, err, truncate(output, maxOutputInError))
	}

	samples, err := b.readOutput(outputDir)
	if err != nil {
		return nil, err
	}

	req.Progress.Report(StageGenerationFinished, 3, 3, "Speech generated")
	logging.LogSynthesis("generate",
		zap.String("platform", "mlx"),
		zap.String("model", model),
		zap.Int("text_length", len(req.Text)),
		zap.Int("samples", len(samples)),
		zap.Duration("elapsed", time.Since(start)))

	return samples, nil
}

func (b *MLXBackend) readOutput(dir string) ([]float32, error) {
	files, err := filepath.Glob(filepath.Join(dir, "audio_*.wav"))
	if err != nil || len(files) == 0 {
		return nil, fmt.Errorf("%w: no audio files written to %s", apperr.ErrGenerationFailed, dir)
	}
	sort.Strings(files)

	info, err := os.Stat(files[0])
	if err != nil || info.Size() == 0 {
		return nil, fmt.Errorf("%w: empty output file %s", apperr.ErrGenerationFailed, files[0])
	}

	clip, err := audio.DecodeFile(files[0])
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable output: %v", apperr.ErrGenerationFailed, err)
	}
	if len(clip.Samples) == 0 {
		return nil, fmt.Errorf("%w: generated audio is empty", apperr.ErrGenerationFailed)
	}

	if clip.SampleRate != b.sampleRate {
		return audio.Resample(clip.Samples, clip.SampleRate, b.sampleRate), nil
	}
	return clip.Samples, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
