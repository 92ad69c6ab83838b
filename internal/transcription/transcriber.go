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

// Package transcription turns reference recordings into text.
package transcription

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

// ErrDisabled is returned when transcription is switched off or the binary
// was built without whisper support
var ErrDisabled = errors.New("transcription disabled (build with -tags whisper to enable)")

// ErrNoSpeech is returned when a recording yields an empty transcript
var ErrNoSpeech = errors.New("no speech detected")

// SampleRate is the input rate whisper models expect
const SampleRate = 16000

// Transcriber converts a WAV file on disk into text
type Transcriber interface {
	TranscribeFile(ctx context.Context, path string) (string, error)
	Close() error
}

// Config selects and configures the transcription engine
type Config struct {
	Enabled   bool
	ModelPath string
	Language  string // "auto" or an ISO 639-1 code
}

// New returns the configured transcriber. A disabled config yields a
// transcriber that always fails with ErrDisabled.
func New(cfg Config) (Transcriber, error) {
	if !cfg.Enabled {
		return Disabled{}, nil
	}
	return newWhisper(cfg)
}

// Disabled is the transcriber used when speech-to-text is unavailable
type Disabled struct{}

func (Disabled) TranscribeFile(context.Context, string) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Close() error { return nil }

// loadSamples decodes a WAV file into mono samples at the whisper input rate
func loadSamples(path string) ([]float32, error) {
	clip, err := audio.DecodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reference audio: %w", err)
	}
	return audio.Resample(clip.Samples, clip.SampleRate, SampleRate), nil
}
