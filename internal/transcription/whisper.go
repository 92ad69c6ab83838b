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

//go:build whisper

package transcription

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-voice/internal/logging"
)

// WhisperTranscriber runs a whisper.cpp model in-process
type WhisperTranscriber struct {
	mu        sync.Mutex
	model     whisper.Model
	modelPath string
	language  string
}

func newWhisper(cfg Config) (Transcriber, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("whisper model not found at %s", cfg.ModelPath)
	}

	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load whisper model: %w", err)
	}

	logging.Sugar.Infof("✅ Whisper model loaded: %s", cfg.ModelPath)
	return &WhisperTranscriber{
		model:     model,
		modelPath: cfg.ModelPath,
		language:  cfg.Language,
	}, nil
}

// TranscribeFile decodes the WAV at path and returns the joined segment text
func (wt *WhisperTranscriber) TranscribeFile(ctx context.Context, path string) (string, error) {
	samples, err := loadSamples(path)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()

	if wt.model == nil {
		return "", fmt.Errorf("whisper model not initialized")
	}

	wctx, err := wt.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("failed to create whisper context: %w", err)
	}
	if wt.language != "" {
		if err := wctx.SetLanguage(wt.language); err != nil {
			return "", fmt.Errorf("unsupported whisper language %q: %w", wt.language, err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("failed to process audio: %w", err)
	}

	var transcript strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			break
		}
		transcript.WriteString(segment.Text)
	}

	result := strings.TrimSpace(transcript.String())
	logging.LogSynthesis("transcribe", zap.String("path", path), zap.Int("chars", len(result)))
	return result, nil
}

// Close releases the model
func (wt *WhisperTranscriber) Close() error {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	if wt.model != nil {
		err := wt.model.Close()
		wt.model = nil
		return err
	}
	return nil
}
