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

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-voice/internal/logging"
)

// Generation is a persisted synthesis result. VoiceID records lineage only
// and may point at a voice that has since been deleted.
type Generation struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	VoiceID   string    `json:"voice_id"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Duration  *float64  `json:"duration"`
}

// CreateGeneration persists synthesized audio and its metadata
func (s *Store) CreateGeneration(audioData []byte, text, voiceID, model string, duration *float64) (Generation, error) {
	if len(audioData) == 0 {
		return Generation{}, errors.New("generation audio is empty")
	}

	id, dir, err := newContainer(s.generationsDir)
	if err != nil {
		return Generation{}, err
	}

	gen := Generation{
		ID:        id,
		Text:      text,
		VoiceID:   voiceID,
		Model:     model,
		CreatedAt: s.now().UTC(),
		Duration:  duration,
	}

	if err := writeGeneration(dir, audioData, gen); err != nil {
		_ = os.RemoveAll(dir)
		return Generation{}, fmt.Errorf("failed to create generation: %w", err)
	}

	logging.LogStoreOperation("create", "generation", id,
		zap.String("voice_id", voiceID),
		zap.String("model", model),
		zap.String("size", humanize.Bytes(uint64(len(audioData)))))
	return gen, nil
}

func writeGeneration(dir string, audioData []byte, gen Generation) error {
	if err := writeFileAtomic(filepath.Join(dir, audioFile), audioData); err != nil {
		return err
	}
	return writeMetadata(dir, gen)
}

// GetGeneration returns ok=false when the generation does not exist
func (s *Store) GetGeneration(id string) (Generation, bool, error) {
	dir, ok := containerPath(s.generationsDir, id)
	if !ok {
		return Generation{}, false, nil
	}
	return readMetadata[Generation](dir)
}

// GenerationAudioPath returns the on-disk location of the synthesized audio
func (s *Store) GenerationAudioPath(id string) (string, bool) {
	dir, ok := containerPath(s.generationsDir, id)
	if !ok {
		return "", false
	}
	return fileIfExists(filepath.Join(dir, audioFile))
}

// ListGenerations returns generations newest first. A non-empty voiceID
// keeps only exact matches.
func (s *Store) ListGenerations(voiceID string) ([]Generation, error) {
	var keep func(Generation) bool
	if voiceID != "" {
		keep = func(g Generation) bool { return g.VoiceID == voiceID }
	}
	gens, err := listMetadata[Generation](s.generationsDir, "generation", keep)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(gens, func(g Generation) time.Time { return g.CreatedAt })
	return gens, nil
}

// DeleteGeneration removes the generation record and its audio
func (s *Store) DeleteGeneration(id string) (bool, error) {
	dir, ok := containerPath(s.generationsDir, id)
	if !ok {
		return false, nil
	}
	removed, err := removeContainer(dir)
	if removed {
		logging.LogStoreOperation("delete", "generation", id)
	}
	return removed, err
}
