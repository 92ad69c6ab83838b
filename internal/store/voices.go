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
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/security"
)

// Voice is a stored reference speaker profile
type Voice struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"created_at"`
	HasTranscription bool      `json:"has_transcription"`
	Duration         *float64  `json:"duration"`
}

// CreateVoice persists a new voice. An empty transcription leaves
// HasTranscription false. On any write failure nothing is left behind.
func (s *Store) CreateVoice(audioData []byte, name, transcription string) (Voice, error) {
	if len(audioData) == 0 {
		return Voice{}, errors.New("voice audio is empty")
	}

	id, dir, err := newContainer(s.voicesDir)
	if err != nil {
		return Voice{}, err
	}

	voice := Voice{
		ID:        id,
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	if seconds, ok := audio.Duration(audioData); ok {
		voice.Duration = &seconds
	}

	if err := s.writeVoice(dir, audioData, transcription, &voice); err != nil {
		_ = os.RemoveAll(dir)
		return Voice{}, fmt.Errorf("failed to create voice: %w", err)
	}

	logging.LogStoreOperation("create", "voice", id,
		zap.String("name", security.SanitizeLogInput(name)),
		zap.String("size", humanize.Bytes(uint64(len(audioData)))),
		zap.Bool("has_transcription", voice.HasTranscription))
	return voice, nil
}

func (s *Store) writeVoice(dir string, audioData []byte, transcription string, voice *Voice) error {
	if err := writeFileAtomic(filepath.Join(dir, audioFile), audioData); err != nil {
		return err
	}
	if transcription != "" {
		if err := writeFileAtomic(filepath.Join(dir, transcriptionFile), []byte(transcription)); err != nil {
			return err
		}
		voice.HasTranscription = true
	}
	return writeMetadata(dir, voice)
}

// GetVoice returns ok=false when the voice does not exist
func (s *Store) GetVoice(id string) (Voice, bool, error) {
	dir, ok := containerPath(s.voicesDir, id)
	if !ok {
		return Voice{}, false, nil
	}
	return readMetadata[Voice](dir)
}

// VoiceAudioPath returns the on-disk location of the reference audio
func (s *Store) VoiceAudioPath(id string) (string, bool) {
	dir, ok := containerPath(s.voicesDir, id)
	if !ok {
		return "", false
	}
	return fileIfExists(filepath.Join(dir, audioFile))
}

// VoiceTranscription returns ok=false when no transcript has been attached
func (s *Store) VoiceTranscription(id string) (string, bool, error) {
	dir, ok := containerPath(s.voicesDir, id)
	if !ok {
		return "", false, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, transcriptionFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// UpdateVoiceTranscription overwrites the transcript and marks the voice as
// transcribed. ok is false when the voice container or its metadata does
// not exist.
func (s *Store) UpdateVoiceTranscription(id, transcription string) (Voice, bool, error) {
	dir, ok := containerPath(s.voicesDir, id)
	if !ok {
		return Voice{}, false, nil
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return Voice{}, false, nil
	}

	voice, found, err := readMetadata[Voice](dir)
	if err != nil {
		return Voice{}, true, err
	}
	if !found {
		// Container without metadata is not a voice yet.
		return Voice{}, false, nil
	}

	if err := writeFileAtomic(filepath.Join(dir, transcriptionFile), []byte(transcription)); err != nil {
		return Voice{}, true, fmt.Errorf("failed to write transcription: %w", err)
	}

	voice.HasTranscription = true
	if err := writeMetadata(dir, voice); err != nil {
		return Voice{}, true, fmt.Errorf("failed to update voice metadata: %w", err)
	}

	logging.LogStoreOperation("update_transcription", "voice", id,
		zap.Int("length", len(transcription)))
	return voice, true, nil
}

// ListVoices returns every voice, newest first
func (s *Store) ListVoices() ([]Voice, error) {
	voices, err := listMetadata[Voice](s.voicesDir, "voice", nil)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(voices, func(v Voice) time.Time { return v.CreatedAt })
	return voices, nil
}

// DeleteVoice removes the voice and everything it owns. Generations that
// reference it are left untouched.
func (s *Store) DeleteVoice(id string) (bool, error) {
	dir, ok := containerPath(s.voicesDir, id)
	if !ok {
		return false, nil
	}
	removed, err := removeContainer(dir)
	if removed {
		logging.LogStoreOperation("delete", "voice", id)
	}
	return removed, err
}
