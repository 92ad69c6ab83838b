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

// Package store persists voices and generations on the local filesystem.
//
// Every entity owns one directory named by its UUID:
//
//	<data>/voices/<id>/{audio.wav, transcription.txt, metadata.json}
//	<data>/generations/<id>/{audio.wav, metadata.json}
//
// metadata.json is always written last, so a container without it is
// invisible. There is no in-memory cache; every call goes to disk.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-voice/internal/logging"
)

const (
	audioFile         = "audio.wav"
	transcriptionFile = "transcription.txt"
	metadataFile      = "metadata.json"

	dirPerm  = 0o755
	filePerm = 0o644
)

// Store is the filesystem-backed entity store
type Store struct {
	voicesDir      string
	generationsDir string
	now            func() time.Time
}

// New prepares the voices/ and generations/ directories under dataDir
func New(dataDir string) (*Store, error) {
	s := &Store{
		voicesDir:      filepath.Join(dataDir, "voices"),
		generationsDir: filepath.Join(dataDir, "generations"),
		now:            time.Now,
	}
	for _, dir := range []string{s.voicesDir, s.generationsDir} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return s, nil
}

// containerPath resolves an entity directory. Anything that is not a
// canonical UUID is rejected so ids can never escape the data directory.
func containerPath(base, id string) (string, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return "", false
	}
	return filepath.Join(base, id), true
}

func newContainer(base string) (string, string, error) {
	id := uuid.NewString()
	dir := filepath.Join(base, id)
	if err := os.Mkdir(dir, dirPerm); err != nil {
		return "", "", fmt.Errorf("failed to create container %s: %w", id, err)
	}
	return id, dir, nil
}

// writeFileAtomic writes through a temp file and rename so readers never
// observe a partially written file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func writeMetadata(dir string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, metadataFile), data)
}

// readMetadata returns ok=false when the container or its metadata is absent
func readMetadata[T any](dir string) (T, bool, error) {
	var out T
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false, fmt.Errorf("corrupt metadata in %s: %w", dir, err)
	}
	return out, true, nil
}

// listMetadata loads every readable container under base. Corrupt or
// half-written containers are skipped with a warning.
func listMetadata[T any](base, kind string, keep func(T) bool) ([]T, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}

	var out []T
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		record, ok, err := readMetadata[T](filepath.Join(base, entry.Name()))
		if err != nil {
			logging.LogWarn("Skipping unreadable container",
				zap.String("kind", kind),
				zap.String("id", entry.Name()),
				zap.Error(err))
			continue
		}
		if !ok || (keep != nil && !keep(record)) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func sortNewestFirst[T any](records []T, createdAt func(T) time.Time) {
	sort.SliceStable(records, func(i, j int) bool {
		return createdAt(records[i]).After(createdAt(records[j]))
	})
}

// removeContainer renames the directory out of sight before deleting it so
// the entity vanishes from listings in one step. Returns false if absent.
func removeContainer(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}

	tombstone := filepath.Join(filepath.Dir(dir), "."+filepath.Base(dir)+".deleting")
	if err := os.Rename(dir, tombstone); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(tombstone); err != nil {
		return true, fmt.Errorf("container hidden but not fully removed: %w", err)
	}
	return true, nil
}

func fileIfExists(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}
