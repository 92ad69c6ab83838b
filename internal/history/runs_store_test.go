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

package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/apperr"
	"github.com/loqalabs/loqa-voice/internal/events"
)

func newTestStore(t *testing.T) *RunsStore {
	t.Helper()

	db, err := NewDatabase(DatabaseConfig{Path: filepath.Join(t.TempDir(), "nested", "history.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Ping())
	return NewRunsStore(db)
}

func succeeded(runID string, mode events.Mode, voiceID string, at time.Time) *events.GenerationRun {
	run := events.NewGenerationRun(runID, mode, voiceID, "hola mundo")
	run.Timestamp = at
	run.SetResult("gen-"+runID, "model-a", 1.25, 24000)
	return run
}

func failed(runID string, voiceID string, at time.Time) *events.GenerationRun {
	run := events.NewGenerationRun(runID, events.ModeAsync, voiceID, "hola")
	run.Timestamp = at
	run.SetError(errors.New("generation failed: boom"))
	return run
}

func TestInsertAndGetByRunID(t *testing.T) {
	store := newTestStore(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	run := succeeded("run-1", events.ModeSync, "voice-1", at)
	require.NoError(t, store.Insert(run))

	got, err := store.GetByRunID("run-1")
	require.NoError(t, err)

	assert.Equal(t, events.ModeSync, got.Mode)
	assert.Equal(t, "voice-1", got.VoiceID)
	assert.Equal(t, "gen-run-1", got.GenerationID)
	assert.Equal(t, "model-a", got.Model)
	assert.Equal(t, 10, got.TextLength)
	assert.Equal(t, run.TextHash, got.TextHash)
	assert.InDelta(t, 1.25, got.AudioDuration, 1e-9)
	assert.True(t, got.Success)
	assert.True(t, got.Timestamp.Equal(at), "timestamp %v != %v", got.Timestamp, at)
}

func TestInsertRejectsInvalidAndDuplicateRuns(t *testing.T) {
	store := newTestStore(t)

	invalid := events.NewGenerationRun("", events.ModeSync, "voice", "text")
	assert.Error(t, store.Insert(invalid))

	run := failed("dup", "voice", time.Now())
	require.NoError(t, store.Insert(run))
	assert.Error(t, store.Insert(run), "run ids are unique")
}

func TestGetByRunID_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetByRunID("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListFiltersAndOrdering(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(succeeded("a", events.ModeSync, "voice-1", base)))
	require.NoError(t, store.Insert(succeeded("b", events.ModeAsync, "voice-1", base.Add(time.Minute))))
	require.NoError(t, store.Insert(failed("c", "voice-2", base.Add(2*time.Minute))))
	require.NoError(t, store.Insert(succeeded("d", events.ModeAsync, "voice-2", base.Add(3*time.Minute))))

	all, err := store.List(ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"d", "c", "b", "a"}, runIDs(all))

	byVoice, err := store.List(ListOptions{VoiceID: "voice-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, runIDs(byVoice))

	byMode, err := store.List(ListOptions{Mode: events.ModeAsync})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b"}, runIDs(byMode))

	no := false
	failures, err := store.List(ListOptions{Success: &no})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, runIDs(failures))
	assert.Equal(t, "generation failed: boom", failures[0].ErrorMessage)

	since := base.Add(90 * time.Second)
	recent, err := store.List(ListOptions{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, runIDs(recent))

	page, err := store.List(ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, runIDs(page))

	count, err := store.Count(ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 4, count, "count ignores pagination")

	yes := true
	count, err = store.Count(ListOptions{VoiceID: "voice-2", Success: &yes})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestListEmpty(t *testing.T) {
	store := newTestStore(t)

	runs, err := store.List(ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestDeleteBefore(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(succeeded("old", events.ModeSync, "v", base)))
	require.NoError(t, store.Insert(succeeded("new", events.ModeSync, "v", base.Add(48*time.Hour))))

	removed, err := store.DeleteBefore(base.Add(24 * time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	_, err = store.GetByRunID("old")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = store.GetByRunID("new")
	assert.NoError(t, err)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := NewDatabase(DatabaseConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, NewRunsStore(db).Insert(failed("persisted", "v", time.Now())))
	require.NoError(t, db.Checkpoint())
	require.NoError(t, db.Close())

	db, err = NewDatabase(DatabaseConfig{Path: path})
	require.NoError(t, err)
	defer db.Close()

	got, err := NewRunsStore(db).GetByRunID("persisted")
	require.NoError(t, err)
	assert.False(t, got.Success)
	assert.Equal(t, path, db.Path())
}

func runIDs(runs []*events.GenerationRun) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.RunID
	}
	return ids
}
