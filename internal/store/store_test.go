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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

// steppingClock advances one second per call so created_at values are distinct.
func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func fiveSecondWAV(t *testing.T) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(make([]float32, 5*24000), 24000)
	require.NoError(t, err)
	return data
}

func TestCreateVoiceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	data := fiveSecondWAV(t)

	voice, err := s.CreateVoice(data, "Ana", "")
	require.NoError(t, err)

	_, err = uuid.Parse(voice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", voice.Name)
	assert.False(t, voice.HasTranscription)
	require.NotNil(t, voice.Duration)
	assert.InDelta(t, 5.0, *voice.Duration, 1e-3)

	path, ok := s.VoiceAudioPath(voice.ID)
	require.True(t, ok)
	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	got, ok, err := s.GetVoice(voice.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, voice.ID, got.ID)
	assert.True(t, voice.CreatedAt.Equal(got.CreatedAt))
}

func TestVoiceTranscriptionScenario(t *testing.T) {
	s := newTestStore(t)

	voice, err := s.CreateVoice(fiveSecondWAV(t), "Ana", "")
	require.NoError(t, err)
	require.False(t, voice.HasTranscription)

	_, ok, err := s.VoiceTranscription(voice.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	updated, ok, err := s.UpdateVoiceTranscription(voice.ID, "hola mundo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, updated.HasTranscription)

	text, ok, err := s.VoiceTranscription(voice.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hola mundo", text)

	reloaded, _, err := s.GetVoice(voice.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.HasTranscription)
}

func TestCreateVoiceWithTranscription(t *testing.T) {
	s := newTestStore(t)

	voice, err := s.CreateVoice(fiveSecondWAV(t), "Bo", "hello there")
	require.NoError(t, err)
	assert.True(t, voice.HasTranscription)

	text, ok, err := s.VoiceTranscription(voice.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello there", text)
}

func TestCreateVoiceUnparseableAudioHasNoDuration(t *testing.T) {
	s := newTestStore(t)

	voice, err := s.CreateVoice([]byte("not a wav"), "Raw", "")
	require.NoError(t, err)
	assert.Nil(t, voice.Duration)

	_, err = s.CreateVoice(nil, "Empty", "")
	assert.Error(t, err)
}

func TestUpdateTranscriptionMissingVoice(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.UpdateVoiceTranscription(uuid.NewString(), "text")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.UpdateVoiceTranscription("x", "text")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateTranscriptionWithoutMetadata(t *testing.T) {
	s := newTestStore(t)

	id := uuid.NewString()
	dir := filepath.Join(s.voicesDir, id)
	require.NoError(t, os.MkdirAll(dir, dirPerm))

	voice, ok, err := s.UpdateVoiceTranscription(id, "text")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, voice.ID)

	_, found, err := s.VoiceTranscription(id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteVoiceIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	voice, err := s.CreateVoice(fiveSecondWAV(t), "Ana", "hola")
	require.NoError(t, err)

	removed, err := s.DeleteVoice(voice.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, err := s.GetVoice(voice.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = s.VoiceAudioPath(voice.ID)
	assert.False(t, ok)
	_, ok, err = s.VoiceTranscription(voice.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err = s.DeleteVoice(voice.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	entries, err := os.ReadDir(s.voicesDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no orphaned files after delete")
}

func TestListVoicesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	s.now = steppingClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		v, err := s.CreateVoice(fiveSecondWAV(t), name, "")
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}

	voices, err := s.ListVoices()
	require.NoError(t, err)
	require.Len(t, voices, 3)
	assert.Equal(t, ids[2], voices[0].ID)
	assert.Equal(t, ids[1], voices[1].ID)
	assert.Equal(t, ids[0], voices[2].ID)
}

func TestListSkipsCorruptAndIncompleteContainers(t *testing.T) {
	s := newTestStore(t)

	good, err := s.CreateVoice(fiveSecondWAV(t), "good", "")
	require.NoError(t, err)

	corrupt := filepath.Join(s.voicesDir, uuid.NewString())
	require.NoError(t, os.Mkdir(corrupt, dirPerm))
	require.NoError(t, os.WriteFile(filepath.Join(corrupt, metadataFile), []byte("{not json"), filePerm))

	incomplete := filepath.Join(s.voicesDir, uuid.NewString())
	require.NoError(t, os.Mkdir(incomplete, dirPerm))
	require.NoError(t, os.WriteFile(filepath.Join(incomplete, audioFile), []byte("RIFF"), filePerm))

	require.NoError(t, os.WriteFile(filepath.Join(s.voicesDir, "stray.txt"), []byte("x"), filePerm))

	voices, err := s.ListVoices()
	require.NoError(t, err)
	require.Len(t, voices, 1)
	assert.Equal(t, good.ID, voices[0].ID)

	_, ok, err := s.GetVoice(filepath.Base(incomplete))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.GetVoice(filepath.Base(corrupt))
	assert.Error(t, err)
}

func TestNonCanonicalIDsAreAbsent(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"x", "", "../voices", "{" + uuid.NewString() + "}", "urn:uuid:" + uuid.NewString()} {
		_, ok, err := s.GetVoice(id)
		assert.NoError(t, err)
		assert.False(t, ok, "id %q", id)

		_, ok = s.GenerationAudioPath(id)
		assert.False(t, ok, "id %q", id)

		removed, err := s.DeleteGeneration(id)
		assert.NoError(t, err)
		assert.False(t, removed, "id %q", id)
	}
}

func TestGenerationsFilterAndLineage(t *testing.T) {
	s := newTestStore(t)
	s.now = steppingClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	voiceA, err := s.CreateVoice(fiveSecondWAV(t), "A", "a")
	require.NoError(t, err)
	voiceB, err := s.CreateVoice(fiveSecondWAV(t), "B", "b")
	require.NoError(t, err)

	duration := 1.5
	g1, err := s.CreateGeneration(fiveSecondWAV(t), "one", voiceA.ID, "m", &duration)
	require.NoError(t, err)
	g2, err := s.CreateGeneration(fiveSecondWAV(t), "two", voiceB.ID, "m", nil)
	require.NoError(t, err)
	g3, err := s.CreateGeneration(fiveSecondWAV(t), "three", voiceA.ID, "m", nil)
	require.NoError(t, err)

	all, err := s.ListGenerations("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{g3.ID, g2.ID, g1.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	onlyA, err := s.ListGenerations(voiceA.ID)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	for _, g := range onlyA {
		assert.Equal(t, voiceA.ID, g.VoiceID)
	}

	none, err := s.ListGenerations(uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, none)

	// Generations stay readable after their voice is gone.
	_, err = s.DeleteVoice(voiceA.ID)
	require.NoError(t, err)
	got, ok, err := s.GetGeneration(g1.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, voiceA.ID, got.VoiceID)
	require.NotNil(t, got.Duration)
	assert.Equal(t, 1.5, *got.Duration)
}

func TestDeleteGeneration(t *testing.T) {
	s := newTestStore(t)

	data := fiveSecondWAV(t)
	gen, err := s.CreateGeneration(data, "hello", uuid.NewString(), "m", nil)
	require.NoError(t, err)

	path, ok := s.GenerationAudioPath(gen.ID)
	require.True(t, ok)
	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	removed, err := s.DeleteGeneration(gen.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, err = s.GetGeneration(gen.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err = s.DeleteGeneration(gen.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.CreateGeneration(nil, "x", "v", "m", nil)
	assert.Error(t, err)
}
