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

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-voice/internal/apperr"
	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/security"
	"github.com/loqalabs/loqa-voice/internal/store"
	"github.com/loqalabs/loqa-voice/internal/transcription"
)

var (
	errVoiceNotFound         = apperr.WithDetail(apperr.ErrNotFound, "Voice not found")
	errVoiceAudioNotFound    = apperr.WithDetail(apperr.ErrNotFound, "Voice or audio file not found")
	errTranscriptionNotFound = apperr.WithDetail(apperr.ErrNotFound, "Transcription not found")
)

// VoiceDetail is a voice together with its transcript
type VoiceDetail struct {
	store.Voice
	Transcription *string `json:"transcription"`
}

// TranscriptionUpdate is the body of POST /api/voices/{id}/transcription
type TranscriptionUpdate struct {
	Transcription string `json:"transcription"`
}

func (h *Handler) handleCreateVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	name, err := security.ValidateDisplayName(r.FormValue("name"), maxVoiceNameLength)
	if err != nil {
		writeDetail(w, http.StatusBadRequest,
			fmt.Sprintf("Voice name must be between 1 and %d characters without control characters", maxVoiceNameLength))
		return
	}

	autoTranscribe := true
	if raw := r.FormValue("auto_transcribe"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "auto_transcribe must be a boolean")
			return
		}
		autoTranscribe = parsed
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Audio file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Failed to read audio file")
		return
	}
	if err := audio.Validate(data); err != nil {
		writeDetail(w, http.StatusBadRequest, "File must be a WAV audio file")
		return
	}

	voice, err := h.Store.CreateVoice(data, name, "")
	if err != nil {
		writeError(w, err, "Failed to save voice")
		return
	}

	if autoTranscribe {
		voice = h.autoTranscribe(r, voice)
	}

	writeJSON(w, http.StatusCreated, voice)
}

// autoTranscribe annotates a freshly uploaded voice. Failures are logged and
// the voice is returned without a transcript.
func (h *Handler) autoTranscribe(r *http.Request, voice store.Voice) store.Voice {
	path, ok := h.Store.VoiceAudioPath(voice.ID)
	if !ok {
		return voice
	}

	text, err := h.Transcriber.TranscribeFile(r.Context(), path)
	if err != nil {
		if !errors.Is(err, transcription.ErrDisabled) {
			logging.LogWarn("Transcription failed", zap.String("voice_id", voice.ID), zap.Error(err))
		}
		return voice
	}
	if strings.TrimSpace(text) == "" {
		return voice
	}

	updated, ok, err := h.Store.UpdateVoiceTranscription(voice.ID, text)
	if err != nil || !ok {
		logging.LogWarn("Failed to store transcription", zap.String("voice_id", voice.ID), zap.Error(err))
		return voice
	}
	return updated
}

func (h *Handler) handleListVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := h.Store.ListVoices()
	if err != nil {
		writeError(w, err, "Failed to list voices")
		return
	}
	writeJSON(w, http.StatusOK, voices)
}

func (h *Handler) handleGetVoice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	voice, ok, err := h.Store.GetVoice(id)
	if err != nil {
		writeError(w, err, "Failed to read voice")
		return
	}
	if !ok {
		writeError(w, errVoiceNotFound, "")
		return
	}

	detail := VoiceDetail{Voice: voice}
	if voice.HasTranscription {
		text, found, err := h.Store.VoiceTranscription(id)
		if err != nil {
			writeError(w, err, "Failed to read transcription")
			return
		}
		if found {
			detail.Transcription = &text
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleVoiceAudio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	path, ok := h.Store.VoiceAudioPath(id)
	if !ok {
		writeError(w, errVoiceAudioNotFound, "")
		return
	}
	serveWAV(w, r, path, "voice_"+id+".wav")
}

func (h *Handler) handleGetTranscription(w http.ResponseWriter, r *http.Request) {
	text, ok, err := h.Store.VoiceTranscription(r.PathValue("id"))
	if err != nil {
		writeError(w, err, "Failed to read transcription")
		return
	}
	if !ok {
		writeError(w, errTranscriptionNotFound, "")
		return
	}
	writeJSON(w, http.StatusOK, TranscriptionUpdate{Transcription: text})
}

func (h *Handler) handleUpdateTranscription(w http.ResponseWriter, r *http.Request) {
	var req TranscriptionUpdate
	if err := readJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Transcription) == "" {
		writeDetail(w, http.StatusBadRequest, "Transcription must not be empty")
		return
	}

	voice, ok, err := h.Store.UpdateVoiceTranscription(r.PathValue("id"), req.Transcription)
	if err != nil {
		writeError(w, err, "Failed to update transcription")
		return
	}
	if !ok {
		writeError(w, errVoiceNotFound, "")
		return
	}
	writeJSON(w, http.StatusOK, voice)
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	path, ok := h.Store.VoiceAudioPath(id)
	if !ok {
		writeError(w, errVoiceAudioNotFound, "")
		return
	}

	text, err := h.Transcriber.TranscribeFile(r.Context(), path)
	if err != nil {
		writeError(w, err, "Transcription failed")
		return
	}
	if strings.TrimSpace(text) == "" {
		writeError(w, transcription.ErrNoSpeech, "Transcription failed")
		return
	}

	voice, ok, err := h.Store.UpdateVoiceTranscription(id, text)
	if err != nil {
		writeError(w, err, "Transcription failed")
		return
	}
	if !ok {
		writeError(w, errVoiceNotFound, "")
		return
	}
	writeJSON(w, http.StatusOK, voice)
}

func (h *Handler) handleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Store.DeleteVoice(r.PathValue("id"))
	if err != nil {
		writeError(w, err, "Failed to delete voice")
		return
	}
	if !ok {
		writeError(w, errVoiceNotFound, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func serveWAV(w http.ResponseWriter, r *http.Request, path, filename string) {
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, path)
}
