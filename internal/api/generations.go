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
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/loqalabs/loqa-voice/internal/apperr"
	"github.com/loqalabs/loqa-voice/internal/pipeline"
	"github.com/loqalabs/loqa-voice/internal/store"
)

var (
	errGenerationNotFound      = apperr.WithDetail(apperr.ErrNotFound, "Generation not found")
	errGenerationAudioNotFound = apperr.WithDetail(apperr.ErrNotFound, "Generation or audio file not found")
	errTaskNotFound            = apperr.WithDetail(apperr.ErrNotFound, "Task not found")
)

// GenerationRequest is the body of both generation endpoints
type GenerationRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Model   *string `json:"model,omitempty"`
}

// GenerationTaskResponse is returned when a generation is accepted for
// background execution
type GenerationTaskResponse struct {
	TaskID    string `json:"task_id"`
	Message   string `json:"message"`
	StatusURL string `json:"status_url"`
}

func (req GenerationRequest) validate() error {
	n := utf8.RuneCountInString(req.Text)
	if strings.TrimSpace(req.Text) == "" || n > maxTextLength {
		return apperr.WithDetail(apperr.ErrInvalidInput,
			fmt.Sprintf("Text must be between 1 and %d characters", maxTextLength))
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		return apperr.WithDetail(apperr.ErrInvalidInput, "voice_id is required")
	}
	return nil
}

func (req GenerationRequest) pipelineRequest() pipeline.Request {
	out := pipeline.Request{Text: req.Text, VoiceID: req.VoiceID}
	if req.Model != nil {
		out.Model = *req.Model
	}
	return out
}

// resolveGeneration decodes, validates and resolves a generation request,
// writing the error response itself when it fails
func (h *Handler) resolveGeneration(w http.ResponseWriter, r *http.Request) (pipeline.Job, bool) {
	var req GenerationRequest
	if err := readJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return pipeline.Job{}, false
	}
	if err := req.validate(); err != nil {
		writeError(w, err, "")
		return pipeline.Job{}, false
	}

	job, err := h.Runner.Resolve(req.pipelineRequest())
	if err != nil {
		writeError(w, err, "Failed to resolve voice")
		return pipeline.Job{}, false
	}
	return job, true
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	job, ok := h.resolveGeneration(w, r)
	if !ok {
		return
	}

	result, err := h.Runner.Generate(r.Context(), job)
	if err != nil {
		writeError(w, err, "TTS generation failed")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleGenerateAsync(w http.ResponseWriter, r *http.Request) {
	job, ok := h.resolveGeneration(w, r)
	if !ok {
		return
	}

	taskID, err := h.Runner.Submit(job)
	if err != nil {
		if errors.Is(err, pipeline.ErrShuttingDown) {
			writeDetail(w, http.StatusServiceUnavailable, "Server is shutting down")
			return
		}
		writeError(w, err, "Failed to start generation")
		return
	}

	writeJSON(w, http.StatusAccepted, GenerationTaskResponse{
		TaskID:    taskID,
		Message:   "Generation started",
		StatusURL: "/api/generations/tasks/" + taskID,
	})
}

func (h *Handler) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	gens, err := h.Store.ListGenerations(r.URL.Query().Get("voice_id"))
	if err != nil {
		writeError(w, err, "Failed to list generations")
		return
	}

	results := make([]pipeline.Result, 0, len(gens))
	for _, g := range gens {
		results = append(results, pipeline.NewResult(g))
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) lookupGeneration(w http.ResponseWriter, id string) (store.Generation, bool) {
	gen, ok, err := h.Store.GetGeneration(id)
	if err != nil {
		writeError(w, err, "Failed to read generation")
		return store.Generation{}, false
	}
	if !ok {
		writeError(w, errGenerationNotFound, "")
		return store.Generation{}, false
	}
	return gen, true
}

func (h *Handler) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	gen, ok := h.lookupGeneration(w, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, pipeline.NewResult(gen))
}

func (h *Handler) handleGenerationAudio(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("file") != "audio" {
		writeDetail(w, http.StatusNotFound, "Resource not found")
		return
	}

	id := r.PathValue("id")
	path, ok := h.Store.GenerationAudioPath(id)
	if !ok {
		writeError(w, errGenerationAudioNotFound, "")
		return
	}
	serveWAV(w, r, path, "generation_"+id+".wav")
}

func (h *Handler) handleDeleteGeneration(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Store.DeleteGeneration(r.PathValue("id"))
	if err != nil {
		writeError(w, err, "Failed to delete generation")
		return
	}
	if !ok {
		writeError(w, errGenerationNotFound, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.Tracker.GetTask(r.PathValue("id"))
	if !ok {
		writeError(w, errTaskNotFound, "")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleDeleteTask drops tracking only; a running generation still finishes
func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if !h.Tracker.DeleteTask(r.PathValue("id")) {
		writeError(w, errTaskNotFound, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
