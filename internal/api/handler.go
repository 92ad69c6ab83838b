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

// Package api implements the HTTP surface of the voice service.
package api

import (
	"net/http"

	"github.com/loqalabs/loqa-voice/internal/history"
	"github.com/loqalabs/loqa-voice/internal/pipeline"
	"github.com/loqalabs/loqa-voice/internal/platform"
	"github.com/loqalabs/loqa-voice/internal/progress"
	"github.com/loqalabs/loqa-voice/internal/store"
	"github.com/loqalabs/loqa-voice/internal/synthesis"
	"github.com/loqalabs/loqa-voice/internal/transcription"
)

const (
	// ServiceName and Version are reported by the root endpoint
	ServiceName = "TTS Voice Cloning API"
	Version     = "0.2.0"

	maxTextLength      = 5000
	maxVoiceNameLength = 100
	maxUploadBytes     = 50 << 20
)

// Deps are the collaborators the handlers serve from
type Deps struct {
	Store       *store.Store
	Synthesis   *synthesis.Service
	Runner      *pipeline.Runner
	Tracker     *progress.Tracker
	Transcriber transcription.Transcriber
	Runs        *history.RunsStore // nil when history is disabled
	Platform    platform.Descriptor
}

// Handler serves the REST API
type Handler struct {
	Deps
}

// NewHandler creates a handler. A nil Transcriber behaves as disabled.
func NewHandler(deps Deps) *Handler {
	if deps.Transcriber == nil {
		deps.Transcriber = transcription.Disabled{}
	}
	return &Handler{Deps: deps}
}

// Register mounts every route on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /api/health", h.handleHealth)

	mux.HandleFunc("POST /api/voices", h.handleCreateVoice)
	mux.HandleFunc("GET /api/voices", h.handleListVoices)
	mux.HandleFunc("GET /api/voices/{id}", h.handleGetVoice)
	mux.HandleFunc("GET /api/voices/{id}/audio", h.handleVoiceAudio)
	mux.HandleFunc("GET /api/voices/{id}/transcription", h.handleGetTranscription)
	mux.HandleFunc("POST /api/voices/{id}/transcription", h.handleUpdateTranscription)
	mux.HandleFunc("POST /api/voices/{id}/transcribe", h.handleTranscribe)
	mux.HandleFunc("DELETE /api/voices/{id}", h.handleDeleteVoice)

	mux.HandleFunc("POST /api/generations", h.handleGenerate)
	mux.HandleFunc("POST /api/generations/async", h.handleGenerateAsync)
	mux.HandleFunc("GET /api/generations", h.handleListGenerations)
	mux.HandleFunc("GET /api/generations/models/info", h.handleModelsInfo)
	mux.HandleFunc("GET /api/generations/models/list", h.handleModelsList)
	mux.HandleFunc("GET /api/generations/tasks/{id}", h.handleGetTask)
	mux.HandleFunc("DELETE /api/generations/tasks/{id}", h.handleDeleteTask)
	mux.HandleFunc("GET /api/generations/{id}", h.handleGetGeneration)
	// "{id}/audio" would overlap "tasks/{id}", so the second segment is matched here
	mux.HandleFunc("GET /api/generations/{id}/{file}", h.handleGenerationAudio)
	mux.HandleFunc("DELETE /api/generations/{id}", h.handleDeleteGeneration)

	mux.HandleFunc("GET /api/history", h.handleListHistory)
	mux.HandleFunc("GET /api/history/{id}", h.handleGetRun)
}
