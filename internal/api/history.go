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
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-voice/internal/events"
	"github.com/loqalabs/loqa-voice/internal/history"
)

// ListRunsResponse is a page of the generation run ledger
type ListRunsResponse struct {
	Runs       []*events.GenerationRun `json:"runs"`
	Total      int64                   `json:"total"`
	Page       int                     `json:"page"`
	PageSize   int                     `json:"page_size"`
	TotalPages int                     `json:"total_pages"`
}

func (h *Handler) historyEnabled(w http.ResponseWriter) bool {
	if h.Runs == nil {
		writeDetail(w, http.StatusNotFound, "Generation history is disabled")
		return false
	}
	return true
}

// handleListHistory handles GET /api/history
func (h *Handler) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if !h.historyEnabled(w) {
		return
	}
	query := r.URL.Query()

	page := parseIntParam(query.Get("page"), 1)
	pageSize := parseIntParam(query.Get("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if page < 1 {
		page = 1
	}

	options := history.ListOptions{
		VoiceID: query.Get("voice_id"),
		Limit:   pageSize,
		Offset:  (page - 1) * pageSize,
	}

	switch mode := events.Mode(query.Get("mode")); mode {
	case "":
	case events.ModeSync, events.ModeAsync:
		options.Mode = mode
	default:
		writeDetail(w, http.StatusBadRequest, "mode must be sync or async")
		return
	}

	if successStr := query.Get("success"); successStr != "" {
		success, err := strconv.ParseBool(successStr)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "success must be a boolean")
			return
		}
		options.Success = &success
	}

	if sinceStr := query.Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		options.Since = &since
	}

	runs, err := h.Runs.List(options)
	if err != nil {
		writeError(w, err, "Failed to list generation history")
		return
	}

	total, err := h.Runs.Count(options)
	if err != nil {
		writeError(w, err, "Failed to count generation history")
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))

	writeJSON(w, http.StatusOK, ListRunsResponse{
		Runs:       runs,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// handleGetRun handles GET /api/history/{id}
func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if !h.historyEnabled(w) {
		return
	}

	run, err := h.Runs.GetByRunID(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			writeDetail(w, http.StatusNotFound, "Generation run not found")
			return
		}
		writeError(w, err, "Failed to read generation run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
