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
	"net/http"
)

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":     ServiceName,
		"version":  Version,
		"backend":  h.Platform.Backend,
		"platform": h.Platform.System(),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"backend":  h.Platform.Backend,
		"platform": h.Platform.Hardware.OS,
		"machine":  h.Platform.Hardware.Architecture,
	})
}

func (h *Handler) handleModelsInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.Synthesis.BackendInfo()
	if err != nil {
		writeError(w, err, "Failed to get backend info")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) handleModelsList(w http.ResponseWriter, r *http.Request) {
	models, err := h.Synthesis.AvailableModels()
	if err != nil {
		writeError(w, err, "Failed to list models")
		return
	}
	writeJSON(w, http.StatusOK, models)
}
