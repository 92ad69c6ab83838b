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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-voice/internal/apperr"
	"github.com/loqalabs/loqa-voice/internal/logging"
)

const maxJSONBody = 1 << 20

// errorResponse is the body of every non-2xx JSON response
type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.LogWarn("Failed to encode response", zap.Error(err))
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// writeError reports err with the status its category maps to. Server-side
// failures are prefixed with context and logged.
func writeError(w http.ResponseWriter, err error, serverPrefix string) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.LogError(err, serverPrefix)
		writeDetail(w, status, fmt.Sprintf("%s: %v", serverPrefix, err))
		return
	}
	writeDetail(w, status, err.Error())
}

func readJSON(r *http.Request, data interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody+1))
	if err != nil {
		return err
	}
	defer func() { _ = r.Body.Close() }()

	if len(body) > maxJSONBody {
		return errors.New("request body too large")
	}
	return json.Unmarshal(body, data)
}

func parseIntParam(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return defaultValue
}
