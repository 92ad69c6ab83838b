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

// Package apperr defines the error categories shared by every layer of the
// voice service. Component packages wrap these with %w so callers can test
// with errors.Is regardless of where a failure originated.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrPreconditionFailed    = errors.New("precondition failed")
	ErrModelUnavailable      = errors.New("model unavailable")
	ErrReferenceAudioMissing = errors.New("reference audio missing")
	ErrGenerationFailed      = errors.New("generation failed")
	ErrEncodingFailed        = errors.New("encoding failed")
)

// HTTPStatus maps an error to the status code the API layer reports
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrPreconditionFailed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type detailError struct {
	kind error
	msg  string
}

func (e *detailError) Error() string { return e.msg }

func (e *detailError) Unwrap() error { return e.kind }

// WithDetail returns an error whose text is msg and which matches kind under
// errors.Is. Use it for messages shown verbatim to API clients.
func WithDetail(kind error, msg string) error {
	return &detailError{kind: kind, msg: msg}
}
