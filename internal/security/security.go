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

// Package security holds input hygiene helpers for client-supplied strings.
package security

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/loqalabs/loqa-voice/internal/apperr"
)

// ErrInvalidName is returned for display names that are empty, too long or
// contain control characters
var ErrInvalidName = fmt.Errorf("%w: invalid name", apperr.ErrInvalidInput)

var errControlChars = errors.New("name contains control characters")

// SanitizeLogInput removes line breaks so user-controlled values cannot
// forge extra log entries. Other control characters except tab are dropped.
func SanitizeLogInput(input string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return r
		}
		if unicode.IsControl(r) && r != '\x1b' {
			return -1
		}
		return r
	}, input)
}

// ValidateDisplayName trims name and checks it holds 1..maxRunes characters
// and no control characters. The trimmed name is returned.
func ValidateDisplayName(name string, maxRunes int) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > maxRunes {
		return "", ErrInvalidName
	}
	if strings.IndexFunc(trimmed, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("%w: %v", ErrInvalidName, errControlChars)
	}
	return trimmed, nil
}
