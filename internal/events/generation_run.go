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

package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Mode distinguishes the synchronous request path from background tasks
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// GenerationRun is the audit record of one pass through the generation pipeline
type GenerationRun struct {
	// Core identification
	RunID     string    `json:"run_id" db:"run_id"`
	Mode      Mode      `json:"mode" db:"mode"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	// Request
	VoiceID    string `json:"voice_id" db:"voice_id"`
	Model      string `json:"model,omitempty" db:"model"`
	TextLength int    `json:"text_length" db:"text_length"`
	TextHash   string `json:"text_hash" db:"text_hash"`

	// Outcome
	GenerationID   string  `json:"generation_id,omitempty" db:"generation_id"`
	AudioDuration  float64 `json:"audio_duration" db:"audio_duration"`
	SampleRate     int     `json:"sample_rate" db:"sample_rate"`
	ProcessingTime int64   `json:"processing_time_ms" db:"processing_time_ms"`
	Success        bool    `json:"success" db:"success"`
	ErrorMessage   string  `json:"error_message,omitempty" db:"error_message"`
}

// NewGenerationRun starts a run record stamped with the current time
func NewGenerationRun(runID string, mode Mode, voiceID, text string) *GenerationRun {
	run := &GenerationRun{
		RunID:     runID,
		Mode:      mode,
		Timestamp: time.Now().UTC(),
		VoiceID:   voiceID,
	}
	run.SetText(text)
	return run
}

// SetText records the length and hash of the synthesized text. The text itself
// is not kept in the ledger.
func (r *GenerationRun) SetText(text string) {
	r.TextLength = len([]rune(text))
	sum := sha256.Sum256([]byte(text))
	r.TextHash = hex.EncodeToString(sum[:])
}

// SetResult marks the run as successful
func (r *GenerationRun) SetResult(generationID, model string, duration float64, sampleRate int) {
	r.Success = true
	r.ErrorMessage = ""
	r.GenerationID = generationID
	r.Model = model
	r.AudioDuration = duration
	r.SampleRate = sampleRate
	r.ProcessingTime = time.Since(r.Timestamp).Milliseconds()
}

// SetError marks the run as failed with an error message
func (r *GenerationRun) SetError(err error) {
	r.Success = false
	r.ErrorMessage = err.Error()
	r.ProcessingTime = time.Since(r.Timestamp).Milliseconds()
}

// IsValid performs basic validation on the run record
func (r *GenerationRun) IsValid() error {
	if r.RunID == "" {
		return errors.New("run id is required")
	}
	if r.Mode != ModeSync && r.Mode != ModeAsync {
		return fmt.Errorf("unknown mode %q", r.Mode)
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if r.Success && r.GenerationID == "" {
		return errors.New("successful run must reference a generation")
	}
	if !r.Success && r.ErrorMessage == "" {
		return errors.New("failed run must carry an error message")
	}
	return nil
}

// ToJSON serializes the run for the message bus
func (r *GenerationRun) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

func (r *GenerationRun) String() string {
	return fmt.Sprintf("GenerationRun{RunID: %s, Mode: %s, VoiceID: %s, Model: %s, Success: %t}",
		r.RunID, r.Mode, r.VoiceID, r.Model, r.Success)
}
