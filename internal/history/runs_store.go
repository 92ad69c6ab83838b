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

package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-voice/internal/apperr"
	"github.com/loqalabs/loqa-voice/internal/events"
	"github.com/loqalabs/loqa-voice/internal/logging"
)

// ErrRunNotFound is returned when no run matches the requested id
var ErrRunNotFound = fmt.Errorf("generation run %w", apperr.ErrNotFound)

const (
	// DefaultListLimit applies when ListOptions.Limit is unset
	DefaultListLimit = 50
	// MaxListLimit caps a single page
	MaxListLimit = 500
)

const runColumns = `run_id, mode, timestamp, voice_id, model, text_length, text_hash,
	generation_id, audio_duration, sample_rate, processing_time_ms, success, error_message`

// RunsStore handles database operations for generation runs
type RunsStore struct {
	db *Database
}

// NewRunsStore creates a new run store
func NewRunsStore(db *Database) *RunsStore {
	return &RunsStore{db: db}
}

// ListOptions defines filtering and pagination options
type ListOptions struct {
	VoiceID string
	Mode    events.Mode
	Success *bool // nil = all, true = success only, false = failures only
	Since   *time.Time

	Limit  int
	Offset int
}

// Insert stores a finished run
func (s *RunsStore) Insert(run *events.GenerationRun) error {
	if err := run.IsValid(); err != nil {
		return fmt.Errorf("invalid generation run: %w", err)
	}

	query := `INSERT INTO generation_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB().Exec(query,
		run.RunID, string(run.Mode), run.Timestamp.UTC(), run.VoiceID, run.Model,
		run.TextLength, run.TextHash, run.GenerationID, run.AudioDuration,
		run.SampleRate, run.ProcessingTime, run.Success, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation run: %w", err)
	}

	logging.LogDatabaseOperation("insert", "generation_runs",
		zap.String("run_id", run.RunID),
		zap.Bool("success", run.Success),
	)
	return nil
}

// GetByRunID retrieves a run by its id
func (s *RunsStore) GetByRunID(runID string) (*events.GenerationRun, error) {
	query := `SELECT ` + runColumns + ` FROM generation_runs WHERE run_id = ?`
	return scanRun(s.db.DB().QueryRow(query, runID))
}

// List retrieves runs newest first, filtered and paginated
func (s *RunsStore) List(options ListOptions) ([]*events.GenerationRun, error) {
	query, args := buildListQuery(options, true)

	rows, err := s.db.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*events.GenerationRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generation runs: %w", err)
	}
	return runs, nil
}

// Count returns the number of runs matching the filter, ignoring pagination
func (s *RunsStore) Count(options ListOptions) (int64, error) {
	query, args := buildListQuery(options, false)
	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS filtered"

	var count int64
	if err := s.db.DB().QueryRow(countQuery, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count generation runs: %w", err)
	}
	return count, nil
}

// DeleteBefore removes runs recorded before cutoff and reports how many went
func (s *RunsStore) DeleteBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.DB().Exec("DELETE FROM generation_runs WHERE timestamp < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune generation runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		logging.LogDatabaseOperation("prune", "generation_runs", zap.Int64("removed", n))
	}
	return n, nil
}

func buildListQuery(options ListOptions, paginate bool) (string, []any) {
	query := `SELECT ` + runColumns + ` FROM generation_runs WHERE 1=1`
	var args []any

	if options.VoiceID != "" {
		query += " AND voice_id = ?"
		args = append(args, options.VoiceID)
	}
	if options.Mode != "" {
		query += " AND mode = ?"
		args = append(args, string(options.Mode))
	}
	if options.Success != nil {
		query += " AND success = ?"
		args = append(args, *options.Success)
	}
	if options.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, options.Since.UTC())
	}

	if !paginate {
		return query, args
	}

	query += " ORDER BY timestamp DESC, id DESC"

	limit := options.Limit
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if options.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, options.Offset)
	}

	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*events.GenerationRun, error) {
	var run events.GenerationRun
	var mode string

	err := row.Scan(
		&run.RunID, &mode, &run.Timestamp, &run.VoiceID, &run.Model,
		&run.TextLength, &run.TextHash, &run.GenerationID, &run.AudioDuration,
		&run.SampleRate, &run.ProcessingTime, &run.Success, &run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	run.Mode = events.Mode(mode)
	return &run, nil
}
