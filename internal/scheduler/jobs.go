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

package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-voice/internal/logging"
)

// TaskSweeper is the slice of the task tracker the sweep needs
type TaskSweeper interface {
	CleanupOldTasks(maxAge time.Duration) int
}

// RunPruner is the slice of the history store the prune job needs
type RunPruner interface {
	DeleteBefore(cutoff time.Time) (int64, error)
}

// TaskSweepJob removes finished tasks older than maxAge
func TaskSweepJob(tasks TaskSweeper, maxAge time.Duration) Job {
	return FuncJob(func(ctx context.Context) {
		if removed := tasks.CleanupOldTasks(maxAge); removed > 0 {
			logging.LogTaskEvent("*", "swept", zap.Int("removed", removed), zap.Duration("max_age", maxAge))
		}
	})
}

// HistoryPruneJob deletes run records older than retention
func HistoryPruneJob(runs RunPruner, retention time.Duration, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return FuncJob(func(ctx context.Context) {
		if _, err := runs.DeleteBefore(now().Add(-retention)); err != nil {
			logging.LogError(err, "Failed to prune generation history")
		}
	})
}
