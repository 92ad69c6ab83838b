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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/progress"
)

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(time.UTC)

	_, err := s.Add("bad", "whenever you like", FuncJob(func(context.Context) {}))
	assert.Error(t, err)
	assert.Empty(t, s.Entries())
}

func TestRunExecutesJobsUntilCancelled(t *testing.T) {
	s := New(time.UTC)

	var runs atomic.Int32
	_, err := s.Add("tick", "@every 1s", FuncJob(func(context.Context) { runs.Add(1) }))
	require.NoError(t, err)
	require.Len(t, s.Entries(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestPanickingJobIsRecovered(t *testing.T) {
	s := New(time.UTC)

	var after atomic.Bool
	_, err := s.Add("panics", "@every 1s", FuncJob(func(context.Context) { panic("boom") }))
	require.NoError(t, err)
	_, err = s.Add("survivor", "@every 1s", FuncJob(func(context.Context) { after.Store(true) }))
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, after.Load, 3*time.Second, 50*time.Millisecond)
}

func TestTaskSweepJob(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tracker := progress.NewTracker(progress.WithClock(func() time.Time { return now }))

	tracker.CreateTask("old", "done long ago")
	tracker.CompleteTask("old", nil)
	tracker.CreateTask("running", "still working")

	now = now.Add(2 * time.Hour)
	TaskSweepJob(tracker, time.Hour).Run(context.Background())

	_, ok := tracker.GetTask("old")
	assert.False(t, ok, "finished task past max age should be swept")
	_, ok = tracker.GetTask("running")
	assert.True(t, ok, "non-terminal tasks are never swept")
}

type fakePruner struct {
	cutoff time.Time
	err    error
}

func (f *fakePruner) DeleteBefore(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, f.err
}

func TestHistoryPruneJob(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	pruner := &fakePruner{}

	HistoryPruneJob(pruner, 24*time.Hour, func() time.Time { return now }).Run(context.Background())
	assert.Equal(t, now.Add(-24*time.Hour), pruner.cutoff)

	pruner.err = errors.New("disk full")
	assert.NotPanics(t, func() {
		HistoryPruneJob(pruner, time.Hour, nil).Run(context.Background())
	})
}
