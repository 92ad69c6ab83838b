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

// Package progress keeps the in-memory registry of asynchronous generation
// tasks. Records are lost on restart; nothing here is persisted.
package progress

import (
	"sort"
	"sync"
	"time"
)

// Status is a task lifecycle state
type Status string

const (
	StatusPending      Status = "pending"
	StatusInitializing Status = "initializing"
	StatusGenerating   Status = "generating"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transitions are allowed
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is a snapshot of one tracked unit of work
type Task struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Result    any       `json:"result"`
	Error     *string   `json:"error"`
}

// ErrorText returns the failure text, or "" when the task has not failed
func (t Task) ErrorText() string {
	if t.Error == nil {
		return ""
	}
	return *t.Error
}

// Listener observes status transitions. It runs outside the tracker lock
// and receives a copy.
type Listener func(Task)

// Tracker is safe for concurrent use
type Tracker struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	maxEntries int
	listeners  []Listener
	now        func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithMaxEntries bounds the registry. When exceeded, the oldest terminal
// tasks are evicted; running tasks are never dropped.
func WithMaxEntries(n int) Option {
	return func(t *Tracker) { t.maxEntries = n }
}

// WithListener registers a status transition observer
func WithListener(l Listener) Option {
	return func(t *Tracker) { t.listeners = append(t.listeners, l) }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty registry
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreateTask registers id in the pending state with progress 0
func (t *Tracker) CreateTask(id, description string) {
	now := t.now()
	task := &Task{
		ID:        id,
		Status:    StatusPending,
		Message:   description,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	t.tasks[id] = task
	t.evictLocked()
	snapshot := *task
	t.mu.Unlock()

	t.notify(snapshot)
}

// UpdateOption sets one field in UpdateProgress
type UpdateOption func(*Task)

// WithStatus moves the task to a non-terminal state. Use CompleteTask or
// FailTask for terminal states.
func WithStatus(s Status) UpdateOption {
	return func(task *Task) {
		if !s.Terminal() {
			task.Status = s
		}
	}
}

// WithProgress sets progress, clamped to [0, 100]
func WithProgress(p int) UpdateOption {
	return func(task *Task) { task.Progress = clamp(p) }
}

// WithMessage sets the human-readable message
func WithMessage(m string) UpdateOption {
	return func(task *Task) { task.Message = m }
}

// UpdateProgress applies a partial update. Unknown ids and terminal tasks
// are ignored silently.
func (t *Tracker) UpdateProgress(id string, opts ...UpdateOption) {
	t.mu.Lock()
	task, ok := t.tasks[id]
	if !ok || task.Status.Terminal() {
		t.mu.Unlock()
		return
	}

	before := task.Status
	for _, opt := range opts {
		opt(task)
	}
	task.UpdatedAt = t.now()
	snapshot := *task
	t.mu.Unlock()

	if snapshot.Status != before {
		t.notify(snapshot)
	}
}

// CompleteTask marks the task completed with progress 100 and the result
func (t *Tracker) CompleteTask(id string, result any) {
	t.finish(id, func(task *Task) {
		task.Status = StatusCompleted
		task.Progress = 100
		task.Message = "Completed successfully"
		task.Result = result
		task.Error = nil
	})
}

// FailTask marks the task failed. Progress keeps its last reported value.
func (t *Tracker) FailTask(id, errText string) {
	t.finish(id, func(task *Task) {
		task.Status = StatusFailed
		task.Message = "Failed"
		task.Result = nil
		task.Error = &errText
	})
}

func (t *Tracker) finish(id string, apply func(*Task)) {
	t.mu.Lock()
	task, ok := t.tasks[id]
	if !ok || task.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	apply(task)
	task.UpdatedAt = t.now()
	snapshot := *task
	t.mu.Unlock()

	t.notify(snapshot)
}

// GetTask returns a copy of the task
func (t *Tracker) GetTask(id string) (Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	task, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// DeleteTask stops tracking id. Any running work carries on regardless.
func (t *Tracker) DeleteTask(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.tasks[id]
	delete(t.tasks, id)
	return ok
}

// CleanupOldTasks removes terminal tasks last updated before now-maxAge and
// returns how many were removed.
func (t *Tracker) CleanupOldTasks(maxAge time.Duration) int {
	cutoff := t.now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, task := range t.tasks {
		if task.Status.Terminal() && task.UpdatedAt.Before(cutoff) {
			delete(t.tasks, id)
			removed++
		}
	}
	return removed
}

// Counts returns the number of tracked tasks per status
func (t *Tracker) Counts() map[Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[Status]int, 6)
	for _, task := range t.tasks {
		counts[task.Status]++
	}
	return counts
}

// Len returns the number of tracked tasks
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tasks)
}

func (t *Tracker) evictLocked() {
	if t.maxEntries <= 0 || len(t.tasks) <= t.maxEntries {
		return
	}

	var terminal []*Task
	for _, task := range t.tasks {
		if task.Status.Terminal() {
			terminal = append(terminal, task)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].UpdatedAt.Before(terminal[j].UpdatedAt)
	})

	for _, task := range terminal {
		if len(t.tasks) <= t.maxEntries {
			return
		}
		delete(t.tasks, task.ID)
	}
}

func (t *Tracker) notify(task Task) {
	for _, l := range t.listeners {
		l(task)
	}
}

func clamp(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
