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

// Package scheduler runs periodic maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-voice/internal/logging"
)

// Job is a unit of scheduled work
type Job interface{ Run(ctx context.Context) }

// FuncJob adapts a function to Job
type FuncJob func(ctx context.Context)

func (f FuncJob) Run(ctx context.Context) { f(ctx) }

// Scheduler wraps a cron runner. Jobs receive a context that is cancelled
// when the scheduler stops, and a panicking job does not take the process down.
type Scheduler struct {
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler evaluating specs in loc (time.Local when nil)
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	log := zapLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		c: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under a standard cron spec or an @every/@hourly descriptor
func (s *Scheduler) Add(name, spec string, job Job) (cron.EntryID, error) {
	id, err := s.c.AddFunc(spec, func() {
		start := time.Now()
		job.Run(s.ctx)
		if logging.Logger != nil {
			logging.Logger.Debug("Scheduled job finished",
				zap.String("component", "scheduler"),
				zap.String("job", name),
				zap.Duration("elapsed", time.Since(start)),
			)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("failed to schedule %s with %q: %w", name, spec, err)
	}
	return id, nil
}

// Entries lists the registered jobs
func (s *Scheduler) Entries() []cron.Entry { return s.c.Entries() }

// Start begins running jobs in the background
func (s *Scheduler) Start() { s.c.Start() }

// Stop cancels job contexts and waits for running jobs to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.c.Stop().Done()
}

// Run starts the scheduler, blocks until ctx is done, then stops it
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

// zapLogger routes cron's own diagnostics through the service logger
type zapLogger struct{}

func (zapLogger) Info(msg string, keysAndValues ...interface{}) {
	if logging.Sugar != nil {
		logging.Sugar.Debugw(msg, append([]interface{}{"component", "scheduler"}, keysAndValues...)...)
	}
}

func (zapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if logging.Sugar != nil {
		logging.Sugar.Errorw(msg, append([]interface{}{"component", "scheduler", "error", err}, keysAndValues...)...)
	}
}
