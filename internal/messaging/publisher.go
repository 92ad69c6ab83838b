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

// Package messaging announces task and generation lifecycle events.
package messaging

import (
	"context"

	"github.com/loqalabs/loqa-voice/internal/events"
)

// Publisher fans lifecycle events out to interested listeners. Delivery is
// best-effort: callers log failures and carry on.
type Publisher interface {
	PublishTaskEvent(ctx context.Context, event events.TaskEvent) error
	PublishGenerationRun(ctx context.Context, run *events.GenerationRun) error
	Close()
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishTaskEvent(context.Context, events.TaskEvent) error { return nil }

func (NopPublisher) PublishGenerationRun(context.Context, *events.GenerationRun) error { return nil }

func (NopPublisher) Close() {}
