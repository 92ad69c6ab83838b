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

package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-voice/internal/events"
	"github.com/loqalabs/loqa-voice/internal/logging"
)

// ErrNotConnected is returned when publishing without an open connection
var ErrNotConnected = errors.New("NATS connection not established")

// DefaultSubjectPrefix roots every subject this service publishes on
const DefaultSubjectPrefix = "loqa.voice"

// NATSConfig holds connection settings for the NATS publisher
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Name          string
	MaxReconnect  int // negative retries forever
	ReconnectWait time.Duration
}

// NATSPublisher publishes lifecycle events as JSON on core NATS subjects:
//
//	<prefix>.task.<status>
//	<prefix>.generation.<completed|failed>
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the configured server
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS url is required")
	}
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	name := cfg.Name
	if name == "" {
		name = "loqa-voice"
	}
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(wait),
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.LogWarn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(nc.ConnectedUrl(), "reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(prefix, "closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logging.LogNATSEvent(prefix, "connected", zap.String("url", conn.ConnectedUrl()))
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// TaskSubject returns the subject a task event with the given status lands on
func (p *NATSPublisher) TaskSubject(status string) string {
	return p.prefix + ".task." + status
}

// GenerationSubject returns the subject for a finished generation run
func (p *NATSPublisher) GenerationSubject(success bool) string {
	if success {
		return p.prefix + ".generation.completed"
	}
	return p.prefix + ".generation.failed"
}

// PublishTaskEvent publishes a task status change
func (p *NATSPublisher) PublishTaskEvent(ctx context.Context, event events.TaskEvent) error {
	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal task event: %w", err)
	}
	return p.publish(ctx, p.TaskSubject(event.Status), data,
		zap.String("task_id", event.TaskID))
}

// PublishGenerationRun publishes the audit record of a finished run
func (p *NATSPublisher) PublishGenerationRun(ctx context.Context, run *events.GenerationRun) error {
	data, err := run.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal generation run: %w", err)
	}
	return p.publish(ctx, p.GenerationSubject(run.Success), data,
		zap.String("run_id", run.RunID))
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, data []byte, fields ...zap.Field) error {
	if p.conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	logging.LogNATSEvent(subject, "publish", fields...)
	return nil
}

// Flush waits until the server has processed everything published so far
func (p *NATSPublisher) Flush(ctx context.Context) error {
	if p.conn == nil {
		return ErrNotConnected
	}
	return p.conn.FlushWithContext(ctx)
}

// IsConnected returns true if connected to NATS
func (p *NATSPublisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close drains pending messages and closes the connection
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
