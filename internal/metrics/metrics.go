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

// Package metrics exposes Prometheus collectors for the voice service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loqalabs/loqa-voice/internal/progress"
)

const namespace = "loqa_voice"

// Metrics owns a private registry so tests and multiple servers never collide
// on the global default registerer. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	generationsTotal    *prometheus.CounterVec
	generationDuration  *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	modelLoads          *prometheus.CounterVec
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		generationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Total number of generation runs by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Wall time of generation runs in seconds",
				// synthesis takes seconds to minutes
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"mode"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route pattern and status code",
			},
			[]string{"route", "code"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		modelLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_loads_total",
				Help:      "Total number of model load attempts by model and outcome",
			},
			[]string{"model", "outcome"},
		),
	}
}

// Registry returns the registry backing the /metrics endpoint
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveGeneration records one finished generation run
func (m *Metrics) ObserveGeneration(mode string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generationsTotal.WithLabelValues(mode, outcome(success)).Inc()
	m.generationDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveHTTP records one served request. route is the mux pattern, not the
// raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveModelLoad records a backend model load attempt
func (m *Metrics) ObserveModelLoad(model string, success bool) {
	if m == nil {
		return
	}
	m.modelLoads.WithLabelValues(model, outcome(success)).Inc()
}

// TrackTasks exposes the tracker's per-status counts as the loqa_voice_tasks gauge
func (m *Metrics) TrackTasks(tracker *progress.Tracker) error {
	if m == nil || tracker == nil {
		return nil
	}
	return m.registry.Register(newTaskCollector(tracker))
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
