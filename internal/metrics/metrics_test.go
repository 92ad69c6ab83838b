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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/progress"
)

func TestObserveGeneration(t *testing.T) {
	m := New()

	m.ObserveGeneration("sync", true, 2*time.Second)
	m.ObserveGeneration("async", false, time.Second)
	m.ObserveGeneration("async", true, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.generationsTotal.WithLabelValues("sync", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generationsTotal.WithLabelValues("async", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generationsTotal.WithLabelValues("async", "success")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.generationDuration))
}

func TestObserveHTTPAndModelLoads(t *testing.T) {
	m := New()

	m.ObserveHTTP("GET /api/voices", 200, 10*time.Millisecond)
	m.ObserveHTTP("GET /api/voices", 200, 10*time.Millisecond)
	m.ObserveHTTP("GET /api/voices/{id}", 404, time.Millisecond)
	m.ObserveModelLoad("model-a", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET /api/voices", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET /api/voices/{id}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelLoads.WithLabelValues("model-a", "success")))
}

func TestTrackTasks(t *testing.T) {
	m := New()
	tracker := progress.NewTracker()
	require.NoError(t, m.TrackTasks(tracker))

	tracker.CreateTask("a", "first")
	tracker.CreateTask("b", "second")
	tracker.CompleteTask("b", nil)

	expected := `
# HELP loqa_voice_tasks Number of tracked background tasks by status
# TYPE loqa_voice_tasks gauge
loqa_voice_tasks{status="completed"} 1
loqa_voice_tasks{status="failed"} 0
loqa_voice_tasks{status="generating"} 0
loqa_voice_tasks{status="initializing"} 0
loqa_voice_tasks{status="pending"} 1
loqa_voice_tasks{status="processing"} 0
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "loqa_voice_tasks"))
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.ObserveGeneration("sync", true, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `loqa_voice_generations_total{mode="sync",outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	m.ObserveGeneration("sync", true, time.Second)
	m.ObserveHTTP("GET /", 200, time.Millisecond)
	m.ObserveModelLoad("m", false)
	assert.NoError(t, m.TrackTasks(progress.NewTracker()))
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
