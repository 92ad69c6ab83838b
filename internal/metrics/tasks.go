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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loqalabs/loqa-voice/internal/progress"
)

var trackedStatuses = []progress.Status{
	progress.StatusPending,
	progress.StatusInitializing,
	progress.StatusGenerating,
	progress.StatusProcessing,
	progress.StatusCompleted,
	progress.StatusFailed,
}

// taskCollector reads the tracker at scrape time
type taskCollector struct {
	tracker *progress.Tracker
	desc    *prometheus.Desc
}

func newTaskCollector(tracker *progress.Tracker) *taskCollector {
	return &taskCollector{
		tracker: tracker,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "tasks"),
			"Number of tracked background tasks by status",
			[]string{"status"}, nil,
		),
	}
}

func (c *taskCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *taskCollector) Collect(ch chan<- prometheus.Metric) {
	counts := c.tracker.Counts()
	for _, status := range trackedStatuses {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue,
			float64(counts[status]), string(status))
	}
}
