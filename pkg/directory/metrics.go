// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"github.com/voxgate/dirauth/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	dialDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dirauth",
		Subsystem: "directory",
		Name:      "dial_duration_seconds",
		Help:      "Time spent establishing directory connections",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	bindDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dirauth",
		Subsystem: "directory",
		Name:      "bind_duration_seconds",
		Help:      "Time spent on directory bind operations",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	searchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dirauth",
		Subsystem: "directory",
		Name:      "search_duration_seconds",
		Help:      "Time spent on directory search operations",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
)

func init() {
	debug.Registry().MustRegister(
		dialDuration,
		bindDuration,
		searchDuration,
	)
}
