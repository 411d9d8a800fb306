// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package lockout

import (
	"github.com/voxgate/dirauth/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	trackedIdentities = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dirauth",
		Subsystem: "lockout",
		Name:      "tracked_identities",
		Help:      "Number of local parts with recorded login failures",
	})

	storeFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirauth",
		Subsystem: "lockout",
		Name:      "store_failures_total",
		Help:      "Shared lockout store operations that failed and fell open",
	}, []string{"op"})
)

func init() {
	debug.Registry().MustRegister(trackedIdentities, storeFailuresTotal)
}
