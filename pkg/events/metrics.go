// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"github.com/voxgate/dirauth/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirauth",
		Subsystem: "events",
		Name:      "emitted_total",
		Help:      "Total number of auth events published",
	}, []string{"event_type"})

	eventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dirauth",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Total number of auth events dropped because the delivery queue was full",
	})

	eventsErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirauth",
		Subsystem: "events",
		Name:      "errors_total",
		Help:      "Total number of auth event delivery errors",
	}, []string{"error_type"}) // error_type: "marshal", "publish"

	eventsDeliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dirauth",
		Subsystem: "events",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent delivering auth events to the stream",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	eventsQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dirauth",
		Subsystem: "events",
		Name:      "queue_depth",
		Help:      "Current number of auth events pending delivery",
	})
)

func init() {
	debug.Registry().MustRegister(
		eventsEmittedTotal,
		eventsDroppedTotal,
		eventsErrorsTotal,
		eventsDeliveryDuration,
		eventsQueueDepth,
	)
}
