// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"github.com/voxgate/dirauth/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirauth",
		Subsystem: "auth",
		Name:      "attempts_total",
		Help:      "Authentication attempts by mode and outcome",
	}, []string{"mode", "outcome"})

	attemptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dirauth",
		Subsystem: "auth",
		Name:      "attempt_duration_seconds",
		Help:      "End to end duration of authentication attempts",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"mode"})

	lockoutRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dirauth",
		Subsystem: "auth",
		Name:      "lockout_rejections_total",
		Help:      "Attempts rejected by the account lockout policy without directory contact",
	})

	accountsProvisionedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dirauth",
		Subsystem: "auth",
		Name:      "accounts_provisioned_total",
		Help:      "Accounts created on first successful directory login",
	})

	activeAttempts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dirauth",
		Subsystem: "auth",
		Name:      "active_attempts",
		Help:      "Authentication attempts currently holding a pool slot",
	})
)

func init() {
	debug.Registry().MustRegister(
		attemptsTotal,
		attemptDuration,
		lockoutRejectionsTotal,
		accountsProvisionedTotal,
		activeAttempts,
	)
}
