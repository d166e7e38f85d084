// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package metrics wires github.com/prometheus/client_golang into the
// Transaction Engine, RPC Dispatcher and Startup Orchestrator, the use
// the domain stack table in SPEC_FULL.md §4 assigns it: commit
// duration, lock contention, and the startup mode the device booted
// under. None of the teacher's own Go sources use Prometheus, but
// cuemby-warren and ipiton-alert-history-service in the retrieved pack
// both do, in this same "package metrics with a Collector struct"
// shape.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles every metric this module exports. A nil *Collector
// is valid and every method becomes a no-op, so components can be
// constructed without a registry in tests.
type Collector struct {
	commitDuration  *prometheus.HistogramVec
	lockContention  prometheus.Counter
	startupModeInfo *prometheus.GaugeVec
}

// New registers the collector's metrics against reg and returns it.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "configd",
			Subsystem: "txengine",
			Name:      "commit_duration_seconds",
			Help:      "Time to run the commit state machine to a terminal state, by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "configd",
			Subsystem: "datastore",
			Name:      "lock_denied_total",
			Help:      "Number of LockDenied responses returned to edit-config/lock requests.",
		}),
		startupModeInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "configd",
			Subsystem: "startup",
			Name:      "mode_info",
			Help:      "Set to 1 for the startup mode and outcome this boot used; others are 0.",
		}, []string{"mode", "outcome"}),
	}
	reg.MustRegister(c.commitDuration, c.lockContention, c.startupModeInfo)
	return c
}

func (c *Collector) ObserveCommit(outcome string, seconds interface{ Seconds() float64 }) {
	if c == nil {
		return
	}
	c.commitDuration.WithLabelValues(outcome).Observe(seconds.Seconds())
}

func (c *Collector) IncLockDenied() {
	if c == nil {
		return
	}
	c.lockContention.Inc()
}

func (c *Collector) SetStartupOutcome(mode, outcome string) {
	if c == nil {
		return
	}
	c.startupModeInfo.WithLabelValues(mode, outcome).Set(1)
}
