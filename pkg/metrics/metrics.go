// Package metrics exposes the manager's Prometheus instrumentation.
// Collectors are registered on the default registry; the serve command
// mounts promhttp next to the API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsQueued counts jobs submitted to device queues, by callback
	// method.
	JobsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fwmanage",
		Subsystem: "dispatch",
		Name:      "jobs_queued_total",
		Help:      "Jobs submitted to device queues.",
	}, []string{"method"})

	// JobsFinished counts terminal job callbacks, by method and outcome
	// (completed, failed, removed).
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fwmanage",
		Subsystem: "dispatch",
		Name:      "jobs_finished_total",
		Help:      "Terminal job callbacks by outcome.",
	}, []string{"method", "outcome"})

	// TunnelTransitions counts tunnel state transitions (pending, active).
	TunnelTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fwmanage",
		Subsystem: "tunnel",
		Name:      "transitions_total",
		Help:      "Tunnel transitions into pending or active state.",
	}, []string{"state"})

	// PublicAddrBlocks counts interfaces blocked for public-address churn.
	PublicAddrBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fwmanage",
		Subsystem: "ratelimit",
		Name:      "public_addr_blocks_total",
		Help:      "Interfaces blocked for high-rate public address changes.",
	})

	// ReconcilePasses counts device sync reconciliation passes.
	ReconcilePasses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fwmanage",
		Subsystem: "reconcile",
		Name:      "passes_total",
		Help:      "Device sync reconciliation passes.",
	})
)
