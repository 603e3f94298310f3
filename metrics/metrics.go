// Package metrics holds the handful of operational counters the core
// itself is required to maintain: the copy engine's rx-fail counter
// (§4.E), ATL per-shard queue depth (§4.F), and delayed-free sweep counts
// (§4.A). This is distinct from the "profiling counters" §1 marks as an
// external collaborator out of scope — those are the existing OpenFAM
// profiling subsystem; these are counters the spec's own testable
// properties (§8) depend on.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every gauge/counter the core exposes. Held by the
// server context (§9), never as a package-level global.
type Registry struct {
	RxFailTotal        *prometheus.CounterVec
	ATLQueueDepth      *prometheus.GaugeVec
	ATLRequestsTotal   *prometheus.CounterVec
	DelayedFreeSweeps  prometheus.Counter
	DelayedFreeReclaim prometheus.Counter
	RegisteredWindows  prometheus.Gauge
}

// NewRegistry constructs a fresh Registry and registers its collectors
// with reg (cmd/memserverd passes prometheus.DefaultRegisterer; tests
// pass a throwaway prometheus.NewRegistry()).
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RxFailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "famserver",
			Name:      "copyengine_rx_fail_total",
			Help:      "Failed RDMA read completions observed by the copy engine, per fabric context.",
		}, []string{"context"}),
		ATLQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "famserver",
			Name:      "atl_queue_depth",
			Help:      "Current message count in an ATL worker's ring buffer.",
		}, []string{"worker"}),
		ATLRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "famserver",
			Name:      "atl_requests_total",
			Help:      "ATL requests processed, by worker and outcome.",
		}, []string{"worker", "outcome"}),
		DelayedFreeSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "famserver",
			Name:      "delayed_free_sweeps_total",
			Help:      "Delayed-free worker sweep iterations across all shards.",
		}),
		DelayedFreeReclaim: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "famserver",
			Name:      "delayed_free_reclaimed_total",
			Help:      "Offsets reclaimed by delayed-free epoch advances.",
		}),
		RegisteredWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "famserver",
			Name:      "registered_windows",
			Help:      "Currently registered (region_id, item_id, access_mode) fabric windows.",
		}),
	}
	reg.MustRegister(r.RxFailTotal, r.ATLQueueDepth, r.ATLRequestsTotal,
		r.DelayedFreeSweeps, r.DelayedFreeReclaim, r.RegisteredWindows)
	return r
}
