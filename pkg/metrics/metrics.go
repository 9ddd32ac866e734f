// Package metrics defines the Prometheus instruments shared by the
// placement scheduler and the reward settlement pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every counter/gauge/histogram this core exposes. A
// caller constructs one Registry and passes it by reference to every
// component instead of relying on prometheus's default global registerer.
type Registry struct {
	QueueDepth         prometheus.Gauge
	PlacementDuration  prometheus.Histogram
	PlacementSuccesses prometheus.Counter
	PlacementFailures  prometheus.Counter

	RewardDistributions prometheus.Counter
	RewardSuccesses      prometheus.Counter
	RewardFailures       prometheus.Counter
	RewardRollbacks      prometheus.Counter
	RewardTotalAmount    prometheus.Counter
}

// NewRegistry builds and registers every instrument against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fog_orchestrator",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Current number of placement tasks waiting in the work queue.",
		}),
		PlacementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fog_orchestrator",
			Subsystem: "scheduler",
			Name:      "placement_duration_seconds",
			Help:      "Time to complete one placement run, from capacity filter to roll-up.",
			Buckets:   prometheus.DefBuckets,
		}),
		PlacementSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fog_orchestrator",
			Subsystem: "scheduler",
			Name:      "placement_successes_total",
			Help:      "Placement runs that scheduled at least one replica.",
		}),
		PlacementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fog_orchestrator",
			Subsystem: "scheduler",
			Name:      "placement_failures_total",
			Help:      "Placement runs that failed outright (capacity or transaction abort).",
		}),
		RewardDistributions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fog_orchestrator",
			Subsystem: "rewards",
			Name:      "distributions_total",
			Help:      "Reward transfer attempts made during settlement.",
		}),
		RewardSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fog_orchestrator",
			Subsystem: "rewards",
			Name:      "distribution_successes_total",
			Help:      "Reward transfers that succeeded.",
		}),
		RewardFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fog_orchestrator",
			Subsystem: "rewards",
			Name:      "distribution_failures_total",
			Help:      "Reward transfers that failed and triggered rollback.",
		}),
		RewardRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fog_orchestrator",
			Subsystem: "rewards",
			Name:      "rollbacks_total",
			Help:      "Rollback transfers issued after a failed distribution.",
		}),
		RewardTotalAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fog_orchestrator",
			Subsystem: "rewards",
			Name:      "distributed_amount_total",
			Help:      "Sum of successfully distributed reward amounts (whole + fractional tokens).",
		}),
	}

	reg.MustRegister(
		m.QueueDepth, m.PlacementDuration, m.PlacementSuccesses, m.PlacementFailures,
		m.RewardDistributions, m.RewardSuccesses, m.RewardFailures, m.RewardRollbacks, m.RewardTotalAmount,
	)
	return m
}
