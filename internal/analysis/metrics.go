package analysis

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	functions  prometheus.Counter
	iterations prometheus.Histogram
	unresolved prometheus.Counter
	resolved   prometheus.Counter
	runs       *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		functions: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liftkit_functions_analyzed_total",
			Help: "Function snapshots committed.",
		})),
		iterations: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "liftkit_propagation_iterations",
			Help:    "Block visits value propagation needed per function.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		})),
		unresolved: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liftkit_unresolved_branches_total",
			Help: "Indirect branches left unresolved in committed functions.",
		})),
		resolved: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liftkit_resolved_branches_total",
			Help: "Indirect branches resolved by value propagation.",
		})),
		runs: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liftkit_analysis_runs_total",
			Help: "Analysis runs by outcome.",
		}, []string{"outcome"})),
	}
}

// register adds c to reg. Analyses sharing a registerer share collectors.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
