// Invariants are conditions that must hold unless kindly itself has a bug, e.g. a batch dispatch that was scheduled
// with an empty queue or a cache shard index out of range. Violating one must never crash the client: the violation
// is logged, counted in `invariants_total` so it can be alerted on, and the caller still handles the bad case itself
// (usually an early return).
//
// Do not raise invariants for failures of the document store or the network; those are expected and handled by the
// retry and never-throw read policies. Raise them for states that only our own code could have produced.
//
// Tests build with TestMode=true, which turns every violation into a panic.

package utils

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	promclient "github.com/prometheus/client_model/go"
)

var invariantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "invariants_total",
	Help: "The total number of invariant violations",
}, []string{
	"module", // The package that raised the violation, e.g. batch or cache.
	"type",   // A snake_case name of the violated condition.
})

// RaiseInvariant records a violated invariant. `args` are slog key-value pairs.
func RaiseInvariant(module, invariantType, msg string, args ...any) {
	invariantsMetric.WithLabelValues(module, invariantType).Inc()
	slog.With("invariant", invariantType, "module", module).Error(msg, args...)
	if IsTestMode {
		panic("invariant violated: " + invariantType)
	}
}

// GetMetricValue returns how many times the invariant `invariantType` of `module` was raised.
func GetMetricValue(module, invariantType string) int {
	metric := &promclient.Metric{}
	if err := invariantsMetric.WithLabelValues(module, invariantType).Write(metric); err != nil {
		slog.Error("Failed to read invariant metric.", "error", err)
		return 0
	}
	return int(metric.Counter.GetValue())
}
