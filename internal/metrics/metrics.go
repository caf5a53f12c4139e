// Package metrics registers the Prometheus series exported by every process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom registry every series below is registered with.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// CyclesTotal counts orchestration cycles by strategy and result.
var CyclesTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "cycles_total",
	Help:      "Orchestration cycles by strategy and result (ok, skipped, error)",
}, []string{"strategy", "result"})

// CycleDurationSeconds tracks how long a single campaign cycle takes.
var CycleDurationSeconds = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "dialer",
	Name:      "cycle_duration_seconds",
	Help:      "Time taken to run one campaign cycle",
	Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})

// AttemptsCreatedTotal counts attempts created by strategy.
var AttemptsCreatedTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "attempts_created_total",
	Help:      "Call attempts created by dialing strategy",
}, []string{"strategy"})

// LeadsExcludedTotal counts permanent exclusions by reason.
var LeadsExcludedTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "leads_excluded_total",
	Help:      "Leads permanently excluded by reason",
}, []string{"reason"})

// CandidateErrorsTotal counts per-candidate failures that did not abort a cycle.
var CandidateErrorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "candidate_errors_total",
	Help:      "Per-candidate failures by stage",
}, []string{"stage"})

// LifecycleEventsTotal counts telephony events by type and whether they changed state.
var LifecycleEventsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "lifecycle_events_total",
	Help:      "Lifecycle events by type and outcome (applied, duplicate, unknown)",
}, []string{"type", "outcome"})

// LeadsRecycledTotal counts leads returned to the dialable pool.
var LeadsRecycledTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "leads_recycled_total",
	Help:      "Leads returned to new by the recycling pass",
})

// DialRequestsTotal counts placement requests handled by the telephony bridge.
var DialRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bridge",
	Name:      "dial_requests_total",
	Help:      "Dial requests handled by the telephony bridge by result",
}, []string{"result"})
