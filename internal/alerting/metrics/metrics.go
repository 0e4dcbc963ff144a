package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector exported by the alerting engine.
type Metrics struct {
	EntitiesIngestedTotal prometheus.Counter
	RulesEvaluatedTotal   prometheus.Counter

	AlertsCreatedTotal    *prometheus.CounterVec
	AlertsDedupedTotal    prometheus.Counter
	AlertsSuppressedTotal *prometheus.CounterVec

	DispatchAttemptsTotal  *prometheus.CounterVec
	DispatchRetryScheduled prometheus.Counter
	DispatchExhaustedTotal *prometheus.CounterVec

	GuardrailBlockedTotal    *prometheus.CounterVec
	AutomationDecisionsTotal *prometheus.CounterVec

	WindowBuckets prometheus.Gauge
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers collectors against reg; tests pass a private registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EntitiesIngestedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_entities_ingested_total",
			Help: "Entities accepted for rule evaluation.",
		}),
		RulesEvaluatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_rules_evaluated_total",
			Help: "Rule evaluations performed across all entities.",
		}),
		AlertsCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_alerts_created_total",
			Help: "Alerts created, by severity.",
		}, []string{"severity"}),
		AlertsDedupedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_alerts_deduped_total",
			Help: "Matched events merged into an existing open alert.",
		}),
		AlertsSuppressedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_alerts_suppressed_total",
			Help: "Alert mutations marked suppressed, by kind.",
		}, []string{"kind"}),
		DispatchAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_dispatch_attempts_total",
			Help: "Notification delivery attempts, by destination and outcome.",
		}, []string{"destination", "outcome"}),
		DispatchRetryScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_dispatch_retries_scheduled_total",
			Help: "Delivery attempts re-armed for a later retry.",
		}),
		DispatchExhaustedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_dispatch_exhausted_total",
			Help: "Destinations that hit max retries, by destination.",
		}, []string{"destination"}),
		GuardrailBlockedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_guardrail_blocked_total",
			Help: "Guardrail acquisitions denied, by reason.",
		}, []string{"reason"}),
		AutomationDecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_automation_decisions_total",
			Help: "Terminal automation decisions, by decision code.",
		}, []string{"decision"}),
		WindowBuckets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_window_buckets",
			Help: "Distinct (rule, group) buckets currently tracked in memory.",
		}),
	}
}
