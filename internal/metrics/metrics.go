// Package metrics exposes Prometheus metrics for the resilience pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "estiguard_admissions_total",
		Help: "Admission decisions by endpoint class and outcome",
	}, []string{"class", "outcome"})

	DispatchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "estiguard_dispatch_attempts_total",
		Help: "Model dispatch attempts by model and result",
	}, []string{"model", "result"})

	CircuitOpensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "estiguard_circuit_opens_total",
		Help: "Circuit breaker opens by model",
	}, []string{"model"})

	DegradationLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "estiguard_degradation_level",
		Help: "Current degradation level (0=full, 1=partial, 2=offline)",
	})

	FallbackCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "estiguard_fallback_cache_total",
		Help: "Degraded-mode fallback lookups by source (cache, canned)",
	}, []string{"source"})

	CompletionTokens = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "estiguard_completion_tokens",
		Help:    "Total tokens per completed call",
		Buckets: prometheus.ExponentialBuckets(64, 2, 10),
	}, []string{"model"})
)
