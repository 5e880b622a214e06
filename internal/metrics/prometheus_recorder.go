package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once              sync.Once
	synthesisDuration *prom.HistogramVec
	toolDuration      *prom.HistogramVec
	synthesisOutcome  *prom.CounterVec
	cacheResults      *prom.CounterVec
	advisories        *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.synthesisDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "modbuild",
			Name:      "synthesis_duration_seconds",
			Help:      "Duration of module descriptor synthesis per module",
			Buckets:   prom.DefBuckets,
		}, []string{"module"})
		pr.toolDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "modbuild",
			Name:      "tool_duration_seconds",
			Help:      "Duration of external tool invocations",
			Buckets:   prom.DefBuckets,
		}, []string{"tool"})
		pr.synthesisOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "modbuild",
			Name:      "synthesis_outcomes_total",
			Help:      "Synthesis outcomes by final status",
		}, []string{"outcome"})
		pr.cacheResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "modbuild",
			Name:      "descriptor_cache_results_total",
			Help:      "Descriptor cache lookups by hit/miss",
		}, []string{"result"})
		pr.advisories = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "modbuild",
			Name:      "advisories_total",
			Help:      "Advisory diagnostics emitted during synthesis",
		}, []string{"kind"})
		reg.MustRegister(pr.synthesisDuration, pr.toolDuration, pr.synthesisOutcome, pr.cacheResults, pr.advisories)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveSynthesisDuration(module string, d time.Duration) {
	if p == nil || p.synthesisDuration == nil {
		return
	}
	p.synthesisDuration.WithLabelValues(module).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveToolDuration(tool string, d time.Duration) {
	if p == nil || p.toolDuration == nil {
		return
	}
	p.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncSynthesisOutcome(outcome OutcomeLabel) {
	if p == nil || p.synthesisOutcome == nil {
		return
	}
	p.synthesisOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncDescriptorCacheHit() {
	if p == nil || p.cacheResults == nil {
		return
	}
	p.cacheResults.WithLabelValues("hit").Inc()
}

func (p *PrometheusRecorder) IncDescriptorCacheMiss() {
	if p == nil || p.cacheResults == nil {
		return
	}
	p.cacheResults.WithLabelValues("miss").Inc()
}

func (p *PrometheusRecorder) IncAdvisory(kind string) {
	if p == nil || p.advisories == nil {
		return
	}
	p.advisories.WithLabelValues(kind).Inc()
}
