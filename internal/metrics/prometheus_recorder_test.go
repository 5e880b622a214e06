package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveSynthesisDuration("com.app", 2*time.Second)
	rec.ObserveToolDuration("javac", time.Second)
	rec.IncSynthesisOutcome(OutcomeSuccess)
	rec.IncSynthesisOutcome(OutcomeFailed)
	rec.IncDescriptorCacheHit()
	rec.IncDescriptorCacheMiss()
	rec.IncDescriptorCacheMiss()
	rec.IncAdvisory("missing-requires")

	assert.Equal(t, float64(1), testutil.ToFloat64(rec.synthesisOutcome.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.synthesisOutcome.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.cacheResults.WithLabelValues("hit")))
	assert.Equal(t, float64(2), testutil.ToFloat64(rec.cacheResults.WithLabelValues("miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.advisories.WithLabelValues("missing-requires")))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.synthesisDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.toolDuration))
}

func TestNoopRecorderIsSafe(t *testing.T) {
	var rec Recorder = NoopRecorder{}
	rec.ObserveSynthesisDuration("m", time.Second)
	rec.IncSynthesisOutcome(OutcomeSuccess)
	rec.IncDescriptorCacheHit()
	rec.IncDescriptorCacheMiss()
	rec.IncAdvisory("x")
}
