// Package metrics provides observability hooks for module synthesis.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics collection is optional and tests run with
// isolated registries.
package metrics

import "time"

// OutcomeLabel enumerates synthesis outcome categories for counters.
type OutcomeLabel string

const (
	OutcomeSuccess OutcomeLabel = "success"
	OutcomeFailed  OutcomeLabel = "failed"
)

// Recorder defines observability hooks for synthesis and cache metrics.
// Implementations may forward to Prometheus etc. All methods must be safe
// for zero-value receivers (allowing optional injection).
type Recorder interface {
	ObserveSynthesisDuration(module string, d time.Duration)
	ObserveToolDuration(tool string, d time.Duration)
	IncSynthesisOutcome(outcome OutcomeLabel)
	IncDescriptorCacheHit()
	IncDescriptorCacheMiss()
	IncAdvisory(kind string) // kind: redundant-concealed|missing-requires
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveSynthesisDuration(string, time.Duration) {}
func (NoopRecorder) ObserveToolDuration(string, time.Duration)      {}
func (NoopRecorder) IncSynthesisOutcome(OutcomeLabel)               {}
func (NoopRecorder) IncDescriptorCacheHit()                         {}
func (NoopRecorder) IncDescriptorCacheMiss()                        {}
func (NoopRecorder) IncAdvisory(string)                             {}
