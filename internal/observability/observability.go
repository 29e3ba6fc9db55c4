// Package observability implements spans and metrics as rows in the events
// table (spec.md §4.G), grounded on the teacher's structured audit-event
// idiom (internal/logging/audit.go: one event = category + content +
// structured fields, written as it happens rather than buffered).
package observability

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jamesaphoenix/tx-sub011/internal/logging"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

type runIDKey struct{}

// Recorder is the interface both Service and Noop satisfy, letting callers
// depend on an abstraction that has zero side effects in benchmark/test
// builds (spec.md §4.G).
type Recorder interface {
	WithSpan(ctx context.Context, name string, attributes map[string]interface{}, effect func(ctx context.Context) error) error
	RecordMetric(ctx context.Context, name string, value float64, attributes map[string]interface{}) error
	WithRunContext(ctx context.Context, runID string, effect func(ctx context.Context) error) error
}

// Service records spans and metrics by writing to the events table.
type Service struct {
	db *store.DB
}

// NewService builds a Service over db.
func NewService(db *store.DB) *Service {
	return &Service{db: db}
}

// runIDFrom returns the run id bound by the innermost WithRunContext, or
// generates a fresh correlation id via uuid when none is bound — spans
// taken outside any explicit run still need a stable id to group by.
func runIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// WithSpan starts a monotonic timer, runs effect, and on completion writes
// one events row capturing {status, attributes, error?} in Metadata
// (spec.md §4.G).
func (s *Service) WithSpan(ctx context.Context, name string, attributes map[string]interface{}, effect func(ctx context.Context) error) error {
	timer := logging.StartTimer(logging.CategoryObservability, name)
	start := time.Now()
	runID := runIDFrom(ctx)

	err := effect(ctx)
	timer.Stop()
	durationMs := time.Since(start).Milliseconds()

	meta := map[string]interface{}{"status": "ok"}
	for k, v := range attributes {
		meta[k] = v
	}
	if err != nil {
		meta["status"] = "error"
		meta["error"] = err.Error()
	}

	if _, recordErr := s.db.RecordEvent(ctx, store.RecordEventInput{
		EventType: "span", Content: name, DurationMs: &durationMs, RunID: &runID, Metadata: meta,
	}); recordErr != nil {
		logging.ObservabilityWarn("failed to record span %s: %v", name, recordErr)
	}
	return err
}

// RecordMetric writes one events row with eventType=metric, content=name,
// durationMs=value (spec.md §4.G uses the duration_ms column to carry an
// arbitrary numeric value for metrics, not just elapsed time).
func (s *Service) RecordMetric(ctx context.Context, name string, value float64, attributes map[string]interface{}) error {
	runID := runIDFrom(ctx)
	valueMs := int64(value)
	_, err := s.db.RecordEvent(ctx, store.RecordEventInput{
		EventType: "metric", Content: name, DurationMs: &valueMs, RunID: &runID, Metadata: attributes,
	})
	if err != nil {
		logging.ObservabilityWarn("failed to record metric %s: %v", name, err)
	}
	return err
}

// WithRunContext binds runID for the duration of effect; nested calls
// override, and leaving restores the prior binding (spec.md §4.G).
func (s *Service) WithRunContext(ctx context.Context, runID string, effect func(ctx context.Context) error) error {
	return effect(context.WithValue(ctx, runIDKey{}, runID))
}

var _ Recorder = (*Service)(nil)
