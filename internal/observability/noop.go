package observability

import "context"

// Noop implements Recorder with zero side effects, for benchmark and test
// builds that don't want events-table writes on the hot path (spec.md
// §4.G).
type Noop struct{}

func (Noop) WithSpan(ctx context.Context, _ string, _ map[string]interface{}, effect func(ctx context.Context) error) error {
	return effect(ctx)
}

func (Noop) RecordMetric(context.Context, string, float64, map[string]interface{}) error {
	return nil
}

func (Noop) WithRunContext(ctx context.Context, _ string, effect func(ctx context.Context) error) error {
	return effect(ctx)
}

var _ Recorder = Noop{}
