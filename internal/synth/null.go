package synth

import (
	"context"

	"github.com/spiralogic/oracle-voice/internal/segment"
)

// nullEngine stands in when no backend is configured or reachable. It fails
// every call immediately so the pipeline degrades to text-only instead of
// hanging.
type nullEngine struct{}

func NewNullEngine() Engine { return nullEngine{} }

func (nullEngine) Name() string { return "null" }

func (nullEngine) Synthesize(_ context.Context, unit segment.Unit, _ Params) Result {
	return Result{Sequence: unit.Sequence, Engine: "null", Err: ErrNoEngine}
}

func (nullEngine) Probe(context.Context) Health {
	return Health{OK: false, Err: ErrNoEngine}
}
