package synth

import (
	"context"
	"errors"
	"time"

	"github.com/spiralogic/oracle-voice/internal/segment"
)

// ErrNoEngine marks results from the null engine, used when no synthesis
// backend is reachable.
var ErrNoEngine = errors.New("no synthesis engine available")

// Params carries voice shaping options through to the backend.
type Params struct {
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
	Pitch float64 `json:"pitch,omitempty"`
}

// Result is the outcome of synthesizing one speakable unit. Sequence echoes
// the unit's sequence number so audio can be correlated after reordering.
// Exactly one of Audio or Err is meaningful.
type Result struct {
	Sequence int
	Engine   string
	Audio    []byte
	Err      error
	Duration time.Duration
}

// Health is the outcome of a fast availability probe, distinct from a full
// synthesis round-trip.
type Health struct {
	OK           bool
	ResponseTime time.Duration
	ModelLoaded  bool
	Err          error
}

// Engine converts one speakable unit into audio. Implementations must
// honor ctx cancellation and report failures inside the Result rather than
// panicking or blocking past the caller's deadline.
type Engine interface {
	Name() string
	Synthesize(ctx context.Context, unit segment.Unit, params Params) Result
	Probe(ctx context.Context) Health
}
