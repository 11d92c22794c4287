package synth

import (
	"context"
	"sync"
	"time"

	"github.com/spiralogic/oracle-voice/internal/segment"
)

// MockEngine is an in-memory engine for tests: configurable latency, failure
// injection, and call counting.
type MockEngine struct {
	EngineName string
	Delay      time.Duration
	Audio      []byte

	mu        sync.Mutex
	failWith  error
	probe     Health
	callCount int
}

func NewMockEngine(name string) *MockEngine {
	return &MockEngine{
		EngineName: name,
		Audio:      []byte{0x52, 0x49, 0x46, 0x46}, // RIFF header stub
		probe:      Health{OK: true, ModelLoaded: true, ResponseTime: time.Millisecond},
	}
}

func (m *MockEngine) Name() string { return m.EngineName }

func (m *MockEngine) Synthesize(ctx context.Context, unit segment.Unit, _ Params) Result {
	m.mu.Lock()
	m.callCount++
	failWith := m.failWith
	m.mu.Unlock()

	start := time.Now()
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return Result{Sequence: unit.Sequence, Engine: m.EngineName, Err: ctx.Err(), Duration: time.Since(start)}
		case <-time.After(m.Delay):
		}
	}
	if failWith != nil {
		return Result{Sequence: unit.Sequence, Engine: m.EngineName, Err: failWith, Duration: time.Since(start)}
	}
	return Result{Sequence: unit.Sequence, Engine: m.EngineName, Audio: m.Audio, Duration: time.Since(start)}
}

func (m *MockEngine) Probe(context.Context) Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probe
}

// SetProbe swaps the health the next Probe reports.
func (m *MockEngine) SetProbe(h Health) {
	m.mu.Lock()
	m.probe = h
	m.mu.Unlock()
}

// FailWith makes subsequent Synthesize calls return err.
func (m *MockEngine) FailWith(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

// Calls reports how many Synthesize calls were made.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}
