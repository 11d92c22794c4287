package upstream

import (
	"context"
	"time"
)

// MockSource replays a fixed fragment script; used in tests and mock mode.
type MockSource struct {
	Fragments []string
	Delay     time.Duration
	// Err, when set, is returned after Fragments are delivered, simulating a
	// mid-turn upstream failure.
	Err error
}

func (m *MockSource) Stream(ctx context.Context, _ Request, consume func(Fragment) error) error {
	for _, text := range m.Fragments {
		if m.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.Delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := consume(Fragment{Text: text}); err != nil {
			return err
		}
	}
	if m.Err != nil {
		return m.Err
	}
	return consume(Fragment{Done: true})
}
