package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spiralogic/oracle-voice/internal/alert"
	"github.com/spiralogic/oracle-voice/internal/debuglog"
	"github.com/spiralogic/oracle-voice/internal/health"
	"github.com/spiralogic/oracle-voice/internal/segment"
	"github.com/spiralogic/oracle-voice/internal/synth"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newMonitor(t *testing.T, primary, secondary synth.Engine, debug *debuglog.Log) *health.Monitor {
	t.Helper()
	m := health.NewMonitor(health.Options{
		Primary:       primary,
		Secondary:     secondary,
		Debug:         debug,
		Notifier:      alert.Noop{},
		Interval:      time.Hour,
		Timeout:       time.Second,
		RecoveryQuiet: time.Minute,
		Logger:        newLogger(),
	})
	m.Probe(context.Background())
	return m
}

func collect(t *testing.T, d *Dispatcher, want int, timeout time.Duration) []synth.Result {
	t.Helper()
	var results []synth.Result
	deadline := time.After(timeout)
	for len(results) < want {
		select {
		case r, ok := <-d.Results():
			if !ok {
				return results
			}
			results = append(results, r)
		case <-deadline:
			t.Fatalf("timed out waiting for %d results, got %d", want, len(results))
		}
	}
	return results
}

func TestDispatchDeliversResult(t *testing.T) {
	debug := debuglog.New(50)
	primary := synth.NewMockEngine("primary")
	d := New(newMonitor(t, primary, nil, debug), debug, newLogger(), synth.Params{}, time.Second, 8)

	if !d.Dispatch(context.Background(), segment.Unit{Sequence: 0, Text: "Hello."}) {
		t.Fatal("expected dispatch to start a task")
	}
	results := collect(t, d, 1, time.Second)
	if results[0].Err != nil || results[0].Sequence != 0 {
		t.Fatalf("unexpected result %+v", results[0])
	}
}

func TestDispatchDoesNotBlockCaller(t *testing.T) {
	debug := debuglog.New(50)
	primary := synth.NewMockEngine("primary")
	primary.Delay = 200 * time.Millisecond
	d := New(newMonitor(t, primary, nil, debug), debug, newLogger(), synth.Params{}, time.Second, 8)

	start := time.Now()
	for i := 0; i < 5; i++ {
		d.Dispatch(context.Background(), segment.Unit{Sequence: i, Text: "x."})
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("dispatch blocked the caller for %s", elapsed)
	}
	collect(t, d, 5, 2*time.Second)
}

func TestTimeoutProducesErrorResult(t *testing.T) {
	debug := debuglog.New(50)
	primary := synth.NewMockEngine("primary")
	primary.Delay = 500 * time.Millisecond
	d := New(newMonitor(t, primary, nil, debug), debug, newLogger(), synth.Params{}, 50*time.Millisecond, 8)

	start := time.Now()
	d.Dispatch(context.Background(), segment.Unit{Sequence: 0, Text: "slow."})
	// a second dispatch behind the hung one must not wait for it
	d.Dispatch(context.Background(), segment.Unit{Sequence: 1, Text: "also slow."})
	if elapsed := time.Since(start); elapsed > 30*time.Millisecond {
		t.Fatalf("dispatch blocked behind hung synthesis for %s", elapsed)
	}

	results := collect(t, d, 2, 2*time.Second)
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("timeout did not cut off hung synthesis, took %s", elapsed)
	}
	for _, r := range results {
		if !errors.Is(r.Err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline error result, got %+v", r)
		}
	}
}

func TestSkipsWhenAllEnginesUnavailable(t *testing.T) {
	debug := debuglog.New(50)
	primary := synth.NewMockEngine("primary")
	primary.SetProbe(synth.Health{OK: false, Err: errors.New("down")})
	secondary := synth.NewMockEngine("secondary")
	secondary.SetProbe(synth.Health{OK: false, Err: errors.New("down")})
	d := New(newMonitor(t, primary, secondary, debug), debug, newLogger(), synth.Params{}, time.Second, 8)

	for i := 0; i < 5; i++ {
		if d.Dispatch(context.Background(), segment.Unit{Sequence: i, Text: "x."}) {
			t.Fatal("expected dispatch skipped with no engine")
		}
	}
	d.Wait()
	if _, ok := <-d.Results(); ok {
		t.Fatal("expected no results")
	}
	if primary.Calls() != 0 || secondary.Calls() != 0 {
		t.Fatal("expected no synthesis calls to dead engines")
	}

	var errorEvents int
	for _, e := range debug.Recent(0) {
		if e.Level == debuglog.LevelError {
			errorEvents++
		}
	}
	if errorEvents != 1 {
		t.Fatalf("expected exactly one error event from the monitor, got %d", errorEvents)
	}
}

func TestUsesSecondaryWhenPrimaryDown(t *testing.T) {
	debug := debuglog.New(50)
	primary := synth.NewMockEngine("primary")
	primary.SetProbe(synth.Health{OK: false, Err: errors.New("down")})
	secondary := synth.NewMockEngine("secondary")
	d := New(newMonitor(t, primary, secondary, debug), debug, newLogger(), synth.Params{}, time.Second, 8)

	d.Dispatch(context.Background(), segment.Unit{Sequence: 0, Text: "x."})
	results := collect(t, d, 1, time.Second)
	if results[0].Engine != "secondary" {
		t.Fatalf("expected secondary engine used, got %q", results[0].Engine)
	}
}

func TestCancelledTurnAbandonsResults(t *testing.T) {
	debug := debuglog.New(50)
	primary := synth.NewMockEngine("primary")
	primary.Delay = 100 * time.Millisecond
	d := New(newMonitor(t, primary, nil, debug), debug, newLogger(), synth.Params{}, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 4; i++ {
		d.Dispatch(ctx, segment.Unit{Sequence: i, Text: "x."})
	}
	cancel()

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight tasks leaked after cancellation")
	}
}
