// Package dispatch fires synthesis tasks without blocking the text loop.
// Completions land on a results channel in whatever order the engines
// finish; sequence numbers carry the correlation.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/spiralogic/oracle-voice/internal/debuglog"
	"github.com/spiralogic/oracle-voice/internal/health"
	"github.com/spiralogic/oracle-voice/internal/segment"
	"github.com/spiralogic/oracle-voice/internal/synth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Dispatcher owns the in-flight synthesis tasks of a single turn.
type Dispatcher struct {
	monitor *health.Monitor
	debug   *debuglog.Log
	log     *slog.Logger
	params  synth.Params
	timeout time.Duration

	results chan synth.Result
	wg      sync.WaitGroup

	units    metric.Int64Counter
	failures metric.Int64Counter
}

func New(monitor *health.Monitor, debug *debuglog.Log, logger *slog.Logger, params synth.Params, timeout time.Duration, buffer int) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if buffer <= 0 {
		buffer = 32
	}
	d := &Dispatcher{
		monitor: monitor,
		debug:   debug,
		log:     logger.With(slog.String("component", "synthesis-dispatch")),
		params:  params,
		timeout: timeout,
		results: make(chan synth.Result, buffer),
	}

	meter := otel.Meter("github.com/spiralogic/oracle-voice/dispatch")
	if counter, err := meter.Int64Counter("voice.synthesis.units",
		metric.WithDescription("Speakable units dispatched for synthesis")); err == nil {
		d.units = counter
	}
	if counter, err := meter.Int64Counter("voice.synthesis.failures",
		metric.WithDescription("Synthesis calls that errored or timed out")); err == nil {
		d.failures = counter
	}

	return d
}

// Results delivers completed synthesis results, unordered.
func (d *Dispatcher) Results() <-chan synth.Result {
	return d.results
}

// Dispatch starts synthesis of one unit and returns immediately. The return
// value reports whether a task was actually started: when no engine is
// available the unit is skipped outright (text-only degradation, already
// logged by the health monitor) and no result will arrive for it.
func (d *Dispatcher) Dispatch(ctx context.Context, unit segment.Unit) bool {
	status := d.monitor.Snapshot()
	if status.Mode == health.ModeNone {
		return false
	}
	engine := d.monitor.EngineFor(status.Mode)

	if d.units != nil {
		d.units.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", string(status.Mode))))
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		result := engine.Synthesize(callCtx, unit, d.params)
		if result.Err != nil {
			d.log.Warn("unit synthesis failed",
				slog.Int("sequence", unit.Sequence),
				slog.String("engine", result.Engine),
				slog.String("error", result.Err.Error()))
			d.debug.Record(debuglog.Event{
				Level:   debuglog.LevelWarning,
				Source:  debuglog.Source(status.Mode),
				Message: "unit synthesis failed",
				Details: result.Err.Error(),
			})
			if d.failures != nil {
				d.failures.Add(context.Background(), 1,
					metric.WithAttributes(attribute.String("engine", string(status.Mode))))
			}
		}

		// Abandon the result if the turn is gone.
		select {
		case d.results <- result:
		case <-ctx.Done():
		}
	}()
	return true
}

// Wait blocks until every in-flight task has finished or abandoned its
// result, then closes the results channel. Call after the last Dispatch.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
	close(d.results)
}
