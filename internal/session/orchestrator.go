// Package session runs conversation turns: it owns the segmenter, the
// synthesis dispatcher, and the multiplexing of ordered text and unordered
// audio into one outbound event stream per turn.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spiralogic/oracle-voice/internal/debuglog"
	"github.com/spiralogic/oracle-voice/internal/dispatch"
	"github.com/spiralogic/oracle-voice/internal/health"
	"github.com/spiralogic/oracle-voice/internal/protocol"
	"github.com/spiralogic/oracle-voice/internal/segment"
	"github.com/spiralogic/oracle-voice/internal/synth"
	"github.com/spiralogic/oracle-voice/internal/upstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/spiralogic/oracle-voice/session")

// Turn identifies one user-prompt-to-response exchange. Each Turn is owned
// by exactly one Run call and all its resources die with that call.
type Turn struct {
	SessionID string
	ThreadID  string
	UserID    string
	Prompt    string
	Voice     string
	CreatedAt time.Time
}

// Summary describes a completed (or aborted) turn for archival.
type Summary struct {
	Transcript  string
	Units       int
	AudioUnits  int
	EngineMode  string
	Degraded    bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// Sink receives outbound events. A Send error means the client is gone and
// cancels the turn.
type Sink interface {
	Send(protocol.StreamEvent) error
}

// Options tunes one orchestrator; zero values fall back to defaults.
type Options struct {
	BufferThreshold int
	DispatchTimeout time.Duration
	DoneGrace       time.Duration
	ResultsBuffer   int
}

// Orchestrator coordinates turns against a shared health monitor. One
// orchestrator serves many concurrent turns; per-turn state lives entirely
// inside Run.
type Orchestrator struct {
	monitor *health.Monitor
	debug   *debuglog.Log
	source  upstream.Source
	log     *slog.Logger
	opts    Options
}

func NewOrchestrator(monitor *health.Monitor, debug *debuglog.Log, source upstream.Source, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 10 * time.Second
	}
	if opts.DoneGrace <= 0 {
		opts.DoneGrace = 3 * time.Second
	}
	return &Orchestrator{
		monitor: monitor,
		debug:   debug,
		source:  source,
		log:     logger.With(slog.String("component", "session")),
		opts:    opts,
	}
}

// Run drives one turn to completion: it streams upstream text through the
// segmenter, fires synthesis for every speakable unit, and merges text and
// audio into the sink. Text events keep arrival order; audio events are
// forwarded as they complete, tagged with their sequence number. Run
// returns once done or error has been emitted and no goroutine of the turn
// remains beyond the dispatch timeout.
func (o *Orchestrator) Run(ctx context.Context, turn Turn, sink Sink) (Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, span := tracer.Start(ctx, "conversation turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("turn.session_id", turn.SessionID),
		attribute.String("turn.thread_id", turn.ThreadID),
	)

	summary := Summary{StartedAt: time.Now().UTC()}

	// Probe before the burst so the first dispatch does not hit an engine
	// already known to be dead.
	status := o.monitor.Probe(ctx)
	summary.EngineMode = string(status.Mode)

	seg := segment.New(o.opts.BufferThreshold)
	disp := dispatch.New(o.monitor, o.debug, o.log, synth.Params{Voice: turn.Voice}, o.opts.DispatchTimeout, o.opts.ResultsBuffer)

	emit := func(evt protocol.StreamEvent) error {
		if err := sink.Send(evt); err != nil {
			cancel()
			return fmt.Errorf("client sink closed: %w", err)
		}
		return nil
	}

	if err := emit(protocol.StreamEvent{
		Type:      protocol.EventStart,
		SessionID: turn.SessionID,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return o.finish(summary, err)
	}

	fragments := make(chan upstream.Fragment, 16)
	srcErr := make(chan error, 1)
	go func() {
		defer close(fragments)
		srcErr <- o.source.Stream(ctx, upstream.Request{
			SessionID: turn.SessionID,
			ThreadID:  turn.ThreadID,
			UserID:    turn.UserID,
			Prompt:    turn.Prompt,
		}, func(f upstream.Fragment) error {
			select {
			case fragments <- f:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	var transcript strings.Builder
	pending := 0
	seen := make(map[int]bool)

	forwardAudio := func(result synth.Result) error {
		pending--
		if result.Err != nil {
			// already logged by the dispatcher; unit degrades to text-only
			return nil
		}
		if seen[result.Sequence] {
			return nil
		}
		seen[result.Sequence] = true
		summary.AudioUnits++
		return emit(protocol.StreamEvent{
			Type:       protocol.EventAudio,
			Sequence:   result.Sequence,
			Engine:     result.Engine,
			DurationMS: result.Duration.Milliseconds(),
			Audio:      result.Audio,
		})
	}

	handleFragment := func(f upstream.Fragment) error {
		if f.Done || f.Text == "" {
			return nil
		}
		transcript.WriteString(f.Text)
		if err := emit(protocol.StreamEvent{Type: protocol.EventText, Content: f.Text}); err != nil {
			return err
		}
		for _, unit := range seg.Feed(f.Text) {
			summary.Units++
			if disp.Dispatch(ctx, unit) {
				pending++
			}
		}
		return nil
	}

	textDone := false
	for !textDone {
		select {
		case <-ctx.Done():
			return o.abort(span, summary, sink, turn, ctx.Err())
		case f, ok := <-fragments:
			if !ok {
				textDone = true
				continue
			}
			if err := handleFragment(f); err != nil {
				return o.finish(summary, err)
			}
		case result := <-disp.Results():
			if err := forwardAudio(result); err != nil {
				return o.finish(summary, err)
			}
		}
	}

	summary.Transcript = transcript.String()

	if err := <-srcErr; err != nil && !errors.Is(err, context.Canceled) {
		return o.abort(span, summary, sink, turn, fmt.Errorf("upstream text source failed: %w", err))
	}

	if unit, ok := seg.Flush(); ok {
		summary.Units++
		if disp.Dispatch(ctx, unit) {
			pending++
		}
	}

	// Wait for in-flight audio, but never stall completion behind a hung
	// final synthesis.
	grace := time.NewTimer(o.opts.DoneGrace)
	defer grace.Stop()
drain:
	for pending > 0 {
		select {
		case <-ctx.Done():
			return o.abort(span, summary, sink, turn, ctx.Err())
		case result := <-disp.Results():
			if err := forwardAudio(result); err != nil {
				return o.finish(summary, err)
			}
		case <-grace.C:
			o.log.Warn("final synthesis missed the grace period",
				slog.String("session_id", turn.SessionID),
				slog.Int("pending", pending))
			break drain
		}
	}

	summary.Degraded = summary.Units > 0 && summary.AudioUnits < summary.Units
	if err := emit(protocol.StreamEvent{
		Type:      protocol.EventDone,
		SessionID: turn.SessionID,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return o.finish(summary, err)
	}

	return o.finish(summary, nil)
}

func (o *Orchestrator) finish(summary Summary, err error) (Summary, error) {
	summary.CompletedAt = time.Now().UTC()
	return summary, err
}

// abort terminates the turn: it emits a terminal error event (best effort),
// records the failure, and leaves in-flight synthesis to abandon its
// results against the cancelled context.
func (o *Orchestrator) abort(span trace.Span, summary Summary, sink Sink, turn Turn, cause error) (Summary, error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	o.log.Error("turn aborted",
		slog.String("session_id", turn.SessionID),
		slog.String("error", cause.Error()))
	o.debug.Record(debuglog.Event{
		Level:   debuglog.LevelError,
		Source:  debuglog.SourceSystem,
		Message: "turn aborted",
		Details: cause.Error(),
	})
	_ = sink.Send(protocol.StreamEvent{
		Type:      protocol.EventError,
		SessionID: turn.SessionID,
		Message:   cause.Error(),
		Timestamp: time.Now().UTC(),
	})
	return o.finish(summary, cause)
}
