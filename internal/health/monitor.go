// Package health tracks which synthesis engine is currently usable. One
// monitor runs per process: engine availability is a global property, so
// every concurrent turn reads the same snapshot.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spiralogic/oracle-voice/internal/alert"
	"github.com/spiralogic/oracle-voice/internal/debuglog"
	"github.com/spiralogic/oracle-voice/internal/synth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Mode names the engine currently selected for dispatch.
type Mode string

const (
	ModePrimary   Mode = "primary"
	ModeSecondary Mode = "secondary"
	ModeNone      Mode = "none"
)

// Status is an immutable snapshot of engine availability. Written only by
// the monitor; read lock-free by dispatchers.
type Status struct {
	Mode               Mode          `json:"mode"`
	EngineName         string        `json:"engine_name"`
	Available          bool          `json:"available"`
	ResponseTime       time.Duration `json:"response_time_ns"`
	ModelLoaded        bool          `json:"model_loaded"`
	LastFallbackReason string        `json:"last_fallback_reason,omitempty"`
	CheckedAt          time.Time     `json:"checked_at"`
}

// Monitor probes engines on an interval and on demand, maintaining the
// current Status and recording every state transition exactly once.
type Monitor struct {
	primary   synth.Engine
	secondary synth.Engine // nil when no fallback is configured
	log       *slog.Logger
	debug     *debuglog.Log
	notifier  alert.Notifier

	interval time.Duration
	timeout  time.Duration
	quiet    time.Duration

	snapshot atomic.Pointer[Status]
	clock    func() time.Time

	mu           sync.Mutex
	lastRecovery time.Time
	probeMu      sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	failovers metric.Int64Counter
}

type Options struct {
	Primary   synth.Engine
	Secondary synth.Engine
	Debug     *debuglog.Log
	Notifier  alert.Notifier
	Interval  time.Duration
	Timeout   time.Duration
	// RecoveryQuiet suppresses duplicate recovery events within the window.
	RecoveryQuiet time.Duration
	Logger        *slog.Logger
}

func NewMonitor(opts Options) *Monitor {
	if opts.Notifier == nil {
		opts.Notifier = alert.Noop{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	m := &Monitor{
		primary:   opts.Primary,
		secondary: opts.Secondary,
		log:       opts.Logger.With(slog.String("component", "engine-health")),
		debug:     opts.Debug,
		notifier:  opts.Notifier,
		interval:  opts.Interval,
		timeout:   opts.Timeout,
		quiet:     opts.RecoveryQuiet,
		clock:     time.Now,
	}

	// Until the first probe completes nothing is known to be reachable.
	m.snapshot.Store(&Status{Mode: ModeNone, EngineName: "none"})

	meter := otel.Meter("github.com/spiralogic/oracle-voice/health")
	if counter, err := meter.Int64Counter("voice.engine.failovers",
		metric.WithDescription("Engine failover transitions")); err == nil {
		m.failovers = counter
	}

	return m
}

// Start launches the periodic probe loop. The first probe runs immediately.
func (m *Monitor) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Probe(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Probe(ctx)
			}
		}
	}()
}

func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Snapshot returns the current status without blocking.
func (m *Monitor) Snapshot() Status {
	return *m.snapshot.Load()
}

// EngineFor maps a snapshot mode to the engine to dispatch against.
func (m *Monitor) EngineFor(mode Mode) synth.Engine {
	switch mode {
	case ModePrimary:
		return m.primary
	case ModeSecondary:
		if m.secondary != nil {
			return m.secondary
		}
	}
	return synth.NewNullEngine()
}

// Probe runs one full availability check and updates the snapshot. Called
// from the interval loop and on demand before a synthesis burst, so probes
// are serialized.
func (m *Monitor) Probe(ctx context.Context) Status {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	prev := m.Snapshot()

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	primaryHealth := m.primary.Probe(probeCtx)
	cancel()

	if primaryHealth.OK {
		next := Status{
			Mode:         ModePrimary,
			EngineName:   m.primary.Name(),
			Available:    true,
			ResponseTime: primaryHealth.ResponseTime,
			ModelLoaded:  primaryHealth.ModelLoaded,
			CheckedAt:    m.clock().UTC(),
		}
		m.snapshot.Store(&next)
		if prev.Mode != ModePrimary {
			m.recordRecovery(primaryHealth)
		}
		return next
	}

	reason := "primary probe failed"
	if primaryHealth.Err != nil {
		reason = fmt.Sprintf("primary probe failed: %v", primaryHealth.Err)
	}

	if m.secondary != nil {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		secondaryHealth := m.secondary.Probe(probeCtx)
		cancel()

		if secondaryHealth.OK {
			next := Status{
				Mode:               ModeSecondary,
				EngineName:         m.secondary.Name(),
				Available:          true,
				ResponseTime:       secondaryHealth.ResponseTime,
				ModelLoaded:        secondaryHealth.ModelLoaded,
				LastFallbackReason: reason,
				CheckedAt:          m.clock().UTC(),
			}
			m.snapshot.Store(&next)
			if prev.Mode != ModeSecondary {
				m.recordFallback(reason)
			}
			return next
		}
		if secondaryHealth.Err != nil {
			reason = fmt.Sprintf("%s; secondary probe failed: %v", reason, secondaryHealth.Err)
		}
	}

	next := Status{
		Mode:               ModeNone,
		EngineName:         "none",
		Available:          false,
		LastFallbackReason: reason,
		CheckedAt:          m.clock().UTC(),
	}
	m.snapshot.Store(&next)
	if prev.Mode != ModeNone || prev.CheckedAt.IsZero() {
		m.recordTotalFailure(reason)
	}
	return next
}

func (m *Monitor) recordRecovery(h synth.Health) {
	m.mu.Lock()
	now := m.clock()
	suppressed := !m.lastRecovery.IsZero() && now.Sub(m.lastRecovery) < m.quiet
	if !suppressed {
		m.lastRecovery = now
	}
	m.mu.Unlock()

	if suppressed {
		return
	}

	m.log.Info("primary engine online",
		slog.Duration("response_time", h.ResponseTime),
		slog.Bool("model_loaded", h.ModelLoaded))
	m.debug.Record(debuglog.Event{
		Level:   debuglog.LevelInfo,
		Source:  debuglog.SourcePrimary,
		Message: "engine online",
		Details: fmt.Sprintf("response_time=%s", h.ResponseTime),
	})
	m.notifier.Notify("recovery", "primary synthesis engine back online")
}

func (m *Monitor) recordFallback(reason string) {
	m.log.Warn("falling back to secondary engine", slog.String("reason", reason))
	m.debug.Record(debuglog.Event{
		Level:   debuglog.LevelWarning,
		Source:  debuglog.SourceSecondary,
		Message: "fallback to secondary engine",
		Details: reason,
	})
	m.notifier.Notify("fallback", reason)
	m.countFailover(string(ModeSecondary))
}

func (m *Monitor) recordTotalFailure(reason string) {
	m.log.Error("all synthesis engines unavailable", slog.String("reason", reason))
	m.debug.Record(debuglog.Event{
		Level:   debuglog.LevelError,
		Source:  debuglog.SourceSystem,
		Message: "all engines unavailable",
		Details: reason,
	})
	m.notifier.Notify("total_failure", reason)
	m.countFailover(string(ModeNone))
}

func (m *Monitor) countFailover(target string) {
	if m.failovers == nil {
		return
	}
	m.failovers.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("target", target)))
}
