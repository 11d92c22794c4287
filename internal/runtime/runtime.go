// Package runtime assembles the voice daemon: engines, health monitoring,
// the turn orchestrator, the HTTP gateway, and the optional NATS relay.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spiralogic/oracle-voice/internal/alert"
	"github.com/spiralogic/oracle-voice/internal/archive"
	"github.com/spiralogic/oracle-voice/internal/bus"
	"github.com/spiralogic/oracle-voice/internal/config"
	"github.com/spiralogic/oracle-voice/internal/debuglog"
	"github.com/spiralogic/oracle-voice/internal/gateway"
	"github.com/spiralogic/oracle-voice/internal/health"
	"github.com/spiralogic/oracle-voice/internal/natsserver"
	"github.com/spiralogic/oracle-voice/internal/relay"
	"github.com/spiralogic/oracle-voice/internal/session"
	"github.com/spiralogic/oracle-voice/internal/synth"
	"github.com/spiralogic/oracle-voice/internal/upstream"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	monitor     *health.Monitor
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	debug := debuglog.New(r.cfg.Debug.Capacity)

	var notifier alert.Notifier = alert.Noop{}
	if r.cfg.Alerts.WebhookURL != "" {
		notifier = alert.NewWebhook(r.cfg.Alerts.WebhookURL,
			time.Duration(r.cfg.Alerts.TimeoutMS)*time.Millisecond, r.logger)
	}

	primary, err := r.buildPrimaryEngine()
	if err != nil {
		return err
	}
	var secondary synth.Engine
	if r.cfg.Engines.Secondary.URL != "" {
		secondary = synth.NewCloudEngine(
			r.cfg.Engines.Secondary.URL,
			r.cfg.Engines.Secondary.APIKey,
			r.cfg.Engines.Secondary.VoiceID)
	}

	r.monitor = health.NewMonitor(health.Options{
		Primary:       primary,
		Secondary:     secondary,
		Debug:         debug,
		Notifier:      notifier,
		Interval:      time.Duration(r.cfg.Engines.Probe.IntervalMS) * time.Millisecond,
		Timeout:       time.Duration(r.cfg.Engines.Probe.TimeoutMS) * time.Millisecond,
		RecoveryQuiet: time.Duration(r.cfg.Engines.Probe.RecoveryQuietS) * time.Second,
		Logger:        r.logger,
	})
	r.monitor.Start(ctx)
	defer r.monitor.Close()

	source := upstream.NewHTTPSource(r.cfg.Upstream.Endpoint,
		time.Duration(r.cfg.Upstream.TimeoutMS)*time.Millisecond)

	orch := session.NewOrchestrator(r.monitor, debug, source, r.logger, session.Options{
		BufferThreshold: r.cfg.Pipeline.BufferThresholdChars,
		DispatchTimeout: time.Duration(r.cfg.Pipeline.DispatchTimeoutMS) * time.Millisecond,
		DoneGrace:       time.Duration(r.cfg.Pipeline.DoneGraceMS) * time.Millisecond,
		ResultsBuffer:   r.cfg.Pipeline.ResultsBuffer,
	})

	store, err := archive.Open(ctx, r.cfg.Archive, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open turn archive: %w", err)
	}
	defer store.Close()

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	var relaySvc *relay.Service
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return err
		}
		busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			embedded.Shutdown()
			return err
		}
		relaySvc = relay.NewService(ctx, r.cfg.Relay, busClient, orch, r.logger)
		if err := relaySvc.Start(); err != nil {
			busClient.Close()
			embedded.Shutdown()
			return fmt.Errorf("failed to start relay: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	gateway.New(orch, r.monitor, debug, store, r.logger).Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if relaySvc != nil {
		relaySvc.Close()
	}
	if busClient != nil {
		busClient.Close()
	}
	if embedded != nil {
		embedded.Shutdown()
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildPrimaryEngine() (synth.Engine, error) {
	primaryCfg := r.cfg.Engines.Primary
	switch primaryCfg.Mode {
	case "http":
		return synth.NewHTTPEngine(primaryCfg.URL, primaryCfg.Voice), nil
	case "exec":
		engine, err := synth.NewExecEngine(primaryCfg.Command, primaryCfg.Voice)
		if err != nil {
			return nil, fmt.Errorf("failed to build exec engine: %w", err)
		}
		return engine, nil
	case "none":
		return synth.NewNullEngine(), nil
	default:
		return nil, fmt.Errorf("unknown primary engine mode %q", primaryCfg.Mode)
	}
}

// handleHealth reports the engine picture alongside liveness: the process is
// up even when every engine is down, but operators want to see that at a
// glance.
func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	var snapshot health.Status
	if r.monitor != nil {
		snapshot = r.monitor.Snapshot()
		if !snapshot.Available {
			status = "degraded"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       status,
		"engine_mode":  snapshot.Mode,
		"model_loaded": snapshot.ModelLoaded,
	})
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
