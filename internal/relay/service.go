// Package relay serves conversation turns over the NATS bus: it consumes
// turn requests and publishes the resulting event stream on a per-session
// subject, so headless satellites can speak without holding an HTTP
// connection to this node.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spiralogic/oracle-voice/internal/bus"
	"github.com/spiralogic/oracle-voice/internal/config"
	"github.com/spiralogic/oracle-voice/internal/protocol"
	"github.com/spiralogic/oracle-voice/internal/session"
)

const requestQueue = "oracle-voice-relay"

type Service struct {
	cfg    config.RelayConfig
	bus    *bus.Client
	orch   *session.Orchestrator
	logger *slog.Logger

	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(parent context.Context, cfg config.RelayConfig, busClient *bus.Client, orch *session.Orchestrator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		orch:   orch,
		logger: logger.With(slog.String("component", "relay")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.QueueSubscribe(protocol.SubjectTurnRequest, requestQueue, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.sub != nil
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TurnRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode turn request", slog.String("error", err.Error()))
		return
	}
	if req.Prompt == "" {
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.Voice == "" {
		req.Voice = s.cfg.DefaultVoice
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTurn(req)
	}()
}

func (s *Service) runTurn(req protocol.TurnRequest) {
	sink := &busSink{bus: s.bus, subject: protocol.TurnEventSubject(req.SessionID)}
	_, err := s.orch.Run(s.ctx, session.Turn{
		SessionID: req.SessionID,
		ThreadID:  req.ThreadID,
		UserID:    req.UserID,
		Prompt:    req.Prompt,
		Voice:     req.Voice,
	}, sink)
	if err != nil {
		s.logger.Warn("relayed turn failed",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()))
	}
}

// busSink publishes stream events on the session's event subject.
type busSink struct {
	bus     *bus.Client
	subject string
}

func (b *busSink) Send(evt protocol.StreamEvent) error {
	return b.bus.PublishJSON(b.subject, evt)
}
