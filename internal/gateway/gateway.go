// Package gateway exposes the client-facing HTTP surface: a websocket turn
// stream, an NDJSON fallback for clients that cannot hold a socket, the
// diagnostics endpoint, and archived session history.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spiralogic/oracle-voice/internal/archive"
	"github.com/spiralogic/oracle-voice/internal/debuglog"
	"github.com/spiralogic/oracle-voice/internal/health"
	"github.com/spiralogic/oracle-voice/internal/protocol"
	"github.com/spiralogic/oracle-voice/internal/session"
)

type Handler struct {
	orch    *session.Orchestrator
	monitor *health.Monitor
	debug   *debuglog.Log
	store   *archive.Store
	log     *slog.Logger

	upgrader websocket.Upgrader
}

func New(orch *session.Orchestrator, monitor *health.Monitor, debug *debuglog.Log, store *archive.Store, logger *slog.Logger) *Handler {
	return &Handler{
		orch:    orch,
		monitor: monitor,
		debug:   debug,
		store:   store,
		log:     logger.With(slog.String("component", "gateway")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Satellites connect from their own origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the gateway routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws/turn", h.handleTurnSocket)
	mux.HandleFunc("/api/turn", h.handleTurnHTTP)
	mux.HandleFunc("/api/diagnostics", h.handleDiagnostics)
	mux.HandleFunc("/api/sessions/", h.handleSessionTurns)
}

// handleTurnSocket upgrades to a websocket, reads one TurnRequest, and
// streams events back until done or error. A client disconnect cancels the
// turn.
func (h *Handler) handleTurnSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	var req protocol.TurnRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.log.Warn("failed to read turn request", slog.String("error", err.Error()))
		return
	}
	if req.Prompt == "" {
		_ = conn.WriteJSON(protocol.StreamEvent{
			Type:      protocol.EventError,
			Message:   "prompt must not be empty",
			Timestamp: time.Now().UTC(),
		})
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read pump only watches for the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sink := &socketSink{conn: conn}
	summary, err := h.orch.Run(ctx, session.Turn{
		SessionID: req.SessionID,
		ThreadID:  req.ThreadID,
		UserID:    req.UserID,
		Prompt:    req.Prompt,
		Voice:     req.Voice,
	}, sink)
	if err != nil {
		h.log.Warn("turn failed",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()))
	}
	h.archiveTurn(req, summary, err)
}

// handleTurnHTTP streams the same events as NDJSON over a plain POST for
// clients without websocket support. Cancellation rides on the request
// context.
func (h *Handler) handleTurnHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req protocol.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "prompt must not be empty", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")

	sink := &ndjsonSink{w: w, flusher: flusher}
	summary, err := h.orch.Run(r.Context(), session.Turn{
		SessionID: req.SessionID,
		ThreadID:  req.ThreadID,
		UserID:    req.UserID,
		Prompt:    req.Prompt,
		Voice:     req.Voice,
	}, sink)
	if err != nil {
		h.log.Warn("turn failed",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()))
	}
	h.archiveTurn(req, summary, err)
}

// diagnosticsResponse mirrors what the operator debug panel renders: current
// engine status plus the recent event trail, newest first.
type diagnosticsResponse struct {
	Engine health.Status    `json:"engine"`
	Events []debuglog.Event `json:"events"`
}

func (h *Handler) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := diagnosticsResponse{
		Engine: h.monitor.Snapshot(),
		Events: h.debug.Recent(0),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Warn("failed to encode diagnostics", slog.String("error", err.Error()))
	}
}

// handleSessionTurns serves archived history: GET /api/sessions/{id}/turns.
func (h *Handler) handleSessionTurns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	sessionID, suffix, found := strings.Cut(rest, "/")
	if !found || suffix != "turns" || sessionID == "" {
		http.NotFound(w, r)
		return
	}
	turns, err := h.store.ListSessionTurns(r.Context(), sessionID, 100)
	if err != nil {
		h.log.Error("failed to list session turns", slog.String("error", err.Error()))
		http.Error(w, "archive query failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(turns); err != nil {
		h.log.Warn("failed to encode session turns", slog.String("error", err.Error()))
	}
}

func (h *Handler) archiveTurn(req protocol.TurnRequest, summary session.Summary, runErr error) {
	if h.store == nil {
		return
	}
	if runErr != nil && summary.Transcript == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.store.AppendTurn(ctx, archive.TurnRecord{
		SessionID:   req.SessionID,
		ThreadID:    req.ThreadID,
		UserID:      req.UserID,
		Prompt:      req.Prompt,
		Transcript:  summary.Transcript,
		EngineMode:  summary.EngineMode,
		Units:       summary.Units,
		AudioUnits:  summary.AudioUnits,
		Degraded:    summary.Degraded,
		StartedAt:   summary.StartedAt,
		CompletedAt: summary.CompletedAt,
	}); err != nil {
		h.log.Warn("failed to archive turn",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()))
	}
}

// socketSink serializes websocket writes; the orchestrator may emit from the
// turn goroutine only, but the write deadline still guards a stalled client.
type socketSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *socketSink) Send(evt protocol.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(evt)
}

type ndjsonSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *ndjsonSink) Send(evt protocol.StreamEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "%s\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
