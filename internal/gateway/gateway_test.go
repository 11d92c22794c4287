package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spiralogic/oracle-voice/internal/alert"
	"github.com/spiralogic/oracle-voice/internal/archive"
	"github.com/spiralogic/oracle-voice/internal/config"
	"github.com/spiralogic/oracle-voice/internal/debuglog"
	"github.com/spiralogic/oracle-voice/internal/health"
	"github.com/spiralogic/oracle-voice/internal/protocol"
	"github.com/spiralogic/oracle-voice/internal/session"
	"github.com/spiralogic/oracle-voice/internal/synth"
	"github.com/spiralogic/oracle-voice/internal/upstream"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T) (*httptest.Server, *debuglog.Log) {
	t.Helper()
	logger := newLogger()
	debug := debuglog.New(50)
	primary := synth.NewMockEngine("primary")
	monitor := health.NewMonitor(health.Options{
		Primary:       primary,
		Debug:         debug,
		Notifier:      alert.Noop{},
		Interval:      time.Hour,
		Timeout:       time.Second,
		RecoveryQuiet: time.Minute,
		Logger:        logger,
	})
	source := &upstream.MockSource{Fragments: []string{"Hello from the gateway. ", "Goodbye."}}
	orch := session.NewOrchestrator(monitor, debug, source, logger, session.Options{})

	store, err := archive.Open(context.Background(), config.ArchiveConfig{RetentionMode: "ephemeral"}, logger)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mux := http.NewServeMux()
	New(orch, monitor, debug, store, logger).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, debug
}

func TestWebsocketTurnStream(t *testing.T) {
	srv, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/turn"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.TurnRequest{SessionID: "ws-1", Prompt: "hello"}); err != nil {
		t.Fatalf("send turn request: %v", err)
	}

	var types []string
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var evt protocol.StreamEvent
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event (got %v so far): %v", types, err)
		}
		types = append(types, evt.Type)
		if evt.Type == protocol.EventDone || evt.Type == protocol.EventError {
			break
		}
	}

	if types[0] != protocol.EventStart {
		t.Fatalf("expected start first, got %v", types)
	}
	if types[len(types)-1] != protocol.EventDone {
		t.Fatalf("expected done last, got %v", types)
	}
	var sawText, sawAudio bool
	for _, typ := range types {
		switch typ {
		case protocol.EventText:
			sawText = true
		case protocol.EventAudio:
			sawAudio = true
		}
	}
	if !sawText || !sawAudio {
		t.Fatalf("expected text and audio events, got %v", types)
	}
}

func TestWebsocketRejectsEmptyPrompt(t *testing.T) {
	srv, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/turn"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.TurnRequest{SessionID: "ws-2"}); err != nil {
		t.Fatalf("send turn request: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt protocol.StreamEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != protocol.EventError {
		t.Fatalf("expected error event, got %+v", evt)
	}
}

func TestHTTPTurnStreamsNDJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	body := strings.NewReader(`{"session_id":"http-1","prompt":"hello"}`)
	resp, err := http.Post(srv.URL+"/api/turn", "application/json", body)
	if err != nil {
		t.Fatalf("post turn: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var evt protocol.StreamEvent
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatalf("decode event line: %v", err)
		}
		types = append(types, evt.Type)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan stream: %v", err)
	}
	if len(types) == 0 || types[0] != protocol.EventStart || types[len(types)-1] != protocol.EventDone {
		t.Fatalf("unexpected event sequence %v", types)
	}
}

func TestHTTPTurnRejectsEmptyPrompt(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/turn", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post turn: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestDiagnosticsEndpoint(t *testing.T) {
	srv, debug := newTestServer(t)
	debug.Recordf(debuglog.LevelWarning, debuglog.SourceSecondary, "fallback to secondary engine")

	resp, err := http.Get(srv.URL + "/api/diagnostics")
	if err != nil {
		t.Fatalf("get diagnostics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	var diag struct {
		Engine health.Status    `json:"engine"`
		Events []debuglog.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&diag); err != nil {
		t.Fatalf("decode diagnostics: %v", err)
	}
	if len(diag.Events) == 0 {
		t.Fatal("expected recorded events in diagnostics")
	}
	if diag.Events[0].Message != "fallback to secondary engine" {
		t.Fatalf("expected newest event first, got %+v", diag.Events[0])
	}
}

func TestSessionTurnsNotFoundForBadPath(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/sessions/only-an-id")
	if err != nil {
		t.Fatalf("get session turns: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
