package protocol

import "time"

// Event types carried on the outbound turn stream, in emission order:
// one start, any number of text/audio, then exactly one done or error.
const (
	EventStart = "start"
	EventText  = "text"
	EventAudio = "audio"
	EventDone  = "done"
	EventError = "error"
)

// StreamEvent is a single entry in the multiplexed client-facing stream.
// Text events are ordered; audio events carry the sequence number of the
// speakable unit they belong to and may arrive in any order.
type StreamEvent struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id,omitempty"`
	Content    string    `json:"content,omitempty"`
	Sequence   int       `json:"sequence,omitempty"`
	Engine     string    `json:"engine,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Audio      []byte    `json:"audio,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// TurnRequest asks the relay to run one conversation turn.
type TurnRequest struct {
	SessionID string `json:"session_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Prompt    string `json:"prompt"`
	Voice     string `json:"voice,omitempty"`
}

const (
	SubjectTurnRequest     = "voice.turn.request"
	SubjectTurnEventPrefix = "voice.turn.event"
)

// TurnEventSubject returns the per-session subject events are published on.
func TurnEventSubject(sessionID string) string {
	return SubjectTurnEventPrefix + "." + sessionID
}
