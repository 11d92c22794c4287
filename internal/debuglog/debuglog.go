// Package debuglog keeps a bounded in-memory trail of pipeline events for
// the diagnostics endpoint. It never persists and never blocks writers: when
// full, the oldest entry is dropped.
package debuglog

import (
	"sync"
	"time"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Source string

const (
	SourcePrimary   Source = "primary"
	SourceSecondary Source = "secondary"
	SourceSystem    Source = "system"
)

// Event is one diagnostic entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Source    Source    `json:"source"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
}

// Log is a fixed-capacity ring of events.
type Log struct {
	mu       sync.Mutex
	events   []Event
	start    int
	size     int
	capacity int
	clock    func() time.Time
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = 50
	}
	return &Log{
		events:   make([]Event, capacity),
		capacity: capacity,
		clock:    time.Now,
	}
}

// Record appends an event, evicting the oldest entry when full.
func (l *Log) Record(evt Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = l.clock().UTC()
	}
	idx := (l.start + l.size) % l.capacity
	l.events[idx] = evt
	if l.size < l.capacity {
		l.size++
	} else {
		l.start = (l.start + 1) % l.capacity
	}
}

// Recordf is shorthand for recording without details.
func (l *Log) Recordf(level Level, source Source, message string) {
	l.Record(Event{Level: level, Source: source, Message: message})
}

// Recent returns up to n events, newest first.
func (l *Log) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.start + l.size - 1 - i) % l.capacity
		out = append(out, l.events[idx])
	}
	return out
}

// Len reports the number of retained events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
