// Package upstream consumes the response-generation service: an opaque
// collaborator that streams the assistant's reply as ordered text fragments.
package upstream

import "context"

// Request identifies one turn's generation.
type Request struct {
	SessionID string
	ThreadID  string
	UserID    string
	Prompt    string
}

// Fragment is one incremental piece of the response text.
type Fragment struct {
	Text string
	Done bool
}

// Source streams a turn's response. Consume is called for every fragment in
// order; returning an error aborts the stream. Stream returns once the
// response is complete, the context is cancelled, or the source fails.
type Source interface {
	Stream(ctx context.Context, req Request, consume func(Fragment) error) error
}
