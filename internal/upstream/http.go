package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// httpSource streams fragments from the response service's NDJSON endpoint:
// one JSON object per line, terminated by a line with done=true.
type httpSource struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

type generateRequest struct {
	SessionID string `json:"session_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Prompt    string `json:"prompt"`
	Stream    bool   `json:"stream"`
}

type generateLine struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

func NewHTTPSource(endpoint string, timeout time.Duration) Source {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &httpSource{endpoint: endpoint, timeout: timeout, client: &http.Client{}}
}

func (s *httpSource) Stream(ctx context.Context, req Request, consume func(Fragment) error) error {
	body, err := json.Marshal(generateRequest{
		SessionID: req.SessionID,
		ThreadID:  req.ThreadID,
		UserID:    req.UserID,
		Prompt:    req.Prompt,
		Stream:    true,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/api/respond", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("response stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("response service returned status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk generateLine
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode response line: %w", err)
		}
		if err := consume(Fragment{Text: chunk.Text, Done: chunk.Done}); err != nil {
			return err
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("response stream interrupted: %w", err)
	}
	return fmt.Errorf("response stream ended without completion marker")
}
