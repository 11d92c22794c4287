package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spiralogic/oracle-voice/internal/segment"
)

// cloudEngine is the fallback backend: a hosted speech API reached over
// REST with an API key. Higher latency than the local engine, so it is only
// selected when the primary is down.
type cloudEngine struct {
	name    string
	baseURL string
	apiKey  string
	voiceID string
	client  *http.Client
}

type cloudSynthRequest struct {
	Text          string              `json:"text"`
	VoiceSettings *cloudVoiceSettings `json:"voice_settings,omitempty"`
}

type cloudVoiceSettings struct {
	Speed float64 `json:"speed,omitempty"`
}

// NewCloudEngine returns the secondary engine backed by a hosted speech API.
func NewCloudEngine(baseURL, apiKey, voiceID string) Engine {
	return &cloudEngine{
		name:    "secondary",
		baseURL: baseURL,
		apiKey:  apiKey,
		voiceID: voiceID,
		client:  &http.Client{},
	}
}

func (e *cloudEngine) Name() string { return e.name }

func (e *cloudEngine) Synthesize(ctx context.Context, unit segment.Unit, params Params) Result {
	start := time.Now()
	fail := func(err error) Result {
		return Result{Sequence: unit.Sequence, Engine: e.name, Err: err, Duration: time.Since(start)}
	}

	payload := cloudSynthRequest{Text: unit.Text}
	if params.Speed != 0 {
		payload.VoiceSettings = &cloudVoiceSettings{Speed: params.Speed}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fail(err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", e.baseURL, e.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fail(fmt.Errorf("cloud synthesis request: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fail(fmt.Errorf("cloud synthesis returned status %s", resp.Status))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("read cloud synthesis response: %w", err))
	}
	if len(audio) == 0 {
		return fail(fmt.Errorf("cloud synthesis returned empty audio"))
	}

	return Result{Sequence: unit.Sequence, Engine: e.name, Audio: audio, Duration: time.Since(start)}
}

// Probe checks key validity and reachability without spending synthesis
// quota.
func (e *cloudEngine) Probe(ctx context.Context) Health {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/user", nil)
	if err != nil {
		return Health{Err: err}
	}
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return Health{ResponseTime: time.Since(start), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Health{ResponseTime: time.Since(start), Err: fmt.Errorf("cloud probe returned status %s", resp.Status)}
	}

	// Hosted API keeps models warm; reachability implies readiness.
	return Health{OK: true, ResponseTime: time.Since(start), ModelLoaded: true}
}
