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

// httpEngine talks to the local synthesis service: POST /tts returns raw
// audio bytes, GET /health reports whether the model is resident.
type httpEngine struct {
	name         string
	baseURL      string
	defaultVoice string
	client       *http.Client
}

type synthRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
	Pitch float64 `json:"pitch,omitempty"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// NewHTTPEngine returns the primary engine backed by a local HTTP synthesis
// service.
func NewHTTPEngine(baseURL, defaultVoice string) Engine {
	return &httpEngine{
		name:         "primary",
		baseURL:      baseURL,
		defaultVoice: defaultVoice,
		client:       &http.Client{},
	}
}

func (e *httpEngine) Name() string { return e.name }

func (e *httpEngine) Synthesize(ctx context.Context, unit segment.Unit, params Params) Result {
	start := time.Now()
	fail := func(err error) Result {
		return Result{Sequence: unit.Sequence, Engine: e.name, Err: err, Duration: time.Since(start)}
	}

	voice := params.Voice
	if voice == "" {
		voice = e.defaultVoice
	}
	body, err := json.Marshal(synthRequest{Text: unit.Text, Voice: voice, Speed: params.Speed, Pitch: params.Pitch})
	if err != nil {
		return fail(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fail(fmt.Errorf("synthesis request: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fail(fmt.Errorf("synthesis service returned status %s", resp.Status))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("read synthesis response: %w", err))
	}
	if len(audio) == 0 {
		return fail(fmt.Errorf("synthesis service returned empty audio"))
	}

	return Result{Sequence: unit.Sequence, Engine: e.name, Audio: audio, Duration: time.Since(start)}
}

func (e *httpEngine) Probe(ctx context.Context) Health {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return Health{Err: err}
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return Health{ResponseTime: time.Since(start), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Health{ResponseTime: time.Since(start), Err: fmt.Errorf("health endpoint returned status %s", resp.Status)}
	}

	var payload healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Health{ResponseTime: time.Since(start), Err: fmt.Errorf("decode health response: %w", err)}
	}

	return Health{
		OK:           payload.Status == "healthy" && payload.ModelLoaded,
		ResponseTime: time.Since(start),
		ModelLoaded:  payload.ModelLoaded,
	}
}
