package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/spiralogic/oracle-voice/internal/segment"
)

// execEngine shells out to a local synthesis process per unit. The command
// receives a JSON request on stdin and writes raw audio to stdout. Serialized
// with a mutex since local models rarely tolerate concurrent invocations.
type execEngine struct {
	name         string
	cmd          []string
	defaultVoice string
	mu           sync.Mutex
}

type execSynthRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
	Pitch float64 `json:"pitch,omitempty"`
}

// NewExecEngine builds a primary engine that runs a local command per unit.
func NewExecEngine(command, defaultVoice string) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synthesis command empty")
	}
	return &execEngine{name: "primary", cmd: args, defaultVoice: defaultVoice}, nil
}

func (e *execEngine) Name() string { return e.name }

func (e *execEngine) Synthesize(ctx context.Context, unit segment.Unit, params Params) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	fail := func(err error) Result {
		return Result{Sequence: unit.Sequence, Engine: e.name, Err: err, Duration: time.Since(start)}
	}

	voice := params.Voice
	if voice == "" {
		voice = e.defaultVoice
	}
	payload, err := json.Marshal(execSynthRequest{Text: unit.Text, Voice: voice, Speed: params.Speed, Pitch: params.Pitch})
	if err != nil {
		return fail(err)
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return fail(fmt.Errorf("synthesis command: %w", err))
	}
	if stdout.Len() == 0 {
		return fail(fmt.Errorf("synthesis command produced no audio"))
	}

	return Result{Sequence: unit.Sequence, Engine: e.name, Audio: stdout.Bytes(), Duration: time.Since(start)}
}

func (e *execEngine) Probe(ctx context.Context) Health {
	start := time.Now()
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		return Health{ResponseTime: time.Since(start), Err: fmt.Errorf("synthesis command not found: %w", err)}
	}
	return Health{OK: true, ResponseTime: time.Since(start), ModelLoaded: true}
}
