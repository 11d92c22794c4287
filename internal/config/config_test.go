package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engines.Primary.Mode != "http" {
		t.Fatalf("expected default primary mode http, got %q", cfg.Engines.Primary.Mode)
	}
	if cfg.Pipeline.BufferThresholdChars != 80 {
		t.Fatalf("expected default buffer threshold 80, got %d", cfg.Pipeline.BufferThresholdChars)
	}
	if cfg.Debug.Capacity != 50 {
		t.Fatalf("expected default debug capacity 50, got %d", cfg.Debug.Capacity)
	}
	if cfg.Engines.Probe.RecoveryQuietS != 60 {
		t.Fatalf("expected default recovery quiet window 60s, got %d", cfg.Engines.Probe.RecoveryQuietS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICE_ENGINE_PRIMARY_MODE", "exec")
	t.Setenv("VOICE_ENGINE_PRIMARY_COMMAND", "sesame-tts --stream")
	t.Setenv("VOICE_ENGINE_SECONDARY_URL", "https://api.elevenlabs.io")
	t.Setenv("VOICE_ENGINE_SECONDARY_API_KEY", "xi-test")
	t.Setenv("VOICE_ENGINE_PROBE_INTERVAL_MS", "5000")
	t.Setenv("VOICE_PIPELINE_DISPATCH_TIMEOUT_MS", "2500")
	t.Setenv("VOICE_DEBUG_CAPACITY", "100")
	t.Setenv("VOICE_ARCHIVE_RETENTION_MODE", "persistent")
	t.Setenv("VOICE_BUS_SERVERS", "nats://one:4222, nats://two:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Engines.Primary.Mode != "exec" || cfg.Engines.Primary.Command != "sesame-tts --stream" {
		t.Fatalf("expected primary engine override, got %+v", cfg.Engines.Primary)
	}
	if cfg.Engines.Secondary.URL != "https://api.elevenlabs.io" || cfg.Engines.Secondary.APIKey != "xi-test" {
		t.Fatalf("expected secondary engine override, got %+v", cfg.Engines.Secondary)
	}
	if cfg.Engines.Probe.IntervalMS != 5000 {
		t.Fatalf("expected probe interval override, got %d", cfg.Engines.Probe.IntervalMS)
	}
	if cfg.Pipeline.DispatchTimeoutMS != 2500 {
		t.Fatalf("expected dispatch timeout override, got %d", cfg.Pipeline.DispatchTimeoutMS)
	}
	if cfg.Debug.Capacity != 100 {
		t.Fatalf("expected debug capacity override, got %d", cfg.Debug.Capacity)
	}
	if cfg.Archive.RetentionMode != "persistent" {
		t.Fatalf("expected archive retention override, got %q", cfg.Archive.RetentionMode)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voiced.yaml")
	data := []byte(`
runtime_name: voice-test
engines:
  primary:
    mode: http
    url: http://sesame:8000
  secondary:
    url: https://api.elevenlabs.io
    api_key: xi-file
pipeline:
  done_grace_ms: 1500
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "voice-test" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.Engines.Primary.URL != "http://sesame:8000" {
		t.Fatalf("expected primary url from file, got %q", cfg.Engines.Primary.URL)
	}
	if cfg.Pipeline.DoneGraceMS != 1500 {
		t.Fatalf("expected done grace from file, got %d", cfg.Pipeline.DoneGraceMS)
	}
	// untouched sections keep defaults
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected default http port, got %d", cfg.HTTP.Port)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad primary mode", func(c *Config) { c.Engines.Primary.Mode = "cloud" }},
		{"exec without command", func(c *Config) { c.Engines.Primary.Mode = "exec"; c.Engines.Primary.Command = "" }},
		{"secondary without key", func(c *Config) { c.Engines.Secondary.URL = "https://x"; c.Engines.Secondary.APIKey = "" }},
		{"zero probe interval", func(c *Config) { c.Engines.Probe.IntervalMS = 0 }},
		{"zero buffer threshold", func(c *Config) { c.Pipeline.BufferThresholdChars = 0 }},
		{"zero debug capacity", func(c *Config) { c.Debug.Capacity = 0 }},
		{"bad retention mode", func(c *Config) { c.Archive.RetentionMode = "forever" }},
		{"relay without bus", func(c *Config) { c.Relay.Enabled = true; c.Bus.Enabled = false }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
