package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Upstream    UpstreamConfig  `yaml:"upstream"`
	Engines     EnginesConfig   `yaml:"engines"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Debug       DebugConfig     `yaml:"debug"`
	Alerts      AlertsConfig    `yaml:"alerts"`
	Archive     ArchiveConfig   `yaml:"archive"`
	Relay       RelayConfig     `yaml:"relay"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type UpstreamConfig struct {
	Endpoint  string `yaml:"endpoint"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// EnginesConfig selects and parameterizes the synthesis backends.
// Primary is the local engine; Secondary the cloud fallback. Leaving
// Secondary.URL empty disables fallback entirely.
type EnginesConfig struct {
	Primary   PrimaryEngineConfig   `yaml:"primary"`
	Secondary SecondaryEngineConfig `yaml:"secondary"`
	Probe     ProbeConfig           `yaml:"probe"`
}

type PrimaryEngineConfig struct {
	Mode    string `yaml:"mode"` // http, exec, none
	URL     string `yaml:"url"`
	Command string `yaml:"command"`
	Voice   string `yaml:"voice"`
}

type SecondaryEngineConfig struct {
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
}

type ProbeConfig struct {
	IntervalMS     int `yaml:"interval_ms"`
	TimeoutMS      int `yaml:"timeout_ms"`
	RecoveryQuietS int `yaml:"recovery_quiet_s"`
}

type PipelineConfig struct {
	BufferThresholdChars int `yaml:"buffer_threshold_chars"`
	DispatchTimeoutMS    int `yaml:"dispatch_timeout_ms"`
	DoneGraceMS          int `yaml:"done_grace_ms"`
	ResultsBuffer        int `yaml:"results_buffer"`
}

type DebugConfig struct {
	Capacity int `yaml:"capacity"`
}

type AlertsConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type ArchiveConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxTurns      int    `yaml:"max_turns"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type RelayConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DefaultVoice string `yaml:"default_voice"`
}

func Default() Config {
	return Config{
		RuntimeName: "oracle-voice",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Upstream: UpstreamConfig{
			Endpoint:  "http://localhost:3002",
			TimeoutMS: 120000,
		},
		Engines: EnginesConfig{
			Primary: PrimaryEngineConfig{
				Mode:  "http",
				URL:   "http://localhost:8000",
				Voice: "maya",
			},
			Secondary: SecondaryEngineConfig{
				URL:     "",
				VoiceID: "EXAVITQu4vr4xnSDxMaL",
			},
			Probe: ProbeConfig{
				IntervalMS:     15000,
				TimeoutMS:      3000,
				RecoveryQuietS: 60,
			},
		},
		Pipeline: PipelineConfig{
			BufferThresholdChars: 80,
			DispatchTimeoutMS:    10000,
			DoneGraceMS:          3000,
			ResultsBuffer:        32,
		},
		Debug: DebugConfig{
			Capacity: 50,
		},
		Alerts: AlertsConfig{
			WebhookURL: "",
			TimeoutMS:  2000,
		},
		Archive: ArchiveConfig{
			Path:          "./data/voice-turns.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxTurns:      10000,
		},
		Relay: RelayConfig{
			Enabled:      false,
			DefaultVoice: "maya",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOICE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOICE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "VOICE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOICE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOICE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Upstream.Endpoint, "VOICE_UPSTREAM_ENDPOINT")
	overrideInt(&cfg.Upstream.TimeoutMS, "VOICE_UPSTREAM_TIMEOUT_MS")
	overrideString(&cfg.Engines.Primary.Mode, "VOICE_ENGINE_PRIMARY_MODE")
	overrideString(&cfg.Engines.Primary.URL, "VOICE_ENGINE_PRIMARY_URL")
	overrideString(&cfg.Engines.Primary.Command, "VOICE_ENGINE_PRIMARY_COMMAND")
	overrideString(&cfg.Engines.Primary.Voice, "VOICE_ENGINE_PRIMARY_VOICE")
	overrideString(&cfg.Engines.Secondary.URL, "VOICE_ENGINE_SECONDARY_URL")
	overrideString(&cfg.Engines.Secondary.APIKey, "VOICE_ENGINE_SECONDARY_API_KEY")
	overrideString(&cfg.Engines.Secondary.VoiceID, "VOICE_ENGINE_SECONDARY_VOICE_ID")
	overrideInt(&cfg.Engines.Probe.IntervalMS, "VOICE_ENGINE_PROBE_INTERVAL_MS")
	overrideInt(&cfg.Engines.Probe.TimeoutMS, "VOICE_ENGINE_PROBE_TIMEOUT_MS")
	overrideInt(&cfg.Engines.Probe.RecoveryQuietS, "VOICE_ENGINE_PROBE_RECOVERY_QUIET_S")
	overrideInt(&cfg.Pipeline.BufferThresholdChars, "VOICE_PIPELINE_BUFFER_THRESHOLD_CHARS")
	overrideInt(&cfg.Pipeline.DispatchTimeoutMS, "VOICE_PIPELINE_DISPATCH_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.DoneGraceMS, "VOICE_PIPELINE_DONE_GRACE_MS")
	overrideInt(&cfg.Pipeline.ResultsBuffer, "VOICE_PIPELINE_RESULTS_BUFFER")
	overrideInt(&cfg.Debug.Capacity, "VOICE_DEBUG_CAPACITY")
	overrideString(&cfg.Alerts.WebhookURL, "VOICE_ALERTS_WEBHOOK_URL")
	overrideInt(&cfg.Alerts.TimeoutMS, "VOICE_ALERTS_TIMEOUT_MS")
	overrideString(&cfg.Archive.Path, "VOICE_ARCHIVE_PATH")
	overrideString(&cfg.Archive.RetentionMode, "VOICE_ARCHIVE_RETENTION_MODE")
	overrideInt(&cfg.Archive.RetentionDays, "VOICE_ARCHIVE_RETENTION_DAYS")
	overrideInt(&cfg.Archive.MaxTurns, "VOICE_ARCHIVE_MAX_TURNS")
	overrideBool(&cfg.Archive.VacuumOnStart, "VOICE_ARCHIVE_VACUUM_ON_START")
	overrideBool(&cfg.Relay.Enabled, "VOICE_RELAY_ENABLED")
	overrideString(&cfg.Relay.DefaultVoice, "VOICE_RELAY_DEFAULT_VOICE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Upstream.Endpoint == "" {
		return errors.New("upstream.endpoint must not be empty")
	}
	if cfg.Upstream.TimeoutMS <= 0 {
		return errors.New("upstream.timeout_ms must be positive")
	}
	switch cfg.Engines.Primary.Mode {
	case "http", "exec", "none":
	default:
		return errors.New("engines.primary.mode must be one of http|exec|none")
	}
	if cfg.Engines.Primary.Mode == "http" && cfg.Engines.Primary.URL == "" {
		return errors.New("engines.primary.url must be set when mode=http")
	}
	if cfg.Engines.Primary.Mode == "exec" && cfg.Engines.Primary.Command == "" {
		return errors.New("engines.primary.command must be set when mode=exec")
	}
	if cfg.Engines.Secondary.URL != "" && cfg.Engines.Secondary.APIKey == "" {
		return errors.New("engines.secondary.api_key must be set when secondary url is configured")
	}
	if cfg.Engines.Probe.IntervalMS <= 0 {
		return errors.New("engines.probe.interval_ms must be positive")
	}
	if cfg.Engines.Probe.TimeoutMS <= 0 {
		return errors.New("engines.probe.timeout_ms must be positive")
	}
	if cfg.Engines.Probe.RecoveryQuietS < 0 {
		return errors.New("engines.probe.recovery_quiet_s must be >= 0")
	}
	if cfg.Pipeline.BufferThresholdChars <= 0 {
		return errors.New("pipeline.buffer_threshold_chars must be positive")
	}
	if cfg.Pipeline.DispatchTimeoutMS <= 0 {
		return errors.New("pipeline.dispatch_timeout_ms must be positive")
	}
	if cfg.Pipeline.DoneGraceMS < 0 {
		return errors.New("pipeline.done_grace_ms must be >= 0")
	}
	if cfg.Pipeline.ResultsBuffer <= 0 {
		return errors.New("pipeline.results_buffer must be positive")
	}
	if cfg.Debug.Capacity <= 0 {
		return errors.New("debug.capacity must be positive")
	}
	if cfg.Archive.Path == "" {
		return errors.New("archive.path must not be empty")
	}
	switch cfg.Archive.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("archive.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Archive.RetentionDays < 0 {
		return errors.New("archive.retention_days must be >= 0")
	}
	if cfg.Relay.Enabled && !cfg.Bus.Enabled {
		return errors.New("relay.enabled requires bus.enabled")
	}
	return nil
}
