package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/reconcile-runner/pkg/telemetry"
)

// Environment variables consulted by Load.
const (
	EnvEngineCommand  = "FROYO_RUNNER_ENGINE_COMMAND"
	EnvEngineTimeout  = "FROYO_RUNNER_ENGINE_TIMEOUT"
	EnvScriptCommand  = "FROYO_RUNNER_SCRIPT_COMMAND"
	EnvStorePath      = "FROYO_RUNNER_STORE_PATH"
	EnvLogFormat      = "FROYO_RUNNER_LOG_FORMAT"
	EnvMetricsFile    = "FROYO_RUNNER_METRICS_TEXTFILE"
	EnvPushgatewayURL = "FROYO_RUNNER_PUSHGATEWAY_URL"
	EnvOTLPEndpoint   = "FROYO_RUNNER_OTLP_ENDPOINT"
	EnvLogLevel       = "LOG_LEVEL"
)

// DefaultPlayName is the name of the synthetic play.
const DefaultPlayName = "Reconcile"

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Command: []string{"ftl2-ai-loop", "--protocol", "jsonl"},
		},
		Script: ScriptConfig{
			Command: []string{"ftl2-runner", "playbook"},
		},
		Output: OutputConfig{
			PlayName: DefaultPlayName,
			JobIDEnv: "JOB_ID",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load builds the configuration from defaults, an optional file and the environment.
// A nil lookup reads the process environment.
func Load(path string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile merges a YAML, JSON or CUE file over cfg.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		exported, err := decodeCUE(data, path)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(exported, cfg); err != nil {
			return fmt.Errorf("failed to decode %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	return nil
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	if v, ok := nonEmpty(lookup, EnvEngineCommand); ok {
		cfg.Engine.Command = strings.Fields(v)
	}

	if v, ok := nonEmpty(lookup, EnvEngineTimeout); ok {
		if err := cfg.Engine.Timeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", EnvEngineTimeout, err)
		}
	}

	if v, ok := nonEmpty(lookup, EnvScriptCommand); ok {
		cfg.Script.Command = strings.Fields(v)
	}

	if v, ok := nonEmpty(lookup, EnvStorePath); ok {
		cfg.Store.Path = v
	}

	if v, ok := nonEmpty(lookup, EnvLogLevel); ok {
		cfg.Telemetry.Logging.Level = strings.ToLower(v)
	}

	if v, ok := nonEmpty(lookup, EnvLogFormat); ok {
		cfg.Telemetry.Logging.Format = strings.ToLower(v)
	}

	if v, ok := nonEmpty(lookup, EnvMetricsFile); ok {
		cfg.Telemetry.Metrics.TextfilePath = v
	}

	if v, ok := nonEmpty(lookup, EnvPushgatewayURL); ok {
		cfg.Telemetry.Metrics.PushgatewayURL = v
	}

	if v, ok := nonEmpty(lookup, EnvOTLPEndpoint); ok {
		cfg.Telemetry.Tracing.Enabled = true
		cfg.Telemetry.Tracing.Exporter = "otlp"
		cfg.Telemetry.Tracing.Endpoint = v
	}

	return nil
}

func nonEmpty(lookup LookupFunc, key string) (string, bool) {
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Validate checks struct constraints and the telemetry settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}
