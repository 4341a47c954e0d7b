package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/reconcile-runner/pkg/telemetry"
)

// Config is the complete runner configuration.
type Config struct {
	// Engine configures the reconciliation engine child process.
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Script configures the fallback playbook runner.
	Script ScriptConfig `yaml:"script" json:"script"`

	// Store configures the optional run-history database.
	Store StoreConfig `yaml:"store" json:"store"`

	// Output configures the synthetic job event stream.
	Output OutputConfig `yaml:"output" json:"output"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
}

// EngineConfig describes how to start the reconciliation engine.
type EngineConfig struct {
	// Command is the engine argv. The first element is the executable.
	Command []string `yaml:"command" json:"command" validate:"required,min=1,dive,required"`

	// Env holds extra environment variables for the engine process.
	Env map[string]string `yaml:"env" json:"env"`

	// Dir is the engine working directory. Empty means the runner's.
	Dir string `yaml:"dir" json:"dir"`

	// Timeout bounds a whole reconcile call. Zero disables the bound.
	Timeout Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

// ScriptConfig describes how to run classic playbooks.
type ScriptConfig struct {
	// Command is the script runner argv prefix.
	Command []string `yaml:"command" json:"command" validate:"required,min=1,dive,required"`

	// Env holds extra environment variables for the script runner.
	Env map[string]string `yaml:"env" json:"env"`
}

// StoreConfig configures run history. An empty Path disables recording.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// Enabled reports whether run history should be recorded.
func (s StoreConfig) Enabled() bool {
	return s.Path != ""
}

// OutputConfig configures the synthetic job event stream.
type OutputConfig struct {
	// PlayName is the name of the single synthetic play.
	PlayName string `yaml:"play_name" json:"play_name" validate:"required"`

	// JobIDEnv names the environment variable carrying the job id.
	JobIDEnv string `yaml:"job_id_env" json:"job_id_env" validate:"required"`
}

// Duration is a time.Duration that reads from strings like "90s" or "15m".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
