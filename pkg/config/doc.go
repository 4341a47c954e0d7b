// Package config loads the runner configuration.
//
// # Sources
//
// Configuration is assembled from the following sources, lowest precedence first:
//
//  1. Built-in defaults (Default)
//  2. A configuration file passed with --config
//  3. Environment variables (FROYO_RUNNER_* and LOG_LEVEL)
//
// Command-line flags are applied on top by the CLI.
//
// # File Formats
//
// Files ending in .cue are compiled with CUE and unified with a built-in #Config
// schema before decoding, so unknown fields and malformed durations are rejected
// with file positions. Any other extension is parsed as YAML (JSON is accepted as
// a YAML subset).
//
//	engine: {
//	    command: ["ftl2-ai-loop", "--protocol", "jsonl"]
//	    timeout: "30m"
//	}
//	store: path: "/var/lib/froyo-runner/history.db"
//	telemetry: logging: level: "debug"
//
// # Validation
//
// The merged result is validated with go-playground/validator struct tags and
// the telemetry package's own checks. Load never returns a partially valid Config.
package config
