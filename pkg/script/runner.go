// Package script runs playbook artifacts that carry no desired state through
// the external script runner.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Request describes one script run.
type Request struct {
	PlaybookPath string
	Inventory    string
	ExtraVars    map[string]interface{}
	CheckMode    bool
	Verbosity    int
}

// Runner executes a script artifact and returns its exit code verbatim.
type Runner interface {
	Run(ctx context.Context, req Request) (int, error)
}

// ProcessConfig configures a ProcessRunner.
type ProcessConfig struct {
	// Command is the script runner executable followed by its leading arguments.
	Command []string

	// Env is appended to the runner's own environment.
	Env []string

	// Stdout and Stderr receive the script runner's output. Default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// Logger receives diagnostics.
	Logger *zerolog.Logger
}

// ProcessRunner delegates to an external script runner process.
type ProcessRunner struct {
	cfg    ProcessConfig
	logger zerolog.Logger
}

// NewProcessRunner creates a script runner backed by the configured command.
func NewProcessRunner(cfg ProcessConfig) (*ProcessRunner, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, fmt.Errorf("script runner command is required")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &ProcessRunner{
		cfg:    cfg,
		logger: logger.With().Str("component", "script").Logger(),
	}, nil
}

// Args builds the argument list passed to the script runner for req.
func (r *ProcessRunner) Args(req Request) ([]string, error) {
	args := append([]string{}, r.cfg.Command[1:]...)

	if req.Inventory != "" {
		args = append(args, "-i", req.Inventory)
	}
	if len(req.ExtraVars) > 0 {
		data, err := json.Marshal(req.ExtraVars)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extra vars: %w", err)
		}
		args = append(args, "-e", string(data))
	}
	if req.CheckMode {
		args = append(args, "--check")
	}
	if req.Verbosity > 0 {
		args = append(args, "-"+strings.Repeat("v", req.Verbosity))
	}

	return append(args, req.PlaybookPath), nil
}

// Run executes the script runner and returns its exit code.
// A runner killed by a signal reports exit code 1.
func (r *ProcessRunner) Run(ctx context.Context, req Request) (int, error) {
	args, err := r.Args(req)
	if err != nil {
		return 1, err
	}

	cmd := exec.CommandContext(ctx, r.cfg.Command[0], args...)
	cmd.Stdout = r.cfg.Stdout
	cmd.Stderr = r.cfg.Stderr
	if len(r.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), r.cfg.Env...)
	}

	r.logger.Debug().
		Str("command", r.cfg.Command[0]).
		Strs("args", args).
		Msg("Delegating to script runner")

	err = cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			code = 1
		}
		return code, nil
	}
	if err != nil {
		return 1, fmt.Errorf("failed to run script runner: %w", err)
	}
	return 0, nil
}
