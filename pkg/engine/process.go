package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/reconcile-runner/pkg/engine/protocol"
)

// ProcessConfig contains configuration for an engine run as a child process.
type ProcessConfig struct {
	// Command is the engine executable followed by its arguments.
	Command []string

	// Env is appended to the runner's own environment.
	Env []string

	// Dir is the working directory of the engine process.
	Dir string

	// Timeout bounds a single reconcile call. Zero means no limit.
	Timeout time.Duration

	// Stderr receives the engine's diagnostic output. Defaults to os.Stderr.
	Stderr io.Writer

	// Logger receives protocol-level diagnostics.
	Logger *zerolog.Logger
}

// ProcessReconciler drives an external engine over the JSON-lines protocol.
// The engine reads a RECONCILE message on stdin and writes EVENT and ASK
// messages on stdout until it sends a terminal RESULT or ERROR.
type ProcessReconciler struct {
	cfg    ProcessConfig
	logger zerolog.Logger
}

// NewProcessReconciler creates a reconciler backed by the configured command.
func NewProcessReconciler(cfg ProcessConfig) (*ProcessReconciler, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, NewPermanentError("engine command is required", nil).WithCode(ErrCodeConfig)
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &ProcessReconciler{
		cfg:    cfg,
		logger: logger.With().Str("component", "engine").Logger(),
	}, nil
}

// Reconcile starts the engine, streams its events to req.OnEvent and returns its result.
func (p *ProcessReconciler) Reconcile(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, NewPermanentError("invalid reconcile request", err).WithCode(ErrCodeConfig)
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Dir = p.cfg.Dir
	cmd.Stderr = p.cfg.Stderr
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, NewPermanentError("failed to open engine stdin", err).WithCode(ErrCodeSpawnFailed)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, NewPermanentError("failed to open engine stdout", err).WithCode(ErrCodeSpawnFailed)
	}

	if err := cmd.Start(); err != nil {
		return nil, NewPermanentError("failed to start engine", err).
			WithCode(ErrCodeSpawnFailed).
			WithDetail("command", p.cfg.Command[0])
	}

	p.logger.Debug().
		Int("pid", cmd.Process.Pid).
		Str("command", p.cfg.Command[0]).
		Msg("Engine started")

	result, convErr := p.converse(protocol.NewEncoder(stdin), protocol.NewDecoder(stdout), req)

	_ = stdin.Close()
	if convErr != nil {
		_ = cmd.Process.Kill()
	} else {
		// Trailing output after RESULT is ignored.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, NewTransientError("engine timed out", ctx.Err()).
			WithCode(ErrCodeTimeout).
			WithDetail("timeout", p.cfg.Timeout.String())
	}
	if convErr != nil {
		return nil, convErr
	}
	if waitErr != nil {
		return nil, NewTransientError("engine exited abnormally", waitErr).WithCode(ErrCodeEngineExited)
	}

	return result, nil
}

func (p *ProcessReconciler) converse(enc *protocol.Encoder, dec *protocol.Decoder, req Request) (*Result, error) {
	askUser := req.AskUser
	if askUser == nil {
		askUser = AskUserNonInteractive
	}

	if err := enc.EncodeReconcile(&protocol.ReconcileMessage{
		DesiredState: req.DesiredState,
		Inventory:    req.Inventory,
		Quiet:        req.Quiet,
	}); err != nil {
		return nil, NewProtocolError("failed to send reconcile request", err)
	}

	for {
		msg, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return nil, NewPermanentError("engine closed its output before reporting a result", nil).
				WithCode(ErrCodeNoResult)
		}
		if err != nil {
			return nil, NewProtocolError("failed to read engine message", err)
		}

		switch msg.Type {
		case protocol.MessageTypeEvent:
			var raw map[string]interface{}
			if err := protocol.ParseParams(msg.Data, &raw); err != nil {
				p.logger.Warn().Err(err).Msg("Dropping malformed engine event")
				continue
			}
			if req.OnEvent != nil {
				req.OnEvent(EventFromMap(raw))
			}

		case protocol.MessageTypeAsk:
			var ask protocol.AskMessage
			if err := protocol.ParseParams(msg.Data, &ask); err != nil {
				return nil, NewProtocolError("failed to parse ask", err)
			}
			if err := ask.Validate(); err != nil {
				return nil, NewProtocolError("invalid ask", err)
			}
			answer := askUser(ask.Question)
			p.logger.Info().
				Str("question", ask.Question).
				Str("answer", answer).
				Msg("Engine confirmation answered")
			if err := enc.EncodeAnswer(&protocol.AnswerMessage{ID: ask.ID, Answer: answer}); err != nil {
				return nil, NewProtocolError("failed to send answer", err)
			}

		case protocol.MessageTypeResult:
			var res protocol.ResultMessage
			if err := protocol.ParseParams(msg.Data, &res); err != nil {
				return nil, NewProtocolError("failed to parse result", err)
			}
			return &Result{
				Converged:  res.Converged,
				Iterations: res.Iterations,
				Summary:    res.Summary,
			}, nil

		case protocol.MessageTypeError:
			var errMsg protocol.ErrorMessage
			if err := protocol.ParseParams(msg.Data, &errMsg); err != nil {
				return nil, NewProtocolError("failed to parse error", err)
			}
			engErr := NewPermanentError(errMsg.Message, nil).WithCode(ErrCodeEngineReported)
			if errMsg.Retryable {
				engErr.Class = ErrorClassTransient
			}
			if errMsg.Code != "" {
				engErr.WithDetail("engine_code", errMsg.Code)
			}
			return nil, engErr

		default:
			return nil, NewProtocolError(fmt.Sprintf("unexpected message type: %s", msg.Type), nil)
		}
	}
}
