// Package runner coordinates a single playbook run: it classifies the
// artifact, then either drives the reconciliation engine through the AWX
// translator or delegates to the script runner, and computes the exit code.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/reconcile-runner/pkg/awx"
	"github.com/openfroyo/reconcile-runner/pkg/desiredstate"
	"github.com/openfroyo/reconcile-runner/pkg/engine"
	"github.com/openfroyo/reconcile-runner/pkg/script"
	"github.com/openfroyo/reconcile-runner/pkg/stores"
	"github.com/openfroyo/reconcile-runner/pkg/telemetry"
	"github.com/openfroyo/reconcile-runner/pkg/translator"
)

// Exit codes of a reconcile run.
const (
	ExitConverged    = 0
	ExitNotConverged = 1
	ExitTaskFailures = 2
)

// Recorder persists run history. It is satisfied by stores.Store.
type Recorder interface {
	CreateRun(ctx context.Context, run *stores.Run) error
	FinishRun(ctx context.Context, id string, outcome stores.RunOutcome) error
	AppendJobEvent(ctx context.Context, event *stores.JobEvent) error
	SaveHostOutcomes(ctx context.Context, runID string, outcomes []*stores.HostOutcome) error
}

// Config wires a Coordinator to its collaborators.
type Config struct {
	// Reconciler drives desired-state artifacts. Required.
	Reconciler engine.Reconciler

	// Scripts runs artifacts without a desired state. Required.
	Scripts script.Runner

	// Stdout receives the job event stream. Defaults to os.Stdout.
	Stdout io.Writer

	// Stderr receives run-level error reports. Defaults to os.Stderr.
	Stderr io.Writer

	// Recorder stores run history when set.
	Recorder Recorder

	// PlayName names the synthetic play. Defaults to translator.PlayName.
	PlayName string

	// JobID is attached to every emitted event when set.
	JobID *int

	// PID is reported in events. Defaults to os.Getpid().
	PID int

	// NewID generates run and event identifiers. Defaults to uuid.NewString.
	NewID func() string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// ReadFile reads playbook artifacts. Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// Options describe one playbook invocation.
type Options struct {
	PlaybookPath string
	Inventory    string
	ExtraVars    map[string]interface{}
	CheckMode    bool
	Verbosity    int
}

// Coordinator executes playbook runs. Runs are single-shot; each gets its
// own translator, outcome table and identifier sequence.
type Coordinator struct {
	cfg Config
}

// New creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if cfg.Scripts == nil {
		return nil, fmt.Errorf("script runner is required")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.PlayName == "" {
		cfg.PlayName = translator.PlayName
	}
	if cfg.PID == 0 {
		cfg.PID = os.Getpid()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ReadFile == nil {
		cfg.ReadFile = os.ReadFile
	}

	return &Coordinator{cfg: cfg}, nil
}

// ExitCode maps a finished reconcile onto the process exit code. Task
// failures take precedence over convergence.
func ExitCode(converged bool, outcomes *translator.OutcomeTable) int {
	if outcomes != nil && outcomes.HasFailures() {
		return ExitTaskFailures
	}
	if converged {
		return ExitConverged
	}
	return ExitNotConverged
}

// Execute runs the artifact at opts.PlaybookPath and returns the exit code.
// Artifacts without a desired state go to the script runner unchanged.
func (c *Coordinator) Execute(ctx context.Context, opts Options) int {
	classification, err := c.classify(ctx, opts.PlaybookPath)
	if err != nil {
		c.reportError(err)
		return ExitNotConverged
	}

	if classification.Kind == desiredstate.KindScript {
		return c.runScript(ctx, opts)
	}

	return c.reconcile(ctx, opts, classification.DesiredState)
}

// Reconcile runs the artifact through the reconciliation engine. An artifact
// with no extractable desired state is reported and yields exit code 1.
func (c *Coordinator) Reconcile(ctx context.Context, opts Options) int {
	classification, err := c.classify(ctx, opts.PlaybookPath)
	if err != nil {
		c.reportError(err)
		return ExitNotConverged
	}

	if classification.Kind != desiredstate.KindDesiredState {
		fmt.Fprintf(c.cfg.Stderr, "ERROR: Could not extract desired state from %s\n", opts.PlaybookPath)
		return ExitNotConverged
	}

	return c.reconcile(ctx, opts, classification.DesiredState)
}

func (c *Coordinator) classify(ctx context.Context, path string) (desiredstate.Classification, error) {
	op := telemetry.StartOperation(ctx, "classify", telemetry.AttrPlaybook.String(path))

	content, err := c.cfg.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("failed to read playbook %s: %w", path, err)
		op.End(err)
		return desiredstate.Classification{}, err
	}

	classification := desiredstate.ClassifyContent(string(content))
	op.Logger.Debugf("classified %s as %s", path, classification.Kind)
	op.End(nil)

	return classification, nil
}

func (c *Coordinator) runScript(ctx context.Context, opts Options) int {
	runID := c.cfg.NewID()
	ctx = telemetry.WithRunContext(ctx, runID, string(stores.RunModeScript))
	logger := telemetry.FromContext(ctx)

	c.recordStart(ctx, &stores.Run{
		ID:           runID,
		PlaybookPath: opts.PlaybookPath,
		Mode:         stores.RunModeScript,
		JobID:        c.cfg.JobID,
	})

	logger.Infof("delegating %s to the script runner", opts.PlaybookPath)

	code, err := c.cfg.Scripts.Run(ctx, script.Request{
		PlaybookPath: opts.PlaybookPath,
		Inventory:    opts.Inventory,
		ExtraVars:    opts.ExtraVars,
		CheckMode:    opts.CheckMode,
		Verbosity:    opts.Verbosity,
	})
	if err != nil {
		c.reportError(err)
		recordError(ctx, err)
		if code == 0 {
			code = ExitNotConverged
		}
	}

	c.recordFinish(ctx, runID, code, nil, err)
	telemetry.EndRunContext(ctx, code, err)
	return code
}

func (c *Coordinator) reconcile(ctx context.Context, opts Options, desiredState string) int {
	runID := c.cfg.NewID()
	ctx = telemetry.WithRunContext(ctx, runID, string(stores.RunModeReconcile))
	logger := telemetry.FromContext(ctx)
	metrics := metricsFrom(ctx)

	c.recordStart(ctx, &stores.Run{
		ID:           runID,
		PlaybookPath: opts.PlaybookPath,
		Mode:         stores.RunModeReconcile,
		DesiredState: &desiredState,
		JobID:        c.cfg.JobID,
	})

	outcomes := translator.NewOutcomeTable()
	tr := translator.New(awx.NewEmitter(c.cfg.Stdout), outcomes, translator.Options{
		Playbook:  opts.PlaybookPath,
		Verbosity: opts.Verbosity,
		JobID:     c.cfg.JobID,
		PID:       c.cfg.PID,
		NewID:     c.cfg.NewID,
		Now:       c.cfg.Now,
		OnEmit: func(counter int, ev *awx.JobEvent) {
			metrics.RecordJobEvent(ev.Event)
			c.recordEvent(ctx, runID, counter, ev)
		},
	})

	tr.PlaybookStart()
	tr.PlayStart(c.cfg.PlayName)

	result, err := c.callEngine(ctx, engine.Request{
		DesiredState: desiredState,
		Inventory:    opts.Inventory,
		AskUser:      engine.AskUserNonInteractive,
		Quiet:        true,
		OnEvent:      tr.HandleEvent,
	})
	if err != nil {
		c.reportError(err)
		recordError(ctx, err)
		c.recordOutcomes(ctx, runID, outcomes)
		c.recordFinish(ctx, runID, ExitNotConverged, nil, err)
		telemetry.EndRunContext(ctx, ExitNotConverged, err)
		return ExitNotConverged
	}

	tr.Stats()

	if emitErr := tr.Err(); emitErr != nil {
		logger.WithError(emitErr).Error("job event stream was truncated")
	}

	code := ExitCode(result.Converged, outcomes)
	logger.WithFields(map[string]interface{}{
		"converged":  result.Converged,
		"iterations": result.Iterations,
		"events":     tr.Counter(),
		"exit_code":  code,
	}).Info("reconcile finished")

	recordOutcomeMetrics(metrics, outcomes)
	c.recordOutcomes(ctx, runID, outcomes)
	converged := result.Converged
	c.recordFinish(ctx, runID, code, &converged, nil)
	telemetry.EndRunContext(ctx, code, nil)

	return code
}

// callEngine invokes the reconciler, converting a panic into an engine error.
func (c *Coordinator) callEngine(ctx context.Context, req engine.Request) (result *engine.Result, err error) {
	op := telemetry.StartOperation(ctx, "reconcile")
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = engine.NewPermanentError(fmt.Sprintf("engine panicked: %v", r), nil).
				WithCode(engine.ErrCodePanic).
				WithOperation("reconcile")
		}
		op.End(err)
	}()

	result, err = c.cfg.Reconciler.Reconcile(op.Ctx, req)
	if err == nil && result == nil {
		err = engine.NewProtocolError("engine returned no result", nil).WithCode(engine.ErrCodeNoResult)
	}
	if result != nil && op.Span != nil {
		op.Span.SetAttributes(
			telemetry.AttrConverged.Bool(result.Converged),
			telemetry.AttrIterations.Int(result.Iterations),
		)
	}
	return result, err
}

func (c *Coordinator) reportError(err error) {
	msg := err.Error()
	var engineErr *engine.EngineError
	if errors.As(err, &engineErr) {
		msg = engineErr.Message
		if engineErr.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, engineErr.Err)
		}
	}
	fmt.Fprintf(c.cfg.Stderr, "ERROR: %s\n", msg)
}

func metricsFrom(ctx context.Context) *telemetry.Metrics {
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		return tel.Metrics
	}
	return nil
}

func recordError(ctx context.Context, err error) {
	class := "internal"
	var engineErr *engine.EngineError
	if errors.As(err, &engineErr) {
		class = string(engineErr.Class)
	}
	metricsFrom(ctx).RecordError(class, engine.CodeOf(err))
}

func recordOutcomeMetrics(metrics *telemetry.Metrics, outcomes *translator.OutcomeTable) {
	for _, host := range outcomes.Hosts() {
		o, _ := outcomes.Get(host)
		metrics.RecordHostOutcome("ok", o.OK)
		metrics.RecordHostOutcome("changed", o.Changed)
		metrics.RecordHostOutcome("failed", o.Failures)
	}
}
