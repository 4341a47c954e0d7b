package runner

import (
	"context"
	"encoding/json"

	"github.com/openfroyo/reconcile-runner/pkg/awx"
	"github.com/openfroyo/reconcile-runner/pkg/stores"
	"github.com/openfroyo/reconcile-runner/pkg/telemetry"
	"github.com/openfroyo/reconcile-runner/pkg/translator"
)

// History failures are logged and never change the run's exit code.

func (c *Coordinator) recordStart(ctx context.Context, run *stores.Run) {
	if c.cfg.Recorder == nil {
		return
	}
	run.Status = stores.RunStatusRunning
	run.StartedAt = c.cfg.Now().UTC()
	if err := c.cfg.Recorder.CreateRun(ctx, run); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("failed to record run start")
	}
}

func (c *Coordinator) recordEvent(ctx context.Context, runID string, counter int, ev *awx.JobEvent) {
	if c.cfg.Recorder == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("failed to encode job event for history")
		return
	}

	record := &stores.JobEvent{
		RunID:   runID,
		Counter: counter,
		UUID:    ev.UUID,
		Event:   ev.Event,
		Created: ev.Created,
		Stdout:  ev.Stdout,
		Payload: string(payload),
	}
	if ev.ParentUUID != "" {
		parent := ev.ParentUUID
		record.ParentUUID = &parent
	}

	if err := c.cfg.Recorder.AppendJobEvent(ctx, record); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("failed to record job event")
	}
}

func (c *Coordinator) recordOutcomes(ctx context.Context, runID string, outcomes *translator.OutcomeTable) {
	if c.cfg.Recorder == nil || outcomes.Empty() {
		return
	}

	rows := make([]*stores.HostOutcome, 0, len(outcomes.Hosts()))
	for _, host := range outcomes.Hosts() {
		o, _ := outcomes.Get(host)
		rows = append(rows, &stores.HostOutcome{
			RunID:    runID,
			Host:     host,
			OK:       o.OK,
			Changed:  o.Changed,
			Failures: o.Failures,
			Skipped:  o.Skipped,
			Rescued:  o.Rescued,
			Ignored:  o.Ignored,
		})
	}

	if err := c.cfg.Recorder.SaveHostOutcomes(ctx, runID, rows); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("failed to record host outcomes")
	}
}

func (c *Coordinator) recordFinish(ctx context.Context, runID string, exitCode int, converged *bool, runErr error) {
	if c.cfg.Recorder == nil {
		return
	}

	outcome := stores.RunOutcome{
		Status:    stores.RunStatusCompleted,
		ExitCode:  exitCode,
		Converged: converged,
	}
	if runErr != nil {
		msg := runErr.Error()
		outcome.Status = stores.RunStatusFailed
		outcome.Error = &msg
	}

	if err := c.cfg.Recorder.FinishRun(ctx, runID, outcome); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("failed to record run completion")
	}
}
