package stores

import (
	"context"
	"fmt"
	"time"
)

// RunMode is the path a playbook artifact took through the runner.
type RunMode string

const (
	RunModeReconcile RunMode = "reconcile"
	RunModeScript    RunMode = "script"
)

// RunStatus represents the status of a runner invocation.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// Run represents one runner invocation.
type Run struct {
	ID           string     `json:"id"`
	PlaybookPath string     `json:"playbook_path"`
	Mode         RunMode    `json:"mode"`
	Status       RunStatus  `json:"status"`
	DesiredState *string    `json:"desired_state,omitempty"`
	Converged    *bool      `json:"converged,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	JobID        *int       `json:"job_id,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RunOutcome is the terminal state recorded by FinishRun.
type RunOutcome struct {
	Status    RunStatus
	ExitCode  int
	Converged *bool
	Error     *string
}

// JobEvent is one emitted job event, stored in emission order.
type JobEvent struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	Counter    int     `json:"counter"`
	UUID       string  `json:"uuid"`
	ParentUUID *string `json:"parent_uuid,omitempty"`
	Event      string  `json:"event"`
	Created    string  `json:"created"`
	Stdout     string  `json:"stdout"`
	Payload    string  `json:"payload"` // JSON blob of the encoded event
}

// HostOutcome holds a host's final counters for a run.
type HostOutcome struct {
	RunID    string `json:"run_id"`
	Host     string `json:"host"`
	OK       int    `json:"ok"`
	Changed  int    `json:"changed"`
	Failures int    `json:"failures"`
	Skipped  int    `json:"skipped"`
	Rescued  int    `json:"rescued"`
	Ignored  int    `json:"ignored"`
}

// Store defines the interface for run history persistence.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, outcome RunOutcome) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Job events
	AppendJobEvent(ctx context.Context, event *JobEvent) error
	ListJobEvents(ctx context.Context, runID string) ([]*JobEvent, error)

	// Host outcomes
	SaveHostOutcomes(ctx context.Context, runID string, outcomes []*HostOutcome) error
	ListHostOutcomes(ctx context.Context, runID string) ([]*HostOutcome, error)
}
