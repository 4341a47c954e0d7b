// Package awx implements the job event stream consumed by AWX and
// ansible-runner: JSON event records wrapped in a base64 ANSI envelope that
// terminals render invisibly while the controller extracts them from stdout.
package awx

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event names understood by the controller.
const (
	EventPlaybookStart = "playbook_on_start"
	EventPlayStart     = "playbook_on_play_start"
	EventTaskStart     = "playbook_on_task_start"
	EventRunnerStart   = "runner_on_start"
	EventRunnerOK      = "runner_on_ok"
	EventRunnerFailed  = "runner_on_failed"
	EventRunnerSkipped = "runner_on_skipped"
	EventVerbose       = "verbose"
	EventStats         = "playbook_on_stats"
)

// CreatedLayout is the timestamp layout of JobEvent.Created (UTC, microseconds, no zone).
const CreatedLayout = "2006-01-02T15:04:05.000000"

// JobIDEnv is the environment variable carrying the controller's job identifier.
const JobIDEnv = "JOB_ID"

// JobEvent is one record of the job event stream.
type JobEvent struct {
	Event      string                 `json:"event"`
	UUID       string                 `json:"uuid"`
	Created    string                 `json:"created"`
	EventData  map[string]interface{} `json:"event_data"`
	PID        int                    `json:"pid"`
	ParentUUID string                 `json:"parent_uuid,omitempty"`
	JobID      *int                   `json:"job_id,omitempty"`

	// Stdout is the human-readable text printed between the envelopes.
	// It is not part of the encoded payload.
	Stdout string `json:"-"`
}

// Validate checks the fields every event must carry.
func (e *JobEvent) Validate() error {
	if e.Event == "" {
		return fmt.Errorf("event name is required")
	}
	if e.UUID == "" {
		return fmt.Errorf("event uuid is required")
	}
	if e.Created == "" {
		return fmt.Errorf("event created timestamp is required")
	}
	return nil
}

// FormatCreated renders t in the CreatedLayout.
func FormatCreated(t time.Time) string {
	return t.UTC().Format(CreatedLayout)
}

// ParseJobID parses a JOB_ID value. Empty means absent.
func ParseJobID(value string) (*int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	id, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", JobIDEnv, value, err)
	}
	return &id, nil
}
