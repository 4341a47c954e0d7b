// Package translator converts native reconciliation engine events into the
// AWX job event stream and maintains the per-host outcome table.
package translator

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/reconcile-runner/pkg/awx"
	"github.com/openfroyo/reconcile-runner/pkg/engine"
)

// PlayName is the name of the single synthetic play wrapping a reconcile run.
const PlayName = "Reconcile"

const (
	bannerWidth = 80
	playPattern = "all"
)

// Sink receives translated job events in emission order.
type Sink interface {
	Emit(ev *awx.JobEvent) error
}

// Options configures a Translator.
type Options struct {
	// Playbook is the artifact name reported in event data.
	Playbook string

	// Verbosity controls how much result detail is printed in stdout text.
	Verbosity int

	// JobID is attached to every event when set.
	JobID *int

	// PID is the process identifier reported in events. Defaults to os.Getpid().
	PID int

	// NewID generates event identifiers. Defaults to uuid.NewString.
	NewID func() string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// OnEmit is called after every successful emission with the event's
	// sequence number, starting at 1.
	OnEmit func(counter int, ev *awx.JobEvent)
}

// Translator maps native engine events onto the AWX event vocabulary.
//
// The run is modelled as one playbook containing one play; each module_start
// opens a new task. Event parentage follows that hierarchy: the play's parent
// is the playbook, a task's parent is the play, and runner events belong to
// the current task (or the play before any task has started).
//
// Emission errors are sticky: after the first failure nothing more is written
// and Err reports it, but outcome tracking continues so the exit code stays
// correct.
type Translator struct {
	sink     Sink
	outcomes *OutcomeTable
	opts     Options

	counter      int
	playbookUUID string
	playUUID     string
	playName     string
	taskUUID     string
	taskName     string
	taskAction   string
	err          error
}

// New creates a translator writing to sink and recording into outcomes.
func New(sink Sink, outcomes *OutcomeTable, opts Options) *Translator {
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Translator{
		sink:     sink,
		outcomes: outcomes,
		opts:     opts,
	}
}

// Err returns the first emission error, if any.
func (t *Translator) Err() error {
	return t.err
}

// Counter returns the number of events emitted so far.
func (t *Translator) Counter() int {
	return t.counter
}

// PlaybookUUID returns the identifier of the playbook_on_start event.
func (t *Translator) PlaybookUUID() string {
	return t.playbookUUID
}

// PlaybookStart emits playbook_on_start.
func (t *Translator) PlaybookStart() {
	t.playbookUUID = t.opts.NewID()
	t.emit(&awx.JobEvent{
		Event: awx.EventPlaybookStart,
		UUID:  t.playbookUUID,
		EventData: map[string]interface{}{
			"playbook":      t.opts.Playbook,
			"playbook_uuid": t.playbookUUID,
			"uuid":          t.playbookUUID,
		},
	})
}

// PlayStart emits playbook_on_play_start for the named play.
func (t *Translator) PlayStart(name string) {
	t.playUUID = t.opts.NewID()
	t.playName = name
	data := t.baseData()
	data["name"] = name
	data["play"] = name
	data["play_uuid"] = t.playUUID
	data["play_pattern"] = playPattern
	data["pattern"] = playPattern

	t.emit(&awx.JobEvent{
		Event:      awx.EventPlayStart,
		UUID:       t.playUUID,
		ParentUUID: t.playbookUUID,
		EventData:  data,
		Stdout:     "\n" + banner(fmt.Sprintf("PLAY [%s]", name)),
	})
}

// TaskStart emits playbook_on_task_start and makes it the current task.
func (t *Translator) TaskStart(name, action string) {
	t.taskUUID = t.opts.NewID()
	t.taskName = name
	t.taskAction = action

	data := t.playData()
	data["name"] = name
	data["is_conditional"] = false

	t.emit(&awx.JobEvent{
		Event:      awx.EventTaskStart,
		UUID:       t.taskUUID,
		ParentUUID: t.parentForTask(),
		EventData:  data,
		Stdout:     "\n" + banner(fmt.Sprintf("TASK [%s]", name)),
	})
}

// HandleEvent translates one native engine event. It is intended to be used
// directly as an engine.EventHandler. Events without a host or module are
// attributed to engine.DefaultHost and engine.DefaultModule.
func (t *Translator) HandleEvent(ev engine.Event) {
	if ev.Host == "" {
		ev.Host = engine.DefaultHost
	}
	if ev.Module == "" {
		ev.Module = engine.DefaultModule
	}

	switch {
	case ev.IsModuleStart():
		t.TaskStart(ev.Module, ev.Module)
		t.runnerStart(ev)

	case ev.IsModuleComplete():
		t.runnerComplete(ev)
		if ev.Success {
			t.outcomes.RecordSuccess(ev.Host, ev.Changed)
		} else {
			t.outcomes.RecordFailure(ev.Host)
		}

	default:
		t.verbose(ev)
	}
}

// Stats emits playbook_on_stats when at least one host has recorded outcomes.
// It reports whether the event was emitted.
func (t *Translator) Stats() bool {
	if t.outcomes.Empty() {
		return false
	}

	data := t.outcomes.StatsEventData()
	data["playbook"] = t.opts.Playbook
	data["playbook_uuid"] = t.playbookUUID

	t.emit(&awx.JobEvent{
		Event:      awx.EventStats,
		UUID:       t.opts.NewID(),
		ParentUUID: t.playbookUUID,
		EventData:  data,
		Stdout:     t.recap(),
	})
	return true
}

func (t *Translator) runnerStart(ev engine.Event) {
	data := t.hostData(ev)
	t.emit(&awx.JobEvent{
		Event:      awx.EventRunnerStart,
		UUID:       t.opts.NewID(),
		ParentUUID: t.parentForRunner(),
		EventData:  data,
	})
}

func (t *Translator) runnerComplete(ev engine.Event) {
	res := make(map[string]interface{}, len(ev.Result)+3)
	for k, v := range ev.Result {
		res[k] = v
	}
	res["changed"] = ev.Changed

	data := t.hostData(ev)
	data["res"] = res
	if ev.Duration > 0 {
		data["duration"] = ev.Duration
	}

	name := awx.EventRunnerOK
	var stdout string
	if ev.Success {
		status := "ok"
		if ev.Changed {
			status = "changed"
		}
		stdout = fmt.Sprintf("%s: [%s]", status, ev.Host)
		if t.opts.Verbosity > 0 {
			stdout += " => " + compactJSON(res)
		}
	} else {
		name = awx.EventRunnerFailed
		res["failed"] = true
		if _, ok := res["msg"]; !ok && ev.Message != "" {
			res["msg"] = ev.Message
		}
		data["ignore_errors"] = false
		stdout = fmt.Sprintf("fatal: [%s]: FAILED! => %s", ev.Host, compactJSON(res))
	}

	t.emit(&awx.JobEvent{
		Event:      name,
		UUID:       t.opts.NewID(),
		ParentUUID: t.parentForRunner(),
		EventData:  data,
		Stdout:     stdout,
	})
}

func (t *Translator) verbose(ev engine.Event) {
	t.emit(&awx.JobEvent{
		Event:      awx.EventVerbose,
		UUID:       t.opts.NewID(),
		ParentUUID: t.parentForRunner(),
		EventData:  map[string]interface{}{},
		Stdout:     ev.Message,
	})
}

func (t *Translator) emit(ev *awx.JobEvent) {
	ev.Created = awx.FormatCreated(t.opts.Now())
	ev.PID = t.opts.PID
	ev.JobID = t.opts.JobID

	t.counter++
	if t.err != nil {
		return
	}
	if err := t.sink.Emit(ev); err != nil {
		t.err = fmt.Errorf("failed to emit %s event: %w", ev.Event, err)
		return
	}
	if t.opts.OnEmit != nil {
		t.opts.OnEmit(t.counter, ev)
	}
}

func (t *Translator) baseData() map[string]interface{} {
	return map[string]interface{}{
		"playbook":      t.opts.Playbook,
		"playbook_uuid": t.playbookUUID,
	}
}

func (t *Translator) playData() map[string]interface{} {
	data := t.baseData()
	data["play"] = t.playName
	data["play_uuid"] = t.playUUID
	data["play_pattern"] = playPattern
	data["task"] = t.taskName
	data["task_uuid"] = t.taskUUID
	data["task_action"] = t.taskAction
	data["task_args"] = ""
	return data
}

func (t *Translator) hostData(ev engine.Event) map[string]interface{} {
	data := t.playData()
	data["host"] = ev.Host
	data["remote_addr"] = ev.Host
	data["resolved_action"] = ev.Module
	return data
}

func (t *Translator) parentForTask() string {
	if t.playUUID != "" {
		return t.playUUID
	}
	return t.playbookUUID
}

func (t *Translator) parentForRunner() string {
	if t.taskUUID != "" {
		return t.taskUUID
	}
	return t.parentForTask()
}

func (t *Translator) recap() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(banner("PLAY RECAP"))
	b.WriteString("\n")

	width := 0
	for _, host := range t.outcomes.Hosts() {
		width = max(width, len(host))
	}

	for _, host := range t.outcomes.Hosts() {
		h, _ := t.outcomes.Get(host)
		if h.IsZero() {
			continue
		}
		fmt.Fprintf(&b, "%-*s : ok=%-4d changed=%-4d unreachable=0    failed=%-4d skipped=%-4d rescued=%-4d ignored=%d\n",
			width, host, h.OK, h.Changed, h.Failures, h.Skipped, h.Rescued, h.Ignored)
	}
	return b.String()
}

func banner(title string) string {
	stars := bannerWidth - len(title) - 1
	if stars < 3 {
		stars = 3
	}
	return title + " " + strings.Repeat("*", stars)
}

func compactJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
