package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/reconcile-runner/pkg/awx"
	"github.com/openfroyo/reconcile-runner/pkg/engine"
	"github.com/openfroyo/reconcile-runner/pkg/script"
	"github.com/openfroyo/reconcile-runner/pkg/stores"
	"github.com/openfroyo/reconcile-runner/pkg/translator"
)

const desiredStatePlaybook = "hosts: all\n---\n# Web\n\nEnsure nginx installed.\n"

type fakeScripts struct {
	code     int
	err      error
	requests []script.Request
}

func (f *fakeScripts) Run(ctx context.Context, req script.Request) (int, error) {
	f.requests = append(f.requests, req)
	return f.code, f.err
}

type harness struct {
	coordinator *Coordinator
	stdout      *bytes.Buffer
	stderr      *bytes.Buffer
	scripts     *fakeScripts
	requests    []engine.Request
}

func newHarness(t *testing.T, reconcile func(req engine.Request) (*engine.Result, error), mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
		scripts: &fakeScripts{},
	}

	n := 0
	cfg := Config{
		Reconciler: engine.ReconcilerFunc(func(ctx context.Context, req engine.Request) (*engine.Result, error) {
			h.requests = append(h.requests, req)
			return reconcile(req)
		}),
		Scripts: h.scripts,
		Stdout:  h.stdout,
		Stderr:  h.stderr,
		PID:     4242,
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
		Now: func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.coordinator = c
	return h
}

func writePlaybook(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "site.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write playbook: %v", err)
	}
	return path
}

func (h *harness) events(t *testing.T) []*awx.JobEvent {
	t.Helper()

	events, err := awx.ParseStream(h.stdout.Bytes())
	if err != nil {
		t.Fatalf("ParseStream() error = %v", err)
	}
	return events
}

func eventNames(events []*awx.JobEvent) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Event
	}
	return names
}

func moduleRun(req engine.Request, host string, success bool) {
	req.OnEvent(engine.Event{Kind: engine.EventKindModuleStart, Module: "dnf", Host: host})
	req.OnEvent(engine.Event{Kind: engine.EventKindModuleComplete, Module: "dnf", Host: host, Success: success})
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name      string
		converged bool
		failures  bool
		want      int
	}{
		{name: "converged without failures", converged: true, want: ExitConverged},
		{name: "not converged without failures", converged: false, want: ExitNotConverged},
		{name: "converged with failures", converged: true, failures: true, want: ExitTaskFailures},
		{name: "not converged with failures", converged: false, failures: true, want: ExitTaskFailures},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcomes := translator.NewOutcomeTable()
			outcomes.RecordSuccess("web1", true)
			if tt.failures {
				outcomes.RecordFailure("db1")
			}

			if got := ExitCode(tt.converged, outcomes); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}

	if got := ExitCode(true, nil); got != ExitConverged {
		t.Errorf("ExitCode(true, nil) = %d, want %d", got, ExitConverged)
	}
}

func TestExecuteConvergedWithoutModules(t *testing.T) {
	h := newHarness(t, func(req engine.Request) (*engine.Result, error) {
		return &engine.Result{Converged: true}, nil
	}, nil)

	code := h.coordinator.Execute(context.Background(), Options{PlaybookPath: writePlaybook(t, desiredStatePlaybook)})
	if code != ExitConverged {
		t.Fatalf("Execute() = %d, want %d", code, ExitConverged)
	}

	events := h.events(t)
	want := []string{awx.EventPlaybookStart, awx.EventPlayStart}
	if got := eventNames(events); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v (no stats without outcomes)", got, want)
	}

	if len(h.requests) != 1 {
		t.Fatalf("reconciler called %d times, want 1", len(h.requests))
	}
	req := h.requests[0]
	if req.DesiredState != "# Web\n\nEnsure nginx installed." {
		t.Errorf("DesiredState = %q", req.DesiredState)
	}
	if !req.Quiet {
		t.Error("engine should run quietly")
	}
	if req.AskUser == nil || req.AskUser("restart nginx?") != engine.AnswerDeclined {
		t.Error("AskUser should decline without blocking")
	}
	if len(h.scripts.requests) != 0 {
		t.Error("script runner should not be called for desired-state artifacts")
	}
}

func TestExecuteTaskFailureOverridesConvergence(t *testing.T) {
	h := newHarness(t, func(req engine.Request) (*engine.Result, error) {
		moduleRun(req, "h1", false)
		return &engine.Result{Converged: true}, nil
	}, nil)

	code := h.coordinator.Execute(context.Background(), Options{PlaybookPath: writePlaybook(t, desiredStatePlaybook)})
	if code != ExitTaskFailures {
		t.Fatalf("Execute() = %d, want %d", code, ExitTaskFailures)
	}

	events := h.events(t)
	want := []string{
		awx.EventPlaybookStart,
		awx.EventPlayStart,
		awx.EventTaskStart,
		awx.EventRunnerStart,
		awx.EventRunnerFailed,
		awx.EventStats,
	}
	if got := eventNames(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	stats := events[len(events)-1].EventData
	failures, ok := stats["failures"].(map[string]interface{})
	if !ok || failures["h1"] != float64(1) {
		t.Errorf("stats failures = %v, want h1=1", stats["failures"])
	}
}

func TestExecuteNotConverged(t *testing.T) {
	h := newHarness(t, func(req engine.Request) (*engine.Result, error) {
		moduleRun(req, "web1", true)
		return &engine.Result{Converged: false, Iterations: 3}, nil
	}, nil)

	code := h.coordinator.Execute(context.Background(), Options{PlaybookPath: writePlaybook(t, desiredStatePlaybook)})
	if code != ExitNotConverged {
		t.Fatalf("Execute() = %d, want %d", code, ExitNotConverged)
	}

	events := h.events(t)
	if last := events[len(events)-1]; last.Event != awx.EventStats {
		t.Errorf("last event = %s, want %s", last.Event, awx.EventStats)
	}
	if h.stderr.Len() != 0 {
		t.Errorf("stderr = %q, want empty", h.stderr.String())
	}
}

func TestExecuteEngineError(t *testing.T) {
	h := newHarness(t, func(req engine.Request) (*engine.Result, error) {
		moduleRun(req, "web1", false)
		return nil, engine.NewPermanentError("model quota exhausted", nil).WithCode(engine.ErrCodeEngineReported)
	}, nil)

	code := h.coordinator.Execute(context.Background(), Options{PlaybookPath: writePlaybook(t, desiredStatePlaybook)})
	if code != ExitNotConverged {
		t.Fatalf("Execute() = %d, want %d", code, ExitNotConverged)
	}

	if got := h.stderr.String(); got != "ERROR: model quota exhausted\n" {
		t.Errorf("stderr = %q", got)
	}

	// Events already emitted stay on the stream; stats are not emitted.
	want := []string{
		awx.EventPlaybookStart,
		awx.EventPlayStart,
		awx.EventTaskStart,
		awx.EventRunnerStart,
		awx.EventRunnerFailed,
	}
	if got := eventNames(h.events(t)); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestExecuteEnginePanic(t *testing.T) {
	h := newHarness(t, func(req engine.Request) (*engine.Result, error) {
		panic("nil inventory")
	}, nil)

	code := h.coordinator.Execute(context.Background(), Options{PlaybookPath: writePlaybook(t, desiredStatePlaybook)})
	if code != ExitNotConverged {
		t.Fatalf("Execute() = %d, want %d", code, ExitNotConverged)
	}
	if !strings.Contains(h.stderr.String(), "engine panicked: nil inventory") {
		t.Errorf("stderr = %q", h.stderr.String())
	}
}

func TestExecuteNilResult(t *testing.T) {
	h := newHarness(t, func(req engine.Request) (*engine.Result, error) {
		return nil, nil
	}, nil)

	code := h.coordinator.Execute(context.Background(), Options{PlaybookPath: writePlaybook(t, desiredStatePlaybook)})
	if code != ExitNotConverged {
		t.Fatalf("Execute() = %d, want %d", code, ExitNotConverged)
	}
	if !strings.HasPrefix(h.stderr.String(), "ERROR: ") {
		t.Errorf("stderr = %q", h.stderr.String())
	}
}

func TestExecuteScriptFallback(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "script marker",
			content: "hosts: all  # noqa\nasync def run(inventory_path, extravars, runner):\n    return 0\n",
		},
		{
			name:    "empty desired state",
			content: "hosts: all\n---\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(req engine.Request) (*engine.Result, error) {
				t.Fatal("reconciler should not be called")
				return nil, nil
			}, nil)
			h.scripts.code = 4

			path := writePlaybook(t, tt.content)
			opts := Options{
				PlaybookPath: path,
				Inventory:    "inventory.ini",
				ExtraVars:    map[string]interface{}{"env": "prod"},
				CheckMode:    true,
				Verbosity:    2,
			}

			code := h.coordinator.Execute(context.Background(), opts)
			if code != 4 {
				t.Fatalf("Execute() = %d, want script exit code 4", code)
			}
			if h.stdout.Len() != 0 {
				t.Errorf("no job events should be written on the script path, got %q", h.stdout.String())
			}

			want := script.Request{
				PlaybookPath: path,
				Inventory:    "inventory.ini",
				ExtraVars:    map[string]interface{}{"env": "prod"},
				CheckMode:    true,
				Verbosity:    2,
			}
			if len(h.scripts.requests) != 1 || !reflect.DeepEqual(h.scripts.requests[0], want) {
				t.Errorf("script requests = %+v, want %+v", h.scripts.requests, want)
			}
		})
	}
}

func TestExecuteScriptStartFailure(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.scripts.code = 1
	h.scripts.err = errors.New("ftl2-runner: executable file not found in $PATH")

	code := h.coordinator.Execute(context.Background(), Options{PlaybookPath: writePlaybook(t, "async def run(")})
	if code != 1 {
		t.Fatalf("Execute() = %d, want 1", code)
	}
	if !strings.Contains(h.stderr.String(), "executable file not found") {
		t.Errorf("stderr = %q", h.stderr.String())
	}
}

func TestExecuteMissingPlaybook(t *testing.T) {
	h := newHarness(t, nil, nil)

	code := h.coordinator.Execute(context.Background(), Options{PlaybookPath: filepath.Join(t.TempDir(), "absent.yml")})
	if code != ExitNotConverged {
		t.Fatalf("Execute() = %d, want %d", code, ExitNotConverged)
	}
	if !strings.HasPrefix(h.stderr.String(), "ERROR: failed to read playbook") {
		t.Errorf("stderr = %q", h.stderr.String())
	}
}

func TestReconcileWithoutDesiredState(t *testing.T) {
	h := newHarness(t, nil, nil)
	path := writePlaybook(t, "hosts: all\n---\n")

	code := h.coordinator.Reconcile(context.Background(), Options{PlaybookPath: path})
	if code != ExitNotConverged {
		t.Fatalf("Reconcile() = %d, want %d", code, ExitNotConverged)
	}

	want := fmt.Sprintf("ERROR: Could not extract desired state from %s\n", path)
	if got := h.stderr.String(); got != want {
		t.Errorf("stderr = %q, want %q", got, want)
	}
	if h.stdout.Len() != 0 || len(h.scripts.requests) != 0 {
		t.Error("nothing should run without a desired state")
	}
}

func TestExecuteEventOrderingAndJobID(t *testing.T) {
	jobID := 31
	h := newHarness(t, func(req engine.Request) (*engine.Result, error) {
		moduleRun(req, "web1", true)
		req.OnEvent(engine.Event{Kind: engine.EventKindLog, Message: "verifying"})
		moduleRun(req, "web2", true)
		return &engine.Result{Converged: true}, nil
	}, func(cfg *Config) {
		cfg.JobID = &jobID
		cfg.PlayName = "Converge"
	})

	code := h.coordinator.Execute(context.Background(), Options{PlaybookPath: writePlaybook(t, desiredStatePlaybook)})
	if code != ExitConverged {
		t.Fatalf("Execute() = %d, want %d", code, ExitConverged)
	}

	events := h.events(t)
	if events[0].Event != awx.EventPlaybookStart || events[1].Event != awx.EventPlayStart {
		t.Fatalf("stream must open with playbook and play start, got %v", eventNames(events))
	}
	if events[len(events)-1].Event != awx.EventStats {
		t.Errorf("stream must close with stats, got %v", eventNames(events))
	}
	if events[1].EventData["name"] != "Converge" {
		t.Errorf("play name = %v, want Converge", events[1].EventData["name"])
	}

	for i, ev := range events {
		if ev.JobID == nil || *ev.JobID != jobID {
			t.Errorf("event %d (%s) job_id = %v, want %d", i, ev.Event, ev.JobID, jobID)
		}
		if ev.PID != 4242 {
			t.Errorf("event %d pid = %d, want 4242", i, ev.PID)
		}
	}
}

func TestNewValidation(t *testing.T) {
	reconciler := engine.ReconcilerFunc(func(ctx context.Context, req engine.Request) (*engine.Result, error) {
		return &engine.Result{}, nil
	})

	if _, err := New(Config{Scripts: &fakeScripts{}}); err == nil {
		t.Error("New() without reconciler should fail")
	}
	if _, err := New(Config{Reconciler: reconciler}); err == nil {
		t.Error("New() without script runner should fail")
	}

	c, err := New(Config{Reconciler: reconciler, Scripts: &fakeScripts{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.cfg.PlayName != translator.PlayName {
		t.Errorf("PlayName = %q, want %q", c.cfg.PlayName, translator.PlayName)
	}
}

func TestExecuteRecordsHistory(t *testing.T) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	h := newHarness(t, func(req engine.Request) (*engine.Result, error) {
		moduleRun(req, "web1", true)
		moduleRun(req, "db1", false)
		return &engine.Result{Converged: true}, nil
	}, func(cfg *Config) {
		cfg.Recorder = store
	})

	code := h.coordinator.Execute(ctx, Options{PlaybookPath: writePlaybook(t, desiredStatePlaybook)})
	if code != ExitTaskFailures {
		t.Fatalf("Execute() = %d, want %d", code, ExitTaskFailures)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("ListRuns() returned %d runs, want 1", len(runs))
	}

	run := runs[0]
	if run.Mode != stores.RunModeReconcile || run.Status != stores.RunStatusCompleted {
		t.Errorf("run mode/status = %s/%s", run.Mode, run.Status)
	}
	if run.ExitCode == nil || *run.ExitCode != ExitTaskFailures {
		t.Errorf("run exit code = %v, want %d", run.ExitCode, ExitTaskFailures)
	}
	if run.Converged == nil || !*run.Converged {
		t.Errorf("run converged = %v, want true", run.Converged)
	}

	events, err := store.ListJobEvents(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListJobEvents() error = %v", err)
	}
	streamed := h.events(t)
	if len(events) != len(streamed) {
		t.Fatalf("recorded %d events, streamed %d", len(events), len(streamed))
	}
	for i, ev := range events {
		if ev.Counter != i+1 || ev.UUID != streamed[i].UUID {
			t.Errorf("event %d = counter %d uuid %s, want counter %d uuid %s", i, ev.Counter, ev.UUID, i+1, streamed[i].UUID)
		}
	}

	outcomes, err := store.ListHostOutcomes(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListHostOutcomes() error = %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("ListHostOutcomes() returned %d rows, want 2", len(outcomes))
	}
	// Ordered by host.
	if outcomes[0].Host != "db1" || outcomes[0].Failures != 1 || outcomes[0].Ignored != 1 {
		t.Errorf("db1 outcome = %+v", outcomes[0])
	}
	if outcomes[1].Host != "web1" || outcomes[1].OK != 1 {
		t.Errorf("web1 outcome = %+v", outcomes[1])
	}
}
