package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/openfroyo/reconcile-runner/pkg/engine/protocol"
)

// TestHelperProcess is not a real test. It stands in for the engine binary
// when re-executed by helperConfig.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "no scenario")
		os.Exit(2)
	}

	os.Exit(runHelperScenario(args[1]))
}

func runHelperScenario(scenario string) int {
	dec := protocol.NewDecoder(os.Stdin)
	enc := protocol.NewEncoder(os.Stdout)

	rec, err := dec.DecodeReconcile()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad reconcile:", err)
		return 2
	}

	switch scenario {
	case "converge":
		_ = enc.EncodeEvent(map[string]interface{}{"event": "module_start", "module": "dnf", "host": "web1"})
		_ = enc.EncodeEvent(map[string]interface{}{"event": "module_complete", "module": "dnf", "host": "web1", "success": true, "changed": true})
		_ = enc.EncodeEvent(map[string]interface{}{"event": "log", "message": rec.DesiredState})
		_ = enc.EncodeResult(&protocol.ResultMessage{Converged: true, Iterations: 1})
		return 0

	case "malformed-event":
		_ = enc.Encode(protocol.MessageTypeEvent, "module_start web1")
		_ = enc.EncodeEvent(map[string]interface{}{"event": "log", "message": "still running"})
		_ = enc.EncodeResult(&protocol.ResultMessage{Converged: true, Iterations: 1})
		return 0

	case "not-converged":
		_ = enc.EncodeResult(&protocol.ResultMessage{Converged: false, Iterations: 5, Summary: "gave up"})
		return 0

	case "ask":
		_ = enc.EncodeAsk(&protocol.AskMessage{ID: "q1", Question: "Reboot web1?"})
		msg, err := dec.Decode()
		if err != nil || msg.Type != protocol.MessageTypeAnswer {
			return 2
		}
		var ans protocol.AnswerMessage
		if err := protocol.ParseParams(msg.Data, &ans); err != nil {
			return 2
		}
		_ = enc.EncodeEvent(map[string]interface{}{"event": "log", "message": ans.ID + "=" + ans.Answer})
		_ = enc.EncodeResult(&protocol.ResultMessage{Converged: true})
		return 0

	case "error":
		_ = enc.EncodeError(&protocol.ErrorMessage{Code: "LLM_DOWN", Message: "model unavailable"})
		return 0

	case "eof":
		fmt.Fprintln(os.Stderr, "engine crashed")
		return 0

	case "exit-nonzero":
		_ = enc.EncodeResult(&protocol.ResultMessage{Converged: true})
		return 3

	case "garbage":
		fmt.Fprintln(os.Stdout, "this is not json")
		return 0

	case "hang":
		time.Sleep(10 * time.Second)
		return 0
	}

	return 2
}

func helperConfig(scenario string) ProcessConfig {
	return ProcessConfig{
		Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--", scenario},
		Env:     []string{"GO_WANT_HELPER_PROCESS=1"},
		Stderr:  &bytes.Buffer{},
	}
}

func TestNewProcessReconcilerRequiresCommand(t *testing.T) {
	_, err := NewProcessReconciler(ProcessConfig{})
	if err == nil {
		t.Fatal("expected error for empty command")
	}
	if CodeOf(err) != ErrCodeConfig {
		t.Errorf("CodeOf() = %s, want %s", CodeOf(err), ErrCodeConfig)
	}
}

func TestProcessReconcilerConverge(t *testing.T) {
	r, err := NewProcessReconciler(helperConfig("converge"))
	if err != nil {
		t.Fatalf("NewProcessReconciler() error = %v", err)
	}

	var events []Event
	result, err := r.Reconcile(context.Background(), Request{
		DesiredState: "nginx is installed",
		Quiet:        true,
		OnEvent:      func(ev Event) { events = append(events, ev) },
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if !result.Converged || result.Iterations != 1 {
		t.Errorf("Reconcile() result = %+v", result)
	}

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if !events[0].IsModuleStart() || events[0].Module != "dnf" || events[0].Host != "web1" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if !events[1].IsModuleComplete() || !events[1].Success || !events[1].Changed {
		t.Errorf("unexpected second event: %+v", events[1])
	}
	if events[2].Kind != EventKindLog || events[2].Message != "nginx is installed" {
		t.Errorf("unexpected third event: %+v", events[2])
	}
}

func TestProcessReconcilerSkipsMalformedEvent(t *testing.T) {
	r, _ := NewProcessReconciler(helperConfig("malformed-event"))

	var events []Event
	result, err := r.Reconcile(context.Background(), Request{
		DesiredState: "nginx is installed",
		OnEvent:      func(ev Event) { events = append(events, ev) },
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !result.Converged {
		t.Error("expected converged")
	}
	if len(events) != 1 || events[0].Message != "still running" {
		t.Errorf("events = %+v, want only the well-formed log event", events)
	}
}

func TestProcessReconcilerNotConverged(t *testing.T) {
	r, _ := NewProcessReconciler(helperConfig("not-converged"))

	result, err := r.Reconcile(context.Background(), Request{DesiredState: "x"})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Converged {
		t.Error("expected not converged")
	}
	if result.Summary != "gave up" {
		t.Errorf("Summary = %q", result.Summary)
	}
}

func TestProcessReconcilerAskUsesPolicy(t *testing.T) {
	tests := []struct {
		name    string
		askUser AskUserFunc
		want    string
	}{
		{name: "default policy declines", askUser: nil, want: "q1=" + AnswerDeclined},
		{name: "custom policy", askUser: func(string) string { return "yes" }, want: "q1=yes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := NewProcessReconciler(helperConfig("ask"))

			var got string
			_, err := r.Reconcile(context.Background(), Request{
				DesiredState: "x",
				AskUser:      tt.askUser,
				OnEvent:      func(ev Event) { got = ev.Message },
			})
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("answer = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcessReconcilerFailures(t *testing.T) {
	tests := []struct {
		scenario string
		wantCode string
	}{
		{"error", ErrCodeEngineReported},
		{"eof", ErrCodeNoResult},
		{"exit-nonzero", ErrCodeEngineExited},
		{"garbage", ErrCodeProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			r, _ := NewProcessReconciler(helperConfig(tt.scenario))

			result, err := r.Reconcile(context.Background(), Request{DesiredState: "x"})
			if err == nil {
				t.Fatalf("expected error, got result %+v", result)
			}
			if code := CodeOf(err); code != tt.wantCode {
				t.Errorf("CodeOf() = %s, want %s (err=%v)", code, tt.wantCode, err)
			}
		})
	}
}

func TestProcessReconcilerForwardsStderr(t *testing.T) {
	cfg := helperConfig("eof")
	stderr := &bytes.Buffer{}
	cfg.Stderr = stderr

	r, _ := NewProcessReconciler(cfg)
	_, _ = r.Reconcile(context.Background(), Request{DesiredState: "x"})

	if !bytes.Contains(stderr.Bytes(), []byte("engine crashed")) {
		t.Errorf("stderr = %q, want engine diagnostics", stderr.String())
	}
}

func TestProcessReconcilerTimeout(t *testing.T) {
	cfg := helperConfig("hang")
	cfg.Timeout = 200 * time.Millisecond

	r, _ := NewProcessReconciler(cfg)
	_, err := r.Reconcile(context.Background(), Request{DesiredState: "x"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) || CodeOf(err) != ErrCodeTimeout {
		t.Errorf("expected transient timeout, got %v", err)
	}
}

func TestProcessReconcilerMissingBinary(t *testing.T) {
	r, _ := NewProcessReconciler(ProcessConfig{Command: []string{"/nonexistent/engine-binary"}})

	_, err := r.Reconcile(context.Background(), Request{DesiredState: "x"})
	if !errors.Is(err, &EngineError{Class: ErrorClassPermanent, Code: ErrCodeSpawnFailed}) {
		t.Errorf("expected spawn failure, got %v", err)
	}
}

func TestProcessReconcilerRejectsEmptyDesiredState(t *testing.T) {
	r, _ := NewProcessReconciler(helperConfig("converge"))

	if _, err := r.Reconcile(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for empty desired state")
	}
}
