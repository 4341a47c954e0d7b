package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "stdout logs", mutate: func(c *Config) { c.Logging.Output = "stdout" }, wantErr: true},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: true,
		},
		{name: "bad sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("runner").WithRunID("run-1").Info("started")

	out := buf.String()
	for _, want := range []string{`"component":"runner"`, `"run_id":"run-1"`, `"message":"started"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %s", out, want)
		}
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message should be logged")
	}
}

func TestFromContextDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext() should never return nil")
	}
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordRunStarted("reconcile")
	m.RecordJobEvent("runner_on_ok")
	m.RecordJobEvent("runner_on_ok")
	m.RecordHostOutcome("failed", 2)
	m.RecordHostOutcome("ok", 0)
	m.RecordError("permanent", "NO_RESULT")
	m.RecordRunCompleted("reconcile", 2, time.Second)

	if got := testutil.ToFloat64(m.jobEvents.WithLabelValues("runner_on_ok")); got != 2 {
		t.Errorf("job events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.hostOutcomes.WithLabelValues("failed")); got != 2 {
		t.Errorf("failed outcomes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.runsCompleted.WithLabelValues("reconcile", "2")); got != 1 {
		t.Errorf("runs completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeRuns); got != 0 {
		t.Errorf("active runs = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.errorsByCode.WithLabelValues("NO_RESULT")); got != 1 {
		t.Errorf("errors by code = %v, want 1", got)
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordRunStarted("script")
	m.RecordJobEvent("verbose")
	if m.Gatherer() != nil {
		t.Error("disabled metrics should have no gatherer")
	}
	if err := m.Export(context.Background()); err != nil {
		t.Errorf("Export() error = %v", err)
	}

	var nilMetrics *Metrics
	nilMetrics.RecordJobEvent("verbose")
}

func TestMetricsWriteTextfile(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.TextfilePath = filepath.Join(t.TempDir(), "runner.prom")

	m, _ := NewMetrics(cfg)
	m.RecordJobEvent("playbook_on_stats")

	if err := m.Export(context.Background()); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	data, err := os.ReadFile(cfg.TextfilePath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `froyo_runner_job_events_emitted_total{event="playbook_on_stats"} 1`) {
		t.Errorf("textfile = %s", data)
	}
}

func TestRunContext(t *testing.T) {
	tel, err := NewTelemetry(DefaultConfig())
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}

	ctx := tel.WithContext(context.Background())
	ctx = WithRunContext(ctx, "run-9", "reconcile")

	op := StartOperation(ctx, "engine.reconcile")
	op.End(errors.New("boom"))

	EndRunContext(ctx, 1, errors.New("boom"))

	if got := testutil.ToFloat64(tel.Metrics.runsCompleted.WithLabelValues("reconcile", "1")); got != 1 {
		t.Errorf("runs completed = %v, want 1", got)
	}
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	op := StartOperation(context.Background(), "classify")
	if op.Logger == nil || op.Timer == nil {
		t.Fatal("StartOperation() should provide a logger and timer")
	}
	op.End(nil)

	EndRunContext(context.Background(), 0, nil)
}
