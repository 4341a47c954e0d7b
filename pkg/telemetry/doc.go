// Package telemetry provides logging, tracing and metrics for the runner.
//
// # Streams
//
// Stdout is reserved for the job event stream consumed by the controller, so
// every telemetry sink here writes elsewhere: logs go to stderr or a file, the
// stdout span exporter writes to stderr, and metrics are exported at exit to
// a node_exporter textfile or a Pushgateway.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//	ctx = telemetry.WithRunContext(ctx, runID, "reconcile")
//	defer telemetry.EndRunContext(ctx, exitCode, err)
//
//	op := telemetry.StartOperation(ctx, "engine.reconcile")
//	result, err := reconciler.Reconcile(op.Ctx, req)
//	op.End(err)
//
// Operations started without a Telemetry in the context still get a logger
// and a timer, so instrumented code works in tests without setup.
package telemetry
