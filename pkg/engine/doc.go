// Package engine defines the boundary between the runner and the reconciliation engine.
//
// # Overview
//
// The reconciliation engine is an observe/act loop that drives a set of hosts
// toward a free-text desired state. The runner never inspects how the engine
// decides what to do; it only consumes what the engine reports:
//
//   - Event: a native progress notification (module_start, module_complete,
//     module_output, log, or any other discriminator)
//   - Result: the terminal record of a reconcile call, carrying the converged flag
//   - EngineError: a classified failure (transient, permanent, protocol)
//
// # Reconciler Interface
//
//	type Reconciler interface {
//	    Reconcile(ctx context.Context, req Request) (*Result, error)
//	}
//
// Events are delivered synchronously through Request.OnEvent in the order the
// engine emits them. Confirmation requests are resolved by Request.AskUser;
// automation contexts use AskUserNonInteractive, which declines immediately.
//
// # Process Engine
//
// ProcessReconciler runs the engine as a child process and speaks the
// JSON-lines protocol in the protocol subpackage:
//
//	runner -> engine:  RECONCILE, ANSWER
//	engine -> runner:  EVENT, ASK, RESULT, ERROR
//
// The engine's stderr is forwarded untouched. A stream that ends without a
// RESULT, a non-zero exit status, or an ERROR message all surface as errors.
package engine
