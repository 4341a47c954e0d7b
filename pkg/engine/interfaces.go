package engine

import (
	"context"
	"fmt"
)

// EventHandler receives native events synchronously, in emission order.
// It must not block on the engine.
type EventHandler func(Event)

// AskUserFunc resolves a confirmation request raised by the engine.
type AskUserFunc func(question string) string

// AnswerDeclined is the answer returned by AskUserNonInteractive.
const AnswerDeclined = "no"

// AskUserNonInteractive is the confirmation policy for automation contexts.
// It declines every request immediately and never waits for input.
func AskUserNonInteractive(question string) string {
	return AnswerDeclined
}

// Request is the input to one reconcile call.
type Request struct {
	// DesiredState is the free-text description of the target condition.
	DesiredState string

	// Inventory is an optional inventory path passed through to the engine.
	Inventory string

	// AskUser resolves engine confirmation requests. Nil means AskUserNonInteractive.
	AskUser AskUserFunc

	// Quiet suppresses the engine's own console output.
	Quiet bool

	// OnEvent receives every native event. May be nil.
	OnEvent EventHandler
}

// Validate checks the request before it is handed to an engine.
func (r *Request) Validate() error {
	if r.DesiredState == "" {
		return fmt.Errorf("desired state is required")
	}
	return nil
}

// Reconciler runs the reconciliation engine until convergence or exhaustion.
type Reconciler interface {
	// Reconcile drives the engine for one desired state and returns its terminal result.
	Reconcile(ctx context.Context, req Request) (*Result, error)
}

// ReconcilerFunc adapts an ordinary function to the Reconciler interface.
type ReconcilerFunc func(ctx context.Context, req Request) (*Result, error)

// Reconcile calls f(ctx, req).
func (f ReconcilerFunc) Reconcile(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
