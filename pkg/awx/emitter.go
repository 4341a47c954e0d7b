package awx

import (
	"fmt"
	"io"
	"strings"
)

// Emitter writes job events to an output stream.
//
// Each event is written as opening envelope, stdout text terminated by a
// newline, then the identical envelope again. Emitter is not safe for
// concurrent use; events are emitted from a single goroutine in order.
type Emitter struct {
	w io.Writer
}

// NewEmitter creates an emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit encodes ev and writes it with its stdout text.
func (e *Emitter) Emit(ev *JobEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid job event: %w", err)
	}

	envelope, err := Encode(ev)
	if err != nil {
		return err
	}

	if _, err := e.w.Write(envelope); err != nil {
		return fmt.Errorf("failed to write event envelope: %w", err)
	}

	if ev.Stdout != "" {
		text := ev.Stdout
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		if _, err := io.WriteString(e.w, text); err != nil {
			return fmt.Errorf("failed to write event stdout: %w", err)
		}
	}

	if _, err := e.w.Write(envelope); err != nil {
		return fmt.Errorf("failed to write event envelope: %w", err)
	}

	if f, ok := e.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("failed to flush event: %w", err)
		}
	}

	return nil
}
