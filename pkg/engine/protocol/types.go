// Package protocol defines the JSON-lines communication protocol between the
// runner and an external reconciliation engine process.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeReconcile starts a reconcile call (runner to engine)
	MessageTypeReconcile MessageType = "RECONCILE"
	// MessageTypeAnswer resolves a confirmation request (runner to engine)
	MessageTypeAnswer MessageType = "ANSWER"
	// MessageTypeEvent carries one native progress event (engine to runner)
	MessageTypeEvent MessageType = "EVENT"
	// MessageTypeAsk requests confirmation from the runner (engine to runner)
	MessageTypeAsk MessageType = "ASK"
	// MessageTypeResult is the terminal reconcile result (engine to runner)
	MessageTypeResult MessageType = "RESULT"
	// MessageTypeError indicates the engine failed (engine to runner)
	MessageTypeError MessageType = "ERROR"
)

// Message is the base message structure for all protocol messages.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReconcileMessage asks the engine to drive the hosts to a desired state.
type ReconcileMessage struct {
	DesiredState string `json:"desired_state"`
	Inventory    string `json:"inventory,omitempty"`
	Quiet        bool   `json:"quiet"`
}

// AskMessage is a confirmation request raised by the engine.
type AskMessage struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// AnswerMessage resolves an AskMessage.
type AnswerMessage struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
}

// ResultMessage is the engine's terminal record.
type ResultMessage struct {
	Converged  bool   `json:"converged"`
	Iterations int    `json:"iterations,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// ErrorMessage reports an engine-level failure.
type ErrorMessage struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReconcile, MessageTypeAnswer, MessageTypeEvent,
		MessageTypeAsk, MessageTypeResult, MessageTypeError:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the reconcile message is valid.
func (m *ReconcileMessage) Validate() error {
	if m.DesiredState == "" {
		return fmt.Errorf("desired_state is required")
	}
	return nil
}

// Validate checks if the ask message is valid.
func (m *AskMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("ask id is required")
	}
	return nil
}

// Validate checks if the error message is valid.
func (m *ErrorMessage) Validate() error {
	if m.Message == "" {
		return fmt.Errorf("error message is required")
	}
	return nil
}
