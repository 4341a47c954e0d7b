package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Encoder writes protocol messages to an io.Writer, one JSON object per line.
type Encoder struct {
	w   *bufio.Writer
	now func() time.Time
}

// NewEncoder creates a new protocol encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   bufio.NewWriter(w),
		now: time.Now,
	}
}

// Encode writes a message to the output stream and flushes it.
func (e *Encoder) Encode(msgType MessageType, data interface{}) error {
	if err := msgType.Validate(); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	var dataBytes []byte
	var err error
	if data != nil {
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
	}

	msg := Message{
		Type:      msgType,
		Timestamp: e.now().UTC(),
		Data:      dataBytes,
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := e.w.Write(msgBytes); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return nil
}

// EncodeReconcile sends a RECONCILE message.
func (e *Encoder) EncodeReconcile(msg *ReconcileMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid reconcile: %w", err)
	}
	return e.Encode(MessageTypeReconcile, msg)
}

// EncodeAnswer sends an ANSWER message.
func (e *Encoder) EncodeAnswer(msg *AnswerMessage) error {
	return e.Encode(MessageTypeAnswer, msg)
}

// EncodeEvent sends an EVENT message carrying a raw native event.
func (e *Encoder) EncodeEvent(event map[string]interface{}) error {
	return e.Encode(MessageTypeEvent, event)
}

// EncodeAsk sends an ASK message.
func (e *Encoder) EncodeAsk(msg *AskMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid ask: %w", err)
	}
	return e.Encode(MessageTypeAsk, msg)
}

// EncodeResult sends a RESULT message.
func (e *Encoder) EncodeResult(msg *ResultMessage) error {
	return e.Encode(MessageTypeResult, msg)
}

// EncodeError sends an ERROR message.
func (e *Encoder) EncodeError(msg *ErrorMessage) error {
	return e.Encode(MessageTypeError, msg)
}

// Decoder reads protocol messages from an io.Reader.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder creates a new protocol decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	// Module results can carry large command output.
	const maxCapacity = 10 * 1024 * 1024 // 10 MB
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxCapacity)
	return &Decoder{
		r: scanner,
	}
}

// Decode reads the next message from the input stream.
// Blank lines are skipped. io.EOF is returned unwrapped at end of stream.
func (d *Decoder) Decode() (*Message, error) {
	for {
		if !d.r.Scan() {
			if err := d.r.Err(); err != nil {
				return nil, fmt.Errorf("scan error: %w", err)
			}
			return nil, io.EOF
		}

		line := d.r.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}

		if err := msg.Type.Validate(); err != nil {
			return nil, fmt.Errorf("invalid message: %w", err)
		}

		return &msg, nil
	}
}

// DecodeReconcile decodes a RECONCILE message.
func (d *Decoder) DecodeReconcile() (*ReconcileMessage, error) {
	msg, err := d.Decode()
	if err != nil {
		return nil, err
	}

	if msg.Type != MessageTypeReconcile {
		return nil, fmt.Errorf("expected RECONCILE message, got %s", msg.Type)
	}

	var rec ReconcileMessage
	if err := ParseParams(msg.Data, &rec); err != nil {
		return nil, err
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reconcile: %w", err)
	}

	return &rec, nil
}

// ParseParams parses message data into a specific type.
func ParseParams(params json.RawMessage, target interface{}) error {
	if len(params) == 0 {
		return fmt.Errorf("failed to parse params: empty data")
	}
	if err := json.Unmarshal(params, target); err != nil {
		return fmt.Errorf("failed to parse params: %w", err)
	}
	return nil
}
