package awx

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
)

var (
	envelopePattern = regexp.MustCompile(`\x1b\[K((?:[A-Za-z0-9+/=]+\x1b\[\d+D)+)\x1b\[K`)
	cursorPattern   = regexp.MustCompile(`\x1b\[\d+D`)
)

// DecodeEnvelope extracts the job event from a single envelope.
func DecodeEnvelope(envelope []byte) (*JobEvent, error) {
	m := envelopePattern.FindSubmatch(envelope)
	if m == nil {
		return nil, fmt.Errorf("no event envelope found")
	}
	return decodeChunks(m[1])
}

func decodeChunks(chunks []byte) (*JobEvent, error) {
	encoded := cursorPattern.ReplaceAll(chunks, nil)

	payload := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(payload, encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode event payload: %w", err)
	}

	var ev JobEvent
	if err := json.Unmarshal(payload[:n], &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job event: %w", err)
	}
	return &ev, nil
}

// ParseStream extracts every job event from an output stream.
//
// Envelopes come in pairs around the event's stdout text; the text between a
// pair is attached to the event as Stdout. Text outside envelope pairs is
// ignored.
func ParseStream(data []byte) ([]*JobEvent, error) {
	matches := envelopePattern.FindAllSubmatchIndex(data, -1)
	if len(matches)%2 != 0 {
		return nil, fmt.Errorf("unpaired event envelope: found %d envelopes", len(matches))
	}

	events := make([]*JobEvent, 0, len(matches)/2)
	for i := 0; i < len(matches); i += 2 {
		open, closing := matches[i], matches[i+1]

		if !bytes.Equal(data[open[0]:open[1]], data[closing[0]:closing[1]]) {
			return nil, fmt.Errorf("mismatched envelope pair at offset %d", open[0])
		}

		ev, err := decodeChunks(data[open[2]:open[3]])
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i/2+1, err)
		}
		ev.Stdout = string(data[open[1]:closing[0]])
		events = append(events, ev)
	}

	return events, nil
}
