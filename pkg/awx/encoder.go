package awx

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// ChunkWidth is the maximum number of base64 characters per envelope chunk.
const ChunkWidth = 78

const (
	eraseLine = "\x1b[K"
	csi       = "\x1b["
)

// Encode serializes ev and wraps it in the ANSI envelope:
//
//	ESC[K  chunk1 ESC[<len1>D  chunk2 ESC[<len2>D ...  ESC[K
//
// Each chunk is at most ChunkWidth characters and is followed by a
// cursor-back sequence equal to its length.
func Encode(ev *JobEvent) ([]byte, error) {
	payload, err := marshalEvent(ev)
	if err != nil {
		return nil, err
	}
	return frame(base64.StdEncoding.EncodeToString(payload)), nil
}

func marshalEvent(ev *JobEvent) ([]byte, error) {
	out := *ev
	if out.EventData == nil {
		out.EventData = map[string]interface{}{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&out); err != nil {
		return nil, fmt.Errorf("failed to marshal job event: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func frame(encoded string) []byte {
	var b bytes.Buffer
	b.Grow(len(encoded) + len(encoded)/ChunkWidth*6 + 16)

	b.WriteString(eraseLine)
	for off := 0; off < len(encoded); off += ChunkWidth {
		end := min(off+ChunkWidth, len(encoded))
		chunk := encoded[off:end]
		b.WriteString(chunk)
		b.WriteString(csi)
		b.WriteString(strconv.Itoa(len(chunk)))
		b.WriteByte('D')
	}
	b.WriteString(eraseLine)

	return b.Bytes()
}
