package wire

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Encoder writes frames to the worker's stdin. A mutex serializes writes so
// concurrent callers (query goroutine, permission responder, cancel) never
// interleave bytes within a line.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v, appends the line terminator and writes the frame in a
// single Write call.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Decode parses a single line from the worker. The trailing newline (and any
// surrounding whitespace) is tolerated. Lines that are not JSON objects or
// carry no type are rejected; callers log and skip.
func Decode(line string) (*Message, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty line")
	}
	if !strings.HasPrefix(line, "{") {
		return nil, fmt.Errorf("not a JSON object")
	}

	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return &msg, nil
}
