// Package singer decodes the newline-delimited JSON messages a Singer tap
// writes to its stdout.
package singer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/johndauphine/target-databend/internal/schema"
)

// MessageType is the "type" field of a message.
type MessageType string

const (
	TypeSchema          MessageType = "SCHEMA"
	TypeRecord          MessageType = "RECORD"
	TypeState           MessageType = "STATE"
	TypeActivateVersion MessageType = "ACTIVATE_VERSION"
)

// maxLineSize bounds a single message.
const maxLineSize = 64 << 20

// Record is one row. Numbers are kept as json.Number so integers survive
// unchanged.
type Record map[string]any

// Message is a decoded Singer message. Which fields are set depends on Type.
type Message struct {
	Type          MessageType
	Stream        string
	Schema        *schema.StreamSchema // SCHEMA
	KeyProperties []string             // SCHEMA
	Record        Record               // RECORD
	Value         json.RawMessage      // STATE
	Version       int64                // ACTIVATE_VERSION
}

type envelope struct {
	Type          MessageType     `json:"type"`
	Stream        string          `json:"stream"`
	Schema        json.RawMessage `json:"schema"`
	KeyProperties []string        `json:"key_properties"`
	Record        json.RawMessage `json:"record"`
	Value         json.RawMessage `json:"value"`
	Version       int64           `json:"version"`
}

// Reader reads messages one line at a time.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{sc: sc}
}

// Next returns the next message, or io.EOF when the input is exhausted.
// Blank lines are skipped.
func (r *Reader) Next() (*Message, error) {
	for r.sc.Scan() {
		r.line++
		line := bytes.TrimSpace(r.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, err := Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		return msg, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return nil, io.EOF
}

// Parse decodes a single message.
func Parse(line []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	msg := &Message{Type: env.Type, Stream: env.Stream}
	switch env.Type {
	case TypeSchema:
		if env.Stream == "" {
			return nil, errors.New("SCHEMA message without stream")
		}
		if len(env.Schema) == 0 {
			return nil, fmt.Errorf("SCHEMA message for %q without schema", env.Stream)
		}
		var s schema.StreamSchema
		if err := json.Unmarshal(env.Schema, &s); err != nil {
			return nil, fmt.Errorf("schema for %q: %w", env.Stream, err)
		}
		s.KeyProperties = env.KeyProperties
		msg.Schema = &s
		msg.KeyProperties = env.KeyProperties

	case TypeRecord:
		if env.Stream == "" {
			return nil, errors.New("RECORD message without stream")
		}
		dec := json.NewDecoder(bytes.NewReader(env.Record))
		dec.UseNumber()
		if err := dec.Decode(&msg.Record); err != nil {
			return nil, fmt.Errorf("record for %q: %w", env.Stream, err)
		}
		if msg.Record == nil {
			return nil, fmt.Errorf("RECORD message for %q without record", env.Stream)
		}

	case TypeState:
		msg.Value = env.Value

	case TypeActivateVersion:
		msg.Version = env.Version

	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	return msg, nil
}
