// Package sink buffers the records of one stream and flushes them to the
// warehouse as a single batch.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/johndauphine/target-databend/internal/driver/databend"
	"github.com/johndauphine/target-databend/internal/logging"
	"github.com/johndauphine/target-databend/internal/schema"
	"github.com/johndauphine/target-databend/internal/singer"
)

// DefaultMaxSize is the number of records per batch.
const DefaultMaxSize = 10000

// State is the buffer state of a sink.
type State int

const (
	Empty State = iota
	Accumulating
	Flushing
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Accumulating:
		return "accumulating"
	case Flushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Warehouse is the part of the Databend writer a sink needs.
type Warehouse interface {
	EnsureTable(ctx context.Context, id databend.TableIdentifier, s *schema.StreamSchema) error
	InsertBatch(ctx context.Context, id databend.TableIdentifier, columns []string, rows [][]any) (int64, error)
}

// Sink owns the buffer of one stream. It is not safe for concurrent use; the
// caller decides when to flush, typically when IsFull reports true.
type Sink struct {
	stream  string
	table   databend.TableIdentifier
	schema  *schema.StreamSchema
	maxSize int
	wh      Warehouse

	records []singer.Record
	state   State
	oldest  time.Time
}

// New creates the sink of stream, writing into database. The table
// identifier is resolved here, so an unusable stream name fails early.
func New(stream, database string, s *schema.StreamSchema, maxSize int, wh Warehouse) (*Sink, error) {
	id, err := databend.NewTableIdentifier(stream, database)
	if err != nil {
		return nil, err
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Sink{
		stream:  stream,
		table:   id,
		schema:  s,
		maxSize: maxSize,
		wh:      wh,
	}, nil
}

// Stream returns the stream name.
func (s *Sink) Stream() string { return s.stream }

// Table returns the destination table.
func (s *Sink) Table() databend.TableIdentifier { return s.table }

// Schema returns the schema the next flush will use.
func (s *Sink) Schema() *schema.StreamSchema { return s.schema }

// SetSchema replaces the schema used by later flushes. An existing table is
// never altered to match it.
func (s *Sink) SetSchema(sc *schema.StreamSchema) { s.schema = sc }

// State returns the buffer state.
func (s *Sink) State() State { return s.state }

// Len returns the number of buffered records.
func (s *Sink) Len() int { return len(s.records) }

// IsFull reports whether the buffer reached the batch size.
func (s *Sink) IsFull() bool { return len(s.records) >= s.maxSize }

// OldestAt returns when the oldest buffered record arrived, or the zero time
// for an empty buffer.
func (s *Sink) OldestAt() time.Time { return s.oldest }

// Append buffers a record.
func (s *Sink) Append(rec singer.Record) {
	if s.state == Empty {
		s.state = Accumulating
		s.records = make([]singer.Record, 0, min(s.maxSize, 1024))
		s.oldest = time.Now()
	}
	s.records = append(s.records, rec)
}

// Flush writes the buffered records as one INSERT, creating the table first
// when needed, and returns the number of records written. An empty buffer is
// a no-op. On failure the records stay buffered.
func (s *Sink) Flush(ctx context.Context) (int, error) {
	if len(s.records) == 0 {
		return 0, nil
	}
	s.state = Flushing

	columns := s.schema.Columns()
	if err := databend.CheckNames("column", columns...); err != nil {
		s.state = Accumulating
		return 0, fmt.Errorf("stream %q: %w", s.stream, err)
	}

	if err := s.wh.EnsureTable(ctx, s.table, s.schema); err != nil {
		s.state = Accumulating
		return 0, fmt.Errorf("stream %q: %w", s.stream, err)
	}

	rows := make([][]any, len(s.records))
	for i, rec := range s.records {
		rows[i] = alignRecord(rec, columns)
	}

	if _, err := s.wh.InsertBatch(ctx, s.table, columns, rows); err != nil {
		s.state = Accumulating
		return 0, fmt.Errorf("stream %q: %w", s.stream, err)
	}

	n := len(s.records)
	s.records = nil
	s.oldest = time.Time{}
	s.state = Empty
	logging.Debug("Flushed %d records of %s to %s", n, s.stream, s.table.Quoted())
	return n, nil
}

// alignRecord lays a record out in column order. Keys outside the schema are
// dropped and missing columns are sent as NULL.
func alignRecord(rec singer.Record, columns []string) []any {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = rec[c]
	}
	return row
}
