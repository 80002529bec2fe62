// Package target drives a load: it reads Singer messages, routes records to
// one sink per stream, drains the sinks into Databend and emits STATE once the
// records before it are stored.
package target

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/johndauphine/target-databend/internal/checkpoint"
	"github.com/johndauphine/target-databend/internal/logging"
	"github.com/johndauphine/target-databend/internal/progress"
	"github.com/johndauphine/target-databend/internal/singer"
	"github.com/johndauphine/target-databend/internal/sink"
)

const (
	DefaultMaxBatchAge    = 5 * time.Minute
	DefaultMaxParallelism = 8
)

// Options configures a Target.
type Options struct {
	Database       string
	BatchSize      int
	MaxBatchAge    time.Duration
	MaxParallelism int

	// History is optional. When set every run and flush is recorded.
	History checkpoint.HistoryBackend

	// Progress is optional.
	Progress *progress.Tracker

	// StateOut receives STATE values, one per line. Defaults to stdout.
	StateOut io.Writer
}

// Target loads one Singer stream of messages into Databend.
type Target struct {
	opts  Options
	wh    sink.Warehouse
	runID string
	stats Stats

	sinks map[string]*sink.Sink

	pendingState json.RawMessage
	lastState    []byte

	now func() time.Time
}

// New creates a Target writing through wh.
func New(wh sink.Warehouse, opts Options) *Target {
	if opts.BatchSize <= 0 {
		opts.BatchSize = sink.DefaultMaxSize
	}
	if opts.MaxBatchAge <= 0 {
		opts.MaxBatchAge = DefaultMaxBatchAge
	}
	if opts.MaxParallelism <= 0 {
		opts.MaxParallelism = DefaultMaxParallelism
	}
	if opts.StateOut == nil {
		opts.StateOut = os.Stdout
	}
	if opts.Progress == nil {
		opts.Progress = progress.New(false, nil)
	}
	return &Target{
		opts:  opts,
		wh:    wh,
		runID: uuid.New().String(),
		sinks: make(map[string]*sink.Sink),
		now:   time.Now,
	}
}

// RunID identifies this run in the history.
func (t *Target) RunID() string { return t.runID }

// Stats returns the run totals.
func (t *Target) Stats() *Stats { return &t.stats }

// Run processes r and records the run in the history when one is configured.
func (t *Target) Run(ctx context.Context, r *singer.Reader) error {
	if h := t.opts.History; h != nil {
		if err := h.CreateRun(t.runID); err != nil {
			return fmt.Errorf("recording run start: %w", err)
		}
	}
	logging.Info("Starting run %s into database %s", t.runID, t.opts.Database)

	err := t.Process(ctx, r)
	t.opts.Progress.Finish()

	if h := t.opts.History; h != nil {
		status, msg := checkpoint.StatusSuccess, ""
		if err != nil {
			status, msg = checkpoint.StatusFailed, err.Error()
		}
		if herr := h.CompleteRun(t.runID, status, msg); herr != nil {
			logging.Warn("Failed to record run completion: %v", herr)
		}
	}

	if err != nil {
		return err
	}
	logging.Info("Run %s complete: %s", t.runID, t.stats.String())
	return nil
}

// Process reads messages until the input ends, then drains every sink and
// emits the last STATE. It stops at the first error.
func (t *Target) Process(ctx context.Context, r *singer.Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := t.handle(ctx, msg); err != nil {
			return err
		}
	}
	return t.DrainAll(ctx)
}

func (t *Target) handle(ctx context.Context, msg *singer.Message) error {
	switch msg.Type {
	case singer.TypeSchema:
		return t.handleSchema(ctx, msg)
	case singer.TypeRecord:
		return t.handleRecord(ctx, msg)
	case singer.TypeState:
		return t.handleState(msg)
	case singer.TypeActivateVersion:
		logging.Debug("Ignoring ACTIVATE_VERSION %d for %s", msg.Version, msg.Stream)
	}
	return nil
}

func (t *Target) handleSchema(ctx context.Context, msg *singer.Message) error {
	s, ok := t.sinks[msg.Stream]
	if !ok {
		s, err := sink.New(msg.Stream, t.opts.Database, msg.Schema, t.opts.BatchSize, t.wh)
		if err != nil {
			return err
		}
		t.sinks[msg.Stream] = s
		logging.Debug("Registered stream %s -> %s", msg.Stream, s.Table().Quoted())
		return nil
	}

	if s.Schema().Equal(msg.Schema) {
		return nil
	}
	if s.Len() > 0 {
		logging.Info("Schema of %s changed, flushing %d pending records", msg.Stream, s.Len())
		if err := t.flush(ctx, s); err != nil {
			return err
		}
	}
	s.SetSchema(msg.Schema)
	return nil
}

func (t *Target) handleRecord(ctx context.Context, msg *singer.Message) error {
	s, ok := t.sinks[msg.Stream]
	if !ok {
		return fmt.Errorf("record for stream %q received before its schema", msg.Stream)
	}
	s.Append(msg.Record)
	t.stats.received.Add(1)

	if s.IsFull() {
		if err := t.flush(ctx, s); err != nil {
			return err
		}
	}
	if t.oldestAge() > t.opts.MaxBatchAge {
		logging.Debug("Oldest buffered record exceeded %s, draining all streams", t.opts.MaxBatchAge)
		return t.DrainAll(ctx)
	}
	return nil
}

func (t *Target) handleState(msg *singer.Message) error {
	if v := bytes.TrimSpace(msg.Value); len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return nil
	}
	t.pendingState = msg.Value
	if t.allEmpty() {
		return t.emitState()
	}
	return nil
}

// DrainAll flushes every sink holding records. Sinks are flushed
// concurrently, each through its own session.
func (t *Target) DrainAll(ctx context.Context) error {
	pending := make([]*sink.Sink, 0, len(t.sinks))
	for _, s := range t.sinks {
		if s.Len() > 0 {
			pending = append(pending, s)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Stream() < pending[j].Stream() })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.MaxParallelism)
	for _, s := range pending {
		s := s
		g.Go(func() error {
			return t.flushOne(gctx, s)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return t.emitState()
}

// flush drains a single sink and emits STATE when nothing else is buffered.
func (t *Target) flush(ctx context.Context, s *sink.Sink) error {
	if err := t.flushOne(ctx, s); err != nil {
		return err
	}
	if t.allEmpty() {
		return t.emitState()
	}
	return nil
}

func (t *Target) flushOne(ctx context.Context, s *sink.Sink) error {
	start := time.Now()
	n, err := s.Flush(ctx)
	elapsed := time.Since(start)
	if n == 0 && err == nil {
		return nil
	}
	rows := n
	if err != nil {
		rows = s.Len()
	}
	t.stats.recordFlush(rows, elapsed, err)
	if err == nil {
		t.opts.Progress.Add(int64(n))
	}

	if h := t.opts.History; h != nil {
		b := checkpoint.Batch{
			RunID:     t.runID,
			Stream:    s.Stream(),
			Table:     s.Table().String(),
			Rows:      rows,
			StartedAt: start,
			Duration:  elapsed,
			Status:    checkpoint.StatusSuccess,
		}
		if err != nil {
			b.Status = checkpoint.StatusFailed
			b.Error = err.Error()
		}
		if herr := h.RecordBatch(b); herr != nil {
			logging.Warn("Failed to record batch of %s: %v", s.Stream(), herr)
		}
	}
	return err
}

func (t *Target) allEmpty() bool {
	for _, s := range t.sinks {
		if s.Len() > 0 {
			return false
		}
	}
	return true
}

func (t *Target) oldestAge() time.Duration {
	var oldest time.Time
	for _, s := range t.sinks {
		at := s.OldestAt()
		if at.IsZero() {
			continue
		}
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return t.now().Sub(oldest)
}

// emitState writes the pending STATE value, skipping repeats of the last
// one written.
func (t *Target) emitState() error {
	if t.pendingState == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, t.pendingState); err != nil {
		return fmt.Errorf("invalid state value: %w", err)
	}
	t.pendingState = nil
	if bytes.Equal(buf.Bytes(), t.lastState) {
		return nil
	}
	t.lastState = append(t.lastState[:0], buf.Bytes()...)

	buf.WriteByte('\n')
	if _, err := t.opts.StateOut.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	t.stats.states.Add(1)
	logging.Debug("Emitted state: %s", t.lastState)
	return nil
}
