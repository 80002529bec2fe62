package target

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats tracks totals for a run. Flushes of different streams update it
// concurrently.
type Stats struct {
	received  atomic.Int64
	loaded    atomic.Int64
	batches   atomic.Int64
	failed    atomic.Int64
	writeTime atomic.Int64 // nanoseconds
	states    atomic.Int64
}

// Received is the number of RECORD messages read.
func (s *Stats) Received() int64 { return s.received.Load() }

// Loaded is the number of records inserted.
func (s *Stats) Loaded() int64 { return s.loaded.Load() }

// Batches is the number of successful flushes.
func (s *Stats) Batches() int64 { return s.batches.Load() }

// FailedBatches is the number of failed flushes.
func (s *Stats) FailedBatches() int64 { return s.failed.Load() }

// StatesEmitted is the number of STATE lines written.
func (s *Stats) StatesEmitted() int64 { return s.states.Load() }

// WriteTime is the total time spent in flushes. Concurrent flushes add up,
// so it can exceed the wall time of the run.
func (s *Stats) WriteTime() time.Duration { return time.Duration(s.writeTime.Load()) }

// RecordsPerSecond calculates the write throughput.
func (s *Stats) RecordsPerSecond() float64 {
	wt := s.WriteTime()
	if wt == 0 {
		return 0
	}
	return float64(s.Loaded()) / wt.Seconds()
}

func (s *Stats) recordFlush(rows int, d time.Duration, err error) {
	s.writeTime.Add(int64(d))
	if err != nil {
		s.failed.Add(1)
		return
	}
	s.batches.Add(1)
	s.loaded.Add(int64(rows))
}

// String returns a formatted summary of the stats.
func (s *Stats) String() string {
	if s.Received() == 0 && s.Batches() == 0 {
		return "no data"
	}
	return fmt.Sprintf("received=%d, loaded=%d, batches=%d, failed=%d, write=%.1fs (%.0f records/sec), states=%d",
		s.Received(), s.Loaded(), s.Batches(), s.FailedBatches(),
		s.WriteTime().Seconds(), s.RecordsPerSecond(), s.StatesEmitted())
}
