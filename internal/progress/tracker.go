// Package progress renders a record counter on stderr while a run loads.
package progress

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/johndauphine/target-databend/internal/logging"
)

// Tracker counts loaded records. A Tracker without a bar only counts.
type Tracker struct {
	bar       *progressbar.ProgressBar
	loaded    atomic.Int64
	startTime time.Time
}

// New creates a tracker. When show is true a spinner is drawn on w (stderr
// when w is nil); the total is unknown because records arrive as a stream.
func New(show bool, w io.Writer) *Tracker {
	t := &Tracker{startTime: time.Now()}
	if !show {
		return t
	}
	if w == nil {
		w = os.Stderr
	}
	t.bar = progressbar.NewOptions64(
		-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Loading"),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("records"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
	return t
}

// Add counts n records as loaded.
func (t *Tracker) Add(n int64) {
	t.loaded.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// Loaded returns the number of records loaded so far.
func (t *Tracker) Loaded() int64 {
	return t.loaded.Load()
}

// Finish stops the bar and logs the throughput.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	perSec := 0.0
	if elapsed > 0 {
		perSec = float64(t.loaded.Load()) / elapsed.Seconds()
	}
	logging.Info("Loaded %d records in %s (%.0f records/sec)",
		t.loaded.Load(), elapsed.Round(time.Millisecond), perSec)
}
