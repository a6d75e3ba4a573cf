// Package persist writes node positions to a backing store in coalesced
// batches.
//
// A [Writer] debounces: every [Writer.Submit] replaces the pending snapshot
// and restarts a single quiet-period timer, so a continuous drag produces
// one write once the user stops. While a write is in flight, further timer
// flushes are skipped rather than queued, which keeps writes ordered
// without a lock around the store. Failures are reported through a
// [notify.Sink] and the status flag and are never retried; the next Submit
// carries the full state again.
package persist

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/testmap/pkg/domain"
	"github.com/matzehuels/testmap/pkg/notify"
	"github.com/matzehuels/testmap/pkg/observability"
	"github.com/matzehuels/testmap/pkg/positions"
)

// Defaults for [Options].
const (
	DefaultQuiet       = 2 * time.Second
	DefaultSavedWindow = 2 * time.Second
)

// Status is the writer's user-visible state.
type Status int

const (
	StatusIdle Status = iota
	StatusSaving
	StatusSaved
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSaving:
		return "saving"
	case StatusSaved:
		return "saved"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Options configures a Writer. Zero values select defaults.
type Options struct {
	// Quiet is the debounce period.
	Quiet time.Duration
	// SavedWindow is how long StatusSaved is shown before reverting to idle.
	SavedWindow time.Duration
	Clock       Clock
	Logger      *log.Logger
	Notifier    notify.Sink
	// OnStatus is called after every status change, outside the writer's
	// lock. It must not block.
	OnStatus func(Status)
}

func (o *Options) setDefaults() {
	if o.Quiet <= 0 {
		o.Quiet = DefaultQuiet
	}
	if o.SavedWindow <= 0 {
		o.SavedWindow = DefaultSavedWindow
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	if o.Notifier == nil {
		o.Notifier = notify.Discard{}
	}
}

// Writer is a debounced, skip-while-in-flight position writer.
type Writer struct {
	repo positions.Repository
	opts Options

	mu        sync.Mutex
	projectID domain.ID
	pending   []positions.Override
	dirty     bool
	timer     Timer
	timerSeq  uint64
	savedSeq  uint64
	inflight  chan struct{}
	status    Status
	lastErr   error
	closed    bool
}

// NewWriter returns a writer that saves into repo.
func NewWriter(repo positions.Repository, opts Options) *Writer {
	opts.setDefaults()
	return &Writer{repo: repo, opts: opts}
}

// Submit replaces the pending snapshot and restarts the quiet timer.
// The snapshot is copied.
func (w *Writer) Submit(projectID domain.ID, snapshot []positions.Override) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.projectID = projectID
	w.pending = slices.Clone(snapshot)
	w.dirty = true
	w.stopTimerLocked()
	seq := w.timerSeq
	w.timer = w.opts.Clock.AfterFunc(w.opts.Quiet, func() { w.fire(seq) })
}

// Flush writes the pending snapshot now, first waiting for any in-flight
// write. It returns nil when nothing is pending.
func (w *Writer) Flush(ctx context.Context) error {
	for {
		w.mu.Lock()
		if ch := w.inflight; ch != nil {
			w.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		w.stopTimerLocked()
		projectID, batch, ok := w.takeLocked()
		if !ok {
			w.mu.Unlock()
			return nil
		}
		w.beginLocked()
		w.mu.Unlock()
		return w.write(ctx, projectID, batch)
	}
}

// Close stops all timers. Pending changes are dropped; call Flush first to
// keep them.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.stopTimerLocked()
	w.savedSeq++
}

// Status returns the current status.
func (w *Writer) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Err returns the error of the last failed write, or nil.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Pending reports whether a snapshot is waiting to be written.
func (w *Writer) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

func (w *Writer) fire(seq uint64) {
	w.mu.Lock()
	if seq != w.timerSeq || w.closed {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	if w.inflight != nil {
		projectID := w.projectID
		w.mu.Unlock()
		w.opts.Logger.Debug("skipping position save, write in flight", "project", projectID)
		observability.Persist().OnFlushSkipped(context.Background(), projectID.String())
		return
	}
	projectID, batch, ok := w.takeLocked()
	if !ok {
		w.mu.Unlock()
		return
	}
	w.beginLocked()
	w.mu.Unlock()
	_ = w.write(context.Background(), projectID, batch)
}

func (w *Writer) stopTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerSeq++
}

// takeLocked removes the pending snapshot. An empty snapshot is consumed
// and reported as nothing to write.
func (w *Writer) takeLocked() (domain.ID, []positions.Override, bool) {
	if !w.dirty {
		return "", nil, false
	}
	batch := w.pending
	w.pending = nil
	w.dirty = false
	return w.projectID, batch, len(batch) > 0
}

func (w *Writer) beginLocked() {
	w.inflight = make(chan struct{})
	w.status = StatusSaving
	w.savedSeq++
}

func (w *Writer) write(ctx context.Context, projectID domain.ID, batch []positions.Override) error {
	w.emit(StatusSaving)
	observability.Persist().OnFlushStart(ctx, projectID.String(), len(batch))
	start := time.Now()

	err := w.repo.BulkUpsert(ctx, projectID, batch)

	observability.Persist().OnFlushComplete(ctx, projectID.String(), len(batch), time.Since(start), err)

	w.mu.Lock()
	close(w.inflight)
	w.inflight = nil
	var next Status
	if err != nil {
		next = StatusError
		w.lastErr = err
	} else {
		next = StatusSaved
		w.lastErr = nil
		seq := w.savedSeq
		if !w.closed {
			w.opts.Clock.AfterFunc(w.opts.SavedWindow, func() { w.revert(seq) })
		}
	}
	w.status = next
	w.mu.Unlock()

	if err != nil {
		w.opts.Logger.Error("failed to save node positions", "project", projectID, "count", len(batch), "err", err)
		w.opts.Notifier.Notify("Failed to save node positions", notify.SeverityError)
	} else {
		w.opts.Logger.Debug("saved node positions", "project", projectID, "count", len(batch))
	}
	w.emit(next)
	if err != nil {
		return fmt.Errorf("save positions: %w", err)
	}
	return nil
}

func (w *Writer) revert(seq uint64) {
	w.mu.Lock()
	if seq != w.savedSeq || w.status != StatusSaved {
		w.mu.Unlock()
		return
	}
	w.status = StatusIdle
	w.mu.Unlock()
	w.emit(StatusIdle)
}

func (w *Writer) emit(s Status) {
	if w.opts.OnStatus != nil {
		w.opts.OnStatus(s)
	}
}
