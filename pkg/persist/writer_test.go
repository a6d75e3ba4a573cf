package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/matzehuels/testmap/pkg/domain"
	"github.com/matzehuels/testmap/pkg/notify"
	"github.com/matzehuels/testmap/pkg/positions"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingRepo struct {
	positions.Repository

	mu      sync.Mutex
	calls   int
	last    []positions.Override
	project domain.ID
	err     error
	started chan struct{}
	release chan struct{}
}

func (r *recordingRepo) BulkUpsert(ctx context.Context, projectID domain.ID, overrides []positions.Override) error {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last = overrides
	r.project = projectID
	return r.err
}

func (r *recordingRepo) snapshot() (int, []positions.Override) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, r.last
}

func snap(x float64) []positions.Override {
	return []positions.Override{{NodeID: "a", X: x, Y: x}}
}

func newTestWriter(repo positions.Repository, opts Options) (*Writer, *ManualClock) {
	clock := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	opts.Clock = clock
	return NewWriter(repo, opts), clock
}

func TestWriterDebounceCoalesces(t *testing.T) {
	repo := &recordingRepo{}
	w, clock := newTestWriter(repo, Options{})
	defer w.Close()

	for i := 0; i < 10; i++ {
		w.Submit("p1", snap(float64(i)))
		clock.Advance(DefaultQuiet - time.Millisecond)
	}
	if calls, _ := repo.snapshot(); calls != 0 {
		t.Fatalf("write before quiet period elapsed: %d calls", calls)
	}

	clock.Advance(time.Millisecond)
	calls, last := repo.snapshot()
	if calls != 1 {
		t.Fatalf("calls = %d, want exactly 1", calls)
	}
	if last[0].X != 9 {
		t.Errorf("written snapshot X = %v, want last event 9", last[0].X)
	}
	if repo.project != "p1" {
		t.Errorf("project = %q, want p1", repo.project)
	}
}

func TestWriterSubmitCopiesSnapshot(t *testing.T) {
	repo := &recordingRepo{}
	w, clock := newTestWriter(repo, Options{})
	defer w.Close()

	s := snap(1)
	w.Submit("p1", s)
	s[0].X = 100
	clock.Advance(DefaultQuiet)
	if _, last := repo.snapshot(); last[0].X != 1 {
		t.Errorf("writer saw caller mutation: X = %v", last[0].X)
	}
}

func TestWriterStatusTransitions(t *testing.T) {
	var (
		mu       sync.Mutex
		statuses []Status
	)
	repo := &recordingRepo{}
	w, clock := newTestWriter(repo, Options{
		OnStatus: func(s Status) {
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
		},
	})
	defer w.Close()

	if w.Status() != StatusIdle {
		t.Fatalf("initial status = %v", w.Status())
	}
	w.Submit("p1", snap(1))
	clock.Advance(DefaultQuiet)
	if w.Status() != StatusSaved {
		t.Errorf("status after write = %v, want saved", w.Status())
	}
	clock.Advance(DefaultSavedWindow)
	if w.Status() != StatusIdle {
		t.Errorf("status after saved window = %v, want idle", w.Status())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusSaving, StatusSaved, StatusIdle}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("statuses[%d] = %v, want %v", i, statuses[i], want[i])
		}
	}
}

func TestWriterFailureNotifiesWithoutRetry(t *testing.T) {
	repo := &recordingRepo{err: errors.New("backend down")}
	rec := &notify.Recorder{}
	w, clock := newTestWriter(repo, Options{Notifier: rec})
	defer w.Close()

	w.Submit("p1", snap(1))
	clock.Advance(DefaultQuiet)

	if w.Status() != StatusError {
		t.Errorf("status = %v, want error", w.Status())
	}
	if w.Err() == nil {
		t.Error("Err() = nil after failed write")
	}
	if rec.Count(notify.SeverityError) != 1 {
		t.Errorf("error notifications = %d, want 1", rec.Count(notify.SeverityError))
	}

	clock.Advance(10 * DefaultQuiet)
	if calls, _ := repo.snapshot(); calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls)
	}
	if w.Status() != StatusError {
		t.Errorf("error status should persist, got %v", w.Status())
	}

	// The next change tries again.
	repo.mu.Lock()
	repo.err = nil
	repo.mu.Unlock()
	w.Submit("p1", snap(2))
	clock.Advance(DefaultQuiet)
	if calls, _ := repo.snapshot(); calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if w.Err() != nil {
		t.Errorf("Err() = %v after successful write", w.Err())
	}
}

func TestWriterSkipsWhileInFlight(t *testing.T) {
	repo := &recordingRepo{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	w, clock := newTestWriter(repo, Options{})
	defer w.Close()

	w.Submit("p1", snap(1))
	done := make(chan struct{})
	go func() {
		defer close(done)
		clock.Advance(DefaultQuiet)
	}()
	<-repo.started
	if w.Status() != StatusSaving {
		t.Errorf("status during write = %v, want saving", w.Status())
	}

	// A second flush while the first is in flight is skipped.
	w.Submit("p1", snap(2))
	clock.Advance(DefaultQuiet)
	select {
	case <-repo.started:
		t.Fatal("second write started while first in flight")
	default:
	}
	if !w.Pending() {
		t.Error("skipped snapshot should remain pending")
	}

	close(repo.release)
	<-done
	if calls, last := repo.snapshot(); calls != 1 || last[0].X != 1 {
		t.Fatalf("calls = %d, last X = %v; want 1 write of first snapshot", calls, last[0].X)
	}

	// The next debounce cycle picks up the latest state.
	repo.started = nil
	w.Submit("p1", snap(3))
	clock.Advance(DefaultQuiet)
	if calls, last := repo.snapshot(); calls != 2 || last[0].X != 3 {
		t.Errorf("calls = %d, last X = %v; want 2 writes ending with 3", calls, last[0].X)
	}
}

func TestWriterFlush(t *testing.T) {
	repo := &recordingRepo{}
	w, clock := newTestWriter(repo, Options{})
	defer w.Close()

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush with nothing pending: %v", err)
	}

	w.Submit("p1", snap(7))
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if calls, last := repo.snapshot(); calls != 1 || last[0].X != 7 {
		t.Errorf("calls = %d, last = %v", calls, last)
	}

	// The debounce timer was cancelled by Flush.
	clock.Advance(DefaultQuiet)
	if calls, _ := repo.snapshot(); calls != 1 {
		t.Errorf("calls = %d after flush + quiet, want 1", calls)
	}
}

func TestWriterEmptySnapshotIsNoop(t *testing.T) {
	repo := &recordingRepo{}
	w, clock := newTestWriter(repo, Options{})
	defer w.Close()

	w.Submit("p1", nil)
	clock.Advance(DefaultQuiet)
	if calls, _ := repo.snapshot(); calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
	if w.Status() != StatusIdle {
		t.Errorf("status = %v, want idle", w.Status())
	}
}

func TestWriterCloseDropsPending(t *testing.T) {
	repo := &recordingRepo{}
	w, clock := newTestWriter(repo, Options{})

	w.Submit("p1", snap(1))
	w.Close()
	w.Submit("p1", snap(2))
	clock.Advance(DefaultQuiet)
	if calls, _ := repo.snapshot(); calls != 0 {
		t.Errorf("calls = %d after Close, want 0", calls)
	}
	if clock.Pending() != 0 {
		t.Errorf("armed timers after Close = %d", clock.Pending())
	}
}

func TestWriterSystemClock(t *testing.T) {
	repo := &recordingRepo{}
	w := NewWriter(repo, Options{Quiet: 5 * time.Millisecond, SavedWindow: 5 * time.Millisecond})
	defer w.Close()

	w.Submit("p1", snap(1))
	w.Submit("p1", snap(2))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls, _ := repo.snapshot(); calls == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if calls, last := repo.snapshot(); calls != 1 || last[0].X != 2 {
		t.Fatalf("calls = %d, last = %v", calls, last)
	}
	// Let the saved-window timer drain before leak checking.
	time.Sleep(20 * time.Millisecond)
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		StatusIdle:   "idle",
		StatusSaving: "saving",
		StatusSaved:  "saved",
		StatusError:  "error",
		Status(42):   "status(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}
