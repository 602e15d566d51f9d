package outbox

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"
)

type fakeExpirer struct {
	mu      sync.Mutex
	expired []string
	// known limits which temp ids still count as sending.
	known map[string]bool
}

func (f *fakeExpirer) ExpireSend(tempID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, tempID)
	return f.known == nil || f.known[tempID]
}

func (f *fakeExpirer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.expired)
}

func newTestTracker(timeout time.Duration) (*Tracker, *time.Time) {
	tr := NewTracker(timeout, nil, nil)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestSweepExpiresOnlyOverdue(t *testing.T) {
	tr, now := newTestTracker(30 * time.Second)
	tr.Track("t1", "c1")
	*now = now.Add(20 * time.Second)
	tr.Track("t2", "c1")

	exp := &fakeExpirer{}
	if n := tr.Sweep(exp); n != 0 {
		t.Fatalf("Sweep() = %d before any deadline", n)
	}

	*now = now.Add(10 * time.Second)
	if n := tr.Sweep(exp); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if got := exp.calls(); len(got) != 1 || got[0] != "t1" {
		t.Errorf("expired = %v, want [t1]", got)
	}
	pending := tr.Pending()
	if len(pending) != 1 || pending[0].TempID != "t2" {
		t.Errorf("Pending() = %+v, want only t2", pending)
	}
}

func TestUntrackPreventsExpiry(t *testing.T) {
	tr, now := newTestTracker(time.Second)
	tr.Track("t1", "c1")
	if !tr.Untrack("t1") {
		t.Fatal("Untrack() = false for tracked send")
	}
	if tr.Untrack("t1") {
		t.Error("Untrack() = true twice")
	}
	*now = now.Add(time.Hour)
	exp := &fakeExpirer{}
	tr.Sweep(exp)
	if got := exp.calls(); len(got) != 0 {
		t.Errorf("expired = %v, want none", got)
	}
}

// Regression: a send confirmed between the deadline and the sweep must not
// be counted as failed.
func TestSweepCountsOnlyWhatExpirerFailed(t *testing.T) {
	tr, now := newTestTracker(time.Second)
	tr.Track("t1", "c1")
	tr.Track("t2", "c1")
	*now = now.Add(2 * time.Second)

	exp := &fakeExpirer{known: map[string]bool{"t2": true}}
	if n := tr.Sweep(exp); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if len(tr.Pending()) != 0 {
		t.Error("expired sends must leave the tracker")
	}
}

func TestTrackResetsDeadline(t *testing.T) {
	tr, now := newTestTracker(10 * time.Second)
	tr.Track("t1", "c1")
	*now = now.Add(8 * time.Second)
	tr.Track("t1", "c1")
	*now = now.Add(8 * time.Second)
	if n := tr.Sweep(&fakeExpirer{}); n != 0 {
		t.Errorf("Sweep() = %d, retracked send expired early", n)
	}
}

func TestLoopExpires(t *testing.T) {
	tr := NewTracker(40*time.Millisecond, nil, nil)
	exp := &fakeExpirer{}
	tr.Start(context.Background(), exp)
	defer tr.Stop()

	tr.Track("t1", "c1")
	deadline := time.Now().Add(2 * time.Second)
	for len(exp.calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := exp.calls(); len(got) != 1 || got[0] != "t1" {
		t.Fatalf("expired = %v, want [t1]", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	tr := NewTracker(time.Second, nil, nil)
	tr.Stop()
	tr.Start(context.Background(), &fakeExpirer{})
	tr.Stop()
	tr.Stop()
}
