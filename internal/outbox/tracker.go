package outbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"go.uber.org/zap"
)

// Expirer is told about sends that outlived their deadline.
type Expirer interface {
	ExpireSend(tempID string) bool
}

// Entry is one in-flight optimistic send.
type Entry struct {
	TempID         string
	ConversationID string
	Deadline       time.Time
}

// Tracker watches optimistic sends and expires the ones nobody confirmed
// or rejected in time. Expired sends are reported to the Expirer, which
// marks them failed.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]Entry
	timeout time.Duration
	tick    time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker creates a tracker expiring sends after timeout.
func NewTracker(timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Tracker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tick := min(timeout/4, time.Second)
	return &Tracker{
		entries: make(map[string]Entry),
		timeout: timeout,
		tick:    tick,
		now:     time.Now,
		metrics: m,
		logger:  logging.OrNop(logger).Named("outbox"),
	}
}

// Track starts the clock for tempID. Tracking it again resets the deadline.
func (t *Tracker) Track(tempID, conversationID string) {
	t.mu.Lock()
	t.entries[tempID] = Entry{TempID: tempID, ConversationID: conversationID, Deadline: t.now().Add(t.timeout)}
	n := len(t.entries)
	t.mu.Unlock()
	t.metrics.SetPending(n)
}

// Untrack stops the clock for tempID. It reports whether it was tracked.
func (t *Tracker) Untrack(tempID string) bool {
	t.mu.Lock()
	_, ok := t.entries[tempID]
	delete(t.entries, tempID)
	n := len(t.entries)
	t.mu.Unlock()
	if ok {
		t.metrics.SetPending(n)
	}
	return ok
}

// Pending returns tracked sends ordered by deadline.
func (t *Tracker) Pending() []Entry {
	t.mu.Lock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.Unlock()
	slices.SortFunc(out, func(a, b Entry) int { return a.Deadline.Compare(b.Deadline) })
	return out
}

// Start runs the expiry loop until Stop or ctx cancellation.
func (t *Tracker) Start(ctx context.Context, exp Expirer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	go t.loop(ctx, exp, t.done)
}

// Stop stops the expiry loop and waits for it to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *Tracker) loop(ctx context.Context, exp Expirer, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Sweep(exp)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep expires every send past its deadline and returns how many the
// Expirer actually failed.
func (t *Tracker) Sweep(exp Expirer) int {
	now := t.now()
	var expired []Entry
	t.mu.Lock()
	for id, e := range t.entries {
		if !now.Before(e.Deadline) {
			expired = append(expired, e)
			delete(t.entries, id)
		}
	}
	n := len(t.entries)
	t.mu.Unlock()
	if len(expired) == 0 {
		return 0
	}
	t.metrics.SetPending(n)

	failed := 0
	for _, e := range expired {
		if exp.ExpireSend(e.TempID) {
			failed++
			t.logger.Warn("send timed out", zap.String("temp_id", e.TempID), zap.String("conversation_id", e.ConversationID))
		}
	}
	return failed
}
