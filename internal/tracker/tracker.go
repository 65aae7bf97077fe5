package tracker

import (
	"context"
	"sync"
	"time"

	"meshbridge/internal/logger"
	"meshbridge/pkg/metrics"
)

// Entry is the tracker's record of one message id. Forwarded only ever
// moves false to true; ForwardCount is the number of successful sends.
type Entry struct {
	ID           string    `json:"id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Text         string    `json:"text"`
	Channel      int       `json:"channel"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	Forwarded    bool      `json:"forwarded"`
	ForwardCount int       `json:"forward_count"`
}

type Stats struct {
	CurrentSize    int    `json:"current_size"`
	TotalRecorded  uint64 `json:"total_recorded"`
	TotalForwarded uint64 `json:"total_forwarded"`
}

// Tracker is the bounded, time-windowed dedup cache behind the router.
// The same packet id can be observed more than once (retransmission,
// store-and-forward mesh behavior, arrival on a second link); the tracker
// answers whether an id has already been processed within the window.
//
// Entries are bounded two ways: nothing older than maxAge survives, and
// the live set never exceeds maxMessages after Record returns. Eviction is
// oldest-first; entries are insertion-ordered, and first-seen time never
// changes, so trimming from the front of the order list covers both
// bounds.
type Tracker struct {
	mu          sync.RWMutex
	entries     map[string]*Entry
	order       []string
	maxAge      time.Duration
	maxMessages int

	totalRecorded  uint64
	totalForwarded uint64

	logger logger.Logger
	now    func() time.Time
}

func New(maxAge time.Duration, maxMessages int, log logger.Logger) *Tracker {
	return &Tracker{
		entries:     make(map[string]*Entry),
		order:       make([]string, 0, maxMessages),
		maxAge:      maxAge,
		maxMessages: maxMessages,
		logger:      log,
		now:         time.Now,
	}
}

// Seen reports whether id has a live (not yet evicted, not expired)
// entry. Side-effect free.
func (t *Tracker) Seen(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[id]
	if !ok {
		return false
	}
	return t.now().Sub(e.FirstSeenAt) <= t.maxAge
}

// Record inserts a new entry for id, first purging anything expired at
// now and then evicting oldest entries until the capacity bound holds.
// If id is already live the existing entry is returned unchanged; first
// write wins.
func (t *Tracker) Record(id, from, to, text string, channel int, now time.Time) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.purgeLocked(now)

	if e, ok := t.entries[id]; ok {
		return *e
	}

	e := &Entry{
		ID:          id,
		From:        from,
		To:          to,
		Text:        text,
		Channel:     channel,
		FirstSeenAt: now,
	}
	t.entries[id] = e
	t.order = append(t.order, id)
	t.totalRecorded++

	for len(t.entries) > t.maxMessages {
		t.dropOldestLocked()
	}

	return *e
}

// MarkForwarded flags the entry as forwarded and counts the send. Returns
// false when id is unknown (already evicted or never recorded); callers
// report that, it is never fatal.
func (t *Tracker) MarkForwarded(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return false
	}

	e.Forwarded = true
	e.ForwardCount++
	t.totalForwarded++
	return true
}

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Stats{
		CurrentSize:    t.liveCountLocked(t.now()),
		TotalRecorded:  t.totalRecorded,
		TotalForwarded: t.totalForwarded,
	}
}

// RecentEntries returns up to limit live entries, most recent first. The
// result is a snapshot; writers may proceed while the caller iterates.
func (t *Tracker) RecentEntries(limit int) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 {
		return nil
	}

	now := t.now()
	out := make([]Entry, 0, limit)
	for i := len(t.order) - 1; i >= 0 && len(out) < limit; i-- {
		e, ok := t.entries[t.order[i]]
		if !ok {
			continue
		}
		if now.Sub(e.FirstSeenAt) > t.maxAge {
			break
		}
		out = append(out, *e)
	}
	return out
}

// StartSweeper purges expired entries in the background and refreshes the
// tracked-messages gauge. Low frequency; the hot path already purges on
// every Record.
func (t *Tracker) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			before := len(t.entries)
			t.purgeLocked(t.now())
			removed := before - len(t.entries)
			size := len(t.entries)
			t.mu.Unlock()

			metrics.SetTrackedMessages(size)
			if removed > 0 {
				t.logger.Debugw("Swept expired tracker entries",
					"removed", removed,
					"current_size", size,
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) purgeLocked(now time.Time) {
	for len(t.order) > 0 {
		e, ok := t.entries[t.order[0]]
		if !ok {
			t.order = t.order[1:]
			continue
		}
		if now.Sub(e.FirstSeenAt) <= t.maxAge {
			break
		}
		delete(t.entries, t.order[0])
		t.order = t.order[1:]
	}
}

func (t *Tracker) dropOldestLocked() {
	for len(t.order) > 0 {
		id := t.order[0]
		t.order = t.order[1:]
		if _, ok := t.entries[id]; ok {
			delete(t.entries, id)
			return
		}
	}
}

func (t *Tracker) liveCountLocked(now time.Time) int {
	count := 0
	for _, e := range t.entries {
		if now.Sub(e.FirstSeenAt) <= t.maxAge {
			count++
		}
	}
	return count
}
