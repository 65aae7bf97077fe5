package tracker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshbridge/internal/logger"
)

func newTestTracker(maxAge time.Duration, maxMessages int) *Tracker {
	return New(maxAge, maxMessages, logger.NopLogger())
}

func TestRecord_Idempotent(t *testing.T) {
	tr := newTestTracker(10*time.Minute, 100)
	now := time.Now()

	first := tr.Record("1", "!abc123456", "broadcast", "hi", 0, now)
	second := tr.Record("1", "!other", "broadcast", "different text", 2, now.Add(time.Second))

	assert.Equal(t, first, second, "second Record with the same id must return the existing entry unchanged")
	assert.True(t, tr.Seen("1"))

	stats := tr.Stats()
	assert.Equal(t, 1, stats.CurrentSize)
	assert.Equal(t, uint64(1), stats.TotalRecorded)
}

func TestSeen_UnknownID(t *testing.T) {
	tr := newTestTracker(10*time.Minute, 100)
	assert.False(t, tr.Seen("nope"))
}

func TestMarkForwarded(t *testing.T) {
	tr := newTestTracker(10*time.Minute, 100)
	now := time.Now()

	tr.Record("1", "!abc123456", "broadcast", "hi", 0, now)

	require.True(t, tr.MarkForwarded("1"))
	require.True(t, tr.MarkForwarded("1"))

	entries := tr.RecentEntries(1)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Forwarded)
	assert.Equal(t, 2, entries[0].ForwardCount)

	stats := tr.Stats()
	assert.Equal(t, uint64(2), stats.TotalForwarded)
}

func TestMarkForwarded_UnknownID(t *testing.T) {
	tr := newTestTracker(10*time.Minute, 100)
	assert.False(t, tr.MarkForwarded("ghost"))
}

func TestRecord_CapacityBound(t *testing.T) {
	const maxMessages = 100
	tr := newTestTracker(10*time.Minute, maxMessages)
	now := time.Now()

	for i := 0; i < maxMessages+50; i++ {
		tr.Record(fmt.Sprintf("msg-%d", i), "!abc123456", "broadcast", "hi", 0, now.Add(time.Duration(i)*time.Millisecond))
	}

	stats := tr.Stats()
	assert.LessOrEqual(t, stats.CurrentSize, maxMessages)
	assert.Equal(t, uint64(maxMessages+50), stats.TotalRecorded)

	// Oldest ids were evicted, newest survive.
	assert.False(t, tr.Seen("msg-0"))
	assert.True(t, tr.Seen(fmt.Sprintf("msg-%d", maxMessages+49)))
}

func TestRecord_AgeEviction(t *testing.T) {
	const maxAge = 10 * time.Minute
	tr := newTestTracker(maxAge, 100)

	t0 := time.Now()
	clock := t0
	tr.now = func() time.Time { return clock }

	tr.Record("old", "!abc123456", "broadcast", "hi", 0, t0)
	require.True(t, tr.Seen("old"))

	clock = t0.Add(maxAge + time.Minute)
	assert.False(t, tr.Seen("old"), "entry past maxAge must no longer be seen")

	// A Record at the advanced clock purges the expired entry for real.
	tr.Record("new", "!abc123456", "broadcast", "hello", 0, clock)
	stats := tr.Stats()
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestRecord_ExpiredIDCanBeRecordedAgain(t *testing.T) {
	const maxAge = 10 * time.Minute
	tr := newTestTracker(maxAge, 100)

	t0 := time.Now()
	clock := t0
	tr.now = func() time.Time { return clock }

	tr.Record("1", "!abc123456", "broadcast", "hi", 0, t0)

	clock = t0.Add(maxAge + time.Minute)
	entry := tr.Record("1", "!abc123456", "broadcast", "hi again", 0, clock)

	assert.Equal(t, "hi again", entry.Text)
	assert.Equal(t, clock, entry.FirstSeenAt)
	assert.False(t, entry.Forwarded)
}

func TestRecentEntries_Order(t *testing.T) {
	tr := newTestTracker(10*time.Minute, 100)
	now := time.Now()

	for i := 0; i < 5; i++ {
		tr.Record(fmt.Sprintf("msg-%d", i), "!abc123456", "broadcast", "hi", 0, now.Add(time.Duration(i)*time.Second))
	}

	entries := tr.RecentEntries(3)
	require.Len(t, entries, 3)
	assert.Equal(t, "msg-4", entries[0].ID)
	assert.Equal(t, "msg-3", entries[1].ID)
	assert.Equal(t, "msg-2", entries[2].ID)
}

func TestRecentEntries_ZeroLimit(t *testing.T) {
	tr := newTestTracker(10*time.Minute, 100)
	tr.Record("1", "!abc123456", "broadcast", "hi", 0, time.Now())
	assert.Empty(t, tr.RecentEntries(0))
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr := newTestTracker(10*time.Minute, 500)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("msg-%d-%d", g, i)
				tr.Record(id, "!abc123456", "broadcast", "hi", 0, time.Now())
				tr.Seen(id)
				tr.MarkForwarded(id)
				tr.RecentEntries(10)
				tr.Stats()
			}
		}(g)
	}
	wg.Wait()

	stats := tr.Stats()
	assert.LessOrEqual(t, stats.CurrentSize, 500)
	assert.Equal(t, uint64(800), stats.TotalRecorded)
}
