package cache

import (
	"sync"
	"time"

	"classboard/internal/notify"
	"classboard/internal/schedule"
	"classboard/pkg/types"
)

const foregroundReadTask = "foreground-read"

func autoReadTask(id types.ID) string { return "autoread:" + id.String() }

// ReadTracker derives read state and the unread badge count from the cache.
// Its timer side effects run as named tasks so a superseding event cancels
// the stale one instead of racing it.
type ReadTracker struct {
	cache    *MessageCache
	sched    *schedule.Scheduler
	notifier notify.Notifier

	autoReadDelay      time.Duration
	foregroundDebounce time.Duration

	mu         sync.Mutex
	foreground bool
}

// NewReadTracker builds a tracker over the cache. The client surface is
// assumed foreground until reported otherwise.
func NewReadTracker(c *MessageCache, sched *schedule.Scheduler, notifier notify.Notifier, autoReadDelay, foregroundDebounce time.Duration) *ReadTracker {
	return &ReadTracker{
		cache:              c,
		sched:              sched,
		notifier:           notifier,
		autoReadDelay:      autoReadDelay,
		foregroundDebounce: foregroundDebounce,
		foreground:         true,
	}
}

// HandleLive reacts to a live message that was just cached: announce it,
// and either request an OS-level notification (background surface) or arm
// the short auto-read delay that models "the user implicitly saw it".
func (t *ReadTracker) HandleLive(msg types.Message) {
	t.mu.Lock()
	foreground := t.foreground
	t.mu.Unlock()

	t.notifier.MessageArrived(msg, !foreground)
	t.notifier.UnreadChanged(t.cache.UnreadCount())

	if foreground {
		id := msg.ID
		t.sched.Schedule(autoReadTask(id), t.autoReadDelay, func() {
			t.MarkRead(id)
		})
	}
}

// MarkRead marks one message read, cancelling any pending auto-read for
// it. Idempotent.
func (t *ReadTracker) MarkRead(id types.ID) {
	t.sched.Cancel(autoReadTask(id))
	changed, err := t.cache.MarkRead(id)
	if err != nil {
		t.notifier.Notice(notify.LevelError, "failed to persist read state: "+err.Error())
		return
	}
	if changed {
		t.notifier.UnreadChanged(t.cache.UnreadCount())
	}
}

// MarkAllRead marks every message read immediately.
func (t *ReadTracker) MarkAllRead() {
	changed, err := t.cache.MarkAllRead()
	if err != nil {
		t.notifier.Notice(notify.LevelError, "failed to persist read state: "+err.Error())
		return
	}
	if changed > 0 {
		t.notifier.UnreadChanged(t.cache.UnreadCount())
	}
}

// SetForeground reports surface visibility. A background-to-foreground
// transition while connected arms the debounced mark-all so messages are
// not marked read before the user had a chance to see them; leaving
// foreground cancels a pending sweep.
func (t *ReadTracker) SetForeground(foreground, connected bool) {
	t.mu.Lock()
	was := t.foreground
	t.foreground = foreground
	t.mu.Unlock()

	if foreground && !was && connected {
		t.sched.Schedule(foregroundReadTask, t.foregroundDebounce, t.MarkAllRead)
	} else if !foreground {
		t.sched.Cancel(foregroundReadTask)
	}
}

// Foreground reports the last known surface visibility.
func (t *ReadTracker) Foreground() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.foreground
}

// UnreadCount returns the aggregate unread count.
func (t *ReadTracker) UnreadCount() int {
	return t.cache.UnreadCount()
}
