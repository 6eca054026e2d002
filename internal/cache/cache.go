// Package cache owns the ordered, deduplicated set of messages known to one
// client, persisted through the durable local store, plus the read/unread
// tracking layered on top of it.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classboard/internal/config"
	"classboard/internal/storage"
	"classboard/pkg/types"
)

// MessageCache merges server history with live-received messages into one
// newest-first sequence. Every mutation persists the full document before
// returning, so the stored view never trails the in-memory one.
type MessageCache struct {
	mu     sync.Mutex
	store  *storage.Store
	docKey string
	policy config.HistoryPolicy
	msgs   []types.Message
}

// NewMessageCache opens the cache backed by the document under docKey,
// loading whatever a previous session persisted.
func NewMessageCache(store *storage.Store, docKey string, policy config.HistoryPolicy) (*MessageCache, error) {
	c := &MessageCache{store: store, docKey: docKey, policy: policy}
	if _, err := store.LoadDocument(docKey, &c.msgs); err != nil {
		return nil, err
	}
	return c, nil
}

// Messages returns a copy of the ordered sequence, newest first.
func (c *MessageCache) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Len returns the number of cached messages.
func (c *MessageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// UnreadCount returns the aggregate unread count.
func (c *MessageCache) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadLocked()
}

func (c *MessageCache) unreadLocked() int {
	n := 0
	for i := range c.msgs {
		if !c.msgs[i].IsRead {
			n++
		}
	}
	return n
}

// Get returns the message with the given id.
func (c *MessageCache) Get(id types.ID) (types.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.msgs {
		if c.msgs[i].ID == id {
			return c.msgs[i], true
		}
	}
	return types.Message{}, false
}

// MergeHistory applies a server history batch. Under the merge policy,
// records the cache already holds (by dedup key, or by content when the
// cached entry still carries a fallback id) are skipped and everything else
// is added; under the replace policy the batch becomes the cache, making
// the local view mirror server-side deletions exactly. History records are
// marked read unconditionally. Merging the same batch twice is a no-op.
func (c *MessageCache) MergeHistory(batch []types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	incoming := make([]types.Message, 0, len(batch))
	now := time.Now()
	for _, m := range batch {
		m.IsFromHistory = true
		m.IsRead = true
		if m.ReceivedAt.IsZero() {
			m.ReceivedAt = now
		}
		incoming = append(incoming, m)
	}

	if c.policy == config.HistoryReplace {
		c.msgs = dedupe(incoming)
	} else {
		for _, m := range incoming {
			if idx, ok := c.findLocked(&m); ok {
				// A server record matching a fallback-id entry supersedes
				// the fallback id.
				if c.msgs[idx].LocalID && !m.ID.IsZero() {
					c.msgs[idx].ID = m.ID
					c.msgs[idx].LocalID = false
				}
				continue
			}
			c.msgs = append(c.msgs, m)
		}
	}

	c.sortLocked()
	return c.persistLocked()
}

// ReceiveLive prepends one freshly pushed message, unread. A message with
// no server id yet gets a fallback id that later history replay can
// supersede. Replaying the same push is a no-op. The stored form is
// returned so callers can schedule read-tracking against its id.
func (c *MessageCache) ReceiveLive(msg types.Message) (types.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.ID.IsZero() {
		msg.ID = types.ID(uuid.NewString())
		msg.LocalID = true
	}
	msg.IsRead = false
	msg.IsFromHistory = false
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	if idx, ok := c.findLocked(&msg); ok {
		return c.msgs[idx], nil
	}

	c.msgs = append([]types.Message{msg}, c.msgs...)
	return msg, c.persistLocked()
}

// Remove drops a single message by id. This is a local projection only; a
// server rejection of the matching delete request does not resurrect the
// entry.
func (c *MessageCache) Remove(id types.ID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.msgs {
		if c.msgs[i].ID == id {
			c.msgs = append(c.msgs[:i], c.msgs[i+1:]...)
			return true, c.persistLocked()
		}
	}
	return false, nil
}

// Clear empties the cache in one persisted step.
func (c *MessageCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
	return c.persistLocked()
}

// MarkRead flips one message to read. A no-op when the id is unknown or
// already read; reports whether anything changed.
func (c *MessageCache) MarkRead(id types.ID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.msgs {
		if c.msgs[i].ID == id {
			if c.msgs[i].IsRead {
				return false, nil
			}
			c.msgs[i].IsRead = true
			return true, c.persistLocked()
		}
	}
	return false, nil
}

// MarkAllRead flips every unread message to read, returning how many
// changed.
func (c *MessageCache) MarkAllRead() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := 0
	for i := range c.msgs {
		if !c.msgs[i].IsRead {
			c.msgs[i].IsRead = true
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, c.persistLocked()
}

// findLocked locates an entry matching m by dedup key, or by content when
// either side lacks a server id.
func (c *MessageCache) findLocked(m *types.Message) (int, bool) {
	key := m.DedupKey()
	for i := range c.msgs {
		if c.msgs[i].DedupKey() == key {
			return i, true
		}
		if (c.msgs[i].LocalID || m.LocalID || m.ID.IsZero()) && c.msgs[i].SameContent(m) {
			return i, true
		}
	}
	return -1, false
}

// sortLocked orders newest first, keeping arrival order for equal
// timestamps.
func (c *MessageCache) sortLocked() {
	sort.SliceStable(c.msgs, func(i, j int) bool {
		return c.msgs[i].Timestamp.After(c.msgs[j].Timestamp.Time)
	})
}

func (c *MessageCache) persistLocked() error {
	msgs := c.msgs
	if msgs == nil {
		msgs = []types.Message{}
	}
	return c.store.SaveDocument(c.docKey, msgs)
}

// dedupe removes same-key records from a batch, keeping the first.
func dedupe(batch []types.Message) []types.Message {
	seen := make(map[string]bool, len(batch))
	out := make([]types.Message, 0, len(batch))
	for _, m := range batch {
		key := m.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}
