package session

import (
	"strings"
	"sync"

	"classboard/internal/roster"
	"classboard/internal/storage"
	"classboard/pkg/types"
)

// SentLog is the teacher's persisted record of outbound messages, newest
// first, labeled with the recipient names captured at send time.
type SentLog struct {
	mu      sync.Mutex
	store   *storage.Store
	docKey  string
	limit   int
	entries []types.SentMessage
}

// NewSentLog opens the log backed by the document under docKey.
func NewSentLog(store *storage.Store, docKey string, limit int) (*SentLog, error) {
	l := &SentLog{store: store, docKey: docKey, limit: limit}
	if _, err := store.LoadDocument(docKey, &l.entries); err != nil {
		return nil, err
	}
	return l, nil
}

// Prepend records a freshly acknowledged send at the front, trimming the
// log to its cap.
func (l *SentLog) Prepend(entry types.SentMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]types.SentMessage{entry}, l.entries...)
	if len(l.entries) > l.limit {
		l.entries = l.entries[:l.limit]
	}
	return l.persistLocked()
}

// Replace installs an authoritative server batch. The server stores only
// the recipient string ("all" or comma-joined names), so labels are
// recomputed from it.
func (l *SentLog) Replace(records []types.SentMessageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]types.SentMessage, 0, len(records))
	for _, rec := range records {
		all := rec.Recipient == roster.RecipientAll
		var names []string
		if !all && rec.Recipient != "" {
			names = strings.Split(rec.Recipient, ",")
		}
		entries = append(entries, types.SentMessage{
			ID:         rec.ID,
			Label:      roster.FormatLabel(names, all),
			Recipients: names,
			All:        all,
			Body:       rec.Message,
			Timestamp:  rec.Timestamp,
		})
	}
	l.entries = entries
	return l.persistLocked()
}

// Remove drops the entry with the given id after the server corroborates a
// delete.
func (l *SentLog) Remove(id types.ID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true, l.persistLocked()
		}
	}
	return false, nil
}

// Entries returns a copy of the log, newest first.
func (l *SentLog) Entries() []types.SentMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.SentMessage, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *SentLog) persistLocked() error {
	entries := l.entries
	if entries == nil {
		entries = []types.SentMessage{}
	}
	return l.store.SaveDocument(l.docKey, entries)
}
