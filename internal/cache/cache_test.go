package cache

import (
	"path/filepath"
	"testing"
	"time"

	"classboard/internal/config"
	"classboard/internal/storage"
	"classboard/pkg/types"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestCache(t *testing.T, policy config.HistoryPolicy) *MessageCache {
	t.Helper()
	c, err := NewMessageCache(openTestStore(t), storage.DocMessages, policy)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c
}

func at(sec int) types.Timestamp {
	return types.NewTimestamp(time.Date(2026, 3, 14, 9, 0, sec, 0, time.UTC))
}

func historyMsg(id, body string, sec int) types.Message {
	return types.Message{ID: types.ID(id), Sender: "Kim", Body: body, Timestamp: at(sec)}
}

func TestMergeHistory_MarksRecordsRead(t *testing.T) {
	c := newTestCache(t, config.HistoryMerge)
	if err := c.MergeHistory([]types.Message{historyMsg("1", "a", 1), historyMsg("2", "b", 2)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 messages, got %d", c.Len())
	}
	if c.UnreadCount() != 0 {
		t.Errorf("history records must arrive read, unread=%d", c.UnreadCount())
	}
	for _, m := range c.Messages() {
		if !m.IsFromHistory {
			t.Errorf("message %s not marked as history", m.ID)
		}
	}
}

func TestMergeHistory_NewestFirstOrdering(t *testing.T) {
	c := newTestCache(t, config.HistoryMerge)
	if err := c.MergeHistory([]types.Message{
		historyMsg("1", "oldest", 1),
		historyMsg("3", "newest", 30),
		historyMsg("2", "middle", 15),
	}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	msgs := c.Messages()
	if msgs[0].Body != "newest" || msgs[2].Body != "oldest" {
		t.Errorf("unexpected order: %s, %s, %s", msgs[0].Body, msgs[1].Body, msgs[2].Body)
	}
}

func TestMergeHistory_RepeatedMergeIsIdempotent(t *testing.T) {
	c := newTestCache(t, config.HistoryMerge)
	batch := []types.Message{historyMsg("1", "a", 1), historyMsg("2", "b", 2)}
	if err := c.MergeHistory(batch); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := c.MergeHistory(batch); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("repeated merge duplicated messages: %d", c.Len())
	}
}

func TestMergeHistory_EmptyBatchKeepsCacheUnderMerge(t *testing.T) {
	c := newTestCache(t, config.HistoryMerge)
	if err := c.MergeHistory([]types.Message{historyMsg("1", "a", 1)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := c.MergeHistory(nil); err != nil {
		t.Fatalf("empty merge: %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("empty merge should not drop messages, len=%d", c.Len())
	}
}

func TestMergeHistory_ReplacePolicyMirrorsDeletions(t *testing.T) {
	c := newTestCache(t, config.HistoryReplace)
	if err := c.MergeHistory([]types.Message{
		historyMsg("1", "a", 1),
		historyMsg("2", "b", 2),
	}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	// The server dropped message 1; the replayed batch no longer carries it.
	if err := c.MergeHistory([]types.Message{historyMsg("2", "b", 2)}); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("replace policy should mirror the batch, len=%d", c.Len())
	}
	if _, ok := c.Get("1"); ok {
		t.Error("deleted message survived a replace merge")
	}
}

func TestReceiveLive_PrependsUnread(t *testing.T) {
	c := newTestCache(t, config.HistoryMerge)
	if err := c.MergeHistory([]types.Message{historyMsg("1", "old", 1)}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	stored, err := c.ReceiveLive(types.Message{ID: "2", Sender: "Kim", Body: "fresh", Timestamp: at(50)})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if stored.IsRead {
		t.Error("live messages must arrive unread")
	}
	if c.Messages()[0].ID != "2" {
		t.Error("live message should sit at the front")
	}
	if c.UnreadCount() != 1 {
		t.Errorf("expected 1 unread, got %d", c.UnreadCount())
	}
}

func TestReceiveLive_ReplayIsIdempotent(t *testing.T) {
	c := newTestCache(t, config.HistoryMerge)
	msg := types.Message{ID: "2", Body: "fresh", Timestamp: at(50)}
	if _, err := c.ReceiveLive(msg); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if _, err := c.ReceiveLive(msg); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("replayed push duplicated the message: %d", c.Len())
	}
}

func TestReceiveLive_FallbackIDSupersededByHistory(t *testing.T) {
	c := newTestCache(t, config.HistoryMerge)

	// Pushed without a server id; the cache assigns a fallback.
	stored, err := c.ReceiveLive(types.Message{Body: "hello", Timestamp: at(10)})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if stored.ID.IsZero() || !stored.LocalID {
		t.Fatalf("expected a fallback id, got %+v", stored)
	}

	// History replay carries the same content under the server id.
	if err := c.MergeHistory([]types.Message{historyMsg("77", "hello", 10)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("fallback entry duplicated: %d", c.Len())
	}
	m := c.Messages()[0]
	if m.ID != "77" || m.LocalID {
		t.Errorf("fallback id not superseded: %+v", m)
	}
}

func TestRemove_DoesNotResurrect(t *testing.T) {
	c := newTestCache(t, config.HistoryMerge)
	if err := c.MergeHistory([]types.Message{historyMsg("1", "a", 1)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	removed, err := c.Remove("1")
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	removed, err = c.Remove("1")
	if err != nil || removed {
		t.Errorf("second remove should find nothing: removed=%v err=%v", removed, err)
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	c := newTestCache(t, config.HistoryMerge)
	if _, err := c.ReceiveLive(types.Message{ID: "1", Body: "a", Timestamp: at(1)}); err != nil {
		t.Fatalf("receive: %v", err)
	}

	changed, err := c.MarkRead("1")
	if err != nil || !changed {
		t.Fatalf("mark read: changed=%v err=%v", changed, err)
	}
	changed, err = c.MarkRead("1")
	if err != nil || changed {
		t.Errorf("second mark read should change nothing: changed=%v err=%v", changed, err)
	}
	if c.UnreadCount() != 0 {
		t.Errorf("expected 0 unread, got %d", c.UnreadCount())
	}
}

func TestMarkAllRead_CountsChanges(t *testing.T) {
	c := newTestCache(t, config.HistoryMerge)
	for i, id := range []string{"1", "2", "3"} {
		if _, err := c.ReceiveLive(types.Message{ID: types.ID(id), Body: id, Timestamp: at(i)}); err != nil {
			t.Fatalf("receive: %v", err)
		}
	}
	changed, err := c.MarkAllRead()
	if err != nil {
		t.Fatalf("mark all: %v", err)
	}
	if changed != 3 {
		t.Errorf("expected 3 changed, got %d", changed)
	}
	changed, err = c.MarkAllRead()
	if err != nil || changed != 0 {
		t.Errorf("second mark all should change nothing: %d, %v", changed, err)
	}
}

func TestCache_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := storage.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c, err := NewMessageCache(store, storage.DocMessages, config.HistoryMerge)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if _, err := c.ReceiveLive(types.Message{ID: "9", Body: "keep me", Timestamp: at(9)}); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := storage.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	restored, err := NewMessageCache(reopened, storage.DocMessages, config.HistoryMerge)
	if err != nil {
		t.Fatalf("restore cache: %v", err)
	}
	if restored.Len() != 1 {
		t.Fatalf("expected 1 restored message, got %d", restored.Len())
	}
	m := restored.Messages()[0]
	if m.ID != "9" || m.Body != "keep me" || m.IsRead {
		t.Errorf("restored message mangled: %+v", m)
	}
}

func TestClear_EmptiesCache(t *testing.T) {
	c := newTestCache(t, config.HistoryMerge)
	if err := c.MergeHistory([]types.Message{historyMsg("1", "a", 1), historyMsg("2", "b", 2)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d", c.Len())
	}
}
