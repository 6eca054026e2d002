// Package roster tracks the teacher-visible set of connected students and
// resolves UI recipient selections into wire-level recipient descriptors.
package roster

import (
	"sort"
	"sync"

	"classboard/pkg/types"
)

// Roster is the set of known students, keyed by socket id.
type Roster struct {
	mu      sync.RWMutex
	entries map[string]types.RosterEntry
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{entries: make(map[string]types.RosterEntry)}
}

// ApplyConnected inserts a freshly connected student. Any stale entry with
// the same student name is evicted first: a reconnect arrives under a new
// socket id, and leaving the old entry would show a ghost duplicate.
func (r *Roster) ApplyConnected(entry types.RosterEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, e := range r.entries {
		if e.StudentName == entry.StudentName {
			delete(r.entries, sid)
		}
	}
	entry.IsOnline = true
	r.entries[entry.SocketID] = entry
}

// ApplyDisconnected removes the entry for a departed socket. Reports
// whether an entry was present.
func (r *Roster) ApplyDisconnected(socketID string) (types.RosterEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[socketID]
	if ok {
		delete(r.entries, socketID)
	}
	return entry, ok
}

// Replace installs an authoritative full-list update, discarding all
// incremental state.
func (r *Roster) Replace(entries []types.RosterEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]types.RosterEntry, len(entries))
	for _, e := range entries {
		r.entries[e.SocketID] = e
	}
}

// Get returns the entry for a socket id.
func (r *Roster) Get(socketID string) (types.RosterEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[socketID]
	return e, ok
}

// Entries returns all entries sorted by student name.
func (r *Roster) Entries() []types.RosterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.RosterEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StudentName < out[j].StudentName
	})
	return out
}

// Online returns the currently online entries sorted by student name.
func (r *Roster) Online() []types.RosterEntry {
	all := r.Entries()
	out := all[:0]
	for _, e := range all {
		if e.IsOnline {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the total entry count.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// OnlineCount returns the number of online entries.
func (r *Roster) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.IsOnline {
			n++
		}
	}
	return n
}
