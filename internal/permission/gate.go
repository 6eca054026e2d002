// Package permission holds the teacher-controlled "students may reply"
// gate.
package permission

import "sync"

// Gate is the single shared reply-permission boolean. Students default to
// disallowed until the server has explicitly communicated the current
// value; there is no default-allow path.
type Gate struct {
	mu      sync.RWMutex
	allowed bool
	known   bool
}

// NewGate returns a gate in the default-deny, unknown state.
func NewGate() *Gate {
	return &Gate{}
}

// Apply installs a server-communicated value. Reports whether the visible
// state changed, so redundant toggles produce no state change beyond
// confirmation.
func (g *Gate) Apply(allow bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	changed := !g.known || g.allowed != allow
	g.allowed = allow
	g.known = true
	return changed
}

// Allowed reports whether replies are currently permitted.
func (g *Gate) Allowed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.known && g.allowed
}

// Known reports whether the server has communicated a value yet.
func (g *Gate) Known() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.known
}

// Reset returns the gate to the unknown, default-deny state (used when a
// session disconnects).
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed = false
	g.known = false
}
