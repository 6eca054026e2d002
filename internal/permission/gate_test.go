package permission

import "testing"

func TestGate_DefaultDeny(t *testing.T) {
	g := NewGate()
	if g.Allowed() {
		t.Error("a gate with no server value must deny")
	}
	if g.Known() {
		t.Error("a fresh gate should not report a known value")
	}
}

func TestGate_ApplyReportsChange(t *testing.T) {
	g := NewGate()
	if !g.Apply(true) {
		t.Error("first Apply should report a change")
	}
	if !g.Allowed() {
		t.Error("expected allowed after Apply(true)")
	}
	if g.Apply(true) {
		t.Error("redundant Apply should report no change")
	}
	if !g.Apply(false) {
		t.Error("flipping the value should report a change")
	}
	if g.Allowed() {
		t.Error("expected denied after Apply(false)")
	}
}

func TestGate_ResetReturnsToDefaultDeny(t *testing.T) {
	g := NewGate()
	g.Apply(true)
	g.Reset()
	if g.Allowed() || g.Known() {
		t.Error("reset gate should be unknown and denying")
	}
	if !g.Apply(false) {
		t.Error("Apply after Reset should report a change even for false")
	}
}
