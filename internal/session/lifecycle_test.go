package session

import "testing"

func TestLifecycle(t *testing.T) {
	l := NewLifecycle()
	if l.Phase() != PhaseUninitialized {
		t.Fatalf("Phase() = %s, want uninitialized", l.Phase())
	}

	l.Finish()
	if l.Phase() != PhaseUninitialized {
		t.Errorf("Finish() before Begin moved to %s", l.Phase())
	}

	if !l.Begin() {
		t.Fatal("first Begin() = false")
	}
	if l.Begin() {
		t.Error("second Begin() = true")
	}
	select {
	case <-l.Ready():
		t.Fatal("Ready closed while hydrating")
	default:
	}

	l.Finish()
	l.Finish()
	if l.Phase() != PhaseReady {
		t.Errorf("Phase() = %s, want ready", l.Phase())
	}
	select {
	case <-l.Ready():
	default:
		t.Error("Ready not closed")
	}
	if l.Begin() {
		t.Error("Begin() after ready = true")
	}
}
