package clock

import (
	"testing"
	"time"
)

func TestManualFiresInOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var got []string
	m.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	m.AfterFunc(time.Second, func() { got = append(got, "a") })
	m.AfterFunc(5*time.Second, func() { got = append(got, "c") })

	m.Advance(2 * time.Second)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected order: %v", got)
	}
	if m.Pending() != 1 {
		t.Fatalf("expected one pending timer, got %d", m.Pending())
	}
}

func TestManualStop(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	fired := false
	tm := m.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Fatalf("expected Stop to report pending timer")
	}
	if tm.Stop() {
		t.Fatalf("second Stop should report false")
	}
	m.Advance(time.Minute)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}

func TestManualChainedTimers(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	steps := 0
	m.AfterFunc(500*time.Millisecond, func() {
		steps++
		m.AfterFunc(1500*time.Millisecond, func() { steps++ })
	})
	m.Advance(time.Second)
	if steps != 1 {
		t.Fatalf("expected first step only, got %d", steps)
	}
	m.Advance(time.Second)
	if steps != 2 {
		t.Fatalf("expected chained step, got %d", steps)
	}
}
