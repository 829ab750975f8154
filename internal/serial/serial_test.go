package serial

import (
	"sync"
	"testing"
)

func TestPostRunsInline(t *testing.T) {
	e := New(nil)
	ran := false
	e.Post(func() { ran = true })
	if !ran {
		t.Fatalf("expected inline execution on idle executor")
	}
}

func TestNestedPostIsDeferred(t *testing.T) {
	e := New(nil)
	var order []int
	e.Post(func() {
		order = append(order, 1)
		e.Post(func() { order = append(order, 3) })
		order = append(order, 2)
	})
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestDoSerialisesConcurrentCallers(t *testing.T) {
	e := New(nil)
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				e.Do(func() { counter++ })
			}
		}()
	}
	wg.Wait()
	if counter != 5000 {
		t.Fatalf("expected 5000, got %d", counter)
	}
}

func TestPanicDoesNotWedgeExecutor(t *testing.T) {
	e := New(nil)
	e.Post(func() { panic("boom") })
	ran := false
	e.Do(func() { ran = true })
	if !ran {
		t.Fatalf("executor stuck after panic")
	}
}
