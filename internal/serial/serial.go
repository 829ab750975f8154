// Package serial runs state transitions one at a time without a dedicated goroutine.
// Whichever caller finds the executor idle drains the queue; everyone else just enqueues.
package serial

import (
	"sync"

	"go.uber.org/zap"
)

type Executor struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger}
}

// Post schedules f. It never blocks on other work; if the executor is idle, f (and anything
// queued behind it) runs before Post returns.
func (e *Executor) Post(f func()) {
	e.mu.Lock()
	e.queue = append(e.queue, f)
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()
	e.drain()
}

// Do runs f on the executor and waits for it. It must not be called from a function
// already running on the same executor.
func (e *Executor) Do(f func()) {
	done := make(chan struct{})
	e.Post(func() {
		defer close(done)
		f()
	})
	<-done
}

func (e *Executor) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		f := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()
		e.run(f)
	}
}

func (e *Executor) run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("serial_task_panic", zap.Any("panic", r))
		}
	}()
	f()
}
