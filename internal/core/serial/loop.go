// Package serial provides the single execution context that owns all mutable
// timeline and action state. Closures submitted to a Loop run one at a time on
// a dedicated goroutine, so the state they touch needs no locks.
package serial

import (
	"errors"
	"sync"
)

// ErrClosed is returned when work is submitted to a closed Loop.
var ErrClosed = errors.New("serial loop closed")

// Loop runs submitted closures sequentially on a single goroutine.
//
// Do must never be called from inside a closure running on the same Loop;
// use Post for that (it would otherwise wait on itself).
type Loop struct {
	tasks   chan func()
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New starts a Loop. buffer sizes the task channel; 0 means unbuffered.
func New(buffer int) *Loop {
	if buffer < 0 {
		buffer = 0
	}
	l := &Loop{
		tasks:   make(chan func(), buffer),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.quit:
			return
		}
	}
}

// Do runs fn on the loop and blocks until it has returned.
func (l *Loop) Do(fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}

	select {
	case l.tasks <- task:
	case <-l.quit:
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-l.stopped:
		// The loop may have picked the task up just before stopping.
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Post enqueues fn without waiting for it to run. It reports false when the
// loop is closed and fn will never run.
func (l *Loop) Post(fn func()) bool {
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Close stops the loop. Tasks still queued are dropped. Close is idempotent.
func (l *Loop) Close() {
	l.once.Do(func() {
		close(l.quit)
	})
	<-l.stopped
}
