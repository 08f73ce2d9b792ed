// Package timerset implements the three per-flow timers of spec.md §4.3:
// sender-inactivity, receiver-inactivity, and retransmission. Timers run
// their callback from Go's runtime timer goroutine — the same
// interrupt-context-callback model the teacher's connection.go uses for
// its keepalive/delayed-ACK/retransmit timers — so callbacks must be
// short and must not block.
package timerset

import (
	"sync"
	"time"
)

// Timer is a single cancelable, rearmable one-shot timer with a
// synchronous Stop: once Stop returns, any callback that had already begun
// firing has finished. Plain time.Timer.Stop does not give that guarantee,
// and spec.md §5 requires flow destruction to wait for in-flight timer
// handlers before freeing flow state.
type Timer struct {
	mu    sync.Mutex
	timer *time.Timer
	wg    *sync.WaitGroup
}

// Start (re)arms the timer to fire cb after d, cancelling any previously
// scheduled fire first.
func (t *Timer) Start(d time.Duration, cb func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()

	wg := &sync.WaitGroup{}
	wg.Add(1)
	t.wg = wg
	var tm *time.Timer
	tm = time.AfterFunc(d, func() {
		defer wg.Done()
		t.mu.Lock()
		if t.timer == tm {
			t.timer = nil
		}
		t.mu.Unlock()
		cb()
	})
	t.timer = tm
}

// Stop cancels the timer if it has not yet fired, and blocks until any
// already-firing callback has returned.
func (t *Timer) Stop() {
	t.mu.Lock()
	wg := t.wg
	t.stopLocked()
	t.wg = nil
	t.mu.Unlock()

	if wg != nil {
		wg.Wait()
	}
}

func (t *Timer) stopLocked() {
	if t.timer == nil {
		return
	}
	if t.timer.Stop() && t.wg != nil {
		// Cancelled before it fired: the callback will never run, so its
		// half of the WaitGroup must be released here instead.
		t.wg.Done()
	}
	t.timer = nil
}

// Armed reports whether the timer currently has a pending fire.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Set bundles the three named timers of one flow.
type Set struct {
	SenderInactivity   Timer
	ReceiverInactivity Timer
	Retransmission     Timer
}

// CancelAll stops all three timers synchronously. Called from flow
// destruction per spec.md §5.
func (s *Set) CancelAll() {
	s.SenderInactivity.Stop()
	s.ReceiverInactivity.Stop()
	s.Retransmission.Stop()
}
