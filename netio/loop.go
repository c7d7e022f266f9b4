// Package netio implements the single-threaded cooperative reactor shared
// by every TCP-facing component of the bridge: a timer-driven event Loop
// (the event loop) and the Listener/Socket/Client abstractions built on top
// of it (the TCP reactor layer).
//
// Go has no portable user-space epoll primitive exposed to programs, so the
// Loop is built the way idiomatic Go code builds a single-owner event
// dispatcher: one loop goroutine owns all Timer and Socket callbacks, and
// every other goroutine (socket readers/writers, acceptors) communicates
// with it exclusively through Post, which enqueues a function to run on the
// loop goroutine. Callbacks therefore still observe the "all callbacks run
// on one thread, never concurrently" rule the reactor depends on, even
// though the underlying I/O is performed by ordinary blocking goroutines.
package netio

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/cesanta/errors"
)

// TimerFunc is invoked on the loop goroutine. It returns the delay until the
// next invocation, or ok=false to cancel the timer.
type TimerFunc func(now time.Time) (next time.Duration, ok bool)

type Timer struct {
	loop     *Loop
	fn       TimerFunc
	deadline time.Time
	index    int // heap index, maintained by container/heap
	canceled bool
}

func (t *Timer) SetTimeout(d time.Duration) {
	t.loop.Post(func() {
		if t.canceled {
			return
		}
		t.loop.timers.update(t, time.Now().Add(d))
	})
}

func (t *Timer) Cancel() {
	t.loop.Post(func() {
		t.canceled = true
		t.loop.timers.remove(t)
	})
}

type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}
func (h *timerHeap) update(t *Timer, deadline time.Time) {
	t.deadline = deadline
	if t.index >= 0 && t.index < len(*h) && (*h)[t.index] == t {
		heap.Fix(h, t.index)
	} else {
		heap.Push(h, t)
	}
}
func (h *timerHeap) remove(t *Timer) {
	if t.index >= 0 && t.index < len(*h) && (*h)[t.index] == t {
		heap.Remove(h, t.index)
		t.index = -1
	}
}

// Loop is the single-threaded reactor. Every Socket/Listener/Client
// registers its readiness callbacks through Post so that they execute on
// the loop goroutine.
type Loop struct {
	mu       sync.Mutex
	timers   timerHeap
	posted   chan func()
	stopCh   chan struct{}
	stopOnce sync.Once
	running  bool
}

func NewLoop() *Loop {
	return &Loop{
		posted: make(chan func(), 256),
		stopCh: make(chan struct{}),
	}
}

// Schedule registers a new timer in a paused state; call SetTimeout to
// arm it.
func (l *Loop) Schedule(fn TimerFunc) *Timer {
	return &Timer{loop: l, fn: fn, index: -1}
}

// Post enqueues fn to run on the loop goroutine. Safe to call from any
// goroutine, including the loop goroutine itself.
func (l *Loop) Post(fn func()) {
	select {
	case l.posted <- fn:
	case <-l.stopCh:
	}
}

// Run blocks the calling goroutine, dispatching posted callbacks and firing
// timers as their deadlines elapse, until Stop is called or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.Errorf("loop already running")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		var timerC <-chan time.Time
		var next *Timer
		if len(l.timers) > 0 {
			next = l.timers[0]
			d := time.Until(next.deadline)
			if d < 0 {
				d = 0
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			return nil
		case fn := <-l.posted:
			fn()
		case <-timerC:
			l.timers.remove(next)
			delay, ok := next.fn(time.Now())
			if ok && !next.canceled {
				l.timers.update(next, time.Now().Add(delay))
			}
		}
	}
}

// Stop ends the current (or a future) call to Run.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
