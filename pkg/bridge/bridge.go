// Package bridge hands results produced on a background goroutine to a caller
// supplied callback. Results are delivered one at a time, in the order they
// were submitted, on a dedicated dispatcher goroutine.
package bridge

import (
	"sync"
)

// Result is either a payload or a failure, never both.
type Result struct {
	Payload []byte
	Err     error
}

func Success(b []byte) Result { return Result{Payload: b} }

func Failure(err error) Result { return Result{Err: err} }

func (r Result) OK() bool { return r.Err == nil }

// Callback receives delivered results.
type Callback func(Result)

// Func adapts the (error, payload) callback shape.
func Func(f func(err error, msg []byte)) Callback {
	return func(r Result) { f(r.Err, r.Payload) }
}

// Mode selects how Deliver behaves when the callback falls behind.
type Mode int

const (
	// NonBlocking queues without bound; Deliver never waits.
	NonBlocking Mode = iota
	// Blocking waits while the queue holds capacity results.
	Blocking
)

func (m Mode) String() string {
	if m == Blocking {
		return "blocking"
	}
	return "nonblocking"
}

// Bridge owns one dispatcher goroutine bound to one callback.
type Bridge struct {
	cb       Callback
	mode     Mode
	capacity int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Result
	stopped  bool
	draining bool

	done chan struct{}
}

// New starts the dispatcher. capacity only matters in Blocking mode and is at least 1.
func New(cb Callback, mode Mode, capacity int) *Bridge {
	if capacity < 1 {
		capacity = 1
	}
	b := &Bridge{cb: cb, mode: mode, capacity: capacity, done: make(chan struct{})}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Deliver enqueues r. It reports false when the bridge no longer accepts results.
func (b *Bridge) Deliver(r Result) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mode == Blocking {
		for len(b.queue) >= b.capacity && !b.stopped && !b.draining {
			b.cond.Wait()
		}
	}
	if b.stopped || b.draining {
		return false
	}
	b.queue = append(b.queue, r)
	b.cond.Broadcast()
	return true
}

// Stop discards pending results. No callback starts after Stop returns,
// though one already running may finish. Safe to call from the callback.
func (b *Bridge) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.queue = nil
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Drain stops accepting results and lets the dispatcher deliver what is queued.
func (b *Bridge) Drain() {
	b.mu.Lock()
	b.draining = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Wait blocks until the dispatcher has exited. Must not be called from the callback.
func (b *Bridge) Wait() { <-b.done }

// Done is closed when the dispatcher exits.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Pending returns the number of queued, undelivered results.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Bridge) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.stopped && !b.draining {
			b.cond.Wait()
		}
		if b.stopped || len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		r := b.queue[0]
		b.queue[0] = Result{}
		b.queue = b.queue[1:]
		// wake a producer blocked on capacity
		b.cond.Broadcast()
		b.mu.Unlock()

		b.cb(r)
	}
}
