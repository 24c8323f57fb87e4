// Package mainthread runs actions on a designated host goroutine. The host
// drains the queue with Run or Drain; any goroutine may queue work.
package mainthread

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrOnMainThread is returned by ExecuteAndWait when called from an action
// running on the main thread, where waiting would deadlock.
var ErrOnMainThread = errors.New("mainthread: ExecuteAndWait called on the main thread")

type mainKey struct{}

// IsMain reports whether ctx belongs to an action running on the main
// thread.
func IsMain(ctx context.Context) bool {
	v, _ := ctx.Value(mainKey{}).(bool)
	return v
}

// Action is a queued unit of work.
type Action struct {
	fn   func(context.Context)
	done chan struct{}
}

// Done is closed once the action has run.
func (a *Action) Done() <-chan struct{} { return a.done }

// Wait blocks until the action has run.
func (a *Action) Wait() { <-a.done }

// Dispatcher is a queue of actions for the main thread.
type Dispatcher struct {
	mu    sync.Mutex
	queue []*Action
	wake  chan struct{}
}

func New() *Dispatcher {
	return &Dispatcher{wake: make(chan struct{}, 1)}
}

// Execute queues fn and returns without waiting.
func (d *Dispatcher) Execute(fn func(context.Context)) *Action {
	a := &Action{fn: fn, done: make(chan struct{})}
	d.mu.Lock()
	d.queue = append(d.queue, a)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return a
}

// ExecuteAndWait queues fn and blocks until it has run or ctx is done.
func (d *Dispatcher) ExecuteAndWait(ctx context.Context, fn func(context.Context)) error {
	if IsMain(ctx) {
		return ErrOnMainThread
	}
	a := d.Execute(fn)
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports the number of queued actions.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) take() []*Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.queue
	d.queue = nil
	return q
}

func (d *Dispatcher) drain(ctx context.Context) int {
	ctx = context.WithValue(ctx, mainKey{}, true)
	n := 0
	for {
		q := d.take()
		if len(q) == 0 {
			return n
		}
		for _, a := range q {
			a.fn(ctx)
			close(a.done)
			n++
		}
	}
}

// Drain runs every queued action, including actions queued by those
// actions, on the calling goroutine. It returns how many ran.
func (d *Dispatcher) Drain() int { return d.drain(context.Background()) }

// Run makes the calling goroutine the main thread until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		d.drain(ctx)
		select {
		case <-d.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
