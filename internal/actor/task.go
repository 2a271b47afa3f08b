package actor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrTaskConsumed is returned when a task is submitted more than once.
	ErrTaskConsumed = errors.New("task already submitted")
	// ErrTaskPanicked wraps a panic raised inside a task function.
	ErrTaskPanicked = errors.New("task panicked")
)

// Task is a one-shot unit of work executed against the actor's resource handle.
// Only the actor invokes fn, and at most once.
type Task[H Resource, R any] struct {
	fn       func(ctx context.Context, h H) (R, error)
	consumed atomic.Bool
}

// NewTask wraps fn into a task.
func NewTask[H Resource, R any](fn func(ctx context.Context, h H) (R, error)) *Task[H, R] {
	return &Task[H, R]{fn: fn}
}

// take marks the task consumed. Only the first caller gets the function.
func (t *Task[H, R]) take() (func(ctx context.Context, h H) (R, error), error) {
	if t == nil || t.fn == nil {
		return nil, errors.New("nil task")
	}
	if !t.consumed.CompareAndSwap(false, true) {
		return nil, ErrTaskConsumed
	}
	return t.fn, nil
}

// Pending is the eventual outcome of a sent task.
type Pending[R any] struct {
	done    chan struct{}
	once    sync.Once
	outcome Outcome[R]
	err     error
}

func newPending[R any]() *Pending[R] {
	return &Pending[R]{done: make(chan struct{})}
}

func (p *Pending[R]) resolve(outcome Outcome[R], err error) {
	p.once.Do(func() {
		p.outcome = outcome
		p.err = err
		close(p.done)
	})
}

// Done is closed once the outcome is available.
func (p *Pending[R]) Done() <-chan struct{} { return p.done }

// Wait blocks until the outcome is available or ctx is done.
// The error is non-nil only for mailbox-level failures (actor stopped, ctx).
func (p *Pending[R]) Wait(ctx context.Context) (Outcome[R], error) {
	select {
	case <-p.done:
		return p.outcome, p.err
	case <-ctx.Done():
		return Outcome[R]{}, fmt.Errorf("failed to wait for outcome: %w", ctx.Err())
	}
}

// dispatcher carries what a message needs from the actor to run.
type dispatcher struct {
	adapt   func(error) error
	observe func(kind Kind, elapsed time.Duration)
}

// envelope is the type-erased mailbox message.
type envelope[H Resource] interface {
	run(h H, d dispatcher)
	absent(d dispatcher)
	reject(err error)
	sequence() uint64
}

type taskMsg[H Resource, R any] struct {
	ctx     context.Context
	fn      func(ctx context.Context, h H) (R, error)
	pending *Pending[R]
	seq     uint64
}

// run executes the task on its own goroutine so the mailbox loop is never blocked.
func (m *taskMsg[H, R]) run(h H, d dispatcher) {
	go func() {
		start := time.Now()
		value, err := m.invoke(h)
		var out Outcome[R]
		if err != nil {
			out = DriverError[R](d.adapt(err))
		} else {
			out = Success(value)
		}
		d.observe(out.Kind(), time.Since(start))
		m.pending.resolve(out, nil)
	}()
}

func (m *taskMsg[H, R]) invoke(h H) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrTaskPanicked, r, debug.Stack())
		}
	}()
	return m.fn(m.ctx, h)
}

func (m *taskMsg[H, R]) absent(d dispatcher) {
	d.observe(KindHandleAbsent, 0)
	m.pending.resolve(HandleAbsent[R](), nil)
}

func (m *taskMsg[H, R]) reject(err error) {
	m.pending.resolve(Outcome[R]{}, err)
}

func (m *taskMsg[H, R]) sequence() uint64 { return m.seq }

// Send enqueues task on the actor's mailbox and returns immediately with a pending outcome.
// A task is consumed by its first Send even when enqueueing fails.
func Send[H Resource, R any](ctx context.Context, addr *Address[H], task *Task[H, R]) (*Pending[R], error) {
	fn, err := task.take()
	if err != nil {
		return nil, err
	}
	p := newPending[R]()
	msg := &taskMsg[H, R]{ctx: ctx, fn: fn, pending: p, seq: addr.sent.Add(1)}
	if err := addr.enqueue(ctx, msg); err != nil {
		return nil, err
	}
	return p, nil
}

// Submit sends task and waits for its outcome.
func Submit[H Resource, R any](ctx context.Context, addr *Address[H], task *Task[H, R]) (Outcome[R], error) {
	p, err := Send(ctx, addr, task)
	if err != nil {
		return Outcome[R]{}, err
	}
	return p.Wait(ctx)
}
