// Package actor runs a resource handle behind a supervised, mailbox-driven actor.
//
// The actor owns at most one handle. The handle is built asynchronously when an
// incarnation starts; until the build finishes the mailbox is not read, so tasks
// sent early wait in the mailbox and run once the handle is ready. When an
// incarnation fails (build error, panic, liveness probe, explicit Fail) the
// supervisor discards the handle, waits as the RestartPolicy says and starts a
// new incarnation behind the same Address. While waiting, tasks are answered
// with HandleAbsent without being invoked.
package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/pgactor/internal/metrics"
)

// ErrActorStopped is returned for messages sent to, or buffered in, a stopped actor.
var ErrActorStopped = errors.New("actor stopped")

// Resource is the handle an actor owns and shares with tasks.
// Implementations must be safe for concurrent use by many tasks.
type Resource interface {
	ID() string
	Generation() uint64
	Ping(ctx context.Context) error
	Close()
}

// Builder constructs a fresh resource handle.
type Builder[H Resource] interface {
	Build(ctx context.Context, generation uint64) (H, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc[H Resource] func(ctx context.Context, generation uint64) (H, error)

func (f BuilderFunc[H]) Build(ctx context.Context, generation uint64) (H, error) {
	return f(ctx, generation)
}

// Failure describes an abnormal termination of one actor incarnation.
type Failure struct {
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Reason
	}
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Options configures an actor. Zero values use the defaults.
type Options struct {
	Name        string
	MailboxSize int
	ControlSize int
	// BuildTimeout bounds a single handle build. 0 means 30s, negative disables it.
	BuildTimeout time.Duration
	// LivenessInterval enables periodic pings of the handle when > 0.
	LivenessInterval time.Duration
	LivenessTimeout  time.Duration
	// LivenessFailures is the number of consecutive failed pings that fail the actor.
	LivenessFailures int
	Policy           RestartPolicy
	// AdaptError maps task errors into domain driver errors.
	AdaptError   func(error) error
	Logger       *slog.Logger
	OnTransition func(Transition)
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "actor"
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = 1024
	}
	if o.ControlSize <= 0 {
		o.ControlSize = 16
	}
	if o.BuildTimeout == 0 {
		o.BuildTimeout = 30 * time.Second
	}
	if o.LivenessTimeout <= 0 {
		o.LivenessTimeout = 5 * time.Second
	}
	if o.LivenessFailures <= 0 {
		o.LivenessFailures = 3
	}
	if o.Policy == nil {
		o.Policy = NewExponentialPolicy(ExponentialConfig{})
	}
	if o.AdaptError == nil {
		o.AdaptError = func(err error) error { return err }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ---- control messages (internal) ----

type ctrlKind int

const (
	ctrlFail ctrlKind = iota
)

type ctrlMsg struct {
	kind   ctrlKind
	reason string
}

// Address is the stable identity of a supervised actor. It stays valid across restarts.
type Address[H Resource] struct {
	name string

	mailbox chan envelope[H]
	control chan ctrlMsg

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
	err    error

	status atomic.Pointer[Status]
	// sent numbers messages in send order.
	sent atomic.Uint64
}

// Start launches a supervised actor and returns its address immediately.
// The actor stops when ctx is canceled or Stop is called.
func Start[H Resource](ctx context.Context, builder Builder[H], opts Options) *Address[H] {
	opts = opts.withDefaults()
	addr := &Address[H]{
		name:    opts.Name,
		mailbox: make(chan envelope[H], opts.MailboxSize),
		control: make(chan ctrlMsg, opts.ControlSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	addr.status.Store(&Status{State: StateStarting, Since: time.Now()})
	metrics.ActorState.WithLabelValues(opts.Name).Set(float64(StateStarting))

	s := &supervisor[H]{
		addr:    addr,
		builder: builder,
		opts:    opts,
		log:     opts.Logger.With("actor", opts.Name),
	}
	go s.run(ctx)
	return addr
}

// Name returns the actor name.
func (a *Address[H]) Name() string { return a.name }

// Status returns a snapshot of the actor state.
func (a *Address[H]) Status() Status { return *a.status.Load() }

// State returns the current lifecycle state.
func (a *Address[H]) State() State { return a.status.Load().State }

// Done is closed when the actor has stopped for good.
func (a *Address[H]) Done() <-chan struct{} { return a.done }

// Err returns why the actor stopped: nil after a cooperative stop,
// the last failure when the restart policy gave up.
func (a *Address[H]) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

// Stop requests shutdown and waits for completion.
func (a *Address[H]) Stop(ctx context.Context) error {
	a.closeOnce.Do(func() { close(a.closing) })
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop actor %s: %w", a.name, ctx.Err())
	}
}

// Fail forces the current incarnation to terminate abnormally so the supervisor
// restarts it with a fresh handle. Fail requests sent while the actor is building
// are handled once it is ready; requests during backoff are ignored.
func (a *Address[H]) Fail(ctx context.Context, reason string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrActorStopped
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to send fail request: %w", ctx.Err())
	case <-a.closing:
		return ErrActorStopped
	case a.control <- ctrlMsg{kind: ctrlFail, reason: reason}:
		return nil
	}
}

// enqueue blocks until the message is in the mailbox, ctx is done or the actor stops.
func (a *Address[H]) enqueue(ctx context.Context, env envelope[H]) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrActorStopped
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to send task: %w", ctx.Err())
	case <-a.closing:
		return ErrActorStopped
	case a.mailbox <- env:
		return nil
	}
}

// supervisor owns the construction parameters and the actor state.
// All fields are touched only by the supervisor goroutine.
type supervisor[H Resource] struct {
	addr    *Address[H]
	builder Builder[H]
	opts    Options
	log     *slog.Logger

	current    H
	present    bool
	generation uint64
	restarts   uint64
}

func (s *supervisor[H]) run(ctx context.Context) {
	var final error
	defer func() { s.shutdown(final) }()

	attempt := 0
	for {
		ready, err := s.incarnation(ctx)
		if err == nil {
			return
		}
		if ready {
			attempt = 0
		}
		attempt++

		s.transition(StateRestarting, err.Error())
		s.restarting()

		delay, ok := s.opts.Policy.NextDelay(attempt)
		if !ok {
			final = fmt.Errorf("actor %s gave up after %d failures: %w", s.opts.Name, attempt, err)
			s.log.Error("Restart policy exhausted, stopping actor", "attempt", attempt, "error", err)
			return
		}
		s.restarts++
		metrics.ActorRestarts.WithLabelValues(s.opts.Name).Inc()
		s.log.Warn("Actor failed, restarting", "attempt", attempt, "delay", delay, "error", err)

		if stopped := s.backoff(ctx, delay); stopped {
			return
		}
	}
}

// incarnation builds a handle and serves the mailbox until failure or stop.
// A nil error means a cooperative stop.
func (s *supervisor[H]) incarnation(ctx context.Context) (ready bool, err error) {
	s.transition(StateBuilding, "")

	h, stopped, err := s.build(ctx, s.generation+1)
	if stopped {
		return false, nil
	}
	if err != nil {
		return false, &Failure{Reason: "failed to build resource", Err: err}
	}

	s.current, s.present = h, true
	s.generation = h.Generation()
	s.opts.Policy.Reset()
	s.transition(StateReady, "")
	s.log.Info("Resource ready", "generation", s.generation, "handle", h.ID())

	return true, s.serve(ctx, h)
}

// build runs the builder off-loop while the mailbox stays untouched.
func (s *supervisor[H]) build(ctx context.Context, generation uint64) (h H, stopped bool, err error) {
	var buildCtx context.Context
	var cancel context.CancelFunc
	if s.opts.BuildTimeout > 0 {
		buildCtx, cancel = context.WithTimeout(ctx, s.opts.BuildTimeout)
	} else {
		buildCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		h   H
		err error
	}
	results := make(chan result, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- result{err: fmt.Errorf("builder panicked: %v", r)}
			}
		}()
		built, err := s.builder.Build(buildCtx, generation)
		results <- result{h: built, err: err}
	}()

	select {
	case res := <-results:
		metrics.ResourceBuildLatency.WithLabelValues(s.opts.Name).Observe(time.Since(start).Seconds())
		if res.err != nil {
			metrics.ResourceBuilds.WithLabelValues(s.opts.Name, "error").Inc()
			return h, false, res.err
		}
		metrics.ResourceBuilds.WithLabelValues(s.opts.Name, "success").Inc()
		return res.h, false, nil
	case <-ctx.Done():
	case <-s.addr.closing:
	}

	// Stopped mid-build: release whatever the builder eventually returns.
	cancel()
	go func() {
		if res := <-results; res.err == nil {
			res.h.Close()
		}
	}()
	return h, true, nil
}

func (s *supervisor[H]) serve(ctx context.Context, h H) error {
	var tick <-chan time.Time
	if s.opts.LivenessInterval > 0 {
		ticker := time.NewTicker(s.opts.LivenessInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	probes := make(chan error, 1)
	probing := false
	failures := 0
	d := s.dispatcher()

	for {
		// Control first, so a Fail sent before a task is seen before that task.
		select {
		case c := <-s.addr.control:
			if c.kind == ctrlFail {
				return &Failure{Reason: "fail requested: " + c.reason}
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.addr.closing:
			return nil
		case c := <-s.addr.control:
			if c.kind == ctrlFail {
				return &Failure{Reason: "fail requested: " + c.reason}
			}
		case env := <-s.addr.mailbox:
			if err := s.handle(env, d); err != nil {
				return err
			}
		case <-tick:
			if probing {
				continue
			}
			probing = true
			go func() {
				pctx, cancel := context.WithTimeout(ctx, s.opts.LivenessTimeout)
				defer cancel()
				probes <- h.Ping(pctx)
			}()
		case err := <-probes:
			probing = false
			if err == nil {
				failures = 0
				continue
			}
			failures++
			s.log.Warn("Liveness probe failed", "failures", failures, "error", err)
			if failures >= s.opts.LivenessFailures {
				return &Failure{Reason: "liveness probe failed", Err: err}
			}
		}
	}
}

// handle dispatches one mailbox message. A panic here fails the incarnation.
func (s *supervisor[H]) handle(env envelope[H], d dispatcher) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Failure{Reason: "panic while handling message", Err: fmt.Errorf("%v\n%s", r, debug.Stack())}
			env.reject(err)
		}
	}()
	if !s.present {
		s.log.Debug("Dispatching task without handle", "seq", env.sequence())
		env.absent(d)
		return nil
	}
	s.log.Debug("Dispatching task", "seq", env.sequence(), "generation", s.generation)
	env.run(s.current, d)
	return nil
}

// backoff answers the mailbox with HandleAbsent until the restart delay elapses.
func (s *supervisor[H]) backoff(ctx context.Context, delay time.Duration) (stopped bool) {
	s.transition(StateBackoff, "")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	d := s.dispatcher()

	for {
		select {
		case <-ctx.Done():
			return true
		case <-s.addr.closing:
			return true
		case <-timer.C:
			return false
		case env := <-s.addr.mailbox:
			s.log.Debug("Dispatching task without handle", "seq", env.sequence())
			env.absent(d)
		case c := <-s.addr.control:
			s.log.Debug("Ignoring fail request during backoff", "reason", c.reason)
		}
	}
}

// restarting discards the current handle so a restart never reuses it.
// Close runs in the background because in-flight tasks may still hold connections.
func (s *supervisor[H]) restarting() {
	if !s.present {
		return
	}
	old := s.current
	var zero H
	s.current, s.present = zero, false
	s.log.Info("Discarding resource handle", "generation", old.Generation(), "handle", old.ID())
	go old.Close()
}

func (s *supervisor[H]) shutdown(final error) {
	a := s.addr
	a.closeOnce.Do(func() { close(a.closing) })

	a.mu.Lock()
	a.closed = true
	a.err = final
	a.mu.Unlock()

	for drained := false; !drained; {
		select {
		case env := <-a.mailbox:
			env.reject(ErrActorStopped)
		default:
			drained = true
		}
	}

	if s.present {
		s.current.Close()
		var zero H
		s.current, s.present = zero, false
	}

	reason := ""
	if final != nil {
		reason = final.Error()
	}
	s.transition(StateStopped, reason)
	s.log.Info("Actor stopped", "generation", s.generation, "restarts", s.restarts)
	close(a.done)
}

func (s *supervisor[H]) dispatcher() dispatcher {
	name := s.opts.Name
	return dispatcher{
		adapt: s.opts.AdaptError,
		observe: func(kind Kind, elapsed time.Duration) {
			metrics.TasksTotal.WithLabelValues(name, kind.String()).Inc()
			if kind != KindHandleAbsent {
				metrics.TaskLatency.WithLabelValues(name).Observe(elapsed.Seconds())
			}
		},
	}
}

func (s *supervisor[H]) transition(to State, reason string) {
	cur := s.addr.Status()
	t := NewTransition(cur.State, to, reason)
	if err := t.Validate(); err != nil {
		s.log.Warn("Unexpected actor state change", "error", err)
	}

	next := Status{
		State:      to,
		Generation: s.generation,
		Restarts:   s.restarts,
		LastError:  cur.LastError,
		Since:      t.Timestamp,
	}
	if s.present {
		next.HandleID = s.current.ID()
	}
	if reason != "" {
		next.LastError = reason
	}
	s.addr.status.Store(&next)
	metrics.ActorState.WithLabelValues(s.opts.Name).Set(float64(to))

	if s.opts.OnTransition != nil {
		s.opts.OnTransition(t)
	}
}
