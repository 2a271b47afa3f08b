package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeResource struct {
	gen     uint64
	closed  atomic.Bool
	pingErr func() error

	mu       sync.Mutex
	counters map[int]int64
}

func (r *fakeResource) ID() string         { return fmt.Sprintf("fake-%d", r.gen) }
func (r *fakeResource) Generation() uint64 { return r.gen }
func (r *fakeResource) Close()             { r.closed.Store(true) }

func (r *fakeResource) Ping(ctx context.Context) error {
	if r.pingErr != nil {
		return r.pingErr()
	}
	return nil
}

func (r *fakeResource) Incr(key int) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[key]++
	return r.counters[key]
}

type fakeBuilder struct {
	builds atomic.Int64
	// fail returns the build error for a generation; nil means success.
	fail func(gen uint64) error
	// gate, when set, blocks builds until closed or ctx is done.
	gate    chan struct{}
	pingErr func(gen uint64) error
}

func (b *fakeBuilder) Build(ctx context.Context, gen uint64) (*fakeResource, error) {
	b.builds.Add(1)
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.fail != nil {
		if err := b.fail(gen); err != nil {
			return nil, err
		}
	}
	r := &fakeResource{gen: gen, counters: make(map[int]int64)}
	if b.pingErr != nil {
		r.pingErr = func() error { return b.pingErr(gen) }
	}
	return r, nil
}

// dispatchRecorder captures the seq attribute of every dispatch log record.
type dispatchRecorder struct {
	mu   *sync.Mutex
	seqs *[]uint64
}

func newDispatchRecorder() dispatchRecorder {
	return dispatchRecorder{mu: &sync.Mutex{}, seqs: &[]uint64{}}
}

func (r dispatchRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r dispatchRecorder) Handle(_ context.Context, rec slog.Record) error {
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == "seq" {
			r.mu.Lock()
			*r.seqs = append(*r.seqs, a.Value.Uint64())
			r.mu.Unlock()
			return false
		}
		return true
	})
	return nil
}

func (r dispatchRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r dispatchRecorder) WithGroup(string) slog.Handler      { return r }

func (r dispatchRecorder) Seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), *r.seqs...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func startActor(t *testing.T, b *fakeBuilder, opts Options) *Address[*fakeResource] {
	t.Helper()
	if opts.Name == "" {
		opts.Name = t.Name()
	}
	addr := Start[*fakeResource](context.Background(), b, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = addr.Stop(ctx)
	})
	return addr
}

func generationTask() *Task[*fakeResource, uint64] {
	return NewTask(func(ctx context.Context, r *fakeResource) (uint64, error) {
		return r.Generation(), nil
	})
}

// =============================================================================
// Tests
// =============================================================================

func TestSubmit_Success(t *testing.T) {
	addr := startActor(t, &fakeBuilder{}, Options{})

	out, err := Submit(context.Background(), addr, generationTask())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	gen, ok := out.Value()
	if !ok {
		t.Fatalf("expected success, got %s", out)
	}
	if gen != 1 {
		t.Errorf("expected generation 1, got %d", gen)
	}
	if addr.State() != StateReady {
		t.Errorf("expected ready, got %s", addr.State())
	}
}

func TestSubmit_BufferedWhileBuilding(t *testing.T) {
	b := &fakeBuilder{gate: make(chan struct{})}
	addr := startActor(t, b, Options{})

	waitFor(t, time.Second, func() bool { return addr.State() == StateBuilding })

	pending, err := Send(context.Background(), addr, generationTask())
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case <-pending.Done():
		t.Fatal("task resolved before the handle was built")
	case <-time.After(50 * time.Millisecond):
	}

	close(b.gate)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if out.Kind() != KindSuccess {
		t.Errorf("expected success after build, got %s", out)
	}
}

func TestSubmit_DispatchesInSendOrder(t *testing.T) {
	rec := newDispatchRecorder()
	b := &fakeBuilder{gate: make(chan struct{})}
	addr := startActor(t, b, Options{Logger: slog.New(rec)})

	waitFor(t, time.Second, func() bool { return addr.State() == StateBuilding })

	const n = 25
	pending := make([]*Pending[uint64], n)
	for i := range n {
		p, err := Send(context.Background(), addr, generationTask())
		if err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
		pending[i] = p
	}
	close(b.gate)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i, p := range pending {
		out, err := p.Wait(ctx)
		if err != nil {
			t.Fatalf("Wait %d failed: %v", i, err)
		}
		if out.Kind() != KindSuccess {
			t.Errorf("task %d: expected success, got %s", i, out)
		}
	}

	seqs := rec.Seqs()
	if len(seqs) != n {
		t.Fatalf("expected %d dispatches, got %d", n, len(seqs))
	}
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("dispatch order %v, want 1..%d", seqs, n)
		}
	}
}

func TestSubmit_HandleAbsentDuringBackoff(t *testing.T) {
	buildErr := errors.New("connection refused")
	b := &fakeBuilder{fail: func(uint64) error { return buildErr }}
	addr := startActor(t, b, Options{Policy: ConstantPolicy{Delay: time.Hour}})

	waitFor(t, time.Second, func() bool { return addr.State() == StateBackoff })

	var invoked atomic.Int64
	for i := 0; i < 10; i++ {
		task := NewTask(func(ctx context.Context, r *fakeResource) (int, error) {
			invoked.Add(1)
			return 0, nil
		})
		out, err := Submit(context.Background(), addr, task)
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if out.Kind() != KindHandleAbsent {
			t.Errorf("expected handle absent, got %s", out)
		}
	}

	if n := invoked.Load(); n != 0 {
		t.Errorf("expected task body never invoked, got %d calls", n)
	}
	if n := b.builds.Load(); n != 1 {
		t.Errorf("expected a single build attempt, got %d", n)
	}
	if st := addr.Status(); st.Restarts != 1 || st.LastError == "" {
		t.Errorf("unexpected status after failed build: %+v", st)
	}
}

func TestFail_DiscardsHandle(t *testing.T) {
	addr := startActor(t, &fakeBuilder{}, Options{Policy: ConstantPolicy{Delay: 20 * time.Millisecond}})

	handleTask := func() *Task[*fakeResource, *fakeResource] {
		return NewTask(func(ctx context.Context, r *fakeResource) (*fakeResource, error) {
			return r, nil
		})
	}

	out, err := Submit(context.Background(), addr, handleTask())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	first, ok := out.Value()
	if !ok {
		t.Fatalf("expected success, got %s", out)
	}

	if err := addr.Fail(context.Background(), "test"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	out, err = Submit(context.Background(), addr, handleTask())
	if err != nil {
		t.Fatalf("Submit after fail failed: %v", err)
	}
	switch out.Kind() {
	case KindHandleAbsent:
	case KindSuccess:
		h, _ := out.Value()
		if h == first || h.Generation() <= first.Generation() {
			t.Errorf("task ran on a handle predating the failure (gen %d)", h.Generation())
		}
	default:
		t.Fatalf("unexpected outcome %s", out)
	}

	waitFor(t, time.Second, func() bool { return first.closed.Load() })
	waitFor(t, time.Second, func() bool {
		st := addr.Status()
		return st.State == StateReady && st.Generation == 2
	})

	out, err = Submit(context.Background(), addr, handleTask())
	if err != nil {
		t.Fatalf("Submit after restart failed: %v", err)
	}
	h, ok := out.Value()
	if !ok || h.Generation() != 2 {
		t.Errorf("expected generation 2 after restart, got %s", out)
	}
}

func TestSubmit_ConcurrentTasksAreIndependent(t *testing.T) {
	addr := startActor(t, &fakeBuilder{}, Options{})

	const n = 50
	var wg sync.WaitGroup
	results := make([]Outcome[int64], n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := NewTask(func(ctx context.Context, r *fakeResource) (int64, error) {
				return r.Incr(i), nil
			})
			results[i], errs[i] = Submit(context.Background(), addr, task)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("task %d: %v", i, errs[i])
		}
		v, ok := results[i].Value()
		if !ok {
			t.Fatalf("task %d: expected success, got %s", i, results[i])
		}
		if v != 1 {
			t.Errorf("task %d: expected counter 1, got %d", i, v)
		}
	}
}

func TestSubmit_TaskDoesNotBlockMailbox(t *testing.T) {
	addr := startActor(t, &fakeBuilder{}, Options{})

	release := make(chan struct{})
	slow := NewTask(func(ctx context.Context, r *fakeResource) (string, error) {
		<-release
		return "slow", nil
	})
	slowPending, err := Send(context.Background(), addr, slow)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := Submit(ctx, addr, generationTask())
	if err != nil {
		t.Fatalf("fast task blocked behind slow task: %v", err)
	}
	if out.Kind() != KindSuccess {
		t.Errorf("expected success, got %s", out)
	}

	close(release)
	slowOut, err := slowPending.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if v, _ := slowOut.Value(); v != "slow" {
		t.Errorf("expected slow result, got %s", slowOut)
	}
}

func TestTask_OneShot(t *testing.T) {
	addr := startActor(t, &fakeBuilder{}, Options{})

	var calls atomic.Int64
	task := NewTask(func(ctx context.Context, r *fakeResource) (int64, error) {
		return calls.Add(1), nil
	})

	if _, err := Submit(context.Background(), addr, task); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := Submit(context.Background(), addr, task); !errors.Is(err, ErrTaskConsumed) {
			t.Errorf("expected ErrTaskConsumed, got %v", err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected exactly one invocation, got %d", n)
	}
}

func TestTask_PanicBecomesDriverError(t *testing.T) {
	addr := startActor(t, &fakeBuilder{}, Options{})

	task := NewTask(func(ctx context.Context, r *fakeResource) (int, error) {
		panic("boom")
	})
	out, err := Submit(context.Background(), addr, task)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if out.Kind() != KindDriverError || !errors.Is(out.Err(), ErrTaskPanicked) {
		t.Errorf("expected panicked driver error, got %s", out)
	}

	// The actor keeps serving.
	if out, _ := Submit(context.Background(), addr, generationTask()); out.Kind() != KindSuccess {
		t.Errorf("expected success after panic, got %s", out)
	}
}

type adaptedErr struct{ err error }

func (e *adaptedErr) Error() string { return "adapted: " + e.err.Error() }
func (e *adaptedErr) Unwrap() error { return e.err }

func TestSubmit_AdaptsDriverErrors(t *testing.T) {
	addr := startActor(t, &fakeBuilder{}, Options{
		AdaptError: func(err error) error { return &adaptedErr{err: err} },
	})

	queryErr := errors.New("syntax error")
	task := NewTask(func(ctx context.Context, r *fakeResource) (int, error) {
		return 0, queryErr
	})
	out, err := Submit(context.Background(), addr, task)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	var ae *adaptedErr
	if !errors.As(out.Err(), &ae) || !errors.Is(out.Err(), queryErr) {
		t.Errorf("expected adapted driver error, got %v", out.Err())
	}
	if addr.State() != StateReady {
		t.Errorf("driver errors must not fail the actor, state %s", addr.State())
	}
}

func TestSupervisor_GivesUp(t *testing.T) {
	buildErr := errors.New("no route to host")
	b := &fakeBuilder{fail: func(uint64) error { return buildErr }}
	addr := startActor(t, b, Options{Policy: NeverRestart{}})

	select {
	case <-addr.Done():
	case <-time.After(time.Second):
		t.Fatal("actor did not stop")
	}

	if !errors.Is(addr.Err(), buildErr) {
		t.Errorf("expected build error, got %v", addr.Err())
	}
	if addr.State() != StateStopped {
		t.Errorf("expected stopped, got %s", addr.State())
	}
	if _, err := Submit(context.Background(), addr, generationTask()); !errors.Is(err, ErrActorStopped) {
		t.Errorf("expected ErrActorStopped, got %v", err)
	}
}

func TestSupervisor_RetriesUntilBuildSucceeds(t *testing.T) {
	var failures atomic.Int64
	b := &fakeBuilder{fail: func(uint64) error {
		if failures.Add(1) <= 3 {
			return errors.New("database starting up")
		}
		return nil
	}}
	addr := startActor(t, b, Options{Policy: ConstantPolicy{Delay: 5 * time.Millisecond}})

	waitFor(t, time.Second, func() bool { return addr.State() == StateReady })

	if n := b.builds.Load(); n != 4 {
		t.Errorf("expected 4 build attempts, got %d", n)
	}
	if st := addr.Status(); st.Generation != 1 || st.Restarts != 3 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestStop_RejectsBufferedTasks(t *testing.T) {
	b := &fakeBuilder{gate: make(chan struct{})}
	addr := startActor(t, b, Options{})

	waitFor(t, time.Second, func() bool { return addr.State() == StateBuilding })

	pending, err := Send(context.Background(), addr, generationTask())
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := addr.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if _, err := pending.Wait(ctx); !errors.Is(err, ErrActorStopped) {
		t.Errorf("expected buffered task rejected with ErrActorStopped, got %v", err)
	}
	if _, err := Send(context.Background(), addr, generationTask()); !errors.Is(err, ErrActorStopped) {
		t.Errorf("expected ErrActorStopped after stop, got %v", err)
	}
	if addr.Err() != nil {
		t.Errorf("cooperative stop should leave no error, got %v", addr.Err())
	}
}

func TestStop_ClosesHandle(t *testing.T) {
	addr := startActor(t, &fakeBuilder{}, Options{})

	out, err := Submit(context.Background(), addr, NewTask(func(ctx context.Context, r *fakeResource) (*fakeResource, error) {
		return r, nil
	}))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	h, _ := out.Value()

	if err := addr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !h.closed.Load() {
		t.Error("expected handle closed on stop")
	}
}

func TestLiveness_RebuildsHandle(t *testing.T) {
	pingErr := errors.New("server closed the connection unexpectedly")
	b := &fakeBuilder{pingErr: func(gen uint64) error {
		if gen == 1 {
			return pingErr
		}
		return nil
	}}

	var mu sync.Mutex
	var transitions []Transition
	addr := startActor(t, b, Options{
		Policy:           ConstantPolicy{Delay: 5 * time.Millisecond},
		LivenessInterval: 10 * time.Millisecond,
		LivenessFailures: 2,
		OnTransition: func(tr Transition) {
			mu.Lock()
			transitions = append(transitions, tr)
			mu.Unlock()
		},
	})

	waitFor(t, 2*time.Second, func() bool {
		st := addr.Status()
		return st.State == StateReady && st.Generation == 2
	})

	mu.Lock()
	defer mu.Unlock()
	for _, tr := range transitions {
		if !tr.IsValid() {
			t.Errorf("invalid transition %s -> %s", tr.From, tr.To)
		}
	}
}

func TestSend_ContextCanceled(t *testing.T) {
	b := &fakeBuilder{gate: make(chan struct{})}
	addr := startActor(t, b, Options{MailboxSize: 1})

	waitFor(t, time.Second, func() bool { return addr.State() == StateBuilding })

	// Fill the mailbox while the build holds it.
	if _, err := Send(context.Background(), addr, generationTask()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := Send(ctx, addr, generationTask()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
