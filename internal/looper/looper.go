// Package looper fires a trigger repeatedly until told to stop.
// Each run returns the delay until the next one.
package looper

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vietddude/pgactor/internal/metrics"
)

// Trigger performs one run and returns the delay before the next run.
// A non-positive delay means the looper's default interval.
type Trigger func(ctx context.Context) time.Duration

// Locker is a distributed lock so only one replica fires per run.
// A held lock is refreshed every half TTL until the trigger returns.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	RefreshLock(ctx context.Context, key, token string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, key, token string) error
}

// Config holds looper settings.
type Config struct {
	Name     string        `yaml:"name"`
	Interval time.Duration `yaml:"interval"`
	// LockKey enables the distributed lock when a Locker is set.
	LockKey  string        `yaml:"lock_key"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// Looper runs a Trigger in a loop.
type Looper struct {
	cfg     Config
	trigger Trigger
	locker  Locker
	log     *slog.Logger
	done    chan struct{}
}

// Option configures a Looper.
type Option func(*Looper)

// WithLocker makes runs conditional on holding cfg.LockKey.
func WithLocker(l Locker) Option {
	return func(lp *Looper) { lp.locker = l }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(lp *Looper) { lp.log = log }
}

// New creates a looper.
func New(cfg Config, trigger Trigger, opts ...Option) *Looper {
	if cfg.Name == "" {
		cfg.Name = "looper"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	l := &Looper{
		cfg:     cfg,
		trigger: trigger,
		log:     slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With("looper", cfg.Name)
	return l
}

// Name returns the looper name.
func (l *Looper) Name() string { return l.cfg.Name }

// Done is closed when Run returns.
func (l *Looper) Done() <-chan struct{} { return l.done }

// Run fires the trigger immediately and then after each returned delay,
// until ctx is done or stop is closed. It blocks.
func (l *Looper) Run(ctx context.Context, stop <-chan struct{}) {
	defer close(l.done)
	l.log.Info("Looper started", "interval", l.cfg.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("Looper stopped", "reason", ctx.Err())
			return
		case <-stop:
			l.log.Info("Looper stopped", "reason", "shutdown")
			return
		case <-timer.C:
			timer.Reset(l.runOnce(ctx))
		}
	}
}

func (l *Looper) runOnce(ctx context.Context) time.Duration {
	if l.locker != nil && l.cfg.LockKey != "" {
		token, ok, err := l.locker.AcquireLock(ctx, l.cfg.LockKey, l.cfg.LockTTL)
		if err != nil {
			metrics.LooperRuns.WithLabelValues(l.cfg.Name, "lock_error").Inc()
			l.log.Warn("Failed to acquire looper lock", "key", l.cfg.LockKey, "error", err)
			return l.cfg.Interval
		}
		if !ok {
			metrics.LooperRuns.WithLabelValues(l.cfg.Name, "skipped").Inc()
			l.log.Debug("Looper lock held elsewhere, skipping run", "key", l.cfg.LockKey)
			return l.cfg.Interval
		}
		stopRefresh := l.keepLock(ctx, token)
		defer func() {
			stopRefresh()
			if err := l.locker.ReleaseLock(context.WithoutCancel(ctx), l.cfg.LockKey, token); err != nil {
				l.log.Warn("Failed to release looper lock", "key", l.cfg.LockKey, "error", err)
			}
		}()
	}

	delay, err := l.fire(ctx)
	if err != nil {
		metrics.LooperRuns.WithLabelValues(l.cfg.Name, "panic").Inc()
		l.log.Error("Looper trigger panicked", "error", err)
		return l.cfg.Interval
	}
	metrics.LooperRuns.WithLabelValues(l.cfg.Name, "ok").Inc()
	if delay <= 0 {
		return l.cfg.Interval
	}
	return delay
}

// keepLock extends the lock while a run is in progress. The returned func
// stops refreshing and waits for an in-flight refresh to finish.
func (l *Looper) keepLock(ctx context.Context, token string) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(max(l.cfg.LockTTL/2, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.locker.RefreshLock(ctx, l.cfg.LockKey, token, l.cfg.LockTTL); err != nil {
					l.log.Warn("Failed to refresh looper lock", "key", l.cfg.LockKey, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (l *Looper) fire(ctx context.Context) (delay time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v\n%s", r, debug.Stack())
		}
	}()
	return l.trigger(ctx), nil
}
