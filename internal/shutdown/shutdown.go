// Package shutdown broadcasts a single terminate notification to subscribers.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Broadcaster fans one terminate notification out to every subscriber.
// Subscribing after the trigger returns an already closed channel.
type Broadcaster struct {
	mu        sync.Mutex
	triggered bool
	reason    string
	subs      []chan struct{}
	done      chan struct{}
}

// New creates a broadcaster.
func New() *Broadcaster {
	return &Broadcaster{done: make(chan struct{})}
}

// Subscribe returns a channel closed on shutdown.
func (b *Broadcaster) Subscribe() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan struct{})
	if b.triggered {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Trigger notifies all subscribers. Only the first call has an effect.
func (b *Broadcaster) Trigger(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.triggered {
		return
	}
	b.triggered = true
	b.reason = reason
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	close(b.done)
}

// Done is closed once Trigger has run.
func (b *Broadcaster) Done() <-chan struct{} { return b.done }

// Reason returns what triggered the shutdown, empty before Trigger.
func (b *Broadcaster) Reason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// Context returns a context canceled on shutdown.
func (b *Broadcaster) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// ListenSignals triggers on SIGINT or SIGTERM until ctx is done.
func (b *Broadcaster) ListenSignals(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("Received signal, shutting down...", "signal", sig)
			b.Trigger(sig.String())
		case <-ctx.Done():
		case <-b.done:
		}
	}()
}
