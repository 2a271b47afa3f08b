package shutdown

import (
	"context"
	"syscall"
	"testing"
	"time"
)

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestBroadcaster_Trigger(t *testing.T) {
	b := New()
	a := b.Subscribe()
	c := b.Subscribe()

	if closed(a) || closed(c) || closed(b.Done()) {
		t.Fatal("channels closed before trigger")
	}

	b.Trigger("manual")
	b.Trigger("again")

	if !closed(a) || !closed(c) || !closed(b.Done()) {
		t.Error("expected all channels closed after trigger")
	}
	if b.Reason() != "manual" {
		t.Errorf("expected first reason to stick, got %q", b.Reason())
	}
	if late := b.Subscribe(); !closed(late) {
		t.Error("late subscriber should see a closed channel")
	}
}

func TestBroadcaster_Context(t *testing.T) {
	b := New()
	ctx, cancel := b.Context(context.Background())
	defer cancel()

	b.Trigger("test")
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled after trigger")
	}
}

func TestBroadcaster_ListenSignals(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.ListenSignals(ctx)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not trigger shutdown")
	}
	if b.Reason() != syscall.SIGTERM.String() {
		t.Errorf("expected reason %q, got %q", syscall.SIGTERM.String(), b.Reason())
	}
}
