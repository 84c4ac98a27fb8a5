package telegram

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestOutbox() *Outbox {
	return NewOutbox(nil)
}

func TestOutbox_PriorityOrdering(t *testing.T) {
	ob := newTestOutbox()

	var mu sync.Mutex
	var order []string
	record := func(label string) func() error {
		return func() error {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return nil
		}
	}

	// Enqueue delete and edit before send; send must still run first.
	_ = ob.Enqueue(OutboxOp{Key: ob.nextUniqueKey(OpDelete), Label: "delete", Priority: PriorityDelete, Execute: record("delete")}, false)
	_ = ob.Enqueue(OutboxOp{Key: ob.nextUniqueKey(OpEdit), Label: "edit", Priority: PriorityEdit, Execute: record("edit")}, false)
	_ = ob.Enqueue(OutboxOp{Key: ob.nextUniqueKey(OpSend), Label: "send", Priority: PrioritySend, Execute: record("send")}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go ob.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 ops to run, got %d: %v", len(order), order)
	}
	if order[0] != "send" || order[1] != "edit" || order[2] != "delete" {
		t.Fatalf("expected send < edit < delete ordering, got %v", order)
	}
}

func TestOutbox_CoalescesSameKey(t *testing.T) {
	ob := newTestOutbox()
	key := OpKey{Kind: OpEdit, ChatID: 1, MessageID: 99}

	var mu sync.Mutex
	var executed []string
	mk := func(label string) func() error {
		return func() error {
			mu.Lock()
			executed = append(executed, label)
			mu.Unlock()
			return nil
		}
	}

	_ = ob.Enqueue(OutboxOp{Key: key, Label: "first", Priority: PriorityEdit, Execute: mk("first")}, false)
	_ = ob.Enqueue(OutboxOp{Key: key, Label: "second", Priority: PriorityEdit, Execute: mk("second")}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go ob.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(executed) != 1 {
		t.Fatalf("expected exactly 1 execution after coalescing, got %d: %v", len(executed), executed)
	}
	if executed[0] != "second" {
		t.Fatalf("expected the later enqueue to win the coalesce, got %q", executed[0])
	}
}

func TestOutbox_DropPendingEdits(t *testing.T) {
	ob := newTestOutbox()
	key := OpKey{Kind: OpEdit, ChatID: 1, MessageID: 5}

	var ran bool
	_ = ob.Enqueue(OutboxOp{Key: key, Label: "edit", Priority: PriorityEdit, Execute: func() error {
		ran = true
		return nil
	}}, false)

	ob.DropPendingEdits(1, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go ob.Run(ctx)
	time.Sleep(30 * time.Millisecond)

	if ran {
		t.Fatalf("expected dropped edit to never execute")
	}
}

func TestOutbox_EnqueueWaitReturnsExecuteError(t *testing.T) {
	ob := newTestOutbox()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go ob.Run(ctx)

	errBoom := &outboxClosedError{} // any error value works here
	err := ob.Enqueue(OutboxOp{Key: ob.nextUniqueKey(OpSend), Label: "send", Priority: PrioritySend, Execute: func() error {
		return errBoom
	}}, true)
	if err != errBoom {
		t.Fatalf("expected Enqueue(wait=true) to surface the execute error, got %v", err)
	}
}

func TestOutbox_RetryAfterRetriesAndSucceeds(t *testing.T) {
	ob := newTestOutbox()

	var attempts int
	var mu sync.Mutex
	done := make(chan struct{})

	_ = ob.Enqueue(OutboxOp{Key: ob.nextUniqueKey(OpSend), Label: "send", Priority: PrioritySend, Execute: func() error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return RetryAfter{Seconds: 0.02}
		}
		close(done)
		return nil
	}}, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go ob.Run(ctx)

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected the op to eventually succeed after a retry")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}
