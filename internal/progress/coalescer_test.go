package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"mybot/internal/model"
)

func startedEvent(engine string) model.Event {
	return model.Started{Engine: engine}
}

func TestCoalescer_NotCreated_NeverEdits(t *testing.T) {
	tr := NewTracker()
	var edits int
	c := NewCoalescer(tr, func(State) string { return "x" }, func(string) { edits++ }, false, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	tr.NoteEvent(startedEvent("codex"))
	c.Bump()
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	if edits != 0 {
		t.Fatalf("expected no edits when created=false, got %d", edits)
	}
}

func TestCoalescer_Created_EditsOnceAfterBump(t *testing.T) {
	tr := NewTracker()
	var mu sync.Mutex
	var texts []string
	c := NewCoalescer(tr, func(s State) string { return s.Engine }, func(text string) {
		mu.Lock()
		texts = append(texts, text)
		mu.Unlock()
	}, true, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	tr.NoteEvent(startedEvent("codex"))
	c.Bump()
	time.Sleep(40 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(texts) == 0 {
		t.Fatalf("expected at least one edit")
	}
	if texts[len(texts)-1] != "codex" {
		t.Fatalf("expected last edit to render current engine, got %q", texts[len(texts)-1])
	}
}

func TestCoalescer_DedupesUnchangedRender(t *testing.T) {
	tr := NewTracker()
	var mu sync.Mutex
	var edits int
	c := NewCoalescer(tr, func(State) string { return "same" }, func(string) {
		mu.Lock()
		edits++
		mu.Unlock()
	}, true, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	tr.NoteEvent(startedEvent("codex"))
	c.Bump()
	time.Sleep(20 * time.Millisecond)
	tr.NoteEvent(startedEvent("codex")) // same engine, render text unchanged
	c.Bump()
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if edits != 1 {
		t.Fatalf("expected exactly 1 edit for an unchanged render, got %d", edits)
	}
}

func TestCoalescer_CoalescesDistinctBumpsWithinDebounceWindow(t *testing.T) {
	tr := NewTracker()
	var mu sync.Mutex
	var texts []string
	debounce := 60 * time.Millisecond
	c := NewCoalescer(tr, func(s State) string { return s.Engine }, func(text string) {
		mu.Lock()
		texts = append(texts, text)
		mu.Unlock()
	}, true, debounce)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	tr.NoteEvent(startedEvent("engine-a"))
	c.Bump()
	time.Sleep(10 * time.Millisecond)

	tr.NoteEvent(startedEvent("engine-b"))
	c.Bump()
	time.Sleep(10 * time.Millisecond)

	tr.NoteEvent(startedEvent("engine-c"))
	c.Bump()

	time.Sleep(debounce + 40*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 2 {
		t.Fatalf("expected exactly 2 edits (the immediate first bump, then one coalesced edit for the two bumps inside the debounce window), got %d: %v", len(texts), texts)
	}
	if texts[0] != "engine-a" {
		t.Fatalf("expected first edit to render engine-a, got %q", texts[0])
	}
	if texts[1] != "engine-c" {
		t.Fatalf("expected the coalesced edit to render the latest state engine-c, not an intermediate engine-b edit, got %q", texts[1])
	}
}
