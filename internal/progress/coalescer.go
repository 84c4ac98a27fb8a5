package progress

import (
	"context"
	"sync"
	"time"
)

// Renderer turns a tracker snapshot into the text that would be sent. It is
// supplied by the Telegram-specific presenter so this package stays
// transport-agnostic.
type Renderer func(State) string

// EditFunc dispatches a fire-and-forget edit of the progress message. It
// must not block on a reply; the coalescer never waits for delivery.
type EditFunc func(text string)

// DefaultDebounce is the minimum time between wake-ups (spec §4.6).
const DefaultDebounce = 2 * time.Second

// Coalescer drives one run's live progress message. Exactly one instance
// per run, started alongside the runner and cancelled when the runner
// finishes. It never propagates an error: a failed edit is the EditFunc's
// problem to log and forget.
type Coalescer struct {
	tracker  *Tracker
	render   Renderer
	edit     EditFunc
	debounce time.Duration

	mu          sync.Mutex
	eventSeq    int
	renderedSeq int
	lastSent    string
	lastFlushAt time.Time
	created     bool

	wake chan struct{}
}

// NewCoalescer builds a coalescer. created reports whether the progress
// message was actually sent; if false, every wake-up silently no-ops per
// spec §4.6's "never created" clause.
func NewCoalescer(tracker *Tracker, render Renderer, edit EditFunc, created bool, debounce time.Duration) *Coalescer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Coalescer{
		tracker:  tracker,
		render:   render,
		edit:     edit,
		debounce: debounce,
		created:  created,
		wake:     make(chan struct{}, 1),
	}
}

// Bump notifies the coalescer that NoteEvent reported a visible change. Call
// this immediately after every Tracker.NoteEvent that returns true.
func (c *Coalescer) Bump() {
	c.mu.Lock()
	c.eventSeq++
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run drives the debounce loop until ctx is cancelled. Intended to be
// started in the same task group as the runner.
func (c *Coalescer) Run(ctx context.Context) {
	if !c.created {
		// Still drain wake-ups so Bump never blocks, but never render.
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
			}
		}
	}

	timer := time.NewTimer(c.debounce)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
			// A wake-up inside the current debounce window doesn't flush on
			// its own; it just marks eventSeq dirty (already done in Bump)
			// and waits for the running timer to collapse it with whatever
			// else arrives before that timer fires. This is what actually
			// enforces "at most one edit per debounce window" instead of
			// flushing once per Bump.
			if time.Since(c.lastFlushTime()) < c.debounce {
				continue
			}
			c.flushIfDirty()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.debounce)
		case <-timer.C:
			c.flushIfDirty()
			timer.Reset(c.debounce)
		}
	}
}

func (c *Coalescer) lastFlushTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFlushAt
}

func (c *Coalescer) flushIfDirty() {
	c.mu.Lock()
	dirty := c.eventSeq > c.renderedSeq
	c.mu.Unlock()
	if !dirty {
		return
	}

	snapshot := c.tracker.Snapshot()
	text := c.render(snapshot)

	c.mu.Lock()
	c.renderedSeq = c.eventSeq
	c.lastFlushAt = time.Now()
	changed := text != c.lastSent
	if changed {
		c.lastSent = text
	}
	c.mu.Unlock()

	if changed {
		c.edit(text)
	}
}
