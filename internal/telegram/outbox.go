// Package telegram implements the Telegram-facing half of the bridge: the
// rate-limited priority outbox (§4.7), a thin client wrapping it, the
// long-poll loop, the presenter, and the per-session thread scheduler
// (§4.9, intentionally named apart from the teacher's unrelated daily-
// reminder scheduler in scheduler_cron.go).
package telegram

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Priority ordering: SEND < EDIT < DELETE (spec §4.7), lower runs first.
type Priority int

const (
	PrioritySend Priority = iota
	PriorityEdit
	PriorityDelete
)

// OpKind distinguishes the three coalescing families.
type OpKind string

const (
	OpSend   OpKind = "send"
	OpEdit   OpKind = "edit"
	OpDelete OpKind = "delete"
)

// OpKey determines coalescing per spec §4.7. Edits/deletes/replace-sends are
// keyed by (kind, chat_id, message_id); everything else gets a unique key
// and is never coalesced.
type OpKey struct {
	Kind      OpKind
	ChatID    int64
	MessageID int
	Unique    int64 // distinguishes non-coalesced ops; 0 for coalesced ones
}

// RetryAfter is returned by Execute when Telegram replies 429; the outbox
// sleeps the given duration and retries the same op once more (looping
// until success, per spec §4.7).
type RetryAfter struct {
	Seconds float64
}

func (e RetryAfter) Error() string { return "telegram: retry after" }

// OutboxOp is one unit of work.
type OutboxOp struct {
	Key      OpKey
	Label    string
	Priority Priority
	ChatID   int64
	Execute  func() error
	QueuedAt time.Time

	index int // heap bookkeeping
}

// Outbox is the single-writer-per-chat dispatcher: priority queue, per-op
// coalescing, and a per-chat token bucket rate limiter. No direct
// original_source file implements this (outbox.py was not among the kept
// files); it is built from client.py's observable call contract plus
// spec §4.7's invariants, using golang.org/x/time/rate for the limiter
// (see DESIGN.md).
type Outbox struct {
	logger *slog.Logger

	mu       sync.Mutex
	pq       opHeap
	byKey    map[OpKey]*OutboxOp
	closed   bool
	wake     chan struct{}
	limiters map[int64]*rate.Limiter

	uniqueSeq int64
}

func NewOutbox(logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	ob := &Outbox{
		logger:   logger,
		byKey:    make(map[OpKey]*OutboxOp),
		wake:     make(chan struct{}, 1),
		limiters: make(map[int64]*rate.Limiter),
	}
	heap.Init(&ob.pq)
	return ob
}

// isGroupChat mirrors takopi's client.py is_group_chat_id: a chat is a
// group/channel iff its id is negative.
func isGroupChat(chatID int64) bool {
	return chatID < 0
}

func (ob *Outbox) limiterFor(chatID int64) *rate.Limiter {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if l, ok := ob.limiters[chatID]; ok {
		return l
	}
	var l *rate.Limiter
	if isGroupChat(chatID) {
		l = rate.NewLimiter(rate.Every(time.Minute/20), 1)
	} else {
		l = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	ob.limiters[chatID] = l
	return l
}

// nextUniqueKey mints a key that never coalesces, for ops without a natural
// (chat, message) identity (getUpdates, setMyCommands, createForumTopic...).
func (ob *Outbox) nextUniqueKey(kind OpKind) OpKey {
	ob.mu.Lock()
	ob.uniqueSeq++
	seq := ob.uniqueSeq
	ob.mu.Unlock()
	return OpKey{Kind: kind, Unique: seq}
}

// Enqueue submits an op. If wait is true, Enqueue blocks until the op (or
// its coalesced replacement) has executed and returns its error; if false,
// it returns immediately (fire-and-forget), matching the coalescer's
// wait=false edits.
func (ob *Outbox) Enqueue(op OutboxOp, wait bool) error {
	var done chan error
	if wait {
		done = make(chan error, 1)
		inner := op.Execute
		op.Execute = func() error {
			err := inner()
			done <- err
			return err
		}
	}

	ob.mu.Lock()
	if ob.closed {
		ob.mu.Unlock()
		if wait {
			return errClosed
		}
		return nil
	}
	op.QueuedAt = time.Now()
	if existing, ok := ob.byKey[op.Key]; ok && op.Key.Unique == 0 {
		// Coalesce: replace the still-queued op's execute/label in place.
		existing.Execute = op.Execute
		existing.Label = op.Label
		ob.mu.Unlock()
		if wait {
			return <-done
		}
		return nil
	}
	heap.Push(&ob.pq, &op)
	if op.Key.Unique == 0 {
		ob.byKey[op.Key] = &op
	}
	ob.mu.Unlock()

	select {
	case ob.wake <- struct{}{}:
	default:
	}

	if wait {
		return <-done
	}
	return nil
}

// DropPendingEdits removes any still-queued (not yet started) edit for the
// given (chat, message) — used before a delete and before a replace-hinted
// send, per spec §4.7.
func (ob *Outbox) DropPendingEdits(chatID int64, messageID int) {
	key := OpKey{Kind: OpEdit, ChatID: chatID, MessageID: messageID}
	ob.mu.Lock()
	defer ob.mu.Unlock()
	op, ok := ob.byKey[key]
	if !ok {
		return
	}
	ob.pq.removeByKey(key)
	delete(ob.byKey, key)
	_ = op
}

var errClosed = &outboxClosedError{}

type outboxClosedError struct{}

func (e *outboxClosedError) Error() string { return "outbox: closed" }

// Run is the worker loop: pop the highest-priority op, wait for the chat's
// rate-limit budget, execute, and retry on RetryAfter. One Run call per
// Outbox is typical, but the design tolerates more since locking is
// per-queue.
func (ob *Outbox) Run(ctx context.Context) {
	for {
		op := ob.popNext(ctx)
		if op == nil {
			return
		}

		if op.ChatID != 0 {
			limiter := ob.limiterFor(op.ChatID)
			if err := limiter.Wait(ctx); err != nil {
				continue
			}
		}

		ob.execWithRetry(ctx, op)
	}
}

func (ob *Outbox) execWithRetry(ctx context.Context, op *OutboxOp) {
	for {
		err := op.Execute()
		var ra RetryAfter
		if err == nil {
			return
		}
		if asRetryAfter(err, &ra) {
			d := time.Duration(ra.Seconds * float64(time.Second))
			select {
			case <-time.After(d):
				continue
			case <-ctx.Done():
				return
			}
		}
		ob.logger.Warn("outbox.op_failed", "label", op.Label, "err", err)
		return
	}
}

func asRetryAfter(err error, out *RetryAfter) bool {
	if ra, ok := err.(RetryAfter); ok {
		*out = ra
		return true
	}
	return false
}

func (ob *Outbox) popNext(ctx context.Context) *OutboxOp {
	for {
		ob.mu.Lock()
		if ob.pq.Len() > 0 {
			op := heap.Pop(&ob.pq).(*OutboxOp)
			if op.Key.Unique == 0 {
				delete(ob.byKey, op.Key)
			}
			ob.mu.Unlock()
			return op
		}
		ob.mu.Unlock()

		select {
		case <-ob.wake:
		case <-ctx.Done():
			return nil
		}
	}
}

// Close drains and stops accepting new ops; idempotent, in-flight ops are
// abandoned rather than awaited.
func (ob *Outbox) Close() {
	ob.mu.Lock()
	ob.closed = true
	ob.mu.Unlock()
}

// opHeap is a container/heap implementing priority + FIFO-within-priority
// ordering by queued_at.
type opHeap []*OutboxOp

func (h opHeap) Len() int { return len(h) }
func (h opHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].QueuedAt.Before(h[j].QueuedAt)
}
func (h opHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *opHeap) Push(x any) {
	op := x.(*OutboxOp)
	op.index = len(*h)
	*h = append(*h, op)
}
func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return op
}
func (h *opHeap) removeByKey(key OpKey) {
	for i, op := range *h {
		if op.Key == key {
			heap.Remove(h, i)
			return
		}
	}
}
