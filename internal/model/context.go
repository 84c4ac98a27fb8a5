package model

import (
	"sync"
	"time"
)

// RunContext binds a run to a project alias and optional branch. Derived
// per message from the incoming text plus any bound topic; discarded after
// the run, persisted only as part of a topic binding.
type RunContext struct {
	Project string
	Branch  string
}

func (c RunContext) IsZero() bool {
	return c.Project == "" && c.Branch == ""
}

// MessageRef identifies a Telegram message for edit/delete/reply.
type MessageRef struct {
	ChatID    int64
	MessageID int
	ThreadID  int // 0 when the chat has no forum topics
}

// RunningTask is the live handle for one in-flight run, registered under
// its progress message's ref so /cancel can find it. Created when the
// orchestrator starts work; removed on completion.
type RunningTask struct {
	ResumeReady     chan struct{}
	CancelRequested chan struct{}
	Done            chan struct{}
	Context         RunContext
	StartedAt       time.Time
	ProgressRef     MessageRef

	mu         sync.Mutex
	resume     ResumeToken
	resumeOnce sync.Once
	cancelOnce sync.Once
	doneOnce   sync.Once
}

func NewRunningTask(ref MessageRef, ctx RunContext) *RunningTask {
	return &RunningTask{
		ResumeReady:     make(chan struct{}),
		CancelRequested: make(chan struct{}),
		Done:            make(chan struct{}),
		Context:         ctx,
		StartedAt:       time.Now(),
		ProgressRef:     ref,
	}
}

// PublishResume records the discovered resume token and wakes anyone
// waiting on ResumeReady. Only the first call has effect.
func (t *RunningTask) PublishResume(token ResumeToken) {
	t.resumeOnce.Do(func() {
		t.mu.Lock()
		t.resume = token
		t.mu.Unlock()
		close(t.ResumeReady)
	})
}

// Resume returns the published resume token, if any.
func (t *RunningTask) Resume() ResumeToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resume
}

// RequestCancel signals the running task to stop. Idempotent.
func (t *RunningTask) RequestCancel() {
	t.cancelOnce.Do(func() { close(t.CancelRequested) })
}

// Cancelled reports whether RequestCancel has been called.
func (t *RunningTask) Cancelled() bool {
	select {
	case <-t.CancelRequested:
		return true
	default:
		return false
	}
}

// MarkDone signals completion. Idempotent.
func (t *RunningTask) MarkDone() {
	t.doneOnce.Do(func() { close(t.Done) })
}
