// Package orchestrator implements the handle-message loop (spec §4.8): it
// owns the progress message lifecycle, wires a Runner's event stream into a
// progress.Tracker/Coalescer pair, registers the in-flight RunningTask for
// /cancel lookup, serializes same-session resumes through the runner
// package's lock registry, and renders the final outcome through a
// Presenter. Grounded on the teacher's internal/telegram/bot.go
// (handleMessage + pumpEvents) and original_source/src/takopi/runner.py's
// BaseRunner.run/run_locked lock-ordering.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"mybot/internal/model"
	"mybot/internal/progress"
	"mybot/internal/runner"
)

// Presenter is the subset of internal/telegram.Presenter the orchestrator
// needs, kept as an interface here so this package stays import-free of
// telegram specifics (and so it's mockable in tests).
type Presenter interface {
	RenderProgress(st progress.State, contextLine string) string
	RenderFinal(engineID string, ok bool, answer, errText string, resume model.ResumeToken, cancelled bool) model.RenderedMessage
}

// Messenger is the subset of internal/telegram.Client the orchestrator
// needs to send/edit/delete the progress message.
type Messenger interface {
	SendMessage(ref model.MessageRef, text string, replyTo int, silent bool, replaceRef *model.MessageRef) (model.MessageRef, error)
	EditMessageText(ref model.MessageRef, text string)
	DeleteMessage(ref model.MessageRef)
}

// Runners resolves an engine id to the Runner that drives it.
type Runners interface {
	Get(engineID string) (*runner.Runner, bool)
}

// SessionGate is the subset of telegram.ThreadScheduler the orchestrator
// needs to close the fresh-run session-lock gap described in spec §4.9's
// note_thread_known: a resumed run is already serialized by
// runner.LockRegistry, but a fresh run (req.Resume == nil at start) holds
// no lock at all until its session id comes back on the first Started
// event. NoteThreadKnown registers that id as busy the moment it's known,
// so a job that already carries (or later learns) the same resume token
// waits behind this one instead of starting a second subprocess against
// the same session.
type SessionGate interface {
	NoteThreadKnown(key string) (done chan struct{}, owned bool)
}

// SimpleRunners is the straightforward map-backed Runners implementation
// used by cmd/mybot's wiring.
type SimpleRunners map[string]*runner.Runner

func (m SimpleRunners) Get(engineID string) (*runner.Runner, bool) {
	r, ok := m[engineID]
	return r, ok
}

// Request is everything needed to start or resume one run.
type Request struct {
	Engine   string
	Prompt   string
	Resume   *model.ResumeToken
	Context  model.RunContext
	ChatID   int64
	ThreadID int
	ReplyTo  int

	// FinalNotify controls how the finished run is delivered (spec §4.8
	// step 7, grounded on original_source's cfg.final_notify): when true,
	// the final text is sent as a fresh notifying message that replaces
	// the progress message. When false, the progress message is edited in
	// place (silently, no new notification) as long as the final text fits
	// the edit budget; only then does it fall back to a notifying send.
	// The initial progress message itself is always sent silently
	// regardless of this flag (step 1) — FinalNotify governs the *final*
	// delivery only.
	FinalNotify bool
}

// Outcome is what HandleMessage reports once the run has finished (or
// failed to start).
type Outcome struct {
	OK        bool
	Answer    string
	Error     string
	Resume    model.ResumeToken
	Cancelled bool
}

// Orchestrator wires the tightly-coupled core subsystems together for one
// bridge instance.
type Orchestrator struct {
	runners          Runners
	presenter        Presenter
	messenger        Messenger
	locks            *runner.LockRegistry
	gate             SessionGate
	logger           *slog.Logger
	progressDebounce time.Duration

	tasks *TaskRegistry
}

func New(runners Runners, presenter Presenter, messenger Messenger, locks *runner.LockRegistry, gate SessionGate, logger *slog.Logger, progressDebounce time.Duration) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		runners:          runners,
		presenter:        presenter,
		messenger:        messenger,
		locks:            locks,
		gate:             gate,
		logger:           logger,
		progressDebounce: progressDebounce,
		tasks:            NewTaskRegistry(),
	}
}

// Tasks exposes the running-task registry for /cancel and /status lookups.
func (o *Orchestrator) Tasks() *TaskRegistry { return o.tasks }

// HandleMessage runs req to completion: sends an initial progress message,
// drives the runner and coalescer concurrently, and replaces the progress
// message with the final rendering. It returns once the run (or its
// cancellation) is fully resolved; callers typically invoke this from a
// goroutine per spec §4.9's thread-scheduler worker.
func (o *Orchestrator) HandleMessage(ctx context.Context, req Request) Outcome {
	rn, ok := o.runners.Get(req.Engine)
	if !ok {
		return Outcome{OK: false, Error: fmt.Sprintf("unknown engine %q", req.Engine)}
	}

	// The initial progress message is always sent silently (spec §4.8 step
	// 1) regardless of how the final message will be delivered.
	progressRef, sendErr := o.messenger.SendMessage(
		model.MessageRef{ChatID: req.ChatID, ThreadID: req.ThreadID},
		"starting…", req.ReplyTo, true, nil,
	)
	if sendErr != nil {
		o.logger.Error("orchestrator.progress_send_failed", "err", sendErr)
		return Outcome{OK: false, Error: "failed to send progress message"}
	}

	task := model.NewRunningTask(progressRef, req.Context)
	o.tasks.Register(progressRef, task)
	defer o.tasks.Unregister(progressRef)
	defer task.MarkDone()

	var release func()
	if req.Resume != nil && !req.Resume.IsZero() {
		r, err := o.locks.Acquire(ctx, req.Resume.Key())
		if err != nil {
			return Outcome{OK: false, Error: "cancelled before start"}
		}
		release = r
		defer release()
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		select {
		case <-task.CancelRequested:
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	tracker := progress.NewTracker()
	coalescer := progress.NewCoalescer(tracker, func(st progress.State) string {
		return o.presenter.RenderProgress(st, contextLine(req.Context))
	}, func(text string) {
		o.messenger.EditMessageText(progressRef, text)
	}, true, o.progressDebounce)

	events := rn.Run(runCtx, req.Prompt, req.Resume)

	var final model.Completed
	var haveFinal bool

	// sessionGateDone is non-nil only when this run discovered its session
	// id itself (it arrived with none) and owns the resulting gate; it must
	// be closed exactly once, when the run is fully finished, so a job
	// queued against the now-known session key can proceed.
	var sessionGateDone chan struct{}
	freshRun := req.Resume == nil || req.Resume.IsZero()

	var g errgroup.Group
	g.Go(func() error {
		coalescer.Run(runCtx)
		return nil
	})
	g.Go(func() error {
		for ev := range events {
			if tracker.NoteEvent(ev) {
				coalescer.Bump()
			}
			if started, ok := ev.(model.Started); ok && !started.Resume.IsZero() {
				task.PublishResume(started.Resume)
				if o.gate != nil && freshRun && sessionGateDone == nil {
					if gate, owned := o.gate.NoteThreadKnown(started.Resume.Key()); owned {
						sessionGateDone = gate
					}
				}
			}
			if completed, ok := ev.(model.Completed); ok {
				final = completed
				haveFinal = true
			}
		}
		return nil
	})
	_ = g.Wait()

	if sessionGateDone != nil {
		close(sessionGateDone)
	}

	cancelled := task.Cancelled() && !haveFinal
	presented := o.renderOutcome(req.Engine, haveFinal, final, cancelled, tracker)

	o.deliverFinal(progressRef, req, presented)

	if !haveFinal {
		return Outcome{OK: false, Error: "no result", Cancelled: cancelled}
	}
	return Outcome{OK: final.OK, Answer: final.Answer, Error: final.Error, Resume: final.Resume, Cancelled: cancelled}
}

// telegramTextLimit is Telegram's hard ceiling on one message/edit body.
// The presenter already truncates to the configured MaxChunkBytes, which
// operators are expected to keep under this, but deliverFinal checks it
// directly rather than trusting that invariant blindly.
const telegramTextLimit = 4096

// deliverFinal implements spec §4.8 step 7: when the caller asked for a
// quiet finish (FinalNotify == false) and the rendered text still fits in
// one message, the progress message is edited in place instead of being
// replaced by a fresh notifying send.
func (o *Orchestrator) deliverFinal(progressRef model.MessageRef, req Request, presented model.RenderedMessage) {
	if !req.FinalNotify && len(presented.Text) <= telegramTextLimit {
		o.messenger.EditMessageText(progressRef, presented.Text)
		return
	}
	finalRef := model.MessageRef{ChatID: req.ChatID, ThreadID: req.ThreadID}
	o.messenger.SendMessage(finalRef, presented.Text, 0, false, &progressRef)
}

func (o *Orchestrator) renderOutcome(engineID string, haveFinal bool, final model.Completed, cancelled bool, tracker *progress.Tracker) model.RenderedMessage {
	if cancelled {
		snap := tracker.Snapshot()
		return o.presenter.RenderFinal(engineID, false, "", "", snap.Resume, true)
	}
	if !haveFinal {
		snap := tracker.Snapshot()
		return o.presenter.RenderFinal(engineID, false, "", "no result event", snap.Resume, false)
	}
	return o.presenter.RenderFinal(engineID, final.OK, final.Answer, final.Error, final.Resume, false)
}

// RequestCancel signals cancellation for the run owning progressRef, if any.
func (o *Orchestrator) RequestCancel(progressRef model.MessageRef) bool {
	task, ok := o.tasks.Get(progressRef)
	if !ok {
		return false
	}
	task.RequestCancel()
	return true
}

func contextLine(ctx model.RunContext) string {
	if ctx.IsZero() {
		return ""
	}
	if ctx.Branch == "" {
		return ctx.Project
	}
	return fmt.Sprintf("%s @ %s", ctx.Project, ctx.Branch)
}
