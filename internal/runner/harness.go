// Package runner implements the subprocess runner harness (spawn one agent
// invocation, stream its JSONL stdout through a Translator, and surface
// cancellation, failure, and end-of-stream as structured Completed events)
// and the session lock registry that serializes concurrent resumes.
//
// Grounded on the teacher's internal/adapters/codex/exec_mode.go (spawn,
// own process group, concurrent stdout/stderr drain) generalized across
// engines, and on original_source/src/takopi/runner.py's run_impl for the
// exact event-processing and degrade-to-note-on-error order.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"mybot/internal/engine"
	"mybot/internal/model"
)

// killGrace is how long the harness waits after SIGTERM before SIGKILL.
const killGrace = 2 * time.Second

// stderrTailLimit bounds how much stderr is retained for error messages.
const stderrTailLimit = 8 * 1024

// Options configures one Runner instance, shared across many runs of the
// same engine.
type Options struct {
	EngineID   string
	CmdPath    string
	GlobalArgs []string
	WorkDir    string
	LogDir     string
	Translator engine.Translator

	// Interactive routes this engine's runs through a pty_fallback.go
	// PTYSession instead of plain stdout/stderr pipes, for CLIs that only
	// offer a REPL and have no one-shot "--json exec" mode. The engine's
	// Translator still decodes whatever JSONL the CLI prints; only how the
	// subprocess is driven changes.
	Interactive bool
}

type Runner struct {
	opts Options
}

func New(opts Options) *Runner {
	return &Runner{opts: opts}
}

// Run spawns one subprocess invocation and returns a channel of events. The
// sequence is finite: it ends after exactly one Completed, or after the
// context is cancelled (in which case a cancelled Completed is not
// synthesized here — the orchestrator renders cancellation itself once the
// channel closes without a Completed). The channel is closed when the
// subprocess has been fully reaped, regardless of why the run ended.
func (r *Runner) Run(ctx context.Context, prompt string, resume *model.ResumeToken) <-chan model.Event {
	if r.opts.Interactive {
		return r.runInteractive(ctx, prompt, resume)
	}

	out := make(chan model.Event, 64)

	argv, stdin := r.opts.Translator.BuildArgs(prompt, resume)
	fullArgv := append(append([]string{}, r.opts.GlobalArgs...), argv...)

	cmd := exec.Command(r.opts.CmdPath, fullArgv...)
	cmd.Dir = r.opts.WorkDir
	setProcessGroup(cmd)

	stdoutPipe, errOut := cmd.StdoutPipe()
	stderrPipe, errErr := cmd.StderrPipe()
	var stdinPipe io.WriteCloser
	if stdin != nil {
		stdinPipe, _ = cmd.StdinPipe()
	}

	go func() {
		defer close(out)

		if errOut != nil || errErr != nil {
			out <- startupFailure(r.opts.EngineID, fmt.Errorf("pipe setup: %v / %v", errOut, errErr))
			return
		}
		if err := cmd.Start(); err != nil {
			out <- startupFailure(r.opts.EngineID, err)
			return
		}

		if stdinPipe != nil {
			go func() {
				_, _ = stdinPipe.Write(stdin)
				_ = stdinPipe.Close()
			}()
		}

		state := r.opts.Translator.NewState()
		tail := newTailBuffer(stderrTailLimit)
		var tr *transcript
		if r.opts.LogDir != "" {
			tr = newTranscript(r.opts.LogDir, uuid.NewString())
		}

		var wg sync.WaitGroup
		wg.Add(2)

		completed := make(chan struct{})
		var completedOnce sync.Once
		markCompleted := func() { completedOnce.Do(func() { close(completed) }) }

		expected := resume
		var sessionSeen string
		var sessionMu sync.Mutex

		go func() {
			defer wg.Done()
			defer tail.Close()
			sc := bufio.NewScanner(stderrPipe)
			sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for sc.Scan() {
				tail.Write(sc.Bytes())
			}
		}()

		go func() {
			defer wg.Done()
			sc := bufio.NewScanner(stdoutPipe)
			sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
			for sc.Scan() {
				select {
				case <-completed:
					continue // drain silently once terminated
				default:
				}
				line := sc.Bytes()
				if len(bytes.TrimSpace(line)) == 0 {
					continue
				}
				if tr != nil {
					tr.Append(string(line) + "\n")
				}
				events, err := r.opts.Translator.Translate(line, state)
				if err != nil {
					out <- noteWarning(r.opts.EngineID, state, fmt.Sprintf("decode error: %v", err))
					continue
				}
				for _, ev := range events {
					ev, mismatch := checkStarted(ev, expected, &sessionSeen, &sessionMu)
					if mismatch != nil {
						out <- model.Completed{
							Engine: r.opts.EngineID,
							OK:     false,
							Error:  mismatch.Error(),
						}
						markCompleted()
						continue
					}
					if ev == nil {
						continue
					}
					if started, ok := ev.(model.Started); ok && tr != nil {
						tr.AdoptSessionID(started.Resume.Value)
					}
					out <- ev
					if _, ok := ev.(model.Completed); ok {
						markCompleted()
					}
				}
			}
		}()

		// Cooperative cancellation: SIGTERM, grace, SIGKILL. This goroutine
		// is the non-cancellable teardown phase — it keeps running even
		// after ctx is done so the final reap always happens.
		go func() {
			select {
			case <-ctx.Done():
			case <-completed:
				return
			}
			terminateProcessGroup(cmd)
			select {
			case <-waitDone(cmd, &wg):
				return
			case <-time.After(killGrace):
				killProcessGroup(cmd)
			}
		}()

		wg.Wait()
		err := cmd.Wait()

		select {
		case <-completed:
			return
		default:
		}

		// A cancelled run ends without a synthesized Completed; the
		// orchestrator renders the cancellation itself.
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			var exitErr *exec.ExitError
			rc := -1
			if errors.As(err, &exitErr) {
				rc = exitErr.ExitCode()
			}
			out <- noteWarning(r.opts.EngineID, state, fmt.Sprintf("process exited rc=%d: %s", rc, tail.String()))
			out <- model.Completed{
				Engine: r.opts.EngineID,
				OK:     false,
				Error:  fmt.Sprintf("%s failed (rc=%d).", r.opts.EngineID, rc),
			}
			return
		}

		out <- model.Completed{
			Engine: r.opts.EngineID,
			OK:     false,
			Error:  fmt.Sprintf("%s finished without a result event", r.opts.EngineID),
		}
	}()

	return out
}

// runInteractive drives an engine over a pseudo-terminal (see
// pty_fallback.go) instead of plain pipes, for CLIs without a one-shot JSON
// exec mode. The prompt is written as the session's first line of input;
// the translator decodes whatever JSONL the CLI still emits on its output
// stream, so the event-processing and Started-policy logic is identical to
// the pipe path.
func (r *Runner) runInteractive(ctx context.Context, prompt string, resume *model.ResumeToken) <-chan model.Event {
	out := make(chan model.Event, 64)

	argv, _ := r.opts.Translator.BuildArgs(prompt, resume)
	fullArgv := append(append([]string{}, r.opts.GlobalArgs...), argv...)

	go func() {
		defer close(out)

		sess, err := StartPTY(ctx, r.opts.CmdPath, fullArgv, r.opts.WorkDir)
		if err != nil {
			out <- startupFailure(r.opts.EngineID, err)
			return
		}
		defer sess.Stop()

		if err := sess.Send(prompt); err != nil {
			out <- startupFailure(r.opts.EngineID, err)
			return
		}

		state := r.opts.Translator.NewState()
		var tr *transcript
		if r.opts.LogDir != "" {
			tr = newTranscript(r.opts.LogDir, uuid.NewString())
		}

		expected := resume
		var sessionSeen string
		var sessionMu sync.Mutex
		var haveCompleted bool

		go func() {
			<-ctx.Done()
			sess.Stop()
		}()

		for line := range sess.Output() {
			if len(bytes.TrimSpace([]byte(line))) == 0 {
				continue
			}
			if tr != nil {
				tr.Append(line + "\n")
			}
			events, err := r.opts.Translator.Translate([]byte(line), state)
			if err != nil {
				out <- noteWarning(r.opts.EngineID, state, fmt.Sprintf("decode error: %v", err))
				continue
			}
			for _, ev := range events {
				ev, mismatch := checkStarted(ev, expected, &sessionSeen, &sessionMu)
				if mismatch != nil {
					out <- model.Completed{Engine: r.opts.EngineID, OK: false, Error: mismatch.Error()}
					haveCompleted = true
					continue
				}
				if ev == nil {
					continue
				}
				if started, ok := ev.(model.Started); ok && tr != nil {
					tr.AdoptSessionID(started.Resume.Value)
				}
				out <- ev
				if _, ok := ev.(model.Completed); ok {
					haveCompleted = true
				}
			}
		}

		if !haveCompleted && ctx.Err() == nil {
			out <- model.Completed{
				Engine: r.opts.EngineID,
				OK:     false,
				Error:  fmt.Sprintf("%s session ended without a result event", r.opts.EngineID),
			}
		}
	}()

	return out
}

// checkStarted enforces the Started-event policy from spec §4.1/§9: a
// resumed run MUST see the agent echo the same session id (hard failure on
// mismatch); a fresh run accepts whatever id is first reported. Duplicate
// Started events for the same id are dropped by the translators themselves
// before reaching here (they return nil); a duplicate for a *different* id
// is a hard failure regardless of whether the run was resumed.
func checkStarted(ev model.Event, expected *model.ResumeToken, sessionSeen *string, mu *sync.Mutex) (model.Event, error) {
	started, ok := ev.(model.Started)
	if !ok {
		return ev, nil
	}
	mu.Lock()
	defer mu.Unlock()
	if *sessionSeen == "" {
		*sessionSeen = started.Resume.Value
		if expected != nil && expected.Value != "" && started.Resume.Value != expected.Value {
			return nil, fmt.Errorf("session id mismatch: expected %q, agent reported %q", expected.Value, started.Resume.Value)
		}
		return ev, nil
	}
	if started.Resume.Value != *sessionSeen {
		return nil, fmt.Errorf("session id changed mid-run: had %q, saw %q", *sessionSeen, started.Resume.Value)
	}
	return ev, nil
}

func noteWarning(engineID string, state engine.State, message string) model.Event {
	return model.ActionEvent{
		Engine: engineID,
		Action: model.Action{ID: fmt.Sprintf("note-%d", state.Seq()), Kind: model.ActionWarning, Title: "warning", Detail: map[string]any{"message": message}},
		Phase:  model.PhaseCompleted,
		Level:  "warning",
	}
}

func startupFailure(engineID string, err error) model.Event {
	return model.Completed{Engine: engineID, OK: false, Error: fmt.Sprintf("failed to start %s: %v", engineID, err)}
}

func waitDone(cmd *exec.Cmd, wg *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// tailBuffer retains the last N bytes written to it, for error reporting.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   bytes.Buffer
	file  *os.File
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	t.buf.WriteByte('\n')
	if t.buf.Len() > t.limit {
		excess := t.buf.Len() - t.limit
		t.buf.Next(excess)
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

func (t *tailBuffer) Close() {}

// TranscriptPath returns the per-session transcript log path, matching the
// teacher's internal/adapters/codex/exec_mode.go appendTranscript layout.
func TranscriptPath(logDir, sessionID string) string {
	return filepath.Join(logDir, "sessions", sessionID+".log")
}
