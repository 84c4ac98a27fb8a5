package runner

import (
	"context"
	"runtime"
	"testing"
	"time"

	"mybot/internal/engine"
	"mybot/internal/model"
)

// fakeState is the minimal engine.State a fakeTranslator needs.
type fakeState struct{ seq int }

func (s *fakeState) Seq() int { s.seq++; return s.seq }

// fakeTranslator treats every non-empty stdout line as the literal answer
// text and immediately emits Started followed by a successful Completed,
// enough to drive harness_test's scenarios without a real agent CLI.
type fakeTranslator struct {
	engineID string
	args     []string
}

func (f *fakeTranslator) Engine() string          { return f.engineID }
func (f *fakeTranslator) NewState() engine.State  { return &fakeState{} }
func (f *fakeTranslator) ResumeSyntax() engine.ResumeSyntax { return engine.NewResumeSyntax(f.engineID) }

func (f *fakeTranslator) BuildArgs(prompt string, resume *model.ResumeToken) ([]string, []byte) {
	return f.args, nil
}

func (f *fakeTranslator) Translate(line []byte, state engine.State) ([]model.Event, error) {
	return []model.Event{
		model.Started{Engine: f.engineID},
		model.Completed{Engine: f.engineID, OK: true, Answer: string(line)},
	}, nil
}

func TestRunner_Run_CompletesOnOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell fixture targets unix shells")
	}

	r := New(Options{
		EngineID:   "fake",
		CmdPath:    "/bin/echo",
		Translator: &fakeTranslator{engineID: "fake", args: []string{"hello"}},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var saw model.Completed
	for ev := range r.Run(ctx, "hello", nil) {
		if c, ok := ev.(model.Completed); ok {
			saw = c
		}
	}

	if !saw.OK {
		t.Fatalf("expected a successful Completed event, got %+v", saw)
	}
	if saw.Answer != "hello" {
		t.Fatalf("expected answer %q, got %q", "hello", saw.Answer)
	}
}

func TestRunner_Run_CancelTerminatesWithinGrace(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell fixture targets unix shells")
	}

	r := New(Options{
		EngineID:   "fake",
		CmdPath:    "/bin/sh",
		Translator: &fakeTranslator{engineID: "fake", args: []string{"-c", "sleep 30"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	events := r.Run(ctx, "hello", nil)

	// Give the process a moment to actually start before cancelling.
	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	cancel()

	drained := make(chan struct{})
	go func() {
		for range events {
		}
		close(drained)
	}()

	select {
	case <-drained:
		if elapsed := time.Since(start); elapsed > killGrace+2*time.Second {
			t.Fatalf("expected cancellation to terminate the subprocess within %v of grace, took %v", killGrace, elapsed)
		}
	case <-time.After(killGrace + 3*time.Second):
		t.Fatalf("runner did not shut down within the expected cancellation budget")
	}
}

func TestRunner_Run_MissingBinaryReportsStartupFailure(t *testing.T) {
	r := New(Options{
		EngineID:   "fake",
		CmdPath:    "/no/such/binary/here",
		Translator: &fakeTranslator{engineID: "fake"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var saw model.Completed
	for ev := range r.Run(ctx, "hello", nil) {
		if c, ok := ev.(model.Completed); ok {
			saw = c
		}
	}
	if saw.OK {
		t.Fatalf("expected a failure Completed event for a missing binary")
	}
}
