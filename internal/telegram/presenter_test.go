package telegram

import (
	"strings"
	"testing"

	"mybot/internal/engine"
	"mybot/internal/model"
	"mybot/internal/progress"
)

func testResumeSyntax(engineID string) (engine.ResumeSyntax, bool) {
	if engineID == "" {
		return engine.ResumeSyntax{}, false
	}
	return engine.NewResumeSyntax(engineID), true
}

func TestPresenter_RenderFinal_Success(t *testing.T) {
	p := NewPresenter(testResumeSyntax, true, 4000)
	msg := p.RenderFinal("codex", true, "the answer", "", model.ResumeToken{Engine: "codex", Value: "abc"}, false)
	if msg.Status != "done" {
		t.Fatalf("expected status done, got %q", msg.Status)
	}
	if !strings.Contains(msg.Text, "the answer") {
		t.Fatalf("expected answer text in message: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "codex resume abc") {
		t.Fatalf("expected resume footer in message: %q", msg.Text)
	}
}

func TestPresenter_RenderFinal_Error(t *testing.T) {
	p := NewPresenter(testResumeSyntax, true, 4000)
	msg := p.RenderFinal("codex", false, "", "boom", model.ResumeToken{}, false)
	if msg.Status != "error" {
		t.Fatalf("expected status error, got %q", msg.Status)
	}
	if !strings.Contains(msg.Text, "boom") {
		t.Fatalf("expected error text: %q", msg.Text)
	}
}

func TestPresenter_RenderFinal_Cancelled(t *testing.T) {
	p := NewPresenter(testResumeSyntax, true, 4000)
	msg := p.RenderFinal("codex", false, "", "", model.ResumeToken{}, true)
	if msg.Status != "cancelled" {
		t.Fatalf("expected status cancelled, got %q", msg.Status)
	}
}

func TestPresenter_TruncationPreservesResumeFooter(t *testing.T) {
	p := NewPresenter(testResumeSyntax, true, 80)
	longAnswer := strings.Repeat("x", 500)
	resume := model.ResumeToken{Engine: "codex", Value: "keep-me"}
	msg := p.RenderFinal("codex", true, longAnswer, "", resume, false)

	if len(msg.Text) > 80 {
		t.Fatalf("expected text truncated to maxBytes, got %d bytes", len(msg.Text))
	}
	if !strings.Contains(msg.Text, "codex resume keep-me") {
		t.Fatalf("expected resume footer to survive truncation: %q", msg.Text)
	}
}

func TestPresenter_NoFooterWhenShowResumeLineDisabled(t *testing.T) {
	p := NewPresenter(testResumeSyntax, false, 4000)
	resume := model.ResumeToken{Engine: "codex", Value: "abc"}
	msg := p.RenderFinal("codex", true, "answer", "", resume, false)
	if strings.Contains(msg.Text, "resume") {
		t.Fatalf("expected no resume footer when disabled: %q", msg.Text)
	}
}

func TestPresenter_RenderProgress_IncludesActionMarks(t *testing.T) {
	p := NewPresenter(testResumeSyntax, false, 4000)
	ok := true
	st := progress.State{
		Engine: "codex",
		Actions: []progress.ActionState{
			{Action: model.Action{Title: "running tests"}, Completed: true, OK: &ok},
			{Action: model.Action{Title: "writing file"}, Completed: false},
		},
	}
	text := p.RenderProgress(st, "")
	if !strings.Contains(text, "✓ running tests") {
		t.Fatalf("expected completed-ok mark: %q", text)
	}
	if !strings.Contains(text, "… writing file") {
		t.Fatalf("expected in-flight mark: %q", text)
	}
}
