package engine

import (
	"testing"

	"mybot/internal/model"
)

func TestResumeSyntax_RoundTrip(t *testing.T) {
	s := NewResumeSyntax("codex")
	line := s.FormatResume(model.ResumeToken{Engine: "codex", Value: "abc-123"})
	if !s.IsResumeLine(line) {
		t.Fatalf("expected %q to be recognized as a resume line", line)
	}
	tok, ok := s.ExtractResume(line)
	if !ok {
		t.Fatalf("expected extraction to succeed")
	}
	if tok.Engine != "codex" || tok.Value != "abc-123" {
		t.Fatalf("unexpected token: %+v", tok)
	}
}

func TestResumeSyntax_ExtractResume_LastWins(t *testing.T) {
	s := NewResumeSyntax("codex")
	text := "some output\n`codex resume first`\nmore output\n`codex resume second`\n"
	tok, ok := s.ExtractResume(text)
	if !ok {
		t.Fatalf("expected extraction to succeed")
	}
	if tok.Value != "second" {
		t.Fatalf("expected last resume line to win, got %q", tok.Value)
	}
}

func TestResumeSyntax_StripResumeLines(t *testing.T) {
	s := NewResumeSyntax("claude")
	text := "answer line one\n`claude resume xyz`\nanswer line two"
	stripped := s.StripResumeLines(text)
	if stripped != "answer line one\nanswer line two" {
		t.Fatalf("unexpected stripped text: %q", stripped)
	}
}

func TestResumeSyntax_IsResumeLine_RejectsOtherEngine(t *testing.T) {
	s := NewResumeSyntax("codex")
	if s.IsResumeLine("`claude resume abc`") {
		t.Fatalf("codex syntax should not match a claude resume line")
	}
}

func TestRegistry_ExtractAny_PicksLatestAcrossEngines(t *testing.T) {
	r := NewRegistry("codex", "claude")
	text := "`claude resume earlier`\nsome text\n`codex resume later`"
	tok, ok := r.ExtractAny(text)
	if !ok {
		t.Fatalf("expected extraction to succeed")
	}
	if tok.Engine != "codex" || tok.Value != "later" {
		t.Fatalf("expected the later codex line to win, got %+v", tok)
	}
}

func TestRegistry_StripAny_RemovesEveryEnginesLines(t *testing.T) {
	r := NewRegistry("codex", "claude")
	text := "body\n`codex resume a`\n`claude resume b`\ntail"
	stripped := r.StripAny(text)
	if stripped != "body\ntail" {
		t.Fatalf("unexpected stripped text: %q", stripped)
	}
}

func TestRegistry_ExtractAny_NoneFound(t *testing.T) {
	r := NewRegistry("codex", "claude")
	if _, ok := r.ExtractAny("nothing to see here"); ok {
		t.Fatalf("expected no resume token found")
	}
}
