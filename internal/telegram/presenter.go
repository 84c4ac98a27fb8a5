package telegram

import (
	"fmt"
	"strings"

	"mybot/internal/engine"
	"mybot/internal/model"
	"mybot/internal/progress"
	"mybot/internal/util"
)

// Presenter renders progress snapshots and final outcomes to Telegram text,
// honoring the truncation round-trip law from spec §8: truncating a
// rendered body to MaxChunkBytes MUST still preserve a trailing resume
// line, if one was present.
type Presenter struct {
	resumeSyntax   func(engineID string) (engine.ResumeSyntax, bool)
	showResumeLine bool
	maxBytes       int
}

func NewPresenter(resumeSyntax func(string) (engine.ResumeSyntax, bool), showResumeLine bool, maxBytes int) *Presenter {
	return &Presenter{resumeSyntax: resumeSyntax, showResumeLine: showResumeLine, maxBytes: maxBytes}
}

// RenderProgress builds the live progress body: a status line, the ordered
// action list, and an optional resume-line footer.
func (p *Presenter) RenderProgress(st progress.State, contextLine string) string {
	var b strings.Builder
	if st.Engine != "" {
		fmt.Fprintf(&b, "%s: working…\n", st.Engine)
	} else {
		b.WriteString("starting…\n")
	}
	if contextLine != "" {
		b.WriteString(contextLine)
		b.WriteString("\n")
	}
	for _, a := range st.Actions {
		b.WriteString(renderActionLine(a))
		b.WriteString("\n")
	}
	body := strings.TrimRight(b.String(), "\n")
	return p.withFooter(body, st.Engine, st.Resume)
}

func renderActionLine(a progress.ActionState) string {
	mark := "…"
	if a.Completed {
		mark = "✓"
		if a.OK != nil && !*a.OK {
			mark = "✗"
		}
	}
	return fmt.Sprintf("%s %s", mark, a.Action.Title)
}

// RenderFinal builds the terminal message per spec §4.8 step 6.
func (p *Presenter) RenderFinal(engineID string, ok bool, answer, errText string, resume model.ResumeToken, cancelled bool) model.RenderedMessage {
	if cancelled {
		return model.RenderedMessage{Text: p.withFooter("cancelled", engineID, resume), Status: "cancelled"}
	}
	if !ok {
		body := errText
		if answer == "" && body == "" {
			body = "failed"
		} else if answer != "" {
			body = answer + "\n\n" + errText
		}
		return model.RenderedMessage{Text: p.withFooter(util.StripANSI(strings.TrimSpace(body)), engineID, resume), Status: "error"}
	}
	return model.RenderedMessage{Text: p.withFooter(util.StripANSI(answer), engineID, resume), Status: "done"}
}

func (p *Presenter) withFooter(body, engineID string, resume model.ResumeToken) string {
	if !p.showResumeLine || resume.IsZero() || p.resumeSyntax == nil {
		return p.truncate(body, "")
	}
	syntax, ok := p.resumeSyntax(engineID)
	if !ok {
		return p.truncate(body, "")
	}
	footer := syntax.FormatResume(resume)
	return p.truncate(body, footer)
}

// truncate enforces the round-trip law: if a footer is present, it is never
// cut off even when the body must shrink to fit maxBytes.
func (p *Presenter) truncate(body, footer string) string {
	full := body
	if footer != "" {
		if full != "" {
			full = full + "\n\n" + footer
		} else {
			full = footer
		}
	}
	if p.maxBytes <= 0 || len(full) <= p.maxBytes {
		return full
	}
	if footer == "" {
		return truncateBytes(full, p.maxBytes)
	}
	footerLen := len(footer) + 2 // separator
	if footerLen >= p.maxBytes {
		return truncateBytes(footer, p.maxBytes)
	}
	budget := p.maxBytes - footerLen
	return truncateBytes(body, budget) + "\n\n" + footer
}

func truncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	// Avoid splitting a multi-byte rune in half.
	for len(cut) > 0 {
		r := cut[len(cut)-1]
		if r&0xC0 != 0x80 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut
}
