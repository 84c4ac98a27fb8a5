// Package engine defines the per-agent Translator contract and the shared
// resume-line grammar every engine's runner uses to format and recognize
// `<engine> resume <token>` lines.
package engine

import (
	"fmt"
	"regexp"
	"strings"

	"mybot/internal/model"
)

// ResumeSyntax formats and recognizes resume lines for one engine, mirroring
// takopi's ResumeTokenMixin: format_resume / is_resume_line / extract_resume.
type ResumeSyntax struct {
	Engine string
	re     *regexp.Regexp
}

// NewResumeSyntax builds the case-insensitive, backtick-tolerant pattern
// `^\s*`?<engine> resume <token>`?\s*$` for one engine id.
func NewResumeSyntax(engineID string) ResumeSyntax {
	pattern := fmt.Sprintf(`(?im)^\s*`+"`"+`?%s\s+resume\s+(?P<token>[^`+"`"+`\s]+)`+"`"+`?\s*$`, regexp.QuoteMeta(engineID))
	return ResumeSyntax{Engine: engineID, re: regexp.MustCompile(pattern)}
}

// FormatResume renders the canonical resume line for a token of this engine.
func (s ResumeSyntax) FormatResume(token model.ResumeToken) string {
	return fmt.Sprintf("`%s resume %s`", s.Engine, token.Value)
}

// IsResumeLine reports whether a single line is a resume line for this engine.
func (s ResumeSyntax) IsResumeLine(line string) bool {
	return s.re.MatchString(strings.TrimRight(line, "\r\n"))
}

// ExtractResume scans free-form text and returns the *last* matching resume
// token, so a later directive in a message overrides an earlier quoted one.
// Returns the zero token and false if no line matches.
func (s ResumeSyntax) ExtractResume(text string) (model.ResumeToken, bool) {
	matches := s.re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return model.ResumeToken{}, false
	}
	last := matches[len(matches)-1]
	idx := s.re.SubexpIndex("token")
	if idx < 0 || idx >= len(last) {
		return model.ResumeToken{}, false
	}
	return model.ResumeToken{Engine: s.Engine, Value: last[idx]}, true
}

// StripResumeLines removes every line matched by IsResumeLine from text,
// returning the remaining text unchanged in all other respects.
func (s ResumeSyntax) StripResumeLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0:0]
	for _, l := range lines {
		if s.IsResumeLine(l) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n")
}

// Registry maps engine id to its resume syntax, used by the orchestrator to
// find the right engine for a resume line anywhere in the message without
// knowing the engine in advance.
type Registry struct {
	syntaxes map[string]ResumeSyntax
	order    []string
}

func NewRegistry(engineIDs ...string) *Registry {
	r := &Registry{syntaxes: make(map[string]ResumeSyntax, len(engineIDs))}
	for _, id := range engineIDs {
		r.syntaxes[id] = NewResumeSyntax(id)
		r.order = append(r.order, id)
	}
	return r
}

func (r *Registry) Syntax(engineID string) (ResumeSyntax, bool) {
	s, ok := r.syntaxes[engineID]
	return s, ok
}

// ExtractAny tries every registered engine's syntax and returns the last
// resume line found across all of them, preferring the one that occurs
// latest in the text.
func (r *Registry) ExtractAny(text string) (model.ResumeToken, bool) {
	var best model.ResumeToken
	bestPos := -1
	for _, id := range r.order {
		s := r.syntaxes[id]
		locs := s.re.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		last := locs[len(locs)-1]
		if last[0] <= bestPos {
			continue
		}
		tok, ok := s.ExtractResume(text[last[0]:last[1]])
		if !ok {
			continue
		}
		best = tok
		bestPos = last[0]
	}
	if bestPos < 0 {
		return model.ResumeToken{}, false
	}
	return best, true
}

// StripAny removes resume lines recognized by any registered engine.
func (r *Registry) StripAny(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0:0]
	for _, l := range lines {
		drop := false
		for _, id := range r.order {
			if r.syntaxes[id].IsResumeLine(l) {
				drop = true
				break
			}
		}
		if drop {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n")
}
