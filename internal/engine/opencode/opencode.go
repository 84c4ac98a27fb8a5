// Package opencode translates the OpenCode CLI's JSONL event protocol. No
// original_source file covered OpenCode directly; this mirrors the
// start/end tool-call pairing shape shared by the Claude and Pi schemas,
// since OpenCode's own `run --format json` output follows the same
// convention (named tool-call events keyed by a stable call id).
package opencode

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"mybot/internal/engine"
	"mybot/internal/model"
)

const EngineID = "opencode"

type pendingAction struct {
	action model.Action
}

type State struct {
	mu        sync.Mutex
	seq       int
	sessionID string
	answer    string
	pending   map[string]pendingAction
}

func (s *State) Seq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

type Translator struct {
	resume engine.ResumeSyntax
}

func New() *Translator {
	return &Translator{resume: engine.NewResumeSyntax(EngineID)}
}

func (t *Translator) Engine() string                  { return EngineID }
func (t *Translator) ResumeSyntax() engine.ResumeSyntax { return t.resume }
func (t *Translator) NewState() engine.State {
	return &State{pending: make(map[string]pendingAction)}
}

func (t *Translator) BuildArgs(prompt string, resume *model.ResumeToken) ([]string, []byte) {
	argv := []string{"run", "--format", "json"}
	if resume != nil && resume.Value != "" {
		argv = append(argv, "--continue", resume.Value)
	}
	argv = append(argv, prompt)
	return argv, nil
}

type wireEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionID"`
	CallID    string          `json:"callID"`
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input"`
	Text      string          `json:"text"`
	Error     string          `json:"error"`
	Status    string          `json:"status"`
}

func (t *Translator) Translate(line []byte, st engine.State) ([]model.Event, error) {
	s, ok := st.(*State)
	if !ok {
		return nil, fmt.Errorf("opencode: wrong state type")
	}

	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("opencode: decode: %w", err)
	}

	switch w.Type {
	case "session.start":
		if w.SessionID == "" {
			return nil, nil
		}
		s.mu.Lock()
		already := s.sessionID != ""
		if !already {
			s.sessionID = w.SessionID
		}
		s.mu.Unlock()
		if already {
			return nil, nil
		}
		return []model.Event{model.Started{
			Engine: EngineID,
			Resume: model.ResumeToken{Engine: EngineID, Value: w.SessionID},
			Title:  "OpenCode",
		}}, nil

	case "message.text":
		if w.Text != "" {
			s.mu.Lock()
			s.answer = w.Text
			s.mu.Unlock()
		}
		return nil, nil

	case "tool.start":
		kind, title := toolKindAndTitle(w.Tool, w.Input)
		action := model.Action{ID: w.CallID, Kind: kind, Title: title, Detail: map[string]any{"tool": w.Tool}}
		s.mu.Lock()
		s.pending[w.CallID] = pendingAction{action: action}
		s.mu.Unlock()
		return []model.Event{model.ActionEvent{Engine: EngineID, Action: action, Phase: model.PhaseStarted}}, nil

	case "tool.end":
		s.mu.Lock()
		pa, found := s.pending[w.CallID]
		if found {
			delete(s.pending, w.CallID)
		}
		s.mu.Unlock()
		action := pa.action
		if !found {
			action = model.Action{ID: w.CallID, Kind: model.ActionTool, Title: w.Tool}
		}
		ok := w.Status == "" || w.Status == "ok" || w.Status == "success"
		return []model.Event{model.ActionEvent{Engine: EngineID, Action: action, Phase: model.PhaseCompleted, OK: &ok}}, nil

	case "session.end":
		s.mu.Lock()
		answer := s.answer
		sessionID := s.sessionID
		s.mu.Unlock()
		ok := w.Error == ""
		return []model.Event{model.Completed{
			Engine: EngineID,
			OK:     ok,
			Answer: answer,
			Resume: model.ResumeToken{Engine: EngineID, Value: sessionID},
			Error:  w.Error,
		}}, nil

	default:
		return nil, nil
	}
}

func toolKindAndTitle(name string, input json.RawMessage) (model.ActionKind, string) {
	lname := strings.ToLower(name)
	switch {
	case lname == "bash" || lname == "shell":
		return model.ActionCommand, shallowField(input, "command", name)
	case lname == "edit" || lname == "write" || lname == "patch":
		return model.ActionFileChange, shallowField(input, "path", name)
	case lname == "read" || lname == "glob" || lname == "grep" || lname == "list":
		return model.ActionTool, name
	case strings.Contains(lname, "search") || strings.Contains(lname, "fetch") || strings.Contains(lname, "web"):
		return model.ActionWebSearch, shallowField(input, "query", name)
	case strings.Contains(lname, "task") || strings.Contains(lname, "agent"):
		return model.ActionSubagent, name
	case strings.Contains(lname, "todo"):
		return model.ActionNote, name
	default:
		return model.ActionTool, name
	}
}

func shallowField(raw json.RawMessage, key, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fallback
	}
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
