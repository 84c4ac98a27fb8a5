// Package pi translates the Pi CLI's tagged-union JSONL protocol
// (discriminated by a "type" field: session, agent_start/end,
// message_start/update/end, turn_start/end, tool_execution_*).
package pi

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"mybot/internal/engine"
	"mybot/internal/model"
)

const EngineID = "pi"

type pendingAction struct {
	action model.Action
}

type State struct {
	mu        sync.Mutex
	seq       int
	sessionID string
	lastText  string
	lastError string
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
	argv := []string{"--json"}
	if resume != nil && resume.Value != "" {
		argv = append(argv, "--session", resume.Value)
	}
	return argv, []byte(prompt)
}

type wireEvent struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	StopReason string         `json:"stopReason"`
	Message   *wireMessage    `json:"message"`
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Args       json.RawMessage `json:"args"`
	Result     json.RawMessage `json:"result"`
	IsError    bool           `json:"isError"`
}

type wireMessage struct {
	Role    string         `json:"role"`
	Content []wireContent  `json:"content"`
}

type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (t *Translator) Translate(line []byte, st engine.State) ([]model.Event, error) {
	s, ok := st.(*State)
	if !ok {
		return nil, fmt.Errorf("pi: wrong state type")
	}

	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("pi: decode: %w", err)
	}

	switch w.Type {
	case "session":
		if w.ID == "" {
			return nil, nil
		}
		s.mu.Lock()
		already := s.sessionID != ""
		if !already {
			s.sessionID = w.ID
		}
		s.mu.Unlock()
		if already {
			return nil, nil
		}
		return []model.Event{model.Started{
			Engine: EngineID,
			Resume: model.ResumeToken{Engine: EngineID, Value: w.ID},
			Title:  "Pi",
		}}, nil

	case "message_end":
		if w.Message == nil {
			return nil, nil
		}
		for _, b := range w.Message.Content {
			if b.Type == "text" && b.Text != "" {
				s.mu.Lock()
				s.lastText = b.Text
				s.mu.Unlock()
			}
		}
		return nil, nil

	case "tool_execution_start":
		kind, title := toolKindAndTitle(w.ToolName, w.Args)
		action := model.Action{ID: w.ToolCallID, Kind: kind, Title: title, Detail: map[string]any{"tool": w.ToolName}}
		s.mu.Lock()
		s.pending[w.ToolCallID] = pendingAction{action: action}
		s.mu.Unlock()
		return []model.Event{model.ActionEvent{Engine: EngineID, Action: action, Phase: model.PhaseStarted}}, nil

	case "tool_execution_update":
		s.mu.Lock()
		pa, found := s.pending[w.ToolCallID]
		s.mu.Unlock()
		if !found {
			return nil, nil
		}
		return []model.Event{model.ActionEvent{Engine: EngineID, Action: pa.action, Phase: model.PhaseUpdated}}, nil

	case "tool_execution_end":
		s.mu.Lock()
		pa, found := s.pending[w.ToolCallID]
		if found {
			delete(s.pending, w.ToolCallID)
		}
		s.mu.Unlock()
		action := pa.action
		if !found {
			action = model.Action{ID: w.ToolCallID, Kind: model.ActionTool, Title: w.ToolName}
		}
		ok := !w.IsError
		return []model.Event{model.ActionEvent{Engine: EngineID, Action: action, Phase: model.PhaseCompleted, OK: &ok}}, nil

	case "turn_end":
		isErr := w.StopReason == "error" || w.StopReason == "aborted"
		if isErr {
			s.mu.Lock()
			s.lastError = s.lastText
			s.mu.Unlock()
		}
		return nil, nil

	case "agent_end":
		s.mu.Lock()
		answer := s.lastText
		lastErr := s.lastError
		sessionID := s.sessionID
		s.mu.Unlock()
		ok := lastErr == ""
		return []model.Event{model.Completed{
			Engine: EngineID,
			OK:     ok,
			Answer: answer,
			Resume: model.ResumeToken{Engine: EngineID, Value: sessionID},
			Error:  lastErr,
		}}, nil

	case "auto_compaction_start", "auto_compaction_end", "auto_retry_start", "auto_retry_end", "agent_start", "turn_start", "message_start", "message_update":
		return nil, nil

	default:
		return nil, nil
	}
}

func toolKindAndTitle(name string, args json.RawMessage) (model.ActionKind, string) {
	lname := strings.ToLower(name)
	switch lname {
	case "bash":
		return model.ActionCommand, shallowField(args, "command", name)
	case "edit", "write":
		return model.ActionFileChange, shallowField(args, "path", name)
	case "read":
		return model.ActionTool, "read: `" + shallowField(args, "path", "") + "`"
	case "grep":
		return model.ActionTool, "grep: " + shallowField(args, "pattern", "")
	case "find", "ls":
		return model.ActionTool, name
	default:
		if strings.Contains(lname, "search") {
			return model.ActionWebSearch, shallowField(args, "query", name)
		}
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
