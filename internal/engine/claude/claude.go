// Package claude translates Claude Code's `--output-format stream-json`
// JSONL protocol: assistant messages carry content blocks (text, tool_use);
// user messages echo tool_result blocks matched back to the tool_use by id.
package claude

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"mybot/internal/engine"
	"mybot/internal/model"
)

const EngineID = "claude"

type pendingAction struct {
	action model.Action
}

// State tracks the session id, the last assistant answer, and the
// started-but-not-yet-resolved tool calls keyed by tool_use_id — the
// canonical pairing map from original_source's ClaudeStreamState.
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
	argv := []string{"--output-format", "stream-json", "--print"}
	if resume != nil && resume.Value != "" {
		argv = append(argv, "--resume", resume.Value)
	}
	return argv, []byte(prompt)
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type wireLine struct {
	Type      string       `json:"type"`
	SessionID string       `json:"session_id"`
	Message   *wireMessage `json:"message"`
	Result    string       `json:"result"`
	IsError   bool         `json:"is_error"`
	Usage     *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (t *Translator) Translate(line []byte, st engine.State) ([]model.Event, error) {
	s, ok := st.(*State)
	if !ok {
		return nil, fmt.Errorf("claude: wrong state type")
	}

	var w wireLine
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("claude: decode: %w", err)
	}

	switch w.Type {
	case "system":
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
			Title:  "Claude",
		}}, nil

	case "assistant":
		if w.Message == nil {
			return nil, nil
		}
		var events []model.Event
		for _, block := range w.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					s.mu.Lock()
					s.answer = block.Text
					s.mu.Unlock()
				}
			case "tool_use":
				kind, title := toolKindAndTitle(block.Name, block.Input)
				action := model.Action{ID: block.ID, Kind: kind, Title: title, Detail: map[string]any{"tool": block.Name}}
				s.mu.Lock()
				s.pending[block.ID] = pendingAction{action: action}
				s.mu.Unlock()
				events = append(events, model.ActionEvent{Engine: EngineID, Action: action, Phase: model.PhaseStarted})
			}
		}
		return events, nil

	case "user":
		if w.Message == nil {
			return nil, nil
		}
		var events []model.Event
		for _, block := range w.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			s.mu.Lock()
			pa, found := s.pending[block.ToolUseID]
			if found {
				delete(s.pending, block.ToolUseID)
			}
			s.mu.Unlock()
			action := pa.action
			if !found {
				action = model.Action{ID: block.ToolUseID, Kind: model.ActionTool, Title: "tool"}
			}
			ok := !block.IsError
			events = append(events, model.ActionEvent{
				Engine: EngineID,
				Action: action,
				Phase:  model.PhaseCompleted,
				OK:     &ok,
			})
		}
		return events, nil

	case "result":
		s.mu.Lock()
		answer := s.answer
		if answer == "" {
			answer = w.Result
		}
		sessionID := s.sessionID
		s.mu.Unlock()
		var usage *model.Usage
		if w.Usage != nil {
			usage = &model.Usage{
				InputTokens:  w.Usage.InputTokens,
				OutputTokens: w.Usage.OutputTokens,
				TotalTokens:  w.Usage.InputTokens + w.Usage.OutputTokens,
			}
		}
		errMsg := ""
		if w.IsError {
			errMsg = answer
		}
		return []model.Event{model.Completed{
			Engine: EngineID,
			OK:     !w.IsError,
			Answer: answer,
			Resume: model.ResumeToken{Engine: EngineID, Value: sessionID},
			Error:  errMsg,
			Usage:  usage,
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
	case lname == "edit" || lname == "write":
		return model.ActionFileChange, shallowField(input, "file_path", name)
	case lname == "read" || lname == "glob" || lname == "grep":
		return model.ActionTool, name + ": " + shallowField(input, "pattern", shallowField(input, "path", ""))
	case strings.Contains(lname, "search") || strings.Contains(lname, "fetch"):
		return model.ActionWebSearch, shallowField(input, "query", name)
	case strings.Contains(lname, "subagent") || strings.Contains(lname, "task"):
		return model.ActionSubagent, name
	case strings.Contains(lname, "todo") || strings.Contains(lname, "ask"):
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
