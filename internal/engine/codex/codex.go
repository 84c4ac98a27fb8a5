// Package codex translates the Codex CLI's `codex exec --json` JSONL
// protocol into the neutral event model.
package codex

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"mybot/internal/engine"
	"mybot/internal/model"
)

const EngineID = "codex"

// State tracks the session id and the last agent message for one run.
type State struct {
	mu        sync.Mutex
	seq       int
	sessionID string
	answer    string
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
func (t *Translator) NewState() engine.State           { return &State{} }
func (t *Translator) ResumeSyntax() engine.ResumeSyntax { return t.resume }

func (t *Translator) BuildArgs(prompt string, resume *model.ResumeToken) ([]string, []byte) {
	argv := []string{"exec"}
	if resume != nil && resume.Value != "" {
		argv = append(argv, "resume", resume.Value)
	}
	argv = append(argv, "--json", prompt)
	return argv, nil
}

// wire shapes, matching the teacher's exec_mode.go codexJSON/codexItem with
// the additional item kinds original_source/runners/codex.py decodes.
type wireEvent struct {
	Type     string    `json:"type"`
	ThreadID string    `json:"thread_id"`
	Item     *wireItem `json:"item"`
}

type wireItem struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Text      string `json:"text"`
	Command   string `json:"command"`
	ExitCode  *int   `json:"exit_code"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	Query     string `json:"query"`
}

func (t *Translator) Translate(line []byte, st engine.State) ([]model.Event, error) {
	s, ok := st.(*State)
	if !ok {
		return nil, fmt.Errorf("codex: wrong state type")
	}

	var ev wireEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("codex: decode: %w", err)
	}

	switch ev.Type {
	case "thread.started":
		s.mu.Lock()
		already := s.sessionID != ""
		if !already {
			s.sessionID = ev.ThreadID
		}
		s.mu.Unlock()
		if already {
			return nil, nil
		}
		return []model.Event{model.Started{
			Engine: EngineID,
			Resume: model.ResumeToken{Engine: EngineID, Value: ev.ThreadID},
			Title:  "Codex",
		}}, nil

	case "item.completed":
		if ev.Item == nil {
			return nil, nil
		}
		return t.translateItem("completed", ev.Item, s)

	case "item.started", "item.updated":
		if ev.Item == nil {
			return nil, nil
		}
		phase := "started"
		if ev.Type == "item.updated" {
			phase = "updated"
		}
		return t.translateItem(phase, ev.Item, s)

	case "turn.completed":
		s.mu.Lock()
		answer := s.answer
		s.mu.Unlock()
		return []model.Event{model.Completed{
			Engine: EngineID,
			OK:     true,
			Answer: answer,
			Resume: model.ResumeToken{Engine: EngineID, Value: s.sessionID},
		}}, nil

	default:
		return nil, nil
	}
}

func (t *Translator) translateItem(phase string, item *wireItem, s *State) ([]model.Event, error) {
	switch item.Type {
	case "agent_message":
		if item.Text != "" {
			s.mu.Lock()
			s.answer = item.Text
			s.mu.Unlock()
		}
		return nil, nil

	case "error":
		if phase != "completed" {
			return nil, nil
		}
		ok := false
		return []model.Event{model.ActionEvent{
			Engine: EngineID,
			Action: model.Action{ID: item.ID, Kind: model.ActionWarning, Title: "error", Detail: map[string]any{"message": item.Message}},
			Phase:  model.PhaseCompleted,
			OK:     &ok,
			Level:  "warning",
		}}, nil

	case "command_execution":
		ph := model.ActionPhase(phase)
		title := relativizeCommand(item.Command)
		detail := map[string]any{"command": item.Command}
		var okPtr *bool
		if phase == "completed" {
			ok := item.ExitCode != nil && *item.ExitCode == 0
			okPtr = &ok
			if item.ExitCode != nil {
				detail["exit_code"] = *item.ExitCode
			}
		}
		return []model.Event{model.ActionEvent{
			Engine: EngineID,
			Action: model.Action{ID: item.ID, Kind: model.ActionCommand, Title: title, Detail: detail},
			Phase:  ph,
			OK:     okPtr,
		}}, nil

	case "file_change":
		ph := model.ActionPhase(phase)
		detail := map[string]any{"changes": []map[string]string{{"path": item.Path, "kind": item.Kind}}}
		var okPtr *bool
		if phase == "completed" {
			ok := true
			okPtr = &ok
		}
		return []model.Event{model.ActionEvent{
			Engine: EngineID,
			Action: model.Action{ID: item.ID, Kind: model.ActionFileChange, Title: item.Path, Detail: detail},
			Phase:  ph,
			OK:     okPtr,
		}}, nil

	case "web_search":
		ph := model.ActionPhase(phase)
		return []model.Event{model.ActionEvent{
			Engine: EngineID,
			Action: model.Action{ID: item.ID, Kind: model.ActionWebSearch, Title: item.Query, Detail: map[string]any{"query": item.Query}},
			Phase:  ph,
		}}, nil

	case "reasoning", "todo_list":
		return nil, nil

	default:
		return nil, nil
	}
}

func relativizeCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if len(cmd) > 120 {
		return cmd[:117] + "..."
	}
	return cmd
}
