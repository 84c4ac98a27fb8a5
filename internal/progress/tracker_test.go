package progress

import (
	"testing"

	"mybot/internal/model"
)

func TestTracker_StartedSetsEngineAndResume(t *testing.T) {
	tr := NewTracker()
	changed := tr.NoteEvent(model.Started{Engine: "codex", Resume: model.ResumeToken{Engine: "codex", Value: "tok"}})
	if !changed {
		t.Fatalf("expected Started to report a change")
	}
	snap := tr.Snapshot()
	if snap.Engine != "codex" || snap.Resume.Value != "tok" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestTracker_ActionLifecycle(t *testing.T) {
	tr := NewTracker()
	tr.NoteEvent(model.Started{Engine: "codex"})

	tr.NoteEvent(model.ActionEvent{
		Action: model.Action{ID: "a1", Kind: model.ActionTool, Title: "ls"},
		Phase:  model.PhaseStarted,
	})
	snap := tr.Snapshot()
	if len(snap.Actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(snap.Actions))
	}
	if snap.Actions[0].Completed {
		t.Fatalf("expected action to still be in-flight")
	}

	ok := true
	tr.NoteEvent(model.ActionEvent{
		Action: model.Action{ID: "a1", Kind: model.ActionTool, Title: "ls"},
		Phase:  model.PhaseCompleted,
		OK:     &ok,
	})
	snap = tr.Snapshot()
	if !snap.Actions[0].Completed {
		t.Fatalf("expected action to be completed")
	}
	if snap.Actions[0].OK == nil || !*snap.Actions[0].OK {
		t.Fatalf("expected OK=true")
	}
}

func TestTracker_ReopenAfterCompletion(t *testing.T) {
	tr := NewTracker()
	tr.NoteEvent(model.ActionEvent{
		Action: model.Action{ID: "a1", Title: "first"},
		Phase:  model.PhaseStarted,
	})
	tr.NoteEvent(model.ActionEvent{
		Action: model.Action{ID: "a1", Title: "first"},
		Phase:  model.PhaseCompleted,
	})
	tr.NoteEvent(model.ActionEvent{
		Action: model.Action{ID: "a1", Title: "first again"},
		Phase:  model.PhaseStarted,
	})
	snap := tr.Snapshot()
	if len(snap.Actions) != 1 {
		t.Fatalf("expected reopen to reuse the same slot, got %d actions", len(snap.Actions))
	}
	if snap.Actions[0].Completed {
		t.Fatalf("expected reopened action to no longer be marked completed")
	}
	if snap.Actions[0].Action.Title != "first again" {
		t.Fatalf("expected refreshed title, got %q", snap.Actions[0].Action.Title)
	}
}

func TestTracker_TurnKindIgnored(t *testing.T) {
	tr := NewTracker()
	changed := tr.NoteEvent(model.ActionEvent{
		Action: model.Action{ID: "t1", Kind: model.ActionTurn, Title: "turn"},
		Phase:  model.PhaseStarted,
	})
	if changed {
		t.Fatalf("expected turn-kind events to be ignored")
	}
	if len(tr.Snapshot().Actions) != 0 {
		t.Fatalf("expected no tracked actions")
	}
}

func TestTracker_SnapshotOrderedByFirstSeen(t *testing.T) {
	tr := NewTracker()
	tr.NoteEvent(model.ActionEvent{Action: model.Action{ID: "a", Title: "A"}, Phase: model.PhaseStarted})
	tr.NoteEvent(model.ActionEvent{Action: model.Action{ID: "b", Title: "B"}, Phase: model.PhaseStarted})
	tr.NoteEvent(model.ActionEvent{Action: model.Action{ID: "a", Title: "A"}, Phase: model.PhaseCompleted})

	snap := tr.Snapshot()
	if len(snap.Actions) != 2 || snap.Actions[0].Action.ID != "a" || snap.Actions[1].Action.ID != "b" {
		t.Fatalf("expected order [a b], got %+v", snap.Actions)
	}
}
