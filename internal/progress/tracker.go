// Package progress ports takopi's ProgressTracker (ordered action list,
// started->updated transition rules) and implements the progress-edit
// coalescer described in spec §4.6, grounded on
// original_source/src/takopi/progress.py and the teacher's debounce-ticker
// idiom in internal/telegram/bot.go's pumpEvents.
package progress

import (
	"sort"
	"sync"

	"mybot/internal/model"
)

// ActionState mirrors takopi's ActionState frozen dataclass: one action's
// current display state plus the sequence numbers used to order and
// de-duplicate it across started/updated/completed transitions.
type ActionState struct {
	Action       model.Action
	Phase        model.ActionPhase
	OK           *bool
	Completed    bool
	FirstSeenSeq int
	LastUpdate   int
}

// State is a derived, read-only snapshot of a Tracker at one point in time.
type State struct {
	Engine  string
	Resume  model.ResumeToken
	Actions []ActionState
}

// Tracker owns one run's ordered action list. Not safe for concurrent use
// from more than one event-producing goroutine, but its methods take an
// internal lock so reads (Snapshot) may run concurrently with Note.
type Tracker struct {
	mu      sync.Mutex
	engine  string
	resume  model.ResumeToken
	seq     int
	actions map[string]*ActionState
	order   []string // id insertion order, used to keep a deterministic scan
}

func NewTracker() *Tracker {
	return &Tracker{actions: make(map[string]*ActionState)}
}

// NoteEvent records one Event's effect on tracked state and reports whether
// it changed anything visible (new action, updated title/phase, or a
// completion) — this return value is what gates the coalescer's wake-up.
func (t *Tracker) NoteEvent(ev model.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e := ev.(type) {
	case model.Started:
		t.engine = e.Engine
		t.resume = e.Resume
		return true

	case model.ActionEvent:
		if e.Action.Kind == model.ActionTurn {
			return false
		}
		if e.Action.ID == "" {
			return false
		}
		t.seq++
		existing, has := t.actions[e.Action.ID]

		phase := e.Phase
		if has && phase == model.PhaseStarted && !existing.Completed {
			phase = model.PhaseUpdated
		}

		if !has {
			st := &ActionState{
				Action:       e.Action,
				Phase:        phase,
				OK:           e.OK,
				Completed:    phase == model.PhaseCompleted,
				FirstSeenSeq: t.seq,
				LastUpdate:   t.seq,
			}
			t.actions[e.Action.ID] = st
			t.order = append(t.order, e.Action.ID)
			return true
		}

		// Reopening: a new `started` after a prior completion keeps the
		// original first-seen position (no duplicate append) but refreshes
		// display fields, per ProgressState's "replace in place" rule.
		if phase == model.PhaseStarted && existing.Completed {
			existing.Completed = false
		}
		existing.Action = e.Action
		existing.Phase = phase
		if e.OK != nil {
			existing.OK = e.OK
		}
		if phase == model.PhaseCompleted {
			existing.Completed = true
		}
		existing.LastUpdate = t.seq
		return true

	default:
		return false
	}
}

// SetResume overwrites the tracked resume token (used when the final
// Completed event carries a possibly-updated token).
func (t *Tracker) SetResume(token model.ResumeToken) {
	t.mu.Lock()
	t.resume = token
	t.mu.Unlock()
}

// Snapshot returns actions sorted by first-seen sequence, excluding
// turn-kind bookkeeping entries (already filtered at Note time).
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	actions := make([]ActionState, 0, len(t.actions))
	for _, id := range t.order {
		if st, ok := t.actions[id]; ok {
			actions = append(actions, *st)
		}
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].FirstSeenSeq < actions[j].FirstSeenSeq
	})

	return State{Engine: t.engine, Resume: t.resume, Actions: actions}
}
