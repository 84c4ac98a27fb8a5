package orchestrator

import (
	"sync"

	"mybot/internal/model"
)

// TaskRegistry maps a progress message ref to its RunningTask, letting
// /cancel and /status find the run backing whatever message the user
// replied to (spec §4.8's running-task lookup).
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[model.MessageRef]*model.RunningTask
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[model.MessageRef]*model.RunningTask)}
}

func (r *TaskRegistry) Register(ref model.MessageRef, task *model.RunningTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[ref] = task
}

func (r *TaskRegistry) Unregister(ref model.MessageRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, ref)
}

func (r *TaskRegistry) Get(ref model.MessageRef) (*model.RunningTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[ref]
	return t, ok
}

// List returns a snapshot of all currently running tasks, for /status.
func (r *TaskRegistry) List() []*model.RunningTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.RunningTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}
