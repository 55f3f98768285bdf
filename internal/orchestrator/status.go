package orchestrator

import (
	"sync"
	"time"

	"github.com/audiohub/audiohub-go/internal/model"
)

// maxTrackedTasks caps the in-memory status registry. The datastore keeps
// the durable task history; this registry only serves live status queries.
const maxTrackedTasks = 1000

// TaskStatus is the observable position of a task in its lifecycle. A
// scheduled retry is explicit state here, with its deadline and the
// attempt that will run next, rather than an opaque sleep.
type TaskStatus struct {
	TaskID    string               `json:"task_id"`
	Type      model.TaskType       `json:"type"`
	State     model.TaskState      `json:"state"`
	Step      int                  `json:"step"`
	StepCount int                  `json:"step_count"`
	Attempt   int                  `json:"attempt"`
	Retry     *model.RetrySchedule `json:"retry,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Status reports the live status of a tracked task.
func (o *Orchestrator) Status(taskID string) (TaskStatus, bool) {
	return o.tasks.status(taskID)
}

type taskRegistry struct {
	mu    sync.RWMutex
	byID  map[string]*TaskStatus
	order []string
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{byID: make(map[string]*TaskStatus)}
}

// track registers a task as pending. Reusing a task id replaces the old
// entry.
func (r *taskRegistry) track(task model.Task, stepCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[task.ID]; !ok {
		r.evictLocked()
		r.order = append(r.order, task.ID)
	}
	r.byID[task.ID] = &TaskStatus{
		TaskID:    task.ID,
		Type:      task.Type,
		State:     model.TaskPending,
		StepCount: stepCount,
		UpdatedAt: time.Now(),
	}
}

// evictLocked drops the oldest terminal entry once the registry is full.
// Live tasks are never evicted.
func (r *taskRegistry) evictLocked() {
	if len(r.order) < maxTrackedTasks {
		return
	}
	for i, id := range r.order {
		st := r.byID[id]
		if st == nil || st.State == model.TaskCompleted || st.State == model.TaskFailed {
			r.order = append(r.order[:i], r.order[i+1:]...)
			delete(r.byID, id)
			return
		}
	}
}

func (r *taskRegistry) update(taskID string, fn func(*TaskStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byID[taskID]
	if !ok {
		return
	}
	fn(st)
	st.UpdatedAt = time.Now()
}

func (r *taskRegistry) status(taskID string) (TaskStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.byID[taskID]
	if !ok {
		return TaskStatus{}, false
	}
	out := *st
	if st.Retry != nil {
		retry := *st.Retry
		out.Retry = &retry
	}
	return out, true
}
