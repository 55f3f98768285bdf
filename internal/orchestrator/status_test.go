package orchestrator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiohub/audiohub-go/internal/model"
)

func TestStatusUnknownTask(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, testSettings(1024), newScriptedExecutor())
	_, ok := o.Status("never-submitted")
	assert.False(t, ok)
}

func TestTaskRegistryReturnsIsolatedCopies(t *testing.T) {
	t.Parallel()

	r := newTaskRegistry()
	r.track(model.Task{ID: "t1", Type: model.TaskTranscription}, 1)
	r.update("t1", func(st *TaskStatus) {
		st.State = model.TaskRetryScheduled
		st.Retry = &model.RetrySchedule{NextAttempt: 2}
	})

	got, ok := r.status("t1")
	require.True(t, ok)
	require.NotNil(t, got.Retry)
	got.Retry.NextAttempt = 99
	got.State = model.TaskFailed

	again, ok := r.status("t1")
	require.True(t, ok)
	assert.Equal(t, 2, again.Retry.NextAttempt)
	assert.Equal(t, model.TaskRetryScheduled, again.State)
}

func TestTaskRegistryEvictsOldestTerminal(t *testing.T) {
	t.Parallel()

	r := newTaskRegistry()
	for i := range maxTrackedTasks {
		id := fmt.Sprintf("task-%d", i)
		r.track(model.Task{ID: id, Type: model.TaskTranscription}, 1)
		r.update(id, func(st *TaskStatus) { st.State = model.TaskCompleted })
	}
	// task-1 stays live; the eviction must skip it.
	r.update("task-1", func(st *TaskStatus) { st.State = model.TaskRunning })

	r.track(model.Task{ID: "newest", Type: model.TaskTranscription}, 1)

	_, ok := r.status("task-0")
	assert.False(t, ok, "the oldest terminal entry gives way")
	_, ok = r.status("task-1")
	assert.True(t, ok, "live entries are never evicted")
	_, ok = r.status("newest")
	assert.True(t, ok)
	assert.Len(t, r.order, maxTrackedTasks)
}

func TestTaskRegistryReusingIDReplacesEntry(t *testing.T) {
	t.Parallel()

	r := newTaskRegistry()
	r.track(model.Task{ID: "t1", Type: model.TaskTranscription}, 1)
	r.update("t1", func(st *TaskStatus) { st.State = model.TaskFailed })

	r.track(model.Task{ID: "t1", Type: model.TaskAnalysis}, 2)
	got, ok := r.status("t1")
	require.True(t, ok)
	assert.Equal(t, model.TaskPending, got.State)
	assert.Equal(t, model.TaskAnalysis, got.Type)
	assert.Equal(t, 2, got.StepCount)
	assert.Len(t, r.order, 1)
}
