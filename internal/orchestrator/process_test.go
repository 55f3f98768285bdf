package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/executor"
	"github.com/audiohub/audiohub-go/internal/model"
	"github.com/audiohub/audiohub-go/internal/pool"
)

type recordingSink struct {
	mu      sync.Mutex
	results []model.TaskResult
}

func (s *recordingSink) SaveTaskResult(_ context.Context, r *model.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, *r)
	return nil
}

func (s *recordingSink) saved() []model.TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TaskResult, len(s.results))
	copy(out, s.results)
	return out
}

type failingSink struct{}

func (failingSink) SaveTaskResult(context.Context, *model.TaskResult) error {
	return errors.NewStd("sink unavailable")
}

func TestProcessTaskTranscriptionEndToEnd(t *testing.T) {
	t.Parallel()

	s := testSettings(1024, transcriberConfig("whisper-tiny", 200))
	local := executor.NewLocal(s, nil)
	t.Cleanup(func() { _ = local.Close() })
	o, _ := newTestOrchestrator(t, s, local)

	task := model.Task{
		ID:   "task-1",
		Type: model.TaskTranscription,
		Input: model.TaskInput{
			Samples:    make([]float32, 24000),
			SampleRate: 16000,
		},
	}
	result, err := o.ProcessTask(t.Context(), task)
	require.NoError(t, err)

	assert.True(t, result.Succeeded())
	assert.Equal(t, model.TaskCompleted, result.State)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "Word 1 Word 2 Word 3", result.Steps[0].Text)
	assert.Equal(t, 1, result.Steps[0].Attempts)
	assert.Empty(t, result.ErrorKind)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))

	// The last model of the task stays resident for the next one.
	assert.Equal(t, StateLoaded, o.State())
	assert.Equal(t, int64(200*bytesPerMB), o.CurrentMemoryUsage())

	status, ok := o.Status("task-1")
	require.True(t, ok)
	assert.Equal(t, model.TaskCompleted, status.State)
	assert.Equal(t, 1, status.StepCount)
}

func TestProcessTaskAnalysisFeedsTranscriptForward(t *testing.T) {
	t.Parallel()

	s := testSettings(600, transcriberConfig("tr", 400), synthesizerConfig("sy", 400))
	exec := newScriptedExecutor()
	o, _ := newTestOrchestrator(t, s, exec)

	task := model.Task{ID: "task-a", Type: model.TaskAnalysis, Input: model.TaskInput{Ref: "clip.wav"}}
	result, err := o.ProcessTask(t.Context(), task)
	require.NoError(t, err)

	require.Len(t, result.Steps, 2)
	assert.Equal(t, "alpha beta", result.Steps[0].Text)
	assert.Equal(t, "synth://sy", result.Steps[1].AudioRef)
	assert.Equal(t, []string{"alpha beta"}, exec.promptLog(),
		"the transcript becomes the synthesis prompt")
	assert.Equal(t, []string{
		"load:tr",
		"exec:transcribe:tr",
		"unload:tr",
		"load:sy",
		"exec:synthesize:sy",
	}, exec.eventLog(), "the second step evicts the first step's model")
}

func TestProcessTaskRetriesRetryableFailures(t *testing.T) {
	t.Parallel()

	s := testSettings(1024, transcriberConfig("whisper-tiny", 200))
	exec := newScriptedExecutor()
	exec.queueExecErrs(connectionError())
	o, _ := newTestOrchestrator(t, s, exec)

	task := model.Task{ID: "task-r", Type: model.TaskTranscription}
	result, err := o.ProcessTask(t.Context(), task)
	require.NoError(t, err)

	assert.Equal(t, model.TaskCompleted, result.State)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, 2, result.Steps[0].Attempts)
}

func TestProcessTaskRetryScheduleIsVisible(t *testing.T) {
	t.Parallel()

	s := testSettings(1024, transcriberConfig("whisper-tiny", 200))
	s.Retry.InitialDelay = 200
	exec := newScriptedExecutor()
	exec.queueExecErrs(connectionError())
	o, _ := newTestOrchestrator(t, s, exec)

	resCh := make(chan model.TaskResult, 1)
	go func() {
		r, _ := o.ProcessTask(context.Background(), model.Task{ID: "task-s", Type: model.TaskTranscription})
		resCh <- r
	}()

	var scheduled TaskStatus
	require.Eventually(t, func() bool {
		st, ok := o.Status("task-s")
		if ok && st.State == model.TaskRetryScheduled {
			scheduled = st
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "the waiting retry must surface in task status")

	require.NotNil(t, scheduled.Retry)
	assert.Equal(t, 2, scheduled.Retry.NextAttempt)
	assert.False(t, scheduled.Retry.NotBefore.IsZero())
	assert.Equal(t, 1, scheduled.Attempt)

	result := <-resCh
	assert.Equal(t, model.TaskCompleted, result.State)
	assert.Equal(t, 2, result.Steps[0].Attempts)
}

func TestProcessTaskNonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	s := testSettings(1024, transcriberConfig("whisper-tiny", 200))
	exec := newScriptedExecutor()
	exec.queueExecErrs(invalidInputError())
	o, _ := newTestOrchestrator(t, s, exec)

	result, err := o.ProcessTask(t.Context(), model.Task{ID: "task-n", Type: model.TaskTranscription})
	require.Error(t, err)

	assert.Equal(t, model.TaskFailed, result.State)
	assert.Equal(t, string(errors.KindInvalidInput), result.ErrorKind)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, 1, result.Steps[0].Attempts, "non-retryable failures get exactly one attempt")

	status, ok := o.Status("task-n")
	require.True(t, ok)
	assert.Equal(t, model.TaskFailed, status.State)
}

func TestProcessTaskStopsAtAttemptCeiling(t *testing.T) {
	t.Parallel()

	s := testSettings(1024, transcriberConfig("whisper-tiny", 200))
	exec := newScriptedExecutor()
	exec.queueExecErrs(connectionError(), connectionError(), connectionError())
	o, _ := newTestOrchestrator(t, s, exec)

	result, err := o.ProcessTask(t.Context(), model.Task{ID: "task-c", Type: model.TaskTranscription})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConnection))

	assert.Equal(t, model.TaskFailed, result.State)
	assert.Equal(t, string(errors.KindConnection), result.ErrorKind)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, 3, result.Steps[0].Attempts, "three attempts, then the step is abandoned")

	execs := 0
	for _, ev := range exec.eventLog() {
		if ev == "exec:transcribe:whisper-tiny" {
			execs++
		}
	}
	assert.Equal(t, 3, execs)
}

func TestProcessTaskCancellationReleasesModel(t *testing.T) {
	t.Parallel()

	s := testSettings(1024, transcriberConfig("whisper-tiny", 200))
	exec := newScriptedExecutor()
	exec.blockExec = true
	exec.execStarted = make(chan struct{}, 1)
	o, p := newTestOrchestrator(t, s, exec)

	ctx, cancel := context.WithCancel(t.Context())
	resCh := make(chan model.TaskResult, 1)
	go func() {
		r, _ := o.ProcessTask(ctx, model.Task{ID: "task-x", Type: model.TaskTranscription})
		resCh <- r
	}()

	<-exec.execStarted
	cancel()
	result := <-resCh

	assert.Equal(t, model.TaskFailed, result.State)
	assert.Zero(t, o.CurrentMemoryUsage(), "a cancelled task must not leak budget")
	assert.Zero(t, p.Used(pool.ResourceMemory))
	assert.Equal(t, StateIdle, o.State())
	assert.Contains(t, exec.eventLog(), "unload:whisper-tiny")
}

func TestProcessTaskCancelDuringBackoffReturnsPromptly(t *testing.T) {
	t.Parallel()

	s := testSettings(1024, transcriberConfig("whisper-tiny", 200))
	s.Retry.InitialDelay = 5000
	exec := newScriptedExecutor()
	exec.queueExecErrs(connectionError())
	o, _ := newTestOrchestrator(t, s, exec)

	ctx, cancel := context.WithCancel(t.Context())
	resCh := make(chan model.TaskResult, 1)
	go func() {
		r, _ := o.ProcessTask(ctx, model.Task{ID: "task-b", Type: model.TaskTranscription})
		resCh <- r
	}()

	require.Eventually(t, func() bool {
		st, ok := o.Status("task-b")
		return ok && st.State == model.TaskRetryScheduled
	}, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	cancel()
	result := <-resCh

	assert.Less(t, time.Since(start), 2*time.Second,
		"cancellation must interrupt the backoff wait")
	assert.Equal(t, model.TaskFailed, result.State)
	assert.Zero(t, o.CurrentMemoryUsage())
}

func TestProcessTaskPlanFailureReportsFailed(t *testing.T) {
	t.Parallel()

	s := testSettings(1024, transcriberConfig("whisper-tiny", 200))
	exec := newScriptedExecutor()
	o, _ := newTestOrchestrator(t, s, exec)

	result, err := o.ProcessTask(t.Context(), model.Task{ID: "task-u", Type: model.TaskSynthesis})
	require.Error(t, err)

	assert.Equal(t, model.TaskFailed, result.State)
	assert.Equal(t, string(errors.KindInvalidInput), result.ErrorKind)
	assert.Empty(t, result.Steps)
	assert.Empty(t, exec.eventLog())

	status, ok := o.Status("task-u")
	require.True(t, ok)
	assert.Equal(t, model.TaskFailed, status.State)
	assert.Zero(t, status.StepCount)
}

func TestProcessTaskFallbackSticksAcrossSteps(t *testing.T) {
	t.Parallel()

	s := testSettings(1024, fullModelConfig("gama", 500), fullModelConfig("gama-small", 700))
	s.Models.Fallback = "gama-small"
	exec := newScriptedExecutor()
	exec.failLoads("gama", modelLoadError("gama"))
	o, _ := newTestOrchestrator(t, s, exec)

	result, err := o.ProcessTask(t.Context(), model.Task{ID: "task-f", Type: model.TaskAnalysis})
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, result.State)

	assert.Equal(t, 1, exec.loadCount("gama"),
		"after the fallback sticks the primary is not tried again")
	assert.Equal(t, 1, exec.loadCount("gama-small"))
	log := exec.eventLog()
	assert.Contains(t, log, "exec:transcribe:gama-small")
	assert.Contains(t, log, "exec:synthesize:gama-small")
}

func TestProcessTaskDeliversResultsToSinks(t *testing.T) {
	t.Parallel()

	s := testSettings(1024, transcriberConfig("whisper-tiny", 200))
	exec := newScriptedExecutor()
	o, _ := newTestOrchestrator(t, s, exec)

	sink := &recordingSink{}
	o.AddResultSink(failingSink{})
	o.AddResultSink(sink)

	result, err := o.ProcessTask(t.Context(), model.Task{ID: "task-d", Type: model.TaskTranscription})
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, result.State,
		"a failing sink must not change the task outcome")

	saved := sink.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "task-d", saved[0].TaskID)
	assert.Equal(t, model.TaskCompleted, saved[0].State)
}
