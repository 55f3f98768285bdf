package orchestrator

import (
	"context"
	"time"

	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/model"
)

// ResultSink receives terminal task results. Sinks run after the outcome
// is final; a sink failure is logged and never alters the result.
type ResultSink interface {
	SaveTaskResult(ctx context.Context, result *model.TaskResult) error
}

// AddResultSink registers a sink for terminal task results.
func (o *Orchestrator) AddResultSink(sink ResultSink) {
	if sink == nil {
		return
	}
	o.sinkMu.Lock()
	defer o.sinkMu.Unlock()
	o.sinks = append(o.sinks, sink)
}

// ProcessTask plans and runs a task. Steps run strictly in order; before
// each step the step's model is made resident, which may evict the model
// the previous step used. Retryable step failures are retried with
// backoff under the configured attempt ceiling, and a waiting retry is
// visible through Status with its deadline and attempt number. Context
// cancellation releases the resident model so a cancelled task never
// leaks budget.
func (o *Orchestrator) ProcessTask(ctx context.Context, task model.Task) (model.TaskResult, error) {
	result := model.TaskResult{
		TaskID:    task.ID,
		Type:      task.Type,
		State:     model.TaskPending,
		StartedAt: time.Now(),
	}

	plan, err := o.PlanTask(task)
	if err != nil {
		o.tasks.track(task, 0)
		return o.finishTask(ctx, result, o.handler.RecordError(err, component))
	}
	o.tasks.track(task, len(plan.Steps))
	o.logger.Info("task planned",
		"task", task.ID, "type", string(task.Type), "steps", len(plan.Steps))

	// Fallback substitutions discovered while loading stick for the rest
	// of the task so later steps skip the doomed primary load.
	substituted := make(map[string]model.Type)
	transcript := ""
	for i := range plan.Steps {
		step := plan.Steps[i]
		if sub, ok := substituted[step.Model.ID]; ok {
			step.Model = sub
		}
		if step.Operation == model.OpSynthesize && step.Input.Text == "" {
			step.Input.Text = transcript
		}

		res, served, err := o.processStep(ctx, task.ID, i, step)
		if err != nil {
			if ctx.Err() != nil {
				o.releaseAfterCancel(ctx, task.ID)
			}
			if res.Attempts > 0 {
				result.Steps = append(result.Steps, res)
			}
			return o.finishTask(ctx, result, err)
		}
		if served.ID != "" && served.ID != plan.Steps[i].Model.ID {
			substituted[plan.Steps[i].Model.ID] = served
		}
		if res.Text != "" {
			transcript = res.Text
		}
		result.Steps = append(result.Steps, res)
	}
	return o.finishTask(ctx, result, nil)
}

// processStep runs one step under the configured retry budget. It returns
// the step result, the model that actually served it, and the final error
// once the attempts are spent or the failure is not retryable.
func (o *Orchestrator) processStep(ctx context.Context, taskID string, index int, step model.Step) (model.StepResult, model.Type, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return model.StepResult{Operation: step.Operation, Attempts: attempt}, model.Type{}, cancelledError(err)
		}
		o.tasks.update(taskID, func(st *TaskStatus) {
			st.State = model.TaskRunning
			st.Step = index
			st.Attempt = attempt + 1
			st.Retry = nil
		})

		res, served, err := o.runStep(ctx, step)
		if served.ID != "" {
			// Pin a fallback substitution for the remaining attempts.
			step.Model = served
		}
		if err == nil {
			res.Attempts = attempt + 1
			return res, served, nil
		}
		if ctx.Err() != nil {
			return model.StepResult{Operation: step.Operation, Attempts: attempt + 1}, served, cancelledError(ctx.Err())
		}

		enhanced := o.handler.RecordError(err, component)
		if !o.handler.ShouldRetry(enhanced, attempt) {
			return model.StepResult{Operation: step.Operation, Attempts: attempt + 1}, served, enhanced
		}

		delay := o.handler.Backoff(attempt)
		schedule := model.RetrySchedule{NextAttempt: attempt + 2, NotBefore: time.Now().Add(delay)}
		o.tasks.update(taskID, func(st *TaskStatus) {
			st.State = model.TaskRetryScheduled
			st.Retry = &schedule
		})
		if o.metrics != nil {
			o.metrics.RecordStepRetry(string(step.Operation))
		}
		o.logger.Warn("step failed, retry scheduled",
			"task", taskID, "step", index, "operation", string(step.Operation),
			"attempt", attempt+1, "delay_ms", delay.Milliseconds(), "error", enhanced)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.StepResult{Operation: step.Operation, Attempts: attempt + 1}, served, cancelledError(ctx.Err())
		case <-timer.C:
		}
	}
}

// runStep makes the step's model resident and executes it, all under the
// orchestrator lock so a concurrent task cannot evict the model mid-step.
func (o *Orchestrator) runStep(ctx context.Context, step model.Step) (model.StepResult, model.Type, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	served, err := o.loadLocked(ctx, step.Model, true)
	if err != nil {
		return model.StepResult{}, model.Type{}, err
	}
	step.Model = served

	o.setStateLocked(StateExecuting)
	res, err := o.exec.Execute(ctx, step)
	o.setStateLocked(StateLoaded)
	return res, served, err
}

// releaseAfterCancel unloads the resident model after a cancelled task so
// the budget is not leaked. The unload runs on a detached context.
func (o *Orchestrator) releaseAfterCancel(ctx context.Context, taskID string) {
	if err := o.UnloadModel(context.WithoutCancel(ctx)); err != nil {
		o.logger.Error("release after cancellation failed", "task", taskID, "error", err)
		return
	}
	o.logger.Info("released model after cancellation", "task", taskID)
}

// finishTask seals the result, updates the status registry and metrics,
// and hands the terminal record to the registered sinks.
func (o *Orchestrator) finishTask(ctx context.Context, result model.TaskResult, err error) (model.TaskResult, error) {
	result.FinishedAt = time.Now()
	if err != nil {
		result.State = model.TaskFailed
		if kind, ok := errors.KindOf(err); ok {
			result.ErrorKind = string(kind)
		} else {
			result.ErrorKind = string(errors.KindUnknown)
		}
		result.Error = err.Error()
	} else {
		result.State = model.TaskCompleted
	}

	o.tasks.update(result.TaskID, func(st *TaskStatus) {
		st.State = result.State
		st.Retry = nil
	})
	if o.metrics != nil {
		o.metrics.RecordTask(string(result.Type), string(result.State),
			result.FinishedAt.Sub(result.StartedAt).Seconds())
	}
	if err != nil {
		o.logger.Error("task failed",
			"task", result.TaskID, "kind", result.ErrorKind, "error", err)
	} else {
		o.logger.Info("task completed",
			"task", result.TaskID, "steps", len(result.Steps),
			"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds())
	}

	o.deliver(ctx, &result)
	if err != nil {
		return result, err
	}
	return result, nil
}

// deliver hands the terminal result to every registered sink.
func (o *Orchestrator) deliver(ctx context.Context, result *model.TaskResult) {
	o.sinkMu.Lock()
	sinks := make([]ResultSink, len(o.sinks))
	copy(sinks, o.sinks)
	o.sinkMu.Unlock()
	if len(sinks) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, sink := range sinks {
		if err := sink.SaveTaskResult(ctx, result); err != nil {
			o.logger.Error("result sink failed", "task", result.TaskID, "error", err)
		}
	}
}

// cancelledError wraps a context error in the closed taxonomy. Deadline
// expiry surfaces as a timeout; an explicit cancel stays unclassified.
// Neither is retried.
func cancelledError(err error) error {
	kind := errors.KindUnknown
	if errors.Is(err, context.DeadlineExceeded) {
		kind = errors.KindTimeout
	}
	return errors.New(err).
		Component(component).
		Category(errors.CategoryCancellation).
		Kind(kind).
		Build()
}
