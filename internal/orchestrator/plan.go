package orchestrator

import (
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/model"
)

// PlanTask maps a task onto an ordered step list. Each step gets the
// least capable catalog model that can run it, ties broken by lower
// memory requirement and then by id, so planning is deterministic for a
// given catalog. Planning never touches residency; consecutive steps may
// name different models and the resulting swaps are accepted.
func (o *Orchestrator) PlanTask(task model.Task) (model.Plan, error) {
	if task.ID == "" {
		return model.Plan{}, errors.Newf("task id must not be empty").
			Component(component).
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Build()
	}
	if !task.Type.Valid() {
		return model.Plan{}, errors.Newf("unknown task type %q", task.Type).
			Component(component).
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Context("task_id", task.ID).
			Build()
	}

	ops := taskOperations(task.Type)
	steps := make([]model.Step, 0, len(ops))
	for i, op := range ops {
		mt, ok := o.selectModel(operationCapability(op))
		if !ok {
			return model.Plan{}, o.unsupportedTask(task, op)
		}
		input := model.TaskInput{}
		if i == 0 {
			input = task.Input
		}
		steps = append(steps, model.Step{
			Model:          mt,
			Operation:      op,
			Input:          input,
			ExpectedOutput: expectedOutput(op),
		})
	}
	return model.Plan{TaskID: task.ID, Steps: steps}, nil
}

// taskOperations maps a task type onto its ordered operations. Analysis
// chains recognition and generation: the transcript of the first step
// becomes the synthesis prompt of the second.
func taskOperations(tt model.TaskType) []model.Operation {
	switch tt {
	case model.TaskTranscription:
		return []model.Operation{model.OpTranscribe}
	case model.TaskSynthesis:
		return []model.Operation{model.OpSynthesize}
	case model.TaskAnalysis:
		return []model.Operation{model.OpTranscribe, model.OpSynthesize}
	}
	return nil
}

// operationCapability returns the capability a single operation demands.
func operationCapability(op model.Operation) model.Capability {
	switch op {
	case model.OpTranscribe, model.OpExtractFeatures:
		return model.Capability{Transcription: true}
	case model.OpSynthesize:
		return model.Capability{Synthesis: true}
	}
	return model.Capability{}
}

func expectedOutput(op model.Operation) model.OutputKind {
	switch op {
	case model.OpTranscribe:
		return model.OutputText
	case model.OpSynthesize:
		return model.OutputAudio
	case model.OpExtractFeatures:
		return model.OutputFeatures
	}
	return ""
}

// selectModel picks the catalog model covering need with the smallest
// capability surface. Catalog order never influences the outcome.
func (o *Orchestrator) selectModel(need model.Capability) (model.Type, bool) {
	var best model.Type
	found := false
	for _, m := range o.catalog {
		if !m.Capabilities.Covers(need) {
			continue
		}
		if !found || planBefore(m, best) {
			best = m
			found = true
		}
	}
	return best, found
}

// planBefore orders selection candidates: fewer capabilities first, then
// lower memory, then id.
func planBefore(a, b model.Type) bool {
	if ca, cb := a.Capabilities.Count(), b.Capabilities.Count(); ca != cb {
		return ca < cb
	}
	if a.MemoryRequirement != b.MemoryRequirement {
		return a.MemoryRequirement < b.MemoryRequirement
	}
	return a.ID < b.ID
}

func (o *Orchestrator) unsupportedTask(task model.Task, op model.Operation) error {
	return errors.Newf("no model in the catalog can run %s for task type %s", op, task.Type).
		Component(component).
		Category(errors.CategoryPlanning).
		Kind(errors.KindInvalidInput).
		Context("task_id", task.ID).
		Context("catalog_size", len(o.catalog)).
		Build()
}
