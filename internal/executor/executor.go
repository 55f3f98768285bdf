// Package executor runs individual plan steps against an inference backend.
//
// Three backends are provided: a local simulator (the default), a remote
// HTTP inference service, and an embedded TensorFlow Lite interpreter. The
// orchestrator owns memory accounting and decides which model is resident;
// executors do the backend-specific load, unload, and execute work.
package executor

import (
	"context"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/model"
	"github.com/audiohub/audiohub-go/internal/observability/metrics"
)

// Backend names as they appear in config, logs, and metric labels.
const (
	BackendLocal  = "local"
	BackendHTTP   = "http"
	BackendTFLite = "tflite"
)

// Executor runs plan steps for models it has loaded.
//
// LoadModel and UnloadModel bracket a model's residency and are driven by
// the orchestrator. Execute runs one step and must only be called while the
// step's model is loaded. Implementations are safe for concurrent use.
type Executor interface {
	// Name identifies the backend in logs and metric labels.
	Name() string

	// LoadModel makes mt available for execution.
	LoadModel(ctx context.Context, mt model.Type) error

	// UnloadModel releases backend resources held for mt. Unloading a model
	// that was never loaded is a no-op.
	UnloadModel(ctx context.Context, mt model.Type) error

	// Execute runs one plan step and returns its result. The result's
	// Attempts field is left zero; retry bookkeeping belongs to the caller.
	Execute(ctx context.Context, step model.Step) (model.StepResult, error)

	// Close releases everything the backend holds.
	Close() error
}

// New builds the executor selected by settings.Executor.Type. An empty type
// selects the local simulator.
func New(settings *conf.Settings, m *metrics.ExecutorMetrics) (Executor, error) {
	switch settings.Executor.Type {
	case "", BackendLocal:
		return NewLocal(settings, m), nil
	case BackendHTTP:
		return NewRemote(settings, m)
	case BackendTFLite:
		return NewTFLite(settings, m)
	default:
		return nil, errors.Newf("unknown executor type %q", settings.Executor.Type).
			Component("executor").
			Category(errors.CategoryConfiguration).
			Kind(errors.KindInvalidInput).
			Context("executor_type", settings.Executor.Type).
			Build()
	}
}

// notLoadedError reports an Execute call for a model the backend has not
// loaded. The orchestrator treats this as a model fault and re-ensures
// residency before retrying.
func notLoadedError(backend string, mt model.Type) error {
	return errors.Newf("model %s is not loaded", mt.ID).
		Component("executor").
		Category(errors.CategoryState).
		Kind(errors.KindModel).
		Context("backend", backend).
		Context("model_id", mt.ID).
		Build()
}

// unsupportedOperationError reports a step operation the backend cannot run.
func unsupportedOperationError(backend string, op model.Operation) error {
	return errors.Newf("operation %s is not supported by the %s backend", op, backend).
		Component("executor").
		Category(errors.CategoryExecutor).
		Kind(errors.KindInvalidInput).
		Context("backend", backend).
		Context("operation", string(op)).
		Build()
}

// emptyInputError reports a step whose input carries no usable payload.
func emptyInputError(backend string, op model.Operation) error {
	return errors.Newf("step input is empty for operation %s", op).
		Component("executor").
		Category(errors.CategoryValidation).
		Kind(errors.KindInvalidInput).
		Context("backend", backend).
		Context("operation", string(op)).
		Build()
}
