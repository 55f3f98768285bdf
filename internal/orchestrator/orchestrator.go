// Package orchestrator coordinates model residency and task execution
// against a fixed memory budget.
//
// At most one model is resident at a time. Loading a replacement evicts
// the current model first when both would overrun the budget; when they
// fit together the current model stays usable until the new one is fully
// initialized, and a failed load leaves it resident. Load, unload,
// execution, and the usage counter are all serialized under one mutex, so
// a step never runs against a model another task just evicted.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/executor"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/model"
	"github.com/audiohub/audiohub-go/internal/observability/metrics"
	"github.com/audiohub/audiohub-go/internal/pool"
	"github.com/audiohub/audiohub-go/internal/recovery"
)

const component = "orchestrator"

const bytesPerMB = 1024 * 1024

// reservationTimeout bounds how long a model load may wait for pool
// memory before the load fails.
const reservationTimeout = 30 * time.Second

// State names the orchestrator lifecycle phase.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateLoaded    State = "loaded"
	StateExecuting State = "executing"
	StateUnloading State = "unloading"
)

// Orchestrator owns model residency, the memory budget, and task
// execution. Construct instances with New; there is no package-level
// default.
type Orchestrator struct {
	mu          sync.Mutex
	state       State
	resident    *model.Type
	reservation *pool.Resource
	memoryUsage int64

	memoryLimit int64
	catalog     []model.Type
	fallbackID  string

	exec    executor.Executor
	pool    *pool.Pool
	handler *recovery.Handler
	logger  *slog.Logger
	metrics *metrics.OrchestratorMetrics

	tasks *taskRegistry

	sinkMu sync.Mutex
	sinks  []ResultSink
}

// New builds an orchestrator from loaded settings, an executor backend,
// and the shared resource pool. Model memory is charged against the pool
// while resident, so streams and models compete for the same capacity.
func New(settings *conf.Settings, exec executor.Executor, p *pool.Pool) (*Orchestrator, error) {
	if settings == nil || exec == nil || p == nil {
		return nil, errors.Newf("orchestrator requires settings, an executor, and a pool").
			Component(component).
			Category(errors.CategoryConfiguration).
			Kind(errors.KindInvalidInput).
			Build()
	}
	limit := settings.MemoryLimitBytes()
	if limit <= 0 {
		return nil, errors.Newf("memory limit must be positive, got %d MB", settings.Orchestrator.MemoryLimit).
			Component(component).
			Category(errors.CategoryConfiguration).
			Kind(errors.KindInvalidInput).
			Build()
	}
	catalog := settings.ModelCatalog()
	for i := range catalog {
		if err := catalog[i].Valid(); err != nil {
			return nil, errors.New(err).
				Component(component).
				Category(errors.CategoryConfiguration).
				Kind(errors.KindInvalidInput).
				Context("catalog_index", i).
				Build()
		}
	}

	retry := recovery.RetryConfigFromSettings(settings)
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = recovery.DefaultRetryConfig().MaxAttempts
	}

	return &Orchestrator{
		state:       StateIdle,
		memoryLimit: limit,
		catalog:     catalog,
		fallbackID:  settings.Models.Fallback,
		exec:        exec,
		pool:        p,
		handler:     recovery.NewHandler(retry),
		logger:      logging.ForService("orchestrator"),
		tasks:       newTaskRegistry(),
	}, nil
}

// SetMetrics attaches Prometheus collectors. Safe to leave unset in tests.
func (o *Orchestrator) SetMetrics(m *metrics.OrchestratorMetrics) {
	o.metrics = m
}

// LoadModel makes mt the resident model. A model whose requirement alone
// exceeds the budget fails before any eviction. Loading the model that is
// already resident is a no-op.
func (o *Orchestrator) LoadModel(ctx context.Context, mt model.Type) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.loadLocked(ctx, mt, true)
	return err
}

// UnloadModel releases the resident model. Unloading when nothing is
// loaded is a no-op; after return the usage counter reads zero either way.
func (o *Orchestrator) UnloadModel(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unloadLocked(ctx)
}

// CurrentMemoryUsage reports the bytes charged for resident models, zero
// when nothing is loaded.
func (o *Orchestrator) CurrentMemoryUsage() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.memoryUsage
}

// MemoryLimit reports the configured budget in bytes.
func (o *Orchestrator) MemoryLimit() int64 {
	return o.memoryLimit
}

// State reports the current lifecycle phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ResidentModel reports the loaded model, if any.
func (o *Orchestrator) ResidentModel() (model.Type, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.resident == nil {
		return model.Type{}, false
	}
	return *o.resident, true
}

// Catalog returns a copy of the configured model catalog.
func (o *Orchestrator) Catalog() []model.Type {
	out := make([]model.Type, len(o.catalog))
	copy(out, o.catalog)
	return out
}

// loadLocked ensures mt is resident and returns the model that actually
// serves: mt itself, or the configured fallback when loading mt fails
// with a model error and allowFallback is set. The fallback is attempted
// at most once and never falls back again.
func (o *Orchestrator) loadLocked(ctx context.Context, mt model.Type, allowFallback bool) (model.Type, error) {
	if err := mt.Valid(); err != nil {
		return model.Type{}, errors.New(err).
			Component(component).
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Build()
	}
	if mt.MemoryRequirement > o.memoryLimit {
		return model.Type{}, o.memoryExceeded(mt)
	}
	if o.resident != nil && o.resident.ID == mt.ID {
		return *o.resident, nil
	}
	if o.resident != nil && o.memoryUsage+mt.MemoryRequirement > o.memoryLimit {
		if err := o.evictLocked(ctx); err != nil {
			return model.Type{}, err
		}
	}

	prevState := o.state
	o.setStateLocked(StateLoading)
	start := time.Now()
	if err := o.installLocked(ctx, mt); err != nil {
		o.setStateLocked(prevState)
		o.recordLoad(mt.ID, metrics.StatusError, start)
		if fb, ok := o.fallbackFor(mt, allowFallback, err); ok {
			o.logger.Warn("model load failed, trying fallback",
				"model", mt.ID, "fallback", fb.ID, "error", err)
			loaded, fbErr := o.loadLocked(ctx, fb, false)
			if fbErr == nil {
				o.recordLoad(mt.ID, metrics.StatusFallback, start)
				return loaded, nil
			}
			o.logger.Error("fallback model load failed", "fallback", fb.ID, "error", fbErr)
		}
		return model.Type{}, err
	}
	o.setStateLocked(StateLoaded)
	o.recordLoad(mt.ID, metrics.StatusSuccess, start)
	o.logger.Info("model loaded",
		"model", mt.ID,
		"memory_mb", mt.MemoryRequirement/bytesPerMB,
		"usage_mb", o.memoryUsage/bytesPerMB,
		"duration_ms", time.Since(start).Milliseconds())
	return mt, nil
}

// installLocked reserves pool memory, loads mt into the executor, and on
// success swaps out a still-resident model. Failure leaves residency and
// accounting untouched.
func (o *Orchestrator) installLocked(ctx context.Context, mt model.Type) error {
	res, err := o.pool.Allocate(ctx, pool.Request{
		ID:       "model-" + mt.ID,
		Type:     pool.ResourceMemory,
		Priority: pool.PriorityHigh,
		Requirements: pool.Requirements{
			Memory:  mt.MemoryRequirement,
			Timeout: reservationTimeout,
		},
	})
	if err != nil {
		return err
	}
	if err := o.exec.LoadModel(ctx, mt); err != nil {
		o.pool.Release(res)
		return err
	}

	previous := ""
	if o.resident != nil {
		old := *o.resident
		previous = old.ID
		if uerr := o.exec.UnloadModel(context.WithoutCancel(ctx), old); uerr != nil {
			o.logger.Error("unload of replaced model failed", "model", old.ID, "error", uerr)
		}
		if o.reservation != nil {
			o.pool.Release(o.reservation)
		}
		o.memoryUsage -= old.MemoryRequirement
		o.pool.RecordEviction()
		if o.metrics != nil {
			o.metrics.RecordModelUnload(old.ID)
			o.metrics.RecordEviction()
		}
		o.logger.Info("model evicted", "model", old.ID, "replaced_by", mt.ID)
	}

	o.resident = &mt
	o.reservation = res
	o.memoryUsage += mt.MemoryRequirement
	if o.metrics != nil {
		o.metrics.SetResidentModel(previous, mt.ID)
		o.metrics.SetMemoryUsage(o.memoryUsage, o.memoryLimit)
	}
	return nil
}

// evictLocked unloads the resident model to free budget for another.
func (o *Orchestrator) evictLocked(ctx context.Context) error {
	evicted := o.resident.ID
	if err := o.unloadLocked(ctx); err != nil {
		return err
	}
	o.pool.RecordEviction()
	if o.metrics != nil {
		o.metrics.RecordEviction()
	}
	o.logger.Info("model evicted", "model", evicted)
	return nil
}

func (o *Orchestrator) unloadLocked(ctx context.Context) error {
	if o.resident == nil {
		return nil
	}
	prev := *o.resident
	o.setStateLocked(StateUnloading)
	err := o.exec.UnloadModel(ctx, prev)
	if o.reservation != nil {
		o.pool.Release(o.reservation)
		o.reservation = nil
	}
	o.resident = nil
	o.memoryUsage = 0
	o.setStateLocked(StateIdle)
	if o.metrics != nil {
		o.metrics.RecordModelUnload(prev.ID)
		o.metrics.SetResidentModel(prev.ID, "")
		o.metrics.SetMemoryUsage(0, o.memoryLimit)
	}
	if err != nil {
		return err
	}
	o.logger.Info("model unloaded", "model", prev.ID)
	return nil
}

// fallbackFor resolves the configured fallback model after a failed load.
// Only model errors qualify; connection or resource failures would fail
// the same way for any model.
func (o *Orchestrator) fallbackFor(mt model.Type, allowed bool, err error) (model.Type, bool) {
	if !allowed || o.fallbackID == "" || o.fallbackID == mt.ID {
		return model.Type{}, false
	}
	if !errors.IsKind(err, errors.KindModel) {
		return model.Type{}, false
	}
	return o.catalogModel(o.fallbackID)
}

// catalogModel looks up a catalog entry by id.
func (o *Orchestrator) catalogModel(id string) (model.Type, bool) {
	for _, m := range o.catalog {
		if m.ID == id {
			return m, true
		}
	}
	return model.Type{}, false
}

func (o *Orchestrator) memoryExceeded(mt model.Type) error {
	return errors.Newf("model %s requires %d MB but the memory limit is %d MB",
		mt.ID, mt.MemoryRequirement/bytesPerMB, o.memoryLimit/bytesPerMB).
		Component(component).
		Category(errors.CategoryLimit).
		Kind(errors.KindResourceExceeded).
		ModelContext(mt.ID, mt.MemoryRequirement).
		Context("memory_limit_bytes", o.memoryLimit).
		Build()
}

func (o *Orchestrator) setStateLocked(next State) {
	if o.state == next {
		return
	}
	if o.metrics != nil {
		o.metrics.RecordStateTransition(string(o.state), string(next))
	}
	o.logger.Debug("state transition", "from", string(o.state), "to", string(next))
	o.state = next
}

func (o *Orchestrator) recordLoad(modelID, status string, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordModelLoad(modelID, status, time.Since(start).Seconds())
	}
}
