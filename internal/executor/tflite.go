package executor

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	tflite "github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/cpuspec"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/model"
	"github.com/audiohub/audiohub-go/internal/observability/metrics"
)

// tfliteModel holds one resident interpreter. The model handle is retained
// so teardown can release it after the interpreter.
type tfliteModel struct {
	model       *tflite.Model
	interpreter *tflite.Interpreter
}

func (t *tfliteModel) release() {
	if t.interpreter != nil {
		t.interpreter.Delete()
		t.interpreter = nil
	}
	if t.model != nil {
		t.model.Delete()
		t.model = nil
	}
}

// TFLiteExecutor runs feature extraction through embedded TensorFlow Lite
// interpreters, one per resident model. Each Invoke is serialized; the
// interpreter is not safe for concurrent use.
type TFLiteExecutor struct {
	modelPath  string
	threads    int
	useXNNPACK bool
	metrics    *metrics.ExecutorMetrics
	logger     *slog.Logger

	mu     sync.Mutex
	loaded map[string]*tfliteModel
}

// NewTFLite creates the TensorFlow Lite backend from settings.Executor.TFLite.
func NewTFLite(settings *conf.Settings, m *metrics.ExecutorMetrics) (*TFLiteExecutor, error) {
	tfliteSettings := settings.Executor.TFLite
	if tfliteSettings.ModelPath == "" {
		return nil, errors.Newf("tflite executor requires a model path").
			Component("executor").
			Category(errors.CategoryConfiguration).
			Kind(errors.KindInvalidInput).
			Build()
	}

	return &TFLiteExecutor{
		modelPath:  tfliteSettings.ModelPath,
		threads:    determineThreadCount(tfliteSettings.Threads),
		useXNNPACK: tfliteSettings.UseXNNPACK,
		metrics:    m,
		logger:     logging.ForService("executor").With("backend", BackendTFLite),
		loaded:     make(map[string]*tfliteModel),
	}, nil
}

// Name implements Executor.
func (e *TFLiteExecutor) Name() string { return BackendTFLite }

// LoadModel implements Executor. A model Name ending in .tflite overrides
// the configured model path, letting the catalog carry several model files.
func (e *TFLiteExecutor) LoadModel(_ context.Context, mt model.Type) error {
	if err := mt.Valid(); err != nil {
		return errors.New(err).
			Component("executor").
			Category(errors.CategoryModelLoad).
			Kind(errors.KindInvalidInput).
			Context("backend", BackendTFLite).
			Build()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.loaded[mt.ID]; ok {
		return nil
	}

	start := time.Now()
	path := e.modelPath
	if strings.HasSuffix(mt.Name, ".tflite") {
		path = mt.Name
	}

	modelData, err := os.ReadFile(path)
	if err != nil {
		return errors.New(err).
			Component("executor").
			Category(errors.CategoryModelLoad).
			Kind(errors.KindModel).
			Context("backend", BackendTFLite).
			Context("model_id", mt.ID).
			Context("model_path", path).
			Timing("model-load", time.Since(start)).
			Build()
	}

	tfModel := tflite.NewModel(modelData)
	if tfModel == nil {
		return errors.Newf("cannot parse TensorFlow Lite model %s", path).
			Component("executor").
			Category(errors.CategoryModelInit).
			Kind(errors.KindModel).
			Context("backend", BackendTFLite).
			Context("model_id", mt.ID).
			Context("model_size_mb", len(modelData)/1024/1024).
			Context("use_xnnpack", e.useXNNPACK).
			Timing("model-init", time.Since(start)).
			Build()
	}

	options := tflite.NewInterpreterOptions()
	if e.useXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, e.threads-1))}) //nolint:gosec // G115: thread count bounded by CPU count, safe conversion
		if delegate == nil {
			e.logger.Warn("failed to create XNNPACK delegate, falling back to CPU")
			options.SetNumThread(e.threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(e.threads)
	}
	options.SetErrorReporter(func(msg string, userData any) {
		logging.ForService("executor").Error("tflite error", "message", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(tfModel, options)
	if interpreter == nil {
		tfModel.Delete()
		return errors.Newf("cannot create interpreter for model %s", mt.ID).
			Component("executor").
			Category(errors.CategoryModelInit).
			Kind(errors.KindModel).
			Context("backend", BackendTFLite).
			Context("model_id", mt.ID).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		tfModel.Delete()
		return errors.Newf("tensor allocation failed for model %s", mt.ID).
			Component("executor").
			Category(errors.CategoryModelInit).
			Kind(errors.KindModel).
			Context("backend", BackendTFLite).
			Context("model_id", mt.ID).
			Build()
	}

	// The interpreter holds its own copy of the model data; reclaim ours.
	runtime.GC()

	e.loaded[mt.ID] = &tfliteModel{model: tfModel, interpreter: interpreter}
	e.logger.Info("model loaded", "model_id", mt.ID, "path", path,
		"threads", e.threads, "xnnpack", e.useXNNPACK,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// UnloadModel implements Executor, releasing the interpreter.
func (e *TFLiteExecutor) UnloadModel(_ context.Context, mt model.Type) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	resident, ok := e.loaded[mt.ID]
	if !ok {
		return nil
	}
	resident.release()
	delete(e.loaded, mt.ID)
	e.logger.Info("model unloaded", "model_id", mt.ID)
	return nil
}

// Execute implements Executor. The backend supports feature extraction: the
// input chunk fills the model's input tensor and the output tensor length
// becomes the feature dimension.
func (e *TFLiteExecutor) Execute(ctx context.Context, step model.Step) (model.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return model.StepResult{}, err
	}

	start := time.Now()
	var result model.StepResult
	var err error
	switch step.Operation {
	case model.OpExtractFeatures:
		result, err = e.invoke(step)
	default:
		err = unsupportedOperationError(BackendTFLite, step.Operation)
	}

	elapsed := time.Since(start)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	if e.metrics != nil {
		e.metrics.RecordOperation(BackendTFLite, string(step.Operation), status, elapsed.Seconds())
		if err == nil {
			e.metrics.RecordOutput(0, result.FeatureFrames)
		}
	}
	if err != nil {
		return model.StepResult{}, err
	}

	result.Operation = step.Operation
	result.Duration = elapsed
	return result, nil
}

func (e *TFLiteExecutor) invoke(step model.Step) (model.StepResult, error) {
	samples := step.Input.Samples
	if len(samples) == 0 {
		return model.StepResult{}, emptyInputError(BackendTFLite, step.Operation)
	}

	// Serialize access; the interpreter mutates shared tensor buffers.
	e.mu.Lock()
	defer e.mu.Unlock()

	resident, ok := e.loaded[step.Model.ID]
	if !ok {
		return model.StepResult{}, notLoadedError(BackendTFLite, step.Model)
	}

	inputTensor := resident.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return model.StepResult{}, e.invokeError("cannot get input tensor", step.Model)
	}
	input := inputTensor.Float32s()
	n := copy(input, samples)
	for i := n; i < len(input); i++ {
		input[i] = 0
	}

	if status := resident.interpreter.Invoke(); status != tflite.OK {
		return model.StepResult{}, e.invokeError("tensor invoke failed", step.Model)
	}

	outputTensor := resident.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return model.StepResult{}, e.invokeError("cannot get output tensor", step.Model)
	}

	return model.StepResult{
		Output:        model.OutputFeatures,
		FeatureFrames: 1,
		FeatureDim:    len(outputTensor.Float32s()),
	}, nil
}

func (e *TFLiteExecutor) invokeError(msg string, mt model.Type) error {
	return errors.Newf("%s for model %s", msg, mt.ID).
		Component("executor").
		Category(errors.CategoryExecutor).
		Kind(errors.KindModel).
		Context("backend", BackendTFLite).
		Context("model_id", mt.ID).
		Build()
}

// Close implements Executor, releasing every resident interpreter.
func (e *TFLiteExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, resident := range e.loaded {
		resident.release()
		delete(e.loaded, id)
	}
	return nil
}

// determineThreadCount sizes interpreter threads from settings and the host
// CPU. Zero asks cpuspec for the optimal count.
func determineThreadCount(configured int) int {
	systemCPUCount := runtime.NumCPU()
	if configured == 0 {
		spec := cpuspec.Detect()
		if threads := spec.InferenceThreads(); threads > 0 {
			return min(threads, systemCPUCount)
		}
		return systemCPUCount
	}
	if configured > systemCPUCount {
		return systemCPUCount
	}
	return configured
}
