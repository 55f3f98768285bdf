package executor

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/model"
)

func newTFLiteForTest(t *testing.T) *TFLiteExecutor {
	t.Helper()
	settings := executorTestSettings()
	settings.Executor.Type = BackendTFLite
	settings.Executor.TFLite.ModelPath = filepath.Join(t.TempDir(), "missing.tflite")
	settings.Executor.TFLite.Threads = 1

	exec, err := NewTFLite(settings, nil)
	require.NoError(t, err, "tflite executor should build")
	t.Cleanup(func() {
		require.NoError(t, exec.Close(), "close should not fail")
	})
	return exec
}

func TestTFLiteLoadModelMissingFile(t *testing.T) {
	t.Parallel()

	exec := newTFLiteForTest(t)

	err := exec.LoadModel(t.Context(), executorTestModel("encoder"))
	require.Error(t, err, "loading a missing model file must fail")
	assert.True(t, errors.IsKind(err, errors.KindModel), "expected model error kind")
}

func TestTFLiteExecuteRequiresLoadedModel(t *testing.T) {
	t.Parallel()

	exec := newTFLiteForTest(t)

	_, err := exec.Execute(t.Context(), model.Step{
		Model:     executorTestModel("encoder"),
		Operation: model.OpExtractFeatures,
		Input:     model.TaskInput{Samples: make([]float32, 100)},
	})
	require.Error(t, err, "executing without a loaded model must fail")
	assert.True(t, errors.IsKind(err, errors.KindModel), "expected model error kind")
}

func TestTFLiteUnsupportedOperations(t *testing.T) {
	t.Parallel()

	exec := newTFLiteForTest(t)

	for _, op := range []model.Operation{model.OpTranscribe, model.OpSynthesize} {
		_, err := exec.Execute(t.Context(), model.Step{
			Model:     executorTestModel("encoder"),
			Operation: op,
			Input:     model.TaskInput{Samples: make([]float32, 100), Text: "hello"},
		})
		require.Error(t, err, "operation %s should be unsupported", op)
		assert.True(t, errors.IsKind(err, errors.KindInvalidInput), "expected invalid input kind for %s", op)
	}
}

func TestTFLiteUnloadNeverLoadedIsNoop(t *testing.T) {
	t.Parallel()

	exec := newTFLiteForTest(t)
	require.NoError(t, exec.UnloadModel(t.Context(), executorTestModel("encoder")), "unloading an unknown model is a no-op")
}

func TestDetermineThreadCount(t *testing.T) {
	t.Parallel()

	cpus := runtime.NumCPU()

	t.Run("zero detects from cpu", func(t *testing.T) {
		t.Parallel()
		threads := determineThreadCount(0)
		assert.GreaterOrEqual(t, threads, 1, "detected thread count should be positive")
		assert.LessOrEqual(t, threads, cpus, "detected thread count should not exceed CPUs")
	})

	t.Run("configured value is clamped", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, cpus, determineThreadCount(cpus+100), "excess threads clamp to CPU count")
		assert.Equal(t, 1, determineThreadCount(1), "explicit count passes through")
	})
}
