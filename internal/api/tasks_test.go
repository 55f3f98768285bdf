// internal/api/tasks_test.go
package api

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/model"
	"github.com/audiohub/audiohub-go/internal/orchestrator"
)

// writeTestWAV writes n silent mono samples at 16 kHz.
func writeTestWAV(t *testing.T, samples int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Data:   make([]int, samples),
		Format: &audio.Format{NumChannels: 1, SampleRate: 16000},
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestSubmitTranscriptionTaskEndToEnd(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(transcriberConfig("whisper-tiny", 200))
	e, controller := setupTestEnvironment(t, settings)
	controller.Orchestrator.AddResultSink(controller.DS)

	clip := writeTestWAV(t, 24000)
	rec := doJSON(t, e, http.MethodPost, "/api/v1/tasks", map[string]any{
		"id":    "task-api-1",
		"type":  "transcription",
		"input": map[string]any{"ref": clip},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result model.TaskResult
	decodeBody(t, rec, &result)
	assert.Equal(t, "task-api-1", result.TaskID)
	assert.Equal(t, model.TaskCompleted, result.State)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "Word 1 Word 2 Word 3", result.Steps[0].Text,
		"24000 samples at 16 kHz make three words")
	assert.Len(t, result.Steps[0].Segments, 3)
	assert.Equal(t, 1, result.Steps[0].Attempts)

	// The sink persisted the outcome; the history endpoint serves it.
	rec = doJSON(t, e, http.MethodGet, "/api/v1/tasks/task-api-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stored TaskRecordResponse
	decodeBody(t, rec, &stored)
	assert.Equal(t, "completed", stored.State)
	assert.Equal(t, "transcription", stored.Type)
	assert.Equal(t, "Word 1 Word 2 Word 3", stored.Transcript)
	require.Len(t, stored.Steps, 1)
	assert.Equal(t, "transcribe", stored.Steps[0].Operation)
	assert.Equal(t, 3, stored.Steps[0].SegmentCount)
}

func TestSubmitTaskGeneratesID(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(transcriberConfig("whisper-tiny", 200))
	e, _ := setupTestEnvironment(t, settings)

	clip := writeTestWAV(t, 8000)
	rec := doJSON(t, e, http.MethodPost, "/api/v1/tasks", map[string]any{
		"type":  "transcription",
		"input": map[string]any{"ref": clip},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.TaskResult
	decodeBody(t, rec, &result)
	_, err := uuid.Parse(result.TaskID)
	assert.NoError(t, err, "omitted task id should be filled with a UUID")
}

func TestSubmitTaskValidation(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(transcriberConfig("whisper-tiny", 200))
	e, _ := setupTestEnvironment(t, settings)

	rec := doJSON(t, e, http.MethodPost, "/api/v1/tasks", map[string]any{
		"type": "teleportation",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown task type")

	rec = doJSON(t, e, http.MethodPost, "/api/v1/tasks", map[string]any{
		"type":  "transcription",
		"input": map[string]any{"ref": filepath.Join(t.TempDir(), "missing.wav")},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unreadable audio ref")

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "could not read referenced audio", resp.Message)
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestSubmitSynthesisTask(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(synthesizerConfig("speecht5", 300))
	e, _ := setupTestEnvironment(t, settings)

	rec := doJSON(t, e, http.MethodPost, "/api/v1/tasks", map[string]any{
		"id":    "task-synth",
		"type":  "synthesis",
		"input": map[string]any{"text": "hello from the api"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result model.TaskResult
	decodeBody(t, rec, &result)
	assert.Equal(t, model.TaskCompleted, result.State)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, model.OutputAudio, result.Steps[0].Output)
	require.NotEmpty(t, result.Steps[0].AudioRef)

	_, err := os.Stat(result.Steps[0].AudioRef)
	assert.NoError(t, err, "the synthesized artifact should exist on disk")
}

func TestSubmitAnalysisTaskChainsSteps(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(
		transcriberConfig("whisper-tiny", 200),
		synthesizerConfig("speecht5", 300),
	)
	e, _ := setupTestEnvironment(t, settings)

	clip := writeTestWAV(t, 16000)
	rec := doJSON(t, e, http.MethodPost, "/api/v1/tasks", map[string]any{
		"id":    "task-analysis",
		"type":  "analysis",
		"input": map[string]any{"ref": clip},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result model.TaskResult
	decodeBody(t, rec, &result)
	assert.Equal(t, model.TaskCompleted, result.State)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, model.OpTranscribe, result.Steps[0].Operation)
	assert.Equal(t, "Word 1 Word 2", result.Steps[0].Text)
	assert.Equal(t, model.OpSynthesize, result.Steps[1].Operation)
	assert.NotEmpty(t, result.Steps[1].AudioRef,
		"the transcript should drive the synthesis step")
}

func TestSubmitTaskUnplannableMapsTo422(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(transcriberConfig("whisper-tiny", 200)) // no synthesizer
	e, _ := setupTestEnvironment(t, settings)

	rec := doJSON(t, e, http.MethodPost, "/api/v1/tasks", map[string]any{
		"id":    "task-unplannable",
		"type":  "synthesis",
		"input": map[string]any{"text": "hi"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var envelope struct {
		Error  ErrorResponse    `json:"error"`
		Result model.TaskResult `json:"result"`
	}
	decodeBody(t, rec, &envelope)
	assert.Equal(t, http.StatusUnprocessableEntity, envelope.Error.Code)
	assert.NotEmpty(t, envelope.Error.CorrelationID)
	assert.Equal(t, model.TaskFailed, envelope.Result.State)
	assert.Equal(t, string(errors.KindInvalidInput), envelope.Result.ErrorKind)
}

func TestRecentTasksListsNewestFirst(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(transcriberConfig("whisper-tiny", 200))
	e, controller := setupTestEnvironment(t, settings)
	controller.Orchestrator.AddResultSink(controller.DS)

	clip := writeTestWAV(t, 8000)
	for _, id := range []string{"task-old", "task-new"} {
		rec := doJSON(t, e, http.MethodPost, "/api/v1/tasks", map[string]any{
			"id":    id,
			"type":  "transcription",
			"input": map[string]any{"ref": clip},
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, e, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Tasks []TaskRecordResponse `json:"tasks"`
		Count int                  `json:"count"`
	}
	decodeBody(t, rec, &listing)
	require.Equal(t, 2, listing.Count)
	assert.Equal(t, "task-new", listing.Tasks[0].TaskID)
	assert.Equal(t, "task-old", listing.Tasks[1].TaskID)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/tasks?limit=1", nil)
	decodeBody(t, rec, &listing)
	assert.Equal(t, 1, listing.Count)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/tasks?limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskMissingReturns404(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(transcriberConfig("whisper-tiny", 200))
	e, _ := setupTestEnvironment(t, settings)

	rec := doJSON(t, e, http.MethodGet, "/api/v1/tasks/never-submitted", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskFallsBackToLiveStatus(t *testing.T) {
	t.Parallel()
	settings := apiTestSettings(transcriberConfig("whisper-tiny", 200))
	e, _ := setupTestEnvironment(t, settings)

	// No result sink is registered, so the task never reaches the
	// datastore and the lookup must come from the live registry.
	clip := writeTestWAV(t, 8000)
	rec := doJSON(t, e, http.MethodPost, "/api/v1/tasks", map[string]any{
		"id":    "task-live",
		"type":  "transcription",
		"input": map[string]any{"ref": clip},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/tasks/task-live", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status orchestrator.TaskStatus `json:"status"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "task-live", resp.Status.TaskID)
	assert.Equal(t, model.TaskCompleted, resp.Status.State)
	assert.Equal(t, 1, resp.Status.StepCount)
}
