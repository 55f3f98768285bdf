package worker

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/executor"
)

// probe mirrors one response line loosely enough to inspect any operation.
type probe struct {
	ID     any            `json:"id"`
	Result map[string]any `json:"result"`
	Error  string         `json:"error"`
}

func workerSettings(catalog ...conf.ModelTypeConfig) *conf.Settings {
	s := &conf.Settings{}
	s.Orchestrator.MemoryLimit = 1024
	s.Models.Catalog = catalog
	if len(catalog) > 0 {
		s.Models.Default = catalog[0].ID
	}
	s.Audio.SampleRate = 16000
	s.Audio.ChunkSeconds = 1.0
	return s
}

func transcriberConfig(id string, memoryMB int64) conf.ModelTypeConfig {
	return conf.ModelTypeConfig{
		ID:            id,
		Name:          id,
		Memory:        memoryMB,
		Transcription: true,
	}
}

func newTestService(t *testing.T, settings *conf.Settings) *Service {
	t.Helper()
	exec := executor.NewLocal(settings, nil)
	t.Cleanup(func() { _ = exec.Close() })
	return NewService(settings, exec, nil)
}

// runLines feeds the requests through one Run call and decodes every
// response line.
func runLines(t *testing.T, svc *Service, lines ...string) []probe {
	t.Helper()

	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	require.NoError(t, svc.Run(t.Context(), in, &out))

	var responses []probe
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var p probe
		require.NoError(t, json.Unmarshal([]byte(line), &p), "response line: %s", line)
		responses = append(responses, p)
	}
	return responses
}

// audioRequest builds a process_audio or extract_features line with the
// given number of silent samples.
func audioRequest(t *testing.T, id any, operation string, samples int) string {
	t.Helper()
	line, err := json.Marshal(map[string]any{
		"id":        id,
		"operation": operation,
		"data": map[string]any{
			"audio": map[string]any{"data": make([]float32, samples)},
		},
	})
	require.NoError(t, err)
	return string(line)
}

func TestPingReportsDeviceAndBudget(t *testing.T) {
	svc := newTestService(t, workerSettings(transcriberConfig("whisper-tiny", 200)))

	responses := runLines(t, svc, `{"id":1,"operation":"ping"}`)
	require.Len(t, responses, 1)

	resp := responses[0]
	assert.Empty(t, resp.Error)
	assert.InDelta(t, 1, resp.ID, 0)
	assert.Equal(t, "ok", resp.Result["status"])
	assert.Equal(t, "cpu", resp.Result["device"])
	assert.InDelta(t, float64(1024*1024*1024), resp.Result["memory_available"], 0)
}

func TestProcessAudioTranscribes(t *testing.T) {
	svc := newTestService(t, workerSettings(transcriberConfig("whisper-tiny", 200)))

	responses := runLines(t, svc, audioRequest(t, "req-1", "process_audio", 24000))
	require.Len(t, responses, 1)

	resp := responses[0]
	require.Empty(t, resp.Error)
	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, "Word 1 Word 2 Word 3", resp.Result["transcription"])
	assert.InDelta(t, 0.9, resp.Result["confidence"], 1e-9)
	assert.InDelta(t, 1.5, resp.Result["duration"], 1e-9)
	assert.InDelta(t, 3, resp.Result["word_count"], 0)

	segments, ok := resp.Result["segments"].([]any)
	require.True(t, ok, "segments missing: %v", resp.Result)
	require.Len(t, segments, 3)
	first, ok := segments[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Word 1", first["text"])
	assert.InDelta(t, 0.0, first["start"], 1e-9)
	assert.InDelta(t, 0.5, first["end"], 1e-9)
	conf64, ok := first["confidence"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, conf64, 0.8)
	assert.LessOrEqual(t, conf64, 1.0)

	mem, ok := resp.Result["memory_usage"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, float64(100*1024*1024), mem["peak"], 0)
	assert.InDelta(t, float64(50*1024*1024), mem["current"], 0)
}

func TestProcessAudioLoadsDefaultModelLazily(t *testing.T) {
	settings := workerSettings(
		transcriberConfig("whisper-tiny", 200),
		transcriberConfig("whisper-base", 400),
	)
	settings.Models.Default = "whisper-base"
	svc := newTestService(t, settings)

	responses := runLines(t, svc,
		audioRequest(t, 1, "extract_features", 16000),
	)
	require.Len(t, responses, 1)
	require.Empty(t, responses[0].Error)

	meta, ok := responses[0].Result["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "whisper-base", meta["model"])
}

func TestExtractFeaturesReportsShape(t *testing.T) {
	svc := newTestService(t, workerSettings(transcriberConfig("whisper-tiny", 200)))

	responses := runLines(t, svc, audioRequest(t, 7, "extract_features", 16000))
	require.Len(t, responses, 1)

	resp := responses[0]
	require.Empty(t, resp.Error)

	meta, ok := resp.Result["metadata"].(map[string]any)
	require.True(t, ok, "metadata missing: %v", resp.Result)
	assert.Equal(t, "audio_features", meta["type"])
	assert.Equal(t, "whisper-tiny", meta["model"])
	assert.InDelta(t, 50, meta["time_steps"], 0)
	assert.InDelta(t, 16000, meta["sample_rate"], 0)

	dims, ok := meta["dimensions"].([]any)
	require.True(t, ok)
	require.Len(t, dims, 2)
	assert.InDelta(t, 50, dims[0], 0)
	assert.InDelta(t, 768, dims[1], 0)

	mem, ok := resp.Result["memory_usage"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, float64(80*1024*1024), mem["peak"], 0)
	assert.InDelta(t, float64(40*1024*1024), mem["current"], 0)
}

func TestLoadModelSwitchesResident(t *testing.T) {
	svc := newTestService(t, workerSettings(
		transcriberConfig("whisper-tiny", 200),
		transcriberConfig("whisper-base", 400),
	))

	responses := runLines(t, svc,
		`{"id":1,"operation":"load_model","data":{"model_path":"whisper-base"}}`,
		audioRequest(t, 2, "extract_features", 8000),
	)
	require.Len(t, responses, 2)

	require.Empty(t, responses[0].Error)
	assert.Equal(t, "ok", responses[0].Result["status"])
	assert.Equal(t, "whisper-base", responses[0].Result["model"])

	require.Empty(t, responses[1].Error)
	meta, ok := responses[1].Result["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "whisper-base", meta["model"])
}

func TestLoadModelDefaultsWhenPathOmitted(t *testing.T) {
	svc := newTestService(t, workerSettings(transcriberConfig("whisper-tiny", 200)))

	responses := runLines(t, svc, `{"id":1,"operation":"load_model"}`)
	require.Len(t, responses, 1)
	require.Empty(t, responses[0].Error)
	assert.Equal(t, "whisper-tiny", responses[0].Result["model"])
}

func TestLoadModelUnknownIDFails(t *testing.T) {
	svc := newTestService(t, workerSettings(transcriberConfig("whisper-tiny", 200)))

	responses := runLines(t, svc,
		`{"id":1,"operation":"load_model","data":{"model_path":"missing-model"}}`,
	)
	require.Len(t, responses, 1)
	assert.Nil(t, responses[0].Result)
	assert.Contains(t, responses[0].Error, "unknown model")
}

func TestEmptyAudioRejected(t *testing.T) {
	svc := newTestService(t, workerSettings(transcriberConfig("whisper-tiny", 200)))

	responses := runLines(t, svc, audioRequest(t, 1, "process_audio", 0))
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Error, "input is empty")
}

func TestUnknownOperationFails(t *testing.T) {
	svc := newTestService(t, workerSettings(transcriberConfig("whisper-tiny", 200)))

	responses := runLines(t, svc, `{"id":1,"operation":"transmogrify"}`)
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Error, "unknown operation")
}

func TestShutdownEndsLoop(t *testing.T) {
	svc := newTestService(t, workerSettings(transcriberConfig("whisper-tiny", 200)))

	// The ping after shutdown must never be served.
	responses := runLines(t, svc,
		`{"id":1,"operation":"shutdown"}`,
		`{"id":2,"operation":"ping"}`,
	)
	require.Len(t, responses, 1)
	assert.Equal(t, "shutdown", responses[0].Result["status"])
}

func TestInvalidLineSkippedWithoutResponse(t *testing.T) {
	svc := newTestService(t, workerSettings(transcriberConfig("whisper-tiny", 200)))

	responses := runLines(t, svc,
		`{this is not json`,
		`{"id":"after","operation":"ping"}`,
	)
	require.Len(t, responses, 1)
	assert.Equal(t, "after", responses[0].ID)
	assert.Equal(t, "ok", responses[0].Result["status"])
}

func TestBlankLinesIgnored(t *testing.T) {
	svc := newTestService(t, workerSettings(transcriberConfig("whisper-tiny", 200)))

	responses := runLines(t, svc, "", `{"id":9,"operation":"ping"}`, "")
	require.Len(t, responses, 1)
	assert.InDelta(t, 9, responses[0].ID, 0)
}
