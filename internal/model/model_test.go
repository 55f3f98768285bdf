package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityCovers(t *testing.T) {
	t.Parallel()

	full := Capability{Transcription: true, Synthesis: true, Streaming: true}
	sttOnly := Capability{Transcription: true}

	tests := []struct {
		name string
		have Capability
		want Capability
		ok   bool
	}{
		{"anything covers an empty demand", Capability{}, Capability{}, true},
		{"full set covers a single demand", full, sttOnly, true},
		{"full set covers a combined demand", full, Capability{Transcription: true, Synthesis: true}, true},
		{"stt model cannot synthesize", sttOnly, Capability{Synthesis: true}, false},
		{"stt model cannot stream", sttOnly, Capability{Transcription: true, Streaming: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.ok, tt.have.Covers(tt.want))
		})
	}
}

func TestCapabilityMergeAndCount(t *testing.T) {
	t.Parallel()

	stt := Capability{Transcription: true}
	tts := Capability{Synthesis: true}

	merged := stt.Merge(tts)
	assert.True(t, merged.Transcription)
	assert.True(t, merged.Synthesis)
	assert.False(t, merged.Streaming)
	assert.Equal(t, 2, merged.Count())

	assert.Equal(t, 0, Capability{}.Count())
	assert.Equal(t, stt, stt.Merge(Capability{}), "merging with the empty set changes nothing")
}

func TestTypeValid(t *testing.T) {
	t.Parallel()

	ok := Type{ID: "whisper-small", Name: "Whisper Small", MemoryRequirement: 512 << 20}
	require.NoError(t, ok.Valid())

	assert.Error(t, Type{MemoryRequirement: 1}.Valid(), "an id is required")
	assert.Error(t, Type{ID: "whisper-small"}.Valid(), "a zero memory requirement is not loadable")
	assert.Error(t, Type{ID: "whisper-small", MemoryRequirement: -1}.Valid())
}

func TestTaskTypeCapabilityDemands(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Capability{Transcription: true}, TaskTranscription.RequiredCapabilities())
	assert.Equal(t, Capability{Synthesis: true}, TaskSynthesis.RequiredCapabilities())
	assert.Equal(t, Capability{Transcription: true, Synthesis: true}, TaskAnalysis.RequiredCapabilities(),
		"analysis chains recognition and generation")

	assert.True(t, TaskTranscription.Valid())
	assert.True(t, TaskAnalysis.Valid())
	assert.False(t, TaskType("translation").Valid())
	assert.Equal(t, Capability{}, TaskType("translation").RequiredCapabilities())
}

func TestTaskInputDuration(t *testing.T) {
	t.Parallel()

	in := TaskInput{Samples: make([]float32, 16000), SampleRate: 16000}
	assert.Equal(t, time.Second, in.Duration())

	in.Samples = make([]float32, 8000)
	assert.Equal(t, 500*time.Millisecond, in.Duration())

	assert.Zero(t, TaskInput{Ref: "clip.wav"}.Duration(), "reference-only input has no inline length")
	assert.Zero(t, TaskInput{Samples: make([]float32, 100)}.Duration(), "missing sample rate yields zero")
}

func TestPlanModelsDeduplicates(t *testing.T) {
	t.Parallel()

	stt := Type{ID: "whisper-small", MemoryRequirement: 512 << 20}
	tts := Type{ID: "piper-voice", MemoryRequirement: 256 << 20}

	plan := Plan{
		TaskID: "task-1",
		Steps: []Step{
			{Model: stt, Operation: OpTranscribe},
			{Model: tts, Operation: OpSynthesize},
			{Model: stt, Operation: OpExtractFeatures},
		},
	}

	models := plan.Models()
	require.Len(t, models, 2)
	assert.Equal(t, "whisper-small", models[0].ID, "first appearance order is preserved")
	assert.Equal(t, "piper-voice", models[1].ID)

	assert.Empty(t, Plan{TaskID: "task-2"}.Models())
}

func TestTaskResultSucceeded(t *testing.T) {
	t.Parallel()

	assert.True(t, TaskResult{State: TaskCompleted}.Succeeded())
	assert.False(t, TaskResult{State: TaskFailed}.Succeeded())
	assert.False(t, TaskResult{State: TaskRetryScheduled}.Succeeded())
}
