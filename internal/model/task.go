package model

import (
	"time"
)

// TaskType identifies what a submitted task asks for.
type TaskType string

const (
	TaskTranscription TaskType = "transcription"
	TaskSynthesis     TaskType = "synthesis"
	TaskAnalysis      TaskType = "analysis"
)

// Valid reports whether t is one of the known task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTranscription, TaskSynthesis, TaskAnalysis:
		return true
	}
	return false
}

// RequiredCapabilities returns the capability set a task of this type
// demands from the model catalog. Analysis chains recognition and
// generation, so it demands both.
func (t TaskType) RequiredCapabilities() Capability {
	switch t {
	case TaskTranscription:
		return Capability{Transcription: true}
	case TaskSynthesis:
		return Capability{Synthesis: true}
	case TaskAnalysis:
		return Capability{Transcription: true, Synthesis: true}
	}
	return Capability{}
}

// TaskInput carries the payload a task operates on. Ref is an opaque
// reference (file path, URI, or an id known to the inference backend);
// Samples optionally holds decoded mono PCM for local execution; Text
// carries the prompt for synthesis steps, including transcript text fed
// forward within an analysis chain.
type TaskInput struct {
	Ref        string    `json:"ref,omitempty"`
	Text       string    `json:"text,omitempty"`
	Samples    []float32 `json:"-"`
	SampleRate int       `json:"sample_rate,omitempty"`
}

// Duration returns the audio length represented by the inline samples,
// zero when the input is reference-only.
func (in TaskInput) Duration() time.Duration {
	if in.SampleRate <= 0 || len(in.Samples) == 0 {
		return 0
	}
	return time.Duration(float64(len(in.Samples)) / float64(in.SampleRate) * float64(time.Second))
}

// TaskRequirements are optional quality/latency demands attached to a task.
type TaskRequirements struct {
	Quality    string        `json:"quality,omitempty"`
	MaxLatency time.Duration `json:"max_latency,omitempty"`
}

// Task is one unit of submitted work.
type Task struct {
	ID           string            `json:"id"`
	Type         TaskType          `json:"type"`
	Input        TaskInput         `json:"input"`
	Requirements *TaskRequirements `json:"requirements,omitempty"`
}

// Operation names one executor action within a plan step.
type Operation string

const (
	OpTranscribe      Operation = "transcribe"
	OpSynthesize      Operation = "synthesize"
	OpExtractFeatures Operation = "extract_features"
)

// OutputKind describes what a step is expected to produce.
type OutputKind string

const (
	OutputText     OutputKind = "text"
	OutputAudio    OutputKind = "audio"
	OutputFeatures OutputKind = "features"
)

// Step is one planned unit of execution: run Operation on Input using Model.
type Step struct {
	Model          Type       `json:"model"`
	Operation      Operation  `json:"operation"`
	Input          TaskInput  `json:"input"`
	ExpectedOutput OutputKind `json:"expected_output"`
}

// Plan is the ordered step list produced for a task. Steps run strictly in
// order; consecutive steps may name different models.
type Plan struct {
	TaskID string `json:"task_id"`
	Steps  []Step `json:"steps"`
}

// Models returns the distinct model types referenced by the plan, in first
// appearance order.
func (p Plan) Models() []Type {
	seen := make(map[string]bool, len(p.Steps))
	var out []Type
	for _, s := range p.Steps {
		if !seen[s.Model.ID] {
			seen[s.Model.ID] = true
			out = append(out, s.Model)
		}
	}
	return out
}

// Segment is one timed span of recognized speech.
type Segment struct {
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
}

// StepResult is the outcome of one executed step.
type StepResult struct {
	Operation       Operation     `json:"operation"`
	Output          OutputKind    `json:"output"`
	Text            string        `json:"text,omitempty"`
	Segments        []Segment     `json:"segments,omitempty"`
	FeatureFrames   int           `json:"feature_frames,omitempty"`
	FeatureDim      int           `json:"feature_dim,omitempty"`
	AudioRef        string        `json:"audio_ref,omitempty"`
	PeakMemoryBytes int64         `json:"peak_memory_bytes,omitempty"`
	Duration        time.Duration `json:"duration"`
	Attempts        int           `json:"attempts"`
}

// TaskState tracks a task through its lifecycle. RetryScheduled is an
// explicit state so a waiting retry is visible, not buried in a sleep.
type TaskState string

const (
	TaskPending        TaskState = "pending"
	TaskRunning        TaskState = "running"
	TaskRetryScheduled TaskState = "retry_scheduled"
	TaskCompleted      TaskState = "completed"
	TaskFailed         TaskState = "failed"
)

// RetrySchedule describes a pending retry: which attempt comes next and the
// earliest time it may run.
type RetrySchedule struct {
	NextAttempt int       `json:"next_attempt"`
	NotBefore   time.Time `json:"not_before"`
}

// TaskResult is the terminal record of a processed task.
type TaskResult struct {
	TaskID     string       `json:"task_id"`
	Type       TaskType     `json:"type"`
	State      TaskState    `json:"state"`
	Steps      []StepResult `json:"steps,omitempty"`
	ErrorKind  string       `json:"error_kind,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Succeeded reports whether the task reached a completed state.
func (r TaskResult) Succeeded() bool {
	return r.State == TaskCompleted
}
