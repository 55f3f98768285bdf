// internal/api/tasks.go
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/audiohub/audiohub-go/internal/audio"
	"github.com/audiohub/audiohub-go/internal/datastore"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/model"
)

// TaskRequest is the task submission body. Audio arrives as a reference
// to a server-local WAV or FLAC file; inline PCM stays out of the HTTP
// surface.
type TaskRequest struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"type"`
	Input struct {
		Ref        string `json:"ref,omitempty"`
		Text       string `json:"text,omitempty"`
		SampleRate int    `json:"sample_rate,omitempty"`
	} `json:"input"`
}

// SubmitTask runs a task synchronously and returns the full result with
// per-step outputs. Failures map the error kind onto an HTTP status and
// carry the partial result so callers see which step broke.
func (c *Controller) SubmitTask(ctx echo.Context) error {
	var req TaskRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	if !model.TaskType(req.Type).Valid() {
		return c.HandleError(ctx, nil, "type must be one of transcription, synthesis, analysis", http.StatusBadRequest)
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	task := model.Task{
		ID:   req.ID,
		Type: model.TaskType(req.Type),
		Input: model.TaskInput{
			Ref:        req.Input.Ref,
			Text:       req.Input.Text,
			SampleRate: req.Input.SampleRate,
		},
	}
	if err := c.resolveAudioRef(&task); err != nil {
		return c.HandleError(ctx, err, "could not read referenced audio", http.StatusBadRequest)
	}

	result, err := c.Orchestrator.ProcessTask(ctx.Request().Context(), task)
	if err != nil {
		code := httpStatusFor(err)
		resp := NewErrorResponse(err, "task processing failed", code)
		c.logger.Error("Task failed",
			"correlation_id", resp.CorrelationID,
			"task_id", task.ID,
			"error_kind", result.ErrorKind,
			"error", err.Error(),
		)
		return ctx.JSON(code, map[string]any{
			"error":  resp,
			"result": result,
		})
	}

	return ctx.JSON(http.StatusOK, result)
}

// resolveAudioRef decodes the referenced audio file into the task input
// for the types whose first step consumes audio. Refs name files on the
// server; the endpoint is meant for operators, behind the bearer token.
func (c *Controller) resolveAudioRef(task *model.Task) error {
	if task.Input.Ref == "" || len(task.Input.Samples) > 0 {
		return nil
	}
	if task.Type != model.TaskTranscription && task.Type != model.TaskAnalysis {
		return nil
	}

	samples, err := audio.ReadFileMono(task.Input.Ref, c.Settings)
	if err != nil {
		return err
	}
	task.Input.Samples = samples
	task.Input.SampleRate = c.Settings.Audio.SampleRate
	return nil
}

// TaskRecordResponse is a stored task history entry as served over the API.
type TaskRecordResponse struct {
	TaskID     string               `json:"task_id"`
	Type       string               `json:"type"`
	State      string               `json:"state"`
	StepCount  int                  `json:"step_count"`
	Attempts   int                  `json:"attempts"`
	Transcript string               `json:"transcript,omitempty"`
	AudioRef   string               `json:"audio_ref,omitempty"`
	ErrorKind  string               `json:"error_kind,omitempty"`
	Error      string               `json:"error,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	DurationMS int64                `json:"duration_ms"`
	Steps      []StepRecordResponse `json:"steps,omitempty"`
}

// StepRecordResponse is one executed step inside a TaskRecordResponse.
type StepRecordResponse struct {
	StepIndex       int    `json:"step_index"`
	Operation       string `json:"operation"`
	Output          string `json:"output"`
	Text            string `json:"text,omitempty"`
	SegmentCount    int    `json:"segment_count,omitempty"`
	FeatureFrames   int    `json:"feature_frames,omitempty"`
	FeatureDim      int    `json:"feature_dim,omitempty"`
	AudioRef        string `json:"audio_ref,omitempty"`
	PeakMemoryBytes int64  `json:"peak_memory_bytes"`
	DurationMS      int64  `json:"duration_ms"`
	Attempts        int    `json:"attempts"`
}

func taskRecordResponse(record *datastore.TaskRecord) TaskRecordResponse {
	resp := TaskRecordResponse{
		TaskID:     record.TaskID,
		Type:       record.Type,
		State:      record.State,
		StepCount:  record.StepCount,
		Attempts:   record.Attempts,
		Transcript: record.Transcript,
		AudioRef:   record.AudioRef,
		ErrorKind:  record.ErrorKind,
		Error:      record.Error,
		StartedAt:  record.StartedAt,
		FinishedAt: record.FinishedAt,
		DurationMS: record.Duration.Milliseconds(),
	}
	for i := range record.Steps {
		step := &record.Steps[i]
		resp.Steps = append(resp.Steps, StepRecordResponse{
			StepIndex:       step.StepIndex,
			Operation:       step.Operation,
			Output:          step.Output,
			Text:            step.Text,
			SegmentCount:    step.SegmentCount,
			FeatureFrames:   step.FeatureFrames,
			FeatureDim:      step.FeatureDim,
			AudioRef:        step.AudioRef,
			PeakMemoryBytes: step.PeakMemoryBytes,
			DurationMS:      step.Duration.Milliseconds(),
			Attempts:        step.Attempts,
		})
	}
	return resp
}

// GetTask looks a task up in the stored history, falling back to the live
// status registry for tasks that have not finished yet.
func (c *Controller) GetTask(ctx echo.Context) error {
	taskID := ctx.Param("id")
	if taskID == "" {
		return c.HandleError(ctx, nil, "task id is required", http.StatusBadRequest)
	}

	if c.DS != nil {
		record, err := c.DS.GetTaskRecord(taskID)
		switch {
		case err == nil:
			return ctx.JSON(http.StatusOK, taskRecordResponse(&record))
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return c.HandleError(ctx, err, "task lookup failed", http.StatusInternalServerError)
		}
	}

	if status, ok := c.Orchestrator.Status(taskID); ok {
		return ctx.JSON(http.StatusOK, map[string]any{"status": status})
	}

	return c.HandleError(ctx, nil, "task not found", http.StatusNotFound)
}

// RecentTasks lists the most recently finished tasks, newest first. Step
// detail stays out of the list view; GetTask serves it.
func (c *Controller) RecentTasks(ctx echo.Context) error {
	if c.DS == nil {
		return c.HandleError(ctx, nil, "task history is not configured", http.StatusNotImplemented)
	}

	limit := 25
	if raw := ctx.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			return c.HandleError(ctx, err, "limit must be a positive integer up to 500", http.StatusBadRequest)
		}
		limit = parsed
	}

	records, err := c.DS.RecentTaskRecords(limit)
	if err != nil {
		return c.HandleError(ctx, err, "task history query failed", http.StatusInternalServerError)
	}

	tasks := make([]TaskRecordResponse, 0, len(records))
	for i := range records {
		tasks = append(tasks, taskRecordResponse(&records[i]))
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}
