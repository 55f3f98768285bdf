// publisher.go: result sink that forwards finished tasks to the broker.
package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/model"
)

// TaskEventDTO is the payload published for each finished task. Field names
// are part of the published contract; subscribers filter on them.
type TaskEventDTO struct {
	Node       string `json:"node"`
	TaskID     string `json:"task_id"`
	Type       string `json:"type"`
	State      string `json:"state"`
	Transcript string `json:"transcript,omitempty"`
	AudioRef   string `json:"audio_ref,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	StepCount  int    `json:"step_count"`
	Attempts   int    `json:"attempts"`
	DurationMS int64  `json:"duration_ms"`
	FinishedAt string `json:"finished_at"`
}

// Publisher publishes terminal task results to the configured topic. It
// implements the orchestrator's result sink; a publish failure is returned
// to the orchestrator, which logs it without altering the task outcome.
type Publisher struct {
	client Client
	topic  string
	node   string
	logger *slog.Logger
}

// NewPublisher wires a result publisher over an existing client.
func NewPublisher(settings *conf.Settings, client Client) (*Publisher, error) {
	if settings.MQTT.Topic == "" {
		return nil, errors.Newf("MQTT topic is not configured").
			Component("mqtt").
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Build()
	}
	return &Publisher{
		client: client,
		topic:  settings.MQTT.Topic,
		node:   settings.Main.Name,
		logger: logging.ForService("mqtt"),
	}, nil
}

// SaveTaskResult publishes one task event. When the broker connection is
// down the event is dropped with a retryable error; the client's background
// reconnect restores delivery for later tasks.
func (p *Publisher) SaveTaskResult(ctx context.Context, result *model.TaskResult) error {
	if !p.client.IsConnected() {
		return connectionError("not connected to MQTT broker, skipping publish", p.topic)
	}

	payload, err := json.Marshal(taskEventFrom(result, p.node))
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryValidation).
			Context("task_id", result.TaskID).
			Build()
	}

	if err := p.client.Publish(ctx, p.topic, string(payload)); err != nil {
		return err
	}
	p.logger.Debug("task event published", "task_id", result.TaskID, "topic", p.topic)
	return nil
}

// taskEventFrom flattens a task result into the published form, the same
// shape the datastore keeps.
func taskEventFrom(result *model.TaskResult, node string) TaskEventDTO {
	event := TaskEventDTO{
		Node:      node,
		TaskID:    result.TaskID,
		Type:      string(result.Type),
		State:     string(result.State),
		ErrorKind: result.ErrorKind,
		Error:     result.Error,
		StepCount: len(result.Steps),
	}
	if !result.StartedAt.IsZero() && !result.FinishedAt.IsZero() {
		event.DurationMS = result.FinishedAt.Sub(result.StartedAt).Milliseconds()
	}
	if !result.FinishedAt.IsZero() {
		event.FinishedAt = result.FinishedAt.UTC().Format(time.RFC3339)
	}
	for i := range result.Steps {
		step := &result.Steps[i]
		event.Attempts += step.Attempts
		if step.Text != "" {
			event.Transcript = step.Text
		}
		if step.AudioRef != "" {
			event.AudioRef = step.AudioRef
		}
	}
	return event
}
