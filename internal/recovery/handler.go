package recovery

import (
	"log/slog"
	"time"

	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/logging"
)

// Handler records pipeline failures. Every error it returns carries a
// kind from the closed taxonomy, and recording publishes the error
// toward the health and telemetry consumers via the event bus.
type Handler struct {
	retry  RetryConfig
	logger *slog.Logger
}

// NewHandler creates a failure handler with the given backoff shape.
func NewHandler(retry RetryConfig) *Handler {
	return &Handler{
		retry:  retry,
		logger: logging.ForService("recovery"),
	}
}

// Retry exposes the configured backoff shape.
func (h *Handler) Retry() RetryConfig {
	return h.retry
}

// RecordError classifies err and wraps it into the enhanced form, which
// publishes it on the event bus when reporting is active. Errors that
// already carry a kind pass through unchanged, upstream classification
// is never overridden.
func (h *Handler) RecordError(err error, component string) *errors.EnhancedError {
	if err == nil {
		return nil
	}

	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) && enhanced.HasKind() {
		h.logRecord(enhanced)
		return enhanced
	}

	kind := Classify(err)
	enhanced = errors.New(err).
		Component(component).
		Category(categoryForKind(kind)).
		Kind(kind).
		Build()
	h.logRecord(enhanced)
	return enhanced
}

// ShouldRetry reports whether a failed attempt may be retried under the
// handler's backoff shape.
func (h *Handler) ShouldRetry(err error, attempt int) bool {
	return h.retry.ShouldRetry(err, attempt)
}

// Backoff returns the delay before the given retry attempt.
func (h *Handler) Backoff(attempt int) time.Duration {
	return h.retry.Backoff(attempt)
}

func (h *Handler) logRecord(enhanced *errors.EnhancedError) {
	kind := enhanced.GetKind()
	h.logger.Error("error recorded",
		"kind", string(kind),
		"component", enhanced.GetComponent(),
		"recoverable", kind.Recoverable(),
		"retryable", kind.Retryable(),
		"action", SuggestRecoveryAction(kind),
		"error", enhanced.GetMessage())
}
