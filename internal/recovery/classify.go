// Package recovery owns failure handling for the processing pipeline:
// classifying raw errors into the closed kind taxonomy, recording them,
// suggesting remediation, and shaping retry backoff.
package recovery

import (
	"strings"

	"github.com/audiohub/audiohub-go/internal/errors"
)

// classificationRule maps message keywords to a kind. Rules are evaluated
// in order and the first matching rule wins, so "network timeout" is a
// connection error, not a timeout.
type classificationRule struct {
	keywords []string
	kind     errors.Kind
}

var classificationRules = []classificationRule{
	{[]string{"network", "connection"}, errors.KindConnection},
	{[]string{"timeout"}, errors.KindTimeout},
	{[]string{"model", "prediction"}, errors.KindModel},
	{[]string{"invalid", "input"}, errors.KindInvalidInput},
	{[]string{"memory", "resource"}, errors.KindResourceExceeded},
}

// Classify returns the taxonomy kind for an error. Errors already carrying
// a kind keep it; everything else is matched against the lowercased
// message, falling back to unknown.
func Classify(err error) errors.Kind {
	if kind, ok := errors.KindOf(err); ok {
		return kind
	}
	return classifyMessage(err.Error())
}

func classifyMessage(message string) errors.Kind {
	lower := strings.ToLower(message)
	for _, rule := range classificationRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return rule.kind
			}
		}
	}
	return errors.KindUnknown
}

// categoryForKind picks the telemetry category matching a kind.
func categoryForKind(kind errors.Kind) errors.ErrorCategory {
	switch kind {
	case errors.KindConnection:
		return errors.CategoryNetwork
	case errors.KindTimeout:
		return errors.CategoryTimeout
	case errors.KindModel:
		return errors.CategoryModelLoad
	case errors.KindInvalidInput:
		return errors.CategoryValidation
	case errors.KindResourceExceeded:
		return errors.CategoryResource
	default:
		return errors.CategoryProcessing
	}
}

// SuggestRecoveryAction returns the remediation matching a kind. Every
// member of the closed set has one.
func SuggestRecoveryAction(kind errors.Kind) string {
	switch kind {
	case errors.KindConnection:
		return "check network connectivity to the inference backend and retry"
	case errors.KindTimeout:
		return "retry with backoff or raise the operation timeout"
	case errors.KindModel:
		return "verify the model files and catalog configuration"
	case errors.KindInvalidInput:
		return "validate the task input before resubmitting"
	case errors.KindResourceExceeded:
		return "free memory by unloading models or raise the configured limits"
	default:
		return "inspect the service logs for details"
	}
}
