// telemetry_integration.go optional Sentry reporting for built errors
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives errors as they are built. The telemetry
// package installs one when Sentry is enabled; without one, Build skips
// reporting entirely.
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter forwards enhanced errors to Sentry, scrubbed of URLs and
// anything the installed privacy scrubber removes.
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter returns a reporter; a disabled one drops everything.
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled reports whether errors reach Sentry.
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError sends one enhanced error to Sentry. Each error is reported at
// most once; repeated calls are no-ops.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	title := errorTitle(ee)
	kind := ee.GetKind()

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_title", title)
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_kind", string(kind))
		scope.SetTag("recoverable", fmt.Sprintf("%t", kind.Recoverable()))
		scope.SetTag("retryable", fmt.Sprintf("%t", kind.Retryable()))

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessageForPrivacy(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := sentryLevel(ee.Category)
		scope.SetLevel(level)
		// Group by title, component, and category rather than stack trace;
		// most errors here are built at the same few call sites.
		scope.SetFingerprint([]string{title, ee.GetComponent(), string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// errorTitle builds a stable, human-readable issue title like
// "Orchestrator: Model Load".
func errorTitle(ee *EnhancedError) string {
	var parts []string
	if c := ee.GetComponent(); c != ComponentUnknown && c != "" {
		parts = append(parts, titleCase(c))
	}

	words := strings.Split(string(ee.Category), "-")
	for i, w := range words {
		words[i] = titleCase(w)
	}
	parts = append(parts, strings.Join(words, " "))

	return strings.Join(parts, ": ")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// sentryLevel maps error categories onto Sentry severities.
func sentryLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryValidation, CategoryNotFound, CategoryConflict:
		return sentry.LevelWarning
	case CategoryCancellation:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	globalTelemetryReporter TelemetryReporter
	reporterMutex           sync.RWMutex
)

// SetTelemetryReporter installs the reporter used for every built error.
// Passing nil detaches reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMutex.Lock()
	globalTelemetryReporter = reporter
	reporterMutex.Unlock()
	if reporter != nil && reporter.IsEnabled() {
		hasActiveReporting.Store(true)
	} else {
		updateReportingState()
	}
}

// GetTelemetryReporter returns the installed reporter, nil when none.
func GetTelemetryReporter() TelemetryReporter {
	reporterMutex.RLock()
	defer reporterMutex.RUnlock()
	return globalTelemetryReporter
}

// PrivacyScrubber removes personal data from messages before they leave
// the process.
type PrivacyScrubber interface {
	ScrubMessage(message string) string
}

var (
	globalPrivacyScrubber PrivacyScrubber
	scrubberMutex         sync.RWMutex
)

// SetPrivacyScrubber installs the scrubber applied to outgoing messages.
func SetPrivacyScrubber(scrubber PrivacyScrubber) {
	scrubberMutex.Lock()
	defer scrubberMutex.Unlock()
	globalPrivacyScrubber = scrubber
}

func scrubMessageForPrivacy(message string) string {
	scrubberMutex.RLock()
	scrubber := globalPrivacyScrubber
	scrubberMutex.RUnlock()
	if scrubber != nil {
		return scrubber.ScrubMessage(message)
	}
	return basicURLScrub(message)
}

var urlPattern = regexp.MustCompile(`[a-z][a-z0-9+.-]*://\S+`)

// basicURLScrub keeps the scheme of any URL and redacts the rest, so
// hosts, paths, and embedded credentials never reach telemetry.
func basicURLScrub(message string) string {
	return urlPattern.ReplaceAllStringFunc(message, func(raw string) string {
		if idx := strings.Index(raw, "://"); idx > 0 {
			return raw[:idx] + "://[redacted]"
		}
		return "[redacted]"
	})
}
