// Package telemetry provides opt-in, privacy-scrubbed error reporting
// through Sentry. Nothing is sent unless the operator enables the sentry
// section and supplies a DSN; messages are scrubbed of URLs, paths, and
// credentials before they leave the process.
package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/audiohub/audiohub-go/internal/buildinfo"
	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/privacy"
)

var enabled atomic.Bool

// scrubber adapts the privacy package to the errors package scrubbing hook.
type scrubber struct{}

func (scrubber) ScrubMessage(message string) string {
	return privacy.ScrubMessage(message)
}

// Init configures Sentry from settings and attaches the error reporting
// hooks. Reporting requires both the enabled flag and a DSN. The privacy
// scrubber is installed either way so locally logged errors are scrubbed
// with the same rules.
func Init(settings *conf.Settings, build *buildinfo.Context) error {
	logger := logging.ForService("telemetry")

	errors.SetPrivacyScrubber(scrubber{})

	if settings == nil || !settings.Sentry.Enabled || settings.Sentry.DSN == "" {
		logger.Info("telemetry disabled, error reporting stays local")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:        settings.Sentry.DSN,
		SampleRate: 1.0,
		Debug:      settings.Sentry.Debug,

		// Stack traces and hostnames stay local.
		AttachStacktrace: false,
		ServerName:       "",
		Environment:      "production",

		Release:    fmt.Sprintf("audiohub-go@%s", build.GetVersion()),
		BeforeSend: beforeSend,
	})
	if err != nil {
		return fmt.Errorf("initializing sentry: %w", err)
	}

	configureScope(build)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	enabled.Store(true)

	logger.Info("telemetry initialized",
		"system_id", build.GetSystemID(),
		"release", build.GetVersion(),
		"debug", settings.Sentry.Debug)

	return nil
}

// Enabled reports whether a Sentry client is active.
func Enabled() bool {
	return enabled.Load()
}

// beforeSend is the last gate before an event leaves the process. It strips
// user and host identity and scrubs every message field.
func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	return event
}

func configureScope(build *buildinfo.Context) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("system_id", build.GetSystemID())
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)

		scope.SetContext("application", map[string]any{
			"name":       "audiohub-go",
			"version":    build.GetVersion(),
			"build_date": build.GetBuildDate(),
			"system_id":  build.GetSystemID(),
		})
		scope.SetContext("platform", map[string]any{
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"num_cpu":    runtime.NumCPU(),
			"go_version": runtime.Version(),
		})
	})
}

// CaptureError reports an error outside the enhanced error flow, such as a
// fatal startup failure. No-op while telemetry is disabled.
func CaptureError(err error, component string) {
	if err == nil || !enabled.Load() {
		return
	}

	scrubbed := privacy.ScrubMessage(err.Error())

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetFingerprint([]string{component, scrubbed})

		event := sentry.NewEvent()
		event.Level = sentry.LevelError
		event.Message = scrubbed
		event.Exception = []sentry.Exception{{
			Type:  fmt.Sprintf("%T", err),
			Value: scrubbed,
		}}
		sentry.CaptureEvent(event)
	})
}

// Flush drains buffered events before shutdown. Safe to call when telemetry
// is disabled.
func Flush(timeout time.Duration) {
	if !enabled.Load() {
		return
	}
	sentry.Flush(timeout)
}
