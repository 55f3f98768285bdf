// Package errors provides tagged error handling with optional telemetry
// integration. Failures carry a component, a category for grouping, and a
// closed taxonomy kind whose recoverable/retryable semantics are fixed at
// compile time.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"
)

// ErrorCategory groups errors for telemetry and log filtering.
type ErrorCategory string

const (
	CategoryModelInit     ErrorCategory = "model-initialization"
	CategoryModelLoad     ErrorCategory = "model-loading"
	CategoryModelUnload   ErrorCategory = "model-unloading"
	CategoryPlanning      ErrorCategory = "task-planning"
	CategoryValidation    ErrorCategory = "validation"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryNetwork       ErrorCategory = "network"
	CategoryAudio         ErrorCategory = "audio-processing"
	CategoryDatabase      ErrorCategory = "database"
	CategoryHTTP          ErrorCategory = "http-request"
	CategoryConfiguration ErrorCategory = "configuration"
	CategorySystem        ErrorCategory = "system-resource"
	CategoryGeneric       ErrorCategory = "generic"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryProcessing    ErrorCategory = "processing"
	CategoryState         ErrorCategory = "state"
	CategoryLimit         ErrorCategory = "limit"
	CategoryResource      ErrorCategory = "resource"
	CategoryPool          ErrorCategory = "resource-pool"
	CategoryExecutor      ErrorCategory = "step-execution"
	CategoryWorker        ErrorCategory = "worker-protocol"

	CategoryMQTTConnection ErrorCategory = "mqtt-connection"
	CategoryMQTTPublish    ErrorCategory = "mqtt-publish"
	CategoryExport         ErrorCategory = "result-export"
	CategoryNotification   ErrorCategory = "notification"

	CategoryTimeout      ErrorCategory = "timeout"
	CategoryCancellation ErrorCategory = "cancellation"
	CategoryRetry        ErrorCategory = "retry"
)

// Kind is the closed processing-error taxonomy. Every failure surfaced to
// callers carries exactly one Kind; the recoverable/retryable flags are
// fixed per kind and cannot drift at runtime.
type Kind string

const (
	KindConnection       Kind = "CONNECTION_ERROR"
	KindTimeout          Kind = "TIMEOUT_ERROR"
	KindModel            Kind = "MODEL_ERROR"
	KindInvalidInput     Kind = "INVALID_INPUT"
	KindResourceExceeded Kind = "RESOURCE_EXCEEDED"
	KindUnknown          Kind = "UNKNOWN_ERROR"
)

// Recoverable reports whether the system can continue operating after an
// error of this kind without intervention.
func (k Kind) Recoverable() bool {
	switch k {
	case KindConnection, KindTimeout, KindResourceExceeded:
		return true
	case KindModel, KindInvalidInput, KindUnknown:
		return false
	}
	return false
}

// Retryable reports whether retrying the same operation can succeed.
// Resource exhaustion is recoverable but not retryable: retrying without
// freeing anything just fails again.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnection, KindTimeout:
		return true
	case KindModel, KindInvalidInput, KindResourceExceeded, KindUnknown:
		return false
	}
	return false
}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindConnection, KindTimeout, KindModel, KindInvalidInput, KindResourceExceeded, KindUnknown:
		return true
	}
	return false
}

// ComponentUnknown tags errors whose origin could not be inferred.
const ComponentUnknown = "unknown"

// EnhancedError is an error carrying component, category, kind, and context
// metadata. It satisfies the event-bus ErrorEvent contract through its Get*
// accessors.
type EnhancedError struct {
	Err       error
	component string
	Category  ErrorCategory
	kind      Kind
	Context   map[string]any
	Timestamp time.Time
	reported  bool
	mu        sync.RWMutex
	detected  bool
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is enables comparison against wrapped sentinel errors.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return stderrors.Is(ee.Err, other.Err)
	}
	return stderrors.Is(ee.Err, target)
}

// GetComponent returns the component, detecting it on first access if it was
// never set.
func (ee *EnhancedError) GetComponent() string {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	if !ee.detected {
		ee.component = detectComponent()
		ee.detected = true
	}
	if ee.component == "" {
		return ComponentUnknown
	}
	return ee.component
}

// GetCategory returns the error category as a string.
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetKind returns the taxonomy kind, KindUnknown when never assigned.
func (ee *EnhancedError) GetKind() Kind {
	if ee.kind == "" {
		return KindUnknown
	}
	return ee.kind
}

// HasKind reports whether a kind was explicitly assigned.
func (ee *EnhancedError) HasKind() bool {
	return ee.kind != ""
}

// GetContext returns a copy of the context map.
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	if ee.Context == nil {
		return nil
	}
	out := make(map[string]any, len(ee.Context))
	for k, v := range ee.Context {
		out[k] = v
	}
	return out
}

// GetTimestamp returns when the error was built.
func (ee *EnhancedError) GetTimestamp() time.Time {
	return ee.Timestamp
}

// GetError returns the underlying error.
func (ee *EnhancedError) GetError() error {
	return ee.Err
}

// GetMessage returns the underlying error message.
func (ee *EnhancedError) GetMessage() string {
	return ee.Err.Error()
}

// MarkReported flags the error as already sent to telemetry.
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported returns whether telemetry has already seen this error.
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder assembles an EnhancedError. Obtain one from New or Newf and
// finish with Build.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	kind      Kind
	context   map[string]any
}

// New starts a builder around an existing error.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts a builder around a formatted error. Format verbs follow
// fmt.Errorf, including %w wrapping.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name. Unset components are detected from the
// call stack on first access.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Kind assigns the taxonomy kind. Invalid values are ignored so a bad call
// site cannot widen the closed set.
func (eb *ErrorBuilder) Kind(kind Kind) *ErrorBuilder {
	if kind.Valid() {
		eb.kind = kind
	}
	return eb
}

// Context adds one key/value pair of context data.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// ModelContext records which model an error concerns.
func (eb *ErrorBuilder) ModelContext(modelID string, memoryRequirement int64) *ErrorBuilder {
	if modelID != "" {
		eb.Context("model_id", modelID)
	}
	if memoryRequirement > 0 {
		eb.Context("model_memory_bytes", memoryRequirement)
	}
	return eb
}

// Build finalizes the error. When telemetry or the event bus is active the
// component and category are resolved eagerly and the error is reported;
// otherwise detection is deferred to first access.
func (eb *ErrorBuilder) Build() *EnhancedError {
	reporting := hasActiveReporting.Load()

	if reporting {
		if eb.component == "" {
			eb.component = detectComponent()
		}
		if eb.category == "" {
			eb.category = detectCategory(eb.err, eb.component)
		}
	}

	ee := &EnhancedError{
		Err:       eb.err,
		component: eb.component,
		Category:  eb.category,
		kind:      eb.kind,
		Context:   eb.context,
		Timestamp: time.Now(),
		detected:  reporting || eb.component != "",
	}
	if !reporting {
		if ee.component == "" {
			ee.component = ComponentUnknown
			ee.detected = true
		}
		if ee.Category == "" {
			ee.Category = CategoryGeneric
		}
		return ee
	}

	reportToTelemetry(ee)
	return ee
}

// componentRegistry maps internal package names to the component names used
// in logs and telemetry. Packages not listed here report as their own name
// would suggest, or as unknown.
var componentRegistry = map[string]string{
	"orchestrator": "orchestrator",
	"pool":         "pool",
	"recovery":     "recovery",
	"health":       "health",
	"executor":     "executor",
	"audio":        "audio",
	"datastore":    "datastore",
	"api":          "api",
	"worker":       "worker",
	"mqtt":         "mqtt",
	"conf":         "configuration",
	"telemetry":    "telemetry",
	"notification": "notification",
	"export":       "export",
	"events":       "events",
}

// detectComponent walks the call stack and maps the first recognizable
// package path to a registered component name.
func detectComponent() string {
	for depth := 2; depth < 12; depth++ {
		pc, _, _, ok := runtime.Caller(depth)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		name := fn.Name()
		for pattern, component := range componentRegistry {
			if strings.Contains(name, "/internal/"+pattern+".") ||
				strings.Contains(name, "/internal/"+pattern+"/") {
				return component
			}
		}
	}
	return ComponentUnknown
}

// detectCategory derives a category from the error text when the call site
// did not set one.
func detectCategory(err error, component string) ErrorCategory {
	var enhErr *EnhancedError
	if stderrors.As(err, &enhErr) && enhErr.Category != "" {
		return enhErr.Category
	}

	errorMsg := strings.ToLower(err.Error())

	if strings.Contains(errorMsg, "model") {
		if strings.Contains(errorMsg, "load") || strings.Contains(errorMsg, "read") {
			return CategoryModelLoad
		}
		if strings.Contains(errorMsg, "init") || strings.Contains(errorMsg, "create") {
			return CategoryModelInit
		}
	}

	if strings.Contains(errorMsg, "file") || strings.Contains(errorMsg, "open") {
		return CategoryFileIO
	}

	if strings.Contains(errorMsg, "connection") || strings.Contains(errorMsg, "network") {
		return CategoryNetwork
	}

	if strings.Contains(errorMsg, "timeout") || strings.Contains(errorMsg, "deadline") {
		return CategoryTimeout
	}

	if strings.Contains(errorMsg, "validation") || strings.Contains(errorMsg, "mismatch") || strings.Contains(errorMsg, "invalid") {
		return CategoryValidation
	}

	switch component {
	case "orchestrator":
		return CategoryModelLoad
	case "audio":
		return CategoryAudio
	case "datastore":
		return CategoryDatabase
	case "pool":
		return CategoryPool
	case "executor":
		return CategoryExecutor
	}

	return CategoryGeneric
}

// Standard library passthroughs so callers only import this package.

// NewStd creates a plain error without enhancement.
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling Unwrap on err.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join wraps the given errors into a single error.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory checks whether err carries the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var enhErr *EnhancedError
	if stderrors.As(err, &enhErr) {
		return enhErr.Category == category
	}
	return false
}

// IsKind checks whether err carries the given taxonomy kind.
func IsKind(err error, kind Kind) bool {
	var enhErr *EnhancedError
	if stderrors.As(err, &enhErr) {
		return enhErr.GetKind() == kind
	}
	return false
}

// KindOf extracts the kind from err, KindUnknown for untagged errors,
// with ok reporting whether a kind was explicitly present.
func KindOf(err error) (kind Kind, ok bool) {
	var enhErr *EnhancedError
	if stderrors.As(err, &enhErr) && enhErr.HasKind() {
		return enhErr.GetKind(), true
	}
	return KindUnknown, false
}
