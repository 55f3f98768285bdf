// Package health models component health as immutable snapshot values.
// A new snapshot always replaces the previous one; nothing merges state in
// place. Cumulative history lives in the datastore snapshot log, not here.
package health

import (
	"fmt"
	"time"

	"github.com/audiohub/audiohub-go/internal/errors"
)

// Status is the coarse health classification of a component.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusError       Status = "error"
	StatusUnavailable Status = "unavailable"
)

// Gauges holds instantaneous utilization readings.
type Gauges struct {
	CPUUsage    float64 `json:"cpu_usage"`    // fraction 0..1
	MemoryUsage float64 `json:"memory_usage"` // fraction 0..1
	ErrorRate   float64 `json:"error_rate"`   // fraction 0..1
}

// Metrics holds performance counters for the snapshot window.
type Metrics struct {
	ResponseTime    time.Duration `json:"response_time"`
	Throughput      float64       `json:"throughput"` // operations per second
	ErrorRate       float64       `json:"error_rate"`
	TotalOperations int64         `json:"total_operations"`
}

// ErrorSummary describes the errors represented by this snapshot.
type ErrorSummary struct {
	Count       int            `json:"count"`
	LastMessage string         `json:"last_message,omitempty"`
	ByKind      map[string]int `json:"by_kind,omitempty"`
}

// State is one health snapshot. Treat it as a value: copy, never mutate.
type State struct {
	Status     Status       `json:"status"`
	Health     Gauges       `json:"health"`
	ErrorCount int          `json:"error_count"`
	Metrics    Metrics      `json:"metrics"`
	Errors     ErrorSummary `json:"errors"`
	Timestamp  time.Time    `json:"timestamp"`
}

// NewState returns the default healthy snapshot: zero gauges, zero
// counters, empty error summary.
func NewState() State {
	return State{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
}

// NewErrorState returns the snapshot representing exactly one error. It
// replaces whatever came before it; counts always restart at one.
func NewErrorState(err error) State {
	kind, _ := errors.KindOf(err)
	return errorState(kind, err.Error())
}

// NewErrorStateForKind builds the error snapshot when the kind is already
// known, e.g. from an event off the bus.
func NewErrorStateForKind(kind errors.Kind, message string) State {
	return errorState(kind, message)
}

func errorState(kind errors.Kind, message string) State {
	return State{
		Status: StatusError,
		Health: Gauges{
			ErrorRate: 1,
		},
		ErrorCount: 1,
		Metrics: Metrics{
			ErrorRate:       1,
			TotalOperations: 1,
		},
		Errors: ErrorSummary{
			Count:       1,
			LastMessage: message,
			ByKind:      map[string]int{string(kind): 1},
		},
		Timestamp: time.Now(),
	}
}

// Clone returns a deep copy. Needed before handing a snapshot across a
// boundary because ByKind is a map.
func (s State) Clone() State {
	out := s
	if s.Errors.ByKind != nil {
		out.Errors.ByKind = make(map[string]int, len(s.Errors.ByKind))
		for k, v := range s.Errors.ByKind {
			out.Errors.ByKind[k] = v
		}
	}
	return out
}

// IsHealthy reports whether the snapshot is fully healthy: healthy status
// and a zero error rate. A healthy status with a non-zero rate is treated
// as unhealthy rather than trusted.
func IsHealthy(s State) bool {
	return s.Status == StatusHealthy && s.Health.ErrorRate == 0
}

// HasErrors reports whether the snapshot carries any error signal.
func HasErrors(s State) bool {
	return s.ErrorCount > 0 || s.Health.ErrorRate > 0
}

// ShouldRetry reports whether an operation against the component may be
// retried: the component is reachable and has not failed three times.
func ShouldRetry(s State) bool {
	return s.Status != StatusUnavailable && s.ErrorCount < 3
}

// Validate checks the internal consistency of a snapshot.
func (s State) Validate() error {
	if s.Status == StatusHealthy && (s.Health.ErrorRate != 0 || s.ErrorCount != 0) {
		return fmt.Errorf("healthy snapshot carries error signal: rate=%f count=%d",
			s.Health.ErrorRate, s.ErrorCount)
	}
	if s.ErrorCount < 0 {
		return fmt.Errorf("negative error count %d", s.ErrorCount)
	}
	if s.Health.ErrorRate < 0 || s.Health.ErrorRate > 1 {
		return fmt.Errorf("error rate %f outside [0,1]", s.Health.ErrorRate)
	}
	return nil
}
