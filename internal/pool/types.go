// Package pool implements the generic resource allocator behind the
// orchestrator: typed capacity for memory, CPU and scratch storage,
// priority-aware allocation with constraints, and a system monitor that
// reports pressure through the event bus.
package pool

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/health"
)

// ResourceType identifies the capacity a request draws from.
type ResourceType string

const (
	ResourceMemory  ResourceType = "memory"
	ResourceCPU     ResourceType = "cpu"
	ResourceStorage ResourceType = "storage"
)

// Valid reports whether the resource type is a known member.
func (rt ResourceType) Valid() bool {
	switch rt {
	case ResourceMemory, ResourceCPU, ResourceStorage:
		return true
	default:
		return false
	}
}

// Priority orders allocation requests under contention. Within a class
// requests are served in arrival order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical

	numPriorities = int(PriorityCritical) + 1
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether the priority is a known class.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority maps a priority name to its class. Unknown names map to
// PriorityMedium so external callers get a sane default.
func ParsePriority(name string) Priority {
	switch name {
	case "low":
		return PriorityLow
	case "medium", "":
		return PriorityMedium
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

// Requirements quantifies what a request needs. Only the field matching
// the request's resource type is consulted for capacity accounting.
// Timeout bounds how long the request may wait for a grant, zero waits
// until the context is done.
type Requirements struct {
	Memory  int64         // bytes
	Cores   int           // logical cores
	Storage int64         // bytes
	Timeout time.Duration // maximum wait for the grant
}

// Constraints are hard bounds a request refuses to exceed.
type Constraints struct {
	MaxMemory  int64         // bytes
	MaxCores   int           // logical cores
	MaxLatency time.Duration // maximum acceptable allocation latency
}

// Request describes one allocation attempt.
type Request struct {
	ID           string
	Type         ResourceType
	Priority     Priority
	Requirements Requirements
	Constraints  *Constraints
}

// amount returns the capacity units the request draws, by resource type.
func (r Request) amount() int64 {
	switch r.Type {
	case ResourceMemory:
		return r.Requirements.Memory
	case ResourceCPU:
		return int64(r.Requirements.Cores)
	case ResourceStorage:
		return r.Requirements.Storage
	default:
		return 0
	}
}

// violatesConstraints reports whether the requirements already exceed the
// request's own hard bounds.
func (r Request) violatesConstraints() bool {
	if r.Constraints == nil {
		return false
	}
	if r.Constraints.MaxMemory > 0 && r.Requirements.Memory > r.Constraints.MaxMemory {
		return true
	}
	if r.Constraints.MaxCores > 0 && r.Requirements.Cores > r.Constraints.MaxCores {
		return true
	}
	return false
}

// Resource is a granted allocation. It stays charged against the pool
// until released. Status is the health snapshot taken at grant time.
type Resource struct {
	ID        string
	Type      ResourceType
	Granted   Requirements
	Status    health.State
	GrantedAt time.Time

	amount   int64
	released atomic.Bool
}

// Active reports whether the resource is still charged against the pool.
func (r *Resource) Active() bool {
	return !r.released.Load()
}

// HealthLevel grades the pool state reported by Monitor.
type HealthLevel string

const (
	HealthOK       HealthLevel = "healthy"
	HealthWarning  HealthLevel = "warning"
	HealthCritical HealthLevel = "critical"
)

// Status is a point-in-time pool snapshot computed by Monitor.
type Status struct {
	Level       HealthLevel
	Utilization map[ResourceType]float64
	FailureRate float64
	Issued      int
	Waiting     int
	CheckedAt   time.Time
}

// Metrics is the trailing snapshot handed to Optimize. Rates cover the
// interval since the previous Snapshot call.
type Metrics struct {
	Utilization    map[ResourceType]float64
	AllocationRate float64 // grants per second
	ReleaseRate    float64 // releases per second
	FailureRate    float64 // failed fraction of recent attempts
	AverageLatency time.Duration
	CacheHitRate   float64 // scratch buffer pool reuse
	EvictionCount  uint64
	Issued         int
	Waiting        int
}

// Sentinel errors for programmatic matching of allocation failures.
var (
	// ErrExhausted marks requests the pool cannot satisfy within capacity.
	ErrExhausted = errors.NewStd("resource pool exhausted")
	// ErrConstraint marks requests whose own constraints cannot be met.
	ErrConstraint = errors.NewStd("resource constraints cannot be satisfied")
)

func exhaustionError(req Request, free, capacity int64) error {
	return errors.New(fmt.Errorf("%w: %s request needs %d of %d free (capacity %d)",
		ErrExhausted, req.Type, req.amount(), free, capacity)).
		Component("pool").
		Category(errors.CategoryResource).
		Kind(errors.KindResourceExceeded).
		Context("resource_type", string(req.Type)).
		Context("priority", req.Priority.String()).
		Context("requested", req.amount()).
		Build()
}

func constraintError(req Request, reason string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrConstraint, reason)).
		Component("pool").
		Category(errors.CategoryResource).
		Kind(errors.KindResourceExceeded).
		Context("resource_type", string(req.Type)).
		Context("priority", req.Priority.String()).
		Build()
}

func validationError(reason string) error {
	return errors.Newf("invalid allocation request: %s", reason).
		Component("pool").
		Category(errors.CategoryValidation).
		Kind(errors.KindInvalidInput).
		Build()
}
