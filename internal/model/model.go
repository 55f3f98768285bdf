// Package model defines the shared task and model-catalog types used by the
// planner, orchestrator, and executors.
package model

import "fmt"

// Capability describes what a model type can do. A model may hold several
// capabilities at once; the planner matches these against task demands.
type Capability struct {
	Transcription bool `json:"transcription"`
	Synthesis     bool `json:"synthesis"`
	Streaming     bool `json:"streaming"`
}

// Covers reports whether c provides every capability demanded by want.
func (c Capability) Covers(want Capability) bool {
	if want.Transcription && !c.Transcription {
		return false
	}
	if want.Synthesis && !c.Synthesis {
		return false
	}
	if want.Streaming && !c.Streaming {
		return false
	}
	return true
}

// Count returns how many capabilities the set grants.
func (c Capability) Count() int {
	n := 0
	if c.Transcription {
		n++
	}
	if c.Synthesis {
		n++
	}
	if c.Streaming {
		n++
	}
	return n
}

// Merge returns the union of c and other.
func (c Capability) Merge(other Capability) Capability {
	return Capability{
		Transcription: c.Transcription || other.Transcription,
		Synthesis:     c.Synthesis || other.Synthesis,
		Streaming:     c.Streaming || other.Streaming,
	}
}

// Type describes one loadable model: identity, memory footprint, and
// capabilities. Instances come from the configured catalog and are treated
// as immutable.
type Type struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	MemoryRequirement int64      `json:"memory_requirement"` // bytes needed while resident
	Capabilities      Capability `json:"capabilities"`
}

// Valid reports whether the type carries the minimum fields required to be
// loadable.
func (t Type) Valid() error {
	if t.ID == "" {
		return fmt.Errorf("model type has empty id")
	}
	if t.MemoryRequirement <= 0 {
		return fmt.Errorf("model type %s has non-positive memory requirement %d", t.ID, t.MemoryRequirement)
	}
	return nil
}

func (t Type) String() string {
	return fmt.Sprintf("%s (%s, %d MB)", t.ID, t.Name, t.MemoryRequirement/(1024*1024))
}
