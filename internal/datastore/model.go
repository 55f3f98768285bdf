// model.go defines the persisted data model for task history and health snapshots
package datastore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/audiohub/audiohub-go/internal/health"
)

// TaskRecord is the stored outcome of one processed task.
type TaskRecord struct {
	ID         uint   `gorm:"primaryKey"`
	TaskID     string `gorm:"uniqueIndex;not null"`
	Type       string `gorm:"index:idx_task_records_type_state"`
	State      string `gorm:"index:idx_task_records_type_state;index:idx_task_records_state"`
	StepCount  int
	Attempts   int    // executor attempts summed across steps
	Transcript string `gorm:"type:text"` // last transcript produced by the task, if any
	AudioRef   string // last synthesized artifact reference, if any
	ErrorKind  string `gorm:"type:varchar(32)"`
	Error      string `gorm:"type:text"`
	StartedAt  time.Time
	FinishedAt time.Time `gorm:"index:idx_task_records_finished"`
	Duration   time.Duration
	Steps      []StepRecord `gorm:"foreignKey:TaskRecordID;constraint:OnDelete:CASCADE"`
}

// StepRecord is one executed plan step belonging to a TaskRecord.
type StepRecord struct {
	ID              uint `gorm:"primaryKey"`
	TaskRecordID    uint `gorm:"index;not null;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;foreignKey:TaskRecordID;references:ID"`
	StepIndex       int
	Operation       string `gorm:"type:varchar(32)"`
	Output          string `gorm:"type:varchar(16)"`
	Text            string `gorm:"type:text"`
	SegmentCount    int
	FeatureFrames   int
	FeatureDim      int
	AudioRef        string
	PeakMemoryBytes int64
	Duration        time.Duration
	Attempts        int
}

// HealthSnapshot is one appended health state. The snapshot log is
// append-only; cumulative statistics come from querying it, never from
// mutating rows.
type HealthSnapshot struct {
	ID              uint   `gorm:"primaryKey"`
	Status          string `gorm:"type:varchar(16);index:idx_health_snapshots_status"`
	CPUUsage        float64
	MemoryUsage     float64
	ErrorRate       float64
	ErrorCount      int
	TotalOperations int64
	ResponseTime    time.Duration
	Throughput      float64
	LastError       string    `gorm:"type:text"`
	ErrorKinds      string    `gorm:"type:text"` // JSON object of error kind to count
	RecordedAt      time.Time `gorm:"index:idx_health_snapshots_recorded"`
}

// KindCounts decodes the stored per-kind error counts.
func (s *HealthSnapshot) KindCounts() (map[string]int, error) {
	if s.ErrorKinds == "" {
		return nil, nil
	}
	counts := make(map[string]int)
	if err := json.Unmarshal([]byte(s.ErrorKinds), &counts); err != nil {
		return nil, fmt.Errorf("decoding error kinds: %w", err)
	}
	return counts, nil
}

// snapshotFromState flattens a health snapshot into its stored form.
func snapshotFromState(state health.State) HealthSnapshot {
	snapshot := HealthSnapshot{
		Status:          string(state.Status),
		CPUUsage:        state.Health.CPUUsage,
		MemoryUsage:     state.Health.MemoryUsage,
		ErrorRate:       state.Health.ErrorRate,
		ErrorCount:      state.ErrorCount,
		TotalOperations: state.Metrics.TotalOperations,
		ResponseTime:    state.Metrics.ResponseTime,
		Throughput:      state.Metrics.Throughput,
		LastError:       state.Errors.LastMessage,
		RecordedAt:      state.Timestamp,
	}
	if snapshot.RecordedAt.IsZero() {
		snapshot.RecordedAt = time.Now()
	}
	if len(state.Errors.ByKind) > 0 {
		if encoded, err := json.Marshal(state.Errors.ByKind); err == nil {
			snapshot.ErrorKinds = string(encoded)
		}
	}
	return snapshot
}

// TaskStateCount is one row of the per-state task tally.
type TaskStateCount struct {
	State string
	Count int64
}
