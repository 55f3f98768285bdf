// Package datastore persists task history and health snapshots behind a
// storage interface with SQLite and MySQL implementations.
package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/health"
	"github.com/audiohub/audiohub-go/internal/model"
	"github.com/audiohub/audiohub-go/internal/observability/metrics"
	"gorm.io/gorm"
)

// Interface abstracts the underlying database implementation and defines the
// storage operations the rest of the system relies on. It doubles as the
// orchestrator result sink and the health snapshot sink.
type Interface interface {
	Open() error
	Close() error
	// Task history
	SaveTaskResult(ctx context.Context, result *model.TaskResult) error
	GetTaskRecord(taskID string) (TaskRecord, error)
	RecentTaskRecords(limit int) ([]TaskRecord, error)
	CountTasksByState() ([]TaskStateCount, error)
	DeleteTaskRecord(taskID string) error
	// Health snapshot log
	Append(state health.State) error
	LatestSnapshot() (*HealthSnapshot, error)
	SnapshotsSince(cutoff time.Time) ([]HealthSnapshot, error)
	PruneSnapshots(olderThan time.Time) (int64, error)
	SetMetrics(m *metrics.DatastoreMetrics)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB      *gorm.DB // GORM database instance
	metrics *metrics.DatastoreMetrics
}

// New creates a datastore instance based on the configured output. It
// returns nil when no database output is enabled.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// SetMetrics attaches Prometheus metrics. Safe to leave unset; operations
// then run unrecorded.
func (ds *DataStore) SetMetrics(m *metrics.DatastoreMetrics) {
	ds.metrics = m
}

// recordOp observes one storage operation when metrics are attached.
func (ds *DataStore) recordOp(operation string, start time.Time, err error) {
	if ds.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	ds.metrics.RecordOperation(operation, status, time.Since(start).Seconds())
}

// SaveTaskResult stores a task outcome and its step results as a single
// transaction. Saving the same task ID again replaces the earlier record so
// the stored history matches the in-memory status registry, where the
// latest run wins.
func (ds *DataStore) SaveTaskResult(ctx context.Context, result *model.TaskResult) (err error) {
	start := time.Now()
	defer func() { ds.recordOp("save_task_result", start, err) }()

	if result == nil {
		return validationError("task result must not be nil", "result", nil)
	}
	if result.TaskID == "" {
		return validationError("task ID must not be empty", "task_id", "")
	}

	record := recordFromResult(result)
	steps := record.Steps
	record.Steps = nil

	tx := ds.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("starting transaction: %w", tx.Error)
	}

	// Roll back the transaction if a panic occurs
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	// Drop any earlier record for the same task so the latest outcome wins.
	var existing TaskRecord
	switch lookupErr := tx.Where("task_id = ?", record.TaskID).First(&existing).Error; {
	case lookupErr == nil:
		if err := tx.Where("task_record_id = ?", existing.ID).Delete(&StepRecord{}).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("deleting step records for task %s: %w", record.TaskID, err)
		}
		if err := tx.Delete(&TaskRecord{}, existing.ID).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("deleting earlier record for task %s: %w", record.TaskID, err)
		}
	case !errors.Is(lookupErr, gorm.ErrRecordNotFound):
		tx.Rollback()
		return fmt.Errorf("looking up task %s: %w", record.TaskID, lookupErr)
	}

	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return dbError(err, "save_task_result", "task_id", record.TaskID)
	}

	// Assign the record ID to each step and save them
	for i := range steps {
		steps[i].TaskRecordID = record.ID
		if err := tx.Create(&steps[i]).Error; err != nil {
			tx.Rollback()
			return dbError(err, "save_task_result", "task_id", record.TaskID, "step_index", steps[i].StepIndex)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	if ds.metrics != nil {
		ds.metrics.RecordTaskRecordWrite()
	}
	return nil
}

// recordFromResult flattens a task result into its stored form.
func recordFromResult(result *model.TaskResult) TaskRecord {
	record := TaskRecord{
		TaskID:     result.TaskID,
		Type:       string(result.Type),
		State:      string(result.State),
		StepCount:  len(result.Steps),
		ErrorKind:  result.ErrorKind,
		Error:      result.Error,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
	if !result.StartedAt.IsZero() && !result.FinishedAt.IsZero() {
		record.Duration = result.FinishedAt.Sub(result.StartedAt)
	}
	for i := range result.Steps {
		step := result.Steps[i]
		record.Attempts += step.Attempts
		if step.Text != "" {
			record.Transcript = step.Text
		}
		if step.AudioRef != "" {
			record.AudioRef = step.AudioRef
		}
		record.Steps = append(record.Steps, StepRecord{
			StepIndex:       i,
			Operation:       string(step.Operation),
			Output:          string(step.Output),
			Text:            step.Text,
			SegmentCount:    len(step.Segments),
			FeatureFrames:   step.FeatureFrames,
			FeatureDim:      step.FeatureDim,
			AudioRef:        step.AudioRef,
			PeakMemoryBytes: step.PeakMemoryBytes,
			Duration:        step.Duration,
			Attempts:        step.Attempts,
		})
	}
	return record
}

// GetTaskRecord retrieves one task record with its steps in plan order.
// Callers detect a missing task with errors.Is(err, gorm.ErrRecordNotFound).
func (ds *DataStore) GetTaskRecord(taskID string) (TaskRecord, error) {
	if taskID == "" {
		return TaskRecord{}, validationError("task ID must not be empty", "task_id", taskID)
	}

	var record TaskRecord
	err := ds.DB.
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_index ASC") }).
		Where("task_id = ?", taskID).
		First(&record).Error
	if err != nil {
		return TaskRecord{}, fmt.Errorf("getting record for task %s: %w", taskID, err)
	}
	return record, nil
}

// RecentTaskRecords returns the most recently finished tasks, newest first.
// Steps are not loaded; use GetTaskRecord for the full record.
func (ds *DataStore) RecentTaskRecords(limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 25
	}

	var records []TaskRecord
	err := ds.DB.
		Order("finished_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("getting recent task records: %w", err)
	}
	return records, nil
}

// CountTasksByState tallies stored tasks per terminal state.
func (ds *DataStore) CountTasksByState() ([]TaskStateCount, error) {
	var counts []TaskStateCount
	err := ds.DB.Model(&TaskRecord{}).
		Select("state, COUNT(*) as count").
		Group("state").
		Order("state ASC").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("counting tasks by state: %w", err)
	}
	return counts, nil
}

// DeleteTaskRecord removes a task record and its steps.
func (ds *DataStore) DeleteTaskRecord(taskID string) error {
	if taskID == "" {
		return validationError("task ID must not be empty", "task_id", taskID)
	}

	// Perform the deletion within a transaction
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var record TaskRecord
		if err := tx.Where("task_id = ?", taskID).First(&record).Error; err != nil {
			return fmt.Errorf("looking up task %s: %w", taskID, err)
		}
		// Delete the step records associated with the task first
		if err := tx.Where("task_record_id = ?", record.ID).Delete(&StepRecord{}).Error; err != nil {
			return fmt.Errorf("deleting step records for task %s: %w", taskID, err)
		}
		if err := tx.Delete(&TaskRecord{}, record.ID).Error; err != nil {
			return fmt.Errorf("deleting record for task %s: %w", taskID, err)
		}
		return nil
	})
}

// Append stores one health snapshot at the end of the snapshot log.
// Snapshots are immutable once written; cumulative statistics come from
// querying the log.
func (ds *DataStore) Append(state health.State) error {
	snapshot := snapshotFromState(state)

	start := time.Now()
	err := ds.DB.Create(&snapshot).Error
	ds.recordOp("append_snapshot", start, err)
	if err != nil {
		return dbError(err, "append_snapshot", "status", snapshot.Status)
	}
	if ds.metrics != nil {
		ds.metrics.RecordSnapshotWrite()
	}
	return nil
}

// LatestSnapshot returns the newest snapshot in the log.
func (ds *DataStore) LatestSnapshot() (*HealthSnapshot, error) {
	var snapshot HealthSnapshot
	if err := ds.DB.Order("recorded_at DESC").Order("id DESC").First(&snapshot).Error; err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// SnapshotsSince returns snapshots recorded at or after the cutoff, oldest
// first.
func (ds *DataStore) SnapshotsSince(cutoff time.Time) ([]HealthSnapshot, error) {
	var snapshots []HealthSnapshot
	err := ds.DB.
		Where("recorded_at >= ?", cutoff).
		Order("recorded_at ASC").
		Order("id ASC").
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("getting snapshots since %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return snapshots, nil
}

// PruneSnapshots removes snapshots recorded before the cutoff and reports
// how many rows were dropped. The newest snapshot always survives so the
// log never loses the current state.
func (ds *DataStore) PruneSnapshots(olderThan time.Time) (int64, error) {
	latest, err := ds.LatestSnapshot()
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("finding newest snapshot: %w", err)
	}

	result := ds.DB.
		Where("recorded_at < ?", olderThan).
		Where("id <> ?", latest.ID).
		Delete(&HealthSnapshot{})
	if result.Error != nil {
		return 0, dbError(result.Error, "prune_snapshots")
	}
	return result.RowsAffected, nil
}
