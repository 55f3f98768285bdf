package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/audiohub/audiohub-go/internal/errors"
	gormlogger "gorm.io/gorm/logger"
)

func TestParseSQLOperation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		sql       string
		operation string
		table     string
	}{
		{"select", "SELECT * FROM task_records WHERE task_id = ?", "select", "task_records"},
		{"select quoted", "SELECT `id` FROM `step_records` ORDER BY step_index", "select", "step_records"},
		{"insert", "INSERT INTO health_snapshots (status) VALUES (?)", "insert", "health_snapshots"},
		{"update", "UPDATE task_records SET state = ?", "update", "task_records"},
		{"delete", "DELETE FROM step_records WHERE task_record_id = ?", "delete", "step_records"},
		{"create", "CREATE TABLE IF NOT EXISTS task_records (id integer)", "create", "task_records"},
		{"alter", "ALTER TABLE task_records ADD COLUMN audio_ref text", "alter", "task_records"},
		{"drop", "DROP TABLE IF EXISTS scratch", "drop", "scratch"},
		{"lowercase", "select state from task_records", "select", "task_records"},
		{"pragma", "PRAGMA foreign_keys = ON", "unknown", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			operation, table := parseSQLOperation(tt.sql)
			assert.Equal(t, tt.operation, operation)
			assert.Equal(t, tt.table, table)
		})
	}
}

func TestCategorizeError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "none"},
		{"unique", errors.NewStd("UNIQUE constraint failed: task_records.task_id"), "constraint_violation"},
		{"locked", errors.NewStd("database is locked"), "database_locked"},
		{"connection", errors.NewStd("dial tcp: connection refused"), "connection_error"},
		{"timeout", errors.NewStd("context deadline exceeded: timeout"), "timeout"},
		{"disk", errors.NewStd("write failed: no space left on device"), "disk_full"},
		{"other", errors.NewStd("something odd"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, categorizeError(tt.err))
		})
	}
}

func TestGormLoggerLogMode(t *testing.T) {
	t.Parallel()

	base := NewGormLogger(DefaultSlowQueryThreshold, gormlogger.Warn)
	quieter := base.LogMode(gormlogger.Silent)

	modified, ok := quieter.(*GormLogger)
	assert.True(t, ok)
	assert.Equal(t, gormlogger.Silent, modified.LogLevel)
	assert.Equal(t, gormlogger.Warn, base.LogLevel, "LogMode must not mutate the original")
}
