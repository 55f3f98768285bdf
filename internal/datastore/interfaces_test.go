package datastore

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/model"
	"github.com/audiohub/audiohub-go/internal/observability/metrics"
	"gorm.io/gorm"
)

func createTestSettings(t *testing.T) *conf.Settings {
	t.Helper()
	return &conf.Settings{}
}

// createDatabase opens a temp-dir SQLite store and closes it when the test
// finishes.
func createDatabase(t *testing.T, settings *conf.Settings) Interface {
	t.Helper()
	tempDir := t.TempDir()
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = tempDir + "/test.db"

	dataStore := New(settings)
	require.NotNil(t, dataStore, "New should return a store when sqlite is enabled")

	require.NoError(t, dataStore.Open(), "Failed to open database")

	t.Cleanup(func() {
		assert.NoError(t, dataStore.Close(), "Failed to close datastore")
	})

	return dataStore
}

// sampleResult builds a completed analysis result with a transcription step
// and a synthesis step.
func sampleResult(taskID string) *model.TaskResult {
	started := time.Date(2025, 6, 12, 10, 30, 0, 0, time.UTC)
	return &model.TaskResult{
		TaskID: taskID,
		Type:   model.TaskAnalysis,
		State:  model.TaskCompleted,
		Steps: []model.StepResult{
			{
				Operation: model.OpTranscribe,
				Output:    model.OutputText,
				Text:      "hello from the recording",
				Segments: []model.Segment{
					{Start: 0, End: 2 * time.Second, Text: "hello from", Confidence: 0.94},
					{Start: 2 * time.Second, End: 4 * time.Second, Text: "the recording", Confidence: 0.91},
				},
				PeakMemoryBytes: 256 << 20,
				Duration:        850 * time.Millisecond,
				Attempts:        1,
			},
			{
				Operation:       model.OpSynthesize,
				Output:          model.OutputAudio,
				AudioRef:        "synth://speecht5/task-1.wav",
				PeakMemoryBytes: 380 << 20,
				Duration:        1200 * time.Millisecond,
				Attempts:        2,
			},
		},
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
	}
}

func TestNewSelectsConfiguredStore(t *testing.T) {
	t.Parallel()

	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		settings := createTestSettings(t)
		settings.Output.SQLite.Enabled = true
		settings.Output.SQLite.Path = "history.db"

		store := New(settings)
		require.IsType(t, &SQLiteStore{}, store)
	})

	t.Run("mysql", func(t *testing.T) {
		t.Parallel()
		settings := createTestSettings(t)
		settings.Output.MySQL.Enabled = true

		store := New(settings)
		require.IsType(t, &MySQLStore{}, store)
	})

	t.Run("sqlite wins when both are enabled", func(t *testing.T) {
		t.Parallel()
		settings := createTestSettings(t)
		settings.Output.SQLite.Enabled = true
		settings.Output.MySQL.Enabled = true

		store := New(settings)
		require.IsType(t, &SQLiteStore{}, store)
	})

	t.Run("nil when no output is enabled", func(t *testing.T) {
		t.Parallel()
		settings := createTestSettings(t)

		require.Nil(t, New(settings))
	})
}

func TestSaveTaskResultRoundTrip(t *testing.T) {
	t.Parallel()

	settings := createTestSettings(t)
	ds := createDatabase(t, settings)
	ds.SetMetrics(mustDatastoreMetrics(t))

	result := sampleResult("task-1")
	require.NoError(t, ds.SaveTaskResult(t.Context(), result))

	record, err := ds.GetTaskRecord("task-1")
	require.NoError(t, err)

	assert.Equal(t, "task-1", record.TaskID)
	assert.Equal(t, string(model.TaskAnalysis), record.Type)
	assert.Equal(t, string(model.TaskCompleted), record.State)
	assert.Equal(t, 2, record.StepCount)
	assert.Equal(t, 3, record.Attempts, "attempts should sum across steps")
	assert.Equal(t, "hello from the recording", record.Transcript)
	assert.Equal(t, "synth://speecht5/task-1.wav", record.AudioRef)
	assert.Equal(t, 3*time.Second, record.Duration)
	assert.Empty(t, record.ErrorKind)

	require.Len(t, record.Steps, 2)
	first, second := record.Steps[0], record.Steps[1]
	assert.Equal(t, 0, first.StepIndex)
	assert.Equal(t, string(model.OpTranscribe), first.Operation)
	assert.Equal(t, "hello from the recording", first.Text)
	assert.Equal(t, 2, first.SegmentCount)
	assert.Equal(t, 1, first.Attempts)
	assert.Equal(t, 1, second.StepIndex)
	assert.Equal(t, string(model.OpSynthesize), second.Operation)
	assert.Equal(t, "synth://speecht5/task-1.wav", second.AudioRef)
	assert.Equal(t, 2, second.Attempts)
}

func TestSaveTaskResultStoresFailures(t *testing.T) {
	t.Parallel()

	settings := createTestSettings(t)
	ds := createDatabase(t, settings)

	result := &model.TaskResult{
		TaskID:     "task-failed",
		Type:       model.TaskTranscription,
		State:      model.TaskFailed,
		ErrorKind:  "CONNECTION_ERROR",
		Error:      "remote executor unreachable",
		StartedAt:  time.Now().Add(-2 * time.Second),
		FinishedAt: time.Now(),
		Steps: []model.StepResult{
			{Operation: model.OpTranscribe, Attempts: 3},
		},
	}
	require.NoError(t, ds.SaveTaskResult(t.Context(), result))

	record, err := ds.GetTaskRecord("task-failed")
	require.NoError(t, err)
	assert.Equal(t, string(model.TaskFailed), record.State)
	assert.Equal(t, "CONNECTION_ERROR", record.ErrorKind)
	assert.Equal(t, "remote executor unreachable", record.Error)
	assert.Equal(t, 3, record.Attempts)
}

func TestSaveTaskResultReplacesEarlierRecord(t *testing.T) {
	t.Parallel()

	settings := createTestSettings(t)
	ds := createDatabase(t, settings)

	first := sampleResult("task-redo")
	first.State = model.TaskFailed
	first.ErrorKind = "TIMEOUT_ERROR"
	require.NoError(t, ds.SaveTaskResult(t.Context(), first))

	second := sampleResult("task-redo")
	require.NoError(t, ds.SaveTaskResult(t.Context(), second))

	record, err := ds.GetTaskRecord("task-redo")
	require.NoError(t, err)
	assert.Equal(t, string(model.TaskCompleted), record.State, "latest save should win")
	assert.Empty(t, record.ErrorKind)
	require.Len(t, record.Steps, 2)

	// The replaced record's step rows must be gone, not orphaned.
	assert.Equal(t, int64(2), countRows(t, ds, &StepRecord{}))
	assert.Equal(t, int64(1), countRows(t, ds, &TaskRecord{}))
}

func TestSaveTaskResultValidatesInput(t *testing.T) {
	t.Parallel()

	settings := createTestSettings(t)
	ds := createDatabase(t, settings)

	err := ds.SaveTaskResult(t.Context(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	err = ds.SaveTaskResult(t.Context(), &model.TaskResult{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestGetTaskRecordMissing(t *testing.T) {
	t.Parallel()

	settings := createTestSettings(t)
	ds := createDatabase(t, settings)

	_, err := ds.GetTaskRecord("never-saved")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestRecentTaskRecordsOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	settings := createTestSettings(t)
	ds := createDatabase(t, settings)

	base := time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC)
	for i := range 5 {
		result := sampleResult("task-" + string(rune('a'+i)))
		result.StartedAt = base.Add(time.Duration(i) * time.Minute)
		result.FinishedAt = result.StartedAt.Add(30 * time.Second)
		require.NoError(t, ds.SaveTaskResult(t.Context(), result))
	}

	records, err := ds.RecentTaskRecords(3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "task-e", records[0].TaskID)
	assert.Equal(t, "task-d", records[1].TaskID)
	assert.Equal(t, "task-c", records[2].TaskID)
	assert.True(t, records[0].FinishedAt.After(records[2].FinishedAt))
}

func TestCountTasksByState(t *testing.T) {
	t.Parallel()

	settings := createTestSettings(t)
	ds := createDatabase(t, settings)

	completed := sampleResult("done-1")
	require.NoError(t, ds.SaveTaskResult(t.Context(), completed))
	completedToo := sampleResult("done-2")
	require.NoError(t, ds.SaveTaskResult(t.Context(), completedToo))

	failed := sampleResult("broken-1")
	failed.State = model.TaskFailed
	failed.ErrorKind = "MODEL_ERROR"
	require.NoError(t, ds.SaveTaskResult(t.Context(), failed))

	counts, err := ds.CountTasksByState()
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, TaskStateCount{State: string(model.TaskCompleted), Count: 2}, counts[0])
	assert.Equal(t, TaskStateCount{State: string(model.TaskFailed), Count: 1}, counts[1])
}

func TestDeleteTaskRecordRemovesSteps(t *testing.T) {
	t.Parallel()

	settings := createTestSettings(t)
	ds := createDatabase(t, settings)

	require.NoError(t, ds.SaveTaskResult(t.Context(), sampleResult("task-gone")))
	require.NoError(t, ds.SaveTaskResult(t.Context(), sampleResult("task-kept")))

	require.NoError(t, ds.DeleteTaskRecord("task-gone"))

	_, err := ds.GetTaskRecord("task-gone")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	kept, err := ds.GetTaskRecord("task-kept")
	require.NoError(t, err)
	require.Len(t, kept.Steps, 2)

	assert.Equal(t, int64(2), countRows(t, ds, &StepRecord{}), "only the kept task's steps should remain")
}

// countRows queries the underlying table directly to verify persistence.
func countRows(t *testing.T, ds Interface, entity any) int64 {
	t.Helper()

	sqliteStore, ok := ds.(*SQLiteStore)
	require.True(t, ok, "Interface must be *SQLiteStore for this test")

	var count int64
	require.NoError(t, sqliteStore.DB.Model(entity).Count(&count).Error)
	return count
}

func mustDatastoreMetrics(t *testing.T) *metrics.DatastoreMetrics {
	t.Helper()

	m, err := metrics.NewDatastoreMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}
