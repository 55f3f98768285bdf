// export_test.go: tests for the artifact exporter and target configuration.
package export

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/model"
)

type upload struct {
	name string
	data []byte
}

type fakeTarget struct {
	mu      sync.Mutex
	uploads []upload
	fail    bool
}

func (f *fakeTarget) Name() string { return "fake" }

func (f *fakeTarget) Upload(_ context.Context, name string, data io.Reader) error {
	if f.fail {
		return errors.NewStd("target unavailable")
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, upload{name: name, data: b})
	return nil
}

func (f *fakeTarget) Validate(context.Context) error { return nil }

func (f *fakeTarget) recorded() []upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upload(nil), f.uploads...)
}

func transcriptionResult() *model.TaskResult {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &model.TaskResult{
		TaskID:     "task-7",
		Type:       model.TaskTranscription,
		State:      model.TaskCompleted,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Steps: []model.StepResult{
			{
				Operation: model.OpTranscribe,
				Output:    model.OutputText,
				Text:      "hello from the export test",
				Attempts:  1,
			},
		},
	}
}

func TestExporterUploadsResultDocument(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{}
	exporter := NewExporter(target)

	require.NoError(t, exporter.SaveTaskResult(t.Context(), transcriptionResult()))

	uploads := target.recorded()
	require.Len(t, uploads, 1)
	assert.Equal(t, "task-task-7.json", uploads[0].name)

	var doc model.TaskResult
	require.NoError(t, json.Unmarshal(uploads[0].data, &doc))
	assert.Equal(t, "task-7", doc.TaskID)
	assert.Equal(t, model.TaskCompleted, doc.State)
	require.Len(t, doc.Steps, 1)
	assert.Equal(t, "hello from the export test", doc.Steps[0].Text)
}

func TestExporterUploadsAudioArtifact(t *testing.T) {
	t.Parallel()

	wavPath := filepath.Join(t.TempDir(), "synth.wav")
	require.NoError(t, os.WriteFile(wavPath, []byte("RIFF-ish bytes"), 0o644))

	result := transcriptionResult()
	result.Steps = append(result.Steps, model.StepResult{
		Operation: model.OpSynthesize,
		Output:    model.OutputAudio,
		AudioRef:  wavPath,
		Attempts:  1,
	})

	target := &fakeTarget{}
	require.NoError(t, NewExporter(target).SaveTaskResult(t.Context(), result))

	uploads := target.recorded()
	require.Len(t, uploads, 2)
	assert.Equal(t, "task-7-synth.wav", uploads[1].name)
	assert.Equal(t, []byte("RIFF-ish bytes"), uploads[1].data)
}

func TestExporterSkipsMissingAudio(t *testing.T) {
	t.Parallel()

	result := transcriptionResult()
	result.Steps = append(result.Steps, model.StepResult{
		Operation: model.OpSynthesize,
		Output:    model.OutputAudio,
		AudioRef:  filepath.Join(t.TempDir(), "gone.wav"),
	})

	target := &fakeTarget{}
	require.NoError(t, NewExporter(target).SaveTaskResult(t.Context(), result))
	require.Len(t, target.recorded(), 1)
}

func TestExporterPropagatesUploadFailure(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{fail: true}
	err := NewExporter(target).SaveTaskResult(t.Context(), transcriptionResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target unavailable")
}

func TestNewTargetSelectsByType(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.Export = conf.ExportSettings{
		Type:     "sftp",
		Host:     "drop.local",
		Port:     "2022",
		Username: "exporter",
		Password: "secret",
		Path:     "exports/",
	}

	target, err := NewTarget(settings)
	require.NoError(t, err)
	assert.Equal(t, "sftp", target.Name())

	settings.Export.Type = "ftp"
	settings.Export.Port = "2121"
	target, err = NewTarget(settings)
	require.NoError(t, err)
	assert.Equal(t, "ftp", target.Name())

	settings.Export.Type = "s3"
	_, err = NewTarget(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported export target type")
}

func TestNewSFTPTargetValidatesConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings conf.ExportSettings
		wantErr  string
	}{
		{
			name:     "missing host",
			settings: conf.ExportSettings{Password: "secret"},
			wantErr:  "host is not configured",
		},
		{
			name:     "bad port",
			settings: conf.ExportSettings{Host: "drop.local", Port: "twenty-two", Password: "secret"},
			wantErr:  "invalid export port",
		},
		{
			name:     "no credentials",
			settings: conf.ExportSettings{Host: "drop.local", Port: "22"},
			wantErr:  "keyfile or a password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewSFTPTarget(&tt.settings)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewSFTPTargetDefaultsPort(t *testing.T) {
	t.Parallel()

	target, err := NewSFTPTarget(&conf.ExportSettings{Host: "drop.local", Password: "secret", Path: "exports/"})
	require.NoError(t, err)
	assert.Equal(t, "22", target.port)
	assert.Equal(t, "exports", target.basePath)
}

func TestNewFTPTargetValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := NewFTPTarget(&conf.ExportSettings{})
	require.Error(t, err)

	_, err = NewFTPTarget(&conf.ExportSettings{Host: "drop.local", Port: "not-a-port"})
	require.Error(t, err)

	target, err := NewFTPTarget(&conf.ExportSettings{Host: "drop.local"})
	require.NoError(t, err)
	assert.Equal(t, "drop.local:21", target.addr)
}
