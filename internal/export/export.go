// Package export uploads finished task artifacts to a remote drop target.
// A JSON document per task is always uploaded; synthesis audio referenced by
// the result is uploaded alongside it when the file is still present locally.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/model"
)

// uploadTimeout bounds a single task's artifact uploads. The orchestrator
// detaches sink contexts from the task, so the bound has to live here.
const uploadTimeout = 2 * time.Minute

// Target is a remote destination for artifact uploads.
type Target interface {
	// Name identifies the target type in logs and errors.
	Name() string
	// Upload writes data under remoteName in the target's base directory.
	Upload(ctx context.Context, remoteName string, data io.Reader) error
	// Validate checks that the target is reachable and writable.
	Validate(ctx context.Context) error
}

// NewTarget builds the drop target selected by the export configuration.
func NewTarget(settings *conf.Settings) (Target, error) {
	switch settings.Export.Type {
	case "sftp":
		return NewSFTPTarget(&settings.Export)
	case "ftp":
		return NewFTPTarget(&settings.Export)
	default:
		return nil, errors.Newf("unsupported export target type: %s", settings.Export.Type).
			Component("export").
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Build()
	}
}

// Exporter uploads terminal task results as artifacts. It implements the
// orchestrator's result sink; upload failures are returned to the
// orchestrator, which logs them without altering the task outcome.
type Exporter struct {
	target Target
	logger *slog.Logger
}

// NewExporter wires a result exporter over an existing target.
func NewExporter(target Target) *Exporter {
	return &Exporter{
		target: target,
		logger: logging.ForService("export"),
	}
}

// SaveTaskResult uploads the result document for one finished task, then any
// synthesis audio the result references. A missing local audio file is
// skipped with a warning: audio produced on another node or already cleaned
// up is not this node's to export.
func (e *Exporter) SaveTaskResult(ctx context.Context, result *model.TaskResult) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("export").
			Category(errors.CategoryExport).
			Context("task_id", result.TaskID).
			Build()
	}

	docName := fmt.Sprintf("task-%s.json", result.TaskID)
	if err := e.target.Upload(ctx, docName, bytes.NewReader(payload)); err != nil {
		return err
	}
	e.logger.Debug("result document uploaded",
		"task_id", result.TaskID, "name", docName, "target", e.target.Name())

	for i := range result.Steps {
		ref := result.Steps[i].AudioRef
		if ref == "" {
			continue
		}
		if err := e.uploadAudio(ctx, result.TaskID, ref); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) uploadAudio(ctx context.Context, taskID, ref string) error {
	f, err := os.Open(ref)
	if err != nil {
		e.logger.Warn("audio artifact not found locally, skipping",
			"task_id", taskID, "audio_ref", ref, "error", err)
		return nil
	}
	defer f.Close()

	name := fmt.Sprintf("%s-%s", taskID, filepath.Base(ref))
	if err := e.target.Upload(ctx, name, f); err != nil {
		return err
	}
	e.logger.Debug("audio artifact uploaded",
		"task_id", taskID, "name", name, "target", e.target.Name())
	return nil
}
