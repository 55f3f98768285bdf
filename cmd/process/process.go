// Package process runs one task against a local audio file and prints the
// result, without starting the service surfaces.
package process

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/audiohub/audiohub-go/internal/audio"
	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/executor"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/model"
	"github.com/audiohub/audiohub-go/internal/observability"
	"github.com/audiohub/audiohub-go/internal/orchestrator"
	"github.com/audiohub/audiohub-go/internal/pool"
)

// Result output formats accepted by --format.
const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// Command creates the process command for one-shot file processing.
func Command(settings *conf.Settings) *cobra.Command {
	var taskType string
	var outputPath string
	var format string

	cmd := &cobra.Command{
		Use:   "process [input file]",
		Short: "Process an audio file",
		Long:  "Run a transcription or analysis task over a WAV or FLAC file and print the result.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd.Context(), settings, args[0], taskType, outputPath, format)
		},
	}

	cmd.Flags().StringVarP(&taskType, "task", "t", string(model.TaskTranscription), "Task type: transcription or analysis")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the result to a file instead of stdout")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Result format: json or yaml")

	return cmd
}

func runProcess(ctx context.Context, settings *conf.Settings, inputPath, taskType, outputPath, format string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tt model.TaskType
	switch model.TaskType(taskType) {
	case model.TaskTranscription, model.TaskAnalysis:
		tt = model.TaskType(taskType)
	default:
		return fmt.Errorf("unsupported task type %q, want transcription or analysis", taskType)
	}
	if format != formatJSON && format != formatYAML {
		return fmt.Errorf("unsupported result format %q, want json or yaml", format)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	resourcePool, err := pool.FromSettings(settings)
	if err != nil {
		return err
	}
	exec, err := executor.New(settings, metrics.Executor)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(settings, exec, resourcePool)
	if err != nil {
		return err
	}
	orch.SetMetrics(metrics.Orchestrator)

	samples, err := audio.ReadFileMono(inputPath, settings)
	if err != nil {
		return err
	}
	logging.Info("audio loaded", "file", inputPath,
		"samples", len(samples), "samplerate", settings.Audio.SampleRate)

	task := model.Task{
		ID:   uuid.New().String(),
		Type: tt,
		Input: model.TaskInput{
			Ref:        inputPath,
			Samples:    samples,
			SampleRate: settings.Audio.SampleRate,
		},
	}

	result, procErr := orch.ProcessTask(ctx, task)

	payload, err := marshalResult(result, format)
	if err != nil {
		return err
	}
	if outputPath != "" {
		if err := os.WriteFile(outputPath, payload, 0o644); err != nil {
			return err
		}
	} else {
		fmt.Print(string(payload))
	}

	// The result document is printed even for failed tasks; the exit code
	// still reflects the failure.
	return procErr
}

func marshalResult(result model.TaskResult, format string) ([]byte, error) {
	if format == formatYAML {
		return yaml.Marshal(result)
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(payload, '\n'), nil
}
