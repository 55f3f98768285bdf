// Package worker runs the JSON-lines subprocess protocol over stdio.
package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/executor"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/observability"
	"github.com/audiohub/audiohub-go/internal/worker"
)

// Command creates the worker command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run as a stdio worker subprocess",
		Long:  "Serve the JSON-lines protocol on stdin/stdout for a supervising parent process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), settings)
		},
	}
}

func runWorker(ctx context.Context, settings *conf.Settings) error {
	// Protocol frames own stdout; all logging moves to stderr.
	logging.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	exec, err := executor.New(settings, metrics.Executor)
	if err != nil {
		return err
	}

	svc := worker.NewService(settings, exec, metrics.Worker)
	return svc.Run(ctx, os.Stdin, os.Stdout)
}
