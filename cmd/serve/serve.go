// Package serve runs the long-lived orchestration service.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/audiohub/audiohub-go/internal/api"
	"github.com/audiohub/audiohub-go/internal/buildinfo"
	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/datastore"
	apperrors "github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/events"
	"github.com/audiohub/audiohub-go/internal/executor"
	"github.com/audiohub/audiohub-go/internal/export"
	"github.com/audiohub/audiohub-go/internal/health"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/mqtt"
	"github.com/audiohub/audiohub-go/internal/notification"
	"github.com/audiohub/audiohub-go/internal/observability"
	"github.com/audiohub/audiohub-go/internal/orchestrator"
	"github.com/audiohub/audiohub-go/internal/pool"
	"github.com/audiohub/audiohub-go/internal/telemetry"
)

const (
	busShutdownTimeout  = 5 * time.Second
	httpShutdownTimeout = 10 * time.Second
	telemetryFlushTime  = 3 * time.Second
)

// Command creates the serve command.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration service",
		Long:  "Start the orchestrator with the HTTP API, result sinks, and resource monitoring.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), settings, build)
		},
	}

	setupFlags(cmd, settings)

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "HTTP API port")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		logging.Error("error binding flags", "error", err)
	}
}

// runServer wires every subsystem together and blocks until a shutdown
// signal arrives. Construction order matters: the event bus and its
// consumers come up before anything that publishes to them.
func runServer(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	logger := logging.ForService("serve")
	logger.Info("starting audiohub",
		"version", build.GetVersion(), "node", settings.Main.Name)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := events.Initialize(events.DefaultConfig())
	if err != nil {
		return err
	}
	apperrors.SetEventPublisher(events.NewEventPublisherAdapter(bus))
	defer func() {
		if err := bus.Shutdown(busShutdownTimeout); err != nil {
			logger.Warn("event bus shutdown incomplete", "error", err)
		}
	}()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	if err := bus.RegisterConsumer(observability.NewMetricsConsumer(metrics)); err != nil {
		return err
	}

	ds := datastore.New(settings)
	ds.SetMetrics(metrics.Datastore)
	if err := ds.Open(); err != nil {
		telemetry.CaptureError(err, "datastore")
		return err
	}
	defer closeDatastore(ds, logger)

	tracker := health.NewTracker(ds)
	if err := bus.RegisterConsumer(tracker); err != nil {
		return err
	}

	if settings.Notification.Enabled {
		notifier, err := notification.NewService(settings, nil)
		if err != nil {
			return err
		}
		if err := bus.RegisterConsumer(notifier); err != nil {
			return err
		}
	}

	resourcePool, err := pool.FromSettings(settings)
	if err != nil {
		return err
	}
	monitor := pool.NewSystemMonitor(resourcePool, settings)
	monitor.SetMetrics(metrics.Pool)
	monitor.Start()
	defer monitor.Stop()

	exec, err := executor.New(settings, metrics.Executor)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(settings, exec, resourcePool)
	if err != nil {
		return err
	}
	orch.SetMetrics(metrics.Orchestrator)
	orch.AddResultSink(ds)

	if settings.MQTT.Enabled {
		client := mqtt.NewClient(settings, metrics.MQTT)
		publisher, err := mqtt.NewPublisher(settings, client)
		if err != nil {
			return err
		}
		if err := client.Connect(ctx); err != nil {
			logger.Warn("mqtt broker unreachable, publishing resumes after reconnect", "error", err)
		}
		orch.AddResultSink(publisher)
		defer client.Disconnect()
	}

	if settings.Export.Enabled {
		target, err := export.NewTarget(settings)
		if err != nil {
			return err
		}
		if err := target.Validate(ctx); err != nil {
			logger.Warn("export target validation failed",
				"target", target.Name(), "error", err)
		}
		orch.AddResultSink(export.NewExporter(target))
	}

	g, ctx := errgroup.WithContext(ctx)

	if settings.WebServer.Enabled {
		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		controller, err := api.New(e, orch, ds, tracker, settings, metrics)
		if err != nil {
			return err
		}
		defer func() {
			if err := controller.Close(); err != nil {
				logger.Warn("closing access log", "error", err)
			}
		}()

		addr := ":" + settings.WebServer.Port
		g.Go(func() error {
			logger.Info("http api listening", "addr", addr)
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		})
	} else {
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
	}

	err = g.Wait()
	telemetry.Flush(telemetryFlushTime)
	if err != nil && !errors.Is(err, context.Canceled) {
		telemetry.CaptureError(err, "serve")
		return err
	}
	logger.Info("audiohub stopped")
	return nil
}

func closeDatastore(ds datastore.Interface, logger *slog.Logger) {
	if err := ds.Close(); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}
}
