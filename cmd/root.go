// Package cmd builds the audiohub command line interface.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/audiohub/audiohub-go/cmd/process"
	"github.com/audiohub/audiohub-go/cmd/serve"
	"github.com/audiohub/audiohub-go/cmd/worker"
	"github.com/audiohub/audiohub-go/internal/buildinfo"
	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/telemetry"
)

// Execute loads configuration, initializes the shared services every
// subcommand relies on, and runs the selected subcommand.
func Execute(version, buildDate string) error {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		logging.Error("failed to load configuration", "error", err)
		return err
	}
	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	} else {
		logging.SetLevel(slog.LevelInfo)
	}
	if settings.Main.Log.Enabled {
		closeLog, err := logging.AttachFile(settings.Main.Log)
		if err != nil {
			logging.Warn("file logging disabled", "error", err)
		} else {
			defer func() {
				if err := closeLog(); err != nil {
					logging.Warn("closing log file", "error", err)
				}
			}()
		}
	}

	build := buildContext(version, buildDate)
	if err := telemetry.Init(settings, build); err != nil {
		logging.Warn("telemetry stays disabled", "error", err)
	}

	return RootCommand(settings, build).Execute()
}

// buildContext assembles the build identity reported by telemetry and the
// version flag. The system id persists in the config directory so one
// install keeps one identity across restarts.
func buildContext(version, buildDate string) *buildinfo.Context {
	systemID := ""
	if paths, err := conf.GetDefaultConfigPaths(); err == nil && len(paths) > 0 {
		id, err := telemetry.LoadOrCreateSystemID(paths[0])
		if err != nil {
			logging.Warn("could not persist system id", "error", err)
		} else {
			systemID = id
		}
	}
	return &buildinfo.Context{Version: version, BuildDate: buildDate, SystemID: systemID}
}

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "audiohub",
		Short:   "AudioHub audio task orchestration",
		Version: fmt.Sprintf("%s (built %s)", build.GetVersion(), build.GetBuildDate()),
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		serve.Command(settings, build),
		process.Command(settings),
		worker.Command(settings),
	)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		logging.Error("error binding flags", "error", err)
	}
}
