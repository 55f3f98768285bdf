// Package logging configures the process-wide slog logger: structured JSON
// on stdout, optionally mirrored to a rotating file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/audiohub/audiohub-go/internal/conf"
)

var (
	structuredLogger *slog.Logger
	level            slog.LevelVar
)

// Init sets up the process logger. Called once at startup, before
// configuration is loaded, so config errors have somewhere to go.
func Init() {
	level.Set(slog.LevelInfo)
	structuredLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(structuredLogger)
}

// SetLevel adjusts the minimum level of the shared logger. Safe to call
// while the logger is in use.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetOutput rebuilds the shared logger on top of w. Worker mode uses this
// to move all logging to stderr so protocol frames own stdout.
func SetOutput(w io.Writer) {
	structuredLogger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(structuredLogger)
}

// AttachFile mirrors the shared logger to a rotating file described by cfg.
// It returns a closer for the file writer. The caller decides whether a
// failure here is fatal; the stdout logger keeps working either way.
func AttachFile(cfg conf.LogConfig) (func() error, error) {
	fileWriter, err := newFileWriter(cfg)
	if err != nil {
		return nil, err
	}

	out := io.MultiWriter(os.Stdout, fileWriter)
	structuredLogger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(structuredLogger)

	return fileWriter.Close, nil
}

// NewFileLogger returns a JSON logger writing only to the rotating file
// described by cfg, tagged with the service attribute. Used for dedicated
// logs such as API access logs that should not flood stdout.
func NewFileLogger(cfg conf.LogConfig, serviceName string, l slog.Level) (*slog.Logger, func() error, error) {
	fileWriter, err := newFileWriter(cfg)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(fileWriter, &slog.HandlerOptions{Level: l})).
		With("service", serviceName)
	return logger, fileWriter.Close, nil
}

// newFileWriter builds the rotating writer for cfg, creating the parent
// directory when needed.
func newFileWriter(cfg conf.LogConfig) (*lumberjack.Logger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
		}
	}

	sizeMB, backups, ageDays := rotationPolicy(cfg)
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    sizeMB,
		MaxBackups: backups,
		MaxAge:     ageDays,
	}, nil
}

// rotationPolicy translates the rotation config into lumberjack's terms.
func rotationPolicy(cfg conf.LogConfig) (sizeMB, backups, ageDays int) {
	sizeMB = 100
	backups = 3
	ageDays = 28

	if mb := int(cfg.MaxSize / (1024 * 1024)); mb > 0 {
		sizeMB = mb
	}

	switch cfg.Rotation {
	case conf.RotationDaily:
		ageDays = 1
		backups = 30
	case conf.RotationWeekly:
		ageDays = 7
		backups = 4
	case conf.RotationSize:
	default:
		slog.Warn("unknown log rotation type, using size-based defaults", "rotation", cfg.Rotation)
	}
	return sizeMB, backups, ageDays
}

// ForService returns a logger carrying the service attribute. Before Init
// the default slog logger backs it, so constructors can grab a logger
// unconditionally.
func ForService(serviceName string) *slog.Logger {
	if structuredLogger == nil {
		return slog.Default().With("service", serviceName)
	}
	return structuredLogger.With("service", serviceName)
}

// Debug, Info, Warn, and Error forward to the process-wide slog logger.

func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}
