package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/audiohub/audiohub-go/internal/errors"
)

const (
	osWindows      = "windows"
	configFileName = "config.yaml"
)

// platformConfigPaths lists the config search directories for goos, in
// priority order.
func platformConfigPaths(goos, exeDir, homeDir string) []string {
	if goos == osWindows {
		return []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", "audiohub-go"),
		}
	}
	return []string{
		filepath.Join(homeDir, ".config", "audiohub-go"),
		"/etc/audiohub-go",
	}
}

// locateConfig returns the first directory in paths that already holds a
// config file, or "" when none does.
func locateConfig(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(filepath.Join(path, configFileName)); err == nil {
			return path
		}
	}
	return ""
}

// GetDefaultConfigPaths returns the config search paths for the current OS.
// If a config.yaml already exists in one of them, only that path is
// returned so every component resolves the same file.
func GetDefaultConfigPaths() ([]string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-executable-path").
			Build()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	paths := platformConfigPaths(runtime.GOOS, filepath.Dir(exePath), homeDir)
	if found := locateConfig(paths); found != "" {
		return []string{found}, nil
	}
	return paths, nil
}

// FindConfigFile returns the path of the active config file.
func FindConfigFile() (string, error) {
	paths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", fmt.Errorf("resolving config search paths: %w", err)
	}

	if found := locateConfig(paths); found != "" {
		return filepath.Join(found, configFileName), nil
	}

	return "", errors.Newf("no %s found in %v", configFileName, paths).
		Category(errors.CategoryConfiguration).
		Context("operation", "find-config-file").
		Build()
}
