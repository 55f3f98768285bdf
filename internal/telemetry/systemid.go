package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiohub/audiohub-go/internal/privacy"
)

const systemIDFile = ".system_id"

// LoadOrCreateSystemID returns the system ID stored in configDir, creating
// and persisting a fresh one when missing or malformed. The ID ties
// telemetry events from one install together without identifying the host.
func LoadOrCreateSystemID(configDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory for system ID: %w", err)
	}

	idPath := filepath.Join(configDir, systemIDFile)
	if data, err := os.ReadFile(idPath); err == nil {
		id := strings.TrimSpace(string(data))
		if privacy.IsValidSystemID(id) {
			return id, nil
		}
	}

	id, err := privacy.GenerateSystemID()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(idPath, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("persisting system ID: %w", err)
	}

	return id, nil
}
