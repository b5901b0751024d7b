package config

import (
	"os"
	"path/filepath"

	"localdesk/internal/domain"
)

// RequiredModelKeys lists the models dictation cannot run without.
var RequiredModelKeys = []string{"asr_tdt_v3", "silero_vad_v6"}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		ModelsDir:         filepath.Join(homeDir, ".localdesk", "models"),
		InputDeviceID:     "default",
		RequiredModelKeys: append([]string(nil), RequiredModelKeys...),
	}
}
