package diagnostics

import (
	"fmt"
	"os"
	"time"

	"localdesk/internal/domain"
)

// Checker validates the recognizer binary and required filesystem paths.
type Checker struct {
	modelsDir      func() (string, error)
	resolveSidecar func() (path string, searched string, err error)
	status         func(requiredKeys []string) (domain.AudioAssetsStatus, error)
	mkdirAll       func(string, os.FileMode) error
	createTemp     func(string, string) (*os.File, error)
	remove         func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(
	modelsDir func() (string, error),
	resolveSidecar func() (string, string, error),
	status func([]string) (domain.AudioAssetsStatus, error),
) *Checker {
	return &Checker{
		modelsDir:      modelsDir,
		resolveSidecar: resolveSidecar,
		status:         status,
		mkdirAll:       os.MkdirAll,
		createTemp:     os.CreateTemp,
		remove:         os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkModelsDir(),
		c.checkRecognizerBinary(),
		c.checkModelReadiness(settings.RequiredModelKeys),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkModelsDir validates models directory existence and write access.
func (c *Checker) checkModelsDir() domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "models_dir",
		Name: "Models directory",
	}

	dir, err := c.modelsDir()
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot resolve models directory: %v", err)
		item.Hint = "Set a valid models directory in settings."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create models directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Models directory is not writable: %s", dir)
		item.Hint = "Model downloads need write access to this directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// checkRecognizerBinary verifies the speech recognizer ships beside the
// host executable.
func (c *Checker) checkRecognizerBinary() domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "recognizer_binary",
		Name: "Speech recognizer",
	}

	path, searched, err := c.resolveSidecar()
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot locate recognizer binary: %v", err)
		item.Hint = "Reinstall the application to restore the bundled recognizer."
		return item
	}
	if path == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Recognizer binary not found: %s", searched)
		item.Hint = "Reinstall the application to restore the bundled recognizer."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkModelReadiness summarizes whether the required speech models are
// fully installed.
func (c *Checker) checkModelReadiness(requiredKeys []string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model_readiness",
		Name: "Speech models",
	}

	status, err := c.status(requiredKeys)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot determine model status: %v", err)
		item.Hint = "Check the bundled model manifest and the models directory."
		return item
	}

	switch status.State {
	case domain.AssetsStateReady:
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("All %d model files present in %s", status.TotalFiles, status.ModelsDir)
	case domain.AssetsStateNotInstalled:
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%d of %d model files present", status.PresentFiles, status.TotalFiles)
		item.Hint = "Download the speech models in Settings > Audio."
	case domain.AssetsStateManifestIncomplete:
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Model manifest is incomplete: %s", status.Message)
		item.Hint = "Reinstall the application to restore the model manifest."
	default:
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Model status check failed: %s", status.Code)
		item.Hint = "Check the models directory and the bundled manifest."
	}
	return item
}

// NewCheckerForTests creates a checker with injectable OS dependencies.
func NewCheckerForTests(
	modelsDir func() (string, error),
	resolveSidecar func() (string, string, error),
	status func([]string) (domain.AudioAssetsStatus, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		modelsDir:      modelsDir,
		resolveSidecar: resolveSidecar,
		status:         status,
		mkdirAll:       mkdirAll,
		createTemp:     createTemp,
		remove:         remove,
	}
}
