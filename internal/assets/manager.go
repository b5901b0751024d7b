package assets

import (
	"os"
	"path/filepath"
	"strings"

	"localdesk/internal/domain"
)

// Manager resolves on-disk locations for model assets under one models
// directory and answers readiness queries against the manifest.
type Manager struct {
	modelsDir    string
	loadManifest func() (domain.ModelManifest, error)
}

// NewManager creates a manager rooted at the configured models directory.
func NewManager(modelsDir string) *Manager {
	return &Manager{
		modelsDir:    modelsDir,
		loadManifest: LoadManifest,
	}
}

// NewManagerForTests creates a manager with an injectable manifest loader.
func NewManagerForTests(modelsDir string, loadManifest func() (domain.ModelManifest, error)) *Manager {
	return &Manager{
		modelsDir:    modelsDir,
		loadManifest: loadManifest,
	}
}

// ModelsDir returns the models root, creating it when absent.
func (m *Manager) ModelsDir() (string, error) {
	dir := strings.TrimSpace(m.modelsDir)
	if dir == "" {
		return "", newError(
			CodePathResolveFailed,
			"Models directory is not configured",
			nil,
		)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", newError(
			CodeIOFailed,
			"Failed to create models dir",
			map[string]any{"path": dir, "error": err.Error()},
		)
	}
	return dir, nil
}

// RepoDir returns the install directory for one model repo, creating it.
func (m *Manager) RepoDir(repoDirname string) (string, error) {
	if strings.TrimSpace(repoDirname) == "" {
		return "", newError(
			CodeInvalidArgs,
			"repo_dirname is required",
			map[string]any{"repo_dirname": repoDirname},
		)
	}
	if !isSafeRelativePath(repoDirname) {
		return "", newError(
			CodeInvalidArgs,
			"repo_dirname must be a relative path without '..'",
			map[string]any{"repo_dirname": repoDirname},
		)
	}

	root, err := m.ModelsDir()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(root, filepath.FromSlash(repoDirname))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", newError(
			CodeIOFailed,
			"Failed to create model repo dir",
			map[string]any{"path": dir, "error": err.Error()},
		)
	}
	return dir, nil
}

// isSafeRelativePath rejects absolute paths and parent-directory segments.
func isSafeRelativePath(path string) bool {
	if filepath.IsAbs(path) || strings.HasPrefix(filepath.ToSlash(path), "/") {
		return false
	}
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return false
		}
	}
	return true
}
