package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"localdesk/internal/domain"
)

// Status classifies install readiness for the given required model keys.
// The classification is computed fresh from the manifest and the disk on
// every call. A file counts as present iff a regular file exists at its
// resolved path and its byte length equals the manifest-declared size;
// checksums are enforced only at download time.
func (m *Manager) Status(requiredKeys []string) (domain.AudioAssetsStatus, error) {
	if len(requiredKeys) == 0 {
		return domain.AudioAssetsStatus{}, newError(
			CodeSettingsInvalid,
			"No required models configured",
			nil,
		)
	}

	manifest, err := m.loadManifest()
	if err != nil {
		return domain.AudioAssetsStatus{}, err
	}
	if len(manifest.Models) == 0 {
		return domain.AudioAssetsStatus{
			State:   domain.AssetsStateManifestIncomplete,
			Message: "Model manifest has no models",
			Missing: []string{"models"},
		}, nil
	}

	required := make(map[string]bool, len(requiredKeys))
	for _, key := range requiredKeys {
		required[key] = true
	}

	// Every required key must exist in the manifest; a missing key is a
	// configuration error, not a recoverable install state.
	available := make([]string, 0, len(manifest.Models))
	for _, spec := range manifest.Models {
		available = append(available, spec.Key)
	}
	for _, key := range requiredKeys {
		if !containsKey(manifest.Models, key) {
			return domain.AudioAssetsStatus{}, newError(
				CodeManifestInvalid,
				"Required model key does not exist in manifest",
				map[string]any{"model_key": key, "available_keys": available},
			)
		}
	}

	if missing := missingManifestFields(manifest.Models, required); len(missing) > 0 {
		return domain.AudioAssetsStatus{
			State:   domain.AssetsStateManifestIncomplete,
			Message: "Model manifest is missing required fields to determine readiness",
			Missing: missing,
		}, nil
	}

	root, err := m.ModelsDir()
	if err != nil {
		return domain.AudioAssetsStatus{}, err
	}

	var (
		models       []domain.ModelInstallStatus
		totalFiles   int
		presentFiles int
		totalBytes   int64
		presentBytes int64
	)

	for _, spec := range manifest.Models {
		if !required[spec.Key] {
			continue
		}

		repoDir, err := m.RepoDir(spec.RepoDirname)
		if err != nil {
			return domain.AudioAssetsStatus{}, err
		}

		status := domain.ModelInstallStatus{
			Key:         spec.Key,
			RepoDirname: spec.RepoDirname,
			RevisionSHA: spec.MacOS.RevisionSHA,
		}

		for _, file := range spec.MacOS.Files {
			status.TotalFiles++
			status.TotalBytes += file.Size

			if !isSafeRelativePath(file.Path) {
				return domain.AudioAssetsStatus{}, newError(
					CodeManifestInvalid,
					"Manifest contains an invalid relative path",
					map[string]any{"path": file.Path},
				)
			}

			if filePresent(filepath.Join(repoDir, filepath.FromSlash(file.Path)), file.Size) {
				status.PresentFiles++
				status.PresentBytes += file.Size
			}
		}

		totalFiles += status.TotalFiles
		presentFiles += status.PresentFiles
		totalBytes += status.TotalBytes
		presentBytes += status.PresentBytes
		models = append(models, status)
	}

	if presentFiles != totalFiles {
		return domain.AudioAssetsStatus{
			State:        domain.AssetsStateNotInstalled,
			ModelsDir:    root,
			TotalFiles:   totalFiles,
			PresentFiles: presentFiles,
			TotalBytes:   totalBytes,
			PresentBytes: presentBytes,
			Models:       models,
		}, nil
	}

	return domain.AudioAssetsStatus{
		State:      domain.AssetsStateReady,
		ModelsDir:  root,
		TotalFiles: totalFiles,
		TotalBytes: totalBytes,
		Models:     models,
	}, nil
}

// containsKey reports whether the manifest declares the given model key.
func containsKey(models []domain.ModelSpec, key string) bool {
	for _, spec := range models {
		if spec.Key == key {
			return true
		}
	}
	return false
}

// missingManifestFields accumulates dot-path names of empty required fields
// across all required models instead of short-circuiting on the first.
func missingManifestFields(models []domain.ModelSpec, required map[string]bool) []string {
	var missing []string
	for idx, spec := range models {
		if !required[spec.Key] {
			continue
		}
		if strings.TrimSpace(spec.Key) == "" {
			missing = append(missing, fmt.Sprintf("models[%d].key", idx))
		}
		if strings.TrimSpace(spec.RepoDirname) == "" {
			missing = append(missing, fmt.Sprintf("models[%d].repo_dirname", idx))
		}
		if strings.TrimSpace(spec.ModelID) == "" {
			missing = append(missing, fmt.Sprintf("models[%d].model_id", idx))
		}
		if strings.TrimSpace(spec.SourcePageURL) == "" {
			missing = append(missing, fmt.Sprintf("models[%d].source_page_url", idx))
		}
		if strings.TrimSpace(spec.MacOS.RevisionSHA) == "" {
			missing = append(missing, fmt.Sprintf("models[%d].macos.revision_sha", idx))
		}
		if len(spec.MacOS.Files) == 0 {
			missing = append(missing, fmt.Sprintf("models[%d].macos.files", idx))
		}
	}
	return missing
}

// filePresent applies the size-only presence invariant.
func filePresent(path string, size int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() == size
}
