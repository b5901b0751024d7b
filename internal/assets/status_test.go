package assets

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"localdesk/internal/domain"
)

// testManifest builds a two-model manifest rooted in URLs served by tests.
func testManifest(baseURL string) domain.ModelManifest {
	return domain.ModelManifest{
		Models: []domain.ModelSpec{
			{
				Key:           "asr_tdt_v3",
				RepoDirname:   "parakeet",
				ModelID:       "mlx-community/parakeet-tdt-0.6b-v3",
				SourcePageURL: "https://example.com/parakeet",
				MacOS: domain.FileSet{
					RevisionSHA: "aaaa1111",
					Files: []domain.ModelFile{
						{Path: "model.bin", DownloadURL: baseURL + "/model.bin", SHA256: "", Size: 16},
					},
				},
			},
			{
				Key:           "silero_vad_v6",
				RepoDirname:   "silero",
				ModelID:       "snakers4/silero-vad",
				SourcePageURL: "https://example.com/silero",
				MacOS: domain.FileSet{
					RevisionSHA: "bbbb2222",
					Files: []domain.ModelFile{
						{Path: "vad.onnx", DownloadURL: baseURL + "/vad.onnx", SHA256: "", Size: 8},
					},
				},
			},
		},
	}
}

// managerFor builds a manager over a temp models dir and a fixed manifest.
func managerFor(t *testing.T, manifest domain.ModelManifest) *Manager {
	t.Helper()
	return NewManagerForTests(t.TempDir(), func() (domain.ModelManifest, error) {
		return manifest, nil
	})
}

// mustWriteFile writes content creating parent directories.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// TestStatusEmptyRequiredKeys checks synchronous settings_invalid failure.
func TestStatusEmptyRequiredKeys(t *testing.T) {
	m := managerFor(t, testManifest("http://unused"))

	_, err := m.Status(nil)
	var assetErr *Error
	if !errors.As(err, &assetErr) || assetErr.Code != CodeSettingsInvalid {
		t.Fatalf("err = %v, want settings_invalid", err)
	}
}

// TestStatusEmptyManifest checks the manifest-incomplete classification.
func TestStatusEmptyManifest(t *testing.T) {
	m := managerFor(t, domain.ModelManifest{})

	status, err := m.Status([]string{"asr_tdt_v3"})
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != domain.AssetsStateManifestIncomplete {
		t.Fatalf("state = %s, want manifest_incomplete", status.State)
	}
	if len(status.Missing) != 1 || status.Missing[0] != "models" {
		t.Fatalf("missing = %v", status.Missing)
	}
}

// TestStatusUnknownRequiredKey checks the hard manifest_invalid failure.
func TestStatusUnknownRequiredKey(t *testing.T) {
	m := managerFor(t, testManifest("http://unused"))

	_, err := m.Status([]string{"asr_tdt_v3", "missing_model"})
	var assetErr *Error
	if !errors.As(err, &assetErr) || assetErr.Code != CodeManifestInvalid {
		t.Fatalf("err = %v, want manifest_invalid", err)
	}
	if assetErr.Context["model_key"] != "missing_model" {
		t.Fatalf("context = %v", assetErr.Context)
	}
}

// TestStatusAccumulatesMissingFields checks dot-path accumulation without
// short-circuiting on the first omission.
func TestStatusAccumulatesMissingFields(t *testing.T) {
	manifest := testManifest("http://unused")
	manifest.Models[0].ModelID = ""
	manifest.Models[0].MacOS.RevisionSHA = ""
	manifest.Models[1].MacOS.Files = nil
	m := managerFor(t, manifest)

	status, err := m.Status([]string{"asr_tdt_v3", "silero_vad_v6"})
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != domain.AssetsStateManifestIncomplete {
		t.Fatalf("state = %s, want manifest_incomplete", status.State)
	}

	want := []string{
		"models[0].model_id",
		"models[0].macos.revision_sha",
		"models[1].macos.files",
	}
	if len(status.Missing) != len(want) {
		t.Fatalf("missing = %v, want %v", status.Missing, want)
	}
	for i, field := range want {
		if status.Missing[i] != field {
			t.Fatalf("missing[%d] = %q, want %q", i, status.Missing[i], field)
		}
	}
}

// TestStatusEmptyFileListIsManifestIncomplete covers the empty-files case
// for a required model.
func TestStatusEmptyFileListIsManifestIncomplete(t *testing.T) {
	manifest := testManifest("http://unused")
	manifest.Models[0].MacOS.Files = nil
	m := managerFor(t, manifest)

	status, err := m.Status([]string{"asr_tdt_v3"})
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != domain.AssetsStateManifestIncomplete {
		t.Fatalf("state = %s, want manifest_incomplete", status.State)
	}
}

// TestStatusRejectsTraversalPaths checks the traversal guard fails hard
// before any filesystem access outside the models directory.
func TestStatusRejectsTraversalPaths(t *testing.T) {
	for _, path := range []string{"../../etc/passwd", "/etc/passwd", "a/../../b"} {
		manifest := testManifest("http://unused")
		manifest.Models[0].MacOS.Files[0].Path = path
		m := managerFor(t, manifest)

		_, err := m.Status([]string{"asr_tdt_v3"})
		var assetErr *Error
		if !errors.As(err, &assetErr) || assetErr.Code != CodeManifestInvalid {
			t.Fatalf("path %q: err = %v, want manifest_invalid", path, err)
		}
	}
}

// TestStatusNotInstalledItemizesModels checks per-model breakdown counts.
func TestStatusNotInstalledItemizesModels(t *testing.T) {
	manifest := testManifest("http://unused")
	dir := t.TempDir()
	m := NewManagerForTests(dir, func() (domain.ModelManifest, error) {
		return manifest, nil
	})

	// First model present, second missing.
	mustWriteFile(t, filepath.Join(dir, "parakeet", "model.bin"), strings.Repeat("x", 16))

	status, err := m.Status([]string{"asr_tdt_v3", "silero_vad_v6"})
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != domain.AssetsStateNotInstalled {
		t.Fatalf("state = %s, want not_installed", status.State)
	}
	if status.TotalFiles != 2 || status.PresentFiles != 1 {
		t.Fatalf("files = %d/%d, want 1/2", status.PresentFiles, status.TotalFiles)
	}
	if status.PresentBytes != 16 || status.TotalBytes != 24 {
		t.Fatalf("bytes = %d/%d", status.PresentBytes, status.TotalBytes)
	}
	if len(status.Models) != 2 {
		t.Fatalf("models = %d, want 2", len(status.Models))
	}
	if status.Models[0].PresentFiles != 1 || status.Models[1].PresentFiles != 0 {
		t.Fatalf("per-model breakdown = %+v", status.Models)
	}
}

// TestStatusSizeMismatchCountsAsAbsent checks a wrong-size file is absent
// even though it exists on disk.
func TestStatusSizeMismatchCountsAsAbsent(t *testing.T) {
	manifest := testManifest("http://unused")
	dir := t.TempDir()
	m := NewManagerForTests(dir, func() (domain.ModelManifest, error) {
		return manifest, nil
	})

	mustWriteFile(t, filepath.Join(dir, "parakeet", "model.bin"), "too short")
	mustWriteFile(t, filepath.Join(dir, "silero", "vad.onnx"), strings.Repeat("y", 8))

	status, err := m.Status([]string{"asr_tdt_v3", "silero_vad_v6"})
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != domain.AssetsStateNotInstalled {
		t.Fatalf("state = %s, want not_installed", status.State)
	}
	if status.PresentFiles != 1 {
		t.Fatalf("present files = %d, want 1", status.PresentFiles)
	}
}

// TestStatusReady checks the summary-only ready classification.
func TestStatusReady(t *testing.T) {
	manifest := testManifest("http://unused")
	dir := t.TempDir()
	m := NewManagerForTests(dir, func() (domain.ModelManifest, error) {
		return manifest, nil
	})

	mustWriteFile(t, filepath.Join(dir, "parakeet", "model.bin"), strings.Repeat("x", 16))
	mustWriteFile(t, filepath.Join(dir, "silero", "vad.onnx"), strings.Repeat("y", 8))

	status, err := m.Status([]string{"asr_tdt_v3", "silero_vad_v6"})
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != domain.AssetsStateReady {
		t.Fatalf("state = %s, want ready", status.State)
	}
	if status.TotalFiles != 2 || status.TotalBytes != 24 {
		t.Fatalf("summary = %d files / %d bytes", status.TotalFiles, status.TotalBytes)
	}
}

// TestLoadManifestEmbedded checks the bundled manifest parses and carries
// the required model keys.
func TestLoadManifestEmbedded(t *testing.T) {
	manifest, err := LoadManifest()
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if len(manifest.Models) == 0 {
		t.Fatal("expected bundled models")
	}

	keys := map[string]bool{}
	for _, spec := range manifest.Models {
		keys[spec.Key] = true
	}
	for _, key := range []string{"asr_tdt_v3", "silero_vad_v6"} {
		if !keys[key] {
			t.Fatalf("bundled manifest missing key %q", key)
		}
	}
}

// TestRepoDirRejectsTraversal checks invalid repo dirnames fail hard.
func TestRepoDirRejectsTraversal(t *testing.T) {
	m := managerFor(t, testManifest("http://unused"))

	for _, dirname := range []string{"", "../up", "/abs"} {
		_, err := m.RepoDir(dirname)
		var assetErr *Error
		if !errors.As(err, &assetErr) || assetErr.Code != CodeInvalidArgs {
			t.Fatalf("dirname %q: err = %v, want invalid_args", dirname, err)
		}
	}
}
