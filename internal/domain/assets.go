package domain

// ModelManifest is the static declaration of required speech model files.
type ModelManifest struct {
	Models []ModelSpec `json:"models"`
}

// ModelSpec describes one model repository and its platform file set.
type ModelSpec struct {
	Key           string  `json:"key"`
	RepoDirname   string  `json:"repo_dirname"`
	ModelID       string  `json:"model_id"`
	SourcePageURL string  `json:"source_page_url"`
	MacOS         FileSet `json:"macos"`
}

// FileSet pins one revision of a model repository to concrete files.
type FileSet struct {
	RevisionSHA string      `json:"revision_sha"`
	Files       []ModelFile `json:"files"`
}

// ModelFile is one downloadable file with its integrity expectations.
// An empty SHA256 means checksum verification is skipped for that file.
type ModelFile struct {
	Path        string `json:"path"`
	DownloadURL string `json:"download_url"`
	SHA256      string `json:"sha256"`
	Size        int64  `json:"size"`
}

// ModelInstallStatus is the derived per-model install aggregate.
// It is computed fresh on every readiness query and never persisted.
type ModelInstallStatus struct {
	Key          string `json:"key"`
	RepoDirname  string `json:"repoDirname"`
	RevisionSHA  string `json:"revisionSha"`
	TotalFiles   int    `json:"totalFiles"`
	PresentFiles int    `json:"presentFiles"`
	TotalBytes   int64  `json:"totalBytes"`
	PresentBytes int64  `json:"presentBytes"`
}

// DownloadProgress reports global campaign progress in bytes.
type DownloadProgress struct {
	BytesDownloaded int64 `json:"bytesDownloaded"`
	BytesTotal      int64 `json:"bytesTotal"`
}

// AssetsState discriminates the closed set of readiness classifications.
type AssetsState string

const (
	AssetsStateManifestIncomplete AssetsState = "manifest_incomplete"
	AssetsStateNotInstalled       AssetsState = "not_installed"
	AssetsStateReady              AssetsState = "ready"
	AssetsStateError              AssetsState = "error"
)

// AudioAssetsStatus is the readiness classification for the required models.
// Only the fields belonging to the active State are populated.
type AudioAssetsStatus struct {
	State AssetsState `json:"state"`

	// manifest_incomplete
	Message string   `json:"message,omitempty"`
	Missing []string `json:"missing,omitempty"`

	// not_installed and ready
	ModelsDir    string               `json:"modelsDir,omitempty"`
	TotalFiles   int                  `json:"totalFiles,omitempty"`
	PresentFiles int                  `json:"presentFiles,omitempty"`
	TotalBytes   int64                `json:"totalBytes,omitempty"`
	PresentBytes int64                `json:"presentBytes,omitempty"`
	Models       []ModelInstallStatus `json:"models,omitempty"`

	// error
	Code    string         `json:"code,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}
