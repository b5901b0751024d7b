package assets

import (
	_ "embed"
	"encoding/json"

	"localdesk/internal/domain"
)

//go:embed model_manifest.json
var embeddedManifest []byte

// LoadManifest parses the manifest bundled into the binary at build time.
// It is re-read on every query so readiness is never computed from a
// cached or persisted flag.
func LoadManifest() (domain.ModelManifest, error) {
	var manifest domain.ModelManifest
	if err := json.Unmarshal(embeddedManifest, &manifest); err != nil {
		return domain.ModelManifest{}, newError(
			CodeManifestInvalid,
			"Failed to parse model manifest JSON",
			map[string]any{"error": err.Error()},
		)
	}
	return manifest, nil
}
