package simdext

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestName is the file written next to the installed artifacts.
const ManifestName = "simdext-manifest.json"

// Manifest lists the artifacts of one build for the runtime dispatcher.
type Manifest struct {
	Platform string          `json:"platform"`
	Variants []ManifestEntry `json:"variants"`
}

// ManifestEntry describes one installed variant. Requires is empty for the
// baseline; Artifact is relative to the manifest's directory.
type ManifestEntry struct {
	Name     string `json:"name"`
	Requires string `json:"requires,omitempty"`
	Rank     int    `json:"rank"`
	Artifact string `json:"artifact"`
}

// NewManifest builds a manifest from installed variant results.
func NewManifest(platform Platform, results []*VariantResult) *Manifest {
	m := &Manifest{Platform: platform.String()}
	for _, r := range results {
		if !r.Success {
			continue
		}
		entry := ManifestEntry{Name: r.Variant, Requires: r.Requires, Artifact: r.Installed}
		if ext, ok := LookupExtension(r.Requires); ok {
			entry.Rank = ext.Rank
		}
		m.Variants = append(m.Variants, entry)
	}
	return m
}

// WriteManifest writes m into dir and returns the file path.
func WriteManifest(dir string, m *Manifest) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil { //nolint:gosec // Manifest is public build metadata
		return "", err
	}
	return path, nil
}

// ReadManifest loads a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}
