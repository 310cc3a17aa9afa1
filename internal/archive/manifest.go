// Package archive restores composite artifacts: a tar.gz holding one
// sub-archive per database plus a manifest describing them. The handler
// extracts into scratch, resolves which databases the caller selected
// and under which names they land, probes restore permission up front,
// and then feeds each selected sub-archive to the database adapter.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestName is the index file inside every composite artifact
const ManifestName = "manifest.json"

// Entry describes one database inside a composite artifact
type Entry struct {
	Name            string `json:"name"`
	ArchiveFilename string `json:"archiveFilename"`
}

// Manifest enumerates a composite artifact's contents
type Manifest struct {
	Databases []Entry `json:"databases"`
}

// ParseManifest decodes and validates a manifest document
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if len(m.Databases) == 0 {
		return nil, fmt.Errorf("manifest lists no databases")
	}
	for i, e := range m.Databases {
		if e.Name == "" {
			return nil, fmt.Errorf("manifest entry %d has no database name", i)
		}
		if e.ArchiveFilename == "" {
			return nil, fmt.Errorf("manifest entry %q has no archive filename", e.Name)
		}
		if filepath.Base(e.ArchiveFilename) != e.ArchiveFilename {
			return nil, fmt.Errorf("manifest entry %q names a path outside the archive: %s",
				e.Name, e.ArchiveFilename)
		}
	}
	return &m, nil
}

// LoadManifest reads the manifest from an extracted composite directory
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("composite artifact has no %s", ManifestName)
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return ParseManifest(data)
}

// Write serializes the manifest into a directory, for the packing side
func (m *Manifest) Write(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}
