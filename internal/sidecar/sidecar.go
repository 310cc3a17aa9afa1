// Package sidecar reads and writes the metadata document stored next to
// every backup artifact at "<artifact>.meta.json". The sidecar is the
// source of truth for what an artifact is: which engine produced it, how
// it is compressed, and the detached encryption parameters needed to
// decrypt it. When no sidecar exists the package falls back to
// conservative filename-based detection and never invents parameters it
// cannot know.
package sidecar

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"dbvault/internal/compression"
)

// Suffix is appended to an artifact path to form its sidecar path
const Suffix = ".meta.json"

// EncryptedSuffix marks encrypted artifacts on disk
const EncryptedSuffix = ".enc"

// Compression tokens as written into sidecars
const (
	CompressionNone   = "NONE"
	CompressionGzip   = "GZIP"
	CompressionBrotli = "BROTLI"
)

// Encryption captures the detached crypto parameters of an artifact
type Encryption struct {
	Enabled   bool   `json:"enabled"`
	ProfileID string `json:"profileId,omitempty"`
	IV        string `json:"iv,omitempty"`      // hex, 12 bytes
	AuthTag   string `json:"authTag,omitempty"` // hex, 16 bytes
}

// BackupMetadata is the sidecar document
type BackupMetadata struct {
	SourceType    string     `json:"sourceType"`
	SourceName    string     `json:"sourceName,omitempty"`
	JobName       string     `json:"jobName,omitempty"`
	EngineVersion string     `json:"engineVersion,omitempty"`
	EngineEdition string     `json:"engineEdition,omitempty"`
	Databases     []string   `json:"databases,omitempty"`
	Compression   string     `json:"compression"`
	Encryption    Encryption `json:"encryption"`
	Locked        bool       `json:"locked,omitempty"`
	CreatedAt     time.Time  `json:"createdAt,omitempty"`

	// Derived indicates the document was reconstructed from the
	// filename because no sidecar existed. Never persisted.
	Derived bool `json:"-"`
}

// PathFor returns the sidecar path for an artifact path
func PathFor(artifactPath string) string {
	return artifactPath + Suffix
}

// IsSidecar reports whether a storage entry is a sidecar file
func IsSidecar(name string) bool {
	return strings.HasSuffix(name, Suffix)
}

// Parse decodes a sidecar document from raw bytes
func Parse(data []byte) (*BackupMetadata, error) {
	var m BackupMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing sidecar metadata: %w", err)
	}
	return &m, nil
}

// Load reads the sidecar for an artifact on the local filesystem
func Load(artifactPath string) (*BackupMetadata, error) {
	data, err := os.ReadFile(PathFor(artifactPath))
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Save writes the sidecar next to an artifact on the local filesystem
func (m *BackupMetadata) Save(artifactPath string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sidecar metadata: %w", err)
	}
	if err := os.WriteFile(PathFor(artifactPath), data, 0644); err != nil {
		return fmt.Errorf("writing sidecar metadata: %w", err)
	}
	return nil
}

// CompressionAlgorithm maps the sidecar token to a codec
func (m *BackupMetadata) CompressionAlgorithm() (compression.Algorithm, error) {
	return compression.ParseAlgorithm(m.Compression)
}

// Encrypted reports whether the artifact needs decryption
func (m *BackupMetadata) Encrypted() bool {
	return m.Encryption.Enabled
}

// DecryptionParams decodes the detached IV and auth tag. The error names
// every missing or malformed field so the operator sees what the sidecar
// lacks.
func (m *BackupMetadata) DecryptionParams() (iv, tag []byte, err error) {
	var missing []string

	if m.Encryption.IV == "" {
		missing = append(missing, "iv")
	} else if iv, err = hex.DecodeString(m.Encryption.IV); err != nil {
		missing = append(missing, "iv (malformed hex)")
	}

	if m.Encryption.AuthTag == "" {
		missing = append(missing, "authTag")
	} else if tag, err = hex.DecodeString(m.Encryption.AuthTag); err != nil {
		missing = append(missing, "authTag (malformed hex)")
	}

	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("sidecar encryption block incomplete: %s", strings.Join(missing, ", "))
	}
	return iv, tag, nil
}

// FromFilename reconstructs what can be known about an artifact from its
// name alone. Compression comes from the extension chain and encryption
// from the .enc suffix. The engine, version, and crypto parameters stay
// unknown: inventing an IV or tag here would turn a missing sidecar into
// silent corruption.
func FromFilename(artifactPath string) *BackupMetadata {
	m := &BackupMetadata{
		Compression: CompressionNone,
		Derived:     true,
	}

	name := artifactPath
	if strings.HasSuffix(strings.ToLower(name), EncryptedSuffix) {
		m.Encryption.Enabled = true
		name = name[:len(name)-len(EncryptedSuffix)]
	}

	switch compression.DetectAlgorithm(name) {
	case compression.AlgorithmGzip:
		m.Compression = CompressionGzip
	case compression.AlgorithmBrotli:
		m.Compression = CompressionBrotli
	case compression.AlgorithmZstd:
		m.Compression = "ZSTD"
	case compression.AlgorithmLz4:
		m.Compression = "LZ4"
	}

	return m
}
