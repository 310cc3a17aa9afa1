package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
)

// EncryptionProfile is one stored key source. Material is the raw secret
// the artifact key derives from, usually sealed at rest.
type EncryptionProfile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Material  string    `json:"material"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// storeDocument is the on-disk shape of the store file
type storeDocument struct {
	Adapters []adapter.Config    `json:"adapters"`
	Profiles []EncryptionProfile `json:"encryptionProfiles"`
}

// Store persists adapter configurations and encryption profiles as one
// JSON document. Reads are lock-shared; every mutation rewrites the file
// atomically via temp-and-rename so a crash never leaves half a store.
type Store struct {
	path string

	mu  sync.RWMutex
	doc storeDocument
}

// OpenStore loads the store at path. A missing file opens as an empty
// store; it is created on first write.
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parsing store %s: %w", path, err)
	}
	return s, nil
}

// Adapter returns one adapter config by id
func (s *Store) Adapter(id string) (adapter.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.doc.Adapters {
		if c.ID == id {
			return cloneConfig(c), nil
		}
	}
	return adapter.Config{}, errors.NewConfigError(errors.ErrCodeUnknownConfig,
		fmt.Sprintf("no adapter configuration with id %q", id),
		"List configured adapters with 'dbvault adapters list' and check the id.")
}

// Adapters returns all configs of one kind, sorted by id. Kind "" means
// everything.
func (s *Store) Adapters(kind adapter.Kind) []adapter.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []adapter.Config
	for _, c := range s.doc.Adapters {
		if kind == "" || c.Kind == kind {
			out = append(out, cloneConfig(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SaveAdapter inserts or replaces an adapter config
func (s *Store) SaveAdapter(cfg adapter.Config) error {
	if err := validateAdapterConfig(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i, c := range s.doc.Adapters {
		if c.ID == cfg.ID {
			s.doc.Adapters[i] = cloneConfig(cfg)
			replaced = true
			break
		}
	}
	if !replaced {
		s.doc.Adapters = append(s.doc.Adapters, cloneConfig(cfg))
	}
	return s.persistLocked()
}

// DeleteAdapter removes an adapter config by id
func (s *Store) DeleteAdapter(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.doc.Adapters {
		if c.ID == id {
			s.doc.Adapters = append(s.doc.Adapters[:i], s.doc.Adapters[i+1:]...)
			return s.persistLocked()
		}
	}
	return errors.NewConfigError(errors.ErrCodeUnknownConfig,
		fmt.Sprintf("no adapter configuration with id %q", id), "")
}

// Profile returns one encryption profile by id
func (s *Store) Profile(id string) (EncryptionProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.doc.Profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return EncryptionProfile{}, errors.NewConfigError(errors.ErrCodeUnknownConfig,
		fmt.Sprintf("no encryption profile with id %q", id), "")
}

// Profiles returns every encryption profile, sorted by name then id
func (s *Store) Profiles() []EncryptionProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EncryptionProfile, len(s.doc.Profiles))
	copy(out, s.doc.Profiles)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SaveProfile inserts or replaces an encryption profile
func (s *Store) SaveProfile(p EncryptionProfile) error {
	if p.ID == "" {
		return errors.NewConfigError(errors.ErrCodeInvalidConfig,
			"encryption profile id must not be empty", "")
	}
	if p.Material == "" {
		return errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("encryption profile %q has no key material", p.ID),
			"Provide the passphrase or key material the profile derives its key from.")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i, existing := range s.doc.Profiles {
		if existing.ID == p.ID {
			s.doc.Profiles[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		s.doc.Profiles = append(s.doc.Profiles, p)
	}
	return s.persistLocked()
}

// DeleteProfile removes an encryption profile by id
func (s *Store) DeleteProfile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.doc.Profiles {
		if p.ID == id {
			s.doc.Profiles = append(s.doc.Profiles[:i], s.doc.Profiles[i+1:]...)
			return s.persistLocked()
		}
	}
	return errors.NewConfigError(errors.ErrCodeUnknownConfig,
		fmt.Sprintf("no encryption profile with id %q", id), "")
}

// persistLocked writes the document to disk. Caller holds s.mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".store-*.json")
	if err != nil {
		return fmt.Errorf("creating temp store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("syncing store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replacing store: %w", err)
	}
	return nil
}

func validateAdapterConfig(cfg adapter.Config) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return errors.NewConfigError(errors.ErrCodeInvalidConfig,
			"adapter configuration id must not be empty", "")
	}
	if cfg.Kind != adapter.KindStorage && cfg.Kind != adapter.KindDatabase {
		return errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("adapter configuration %q has invalid kind %q", cfg.ID, cfg.Kind),
			"Kind must be 'storage' or 'database'.")
	}
	if strings.TrimSpace(cfg.Adapter) == "" {
		return errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("adapter configuration %q names no implementation", cfg.ID),
			"Set the adapter field to an implementation id such as 'postgres' or 's3'.")
	}
	return nil
}

func cloneConfig(c adapter.Config) adapter.Config {
	params := make(map[string]string, len(c.Params))
	for k, v := range c.Params {
		params[k] = v
	}
	c.Params = params
	return c
}
