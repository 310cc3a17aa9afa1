// Package adapter defines the capability contracts between the restore
// orchestrator and the pluggable storage and database implementations.
package adapter

import (
	"context"
	"time"
)

// Kind distinguishes the two adapter families
type Kind string

const (
	KindStorage  Kind = "storage"
	KindDatabase Kind = "database"
)

// Well-known parameter keys shared between the orchestrator and adapters.
// Overrides fold into these so adapters read one map instead of growing
// per-call arguments.
const (
	ParamTargetDatabase     = "targetDatabase"
	ParamSourceDatabase     = "sourceDatabase"
	ParamPrivilegedUser     = "privilegedUser"
	ParamPrivilegedPassword = "privilegedPassword"
	ParamServerVersion      = "serverVersion"
)

// Config is one configured adapter instance with its connection
// parameters already unsealed. Treated as a value: callers hand adapters
// a copy, adapters never mutate it.
type Config struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	Adapter     string            `json:"adapter"` // implementation id, e.g. "postgres", "s3"
	DisplayName string            `json:"displayName,omitempty"`
	Params      map[string]string `json:"params"`
}

// Param returns a connection parameter or "" when unset
func (c Config) Param(key string) string {
	return c.Params[key]
}

// ParamOr returns a connection parameter or def when unset or empty
func (c Config) ParamOr(key, def string) string {
	if v, ok := c.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// WithParams returns a copy of the config with extra params merged in.
// The original map is left untouched.
func (c Config) WithParams(extra map[string]string) Config {
	merged := make(map[string]string, len(c.Params)+len(extra))
	for k, v := range c.Params {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	c.Params = merged
	return c
}

// FileInfo describes one entry on a storage backend
type FileInfo struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	IsDir   bool      `json:"isDir"`
}

// ProgressFunc reports transferred bytes against a total.
// total is negative when the backend cannot determine it up front.
type ProgressFunc func(done, total int64)

// LogFunc relays one line of engine or tool output
type LogFunc func(line string)

// TestResult is the outcome of an adapter connectivity probe
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Version string `json:"version,omitempty"` // database adapters: detected server version
	Edition string `json:"edition,omitempty"` // database adapters: detected edition, "" when not applicable
}

// Storage is the mandatory contract every storage backend implements
type Storage interface {
	// List returns the entries under dir, non-recursive
	List(ctx context.Context, cfg Config, dir string) ([]FileInfo, error)

	// Download copies a remote object to a local path
	Download(ctx context.Context, cfg Config, remotePath, localPath string, onProgress ProgressFunc) error

	// Upload copies a local file to a remote path
	Upload(ctx context.Context, cfg Config, localPath, remotePath string, onProgress ProgressFunc) error

	// Delete removes a remote object. Deleting an object that does not
	// exist succeeds: delete means "ensure absent".
	Delete(ctx context.Context, cfg Config, remotePath string) error

	// Test probes connectivity with the given config
	Test(ctx context.Context, cfg Config) TestResult
}

// SidecarReader is an optional storage capability: fetch a small metadata
// object into memory without staging it on disk. Backends that can serve
// ranged or whole-object reads cheaply implement it; the orchestrator
// checks for it with a single type assertion and falls back to a regular
// download otherwise.
type SidecarReader interface {
	ReadSidecar(ctx context.Context, cfg Config, remotePath string) ([]byte, error)
}

// Database is the mandatory contract every database engine implements
type Database interface {
	// Descriptor reports the static properties of this implementation
	Descriptor() Descriptor

	// Dump writes a backup of the configured database to destPath
	Dump(ctx context.Context, cfg Config, destPath string, onLog LogFunc, onProgress ProgressFunc) error

	// Restore loads the artifact at sourcePath into the configured
	// database. Tool output lines stream through onLog; a returned error
	// carries the engine's own message so operators see what the engine
	// reported.
	Restore(ctx context.Context, cfg Config, sourcePath string, onLog LogFunc, onProgress ProgressFunc) error

	// Test probes the target and reports detected version/edition
	Test(ctx context.Context, cfg Config) TestResult
}

// RestorePreparer is an optional database capability: verify up front
// that the configured credentials can create or overwrite the named
// databases. Must fail with a descriptive error on insufficient
// privilege and must not mutate anything.
type RestorePreparer interface {
	PrepareRestore(ctx context.Context, cfg Config, databases []string) error
}

// Descriptor reports static properties of a database adapter implementation
type Descriptor struct {
	ID               string
	DisplayName      string
	EditionSensitive bool // edition must match between backup and target
}

// Overrides carries the per-restore adjustments. The orchestrator builds
// one Overrides value during preflight and applies it exactly once;
// nothing downstream patches configs ad hoc.
type Overrides struct {
	TargetDatabase string            `json:"targetDatabase,omitempty"`
	Mapping        []DatabaseMapping `json:"mapping,omitempty"`
	PrivilegedUser string            `json:"privilegedUser,omitempty"`
	PrivilegedPass string            `json:"privilegedPassword,omitempty"`
	ServerVersion  string            `json:"serverVersion,omitempty"`
}

// DatabaseMapping renames or deselects one database of a composite artifact
type DatabaseMapping struct {
	OriginalName string `json:"originalName"`
	TargetName   string `json:"targetName,omitempty"`
	Selected     bool   `json:"selected"`
}

// Apply folds the overrides into a copy of cfg. The mapping is not a
// connection parameter; the archive handler consumes it directly.
func (o Overrides) Apply(cfg Config) Config {
	extra := make(map[string]string, 4)
	if o.TargetDatabase != "" {
		extra[ParamTargetDatabase] = o.TargetDatabase
	}
	if o.PrivilegedUser != "" {
		extra[ParamPrivilegedUser] = o.PrivilegedUser
		extra[ParamPrivilegedPassword] = o.PrivilegedPass
	}
	if o.ServerVersion != "" {
		extra[ParamServerVersion] = o.ServerVersion
	}
	if len(extra) == 0 {
		return cfg
	}
	return cfg.WithParams(extra)
}

// Resolve returns the target name and selection for one database of a
// composite artifact. Databases without an explicit mapping entry are
// restored under their original name.
func (o Overrides) Resolve(originalName string) (target string, selected bool) {
	for _, m := range o.Mapping {
		if m.OriginalName == originalName {
			target = m.TargetName
			if target == "" {
				target = originalName
			}
			return target, m.Selected
		}
	}
	return originalName, true
}
