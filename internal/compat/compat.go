// Package compat decides whether a backup artifact may be restored onto
// a given target server. The guard is a pure decision over data the
// caller already holds: sidecar metadata on one side, the probed target
// on the other. It never touches the network, so it can run before any
// byte of the artifact is downloaded.
//
// Checks run in a fixed order and stop at the first failure:
//
//  1. vendor: the engine family must match exactly
//  2. version: restoring onto an older engine than produced the backup
//     is rejected
//  3. edition: only for adapters that declare edition sensitivity
package compat

import (
	"fmt"
	"strings"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
	"dbvault/internal/sidecar"
)

// Target describes the server a restore would write to. Version and
// Edition come from a live probe and may be empty when the probe could
// not determine them.
type Target struct {
	Vendor  string
	Version string
	Edition string
}

// Check records the outcome of a single compatibility rule
type Check struct {
	Name   string
	Detail string
	Passed bool
}

// Result collects every rule that ran plus warnings for rules that had
// to be skipped. A failed rule is the last entry in Checks.
type Result struct {
	Checks   []Check
	Warnings []string
}

func (r *Result) pass(name, detail string) {
	r.Checks = append(r.Checks, Check{Name: name, Detail: detail, Passed: true})
}

func (r *Result) fail(name, detail string) {
	r.Checks = append(r.Checks, Check{Name: name, Detail: detail, Passed: false})
}

func (r *Result) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Evaluate runs the compatibility rules. The returned error, when not
// nil, is the typed preflight failure of the first rule that rejected;
// the Result is always populated with what ran.
func Evaluate(meta *sidecar.BackupMetadata, target Target, desc adapter.Descriptor) (*Result, error) {
	r := &Result{}

	if err := r.checkVendor(meta, target); err != nil {
		return r, err
	}
	if err := r.checkVersion(meta, target); err != nil {
		return r, err
	}
	if err := r.checkEdition(meta, target, desc); err != nil {
		return r, err
	}

	return r, nil
}

// --- vendor ---

// vendorAliases folds the spellings seen in the wild onto one family
// name per engine. Families themselves never cross-match: a MariaDB dump
// does not restore onto MySQL even though the tools overlap.
var vendorAliases = map[string]string{
	"postgres":   "postgresql",
	"postgresql": "postgresql",
	"pgsql":      "postgresql",
	"mysql":      "mysql",
	"mariadb":    "mariadb",
	"mssql":      "mssql",
	"sqlserver":  "mssql",
	"mongo":      "mongodb",
	"mongodb":    "mongodb",
	"sqlite":     "sqlite",
}

// NormalizeVendor maps an engine spelling to its family name. Unknown
// spellings pass through lowercased so exact matches still work.
func NormalizeVendor(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if family, ok := vendorAliases[s]; ok {
		return family
	}
	return s
}

func (r *Result) checkVendor(meta *sidecar.BackupMetadata, target Target) error {
	backupVendor := NormalizeVendor(meta.SourceType)
	targetVendor := NormalizeVendor(target.Vendor)

	if backupVendor == "" {
		// Derived metadata carries no engine. Vendor safety then rests
		// on the operator having picked the right target.
		r.warn("backup metadata does not record the source engine; vendor check skipped")
		return nil
	}

	if backupVendor != targetVendor {
		r.fail("vendor", fmt.Sprintf("backup is %s, target is %s", backupVendor, targetVendor))
		return errors.VendorMismatch(meta.SourceType, target.Vendor)
	}

	r.pass("vendor", backupVendor)
	return nil
}

// --- version ---

func (r *Result) checkVersion(meta *sidecar.BackupMetadata, target Target) error {
	backupVer := ParseVersion(meta.EngineVersion)
	targetVer := ParseVersion(target.Version)

	if backupVer == nil || targetVer == nil {
		r.warn("engine versions not comparable (backup %q, target %q); version check skipped",
			meta.EngineVersion, target.Version)
		return nil
	}

	// Dumps only move forward: a newer engine's dump may use syntax or
	// catalog features the older engine cannot load.
	if backupVer.Compare(targetVer) > 0 {
		r.fail("version", fmt.Sprintf("backup from %s, target runs %s", backupVer, targetVer))
		return errors.VersionDowngrade(meta.EngineVersion, target.Version)
	}

	r.pass("version", fmt.Sprintf("%s -> %s", backupVer, targetVer))
	return nil
}

// --- edition ---

// checkEdition requires the editions to match exactly, case-folded.
// Edition-sensitive engines bake edition features into the backup
// format in both directions (an express dump may lack metadata an
// enterprise restore assumes), so no ordering between editions is safe
// and equality is the only accepted relation.
func (r *Result) checkEdition(meta *sidecar.BackupMetadata, target Target, desc adapter.Descriptor) error {
	if !desc.EditionSensitive {
		return nil
	}

	backupEd := strings.ToLower(strings.TrimSpace(meta.EngineEdition))
	targetEd := strings.ToLower(strings.TrimSpace(target.Edition))

	if backupEd == "" || targetEd == "" {
		r.warn("editions not comparable (backup %q, target %q); edition check skipped",
			meta.EngineEdition, target.Edition)
		return nil
	}

	if backupEd != targetEd {
		r.fail("edition", fmt.Sprintf("backup from %s, target is %s", backupEd, targetEd))
		return errors.EditionMismatch(meta.EngineEdition, target.Edition)
	}

	r.pass("edition", backupEd)
	return nil
}
