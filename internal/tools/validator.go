// Package tools checks the external database client binaries that the
// engine adapters shell out to.
package tools

import (
	"fmt"
	"os/exec"
	"strings"

	"dbvault/internal/errors"
	"dbvault/internal/logger"
)

// ToolRequirement describes a tool that may be needed for an operation.
type ToolRequirement struct {
	Name     string // e.g. "pg_restore"
	Purpose  string // e.g. "PostgreSQL archive restore"
	Required bool   // false = informational only
}

// ToolStatus reports the availability of a single tool.
type ToolStatus struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Available bool   `json:"available"`
}

// Validator checks whether external CLI tools are present on the system.
type Validator struct {
	log logger.Logger

	// LookPathFunc can be overridden in tests to stub exec.LookPath.
	LookPathFunc func(file string) (string, error)
}

// NewValidator creates a Validator that logs through log.
func NewValidator(log logger.Logger) *Validator {
	return &Validator{
		log:          log,
		LookPathFunc: exec.LookPath,
	}
}

// ValidateTools checks every requirement and returns per-tool status.
// An error is returned only when at least one *required* tool is missing.
func (v *Validator) ValidateTools(reqs []ToolRequirement) ([]ToolStatus, error) {
	results := make([]ToolStatus, 0, len(reqs))
	var missing []string

	for _, req := range reqs {
		ts := ToolStatus{Name: req.Name}

		path, err := v.LookPathFunc(req.Name)
		if err != nil {
			ts.Available = false
			if req.Required {
				missing = append(missing, req.Name)
			}
			if v.log != nil {
				v.log.Debug("tool not found", "tool", req.Name, "purpose", req.Purpose)
			}
		} else {
			ts.Available = true
			ts.Path = path
			ts.Version = getToolVersion(req.Name)
			if v.log != nil {
				v.log.Debug("tool found", "tool", req.Name, "path", path, "version", ts.Version)
			}
		}

		results = append(results, ts)
	}

	if len(missing) > 0 {
		return results, fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
	}
	return results, nil
}

// RequireAll verifies that every required tool in reqs is installed and
// returns a structured error describing the first one that is not.
// Optional tools are ignored.
func (v *Validator) RequireAll(reqs []ToolRequirement) error {
	for _, req := range reqs {
		if !req.Required {
			continue
		}
		if _, err := v.LookPathFunc(req.Name); err != nil {
			return errors.ToolMissing(req.Name, req.Purpose)
		}
	}
	return nil
}

// --- Pre-defined requirement sets ---

// PostgresRestoreTools returns the tools needed to restore into PostgreSQL.
func PostgresRestoreTools() []ToolRequirement {
	return []ToolRequirement{
		{Name: "pg_restore", Purpose: "PostgreSQL archive restore", Required: true},
		{Name: "psql", Purpose: "PostgreSQL SQL script restore", Required: true},
		{Name: "createdb", Purpose: "PostgreSQL database creation", Required: false},
	}
}

// PostgresDumpTools returns the tools needed to dump a PostgreSQL database.
func PostgresDumpTools() []ToolRequirement {
	return []ToolRequirement{
		{Name: "pg_dump", Purpose: "PostgreSQL logical dump", Required: true},
		{Name: "psql", Purpose: "PostgreSQL CLI client", Required: false},
	}
}

// MySQLRestoreTools returns the tools needed to restore into MySQL or MariaDB.
func MySQLRestoreTools() []ToolRequirement {
	return []ToolRequirement{
		{Name: "mysql", Purpose: "MySQL/MariaDB SQL script restore", Required: true},
	}
}

// MySQLDumpTools returns the tools needed to dump a MySQL or MariaDB database.
func MySQLDumpTools() []ToolRequirement {
	return []ToolRequirement{
		{Name: "mysqldump", Purpose: "MySQL/MariaDB logical dump", Required: true},
		{Name: "mysql", Purpose: "MySQL/MariaDB CLI client", Required: false},
	}
}

// DiagnoseTools returns the informational sweep reported by connectivity
// diagnostics. When adapterID is empty every known tool is listed.
func DiagnoseTools(adapterID string) []ToolRequirement {
	pg := []ToolRequirement{
		{Name: "pg_restore", Purpose: "PostgreSQL archive restore", Required: false},
		{Name: "psql", Purpose: "PostgreSQL SQL script restore", Required: false},
		{Name: "pg_dump", Purpose: "PostgreSQL logical dump", Required: false},
		{Name: "createdb", Purpose: "PostgreSQL database creation", Required: false},
	}
	my := []ToolRequirement{
		{Name: "mysql", Purpose: "MySQL/MariaDB SQL script restore", Required: false},
		{Name: "mysqldump", Purpose: "MySQL/MariaDB logical dump", Required: false},
	}

	switch adapterID {
	case "postgres":
		return pg
	case "mysql", "mariadb":
		return my
	default:
		return append(pg, my...)
	}
}

// getToolVersion tries to get the version string of a CLI tool.
func getToolVersion(tool string) string {
	switch tool {
	case "pg_dump", "pg_dumpall", "pg_restore", "psql", "createdb",
		"mysqldump", "mysql":
	default:
		return ""
	}

	output, err := exec.Command(tool, "--version").Output()
	if err != nil {
		return ""
	}

	// Return first line trimmed
	line := strings.SplitN(string(output), "\n", 2)[0]
	return strings.TrimSpace(line)
}
