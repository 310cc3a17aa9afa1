package compat

import (
	"testing"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
	"dbvault/internal/sidecar"
)

func meta(sourceType, version, edition string) *sidecar.BackupMetadata {
	return &sidecar.BackupMetadata{
		SourceType:    sourceType,
		EngineVersion: version,
		EngineEdition: edition,
	}
}

var plainDesc = adapter.Descriptor{ID: "postgresql", DisplayName: "PostgreSQL"}
var editionDesc = adapter.Descriptor{ID: "mssql", DisplayName: "SQL Server", EditionSensitive: true}

// ---------------------------------------------------------------------------
// Vendor check
// ---------------------------------------------------------------------------

func TestEvaluateVendorMismatch(t *testing.T) {
	result, err := Evaluate(
		meta("mysql", "8.0.36", ""),
		Target{Vendor: "postgresql", Version: "16.2"},
		plainDesc,
	)
	if err == nil {
		t.Fatal("expected rejection for mysql backup on postgresql target")
	}
	if errors.GetCode(err) != errors.ErrCodeVendorMismatch {
		t.Errorf("error code = %v, want %v", errors.GetCode(err), errors.ErrCodeVendorMismatch)
	}

	// Nothing past the vendor rule may run once it fails.
	if len(result.Checks) != 1 {
		t.Errorf("checks ran = %d, want 1 (vendor only)", len(result.Checks))
	}
	if result.Checks[0].Name != "vendor" || result.Checks[0].Passed {
		t.Errorf("first check = %+v, want failed vendor", result.Checks[0])
	}
}

func TestEvaluateVendorAliases(t *testing.T) {
	tests := []struct {
		backup string
		target string
		ok     bool
	}{
		{"postgres", "postgresql", true},
		{"postgresql", "postgres", true},
		{"pgsql", "postgresql", true},
		{"MySQL", "mysql", true},
		{"sqlserver", "mssql", true},
		{"mariadb", "mysql", false},
		{"mysql", "mariadb", false},
		{"mongodb", "postgresql", false},
	}

	for _, tt := range tests {
		t.Run(tt.backup+"_on_"+tt.target, func(t *testing.T) {
			_, err := Evaluate(meta(tt.backup, "", ""), Target{Vendor: tt.target}, plainDesc)
			if tt.ok && err != nil {
				t.Errorf("Evaluate() error = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("Evaluate() = nil, want vendor rejection")
			}
		})
	}
}

func TestEvaluateUnknownSourceEngineWarnsAndProceeds(t *testing.T) {
	result, err := Evaluate(
		meta("", "", ""),
		Target{Vendor: "postgresql", Version: "16.2"},
		plainDesc,
	)
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning about the unknown source engine")
	}
}

func TestNormalizeVendor(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres", "postgresql"},
		{"PostgreSQL", "postgresql"},
		{"  mysql  ", "mysql"},
		{"sqlserver", "mssql"},
		{"cockroachdb", "cockroachdb"},
	}
	for _, tt := range tests {
		if got := NormalizeVendor(tt.in); got != tt.want {
			t.Errorf("NormalizeVendor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Version check
// ---------------------------------------------------------------------------

func TestEvaluateVersionDirection(t *testing.T) {
	tests := []struct {
		name       string
		backupVer  string
		targetVer  string
		wantReject bool
	}{
		{"same version", "16.2", "16.2", false},
		{"older backup on newer target", "15.4", "16.2", false},
		{"patch upgrade", "16.1", "16.2", false},
		{"major upgrade", "12.9", "16.2", false},
		{"patch downgrade", "16.3", "16.2", true},
		{"major downgrade", "16.2", "15.6", true},
		{"suffix ignored", "16.2 (Debian 16.2-1.pgdg120+1)", "16.2", false},
		{"mariadb style", "10.11.6-MariaDB-log", "10.11.8", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(
				meta("postgresql", tt.backupVer, ""),
				Target{Vendor: "postgresql", Version: tt.targetVer},
				plainDesc,
			)
			if tt.wantReject {
				if err == nil {
					t.Fatal("expected downgrade rejection")
				}
				if errors.GetCode(err) != errors.ErrCodeVersionDowngrade {
					t.Errorf("error code = %v, want %v", errors.GetCode(err), errors.ErrCodeVersionDowngrade)
				}
			} else if err != nil {
				t.Errorf("Evaluate() error = %v, want nil", err)
			}
		})
	}
}

func TestEvaluateUnparseableVersionWarnsAndProceeds(t *testing.T) {
	tests := []struct {
		name      string
		backupVer string
		targetVer string
	}{
		{"backup version missing", "", "16.2"},
		{"target version missing", "16.2", ""},
		{"backup version garbage", "unknown", "16.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Evaluate(
				meta("postgresql", tt.backupVer, ""),
				Target{Vendor: "postgresql", Version: tt.targetVer},
				plainDesc,
			)
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if len(result.Warnings) == 0 {
				t.Error("expected a skipped-check warning")
			}
		})
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"16.2", "16.2"},
		{"16.2 (Debian 16.2-1.pgdg120+1)", "16.2"},
		{"8.0.36-0ubuntu0.22.04.1", "8.0.36"},
		{"10.11.6-MariaDB-log", "10.11.6"},
		{"15", "15"},
		{"", ""},
		{"devel", ""},
	}

	for _, tt := range tests {
		got := ParseVersion(tt.in)
		if tt.want == "" {
			if got != nil {
				t.Errorf("ParseVersion(%q) = %v, want nil", tt.in, got)
			}
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseVersion(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"16.2", "16.2", 0},
		{"16", "16.0.0", 0},
		{"16.2", "16.3", -1},
		{"16.3", "16.2", 1},
		{"15.9", "16.0", -1},
		{"8.0.36", "8.0.4", 1},
	}

	for _, tt := range tests {
		got := ParseVersion(tt.a).Compare(ParseVersion(tt.b))
		if got != tt.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Edition check
// ---------------------------------------------------------------------------

func TestEvaluateEditionSensitive(t *testing.T) {
	tests := []struct {
		name       string
		backupEd   string
		targetEd   string
		wantReject bool
	}{
		{"enterprise to express", "Enterprise", "Express", true},
		{"enterprise to standard", "Enterprise", "Standard", true},
		{"standard to express", "Standard", "Express", true},
		{"express to enterprise", "Express", "Enterprise", true},
		{"enterprise to developer", "Enterprise", "Developer", true},
		{"developer to enterprise", "Developer", "Enterprise", true},
		{"standard to standard", "Standard", "Standard", false},
		{"matching despite case", "ENTERPRISE", "enterprise", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(
				meta("mssql", "", tt.backupEd),
				Target{Vendor: "mssql", Edition: tt.targetEd},
				editionDesc,
			)
			if tt.wantReject {
				if err == nil {
					t.Fatal("expected edition rejection")
				}
				if errors.GetCode(err) != errors.ErrCodeEditionMismatch {
					t.Errorf("error code = %v, want %v", errors.GetCode(err), errors.ErrCodeEditionMismatch)
				}
			} else if err != nil {
				t.Errorf("Evaluate() error = %v, want nil", err)
			}
		})
	}
}

func TestEvaluateEditionIgnoredForInsensitiveAdapters(t *testing.T) {
	// PostgreSQL has no editions; stray edition strings must not matter.
	result, err := Evaluate(
		meta("postgresql", "16.2", "Enterprise"),
		Target{Vendor: "postgresql", Version: "16.2", Edition: "Express"},
		plainDesc,
	)
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil", err)
	}
	for _, c := range result.Checks {
		if c.Name == "edition" {
			t.Error("edition check ran for an edition-insensitive adapter")
		}
	}
}

func TestEvaluateMissingEditionWarnsAndProceeds(t *testing.T) {
	// The probe could not determine the target's edition; the check is
	// skipped with a warning rather than guessed.
	result, err := Evaluate(
		meta("mssql", "", "Standard"),
		Target{Vendor: "mssql"},
		editionDesc,
	)
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a skipped-check warning for the missing edition")
	}
}

func TestEvaluateEditionNamesNeedNoRegistry(t *testing.T) {
	// Equality is the rule, so editions never seen before still compare.
	if _, err := Evaluate(
		meta("mssql", "", "Evaluation"),
		Target{Vendor: "mssql", Edition: "evaluation"},
		editionDesc,
	); err != nil {
		t.Errorf("matching unlisted editions rejected: %v", err)
	}
	_, err := Evaluate(
		meta("mssql", "", "Evaluation"),
		Target{Vendor: "mssql", Edition: "Standard"},
		editionDesc,
	)
	if errors.GetCode(err) != errors.ErrCodeEditionMismatch {
		t.Errorf("error code = %v, want %v", errors.GetCode(err), errors.ErrCodeEditionMismatch)
	}
}

// ---------------------------------------------------------------------------
// Check ordering
// ---------------------------------------------------------------------------

func TestEvaluateAllChecksPassInOrder(t *testing.T) {
	result, err := Evaluate(
		meta("mssql", "15.0.2000", "Standard"),
		Target{Vendor: "sqlserver", Version: "16.0.1000", Edition: "standard"},
		editionDesc,
	)
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil", err)
	}

	wantOrder := []string{"vendor", "version", "edition"}
	if len(result.Checks) != len(wantOrder) {
		t.Fatalf("checks ran = %d, want %d", len(result.Checks), len(wantOrder))
	}
	for i, want := range wantOrder {
		if result.Checks[i].Name != want {
			t.Errorf("check[%d] = %s, want %s", i, result.Checks[i].Name, want)
		}
		if !result.Checks[i].Passed {
			t.Errorf("check %s failed, want pass", want)
		}
	}
}
