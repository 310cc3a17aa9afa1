package dbms

import (
	"fmt"
	"strings"
)

// quotePGIdentifier quotes a PostgreSQL identifier by wrapping it in
// double-quotes and doubling any internal double-quotes.
func quotePGIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteMySQLIdentifier quotes a MySQL/MariaDB identifier by wrapping it
// in backticks and doubling any internal backticks.
func quoteMySQLIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// validateIdentifier checks that a database name is safe to splice into
// DDL. Both engines cap identifiers at 63 bytes in practice and rename
// targets come from user input, so only conservative names pass.
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("identifier too long (max 63 chars): %s", name)
	}
	for i, c := range name {
		if i == 0 && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && c != '_' {
			return fmt.Errorf("identifier must start with letter or underscore: %s", name)
		}
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '_' {
			return fmt.Errorf("identifier contains invalid character %q: %s", c, name)
		}
	}
	return nil
}
