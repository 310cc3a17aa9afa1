package compat

import (
	"strconv"
	"strings"
)

// Version is a parsed engine version, numeric segments only. Suffixes
// like "-MariaDB-log" or "(Debian 16.2-1.pgdg120+1)" are dropped.
type Version []int

// ParseVersion extracts the leading dotted numeric version from a server
// version string. Returns nil when no numeric prefix exists.
//
//	"16.2 (Debian 16.2-1)" -> [16 2]
//	"8.0.36-0ubuntu0.22"   -> [8 0 36]
//	"10.11.6-MariaDB-log"  -> [10 11 6]
func ParseVersion(s string) Version {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	// Cut at the first character that is neither digit nor dot
	end := len(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			end = i
			break
		}
	}

	var v Version
	for _, part := range strings.Split(s[:end], ".") {
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		v = append(v, n)
	}
	if len(v) == 0 {
		return nil
	}
	return v
}

// Compare returns -1, 0, or 1 as v is older than, equal to, or newer
// than other. Missing segments compare as zero, so 16 == 16.0.0.
func (v Version) Compare(other Version) int {
	n := len(v)
	if len(other) > n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		a, b := 0, 0
		if i < len(v) {
			a = v[i]
		}
		if i < len(other) {
			b = other[i]
		}
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	return 0
}

// String renders the version back as dotted segments
func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}
