package scratch

import (
	"github.com/shirou/gopsutil/v3/disk"

	"dbvault/internal/errors"
)

// diskUsage is swapped in tests
var diskUsage = disk.Usage

// EnsureSpace rejects work whose artifact will not fit in the scratch
// volume. The requirement is artifactSize times the configured factor;
// an unknown size (<= 0) or an unreadable volume passes with a warning,
// because refusing to restore over a statfs hiccup helps nobody.
func (m *Manager) EnsureSpace(artifactSize int64) error {
	if artifactSize <= 0 {
		return nil
	}

	usage, err := diskUsage(m.root)
	if err != nil {
		m.log.Warn("cannot determine scratch free space, skipping check",
			"path", m.root, "error", err)
		return nil
	}

	required := int64(float64(artifactSize) * m.factor)
	available := int64(usage.Free)
	if available < required {
		return errors.ScratchSpaceLow(m.root, required, available)
	}

	m.log.Debug("scratch space check passed",
		"required_bytes", required, "available_bytes", available)
	return nil
}
