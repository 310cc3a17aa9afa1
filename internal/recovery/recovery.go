// Package recovery finds the encryption profile that unlocks an
// artifact when the sidecar does not say, or says wrong. Profiles are
// tried against the first kilobyte of ciphertext: derive the key,
// decrypt the prefix without authentication, and judge whether the
// plaintext looks like what the sidecar declares. Only the winning key
// is then used for the real, authenticated decryption pass.
package recovery

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"dbvault/internal/compression"
	"dbvault/internal/crypto"
	"dbvault/internal/errors"
	"dbvault/internal/logger"
)

const (
	// PrefixSize is how much ciphertext the probe reads. One kilobyte
	// is enough for any codec header plus a meaningful text sample.
	PrefixSize = 1024

	// printableThreshold is the minimum printable-byte ratio for
	// accepting uncompressed plaintext. Dumps are ASCII-heavy; a wrong
	// key yields uniform bytes and lands near 0.38.
	printableThreshold = 0.70
)

// Profile is a candidate key source. Material is the raw secret the key
// is derived from, already unsealed by the caller.
type Profile struct {
	ID       string
	Name     string
	Material []byte
}

// Candidate is a profile whose derived key passed the probe
type Candidate struct {
	Profile Profile
	Key     []byte
}

// Attempt records one probe for the execution log
type Attempt struct {
	ProfileID   string
	ProfileName string
	Accepted    bool
	Reason      string
}

// Recoverer probes encryption profiles against artifact prefixes
type Recoverer struct {
	log logger.Logger
}

func New(log logger.Logger) *Recoverer {
	return &Recoverer{log: log}
}

// ReadPrefix loads up to PrefixSize bytes of ciphertext from an artifact
// on disk.
func ReadPrefix(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, PrefixSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf[:n], nil
}

// Recover tries every profile against the encrypted prefix and returns
// the first one whose plaintext passes the acceptance test. preferredID
// is tried before the rest when it names a known profile; the remainder
// run in stable name-then-id order so repeated recoveries walk the same
// path. When no profile passes, the error is a crypto failure naming how
// many were tried.
func (r *Recoverer) Recover(prefix, iv []byte, algo compression.Algorithm, profiles []Profile, preferredID string) (*Candidate, []Attempt, error) {
	if len(profiles) == 0 {
		return nil, nil, errors.NoCandidateKey(0)
	}
	if len(prefix) == 0 {
		return nil, nil, errors.NewCryptoError(errors.ErrCodeDecryptFailed,
			"artifact is empty, nothing to probe a key against", "")
	}

	ordered := orderProfiles(profiles, preferredID)
	attempts := make([]Attempt, 0, len(ordered))

	for _, p := range ordered {
		key := crypto.DeriveKey(p.Material)

		plain, err := crypto.DecryptPrefix(bytes.NewReader(prefix), key, iv, len(prefix))
		if err != nil {
			attempts = append(attempts, Attempt{
				ProfileID: p.ID, ProfileName: p.Name,
				Reason: fmt.Sprintf("prefix decryption failed: %v", err),
			})
			continue
		}

		accepted, reason := judge(plain, algo)
		attempts = append(attempts, Attempt{
			ProfileID: p.ID, ProfileName: p.Name,
			Accepted: accepted, Reason: reason,
		})

		if accepted {
			r.log.Info("encryption profile recovered",
				"profile", p.Name, "attempts", len(attempts), "reason", reason)
			return &Candidate{Profile: p, Key: key}, attempts, nil
		}

		r.log.Debug("encryption profile rejected",
			"profile", p.Name, "reason", reason)
	}

	return nil, attempts, errors.NoCandidateKey(len(attempts))
}

// orderProfiles puts the preferred profile first and sorts the rest by
// name, then id, for deterministic probing.
func orderProfiles(profiles []Profile, preferredID string) []Profile {
	ordered := make([]Profile, len(profiles))
	copy(ordered, profiles)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Name != ordered[j].Name {
			return ordered[i].Name < ordered[j].Name
		}
		return ordered[i].ID < ordered[j].ID
	})

	if preferredID == "" {
		return ordered
	}
	for i, p := range ordered {
		if p.ID == preferredID {
			ordered = append(ordered[:i], ordered[i+1:]...)
			return append([]Profile{p}, ordered...)
		}
	}
	return ordered
}

// judge decides whether decrypted prefix bytes look like the declared
// content. Compressed artifacts must actually start decompressing with
// the declared codec. Uncompressed artifacts are scored on printable
// density, which separates dump text from the uniform noise a wrong key
// produces.
func judge(plain []byte, algo compression.Algorithm) (bool, string) {
	if algo != compression.AlgorithmNone {
		return judgeCompressed(plain, algo)
	}

	ratio := printableRatio(plain)
	if ratio > printableThreshold {
		return true, fmt.Sprintf("printable ratio %.2f", ratio)
	}
	return false, fmt.Sprintf("printable ratio %.2f below threshold", ratio)
}

func judgeCompressed(plain []byte, algo compression.Algorithm) (bool, string) {
	dec, err := compression.NewDecompressorWithAlgorithm(bytes.NewReader(plain), algo)
	if err != nil {
		return false, fmt.Sprintf("%s stream rejected: %v", algo, err)
	}
	defer func() { _ = dec.Close() }()

	one := make([]byte, 1)
	n, err := dec.Reader.Read(one)
	if n >= 1 {
		return true, fmt.Sprintf("%s stream decompresses", algo)
	}
	if err != nil && err != io.EOF {
		return false, fmt.Sprintf("%s stream rejected: %v", algo, err)
	}
	return false, fmt.Sprintf("%s stream produced no output", algo)
}

func printableRatio(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	printable := 0
	for _, c := range b {
		if (c >= 0x20 && c <= 0x7e) || c == '\n' || c == '\r' || c == '\t' {
			printable++
		}
	}
	return float64(printable) / float64(len(b))
}
