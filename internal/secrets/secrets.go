// Package secrets seals adapter passwords and encryption profile
// material at rest. Values in the config store are either plain strings
// or sealed envelopes ("sealed:v1:..."); a Keeper holding the master key
// turns one into the other. Restores only need Open, the configuration
// API uses Seal when writing secrets in.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"dbvault/internal/errors"
)

// MasterKeySize is the raw master key length, AES-256
const MasterKeySize = 32

// MasterKeyEnv is the environment fallback for the master key, hex
const MasterKeyEnv = "DBVAULT_MASTER_KEY"

// sealedPrefix versions the envelope format. v1 is AES-256-GCM with the
// nonce prepended to the ciphertext, base64url encoded.
const sealedPrefix = "sealed:v1:"

// Keeper seals and opens secret values with the master key
type Keeper struct {
	aead cipher.AEAD
}

// NewKeeper builds a Keeper from a raw 32-byte master key
func NewKeeper(masterKey []byte) (*Keeper, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Keeper{aead: aead}, nil
}

// IsSealed reports whether a stored value is a sealed envelope
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// Seal wraps a plaintext secret into a sealed envelope
func (k *Keeper) Seal(plaintext string) (string, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := k.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.URLEncoding.EncodeToString(sealed), nil
}

// Open returns the plaintext of a stored value. Plain values pass
// through untouched so configs can mix sealed and unsealed entries.
func (k *Keeper) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	raw, err := base64.URLEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", errors.NewConfigError(errors.ErrCodeSecretSealed,
			"sealed value is not valid base64",
			"The config store entry is corrupt. Re-enter the secret to reseal it.")
	}
	if len(raw) < k.aead.NonceSize() {
		return "", errors.NewConfigError(errors.ErrCodeSecretSealed,
			"sealed value is truncated",
			"The config store entry is corrupt. Re-enter the secret to reseal it.")
	}

	nonce, ct := raw[:k.aead.NonceSize()], raw[k.aead.NonceSize():]
	plain, err := k.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", errors.NewConfigError(errors.ErrCodeSecretSealed,
			"sealed value does not open with the configured master key",
			"The master key changed since this secret was stored. Restore the original key or re-enter the secret.")
	}
	return string(plain), nil
}

// OpenAll opens every sealed value in a params map, returning a copy.
// The original map keeps its envelopes.
func (k *Keeper) OpenAll(params map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(params))
	for key, value := range params {
		plain, err := k.Open(value)
		if err != nil {
			return nil, fmt.Errorf("opening %q: %w", key, err)
		}
		out[key] = plain
	}
	return out, nil
}

// LoadMasterKey reads the master key from path, falling back to the
// MasterKeyEnv environment variable. Files hold either 32 raw bytes or
// their hex encoding; the environment always holds hex.
func LoadMasterKey(path string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return parseMasterKey(data)
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if env := os.Getenv(MasterKeyEnv); env != "" {
		key, err := hex.DecodeString(strings.TrimSpace(env))
		if err != nil {
			return nil, fmt.Errorf("%s is not valid hex: %w", MasterKeyEnv, err)
		}
		if len(key) != MasterKeySize {
			return nil, fmt.Errorf("%s must decode to %d bytes, got %d", MasterKeyEnv, MasterKeySize, len(key))
		}
		return key, nil
	}

	return nil, fmt.Errorf("no master key: %s missing and %s not set", path, MasterKeyEnv)
}

// GenerateMasterKey creates a fresh key and writes it to path with
// owner-only permissions.
func GenerateMasterKey(path string) ([]byte, error) {
	key := make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("writing master key: %w", err)
	}
	return key, nil
}

func parseMasterKey(data []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(data))

	if len(trimmed) == MasterKeySize*2 {
		if key, err := hex.DecodeString(trimmed); err == nil {
			return key, nil
		}
	}
	if len(data) == MasterKeySize {
		return data, nil
	}
	return nil, fmt.Errorf("master key file must hold %d raw bytes or %d hex characters", MasterKeySize, MasterKeySize*2)
}
