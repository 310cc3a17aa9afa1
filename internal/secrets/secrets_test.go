package secrets

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, MasterKeySize)
}

// ---------------------------------------------------------------------------
// Seal / Open
// ---------------------------------------------------------------------------

func TestSealOpenRoundTrip(t *testing.T) {
	k, err := NewKeeper(testKey(0x42))
	if err != nil {
		t.Fatalf("NewKeeper() error = %v", err)
	}

	secrets := []string{
		"hunter2",
		"",
		"pa$$word with spaces and ünïcode",
		strings.Repeat("long", 500),
	}

	for _, secret := range secrets {
		sealed, err := k.Seal(secret)
		if err != nil {
			t.Fatalf("Seal(%q) error = %v", secret, err)
		}
		if !IsSealed(sealed) {
			t.Errorf("Seal(%q) produced unsealed-looking value %q", secret, sealed)
		}
		if secret != "" && strings.Contains(sealed, secret) {
			t.Errorf("sealed envelope leaks the plaintext")
		}

		opened, err := k.Open(sealed)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if opened != secret {
			t.Errorf("Open() = %q, want %q", opened, secret)
		}
	}
}

func TestSealIsNondeterministic(t *testing.T) {
	k, _ := NewKeeper(testKey(0x42))
	a, _ := k.Seal("same secret")
	b, _ := k.Seal("same secret")
	if a == b {
		t.Error("two seals of the same plaintext produced identical envelopes")
	}
}

func TestOpenPassesPlainValuesThrough(t *testing.T) {
	k, _ := NewKeeper(testKey(0x42))

	for _, plain := range []string{"not-sealed", "", "sealed:v2:future", "s3:bucket"} {
		got, err := k.Open(plain)
		if err != nil {
			t.Fatalf("Open(%q) error = %v", plain, err)
		}
		if got != plain {
			t.Errorf("Open(%q) = %q, want passthrough", plain, got)
		}
	}
}

func TestOpenWrongMasterKey(t *testing.T) {
	k1, _ := NewKeeper(testKey(0x01))
	k2, _ := NewKeeper(testKey(0x02))

	sealed, err := k1.Seal("secret")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := k2.Open(sealed); err == nil {
		t.Error("expected failure opening with a different master key")
	}
}

func TestOpenCorruptEnvelope(t *testing.T) {
	k, _ := NewKeeper(testKey(0x42))

	tests := []string{
		"sealed:v1:!!!not-base64!!!",
		"sealed:v1:" + "YQ==", // too short for a nonce
	}
	for _, v := range tests {
		if _, err := k.Open(v); err == nil {
			t.Errorf("Open(%q) = nil error, want corrupt-envelope failure", v)
		}
	}
}

func TestOpenAll(t *testing.T) {
	k, _ := NewKeeper(testKey(0x42))
	sealed, _ := k.Seal("secret-pass")

	params := map[string]string{
		"host":     "db.example.com",
		"password": sealed,
	}

	opened, err := k.OpenAll(params)
	if err != nil {
		t.Fatalf("OpenAll() error = %v", err)
	}
	if opened["host"] != "db.example.com" {
		t.Errorf("plain value changed: %q", opened["host"])
	}
	if opened["password"] != "secret-pass" {
		t.Errorf("sealed value not opened: %q", opened["password"])
	}
	if params["password"] != sealed {
		t.Error("OpenAll mutated the source map")
	}
}

func TestNewKeeperRejectsBadKeySizes(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := NewKeeper(make([]byte, n)); err == nil {
			t.Errorf("NewKeeper with %d-byte key succeeded, want error", n)
		}
	}
}

// ---------------------------------------------------------------------------
// Master key loading
// ---------------------------------------------------------------------------

func TestLoadMasterKeyFromHexFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")
	want := testKey(0xab)
	if err := os.WriteFile(path, []byte(hex.EncodeToString(want)+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadMasterKey(path)
	if err != nil {
		t.Fatalf("LoadMasterKey() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("loaded key does not match written key")
	}
}

func TestLoadMasterKeyFromRawFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")
	want := testKey(0xcd)
	if err := os.WriteFile(path, want, 0600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadMasterKey(path)
	if err != nil {
		t.Fatalf("LoadMasterKey() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("loaded key does not match written key")
	}
}

func TestLoadMasterKeyFromEnv(t *testing.T) {
	want := testKey(0xef)
	t.Setenv(MasterKeyEnv, hex.EncodeToString(want))

	got, err := LoadMasterKey(filepath.Join(t.TempDir(), "absent.key"))
	if err != nil {
		t.Fatalf("LoadMasterKey() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("loaded key does not match env key")
	}
}

func TestLoadMasterKeyMissingEverywhere(t *testing.T) {
	t.Setenv(MasterKeyEnv, "")
	if _, err := LoadMasterKey(filepath.Join(t.TempDir(), "absent.key")); err == nil {
		t.Error("expected error when no key source exists")
	}
}

func TestLoadMasterKeyBadFileContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")
	if err := os.WriteFile(path, []byte("too short"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadMasterKey(path); err == nil {
		t.Error("expected error for malformed key file")
	}
}

func TestGenerateMasterKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")

	key, err := GenerateMasterKey(path)
	if err != nil {
		t.Fatalf("GenerateMasterKey() error = %v", err)
	}
	if len(key) != MasterKeySize {
		t.Errorf("key length = %d, want %d", len(key), MasterKeySize)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadMasterKey(path)
	if err != nil {
		t.Fatalf("LoadMasterKey() error = %v", err)
	}
	if !bytes.Equal(loaded, key) {
		t.Error("generated key does not round trip through the file")
	}
}
