package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"testing"
	"testing/iotest"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return key
}

func stdlibGCM(t *testing.T, key []byte) cipher.AEAD {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("cipher.NewGCM: %v", err)
	}
	return gcm
}

// ---
// Encrypt with the streaming encryptor, open with the standard library.
// This pins the construction to real GCM rather than to itself.

func TestEncryptorMatchesStdlibGCM(t *testing.T) {
	sizes := []int{0, 1, 15, 16, 17, 31, 32, 33, 1000, 4096 + 3}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			key := testKey(t)
			plaintext := make([]byte, size)
			if _, err := rand.Read(plaintext); err != nil {
				t.Fatalf("rand.Read: %v", err)
			}

			var ct bytes.Buffer
			enc, err := NewEncryptor(&ct, key)
			if err != nil {
				t.Fatalf("NewEncryptor: %v", err)
			}
			if _, err := enc.Write(plaintext); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := enc.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			sealed := append(ct.Bytes(), enc.Tag()...)
			opened, err := stdlibGCM(t, key).Open(nil, enc.IV(), sealed, nil)
			if err != nil {
				t.Fatalf("stdlib GCM rejected our ciphertext/tag: %v", err)
			}
			if !bytes.Equal(opened, plaintext) {
				t.Error("stdlib GCM decrypted to different plaintext")
			}
		})
	}
}

func TestEncryptorChunkedWritesSameOutput(t *testing.T) {
	key := testKey(t)
	plaintext := make([]byte, 1000)
	if _, err := rand.Read(plaintext); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	var oneShot bytes.Buffer
	enc, err := NewEncryptor(&oneShot, key)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	_, _ = enc.Write(plaintext)
	_ = enc.Close()

	// Re-encrypting in awkward chunk sizes must still verify under the
	// standard library with its own IV/tag.
	var chunked bytes.Buffer
	enc2, err := NewEncryptor(&chunked, key)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	for i := 0; i < len(plaintext); {
		end := i + 7
		if end > len(plaintext) {
			end = len(plaintext)
		}
		if _, err := enc2.Write(plaintext[i:end]); err != nil {
			t.Fatalf("chunked Write: %v", err)
		}
		i = end
	}
	_ = enc2.Close()

	sealed := append(chunked.Bytes(), enc2.Tag()...)
	opened, err := stdlibGCM(t, key).Open(nil, enc2.IV(), sealed, nil)
	if err != nil {
		t.Fatalf("stdlib GCM rejected chunked ciphertext: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Error("chunked encryption decrypted to different plaintext")
	}
}

// ---
// Seal with the standard library, decrypt with the streaming decryptor.

func TestDecryptorOpensStdlibGCM(t *testing.T) {
	key := testKey(t)
	plaintext := make([]byte, 2048)
	if _, err := rand.Read(plaintext); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	sealed := stdlibGCM(t, key).Seal(nil, iv, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	dec, err := NewDecryptor(bytes.NewReader(ciphertext), key, iv, tag)
	if err != nil {
		t.Fatalf("NewDecryptor: %v", err)
	}
	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Error("decryptor produced different plaintext than stdlib sealed")
	}
}

func TestDecryptorPartialUnderlyingReads(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("short message across many tiny reads")

	iv := make([]byte, IVSize)
	sealed := stdlibGCM(t, key).Seal(nil, iv, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	dec, err := NewDecryptor(iotest.OneByteReader(bytes.NewReader(ciphertext)), key, iv, tag)
	if err != nil {
		t.Fatalf("NewDecryptor: %v", err)
	}
	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Error("one-byte underlying reads corrupted plaintext")
	}
}

func TestDecryptorRejectsTamperedCiphertext(t *testing.T) {
	key := testKey(t)
	plaintext := make([]byte, 512)

	iv := make([]byte, IVSize)
	sealed := stdlibGCM(t, key).Seal(nil, iv, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	tampered := append([]byte(nil), ciphertext...)
	tampered[100] ^= 0x01

	dec, err := NewDecryptor(bytes.NewReader(tampered), key, iv, tag)
	if err != nil {
		t.Fatalf("NewDecryptor: %v", err)
	}
	_, err = io.ReadAll(dec)
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("tampered ciphertext: err = %v, want ErrAuthentication", err)
	}
}

func TestDecryptorRejectsWrongKey(t *testing.T) {
	key := testKey(t)
	otherKey := testKey(t)
	plaintext := []byte("payload")

	iv := make([]byte, IVSize)
	sealed := stdlibGCM(t, key).Seal(nil, iv, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	dec, err := NewDecryptor(bytes.NewReader(ciphertext), otherKey, iv, tag)
	if err != nil {
		t.Fatalf("NewDecryptor: %v", err)
	}
	if _, err := io.ReadAll(dec); !errors.Is(err, ErrAuthentication) {
		t.Errorf("wrong key: err = %v, want ErrAuthentication", err)
	}
}

func TestDecryptorRejectsTruncatedCiphertext(t *testing.T) {
	key := testKey(t)
	plaintext := make([]byte, 256)

	iv := make([]byte, IVSize)
	sealed := stdlibGCM(t, key).Seal(nil, iv, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	dec, err := NewDecryptor(bytes.NewReader(ciphertext[:200]), key, iv, tag)
	if err != nil {
		t.Fatalf("NewDecryptor: %v", err)
	}
	if _, err := io.ReadAll(dec); !errors.Is(err, ErrAuthentication) {
		t.Errorf("truncated ciphertext: err = %v, want ErrAuthentication", err)
	}
}

func TestDecryptorParameterValidation(t *testing.T) {
	key := testKey(t)

	if _, err := NewDecryptor(bytes.NewReader(nil), key, make([]byte, 8), make([]byte, TagSize)); err == nil {
		t.Error("expected error for short IV")
	}
	if _, err := NewDecryptor(bytes.NewReader(nil), key, make([]byte, IVSize), make([]byte, 8)); err == nil {
		t.Error("expected error for short tag")
	}
	if _, err := NewDecryptor(bytes.NewReader(nil), key[:16], make([]byte, IVSize), make([]byte, TagSize)); err == nil {
		t.Error("expected error for non-256-bit key")
	}
}

// ---
// Prefix probe

func TestDecryptPrefix(t *testing.T) {
	key := testKey(t)
	plaintext := make([]byte, 4096)
	if _, err := rand.Read(plaintext); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	sealed := stdlibGCM(t, key).Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-TagSize]

	prefix, err := DecryptPrefix(bytes.NewReader(ciphertext), key, iv, 1024)
	if err != nil {
		t.Fatalf("DecryptPrefix: %v", err)
	}
	if len(prefix) != 1024 {
		t.Fatalf("prefix length = %d, want 1024", len(prefix))
	}
	if !bytes.Equal(prefix, plaintext[:1024]) {
		t.Error("prefix does not match plaintext head")
	}
}

func TestDecryptPrefixShortStream(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("tiny")

	iv := make([]byte, IVSize)
	sealed := stdlibGCM(t, key).Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-TagSize]

	prefix, err := DecryptPrefix(bytes.NewReader(ciphertext), key, iv, 1024)
	if err != nil {
		t.Fatalf("DecryptPrefix: %v", err)
	}
	if !bytes.Equal(prefix, plaintext) {
		t.Errorf("short-stream prefix = %q, want %q", prefix, plaintext)
	}
}

func TestDecryptPrefixWrongKeyGivesGarbage(t *testing.T) {
	key := testKey(t)
	otherKey := testKey(t)
	plaintext := bytes.Repeat([]byte("recognizable plaintext "), 50)

	iv := make([]byte, IVSize)
	sealed := stdlibGCM(t, key).Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-TagSize]

	prefix, err := DecryptPrefix(bytes.NewReader(ciphertext), otherKey, iv, 256)
	if err != nil {
		t.Fatalf("DecryptPrefix: %v", err)
	}
	if bytes.Equal(prefix, plaintext[:256]) {
		t.Error("wrong key should not reproduce the plaintext prefix")
	}
}

// ---
// Key derivation

func TestDeriveKey(t *testing.T) {
	k1 := DeriveKey([]byte("profile material one"))
	k2 := DeriveKey([]byte("profile material one"))
	k3 := DeriveKey([]byte("profile material two"))

	if len(k1) != KeySize {
		t.Fatalf("key length = %d, want %d", len(k1), KeySize)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("derivation is not deterministic for identical material")
	}
	if bytes.Equal(k1, k3) {
		t.Error("different material derived the same key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := DeriveKey([]byte("round trip profile"))
	plaintext := bytes.Repeat([]byte("backup artifact content\n"), 1000)

	var ct bytes.Buffer
	enc, err := NewEncryptor(&ct, key)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	if _, err := enc.Write(plaintext); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = enc.Close()

	dec, err := NewDecryptor(bytes.NewReader(ct.Bytes()), key, enc.IV(), enc.Tag())
	if err != nil {
		t.Fatalf("NewDecryptor: %v", err)
	}
	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Error("round trip mismatch")
	}
}

func BenchmarkEncryptor(b *testing.B) {
	key := make([]byte, KeySize)
	data := make([]byte, 1<<20)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		enc, _ := NewEncryptor(io.Discard, key)
		_, _ = enc.Write(data)
		_ = enc.Close()
	}
}
