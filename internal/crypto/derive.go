package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters. The salt is a fixed application constant:
// derivation must depend only on the profile's key material, so a
// profile deleted and re-created with the same material still decrypts
// every artifact the old profile produced.
var deriveSalt = []byte("dbvault/encryption-profile/v1")

const deriveIterations = 100_000

// DeriveKey stretches profile key material into an AES-256 key
func DeriveKey(material []byte) []byte {
	return pbkdf2.Key(material, deriveSalt, deriveIterations, KeySize, sha256.New)
}
