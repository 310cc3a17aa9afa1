package crypto

import (
	"fmt"
	"io"
)

// DecryptPrefix decrypts up to max leading bytes of a ciphertext stream
// using the CTR keystream derived from iv. The auth tag covers the whole
// message and cannot be checked against a prefix, so the output is
// UNAUTHENTICATED: it is only suitable for scoring key candidates during
// recovery, never as restore input.
func DecryptPrefix(r io.Reader, key, iv []byte, max int) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("crypto: IV must be %d bytes, got %d", IVSize, len(iv))
	}
	block, _, err := newBlockAndHash(key)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, max)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	buf = buf[:n]

	bodyStream(block, iv).XORKeyStream(buf, buf)
	return buf, nil
}
