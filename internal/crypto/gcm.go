// Package crypto implements the artifact encryption scheme: streaming
// AES-256-GCM with a detached 96-bit IV and 128-bit auth tag, both
// stored in the artifact's sidecar metadata rather than in the stream.
// Files of any size encrypt and decrypt in constant memory; the standard
// library GCM would require the whole message in memory.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key length
	KeySize = 32
	// IVSize is the GCM nonce length
	IVSize = 12
	// TagSize is the GCM authentication tag length
	TagSize = 16

	// maxStream is the GCM single-message plaintext limit
	// (2^39 - 256 bits). Past it the 32-bit block counter would wrap and
	// the construction stops being GCM.
	maxStream = 1<<36 - 32
)

// ErrAuthentication is returned when the computed tag does not match the
// expected tag: wrong key, or tampered/corrupted ciphertext.
var ErrAuthentication = errors.New("crypto: message authentication failed")

// ErrTooLarge is returned when a stream exceeds the GCM message limit
var ErrTooLarge = errors.New("crypto: stream exceeds GCM message size limit")

// bodyStream returns the CTR keystream GCM uses for the message body:
// counter blocks starting at IV || 0x00000002. Below the message size
// limit the low 32 bits never wrap, so the standard library's 128-bit
// counter increments match GCM's inc32 exactly.
func bodyStream(block cipher.Block, iv []byte) cipher.Stream {
	var ctr [16]byte
	copy(ctr[:IVSize], iv)
	ctr[15] = 2
	return cipher.NewCTR(block, ctr[:])
}

// finalTag computes E_K(J0) XOR ghashSum with J0 = IV || 0x00000001
func finalTag(block cipher.Block, iv []byte, ghashSum [16]byte) [16]byte {
	var j0 [16]byte
	copy(j0[:IVSize], iv)
	j0[15] = 1

	var ekj0 [16]byte
	block.Encrypt(ekj0[:], j0[:])

	var tag [16]byte
	for i := range tag {
		tag[i] = ekj0[i] ^ ghashSum[i]
	}
	return tag
}

func newBlockAndHash(key []byte) (cipher.Block, *ghash, error) {
	if len(key) != KeySize {
		return nil, nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	var h [16]byte
	block.Encrypt(h[:], h[:])
	return block, newGHASH(h), nil
}

// Encryptor streams plaintext through AES-256-GCM into an underlying
// writer. Close finalizes the detached tag; IV and Tag then belong in
// the artifact's sidecar.
type Encryptor struct {
	w       io.Writer
	block   cipher.Block
	ctr     cipher.Stream
	gh      *ghash
	iv      [IVSize]byte
	tag     [TagSize]byte
	written uint64
	closed  bool
	scratch []byte
}

// NewEncryptor creates an encryptor with a fresh random IV
func NewEncryptor(w io.Writer, key []byte) (*Encryptor, error) {
	block, gh, err := newBlockAndHash(key)
	if err != nil {
		return nil, err
	}

	e := &Encryptor{w: w, block: block, gh: gh}
	if _, err := rand.Read(e.iv[:]); err != nil {
		return nil, fmt.Errorf("crypto: generating IV: %w", err)
	}
	e.ctr = bodyStream(block, e.iv[:])
	return e, nil
}

// Write encrypts p and writes the ciphertext through
func (e *Encryptor) Write(p []byte) (int, error) {
	if e.closed {
		return 0, errors.New("crypto: write after Close")
	}
	if e.written+uint64(len(p)) > maxStream {
		return 0, ErrTooLarge
	}
	if cap(e.scratch) < len(p) {
		e.scratch = make([]byte, len(p))
	}
	ct := e.scratch[:len(p)]
	e.ctr.XORKeyStream(ct, p)
	e.gh.write(ct)
	n, err := e.w.Write(ct)
	e.written += uint64(n)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Close finalizes the authentication tag. No data is flushed; the
// underlying writer is not closed.
func (e *Encryptor) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.tag = finalTag(e.block, e.iv[:], e.gh.sum(0, e.written))
	return nil
}

// IV returns the message IV
func (e *Encryptor) IV() []byte {
	out := make([]byte, IVSize)
	copy(out, e.iv[:])
	return out
}

// Tag returns the detached auth tag. Valid only after Close.
func (e *Encryptor) Tag() []byte {
	out := make([]byte, TagSize)
	copy(out, e.tag[:])
	return out
}

// Decryptor streams ciphertext from an underlying reader, producing
// plaintext and verifying the detached tag when the stream ends. The
// final Read returns ErrAuthentication instead of io.EOF if the tag does
// not match, so a consumer writing plaintext to scratch learns about
// tampering before anything uses the output.
type Decryptor struct {
	r        io.Reader
	block    cipher.Block
	ctr      cipher.Stream
	gh       *ghash
	iv       [IVSize]byte
	expected [TagSize]byte
	read     uint64
	done     bool
	failed   bool
}

// NewDecryptor creates a decryptor for a detached-tag GCM stream
func NewDecryptor(r io.Reader, key, iv, tag []byte) (*Decryptor, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("crypto: IV must be %d bytes, got %d", IVSize, len(iv))
	}
	if len(tag) != TagSize {
		return nil, fmt.Errorf("crypto: tag must be %d bytes, got %d", TagSize, len(tag))
	}
	block, gh, err := newBlockAndHash(key)
	if err != nil {
		return nil, err
	}

	d := &Decryptor{r: r, block: block, gh: gh}
	copy(d.iv[:], iv)
	copy(d.expected[:], tag)
	d.ctr = bodyStream(block, d.iv[:])
	return d, nil
}

// Read implements io.Reader
func (d *Decryptor) Read(p []byte) (int, error) {
	if d.failed {
		return 0, ErrAuthentication
	}
	if d.done {
		return 0, io.EOF
	}

	n, err := d.r.Read(p)
	if n > 0 {
		if d.read+uint64(n) > maxStream {
			return 0, ErrTooLarge
		}
		// hash the ciphertext before decrypting in place
		d.gh.write(p[:n])
		d.ctr.XORKeyStream(p[:n], p[:n])
		d.read += uint64(n)
	}

	if err == io.EOF {
		d.done = true
		computed := finalTag(d.block, d.iv[:], d.gh.sum(0, d.read))
		if subtle.ConstantTimeCompare(computed[:], d.expected[:]) != 1 {
			d.failed = true
			return n, ErrAuthentication
		}
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	return n, err
}
