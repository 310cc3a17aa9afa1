package crypto

import "encoding/binary"

// ghash computes the GHASH universal hash over a byte stream, as defined
// by NIST SP 800-38D. Blocks are 16 bytes; 128-bit values are held as
// two uint64 halves in big-endian bit order (bit 0 in SP 800-38D is
// bit 63 of hi).
type ghash struct {
	hHi, hLo uint64 // hash subkey H = E_K(0^128)
	yHi, yLo uint64 // running state Y
	buf      [16]byte
	n        int // buffered bytes in buf
}

func newGHASH(h [16]byte) *ghash {
	return &ghash{
		hHi: binary.BigEndian.Uint64(h[:8]),
		hLo: binary.BigEndian.Uint64(h[8:]),
	}
}

// mulH sets Y = Y * H in GF(2^128) with the reduction polynomial
// x^128 + x^7 + x^2 + x + 1, scanning the bits of Y MSB-first while H
// shifts right (SP 800-38D algorithm 1, R = 0xe1 << 120).
func (g *ghash) mulH() {
	var zHi, zLo uint64
	vHi, vLo := g.hHi, g.hLo
	xHi, xLo := g.yHi, g.yLo

	for i := 0; i < 128; i++ {
		var bit uint64
		if i < 64 {
			bit = (xHi >> (63 - uint(i))) & 1
		} else {
			bit = (xLo >> (127 - uint(i))) & 1
		}
		if bit == 1 {
			zHi ^= vHi
			zLo ^= vLo
		}
		lsb := vLo & 1
		vLo = vLo>>1 | vHi<<63
		vHi >>= 1
		if lsb == 1 {
			vHi ^= 0xe100000000000000
		}
	}

	g.yHi, g.yLo = zHi, zLo
}

func (g *ghash) absorbBlock(block []byte) {
	g.yHi ^= binary.BigEndian.Uint64(block[:8])
	g.yLo ^= binary.BigEndian.Uint64(block[8:16])
	g.mulH()
}

// write absorbs p into the hash, buffering partial blocks
func (g *ghash) write(p []byte) {
	if g.n > 0 {
		c := copy(g.buf[g.n:], p)
		g.n += c
		p = p[c:]
		if g.n < 16 {
			return
		}
		g.absorbBlock(g.buf[:])
		g.n = 0
	}
	for len(p) >= 16 {
		g.absorbBlock(p[:16])
		p = p[16:]
	}
	if len(p) > 0 {
		g.n = copy(g.buf[:], p)
	}
}

// sum zero-pads any partial block, absorbs the length block
// (len(AAD) || len(C), both in bits) and returns the final state.
func (g *ghash) sum(aadBytes, ctBytes uint64) [16]byte {
	if g.n > 0 {
		for i := g.n; i < 16; i++ {
			g.buf[i] = 0
		}
		g.absorbBlock(g.buf[:])
		g.n = 0
	}

	var lenBlock [16]byte
	binary.BigEndian.PutUint64(lenBlock[:8], aadBytes*8)
	binary.BigEndian.PutUint64(lenBlock[8:], ctBytes*8)
	g.absorbBlock(lenBlock[:])

	var out [16]byte
	binary.BigEndian.PutUint64(out[:8], g.yHi)
	binary.BigEndian.PutUint64(out[8:], g.yLo)
	return out
}
