// Package compression provides unified compression/decompression support
// for backup artifacts. Supports gzip (via parallel pgzip) and brotli as
// produced by the backup path, plus zstd and lz4 on the read path for
// artifacts written by sibling tooling. Format detection is extension- or
// magic-based; brotli streams carry no magic bytes and can only be chosen
// by declaration.
//
// Performance characteristics:
//   - gzip:   ~250 MB/s decompress (parallel pgzip)
//   - zstd:   ~1.5 GB/s decompress (level 3)
//   - brotli: ~200 MB/s decompress
//   - lz4:    ~2 GB/s decompress
package compression

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm
type Algorithm string

const (
	AlgorithmNone   Algorithm = "none"
	AlgorithmGzip   Algorithm = "gzip"
	AlgorithmBrotli Algorithm = "brotli"
	AlgorithmZstd   Algorithm = "zstd"
	AlgorithmLz4    Algorithm = "lz4"
)

// Magic bytes for format detection. Brotli has none.
var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xB5, 0x2F, 0xFD}
	magicLz4  = []byte{0x04, 0x22, 0x4D, 0x18}
)

// DetectAlgorithm determines the compression algorithm from a file path
// (extension-based).
func DetectAlgorithm(filePath string) Algorithm {
	lower := strings.ToLower(filePath)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return AlgorithmGzip
	case strings.HasSuffix(lower, ".br"):
		return AlgorithmBrotli
	case strings.HasSuffix(lower, ".zst") || strings.HasSuffix(lower, ".zstd"):
		return AlgorithmZstd
	case strings.HasSuffix(lower, ".lz4"):
		return AlgorithmLz4
	default:
		return AlgorithmNone
	}
}

// DetectAlgorithmFromBytes detects the compression algorithm from raw
// bytes by magic. Brotli is indistinguishable from arbitrary data here
// and is never returned.
func DetectAlgorithmFromBytes(data []byte) Algorithm {
	if len(data) >= 2 && data[0] == magicGzip[0] && data[1] == magicGzip[1] {
		return AlgorithmGzip
	}
	if len(data) >= 4 &&
		data[0] == magicZstd[0] && data[1] == magicZstd[1] &&
		data[2] == magicZstd[2] && data[3] == magicZstd[3] {
		return AlgorithmZstd
	}
	if len(data) >= 4 &&
		data[0] == magicLz4[0] && data[1] == magicLz4[1] &&
		data[2] == magicLz4[2] && data[3] == magicLz4[3] {
		return AlgorithmLz4
	}
	return AlgorithmNone
}

// ParseAlgorithm parses a string into an Algorithm. Accepts the tokens
// written into backup metadata ("NONE", "GZIP", "BROTLI") as well as the
// lowercase names and common aliases.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gzip", "gz":
		return AlgorithmGzip, nil
	case "brotli", "br":
		return AlgorithmBrotli, nil
	case "zstd", "zstandard", "zst":
		return AlgorithmZstd, nil
	case "lz4":
		return AlgorithmLz4, nil
	case "none", "":
		return AlgorithmNone, nil
	default:
		return AlgorithmNone, fmt.Errorf("unsupported compression algorithm %q (supported: gzip, brotli, zstd, lz4, none)", s)
	}
}

// IsCompressed returns true if the file path indicates a compressed file
func IsCompressed(filePath string) bool {
	return DetectAlgorithm(filePath) != AlgorithmNone
}

// StripExtension removes the compression extension from a file path
func StripExtension(filePath string) string {
	lower := strings.ToLower(filePath)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return filePath[:len(filePath)-3]
	case strings.HasSuffix(lower, ".br"):
		return filePath[:len(filePath)-3]
	case strings.HasSuffix(lower, ".zstd"):
		return filePath[:len(filePath)-5]
	case strings.HasSuffix(lower, ".zst"):
		return filePath[:len(filePath)-4]
	case strings.HasSuffix(lower, ".lz4"):
		return filePath[:len(filePath)-4]
	default:
		return filePath
	}
}

// FileExtension returns the standard file extension for an algorithm
func FileExtension(algo Algorithm) string {
	switch algo {
	case AlgorithmGzip:
		return ".gz"
	case AlgorithmBrotli:
		return ".br"
	case AlgorithmZstd:
		return ".zst"
	case AlgorithmLz4:
		return ".lz4"
	default:
		return ""
	}
}

// Decompressor wraps a decompression reader with a unified Close interface
type Decompressor struct {
	Reader    io.Reader
	closer    io.Closer
	algorithm Algorithm
}

// Close closes the decompression reader and releases resources
func (d *Decompressor) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

// Algorithm returns the decompressor's algorithm
func (d *Decompressor) Algorithm() Algorithm {
	return d.algorithm
}

// NewDecompressor creates a decompression reader based on file extension.
// The returned Decompressor must be closed when done. If the file is not
// compressed, the reader is returned as-is (passthrough).
func NewDecompressor(reader io.Reader, filePath string) (*Decompressor, error) {
	algo := DetectAlgorithm(filePath)
	return NewDecompressorWithAlgorithm(reader, algo)
}

// NewDecompressorWithAlgorithm creates a decompression reader for a
// declared algorithm, bypassing detection.
func NewDecompressorWithAlgorithm(reader io.Reader, algo Algorithm) (*Decompressor, error) {
	switch algo {
	case AlgorithmGzip:
		return newGzipDecompressor(reader)
	case AlgorithmBrotli:
		// brotli.Reader holds no resources that need closing
		return &Decompressor{Reader: brotli.NewReader(reader), algorithm: AlgorithmBrotli}, nil
	case AlgorithmZstd:
		return newZstdDecompressor(reader)
	case AlgorithmLz4:
		return &Decompressor{Reader: lz4.NewReader(reader), algorithm: AlgorithmLz4}, nil
	case AlgorithmNone:
		return &Decompressor{Reader: reader, algorithm: AlgorithmNone}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algo)
	}
}

// newGzipDecompressor creates a parallel gzip decompressor using pgzip
func newGzipDecompressor(reader io.Reader) (*Decompressor, error) {
	decompWorkers := runtime.NumCPU()
	if decompWorkers > 16 {
		decompWorkers = 16
	}
	// 1MB block size for parallel decompression
	gz, err := pgzip.NewReaderN(reader, 1<<20, decompWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return &Decompressor{
		Reader:    gz,
		closer:    gz,
		algorithm: AlgorithmGzip,
	}, nil
}

// newZstdDecompressor creates a zstd decompressor using klauspost/compress
func newZstdDecompressor(reader io.Reader) (*Decompressor, error) {
	// WithDecoderConcurrency(0) = auto (uses GOMAXPROCS workers)
	// WithDecoderMaxMemory = 2GB max window (handles any standard zstd frame)
	decoder, err := zstd.NewReader(reader,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderLowmem(false),
		zstd.WithDecoderMaxMemory(2<<30),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	return &Decompressor{
		Reader:    decoder,
		closer:    decoder.IOReadCloser(),
		algorithm: AlgorithmZstd,
	}, nil
}

// Compressor wraps a compression writer with a unified interface
type Compressor struct {
	Writer    io.Writer
	closer    io.Closer
	algorithm Algorithm
}

// Close flushes and closes the compression writer
func (c *Compressor) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Write implements io.Writer, delegating to the underlying compression writer
func (c *Compressor) Write(p []byte) (int, error) {
	return c.Writer.Write(p)
}

// NewCompressor creates a compression writer for an algorithm and level.
// Level semantics:
//   - gzip:   1 (fastest) to 9 (best), default 6
//   - brotli: 0 (fastest) to 11 (best), default 4
//   - zstd:   1 (fastest) to 22 (best), default 3
//   - lz4:    fixed fast level
func NewCompressor(writer io.Writer, algo Algorithm, level int) (*Compressor, error) {
	switch algo {
	case AlgorithmGzip:
		return newGzipCompressor(writer, level)
	case AlgorithmBrotli:
		if level < 0 || level > 11 {
			level = 4
		}
		bw := brotli.NewWriterLevel(writer, level)
		return &Compressor{Writer: bw, closer: bw, algorithm: AlgorithmBrotli}, nil
	case AlgorithmZstd:
		return newZstdCompressor(writer, level)
	case AlgorithmLz4:
		lw := lz4.NewWriter(writer)
		return &Compressor{Writer: lw, closer: lw, algorithm: AlgorithmLz4}, nil
	case AlgorithmNone:
		return &Compressor{Writer: writer, algorithm: AlgorithmNone}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algo)
	}
}

func newGzipCompressor(writer io.Writer, level int) (*Compressor, error) {
	if level < 1 || level > 9 {
		level = 6 // gzip default
	}
	gz, err := pgzip.NewWriterLevel(writer, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	// 1MB parallel block size
	if err := gz.SetConcurrency(1<<20, runtime.NumCPU()); err != nil {
		gz.Close()
		return nil, fmt.Errorf("failed to configure parallel gzip: %w", err)
	}
	return &Compressor{
		Writer:    gz,
		closer:    gz,
		algorithm: AlgorithmGzip,
	}, nil
}

func newZstdCompressor(writer io.Writer, level int) (*Compressor, error) {
	if level < 1 || level > 22 {
		level = 3
	}
	encLevel := zstd.SpeedDefault
	switch {
	case level <= 2:
		encLevel = zstd.SpeedFastest
	case level <= 5:
		encLevel = zstd.SpeedDefault
	case level <= 9:
		encLevel = zstd.SpeedBetterCompression
	default:
		encLevel = zstd.SpeedBestCompression
	}

	enc, err := zstd.NewWriter(writer,
		zstd.WithEncoderLevel(encLevel),
		zstd.WithEncoderConcurrency(runtime.NumCPU()),
		zstd.WithWindowSize(4<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	return &Compressor{
		Writer:    enc,
		closer:    enc,
		algorithm: AlgorithmZstd,
	}, nil
}
