// Package compression detects and undoes the stream compressions used by
// game save files.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Algorithm identifies a stream compression.
type Algorithm string

const (
	None Algorithm = "none"
	Gzip Algorithm = "gzip"
	Zlib Algorithm = "zlib"
)

// DefaultMaxSize caps decompressed output so a hostile file cannot exhaust memory.
const DefaultMaxSize = 256 << 20

// Detect inspects the leading bytes of data.
func Detect(data []byte) Algorithm {
	if len(data) < 2 {
		return None
	}

	// gzip magic number
	if data[0] == 0x1f && data[1] == 0x8b {
		return Gzip
	}

	// zlib: deflate method with a header checksum divisible by 31
	if data[0]&0x0f == 0x08 && data[0]>>4 <= 7 && (uint16(data[0])<<8|uint16(data[1]))%31 == 0 {
		return Zlib
	}

	return None
}

// NewReader wraps r with a decompressor for alg.
func NewReader(r io.Reader, alg Algorithm) (io.ReadCloser, error) {
	switch alg {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return zr, nil
	case Zlib:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib reader: %w", err)
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}

// Decompress detects the compression of data and returns the decoded bytes,
// reading at most maxSize bytes of output (0 = DefaultMaxSize).
func Decompress(data []byte, maxSize int64) ([]byte, Algorithm, error) {
	alg := Detect(data)
	if alg == None {
		return data, None, nil
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	reader, err := NewReader(bytes.NewReader(data), alg)
	if err != nil {
		return nil, alg, err
	}
	defer reader.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(reader, maxSize+1))
	if err != nil {
		return nil, alg, fmt.Errorf("failed to decompress data: %w", err)
	}
	if n > maxSize {
		return nil, alg, fmt.Errorf("decompressed data exceeds %d bytes", maxSize)
	}
	return buf.Bytes(), alg, nil
}

// Compress encodes data with alg at the given level (0 = default level).
func Compress(data []byte, alg Algorithm, level int) ([]byte, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}

	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch alg {
	case None, "":
		return data, nil
	case Gzip:
		w, err = gzip.NewWriterLevel(&buf, level)
	case Zlib:
		w, err = zlib.NewWriterLevel(&buf, level)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s writer: %w", alg, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to compress data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s writer: %w", alg, err)
	}
	return buf.Bytes(), nil
}
