package s2tiles

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Compression is the algorithm applied to tile payloads and metadata.
type Compression uint8

const (
	// UnknownCompression is an unrecognized codec byte.
	UnknownCompression Compression = 0
	// NoCompression stores bytes as-is.
	NoCompression = 1
	// Gzip compression.
	Gzip = 2
	// Brotli compression.
	Brotli = 3
	// Zstd compression.
	Zstd = 4
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Zstd:
		return "zstd"
	}
	return "unknown"
}

// ParseCompression maps a codec name to its Compression value.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return NoCompression, nil
	case "gzip":
		return Gzip, nil
	case "brotli", "br":
		return Brotli, nil
	case "zstd":
		return Zstd, nil
	}
	return UnknownCompression, fmt.Errorf("%w: %q", ErrUnsupportedCompression, name)
}

// Compress encodes data with the given codec. NoCompression returns data
// unchanged.
func Compress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case NoCompression:
		return data, nil
	case Gzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("gzip writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		return buf.Bytes(), nil
	case Brotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("brotli compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("brotli close: %w", err)
		}
		return buf.Bytes(), nil
	case Zstd:
		w, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		out := w.EncodeAll(data, nil)
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zstd close: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, compression)
}

// Decompress decodes data written by Compress with the same codec.
func Decompress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case NoCompression:
		return data, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		return out, nil
	case Brotli:
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("brotli decompress: %w", err)
		}
		return out, nil
	case Zstd:
		r, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer r.Close()
		out, err := r.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, compression)
}
