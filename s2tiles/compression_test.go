package s2tiles

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompressionRoundtrip(t *testing.T) {
	payload := bytes.Repeat([]byte("s2tiles"), 100)
	for _, compression := range []Compression{NoCompression, Gzip, Brotli, Zstd} {
		compressed, err := Compress(payload, compression)
		assert.Nil(t, err)
		result, err := Decompress(compressed, compression)
		assert.Nil(t, err)
		assert.Equal(t, payload, result)
	}
}

func TestNoCompressionIdentity(t *testing.T) {
	payload := []byte{1, 2, 3}
	compressed, err := Compress(payload, NoCompression)
	assert.Nil(t, err)
	assert.Equal(t, payload, compressed)
}

func TestCompressUnknown(t *testing.T) {
	_, err := Compress([]byte{1}, UnknownCompression)
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
	_, err = Decompress([]byte{1}, Compression(9))
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]Compression{
		"none":   NoCompression,
		"gzip":   Gzip,
		"brotli": Brotli,
		"br":     Brotli,
		"zstd":   Zstd,
	} {
		got, err := ParseCompression(name)
		assert.Nil(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("lzma")
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
}

func TestCompressionString(t *testing.T) {
	assert.Equal(t, "gzip", Compression(Gzip).String())
	assert.Equal(t, "unknown", UnknownCompression.String())
}
