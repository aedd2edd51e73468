package s2tiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderRoundtrip(t *testing.T) {
	metadata := []byte(`{"name":"test"}`)
	b, err := serializeHeader(Header{Version: 1, Maxzoom: 14, Compression: Gzip}, metadata)
	assert.Nil(t, err)
	assert.Equal(t, headerPreambleLen+len(metadata), len(b))

	header, err := deserializeHeader(b)
	assert.Nil(t, err)
	assert.Equal(t, uint16(1), header.Version)
	assert.Equal(t, uint8(14), header.Maxzoom)
	assert.Equal(t, Compression(Gzip), header.Compression)
	assert.Equal(t, uint32(len(metadata)), header.MetadataLength)

	got, err := metadataBytes(b, header)
	assert.Nil(t, err)
	assert.Equal(t, metadata, got)
}

func TestHeaderMagic(t *testing.T) {
	b, err := serializeHeader(Header{Version: 1}, nil)
	assert.Nil(t, err)
	assert.Equal(t, byte('S'), b[0])
	assert.Equal(t, byte('2'), b[1])

	b[0] = 'P'
	_, err = deserializeHeader(b)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestHeaderTooShort(t *testing.T) {
	_, err := deserializeHeader([]byte{0x53, 0x32})
	assert.NotNil(t, err)
}

func TestHeaderMetadataTooLarge(t *testing.T) {
	_, err := serializeHeader(Header{Version: 1}, make([]byte, MaxMetadataLen+1))
	assert.ErrorIs(t, err, ErrMetadataTooLarge)

	b, err := serializeHeader(Header{Version: 1}, make([]byte, MaxMetadataLen))
	assert.Nil(t, err)
	assert.Equal(t, HeaderRegionLen, len(b))
}

func TestMetadataMissing(t *testing.T) {
	b, err := serializeHeader(Header{Version: 1}, nil)
	assert.Nil(t, err)
	header, err := deserializeHeader(b)
	assert.Nil(t, err)
	_, err = metadataBytes(b, header)
	assert.ErrorIs(t, err, ErrMissingMetadata)
}
