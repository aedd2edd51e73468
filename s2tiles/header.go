package s2tiles

import (
	"encoding/binary"
	"fmt"
)

const (
	// headerMagic is "S2" read as a little-endian uint16.
	headerMagic uint16 = 0x3253
	// headerVersion is the format version this package writes. Reading
	// does not check the version field.
	headerVersion uint16 = 1
	// headerPreambleLen is the byte length of the fixed header fields.
	headerPreambleLen = 10
	// MaxMetadataLen is the largest compressed metadata blob the header
	// region can hold.
	MaxMetadataLen = HeaderRegionLen - headerPreambleLen
)

// Header is the fixed preamble at the start of an archive. Metadata bytes
// follow it within the header region.
type Header struct {
	Version        uint16
	Maxzoom        uint8
	Compression    Compression
	MetadataLength uint32
}

// serializeHeader encodes the preamble and compressed metadata. The result
// is written at offset 0 and is at most HeaderRegionLen bytes.
func serializeHeader(h Header, compressedMetadata []byte) ([]byte, error) {
	if len(compressedMetadata) > MaxMetadataLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrMetadataTooLarge, len(compressedMetadata))
	}
	b := make([]byte, headerPreambleLen+len(compressedMetadata))
	binary.LittleEndian.PutUint16(b[0:2], headerMagic)
	binary.LittleEndian.PutUint16(b[2:4], h.Version)
	b[4] = h.Maxzoom
	b[5] = uint8(h.Compression)
	binary.LittleEndian.PutUint32(b[6:10], uint32(len(compressedMetadata)))
	copy(b[headerPreambleLen:], compressedMetadata)
	return b, nil
}

// deserializeHeader decodes the preamble from the start of the header region.
func deserializeHeader(b []byte) (Header, error) {
	if len(b) < headerPreambleLen {
		return Header{}, fmt.Errorf("header too short: %d bytes", len(b))
	}
	if binary.LittleEndian.Uint16(b[0:2]) != headerMagic {
		return Header{}, ErrBadMagic
	}
	h := Header{
		Version:        binary.LittleEndian.Uint16(b[2:4]),
		Maxzoom:        b[4],
		Compression:    Compression(b[5]),
		MetadataLength: binary.LittleEndian.Uint32(b[6:10]),
	}
	if h.MetadataLength > MaxMetadataLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrMetadataTooLarge, h.MetadataLength)
	}
	return h, nil
}

// metadataBytes slices the compressed metadata out of the header region.
func metadataBytes(region []byte, h Header) ([]byte, error) {
	if h.MetadataLength == 0 {
		return nil, ErrMissingMetadata
	}
	end := headerPreambleLen + int(h.MetadataLength)
	if end > len(region) {
		return nil, fmt.Errorf("metadata extends past header region: %d bytes", h.MetadataLength)
	}
	return region[headerPreambleLen:end], nil
}
