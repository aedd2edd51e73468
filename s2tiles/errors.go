package s2tiles

import "errors"

var (
	// ErrBadMagic means the first two header bytes are not "S2".
	ErrBadMagic = errors.New("s2tiles: bad magic number")
	// ErrMissingMetadata means the header declares a zero-length metadata blob.
	ErrMissingMetadata = errors.New("s2tiles: missing metadata")
	// ErrMetadataTooLarge means the compressed metadata does not fit the header region.
	ErrMetadataTooLarge = errors.New("s2tiles: metadata too large")
	// ErrUnsupportedCompression means the codec byte is not a known compression.
	ErrUnsupportedCompression = errors.New("s2tiles: unsupported compression")
	// ErrOffsetOverflow means a byte offset does not fit in 48 bits.
	ErrOffsetOverflow = errors.New("s2tiles: offset exceeds 48 bits")
)
