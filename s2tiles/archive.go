package s2tiles

import (
	"context"
	"fmt"
)

// Archive is a single-file S2Tiles archive: a 128 KiB header region, six
// fixed root directories (one per S2 face), and an append-only region of
// tile payloads and leaf directories.
//
// An Archive does no locking of its own. Reads of tiles may run
// concurrently once the header has been parsed, but a PutTile or Commit
// must not overlap any other call on the same handle.
type Archive struct {
	store    Store
	header   Header
	metadata []byte
	cursor   uint64
	parsed   bool
}

// Open opens or creates the archive at path. maxzoom and compression apply
// when the file is created fresh; for an existing archive the header's
// values win.
func Open(ctx context.Context, path string, maxzoom uint8, compression Compression) (*Archive, error) {
	store, err := NewFileStore(path)
	if err != nil {
		return nil, err
	}
	archive, err := OpenStore(ctx, store, maxzoom, compression)
	if err != nil {
		store.Close()
		return nil, err
	}
	return archive, nil
}

// OpenStore opens or creates an archive over any Store. A store of size
// zero is initialized fresh with the given maxzoom and compression;
// otherwise the existing header governs and is parsed on first use.
func OpenStore(ctx context.Context, store Store, maxzoom uint8, compression Compression) (*Archive, error) {
	size, err := store.Size(ctx)
	fresh := err == nil && size == 0
	a := &Archive{store: store, cursor: DataStart}
	if fresh {
		if err := store.WriteAt(ctx, make([]byte, DataStart), 0); err != nil {
			return nil, fmt.Errorf("initialize archive: %w", err)
		}
		a.header = Header{Version: headerVersion, Maxzoom: maxzoom, Compression: compression}
		a.parsed = true
		return a, nil
	}
	if err == nil && uint64(size) > DataStart {
		a.cursor = uint64(size)
	}
	return a, nil
}

// ensureHeader parses the header of an existing archive once.
func (a *Archive) ensureHeader(ctx context.Context) error {
	if a.parsed {
		return nil
	}
	buf := make([]byte, headerPreambleLen)
	if err := a.store.ReadAt(ctx, buf, 0); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	header, err := deserializeHeader(buf)
	if err != nil {
		return err
	}
	a.header = header
	a.parsed = true
	return nil
}

// Header returns the archive header, parsing it first if needed.
func (a *Archive) Header(ctx context.Context) (Header, error) {
	if err := a.ensureHeader(ctx); err != nil {
		return Header{}, err
	}
	return a.header, nil
}

// Maxzoom returns the archive's maximum zoom.
func (a *Archive) Maxzoom(ctx context.Context) (uint8, error) {
	if err := a.ensureHeader(ctx); err != nil {
		return 0, err
	}
	return a.header.Maxzoom, nil
}

// GetMetadata returns the decompressed metadata blob.
func (a *Archive) GetMetadata(ctx context.Context) ([]byte, error) {
	if err := a.ensureHeader(ctx); err != nil {
		return nil, err
	}
	if a.metadata != nil {
		return a.metadata, nil
	}
	if a.header.MetadataLength == 0 {
		return nil, ErrMissingMetadata
	}
	compressed := make([]byte, a.header.MetadataLength)
	if err := a.store.ReadAt(ctx, compressed, headerPreambleLen); err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	metadata, err := Decompress(compressed, a.header.Compression)
	if err != nil {
		return nil, fmt.Errorf("decompress metadata: %w", err)
	}
	a.metadata = metadata
	return metadata, nil
}

// Commit writes the header preamble and compressed metadata, making all
// tiles written so far durable under this header. metadata is the raw JSON
// blob; nil keeps previously committed metadata, defaulting to "{}".
func (a *Archive) Commit(ctx context.Context, metadata []byte) error {
	if err := a.ensureHeader(ctx); err != nil {
		return err
	}
	if metadata == nil && a.header.MetadataLength > 0 {
		existing, err := a.GetMetadata(ctx)
		if err != nil {
			return err
		}
		metadata = existing
	}
	if metadata == nil {
		metadata = []byte("{}")
	}
	compressed, err := Compress(metadata, a.header.Compression)
	if err != nil {
		return fmt.Errorf("compress metadata: %w", err)
	}
	a.header.MetadataLength = uint32(len(compressed))
	serialized, err := serializeHeader(a.header, compressed)
	if err != nil {
		return err
	}
	if err := a.store.WriteAt(ctx, serialized, 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	a.metadata = metadata
	return nil
}

// Close closes the underlying store.
func (a *Archive) Close() error {
	return a.store.Close()
}

func (a *Archive) checkTileAddress(face uint8, zoom uint8, x uint32, y uint32) error {
	if face > 5 {
		return fmt.Errorf("face %d out of range", face)
	}
	if zoom > a.header.Maxzoom {
		return fmt.Errorf("zoom %d exceeds maxzoom %d", zoom, a.header.Maxzoom)
	}
	if limit := uint32(1) << zoom; x >= limit || y >= limit {
		return fmt.Errorf("tile %d/%d out of range for zoom %d", x, y, zoom)
	}
	return nil
}

func (a *Archive) readNodeAt(ctx context.Context, off uint64) (Node, error) {
	buf := make([]byte, NodeLen)
	if err := a.store.ReadAt(ctx, buf, int64(off)); err != nil {
		return Node{}, fmt.Errorf("read node at %d: %w", off, err)
	}
	return unmarshalNode(buf), nil
}

func (a *Archive) writeNodeAt(ctx context.Context, off uint64, n Node) error {
	buf := make([]byte, NodeLen)
	if err := marshalNode(buf, n); err != nil {
		return err
	}
	if err := a.store.WriteAt(ctx, buf, int64(off)); err != nil {
		return fmt.Errorf("write node at %d: %w", off, err)
	}
	return nil
}

// walk descends the directory trie to the node slot for a tile. It returns
// the byte offset of that slot and whether every directory on the way
// exists. With create set, missing directories are allocated zeroed at the
// append cursor and linked in.
func (a *Archive) walk(ctx context.Context, face uint8, zoom uint8, x uint32, y uint32, create bool) (uint64, bool, error) {
	path := tilePath(zoom, x, y)
	cursor := uint64(HeaderRegionLen) + uint64(face)*RootDirLen
	maxzoom := a.header.Maxzoom
	for depth := 0; ; depth++ {
		cursor += path[depth] * NodeLen
		if depth == len(path)-1 {
			return cursor, true, nil
		}
		// A directory whose root sits at maxzoom would hold a single
		// node; the parent's bottom-level slot serves as the tile node
		// instead.
		if maxzoom%5 == 0 && depth == len(path)-2 && zoom == maxzoom && path[depth+1] == 0 {
			return cursor, true, nil
		}
		node, err := a.readNodeAt(ctx, cursor)
		if err != nil {
			return 0, false, err
		}
		if node.Offset == 0 {
			if !create {
				return 0, false, nil
			}
			childSize := dirByteSize(uint8(5*(depth+1)), maxzoom)
			childOff := a.cursor
			if childOff > MaxOffset {
				return 0, false, fmt.Errorf("%w: %d", ErrOffsetOverflow, childOff)
			}
			if err := a.store.WriteAt(ctx, make([]byte, childSize), int64(childOff)); err != nil {
				return 0, false, fmt.Errorf("allocate directory: %w", err)
			}
			if err := a.writeNodeAt(ctx, cursor, Node{Offset: childOff, Length: uint32(childSize)}); err != nil {
				return 0, false, err
			}
			a.cursor += childSize
			cursor = childOff
			continue
		}
		cursor = node.Offset
	}
}

// HasTile reports whether a tile is present on the given face.
func (a *Archive) HasTile(ctx context.Context, face uint8, zoom uint8, x uint32, y uint32) (bool, error) {
	if err := a.ensureHeader(ctx); err != nil {
		return false, err
	}
	if err := a.checkTileAddress(face, zoom, x, y); err != nil {
		return false, err
	}
	slot, found, err := a.walk(ctx, face, zoom, x, y, false)
	if err != nil || !found {
		return false, err
	}
	node, err := a.readNodeAt(ctx, slot)
	if err != nil {
		return false, err
	}
	return node.present() && node.Length > 0, nil
}

// GetTile returns the decompressed payload of a tile on the given face.
// found is false when the tile is absent.
func (a *Archive) GetTile(ctx context.Context, face uint8, zoom uint8, x uint32, y uint32) ([]byte, bool, error) {
	if err := a.ensureHeader(ctx); err != nil {
		return nil, false, err
	}
	if err := a.checkTileAddress(face, zoom, x, y); err != nil {
		return nil, false, err
	}
	slot, found, err := a.walk(ctx, face, zoom, x, y, false)
	if err != nil || !found {
		return nil, false, err
	}
	node, err := a.readNodeAt(ctx, slot)
	if err != nil {
		return nil, false, err
	}
	if !node.present() || node.Length == 0 {
		return nil, false, nil
	}
	compressed := make([]byte, node.Length)
	if err := a.store.ReadAt(ctx, compressed, int64(node.Offset)); err != nil {
		return nil, false, fmt.Errorf("read tile payload: %w", err)
	}
	data, err := Decompress(compressed, a.header.Compression)
	if err != nil {
		return nil, false, fmt.Errorf("decompress tile: %w", err)
	}
	return data, true, nil
}

// PutTile writes a tile payload on the given face, compressing it with the
// archive's codec. Writing the same address again appends a fresh payload
// and repoints the node; old bytes are never reclaimed.
func (a *Archive) PutTile(ctx context.Context, face uint8, zoom uint8, x uint32, y uint32, data []byte) error {
	if err := a.ensureHeader(ctx); err != nil {
		return err
	}
	if err := a.checkTileAddress(face, zoom, x, y); err != nil {
		return err
	}
	compressed, err := Compress(data, a.header.Compression)
	if err != nil {
		return fmt.Errorf("compress tile: %w", err)
	}
	if len(compressed) == 0 {
		// A zero-length record is indistinguishable from an absent
		// node, so there is nothing to write.
		return nil
	}
	slot, _, err := a.walk(ctx, face, zoom, x, y, true)
	if err != nil {
		return err
	}
	payloadOff := a.cursor
	if payloadOff > MaxOffset {
		return fmt.Errorf("%w: %d", ErrOffsetOverflow, payloadOff)
	}
	if err := a.store.WriteAt(ctx, compressed, int64(payloadOff)); err != nil {
		return fmt.Errorf("write tile payload: %w", err)
	}
	if err := a.writeNodeAt(ctx, slot, Node{Offset: payloadOff, Length: uint32(len(compressed))}); err != nil {
		return err
	}
	a.cursor += uint64(len(compressed))
	return nil
}

// HasTileWM reports whether a web mercator tile is present. Web mercator
// tiles live on face 0.
func (a *Archive) HasTileWM(ctx context.Context, zoom uint8, x uint32, y uint32) (bool, error) {
	return a.HasTile(ctx, 0, zoom, x, y)
}

// GetTileWM returns the decompressed payload of a web mercator tile.
func (a *Archive) GetTileWM(ctx context.Context, zoom uint8, x uint32, y uint32) ([]byte, bool, error) {
	return a.GetTile(ctx, 0, zoom, x, y)
}

// PutTileWM writes a web mercator tile on face 0.
func (a *Archive) PutTileWM(ctx context.Context, zoom uint8, x uint32, y uint32, data []byte) error {
	return a.PutTile(ctx, 0, zoom, x, y, data)
}
