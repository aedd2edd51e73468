package s2tiles

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArchiveFreshLayout(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	archive, err := OpenStore(ctx, store, 9, NoCompression)
	assert.Nil(t, err)
	assert.Equal(t, DataStart, len(store.Bytes()))

	header, err := archive.Header(ctx)
	assert.Nil(t, err)
	assert.Equal(t, headerVersion, header.Version)
	assert.Equal(t, uint8(9), header.Maxzoom)
}

func TestArchiveSingleTileLayout(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	archive, err := OpenStore(ctx, store, 9, NoCompression)
	assert.Nil(t, err)

	payload := make([]byte, 35)
	for i := range payload {
		payload[i] = byte(i)
	}
	assert.Nil(t, archive.PutTileWM(ctx, 9, 22, 9, payload))

	// one leaf directory of 3410 bytes plus the payload
	assert.Equal(t, DataStart+3410+35, len(store.Bytes()))

	got, found, err := archive.GetTileWM(ctx, 9, 22, 9)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, payload, got)

	has, err := archive.HasTileWM(ctx, 9, 22, 9)
	assert.Nil(t, err)
	assert.True(t, has)

	_, found, err = archive.GetTileWM(ctx, 9, 23, 9)
	assert.Nil(t, err)
	assert.False(t, found)
}

func TestArchiveRootLevelTile(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	archive, err := OpenStore(ctx, store, 4, NoCompression)
	assert.Nil(t, err)

	payload := []byte("zoom zero")
	assert.Nil(t, archive.PutTileWM(ctx, 0, 0, 0, payload))
	// no leaf directories below zoom 5
	assert.Equal(t, DataStart+len(payload), len(store.Bytes()))

	got, found, err := archive.GetTileWM(ctx, 0, 0, 0)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, payload, got)
}

func TestArchiveTerminalShortcut(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	archive, err := OpenStore(ctx, store, 10, NoCompression)
	assert.Nil(t, err)

	payload := make([]byte, 35)
	assert.Nil(t, archive.PutTileWM(ctx, 10, 513, 513, payload))

	// the zoom 10 node lives in the zoom 5 directory, so only one leaf
	// directory of 13650 bytes is allocated
	assert.Equal(t, DataStart+13650+35, len(store.Bytes()))

	_, found, err := archive.GetTileWM(ctx, 10, 513, 513)
	assert.Nil(t, err)
	assert.True(t, found)
}

func TestArchiveDensePyramid(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	archive, err := OpenStore(ctx, store, 7, NoCompression)
	assert.Nil(t, err)

	for zoom := uint8(0); zoom <= 7; zoom++ {
		limit := uint32(1) << zoom
		step := limit/4 + 1
		for x := uint32(0); x < limit; x += step {
			for y := uint32(0); y < limit; y += step {
				payload := []byte{zoom, byte(x), byte(y), 0xFF}
				assert.Nil(t, archive.PutTileWM(ctx, zoom, x, y, payload))
			}
		}
	}
	for zoom := uint8(0); zoom <= 7; zoom++ {
		limit := uint32(1) << zoom
		step := limit/4 + 1
		for x := uint32(0); x < limit; x += step {
			for y := uint32(0); y < limit; y += step {
				got, found, err := archive.GetTileWM(ctx, zoom, x, y)
				assert.Nil(t, err)
				assert.True(t, found)
				assert.Equal(t, []byte{zoom, byte(x), byte(y), 0xFF}, got)
			}
		}
	}
}

func TestArchiveFacesIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	archive, err := OpenStore(ctx, store, 6, NoCompression)
	assert.Nil(t, err)

	for face := uint8(0); face < 6; face++ {
		assert.Nil(t, archive.PutTile(ctx, face, 6, 10, 20, []byte{face}))
	}
	for face := uint8(0); face < 6; face++ {
		got, found, err := archive.GetTile(ctx, face, 6, 10, 20)
		assert.Nil(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte{face}, got)
	}
}

func TestArchiveAddressBounds(t *testing.T) {
	ctx := context.Background()
	archive, err := OpenStore(ctx, NewMemStore(), 5, NoCompression)
	assert.Nil(t, err)

	assert.NotNil(t, archive.PutTile(ctx, 6, 0, 0, 0, []byte{1}))
	assert.NotNil(t, archive.PutTile(ctx, 0, 6, 0, 0, []byte{1}))
	assert.NotNil(t, archive.PutTile(ctx, 0, 3, 8, 0, []byte{1}))
	assert.NotNil(t, archive.PutTile(ctx, 0, 3, 0, 8, []byte{1}))
	_, _, err = archive.GetTile(ctx, 0, 6, 0, 0)
	assert.NotNil(t, err)
}

func TestArchiveOverwriteAppends(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	archive, err := OpenStore(ctx, store, 3, NoCompression)
	assert.Nil(t, err)

	assert.Nil(t, archive.PutTileWM(ctx, 3, 1, 2, []byte("old")))
	before := len(store.Bytes())
	assert.Nil(t, archive.PutTileWM(ctx, 3, 1, 2, []byte("newer")))
	assert.Greater(t, len(store.Bytes()), before)

	got, found, err := archive.GetTileWM(ctx, 3, 1, 2)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("newer"), got)
}

func TestArchiveEmptyPayloadSkipped(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	archive, err := OpenStore(ctx, store, 3, NoCompression)
	assert.Nil(t, err)

	assert.Nil(t, archive.PutTileWM(ctx, 2, 0, 0, nil))
	assert.Equal(t, DataStart, len(store.Bytes()))

	has, err := archive.HasTileWM(ctx, 2, 0, 0)
	assert.Nil(t, err)
	assert.False(t, has)
}

func TestArchiveCommitReopen(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	archive, err := OpenStore(ctx, store, 8, Gzip)
	assert.Nil(t, err)

	payload := bytes.Repeat([]byte("tile"), 50)
	assert.Nil(t, archive.PutTileWM(ctx, 8, 100, 200, payload))
	metadata := []byte(`{"name":"reopen","format":"mvt"}`)
	assert.Nil(t, archive.Commit(ctx, metadata))

	reopened, err := OpenStore(ctx, NewMemStoreBytes(store.Bytes()), 0, UnknownCompression)
	assert.Nil(t, err)
	header, err := reopened.Header(ctx)
	assert.Nil(t, err)
	assert.Equal(t, uint8(8), header.Maxzoom)
	assert.Equal(t, Compression(Gzip), header.Compression)

	got, err := reopened.GetMetadata(ctx)
	assert.Nil(t, err)
	assert.Equal(t, metadata, got)

	data, found, err := reopened.GetTileWM(ctx, 8, 100, 200)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, payload, data)

	// appends continue past the previous end
	assert.Nil(t, reopened.PutTileWM(ctx, 1, 0, 1, []byte("more")))
	data, found, err = reopened.GetTileWM(ctx, 1, 0, 1)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("more"), data)
}

func TestArchiveCommitDefaultMetadata(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	archive, err := OpenStore(ctx, store, 2, NoCompression)
	assert.Nil(t, err)
	assert.Nil(t, archive.Commit(ctx, nil))

	reopened, err := OpenStore(ctx, NewMemStoreBytes(store.Bytes()), 0, UnknownCompression)
	assert.Nil(t, err)
	metadata, err := reopened.GetMetadata(ctx)
	assert.Nil(t, err)
	assert.Equal(t, []byte("{}"), metadata)
}

func TestArchiveBadMagic(t *testing.T) {
	ctx := context.Background()
	garbage := make([]byte, DataStart)
	copy(garbage, "XX")
	archive, err := OpenStore(ctx, NewMemStoreBytes(garbage), 0, UnknownCompression)
	assert.Nil(t, err)
	_, err = archive.Header(ctx)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestArchiveCorners(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	archive, err := OpenStore(ctx, store, 12, Zstd)
	assert.Nil(t, err)

	limit := uint32(1) << 12
	corners := [][2]uint32{{0, 0}, {limit - 1, 0}, {0, limit - 1}, {limit - 1, limit - 1}}
	for i, c := range corners {
		assert.Nil(t, archive.PutTileWM(ctx, 12, c[0], c[1], []byte{byte(i), 1, 2}))
	}
	for i, c := range corners {
		got, found, err := archive.GetTileWM(ctx, 12, c[0], c[1])
		assert.Nil(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte{byte(i), 1, 2}, got)
	}
}
