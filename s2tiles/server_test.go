package s2tiles

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTilePaths(t *testing.T) {
	ok, key, z, x, y, ext := parseTilePath("/foo/0/0/0")
	assert.False(t, ok)
	ok, key, z, x, y, ext = parseTilePath("/foo/0/0/0.mvt")
	assert.True(t, ok)
	assert.Equal(t, "foo", key)
	assert.Equal(t, uint8(0), z)
	assert.Equal(t, uint32(0), x)
	assert.Equal(t, uint32(0), y)
	assert.Equal(t, "mvt", ext)
	ok, key, z, x, y, ext = parseTilePath("/foo/bar/12/300/400.pbf")
	assert.True(t, ok)
	assert.Equal(t, "foo/bar", key)
	assert.Equal(t, uint8(12), z)
	assert.Equal(t, uint32(300), x)
	assert.Equal(t, uint32(400), y)
	assert.Equal(t, "pbf", ext)
	// https://docs.aws.amazon.com/AmazonS3/latest/userguide/object-keys.html
	ok, key, _, _, _, _ = parseTilePath("/!-_.*'()/0/0/0.mvt")
	assert.True(t, ok)
	assert.Equal(t, "!-_.*'()", key)
}

func TestParseFaceTilePath(t *testing.T) {
	ok, key, face, z, x, y, ext := parseFaceTilePath("/foo/3/2/5/6.png")
	assert.True(t, ok)
	assert.Equal(t, "foo", key)
	assert.Equal(t, uint8(3), face)
	assert.Equal(t, uint8(2), z)
	assert.Equal(t, uint32(5), x)
	assert.Equal(t, uint32(6), y)
	assert.Equal(t, "png", ext)

	// a face segment above 5 is not a face route
	ok, _, _, _, _, _, _ = parseFaceTilePath("/foo/9/2/5/6.png")
	assert.False(t, ok)
}

func TestParseMetadataAndTileJSONPaths(t *testing.T) {
	ok, key := parseMetadataPath("/!-_.*'()/metadata")
	assert.True(t, ok)
	assert.Equal(t, "!-_.*'()", key)
	ok, key = parseTilejsonPath("/!-_.*'().json")
	assert.True(t, ok)
	assert.Equal(t, "!-_.*'()", key)
}

func TestContentTypes(t *testing.T) {
	v, ok := contentTypeFor("mvt")
	assert.True(t, ok)
	assert.Equal(t, "application/x-protobuf", v)
	_, ok = contentTypeFor("exe")
	assert.False(t, ok)

	enc, ok := contentEncodingFor(Brotli)
	assert.True(t, ok)
	assert.Equal(t, "br", enc)
	_, ok = contentEncodingFor(NoCompression)
	assert.False(t, ok)
}

func buildTestArchive(t *testing.T, maxzoom uint8) []byte {
	ctx := context.Background()
	store := NewMemStore()
	archive, err := OpenStore(ctx, store, maxzoom, NoCompression)
	assert.Nil(t, err)
	assert.Nil(t, archive.PutTileWM(ctx, 0, 0, 0, []byte("wm-root")))
	assert.Nil(t, archive.PutTileWM(ctx, 6, 33, 12, []byte("wm-leaf")))
	assert.Nil(t, archive.PutTile(ctx, 2, 1, 0, 1, []byte("face-two")))
	assert.Nil(t, archive.Commit(ctx, []byte(`{"format":"mvt","name":"test archive"}`)))
	return store.Bytes()
}

func newTestServer(t *testing.T, publicURL string) *Server {
	bucket := mockBucket{items: map[string][]byte{
		"test.s2tiles": buildTestArchive(t, 8),
	}}
	server, err := NewServerWithBucket(bucket, "", log.New(io.Discard, "", 0), 16, "", publicURL)
	assert.Nil(t, err)
	server.Start()
	return server
}

func TestServerRootTile(t *testing.T) {
	server := newTestServer(t, "")
	status, headers, body := server.Get(context.Background(), "/test/0/0/0.mvt")
	assert.Equal(t, 200, status)
	assert.Equal(t, "application/x-protobuf", headers["Content-Type"])
	assert.Equal(t, []byte("wm-root"), body)
}

func TestServerLeafTile(t *testing.T) {
	server := newTestServer(t, "")
	status, _, body := server.Get(context.Background(), "/test/6/33/12.mvt")
	assert.Equal(t, 200, status)
	assert.Equal(t, []byte("wm-leaf"), body)
}

func TestServerFaceTile(t *testing.T) {
	server := newTestServer(t, "")
	status, _, body := server.Get(context.Background(), "/test/2/1/0/1.mvt")
	assert.Equal(t, 200, status)
	assert.Equal(t, []byte("face-two"), body)
}

func TestServerTileNotFound(t *testing.T) {
	server := newTestServer(t, "")
	status, _, _ := server.Get(context.Background(), "/test/6/34/12.mvt")
	assert.Equal(t, 204, status)
	// zoom above the archive maxzoom
	status, _, _ = server.Get(context.Background(), "/test/12/0/0.mvt")
	assert.Equal(t, 404, status)
}

func TestServerArchiveNotFound(t *testing.T) {
	server := newTestServer(t, "")
	status, _, _ := server.Get(context.Background(), "/missing/0/0/0.mvt")
	assert.Equal(t, 404, status)
}

func TestServerMetadata(t *testing.T) {
	server := newTestServer(t, "")
	status, headers, body := server.Get(context.Background(), "/test/metadata")
	assert.Equal(t, 200, status)
	assert.Equal(t, "application/json", headers["Content-Type"])
	var metadata map[string]interface{}
	assert.Nil(t, json.Unmarshal(body, &metadata))
	assert.Equal(t, "test archive", metadata["name"])
}

func TestServerTileJSON(t *testing.T) {
	server := newTestServer(t, "https://example.com/tiles")
	status, _, body := server.Get(context.Background(), "/test.json")
	assert.Equal(t, 200, status)
	var tilejson map[string]interface{}
	assert.Nil(t, json.Unmarshal(body, &tilejson))
	assert.Equal(t, "3.0.0", tilejson["tilejson"])
	assert.Equal(t, []interface{}{"https://example.com/tiles/test/{z}/{x}/{y}.mvt"}, tilejson["tiles"])
	assert.Equal(t, float64(8), tilejson["maxzoom"])
}

func TestServerTileJSONRequiresPublicURL(t *testing.T) {
	server := newTestServer(t, "")
	status, _, _ := server.Get(context.Background(), "/test.json")
	assert.Equal(t, 501, status)
}

func TestServerRootAndUnknownPaths(t *testing.T) {
	server := newTestServer(t, "")
	status, _, _ := server.Get(context.Background(), "/")
	assert.Equal(t, 204, status)
	status, _, _ = server.Get(context.Background(), "/favicon.ico")
	assert.Equal(t, 404, status)
}
