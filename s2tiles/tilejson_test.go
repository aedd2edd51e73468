package s2tiles

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func parseTileJSON(t *testing.T, raw []byte) map[string]interface{} {
	var result map[string]interface{}
	assert.Nil(t, json.Unmarshal(raw, &result))
	return result
}

func TestCreateTileJSONDefaults(t *testing.T) {
	header := Header{Version: headerVersion, Maxzoom: 7, Compression: Gzip}
	raw, err := CreateTileJSON(header, []byte(`{}`), "https://example.com/tiles/test")
	assert.Nil(t, err)
	tilejson := parseTileJSON(t, raw)

	assert.Equal(t, "3.0.0", tilejson["tilejson"])
	assert.Equal(t, "xyz", tilejson["scheme"])
	assert.Equal(t, []interface{}{"https://example.com/tiles/test/{z}/{x}/{y}.mvt"}, tilejson["tiles"])
	assert.Equal(t, []interface{}{float64(-180), -85.051129, float64(180), 85.051129}, tilejson["bounds"])
	assert.Equal(t, float64(0), tilejson["minzoom"])
	assert.Equal(t, float64(7), tilejson["maxzoom"])
	_, ok := tilejson["name"]
	assert.False(t, ok)
	_, ok = tilejson["vector_layers"]
	assert.False(t, ok)
}

func TestCreateTileJSONMetadataPassthrough(t *testing.T) {
	header := Header{Version: headerVersion, Maxzoom: 12, Compression: Zstd}
	metadata := []byte(`{
		"format": "png",
		"name": "satellite",
		"attribution": "mapdata",
		"description": "imagery pyramid",
		"version": "2",
		"bounds": [-10.5, -5.0, 10.5, 5.0],
		"center": [0.0, 0.0, 4],
		"minzoom": 3,
		"vector_layers": [{"id": "landuse"}]
	}`)
	raw, err := CreateTileJSON(header, metadata, "https://example.com/t/sat")
	assert.Nil(t, err)
	tilejson := parseTileJSON(t, raw)

	assert.Equal(t, []interface{}{"https://example.com/t/sat/{z}/{x}/{y}.png"}, tilejson["tiles"])
	assert.Equal(t, "satellite", tilejson["name"])
	assert.Equal(t, "mapdata", tilejson["attribution"])
	assert.Equal(t, "imagery pyramid", tilejson["description"])
	assert.Equal(t, "2", tilejson["version"])
	assert.Equal(t, []interface{}{-10.5, -5.0, 10.5, 5.0}, tilejson["bounds"])
	assert.Equal(t, []interface{}{0.0, 0.0, float64(4)}, tilejson["center"])
	assert.Equal(t, float64(3), tilejson["minzoom"])
	assert.Equal(t, float64(12), tilejson["maxzoom"])
	layers, ok := tilejson["vector_layers"].([]interface{})
	assert.True(t, ok)
	assert.Equal(t, 1, len(layers))
}

func TestCreateTileJSONGarbageMetadata(t *testing.T) {
	header := Header{Version: headerVersion, Maxzoom: 2, Compression: NoCompression}
	raw, err := CreateTileJSON(header, []byte("not json"), "https://example.com/x")
	assert.Nil(t, err)
	tilejson := parseTileJSON(t, raw)
	assert.Equal(t, []interface{}{"https://example.com/x/{z}/{x}/{y}.mvt"}, tilejson["tiles"])
	assert.Equal(t, float64(2), tilejson["maxzoom"])
}
