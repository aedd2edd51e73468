package s2tiles

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMbtilesMetadataToJSON(t *testing.T) {
	blob, maxzoom, err := mbtilesMetadataToJSON([]string{
		"name", "test_fixture",
		"format", "pbf",
		"bounds", "-180.0,-85,180,85",
		"maxzoom", "11",
	})
	assert.Nil(t, err)
	assert.Equal(t, uint8(11), maxzoom)

	var parsed map[string]interface{}
	assert.Nil(t, json.Unmarshal(blob, &parsed))
	assert.Equal(t, "test_fixture", parsed["name"])
	assert.Equal(t, "pbf", parsed["format"])
	assert.Equal(t, "-180.0,-85,180,85", parsed["bounds"])
}

func TestMbtilesMetadataJSONRowMerged(t *testing.T) {
	blob, _, err := mbtilesMetadataToJSON([]string{
		"name", "test_fixture",
		"json", `{"vector_layers": [{"id": "water"}], "tilestats": {"layerCount": 1}}`,
	})
	assert.Nil(t, err)

	var parsed map[string]interface{}
	assert.Nil(t, json.Unmarshal(blob, &parsed))
	assert.Equal(t, "test_fixture", parsed["name"])
	layers, ok := parsed["vector_layers"].([]interface{})
	assert.True(t, ok)
	assert.Equal(t, 1, len(layers))
	_, ok = parsed["tilestats"]
	assert.True(t, ok)
	// the json row itself is folded away, not kept verbatim
	_, ok = parsed["json"]
	assert.False(t, ok)
}

func TestMbtilesMetadataBadJSONRow(t *testing.T) {
	_, _, err := mbtilesMetadataToJSON([]string{"json", "{corrupt"})
	assert.NotNil(t, err)
}

func TestMbtilesMetadataMaxzoomMissingOrOutOfRange(t *testing.T) {
	_, maxzoom, err := mbtilesMetadataToJSON([]string{"name", "no zoom here"})
	assert.Nil(t, err)
	assert.Equal(t, uint8(0), maxzoom)

	_, maxzoom, err = mbtilesMetadataToJSON([]string{"maxzoom", "31"})
	assert.Nil(t, err)
	assert.Equal(t, uint8(0), maxzoom)
}
