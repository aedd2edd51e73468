package s2tiles

import (
	"encoding/json"
)

// CreateTileJSON builds a TileJSON 3.0 document for the web mercator face
// of an archive. Geographic fields the header does not carry are taken
// from the metadata blob when present.
func CreateTileJSON(header Header, metadataBytes []byte, tileURL string) ([]byte, error) {
	tilejson := make(map[string]interface{})

	var metadataMap map[string]interface{}
	json.Unmarshal(metadataBytes, &metadataMap)

	format := "mvt"
	if v, ok := metadataMap["format"].(string); ok && v != "" {
		format = v
	}

	tilejson["tilejson"] = "3.0.0"
	tilejson["scheme"] = "xyz"
	tilejson["tiles"] = []string{tileURL + "/{z}/{x}/{y}." + format}
	if v, ok := metadataMap["vector_layers"]; ok {
		tilejson["vector_layers"] = v
	}
	if v, ok := metadataMap["attribution"]; ok {
		tilejson["attribution"] = v
	}
	if v, ok := metadataMap["description"]; ok {
		tilejson["description"] = v
	}
	if v, ok := metadataMap["name"]; ok {
		tilejson["name"] = v
	}
	if v, ok := metadataMap["version"]; ok {
		tilejson["version"] = v
	}

	if v, ok := metadataMap["bounds"]; ok {
		tilejson["bounds"] = v
	} else {
		tilejson["bounds"] = []float64{-180, -85.051129, 180, 85.051129}
	}
	if v, ok := metadataMap["center"]; ok {
		tilejson["center"] = v
	}
	if v, ok := metadataMap["minzoom"]; ok {
		tilejson["minzoom"] = v
	} else {
		tilejson["minzoom"] = 0
	}
	tilejson["maxzoom"] = header.Maxzoom

	return json.Marshal(tilejson)
}
