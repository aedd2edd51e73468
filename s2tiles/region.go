package s2tiles

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// UnmarshalRegion accepts a GeoJSON FeatureCollection, Feature, or bare
// Geometry and returns the polygonal area it describes.
func UnmarshalRegion(data []byte) (orb.MultiPolygon, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err == nil {
		retval := make([]orb.Polygon, 0)
		for _, f := range fc.Features {
			switch v := f.Geometry.(type) {
			case orb.Polygon:
				retval = append(retval, v)
			case orb.MultiPolygon:
				retval = append(retval, v...)
			}
		}
		if len(retval) > 0 {
			return retval, nil
		}
	}

	f, err := geojson.UnmarshalFeature(data)
	if err == nil {
		switch v := f.Geometry.(type) {
		case orb.Polygon:
			return []orb.Polygon{v}, nil
		case orb.MultiPolygon:
			return v, nil
		}
	}

	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	switch v := g.Geometry().(type) {
	case orb.Polygon:
		return []orb.Polygon{v}, nil
	case orb.MultiPolygon:
		return v, nil
	}

	return nil, fmt.Errorf("no polygonal geometry in region")
}

// BboxRegion parses "min_lon,min_lat,max_lon,max_lat" into a one-ring
// multipolygon.
func BboxRegion(bbox string) (orb.MultiPolygon, error) {
	parts := strings.Split(bbox, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must be min_lon,min_lat,max_lon,max_lat")
	}
	vals := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("parse bbox coordinate %q: %w", part, err)
		}
		vals[i] = v
	}
	minLon, minLat, maxLon, maxLat := vals[0], vals[1], vals[2], vals[3]
	if minLon >= maxLon || minLat >= maxLat {
		return nil, fmt.Errorf("bbox min must be less than max")
	}
	return orb.MultiPolygon{{{
		{minLon, maxLat},
		{maxLon, maxLat},
		{maxLon, minLat},
		{minLon, minLat},
		{minLon, maxLat},
	}}}, nil
}
