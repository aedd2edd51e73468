package s2tiles

import (
	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
)

// coverMultiPolygon rasterizes a WGS84 multipolygon into the set of
// Hilbert tile IDs at the given zoom that intersect it: the boundary
// tiles of every ring plus the interior filled along the curve.
func coverMultiPolygon(zoom uint8, multipolygon orb.MultiPolygon) (*roaring64.Bitmap, error) {
	covered := roaring64.New()

	for _, polygon := range multipolygon {
		for _, ring := range polygon {
			boundaryTiles, err := tilecover.Geometry(orb.LineString(ring), maptile.Zoom(zoom))
			if err != nil {
				return nil, err
			}
			for tile := range boundaryTiles {
				covered.Add(zxyToID(uint8(tile.Z), tile.X, tile.Y))
			}
		}
	}

	projected := project.MultiPolygon(multipolygon.Clone(), project.WGS84.ToMercator)

	// a gap between two boundary IDs on the curve is either entirely
	// inside or entirely outside the region; one center test decides
	interior := roaring64.New()
	i := covered.Iterator()
	for i.HasNext() {
		id := i.Next()
		if !covered.Contains(id+1) && i.HasNext() {
			z, x, y := idToZxy(id + 1)
			tile := maptile.New(x, y, maptile.Zoom(z))
			if planar.MultiPolygonContains(projected, project.Point(tile.Center(), project.WGS84.ToMercator)) {
				interior.AddRange(id+1, i.PeekNext())
			}
		}
	}

	covered.Or(interior)
	return covered, nil
}

// addParents extends a tile ID bitmap upward: for every member, its
// ancestors down to minzoom are added.
func addParents(r *roaring64.Bitmap, minzoom uint8) {
	if r.GetCardinality() == 0 {
		return
	}
	maxZ, _, _ := idToZxy(r.ReverseIterator().Next())

	temp := roaring64.New()
	toIterate := r

	for currentZ := int(maxZ); currentZ > int(minzoom); currentZ-- {
		iter := toIterate.Iterator()
		for iter.HasNext() {
			temp.Add(parentID(iter.Next()))
		}
		toIterate = temp
		r.Or(temp)
		temp = roaring64.New()
	}
}
