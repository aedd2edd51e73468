package s2tiles

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/paulmach/orb"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

type extractTile struct {
	zoom uint8
	x    uint32
	y    uint32
}

// listFaceTiles walks one face of an archive and returns every addressed
// tile with zoom in [minzoom, maxzoom], in directory order.
func listFaceTiles(ctx context.Context, store Store, face uint8, archiveMaxzoom uint8, minzoom uint8, maxzoom uint8) ([]extractTile, error) {
	tiles := make([]extractTile, 0)

	var walkDir func(dirOffset uint64, depth uint8, baseX uint32, baseY uint32) error
	walkDir = func(dirOffset uint64, depth uint8, baseX uint32, baseY uint32) error {
		size := dirByteSize(depth, archiveMaxzoom)
		b := make([]byte, size)
		if err := store.ReadAt(ctx, b, int64(dirOffset)); err != nil {
			return fmt.Errorf("read directory at %d: %w", dirOffset, err)
		}
		for slot := uint64(0); slot < size/NodeLen; slot++ {
			node := unmarshalNode(b[slot*NodeLen:])
			if !node.present() {
				continue
			}
			if slot >= levelOffsets[5] && archiveMaxzoom-depth > 5 {
				rel := slot - levelOffsets[5]
				lx := uint32(rel) & 31
				ly := uint32(rel >> 5)
				if err := walkDir(node.Offset, depth+5, baseX<<5|lx, baseY<<5|ly); err != nil {
					return err
				}
				continue
			}
			level := uint8(5)
			for lvl := uint8(0); lvl < 5; lvl++ {
				if slot < levelOffsets[lvl+1] {
					level = lvl
					break
				}
			}
			rel := slot - levelOffsets[level]
			lx := uint32(rel) & ((1 << level) - 1)
			ly := uint32(rel >> level)
			z := depth + level
			if z < minzoom || z > maxzoom {
				continue
			}
			x, y := baseX<<level|lx, baseY<<level|ly
			if level < 5 {
				// the residual level below five holds the tile's highest
				// bits; the five-bit slices above it hold the lower ones
				x, y = lx<<depth|baseX, ly<<depth|baseY
			}
			tiles = append(tiles, extractTile{zoom: z, x: x, y: y})
		}
		return nil
	}

	if err := walkDir(HeaderRegionLen+uint64(face)*RootDirLen, 0, 0, 0); err != nil {
		return nil, err
	}
	return tiles, nil
}

// Extract copies a zoom- and region-limited subset of a local or remote
// archive's web mercator face into a new local archive. With no region
// or bbox the whole face within the zoom range is copied.
func Extract(logger *log.Logger, bucketURL string, file string, output string, bbox string, regionFile string, minzoom int8, maxzoom int8, threads int, dryRun bool) error {
	start := time.Now()
	ctx := context.Background()

	if bbox != "" && regionFile != "" {
		return fmt.Errorf("only one of --bbox and --region may be given")
	}
	if threads < 1 {
		threads = 1
	}

	bucketURL, key, err := NormalizeBucketKey(bucketURL, "", file)
	if err != nil {
		return err
	}
	bucket, err := OpenBucket(ctx, bucketURL, "")
	if err != nil {
		return fmt.Errorf("failed to open bucket for %s, %w", bucketURL, err)
	}
	defer bucket.Close()

	source, err := OpenBucketArchive(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("failed to open archive %s, %w", key, err)
	}
	defer source.Close()

	header, err := source.Header(ctx)
	if err != nil {
		return err
	}

	if maxzoom < 0 || uint8(maxzoom) > header.Maxzoom {
		maxzoom = int8(header.Maxzoom)
	}
	if minzoom < 0 {
		minzoom = 0
	}
	if uint8(minzoom) > uint8(maxzoom) {
		return fmt.Errorf("minzoom %d exceeds maxzoom %d", minzoom, maxzoom)
	}

	var relevant *roaring64.Bitmap
	var region orb.MultiPolygon
	if regionFile != "" {
		data, err := os.ReadFile(regionFile)
		if err != nil {
			return err
		}
		region, err = UnmarshalRegion(data)
		if err != nil {
			return err
		}
	} else if bbox != "" {
		region, err = BboxRegion(bbox)
		if err != nil {
			return err
		}
	}
	if region != nil {
		relevant, err = coverMultiPolygon(uint8(maxzoom), region)
		if err != nil {
			return err
		}
		addParents(relevant, uint8(minzoom))
	}

	candidates, err := listFaceTiles(ctx, source.store, 0, header.Maxzoom, uint8(minzoom), uint8(maxzoom))
	if err != nil {
		return err
	}
	tiles := candidates
	if relevant != nil {
		tiles = make([]extractTile, 0, len(candidates))
		for _, t := range candidates {
			if relevant.Contains(zxyToID(t.zoom, t.x, t.y)) {
				tiles = append(tiles, t)
			}
		}
	}

	logger.Printf("extracting %d of %d tiles, zoom %d-%d", len(tiles), len(candidates), minzoom, maxzoom)
	if dryRun {
		return nil
	}

	metadata, err := source.GetMetadata(ctx)
	if err != nil {
		return err
	}

	dest, err := Open(ctx, output, uint8(maxzoom), header.Compression)
	if err != nil {
		return err
	}
	defer dest.Close()

	bar := progressbar.Default(int64(len(tiles)))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for _, t := range tiles {
		t := t
		g.Go(func() error {
			data, found, err := source.GetTileWM(gctx, t.zoom, t.x, t.y)
			if err != nil {
				return fmt.Errorf("read tile %d/%d/%d: %w", t.zoom, t.x, t.y, err)
			}
			if !found {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if err := dest.PutTileWM(gctx, t.zoom, t.x, t.y, data); err != nil {
				return fmt.Errorf("write tile %d/%d/%d: %w", t.zoom, t.x, t.y, err)
			}
			bar.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := dest.Commit(ctx, metadata); err != nil {
		return err
	}
	logger.Printf("extracted %d tiles to %s in %v", len(tiles), output, time.Since(start))
	return nil
}
