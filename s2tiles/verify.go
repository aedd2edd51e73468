package s2tiles

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/dustin/go-humanize"
)

// Verify audits the directory structure of a local or remote archive:
// every reachable directory is walked per the fixed geometry, node offsets
// are checked against the data region and the file length, and pointer
// node lengths are checked against the directory sizes the maxzoom
// implies.
func Verify(logger *log.Logger, bucketURL string, file string) error {
	start := time.Now()
	ctx := context.Background()

	bucketURL, key, err := NormalizeBucketKey(bucketURL, "", file)
	if err != nil {
		return err
	}
	bucket, err := OpenBucket(ctx, bucketURL, "")
	if err != nil {
		return fmt.Errorf("failed to open bucket for %s, %w", bucketURL, err)
	}
	defer bucket.Close()

	fileSize, err := bucket.ObjectSize(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to size %s, %w", key, err)
	}

	readRange := func(offset, length uint64) ([]byte, error) {
		r, err := bucket.NewRangeReader(ctx, key, int64(offset), int64(length))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}

	headerBytes, err := readRange(0, headerPreambleLen)
	if err != nil {
		return fmt.Errorf("failed to read %s, %w", key, err)
	}
	header, err := deserializeHeader(headerBytes)
	if err != nil {
		return err
	}
	maxzoom := header.Maxzoom

	invalid := 0
	report := func(format string, args ...interface{}) {
		invalid++
		fmt.Printf("Invalid: "+format+"\n", args...)
	}

	tileCount := 0
	payloadOffsets := roaring64.New()

	var auditDir func(dirOffset uint64, depth uint8) error
	auditDir = func(dirOffset uint64, depth uint8) error {
		size := dirByteSize(depth, maxzoom)
		b, err := readRange(dirOffset, size)
		if err != nil {
			return fmt.Errorf("failed to read directory at %d, %w", dirOffset, err)
		}
		for slot := uint64(0); slot < size/NodeLen; slot++ {
			node := unmarshalNode(b[slot*NodeLen:])
			if !node.present() {
				continue
			}
			if node.Offset < DataStart {
				report("node at dir %d slot %d points into the header or root region: offset %d", dirOffset, slot, node.Offset)
				continue
			}
			if node.Offset+uint64(node.Length) > uint64(fileSize) {
				report("node at dir %d slot %d extends past end of file: offset %d length %d", dirOffset, slot, node.Offset, node.Length)
				continue
			}
			isPointer := slot >= levelOffsets[5] && maxzoom-depth > 5
			if isPointer {
				expected := dirByteSize(depth+5, maxzoom)
				if uint64(node.Length) != expected {
					report("pointer at dir %d slot %d has length %d, geometry requires %d", dirOffset, slot, node.Length, expected)
					continue
				}
				if err := auditDir(node.Offset, depth+5); err != nil {
					return err
				}
			} else {
				tileCount++
				payloadOffsets.Add(node.Offset)
			}
		}
		return nil
	}

	for face := uint64(0); face < 6; face++ {
		if err := auditDir(HeaderRegionLen+face*RootDirLen, 0); err != nil {
			return err
		}
	}

	fmt.Printf("archive size: %s\n", humanize.Bytes(uint64(fileSize)))
	fmt.Printf("max zoom: %d\n", maxzoom)
	fmt.Printf("compression: %s\n", header.Compression)
	fmt.Printf("tiles addressed: %s\n", humanize.Comma(int64(tileCount)))
	fmt.Printf("distinct payload offsets: %s\n", humanize.Comma(int64(payloadOffsets.GetCardinality())))
	fmt.Printf("completed verify in %v\n", time.Since(start))

	if invalid > 0 {
		return fmt.Errorf("verification failed with %d problems", invalid)
	}
	logger.Printf("verified %s", file)
	return nil
}
