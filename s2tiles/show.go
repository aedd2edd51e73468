package s2tiles

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/dustin/go-humanize"
)

// Show prints header fields and metadata of a local or remote archive.
// With showTile set it writes a single tile payload to output instead.
func Show(logger *log.Logger, output io.Writer, bucketURL string, key string, showTile bool, face uint8, zoom uint8, x uint32, y uint32) error {
	ctx := context.Background()

	bucketURL, key, err := NormalizeBucketKey(bucketURL, "", key)
	if err != nil {
		return err
	}
	bucket, err := OpenBucket(ctx, bucketURL, "")
	if err != nil {
		return fmt.Errorf("failed to open bucket for %s, %w", bucketURL, err)
	}
	defer bucket.Close()

	archive, err := OpenBucketArchive(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("failed to open archive %s, %w", key, err)
	}
	defer archive.Close()

	header, err := archive.Header(ctx)
	if err != nil {
		return fmt.Errorf("failed to read header, %w", err)
	}

	if !showTile {
		size, sizeErr := bucket.ObjectSize(ctx, key)
		if sizeErr == nil {
			fmt.Fprintf(output, "total size: %s\n", humanize.Bytes(uint64(size)))
		}
		fmt.Fprintf(output, "version: %d\n", header.Version)
		fmt.Fprintf(output, "max zoom: %d\n", header.Maxzoom)
		fmt.Fprintf(output, "compression: %s\n", header.Compression)
		fmt.Fprintf(output, "metadata size (compressed): %s\n", humanize.Bytes(uint64(header.MetadataLength)))
		metadata, err := archive.GetMetadata(ctx)
		if err != nil {
			return fmt.Errorf("failed to read metadata, %w", err)
		}
		fmt.Fprintln(output, string(metadata))
		return nil
	}

	data, found, err := archive.GetTile(ctx, face, zoom, x, y)
	if err != nil {
		return fmt.Errorf("failed to read tile, %w", err)
	}
	if !found {
		logger.Printf("tile %d/%d/%d/%d not found in archive", face, zoom, x, y)
		return nil
	}
	_, err = output.Write(data)
	return err
}
