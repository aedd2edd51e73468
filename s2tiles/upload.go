package s2tiles

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/schollz/progressbar/v3"
	"gocloud.dev/blob"
)

// Upload streams a local archive to a cloud bucket key.
func Upload(logger *log.Logger, input string, bucketURL string, key string, maxConcurrency int) error {
	ctx := context.Background()

	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return fmt.Errorf("failed to open bucket: %w", err)
	}
	defer b.Close()

	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	filestat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	bar := progressbar.Default(filestat.Size())

	opts := &blob.WriterOptions{
		BufferSize:     256 * 1024 * 1024,
		MaxConcurrency: maxConcurrency,
	}

	w, err := b.NewWriter(ctx, key, opts)
	if err != nil {
		return fmt.Errorf("failed to obtain writer: %w", err)
	}

	buffer := make([]byte, 8*1024)
	for {
		n, err := f.Read(buffer)
		if n == 0 {
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			continue
		}
		if _, err := w.Write(buffer[:n]); err != nil {
			return fmt.Errorf("failed to write to bucket: %w", err)
		}
		bar.Add(n)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	logger.Printf("uploaded %s to %s", input, key)
	return nil
}
