package s2tiles

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// Edit replaces the metadata of an existing archive. The header region is
// fixed-size, so the rewrite happens in place; metadata that does not fit
// the region is rejected.
func Edit(logger *log.Logger, inputArchive string, newMetadataFile string) error {
	if newMetadataFile == "" {
		return fmt.Errorf("must supply --metadata to edit")
	}

	metadata, err := os.ReadFile(newMetadataFile)
	if err != nil {
		return err
	}
	if !json.Valid(metadata) {
		return fmt.Errorf("%s is not valid JSON", newMetadataFile)
	}

	ctx := context.Background()
	store, err := NewFileStore(inputArchive)
	if err != nil {
		return err
	}
	archive, err := OpenStore(ctx, store, 0, UnknownCompression)
	if err != nil {
		store.Close()
		return err
	}
	defer archive.Close()

	if _, err := archive.Header(ctx); err != nil {
		return err
	}
	if err := archive.Commit(ctx, metadata); err != nil {
		return err
	}
	logger.Printf("replaced metadata of %s with %s", inputArchive, newMetadataFile)
	return nil
}
