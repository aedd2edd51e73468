package s2tiles

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/schollz/progressbar/v3"
	"zombiezen.com/go/sqlite"
)

// mbtilesMetadataToJSON folds the MBTiles metadata table into one JSON
// blob. The "json" row, when present, holds a document whose fields
// (vector_layers and friends) are merged at the top level.
func mbtilesMetadataToJSON(rows []string) ([]byte, uint8, error) {
	metadata := make(map[string]interface{})
	var maxzoom int64 = -1
	for i := 0; i+1 < len(rows); i += 2 {
		name, value := rows[i], rows[i+1]
		if name == "json" {
			var embedded map[string]interface{}
			if err := json.Unmarshal([]byte(value), &embedded); err != nil {
				return nil, 0, fmt.Errorf("parse mbtiles json row: %w", err)
			}
			for k, v := range embedded {
				metadata[k] = v
			}
			continue
		}
		if name == "maxzoom" {
			fmt.Sscanf(value, "%d", &maxzoom)
		}
		metadata[name] = value
	}
	blob, err := json.Marshal(metadata)
	if err != nil {
		return nil, 0, err
	}
	if maxzoom < 0 || maxzoom > 30 {
		return blob, 0, nil
	}
	return blob, uint8(maxzoom), nil
}

// Convert builds an S2Tiles archive from an MBTiles file. Tiles land on
// the web mercator face with the TMS row order flipped to XYZ.
func Convert(logger *log.Logger, input string, output string, compression Compression) error {
	start := time.Now()
	ctx := context.Background()

	conn, err := sqlite.OpenConn(input, sqlite.OpenReadOnly)
	if err != nil {
		return err
	}
	defer conn.Close()

	mbtilesMetadata := make([]string, 0)
	{
		stmt, _, err := conn.PrepareTransient("SELECT name, value FROM metadata")
		if err != nil {
			return err
		}
		defer stmt.Finalize()
		for {
			row, err := stmt.Step()
			if err != nil {
				return err
			}
			if !row {
				break
			}
			mbtilesMetadata = append(mbtilesMetadata, stmt.ColumnText(0))
			mbtilesMetadata = append(mbtilesMetadata, stmt.ColumnText(1))
		}
	}
	metadata, maxzoom, err := mbtilesMetadataToJSON(mbtilesMetadata)
	if err != nil {
		return err
	}

	if maxzoom == 0 {
		stmt, _, err := conn.PrepareTransient("SELECT max(zoom_level) FROM tiles")
		if err != nil {
			return err
		}
		defer stmt.Finalize()
		row, err := stmt.Step()
		if err != nil {
			return err
		}
		if row {
			maxzoom = uint8(stmt.ColumnInt64(0))
		}
	}

	var totalTiles int64
	{
		stmt, _, err := conn.PrepareTransient("SELECT count(*) FROM tiles")
		if err != nil {
			return err
		}
		defer stmt.Finalize()
		row, err := stmt.Step()
		if err != nil {
			return err
		}
		if !row {
			return fmt.Errorf("no tile count")
		}
		totalTiles = stmt.ColumnInt64(0)
	}

	archive, err := Open(ctx, output, maxzoom, compression)
	if err != nil {
		return err
	}
	defer archive.Close()

	logger.Printf("writing %d tiles at maxzoom %d", totalTiles, maxzoom)
	bar := progressbar.Default(totalTiles)
	{
		stmt, _, err := conn.PrepareTransient("SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles")
		if err != nil {
			return err
		}
		defer stmt.Finalize()

		var rawTile bytes.Buffer
		for {
			row, err := stmt.Step()
			if err != nil {
				return err
			}
			if !row {
				break
			}
			z := uint8(stmt.ColumnInt64(0))
			x := uint32(stmt.ColumnInt64(1))
			tmsY := uint32(stmt.ColumnInt64(2))
			y := (uint32(1) << z) - 1 - tmsY

			rawTile.Reset()
			if _, err := io.Copy(&rawTile, stmt.ColumnReader(3)); err != nil {
				return err
			}
			data := rawTile.Bytes()
			if len(data) >= 2 && data[0] == 31 && data[1] == 139 {
				// mbtiles vector tiles are typically stored gzipped;
				// unwrap so the archive codec applies uniformly
				gr, err := gzip.NewReader(bytes.NewReader(data))
				if err != nil {
					return err
				}
				data, err = io.ReadAll(gr)
				gr.Close()
				if err != nil {
					return err
				}
			}

			if err := archive.PutTileWM(ctx, z, x, y, data); err != nil {
				return fmt.Errorf("write tile %d/%d/%d: %w", z, x, y, err)
			}
			bar.Add(1)
		}
	}

	if err := archive.Commit(ctx, metadata); err != nil {
		return err
	}
	logger.Printf("converted %s to %s in %v", input, output, time.Since(start))
	return nil
}
