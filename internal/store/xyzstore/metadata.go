package xyzstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/tile"
)

func (s *Store) Metadata(ctx context.Context) (store.TileJSON, error) {
	raw, err := s.rawMetadata(ctx)
	if err != nil {
		return store.TileJSON{}, err
	}

	tj := store.TileJSON{
		Name:        raw["name"],
		Description: raw["description"],
		Attribution: raw["attribution"],
		Version:     raw["version"],
		Type:        raw["type"],
		Format:      raw["format"],
		Scheme:      tile.SchemeXYZ,
	}
	if tj.Format == "" {
		tj.Format = s.extension
	}

	var minZ, maxZ sql.NullInt64
	if err := s.index.QueryRowContext(ctx, "SELECT MIN(zoom_level), MAX(zoom_level) FROM md5s").Scan(&minZ, &maxZ); err != nil {
		return store.TileJSON{}, fmt.Errorf("xyzstore: derive zoom range: %w", err)
	}
	if minZ.Valid {
		tj.MinZoom = uint32(minZ.Int64)
	}
	if maxZ.Valid {
		tj.MaxZoom = uint32(maxZ.Int64)
	}

	rows, err := s.index.QueryContext(ctx,
		"SELECT zoom_level, MIN(tile_column), MAX(tile_column), MIN(tile_row), MAX(tile_row) FROM md5s GROUP BY zoom_level")
	if err != nil {
		return store.TileJSON{}, fmt.Errorf("xyzstore: derive bounds: %w", err)
	}
	defer rows.Close()

	var union tile.BBox
	first := true
	for rows.Next() {
		var z, minX, maxX, minY, maxY uint32
		if err := rows.Scan(&z, &minX, &maxX, &minY, &maxY); err != nil {
			return store.TileJSON{}, fmt.Errorf("xyzstore: scan bounds row: %w", err)
		}
		b := tile.FromTileBounds(minX, minY, maxX, maxY, z, tile.SchemeXYZ)
		if first {
			union, first = b, false
		} else {
			union = tile.Cover(union, b)
		}
	}
	if err := rows.Err(); err != nil {
		return store.TileJSON{}, err
	}
	if !first {
		tj.Bounds = union
	}

	midZoom := (tj.MinZoom + tj.MaxZoom) / 2
	tj.Center = tile.CenterFromBBox(tj.Bounds, int(midZoom))

	if err := store.DeriveFormatAndVectorLayers(&tj, 1000, s.tilePage(ctx)); err != nil {
		return store.TileJSON{}, err
	}

	return tj, nil
}

// tilePage pages through the md5 index for coordinate tuples, reading each
// tile's bytes off disk. A file that's gone missing since it was indexed is
// skipped rather than failing the whole page.
func (s *Store) tilePage(ctx context.Context) store.TilePage {
	return func(page, batchSize int) ([][]byte, error) {
		rows, err := s.index.QueryContext(ctx,
			"SELECT zoom_level, tile_column, tile_row FROM md5s ORDER BY zoom_level, tile_column, tile_row LIMIT ? OFFSET ?",
			batchSize, page*batchSize)
		if err != nil {
			return nil, fmt.Errorf("xyzstore: page md5s for metadata derivation: %w", err)
		}
		defer rows.Close()

		var coords []store.Coords
		for rows.Next() {
			var c store.Coords
			if err := rows.Scan(&c.Z, &c.X, &c.Y); err != nil {
				return nil, fmt.Errorf("xyzstore: scan md5s row: %w", err)
			}
			coords = append(coords, c)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		var batch [][]byte
		for _, c := range coords {
			data, err := os.ReadFile(s.tilePath(c))
			if err != nil {
				continue
			}
			batch = append(batch, data)
		}
		return batch, nil
	}
}

func (s *Store) rawMetadata(ctx context.Context) (map[string]string, error) {
	rows, err := s.index.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return nil, fmt.Errorf("xyzstore: query metadata: %w", err)
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("xyzstore: scan metadata row: %w", err)
		}
		m[k] = v
	}
	return m, rows.Err()
}

func (s *Store) UpdateMetadata(ctx context.Context, patch store.MetadataPatch) error {
	current, err := s.Metadata(ctx)
	if err != nil {
		return err
	}
	merged := patch.Apply(current)

	rows := map[string]string{
		"name":        merged.Name,
		"description": merged.Description,
		"attribution": merged.Attribution,
		"version":     merged.Version,
		"type":        merged.Type,
		"format":      merged.Format,
		"bounds":      fmt.Sprintf("%g,%g,%g,%g", merged.Bounds[0], merged.Bounds[1], merged.Bounds[2], merged.Bounds[3]),
		"center":      fmt.Sprintf("%g,%g,%g", merged.Center[0], merged.Center[1], merged.Center[2]),
		"scheme":      "xyz",
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.index.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("xyzstore: update metadata: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("xyzstore: prepare metadata upsert: %w", err)
	}
	defer stmt.Close()

	for k, v := range rows {
		if v == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("xyzstore: upsert metadata %q: %w", k, err)
		}
	}
	return tx.Commit()
}
