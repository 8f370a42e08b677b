// Package mbtilestore implements the MBTiles (SQLite) storage backend.
// It is the successor of the project's original internal/mbtiles reader
// and writer, now merged behind the store.Store interface and generalized
// from PNG-only elevation tiles to any format MBTiles can hold.
package mbtilestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tileproxy/tileproxy/internal/format"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/tile"
)

// Store is a single MBTiles file opened for read/write.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens path as an MBTiles database, creating it with schema and
// pragmas per §4.E when createIfMissing is true and the file is absent.
func Open(path string, createIfMissing bool, timeout time.Duration) (*Store, error) {
	dsn := path
	if timeout <= 0 {
		timeout = store.OpenTimeout
	}
	dsn = fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, timeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("mbtilestore: open %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = TRUNCATE",
		"PRAGMA mmap_size = 0",
		"PRAGMA foreign_keys = OFF",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("mbtilestore: pragma %q: %w", p, err)
		}
	}

	if createIfMissing {
		if err := createSchema(db); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	var count int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name='tiles'").Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("mbtilestore: verify schema: %w", err)
	}
	if count == 0 {
		db.Close()
		return nil, fmt.Errorf("mbtilestore: %q has no tiles table", path)
	}

	return &Store{db: db, path: path}, nil
}

func createSchema(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT NOT NULL PRIMARY KEY,
			value TEXT
		);
		CREATE TABLE IF NOT EXISTS tiles (
			zoom_level INTEGER NOT NULL,
			tile_column INTEGER NOT NULL,
			tile_row INTEGER NOT NULL,
			tile_data BLOB NOT NULL,
			hash TEXT,
			created BIGINT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("mbtilestore: create schema: %w", err)
	}
	return nil
}

// migrateSchema adds hash/created columns to a pre-existing tiles table
// that predates them. SQLite has no "ADD COLUMN IF NOT EXISTS"; the
// "duplicate column name" error is expected and tolerated (§4.E:
// "schema-migration errors are logged and tolerated").
func migrateSchema(db *sql.DB) error {
	for _, stmt := range []string{
		"ALTER TABLE tiles ADD COLUMN hash TEXT",
		"ALTER TABLE tiles ADD COLUMN created BIGINT",
	} {
		if _, err := db.Exec(stmt); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			// Table may not exist yet on a brand new, non-createIfMissing open;
			// that case is caught by the tiles-table check in Open.
			if !strings.Contains(err.Error(), "no such table") {
				return fmt.Errorf("mbtilestore: migrate: %w", err)
			}
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, c store.Coords) ([]byte, error) {
	tmsY := tile.FlipY(c.Z, c.Y)

	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT tile_data FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=?",
		c.Z, c.X, tmsY,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NewNotFound(c)
	}
	if err != nil {
		return nil, fmt.Errorf("mbtilestore: get %s: %w", c.String(), err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, c store.Coords, data []byte, storeTransparent bool) error {
	if !storeTransparent {
		if f, err := format.Detect(data); err == nil && f == format.PNG {
			if transparent, terr := format.IsTransparentPNG(data); terr == nil && transparent {
				return nil
			}
		}
	}

	tmsY := tile.FlipY(c.Z, c.Y)
	hash := format.MD5(data)
	created := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data, hash, created)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (zoom_level, tile_column, tile_row)
		 DO UPDATE SET tile_data=excluded.tile_data, hash=excluded.hash, created=excluded.created`,
		c.Z, c.X, tmsY, data, hash, created,
	)
	if err != nil {
		return fmt.Errorf("mbtilestore: put %s: %w", c.String(), err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, c store.Coords) error {
	tmsY := tile.FlipY(c.Z, c.Y)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=?",
		c.Z, c.X, tmsY,
	)
	if err != nil {
		return fmt.Errorf("mbtilestore: delete %s: %w", c.String(), err)
	}
	return nil
}

func (s *Store) CountTiles(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM tiles").Scan(&n); err != nil {
		return 0, fmt.Errorf("mbtilestore: count: %w", err)
	}
	return n, nil
}

func (s *Store) Size(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("mbtilestore: page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("mbtilestore: page_size: %w", err)
	}
	return pageCount * pageSize, nil
}

// Vacuum compacts the database file, the MBTiles compaction primitive
// named in §4.E.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("mbtilestore: vacuum: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("mbtilestore: close: %w", err)
	}
	return nil
}

var metadataKeys = []string{"name", "description", "attribution", "version", "type", "format", "minzoom", "maxzoom", "bounds", "center"}

func (s *Store) rawMetadata(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return nil, fmt.Errorf("mbtilestore: query metadata: %w", err)
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("mbtilestore: scan metadata row: %w", err)
		}
		m[k] = v
	}
	return m, rows.Err()
}

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
		Scheme:      tile.SchemeTMS,
	}

	if err := s.deriveZoomRange(ctx, raw, &tj); err != nil {
		return store.TileJSON{}, err
	}
	if err := s.deriveBounds(ctx, raw, &tj); err != nil {
		return store.TileJSON{}, err
	}
	if err := s.deriveFormat(ctx, &tj); err != nil {
		return store.TileJSON{}, err
	}
	s.deriveCenter(raw, &tj)

	for k, v := range raw {
		if !contains(metadataKeys, k) {
			tj = tj.WithExtra(k, v)
		}
	}
	return tj, nil
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func (s *Store) deriveZoomRange(ctx context.Context, raw map[string]string, tj *store.TileJSON) error {
	if v, ok := raw["minzoom"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			tj.MinZoom = uint32(n)
		}
	}
	if v, ok := raw["maxzoom"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			tj.MaxZoom = uint32(n)
		}
	}
	if _, hasMin := raw["minzoom"]; hasMin {
		if _, hasMax := raw["maxzoom"]; hasMax {
			return nil
		}
	}

	var minZ, maxZ sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MIN(zoom_level), MAX(zoom_level) FROM tiles").Scan(&minZ, &maxZ); err != nil {
		return fmt.Errorf("mbtilestore: derive zoom range: %w", err)
	}
	if minZ.Valid {
		tj.MinZoom = uint32(minZ.Int64)
	}
	if maxZ.Valid {
		tj.MaxZoom = uint32(maxZ.Int64)
	}
	return nil
}

func (s *Store) deriveBounds(ctx context.Context, raw map[string]string, tj *store.TileJSON) error {
	if v, ok := raw["bounds"]; ok {
		parts := strings.Split(v, ",")
		if len(parts) == 4 {
			var b tile.BBox
			ok := true
			for i, p := range parts {
				f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
				if err != nil {
					ok = false
					break
				}
				b[i] = f
			}
			if ok {
				tj.Bounds = tile.NewBBox(b[0], b[1], b[2], b[3])
				return nil
			}
		}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT zoom_level, MIN(tile_column), MAX(tile_column), MIN(tile_row), MAX(tile_row) FROM tiles GROUP BY zoom_level")
	if err != nil {
		return fmt.Errorf("mbtilestore: derive bounds: %w", err)
	}
	defer rows.Close()

	var union tile.BBox
	first := true
	for rows.Next() {
		var z uint32
		var minX, maxX, minY, maxY uint32
		if err := rows.Scan(&z, &minX, &maxX, &minY, &maxY); err != nil {
			return fmt.Errorf("mbtilestore: scan bounds row: %w", err)
		}
		b := tile.FromTileBounds(minX, minY, maxX, maxY, z, tile.SchemeTMS)
		if first {
			union = b
			first = false
		} else {
			union = tile.Cover(union, b)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("mbtilestore: derive bounds: %w", err)
	}
	if !first {
		tj.Bounds = union
	}
	return nil
}

func (s *Store) deriveFormat(ctx context.Context, tj *store.TileJSON) error {
	fetch := func(page, batchSize int) ([][]byte, error) {
		rows, err := s.db.QueryContext(ctx,
			"SELECT tile_data FROM tiles ORDER BY rowid LIMIT ? OFFSET ?", batchSize, page*batchSize)
		if err != nil {
			return nil, fmt.Errorf("mbtilestore: page tiles for metadata derivation: %w", err)
		}
		defer rows.Close()

		var batch [][]byte
		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				return nil, fmt.Errorf("mbtilestore: scan tile for metadata derivation: %w", err)
			}
			batch = append(batch, data)
		}
		return batch, rows.Err()
	}
	return store.DeriveFormatAndVectorLayers(tj, 1000, fetch)
}

func (s *Store) deriveCenter(raw map[string]string, tj *store.TileJSON) {
	if v, ok := raw["center"]; ok {
		parts := strings.Split(v, ",")
		if len(parts) == 3 {
			var c [3]float64
			ok := true
			for i, p := range parts {
				f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
				if err != nil {
					ok = false
					break
				}
				c[i] = f
			}
			if ok {
				tj.Center = c
				return
			}
		}
	}
	midZoom := (tj.MinZoom + tj.MaxZoom) / 2
	tj.Center = tile.CenterFromBBox(tj.Bounds, int(midZoom))
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
		"minzoom":     strconv.Itoa(int(merged.MinZoom)),
		"maxzoom":     strconv.Itoa(int(merged.MaxZoom)),
		"bounds":      fmt.Sprintf("%g,%g,%g,%g", merged.Bounds[0], merged.Bounds[1], merged.Bounds[2], merged.Bounds[3]),
		"center":      fmt.Sprintf("%g,%g,%g", merged.Center[0], merged.Center[1], merged.Center[2]),
		"scheme":      "tms",
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mbtilestore: update metadata: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("mbtilestore: prepare metadata upsert: %w", err)
	}
	defer stmt.Close()

	for k, v := range rows {
		if v == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("mbtilestore: upsert metadata %q: %w", k, err)
		}
	}
	return tx.Commit()
}
