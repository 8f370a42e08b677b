// Package pgstore implements the PostgreSQL storage backend: the same
// relational shape as MBTiles (zoom_level, tile_column, tile_row,
// tile_data) but with BYTEA columns, $1..$n placeholders, and
// "ADD COLUMN IF NOT EXISTS" migrations, per §4.E.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tileproxy/tileproxy/internal/format"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/tile"
)

// Store is a PostgreSQL-backed tile table, identified by a table name so
// multiple sources can share one database/connection pool.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// Open connects to uri (a postgres:// connection string) and, when
// createIfMissing, creates the named table and its schema.
func Open(ctx context.Context, uri, table string, createIfMissing bool, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = store.OpenTimeout
	}
	cfg, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse connection uri: %w", err)
	}
	cfg.ConnConfig.ConnectTimeout = timeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}

	s := &Store{pool: pool, table: sanitizeIdent(table)}
	if createIfMissing {
		if err := s.createSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	if err := s.migrateSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// sanitizeIdent restricts table names to identifier-safe characters,
// since table names cannot be parameterized in SQL and are interpolated
// directly below.
func sanitizeIdent(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "tiles"
	}
	return b.String()
}

func (s *Store) createSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			zoom_level INTEGER NOT NULL,
			tile_column INTEGER NOT NULL,
			tile_row INTEGER NOT NULL,
			tile_data BYTEA NOT NULL,
			hash TEXT,
			created BIGINT,
			PRIMARY KEY (zoom_level, tile_column, tile_row)
		)`, s.table))
	if err != nil {
		return fmt.Errorf("pgstore: create schema: %w", err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_metadata (name TEXT PRIMARY KEY, value TEXT)`, s.table))
	if err != nil {
		return fmt.Errorf("pgstore: create metadata table: %w", err)
	}
	return nil
}

func (s *Store) migrateSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS hash TEXT", s.table),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS created BIGINT", s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, c store.Coords) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT tile_data FROM %s WHERE zoom_level=$1 AND tile_column=$2 AND tile_row=$3", s.table),
		c.Z, c.X, c.Y,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.NewNotFound(c)
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get %s: %w", c.String(), err)
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

	hash := format.MD5(data)
	created := time.Now().UnixMilli()

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (zoom_level, tile_column, tile_row, tile_data, hash, created)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (zoom_level, tile_column, tile_row)
		DO UPDATE SET tile_data=excluded.tile_data, hash=excluded.hash, created=excluded.created`, s.table),
		c.Z, c.X, c.Y, data, hash, created,
	)
	if err != nil {
		return fmt.Errorf("pgstore: put %s: %w", c.String(), err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, c store.Coords) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE zoom_level=$1 AND tile_column=$2 AND tile_row=$3", s.table),
		c.Z, c.X, c.Y,
	)
	if err != nil {
		return fmt.Errorf("pgstore: delete %s: %w", c.String(), err)
	}
	return nil
}

func (s *Store) CountTiles(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgstore: count: %w", err)
	}
	return n, nil
}

func (s *Store) Size(ctx context.Context) (int64, error) {
	var bytes int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COALESCE(SUM(length(tile_data)), 0) FROM %s", s.table)).Scan(&bytes); err != nil {
		return 0, fmt.Errorf("pgstore: size: %w", err)
	}
	return bytes, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var metadataKeys = []string{"name", "description", "attribution", "version", "type", "format", "minzoom", "maxzoom", "bounds", "center"}

func (s *Store) Metadata(ctx context.Context) (store.TileJSON, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT name, value FROM %s_metadata", s.table))
	if err != nil {
		return store.TileJSON{}, fmt.Errorf("pgstore: query metadata: %w", err)
	}
	raw := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return store.TileJSON{}, fmt.Errorf("pgstore: scan metadata row: %w", err)
		}
		raw[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
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

	var minZ, maxZ *int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT MIN(zoom_level), MAX(zoom_level) FROM %s", s.table)).Scan(&minZ, &maxZ); err != nil {
		return store.TileJSON{}, fmt.Errorf("pgstore: derive zoom range: %w", err)
	}
	if minZ != nil {
		tj.MinZoom = uint32(*minZ)
	}
	if maxZ != nil {
		tj.MaxZoom = uint32(*maxZ)
	}

	if b, ok := raw["bounds"]; ok {
		parts := strings.Split(b, ",")
		if len(parts) == 4 {
			var v [4]float64
			ok := true
			for i, p := range parts {
				f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
				if err != nil {
					ok = false
					break
				}
				v[i] = f
			}
			if ok {
				tj.Bounds = tile.NewBBox(v[0], v[1], v[2], v[3])
			}
		}
	} else if err := s.deriveBoundsFromRows(ctx, &tj); err != nil {
		return store.TileJSON{}, err
	}

	midZoom := (tj.MinZoom + tj.MaxZoom) / 2
	tj.Center = tile.CenterFromBBox(tj.Bounds, int(midZoom))

	if err := store.DeriveFormatAndVectorLayers(&tj, 1000, s.tilePage(ctx)); err != nil {
		return store.TileJSON{}, err
	}

	for k, v := range raw {
		if !contains(metadataKeys, k) {
			tj = tj.WithExtra(k, v)
		}
	}
	return tj, nil
}

// tilePage pages through the tile table itself, ordered for a stable
// cursor, for metadata derivation (format sniff, vector_layers union).
func (s *Store) tilePage(ctx context.Context) store.TilePage {
	return func(page, batchSize int) ([][]byte, error) {
		rows, err := s.pool.Query(ctx, fmt.Sprintf(
			"SELECT tile_data FROM %s ORDER BY zoom_level, tile_column, tile_row LIMIT $1 OFFSET $2", s.table),
			batchSize, page*batchSize)
		if err != nil {
			return nil, fmt.Errorf("pgstore: page tiles for metadata derivation: %w", err)
		}
		defer rows.Close()

		var batch [][]byte
		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				return nil, fmt.Errorf("pgstore: scan tile for metadata derivation: %w", err)
			}
			batch = append(batch, data)
		}
		return batch, rows.Err()
	}
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func (s *Store) deriveBoundsFromRows(ctx context.Context, tj *store.TileJSON) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT zoom_level, MIN(tile_column), MAX(tile_column), MIN(tile_row), MAX(tile_row) FROM %s GROUP BY zoom_level", s.table))
	if err != nil {
		return fmt.Errorf("pgstore: derive bounds: %w", err)
	}
	defer rows.Close()

	var union tile.BBox
	first := true
	for rows.Next() {
		var z, minX, maxX, minY, maxY uint32
		if err := rows.Scan(&z, &minX, &maxX, &minY, &maxY); err != nil {
			return fmt.Errorf("pgstore: scan bounds row: %w", err)
		}
		b := tile.FromTileBounds(minX, minY, maxX, maxY, z, tile.SchemeXYZ)
		if first {
			union, first = b, false
		} else {
			union = tile.Cover(union, b)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if !first {
		tj.Bounds = union
	}
	return nil
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: update metadata: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for k, v := range rows {
		if v == "" {
			continue
		}
		_, err := tx.Exec(ctx, fmt.Sprintf(
			"INSERT INTO %s_metadata (name, value) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET value=excluded.value", s.table),
			k, v)
		if err != nil {
			return fmt.Errorf("pgstore: upsert metadata %q: %w", k, err)
		}
	}
	return tx.Commit(ctx)
}
