package mbtilestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tileproxy/tileproxy/internal/format"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/tile"
)

// ExtraInfo builds a single UNION ALL query over every rectangle in cov's
// per-zoom bounds (§4.E: "build a single UNION ALL over R selects... with
// BETWEEN bounds"), then translates each row's TMS row back to XYZ before
// keying the result map.
func (s *Store) ExtraInfo(ctx context.Context, cov tile.Coverage, kind store.InfoKind) (map[string]store.TileInfo, error) {
	if len(cov.ZoomBounds) == 0 {
		return map[string]store.TileInfo{}, nil
	}

	selects := make([]string, 0, len(cov.ZoomBounds))
	args := make([]any, 0, len(cov.ZoomBounds)*5)
	for z, zb := range cov.ZoomBounds {
		tmsMinY := tile.FlipY(z, zb.MaxY)
		tmsMaxY := tile.FlipY(z, zb.MinY)
		selects = append(selects,
			"SELECT zoom_level, tile_column, tile_row, hash, created FROM tiles "+
				"WHERE zoom_level=? AND tile_column BETWEEN ? AND ? AND tile_row BETWEEN ? AND ?")
		args = append(args, z, zb.MinX, zb.MaxX, tmsMinY, tmsMaxY)
	}

	query := strings.Join(selects, " UNION ALL ")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mbtilestore: extra info query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]store.TileInfo)
	for rows.Next() {
		var z, x, tmsY uint32
		var hash sql.NullString
		var created sql.NullInt64
		if err := rows.Scan(&z, &x, &tmsY, &hash, &created); err != nil {
			return nil, fmt.Errorf("mbtilestore: scan extra info row: %w", err)
		}
		if kind == store.InfoHash && !hash.Valid {
			continue
		}
		if kind == store.InfoCreated && !created.Valid {
			continue
		}

		y := tile.FlipY(z, tmsY)
		key := fmt.Sprintf("%d/%d/%d", z, x, y)
		out[key] = store.TileInfo{Hash: hash.String, Created: created.Int64}
	}
	return out, rows.Err()
}

// CalculateExtraInfo fills hash/created for any row missing a hash, in
// batches, per §4.E's "scan NULL hashes, fill hash+created in batches".
func (s *Store) CalculateExtraInfo(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	for {
		n, err := s.fillOneBatch(ctx, batchSize)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (s *Store) fillOneBatch(ctx context.Context, batchSize int) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles WHERE hash IS NULL LIMIT ?", batchSize)
	if err != nil {
		return 0, fmt.Errorf("mbtilestore: select missing hashes: %w", err)
	}

	type pending struct {
		z, x, y uint32
		hash    string
		created int64
	}
	var batch []pending
	for rows.Next() {
		var z, x, y uint32
		var data []byte
		if err := rows.Scan(&z, &x, &y, &data); err != nil {
			rows.Close()
			return 0, fmt.Errorf("mbtilestore: scan missing hash row: %w", err)
		}
		batch = append(batch, pending{z: z, x: x, y: y, hash: format.MD5(data), created: time.Now().UnixMilli()})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(batch) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mbtilestore: begin extra info batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, "UPDATE tiles SET hash=?, created=? WHERE zoom_level=? AND tile_column=? AND tile_row=?")
	if err != nil {
		return 0, fmt.Errorf("mbtilestore: prepare extra info update: %w", err)
	}
	defer stmt.Close()

	for _, p := range batch {
		if _, err := stmt.ExecContext(ctx, p.hash, p.created, p.z, p.x, p.y); err != nil {
			return 0, fmt.Errorf("mbtilestore: update extra info %d/%d/%d: %w", p.z, p.x, p.y, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mbtilestore: commit extra info batch: %w", err)
	}
	return len(batch), nil
}
