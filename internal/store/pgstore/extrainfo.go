package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tileproxy/tileproxy/internal/format"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/tile"
)

func (s *Store) ExtraInfo(ctx context.Context, cov tile.Coverage, kind store.InfoKind) (map[string]store.TileInfo, error) {
	if len(cov.ZoomBounds) == 0 {
		return map[string]store.TileInfo{}, nil
	}

	selects := make([]string, 0, len(cov.ZoomBounds))
	args := make([]any, 0, len(cov.ZoomBounds)*5)
	n := 1
	for z, zb := range cov.ZoomBounds {
		selects = append(selects, fmt.Sprintf(
			"SELECT zoom_level, tile_column, tile_row, hash, created FROM %s "+
				"WHERE zoom_level=$%d AND tile_column BETWEEN $%d AND $%d AND tile_row BETWEEN $%d AND $%d",
			s.table, n, n+1, n+2, n+3, n+4))
		args = append(args, z, zb.MinX, zb.MaxX, zb.MinY, zb.MaxY)
		n += 5
	}

	rows, err := s.pool.Query(ctx, strings.Join(selects, " UNION ALL "), args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: extra info query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]store.TileInfo)
	for rows.Next() {
		var z, x, y uint32
		var hash *string
		var created *int64
		if err := rows.Scan(&z, &x, &y, &hash, &created); err != nil {
			return nil, fmt.Errorf("pgstore: scan extra info row: %w", err)
		}
		if kind == store.InfoHash && hash == nil {
			continue
		}
		if kind == store.InfoCreated && created == nil {
			continue
		}
		info := store.TileInfo{}
		if hash != nil {
			info.Hash = *hash
		}
		if created != nil {
			info.Created = *created
		}
		out[fmt.Sprintf("%d/%d/%d", z, x, y)] = info
	}
	return out, rows.Err()
}

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
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT zoom_level, tile_column, tile_row, tile_data FROM %s WHERE hash IS NULL LIMIT $1", s.table), batchSize)
	if err != nil {
		return 0, fmt.Errorf("pgstore: select missing hashes: %w", err)
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
			return 0, fmt.Errorf("pgstore: scan missing hash row: %w", err)
		}
		batch = append(batch, pending{z, x, y, format.MD5(data), time.Now().UnixMilli()})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("pgstore: begin extra info batch: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, p := range batch {
		_, err := tx.Exec(ctx,
			fmt.Sprintf("UPDATE %s SET hash=$1, created=$2 WHERE zoom_level=$3 AND tile_column=$4 AND tile_row=$5", s.table),
			p.hash, p.created, p.z, p.x, p.y)
		if err != nil {
			return 0, fmt.Errorf("pgstore: update extra info %d/%d/%d: %w", p.z, p.x, p.y, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("pgstore: commit extra info batch: %w", err)
	}
	return len(batch), nil
}
