package xyzstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
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
	for z, zb := range cov.ZoomBounds {
		selects = append(selects,
			"SELECT zoom_level, tile_column, tile_row, hash, created FROM md5s "+
				"WHERE zoom_level=? AND tile_column BETWEEN ? AND ? AND tile_row BETWEEN ? AND ?")
		args = append(args, z, zb.MinX, zb.MaxX, zb.MinY, zb.MaxY)
	}

	rows, err := s.index.QueryContext(ctx, strings.Join(selects, " UNION ALL "), args...)
	if err != nil {
		return nil, fmt.Errorf("xyzstore: extra info query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]store.TileInfo)
	for rows.Next() {
		var z, x, y uint32
		var hash sql.NullString
		var created sql.NullInt64
		if err := rows.Scan(&z, &x, &y, &hash, &created); err != nil {
			return nil, fmt.Errorf("xyzstore: scan extra info row: %w", err)
		}
		if kind == store.InfoHash && !hash.Valid {
			continue
		}
		if kind == store.InfoCreated && !created.Valid {
			continue
		}
		key := fmt.Sprintf("%d/%d/%d", z, x, y)
		out[key] = store.TileInfo{Hash: hash.String, Created: created.Int64}
	}
	return out, rows.Err()
}

// CalculateExtraInfo fills hash/created for every tile file not yet
// present in the md5s index, in batches.
func (s *Store) CalculateExtraInfo(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	var batch []store.Coords
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		for _, c := range batch {
			data, err := os.ReadFile(s.tilePath(c))
			if err != nil {
				continue
			}
			if err := s.upsertIndex(ctx, c, format.MD5(data), time.Now().UnixMilli()); err != nil {
				return err
			}
		}
		batch = batch[:0]
		return nil
	}

	zDirs, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("xyzstore: calculate extra info: read root: %w", err)
	}
	for _, zDir := range zDirs {
		z, ok := parseUint(zDir.Name())
		if !zDir.IsDir() || !ok {
			continue
		}
		xDirs, err := os.ReadDir(s.root + "/" + zDir.Name())
		if err != nil {
			continue
		}
		for _, xDir := range xDirs {
			x, ok := parseUint(xDir.Name())
			if !xDir.IsDir() || !ok {
				continue
			}
			yFiles, err := os.ReadDir(s.root + "/" + zDir.Name() + "/" + xDir.Name())
			if err != nil {
				continue
			}
			for _, yFile := range yFiles {
				y, ok := parseUint(strings.TrimSuffix(yFile.Name(), "."+s.extension))
				if !ok {
					continue
				}
				if s.hasIndexRow(ctx, z, x, y) {
					continue
				}
				batch = append(batch, store.Coords{Z: z, X: x, Y: y})
				if len(batch) >= batchSize {
					if err := flush(); err != nil {
						return err
					}
				}
			}
		}
	}
	return flush()
}

func (s *Store) hasIndexRow(ctx context.Context, z, x, y uint32) bool {
	var n int
	_ = s.index.QueryRowContext(ctx,
		"SELECT count(*) FROM md5s WHERE zoom_level=? AND tile_column=? AND tile_row=? AND hash IS NOT NULL", z, x, y).Scan(&n)
	return n > 0
}

func parseUint(s string) (uint32, bool) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
