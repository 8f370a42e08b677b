// Package xyzstore implements the on-disk XYZ tile backend: tiles live
// as files at <root>/<z>/<x>/<y>.<format>, with a companion SQLite
// "md5s" index tracking hash/created for extra-info queries without
// scanning the file tree. Writes and deletes go through internal/filelock
// so concurrent resolver/exporter goroutines never interleave a write.
package xyzstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tileproxy/tileproxy/internal/filelock"
	"github.com/tileproxy/tileproxy/internal/format"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/tile"
)

// Store is an XYZ-on-disk backend with its SQLite md5 index.
type Store struct {
	root      string
	extension string
	index     *sql.DB
	mu        sync.Mutex
	lockWait  time.Duration
}

// Open opens (and creates, if createIfMissing) the directory tree rooted
// at root plus its sibling "<root>.sqlite" md5 index.
func Open(root, extension string, createIfMissing bool, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = store.OpenTimeout
	}
	if extension == "" {
		extension = "png"
	}

	if createIfMissing {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("xyzstore: mkdir root %q: %w", root, err)
		}
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("xyzstore: root %q: %w", root, err)
	}

	if err := filelock.CleanStale(root); err != nil {
		return nil, fmt.Errorf("xyzstore: clean stale locks: %w", err)
	}

	indexPath := strings.TrimSuffix(root, string(filepath.Separator)) + ".sqlite"
	db, err := sql.Open("sqlite", indexPath)
	if err != nil {
		return nil, fmt.Errorf("xyzstore: open index %q: %w", indexPath, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS md5s (
		zoom_level INTEGER NOT NULL,
		tile_column INTEGER NOT NULL,
		tile_row INTEGER NOT NULL,
		hash TEXT,
		created BIGINT,
		PRIMARY KEY (zoom_level, tile_column, tile_row)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("xyzstore: create index schema: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS metadata (name TEXT PRIMARY KEY, value TEXT)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("xyzstore: create metadata table: %w", err)
	}

	return &Store{root: root, extension: extension, index: db, lockWait: timeout}, nil
}

func (s *Store) tilePath(c store.Coords) string {
	return filepath.Join(s.root, strconv.Itoa(int(c.Z)), strconv.Itoa(int(c.X)), fmt.Sprintf("%d.%s", c.Y, s.extension))
}

func (s *Store) Get(ctx context.Context, c store.Coords) ([]byte, error) {
	data, err := os.ReadFile(s.tilePath(c))
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.NewNotFound(c)
	}
	if err != nil {
		return nil, fmt.Errorf("xyzstore: get %s: %w", c.String(), err)
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

	if err := filelock.CreateFileWithLock(s.tilePath(c), data, s.lockWait); err != nil {
		return fmt.Errorf("xyzstore: put %s: %w", c.String(), err)
	}

	hash := format.MD5(data)
	created := time.Now().UnixMilli()
	if err := s.upsertIndex(ctx, c, hash, created); err != nil {
		return err
	}
	return nil
}

func (s *Store) upsertIndex(ctx context.Context, c store.Coords, hash string, created int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.index.ExecContext(ctx,
		`INSERT INTO md5s (zoom_level, tile_column, tile_row, hash, created) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (zoom_level, tile_column, tile_row) DO UPDATE SET hash=excluded.hash, created=excluded.created`,
		c.Z, c.X, c.Y, hash, created,
	)
	if err != nil {
		return fmt.Errorf("xyzstore: upsert index %s: %w", c.String(), err)
	}
	return nil
}

// Delete removes the tile file and its index row "in parallel" per
// §4.E; the two are independent failure domains so both are attempted
// even if one errors, and the first error is reported.
func (s *Store) Delete(ctx context.Context, c store.Coords) error {
	var fileErr, indexErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		fileErr = filelock.RemoveFileWithLock(s.tilePath(c), s.lockWait)
	}()
	go func() {
		defer wg.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		_, indexErr = s.index.ExecContext(ctx,
			"DELETE FROM md5s WHERE zoom_level=? AND tile_column=? AND tile_row=?", c.Z, c.X, c.Y)
	}()
	wg.Wait()

	if fileErr != nil {
		return fmt.Errorf("xyzstore: delete file %s: %w", c.String(), fileErr)
	}
	if indexErr != nil {
		return fmt.Errorf("xyzstore: delete index row %s: %w", c.String(), indexErr)
	}
	return nil
}

func (s *Store) CountTiles(ctx context.Context) (int64, error) {
	var n int64
	if err := s.index.QueryRowContext(ctx, "SELECT count(*) FROM md5s").Scan(&n); err != nil {
		return 0, fmt.Errorf("xyzstore: count: %w", err)
	}
	return n, nil
}

func (s *Store) Size(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("xyzstore: size: %w", err)
	}
	return total, nil
}

func (s *Store) Close() error {
	if err := s.index.Close(); err != nil {
		return fmt.Errorf("xyzstore: close index: %w", err)
	}
	return nil
}

// PruneEmptyDirs removes now-empty <z>/<x> directories left behind after
// a batch of deletes (§4.G step 6, "for XYZ target: after completion,
// prune now-empty parent directories").
func (s *Store) PruneEmptyDirs() error {
	zDirs, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("xyzstore: prune: read root: %w", err)
	}
	for _, zDir := range zDirs {
		if !zDir.IsDir() {
			continue
		}
		zPath := filepath.Join(s.root, zDir.Name())
		xDirs, err := os.ReadDir(zPath)
		if err != nil {
			continue
		}
		for _, xDir := range xDirs {
			if !xDir.IsDir() {
				continue
			}
			xPath := filepath.Join(zPath, xDir.Name())
			entries, err := os.ReadDir(xPath)
			if err == nil && len(entries) == 0 {
				os.Remove(xPath)
			}
		}
		entries, err := os.ReadDir(zPath)
		if err == nil && len(entries) == 0 {
			os.Remove(zPath)
		}
	}
	return nil
}
