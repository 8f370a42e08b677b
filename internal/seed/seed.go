// Package seed implements §4.H: a single-flight-per-process driver that
// runs a batch of seed entries (exports and file downloads) followed by
// a batch of cleanup entries (tile and file removal). Triggering it on
// a cron schedule or via supervisor IPC is an external collaborator's
// job (§1 Non-goals list schedulers as out of scope); this package only
// implements what one triggered run does.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/concurrency"
	"github.com/tileproxy/tileproxy/internal/export"
	"github.com/tileproxy/tileproxy/internal/resolver"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/tile"
)

// SeedKind tags which of the two seed variants an entry is.
type SeedKind int

const (
	SeedExport SeedKind = iota
	SeedDownload
)

// SeedEntry is one configured seed action.
type SeedEntry struct {
	ID       string
	Kind     SeedKind
	Export   *export.Params
	Download *DownloadSpec
}

// DownloadSpec seeds a single plain file (style/geojson/font/sprite)
// from its forward URL through resolver.ResolveFile. An existing local
// copy at Path is returned as is and not re-downloaded, and fetched bytes
// are written to Path only when Forward.StoreCache is set.
type DownloadSpec struct {
	Path    string
	Forward resolver.FileForward
}

// CleanupKind tags which of the two cleanup variants an entry is.
type CleanupKind int

const (
	CleanupRemoveTile CleanupKind = iota
	CleanupRemoveFile
)

// CleanupEntry is one configured cleanup action.
type CleanupEntry struct {
	ID         string
	Kind       CleanupKind
	RemoveTile *RemoveTileSpec
	RemoveFile *RemoveFileSpec
}

// RemoveTileSpec deletes every tile in Coverages from Target.
type RemoveTileSpec struct {
	Target    store.Store
	Coverages []tile.Coverage
}

// RemoveFileSpec deletes an explicit list of on-disk paths; expanding a
// glob pattern into that list is the caller's job.
type RemoveFileSpec struct {
	Paths []string
}

// Config is one run's full seed/cleanup batch.
type Config struct {
	Seeds    []SeedEntry
	Cleanups []CleanupEntry
}

// Summary reports what one Run did, for the triggering caller to log or
// return to a supervisor.
type Summary struct {
	SeedsRun     int
	SeedFailures int
	TilesRemoved int
	FilesRemoved int
	FileFailures int
}

// Driver runs seed/cleanup batches, rejecting a second concurrent Run
// with a Conflict error (§4.H "single-flight per process").
type Driver struct {
	exporter *export.Exporter
	res      *resolver.Resolver
	logger   *slog.Logger
	token    *concurrency.CancelToken
}

// New builds a Driver.
func New(exporter *export.Exporter, res *resolver.Resolver, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{exporter: exporter, res: res, logger: logger, token: concurrency.NewCancelToken()}
}

// Run executes cfg's seeds then cleanups in order, stopping at the next
// entry boundary once Cancel has been requested. An export already
// running shares the driver's token, so it stops starting new tiles while
// tiles already in flight run to completion (the same cooperative-cancel
// protocol as §4.G).
func (d *Driver) Run(ctx context.Context, cfg Config) (Summary, error) {
	if !d.token.Start() {
		return Summary{}, apierrors.New(apierrors.Conflict, "seed/cleanup run already in progress", nil)
	}
	defer d.token.Finish()

	var sum Summary
	for _, s := range cfg.Seeds {
		if d.token.CancelRequested() {
			break
		}
		if err := d.runSeed(ctx, s); err != nil {
			sum.SeedFailures++
			d.logger.Error("seed: entry failed", "id", s.ID, "error", err)
			continue
		}
		sum.SeedsRun++
	}

	for _, c := range cfg.Cleanups {
		if d.token.CancelRequested() {
			break
		}
		removed, failed, err := d.runCleanup(ctx, c)
		if err != nil {
			d.logger.Error("seed: cleanup entry failed", "id", c.ID, "error", err)
		}
		switch c.Kind {
		case CleanupRemoveTile:
			sum.TilesRemoved += removed
		case CleanupRemoveFile:
			sum.FilesRemoved += removed
			sum.FileFailures += failed
		}
	}

	return sum, nil
}

// Cancel requests that the current Run stop at its next entry
// boundary. It is a no-op if no run is active.
func (d *Driver) Cancel() bool {
	return d.token.RequestCancel()
}

func (d *Driver) runSeed(ctx context.Context, s SeedEntry) error {
	switch s.Kind {
	case SeedExport:
		if s.Export == nil {
			return fmt.Errorf("seed %q: export kind with nil Export spec", s.ID)
		}
		_, err := d.exporter.Run(ctx, *s.Export, d.token, func(completed, total, failed int) {
			d.logger.Info("seed: export progress", "id", s.ID, "completed", completed, "total", total, "failed", failed)
		})
		return err
	case SeedDownload:
		if s.Download == nil {
			return fmt.Errorf("seed %q: download kind with nil Download spec", s.ID)
		}
		fwd := s.Download.Forward
		_, err := d.res.ResolveFile(ctx, s.ID, resolver.FileSource{Path: s.Download.Path, Forward: &fwd})
		return err
	default:
		return fmt.Errorf("seed %q: unknown kind %d", s.ID, s.Kind)
	}
}

func (d *Driver) runCleanup(ctx context.Context, c CleanupEntry) (removed, failed int, err error) {
	switch c.Kind {
	case CleanupRemoveTile:
		if c.RemoveTile == nil {
			return 0, 0, fmt.Errorf("cleanup %q: remove-tile kind with nil spec", c.ID)
		}
		return d.removeTiles(ctx, c.ID, *c.RemoveTile)
	case CleanupRemoveFile:
		if c.RemoveFile == nil {
			return 0, 0, fmt.Errorf("cleanup %q: remove-file kind with nil spec", c.ID)
		}
		return d.removeFiles(c.ID, *c.RemoveFile)
	default:
		return 0, 0, fmt.Errorf("cleanup %q: unknown kind %d", c.ID, c.Kind)
	}
}

func (d *Driver) removeTiles(ctx context.Context, id string, spec RemoveTileSpec) (removed, failed int, err error) {
	for _, cov := range spec.Coverages {
		if d.token.CancelRequested() {
			return removed, failed, nil
		}
		cov.ForEach(func(z, x, y uint32) bool {
			c := tile.NewCoords(z, x, y)
			if delErr := spec.Target.Delete(ctx, c); delErr != nil {
				failed++
				d.logger.Warn("seed: removeTile failed", "id", id, "tile", c.String(), "error", delErr)
			} else {
				removed++
			}
			return true
		})
	}
	return removed, failed, nil
}

func (d *Driver) removeFiles(id string, spec RemoveFileSpec) (removed, failed int, err error) {
	for _, path := range spec.Paths {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			failed++
			d.logger.Warn("seed: removeFile failed", "id", id, "path", path, "error", rmErr)
			continue
		}
		removed++
	}
	return removed, failed, nil
}
