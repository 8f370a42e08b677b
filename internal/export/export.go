// Package export implements §4.G: materializing a coverage-bounded
// subset of a registered tile source into a freshly-opened target
// backend, skipping tiles the refresh policy says are already current.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/concurrency"
	"github.com/tileproxy/tileproxy/internal/resolver"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/store/xyzstore"
	"github.com/tileproxy/tileproxy/internal/tile"
)

// refreshKind tags which of the three refresh variants a RefreshPolicy
// carries, replacing a union of string/number/bool/undefined with an
// explicit, exhaustively-switched enum.
type refreshKind int

const (
	refreshUnconditional refreshKind = iota
	refreshBeforeThreshold
	refreshHashCompare
)

// RefreshPolicy decides whether an already-present target tile needs
// re-fetching (§4.G "Refresh policy").
type RefreshPolicy struct {
	kind      refreshKind
	threshold time.Time
}

// RefreshUnconditional always re-fetches every tile.
func RefreshUnconditional() RefreshPolicy {
	return RefreshPolicy{kind: refreshUnconditional}
}

// RefreshBeforeTime refreshes a tile iff the target's created timestamp
// predates t, or the tile is missing in the target.
func RefreshBeforeTime(t time.Time) RefreshPolicy {
	return RefreshPolicy{kind: refreshBeforeThreshold, threshold: t}
}

// RefreshBeforeDays refreshes a tile iff the target's created timestamp
// is older than days ago, or the tile is missing in the target.
func RefreshBeforeDays(days float64) RefreshPolicy {
	age := time.Duration(days * 24 * float64(time.Hour))
	return RefreshPolicy{kind: refreshBeforeThreshold, threshold: time.Now().Add(-age)}
}

// RefreshHashCompare refreshes a tile iff the target's hash differs from
// the source's, or the tile is missing in the target ("MD5-compare").
func RefreshHashCompare() RefreshPolicy {
	return RefreshPolicy{kind: refreshHashCompare}
}

func (p RefreshPolicy) needsTargetCreated() bool { return p.kind == refreshBeforeThreshold }
func (p RefreshPolicy) needsHashes() bool        { return p.kind == refreshHashCompare }

// Params groups one export run's inputs.
type Params struct {
	ID               string
	Source           resolver.TileSource
	Target           store.Store
	Metadata         store.MetadataPatch
	Coverages        []tile.Coverage
	Concurrency      int
	StoreTransparent bool
	Refresh          RefreshPolicy
}

// Exporter drives export runs against a shared Resolver, so a forward
// miss on the source resolves exactly like any other tile request
// (§4.G step 5 "resolve source tile via F").
type Exporter struct {
	res    *resolver.Resolver
	logger *slog.Logger
}

// New builds an Exporter.
func New(res *resolver.Resolver, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{res: res, logger: logger}
}

// Run executes one export to completion or until token's cancel has
// been requested, returning the number of tiles the coverages named.
// Run only reads token (via CancelRequested); starting and finishing
// the token's single-flight lifecycle is the caller's responsibility
// (§4.H "single-flight per process" belongs to whatever exposes the
// start/cancel operation — the HTTP handler or the seed driver — not
// to this function, since a seed run drives multiple exports under one
// shared token).
func (e *Exporter) Run(ctx context.Context, p Params, token *concurrency.CancelToken, onProgress concurrency.ProgressFunc) (int, error) {
	realBBox, err := unionBBox(p.Coverages)
	if err != nil {
		return 0, apierrors.New(apierrors.BadRequest, fmt.Sprintf("export %s: coverages", p.ID), err)
	}
	patch := p.Metadata
	patch.Bounds = &realBBox
	if err := p.Target.UpdateMetadata(ctx, patch); err != nil {
		return 0, fmt.Errorf("export %s: upsert target metadata: %w", p.ID, err)
	}

	targetInfo, sourceInfo, err := e.prefetchExtraInfo(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("export %s: prefetch extra-info: %w", p.ID, err)
	}

	jobs := enumerateJobs(p.Coverages)

	pool := concurrency.New(concurrency.Config[tile.Coords, struct{}]{
		Workers: p.Concurrency,
		Run: func(ctx context.Context, c tile.Coords) (struct{}, error) {
			return struct{}{}, e.exportOne(ctx, p, c, targetInfo, sourceInfo, token)
		},
		OnProgress: onProgress,
	})

	results := pool.Run(ctx, jobs)
	for _, r := range results {
		if r.Err != nil {
			e.logger.Warn("export: tile failed", "id", p.ID, "tile", r.Item.String(), "error", r.Err)
		}
	}

	if xs, ok := p.Target.(*xyzstore.Store); ok {
		if err := xs.PruneEmptyDirs(); err != nil {
			e.logger.Warn("export: prune empty dirs failed", "id", p.ID, "error", err)
		}
	}

	return len(jobs), nil
}

// exportOne resolves and writes a single tile, skipping per the refresh
// policy and bailing out early (without error) once the token's cancel
// has been requested — in-flight tiles still run to completion, only
// not-yet-started ones are skipped (§5 "Exporters poll ... to stop
// promptly; in-flight tasks run to completion").
func (e *Exporter) exportOne(ctx context.Context, p Params, c tile.Coords, targetInfo, sourceInfo map[string]store.TileInfo, token *concurrency.CancelToken) error {
	if token.CancelRequested() {
		return nil
	}
	if e.shouldSkip(p.Refresh, zxyKey(c), targetInfo, sourceInfo) {
		return nil
	}

	data, _, err := e.res.ResolveTile(ctx, p.ID, p.Source, c)
	if err != nil {
		if apierrors.KindOf(err) == apierrors.NotFound {
			return nil
		}
		return err
	}
	return p.Target.Put(ctx, c, data, p.StoreTransparent)
}

func (e *Exporter) shouldSkip(p RefreshPolicy, key string, target, source map[string]store.TileInfo) bool {
	switch p.kind {
	case refreshUnconditional:
		return false
	case refreshBeforeThreshold:
		info, ok := target[key]
		if !ok {
			return false
		}
		return !time.UnixMilli(info.Created).Before(p.threshold)
	case refreshHashCompare:
		tinfo, tok := target[key]
		if !tok {
			return false
		}
		sinfo, sok := source[key]
		if !sok {
			return false
		}
		return tinfo.Hash == sinfo.Hash
	default:
		return false
	}
}

func (e *Exporter) prefetchExtraInfo(ctx context.Context, p Params) (target, source map[string]store.TileInfo, err error) {
	target = make(map[string]store.TileInfo)
	source = make(map[string]store.TileInfo)

	if p.Refresh.needsTargetCreated() {
		for _, cov := range p.Coverages {
			m, err := p.Target.ExtraInfo(ctx, cov, store.InfoCreated)
			if err != nil {
				return nil, nil, err
			}
			for k, v := range m {
				target[k] = v
			}
		}
	}
	if p.Refresh.needsHashes() {
		for _, cov := range p.Coverages {
			m, err := p.Target.ExtraInfo(ctx, cov, store.InfoHash)
			if err != nil {
				return nil, nil, err
			}
			for k, v := range m {
				target[k] = v
			}
		}
		if p.Source.Store != nil {
			for _, cov := range p.Coverages {
				m, err := p.Source.Store.ExtraInfo(ctx, cov, store.InfoHash)
				if err != nil {
					return nil, nil, err
				}
				for k, v := range m {
					source[k] = v
				}
			}
		}
	}
	return target, source, nil
}

func enumerateJobs(coverages []tile.Coverage) []tile.Coords {
	var jobs []tile.Coords
	for _, cov := range coverages {
		cov.ForEach(func(z, x, y uint32) bool {
			jobs = append(jobs, tile.NewCoords(z, x, y))
			return true
		})
	}
	return jobs
}

// zxyKey matches the "z/x/y" key format store.Store.ExtraInfo uses,
// which is not the same as tile.Coords.String()'s "zN_xN_yN" form.
func zxyKey(c tile.Coords) string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

func unionBBox(coverages []tile.Coverage) (tile.BBox, error) {
	if len(coverages) == 0 {
		return tile.BBox{}, fmt.Errorf("no coverages given")
	}
	bbox := coverages[0].BBox
	for _, cov := range coverages[1:] {
		bbox = tile.Cover(bbox, cov.BBox)
	}
	return bbox, nil
}
