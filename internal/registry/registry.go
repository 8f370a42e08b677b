package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tileproxy/tileproxy/internal/fonts"
	"github.com/tileproxy/tileproxy/internal/resolver"
	"github.com/tileproxy/tileproxy/internal/sprites"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/store/mbtilestore"
	"github.com/tileproxy/tileproxy/internal/store/pgstore"
	"github.com/tileproxy/tileproxy/internal/store/pmtilestore"
	"github.com/tileproxy/tileproxy/internal/store/xyzstore"
)

// DataEntry is one opened `datas` handle plus its cache-forward policy
// and validated TileJSON, as exposed to the resolver and HTTP layer.
type DataEntry struct {
	ID       string
	Store    store.Store
	Forward  *resolver.Forward
	TileJSON store.TileJSON
	// FilePath is the backing file for MBTiles/PMTiles entries, used by
	// the /md5 and /download routes; empty for XYZ and PostgreSQL
	// entries, which have no single backing file.
	FilePath string
}

// StyleEntry is one opened `styles` file source.
type StyleEntry struct {
	ID     string
	Source resolver.FileSource
}

// GeoJSONEntry is one opened `geojsons` file source.
type GeoJSONEntry struct {
	Group, Layer string
	Source       resolver.FileSource
}

// Registry is the built, immutable name -> handle map §4.I describes.
// It is assembled once by New and never mutated afterward.
type Registry struct {
	datas         map[string]DataEntry
	styles        map[string]StyleEntry
	geojsons      map[string]GeoJSONEntry
	fontSources   map[string]fonts.Source
	spriteSources map[string]sprites.Source
	defaultSprite *sprites.Source
	logger        *slog.Logger
}

// New builds a Registry from cfg. Entries that fail to open (bad path,
// ambiguous source type, backend error) are skipped with a logged error
// rather than aborting the whole build (§4.I "skipped with a logged
// error; the registry is never partially re-initialized at runtime").
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		datas:         make(map[string]DataEntry),
		styles:        make(map[string]StyleEntry),
		geojsons:      make(map[string]GeoJSONEntry),
		fontSources:   make(map[string]fonts.Source),
		spriteSources: make(map[string]sprites.Source),
		logger:        logger,
	}

	for _, dc := range cfg.Datas {
		entry, err := openData(ctx, dc)
		if err != nil {
			logger.Error("registry: skipping data source", "id", dc.ID, "error", err)
			continue
		}
		r.datas[dc.ID] = entry
	}

	for _, sc := range cfg.Styles {
		r.styles[sc.ID] = StyleEntry{
			ID:     sc.ID,
			Source: resolver.FileSource{Path: sc.Path, Forward: sc.Forward},
		}
	}

	for _, gc := range cfg.GeoJSONs {
		r.geojsons[geoKey(gc.Group, gc.Layer)] = GeoJSONEntry{
			Group: gc.Group, Layer: gc.Layer,
			Source: resolver.FileSource{Path: gc.Path, Forward: gc.Forward},
		}
	}

	for _, fc := range cfg.Fonts {
		r.fontSources[fc.ID] = fonts.Source{Root: fc.Root, Forward: fc.Forward}
	}

	for _, spc := range cfg.Sprites {
		src := sprites.Source{Root: spc.Root, Forward: spc.Forward}
		r.spriteSources[spc.ID] = src
		if spc.Default {
			d := src
			r.defaultSprite = &d
		}
	}

	return r, nil
}

func geoKey(group, layer string) string { return group + "/" + layer }

// openData opens the single backend a DataConfig names, deriving its
// TileJSON and applying user-provided overrides (§4.I "preserves
// user-provided overrides").
func openData(ctx context.Context, dc DataConfig) (DataEntry, error) {
	createIfMissing := dc.Cache != nil

	set := 0
	for _, isSet := range []bool{dc.MBTiles != nil, dc.PMTiles != nil, dc.XYZ != nil, dc.PG != nil} {
		if isSet {
			set++
		}
	}
	if set != 1 {
		return DataEntry{}, fmt.Errorf("data %q: exactly one of {mbtiles, pmtiles, xyz, pg} must be set", dc.ID)
	}

	var s store.Store
	var err error
	var filePath string
	switch {
	case dc.MBTiles != nil:
		s, err = mbtilestore.Open(dc.MBTiles.Path, createIfMissing, store.OpenTimeout)
		filePath = dc.MBTiles.Path
	case dc.PMTiles != nil:
		s, err = pmtilestore.Open(ctx, dc.PMTiles.Ref)
		filePath = dc.PMTiles.Ref
	case dc.XYZ != nil:
		s, err = xyzstore.Open(dc.XYZ.Root, dc.XYZ.Extension, createIfMissing, store.OpenTimeout)
	case dc.PG != nil:
		s, err = pgstore.Open(ctx, dc.PG.URI, dc.PG.Table, createIfMissing, store.OpenTimeout)
	default:
		return DataEntry{}, fmt.Errorf("data %q: exactly one of {mbtiles, pmtiles, xyz, pg} must be set", dc.ID)
	}
	if err != nil {
		return DataEntry{}, fmt.Errorf("data %q: open: %w", dc.ID, err)
	}

	tj, err := s.Metadata(ctx)
	if err != nil {
		s.Close()
		return DataEntry{}, fmt.Errorf("data %q: derive metadata: %w", dc.ID, err)
	}
	tj = dc.Metadata.Apply(tj)
	if dc.Metadata != (store.MetadataPatch{}) {
		if err := s.UpdateMetadata(ctx, dc.Metadata); err != nil {
			s.Close()
			return DataEntry{}, fmt.Errorf("data %q: persist metadata overrides: %w", dc.ID, err)
		}
	}

	var fwd *resolver.Forward
	if dc.Cache != nil {
		f := dc.Cache.Forward
		fwd = &f
	}

	return DataEntry{ID: dc.ID, Store: s, Forward: fwd, TileJSON: tj, FilePath: filePath}, nil
}

// Data looks up a `datas` entry by id.
func (r *Registry) Data(id string) (DataEntry, bool) {
	e, ok := r.datas[id]
	return e, ok
}

// TileSource adapts a `datas` entry into the shape resolver.ResolveTile
// expects.
func (r *Registry) TileSource(id string) (resolver.TileSource, bool) {
	e, ok := r.datas[id]
	if !ok {
		return resolver.TileSource{}, false
	}
	return resolver.TileSource{Store: e.Store, Forward: e.Forward, Format: e.TileJSON.Format}, true
}

// Style looks up a `styles` entry by id.
func (r *Registry) Style(id string) (StyleEntry, bool) {
	e, ok := r.styles[id]
	return e, ok
}

// GeoJSON looks up a `geojsons` entry by (group, layer).
func (r *Registry) GeoJSON(group, layer string) (GeoJSONEntry, bool) {
	e, ok := r.geojsons[geoKey(group, layer)]
	return e, ok
}

// FontSource satisfies fonts.Registry's lookup callback.
func (r *Registry) FontSource(id string) (fonts.Source, bool) {
	src, ok := r.fontSources[id]
	return src, ok
}

// SpriteSource satisfies sprites.Registry's lookup callback.
func (r *Registry) SpriteSource(id string) (sprites.Source, bool) {
	src, ok := r.spriteSources[id]
	return src, ok
}

// DefaultSprite satisfies sprites.Registry's fallback callback.
func (r *Registry) DefaultSprite() (sprites.Source, bool) {
	if r.defaultSprite == nil {
		return sprites.Source{}, false
	}
	return *r.defaultSprite, true
}

// DataIDs returns every loaded `datas` id, for iteration by the
// exporter/seeder/server.
func (r *Registry) DataIDs() []string {
	ids := make([]string, 0, len(r.datas))
	for id := range r.datas {
		ids = append(ids, id)
	}
	return ids
}

// Close releases every opened backend handle.
func (r *Registry) Close() error {
	var first error
	for id, e := range r.datas {
		if err := e.Store.Close(); err != nil && first == nil {
			first = fmt.Errorf("data %q: close: %w", id, err)
		}
	}
	return first
}
