package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/tileproxy/tileproxy/internal/export"
	"github.com/tileproxy/tileproxy/internal/geojson"
	"github.com/tileproxy/tileproxy/internal/registry"
	"github.com/tileproxy/tileproxy/internal/resolver"
	"github.com/tileproxy/tileproxy/internal/seed"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/store/mbtilestore"
	"github.com/tileproxy/tileproxy/internal/store/pgstore"
	"github.com/tileproxy/tileproxy/internal/store/xyzstore"
	"github.com/tileproxy/tileproxy/internal/tile"
)

// fileConfig is the on-disk shape of the declarative registry §4.I
// describes, loaded via viper so a user can supply YAML, JSON, or
// TOML interchangeably. The core package (internal/registry) never
// sees this shape directly; loadRegistry converts it into
// registry.Config, keeping the file-format concern entirely inside
// this CLI collaborator per §1's "configuration loading ... is an
// external collaborator" scope note.
type fileConfig struct {
	Datas    []dataConfigDTO    `mapstructure:"datas"`
	Styles   []styleConfigDTO   `mapstructure:"styles"`
	GeoJSONs []geojsonConfigDTO `mapstructure:"geojsons"`
	Fonts    []fontConfigDTO    `mapstructure:"fonts"`
	Sprites  []spriteConfigDTO  `mapstructure:"sprites"`
	Seed     seedConfigDTO      `mapstructure:"seed"`
}

type metadataDTO struct {
	Name        string      `mapstructure:"name"`
	Description string      `mapstructure:"description"`
	Attribution string      `mapstructure:"attribution"`
	Version     string      `mapstructure:"version"`
	Type        string      `mapstructure:"type"`
	Format      string      `mapstructure:"format"`
	MinZoom     *uint32     `mapstructure:"minzoom"`
	MaxZoom     *uint32     `mapstructure:"maxzoom"`
	Bounds      *[4]float64 `mapstructure:"bounds"`
}

func (m metadataDTO) toPatch() store.MetadataPatch {
	var p store.MetadataPatch
	if m.Name != "" {
		p.Name = &m.Name
	}
	if m.Description != "" {
		p.Description = &m.Description
	}
	if m.Attribution != "" {
		p.Attribution = &m.Attribution
	}
	if m.Version != "" {
		p.Version = &m.Version
	}
	if m.Type != "" {
		p.Type = &m.Type
	}
	if m.Format != "" {
		p.Format = &m.Format
	}
	p.MinZoom = m.MinZoom
	p.MaxZoom = m.MaxZoom
	if m.Bounds != nil {
		b := tile.BBox(*m.Bounds)
		p.Bounds = &b
	}
	return p
}

type cacheDTO struct {
	URL              string            `mapstructure:"url"`
	Headers          map[string]string `mapstructure:"headers"`
	Scheme           string            `mapstructure:"scheme"`
	StoreCache       bool              `mapstructure:"store_cache"`
	StoreTransparent bool              `mapstructure:"store_transparent"`
	Timeout          time.Duration     `mapstructure:"timeout"`
}

func (c cacheDTO) toForward() resolver.Forward {
	scheme := tile.SchemeXYZ
	if c.Scheme == "tms" {
		scheme = tile.SchemeTMS
	}
	return resolver.Forward{
		URLTemplate:      c.URL,
		Headers:          c.Headers,
		Scheme:           scheme,
		StoreCache:       c.StoreCache,
		StoreTransparent: c.StoreTransparent,
		Timeout:          c.Timeout,
	}
}

type fileForwardDTO struct {
	URL        string            `mapstructure:"url"`
	Headers    map[string]string `mapstructure:"headers"`
	StoreCache bool              `mapstructure:"store_cache"`
	Timeout    time.Duration     `mapstructure:"timeout"`
}

func (f fileForwardDTO) toFileForward() *resolver.FileForward {
	if f.URL == "" {
		return nil
	}
	return &resolver.FileForward{URL: f.URL, Headers: f.Headers, StoreCache: f.StoreCache, Timeout: f.Timeout}
}

type dataConfigDTO struct {
	ID        string      `mapstructure:"id"`
	Type      string      `mapstructure:"type"` // mbtiles | pmtiles | xyz | pg
	Path      string      `mapstructure:"path"`
	Extension string      `mapstructure:"extension"` // xyz only
	Table     string      `mapstructure:"table"`     // pg only
	Metadata  metadataDTO `mapstructure:"metadata"`
	Cache     *cacheDTO   `mapstructure:"cache"`
}

func (d dataConfigDTO) toDataConfig() (registry.DataConfig, error) {
	dc := registry.DataConfig{
		ID:       d.ID,
		Type:     registry.SourceType(d.Type),
		Metadata: d.Metadata.toPatch(),
	}
	switch registry.SourceType(d.Type) {
	case registry.SourceMBTiles:
		dc.MBTiles = &registry.MBTilesConfig{Path: d.Path}
	case registry.SourcePMTiles:
		dc.PMTiles = &registry.PMTilesConfig{Ref: d.Path}
	case registry.SourceXYZ:
		ext := d.Extension
		if ext == "" {
			ext = "png"
		}
		dc.XYZ = &registry.XYZConfig{Root: d.Path, Extension: ext}
	case registry.SourcePG:
		dc.PG = &registry.PGConfig{URI: d.Path, Table: d.Table}
	default:
		return registry.DataConfig{}, fmt.Errorf("data %q: unknown type %q", d.ID, d.Type)
	}
	if d.Cache != nil {
		fwd := d.Cache.toForward()
		dc.Cache = &registry.CacheConfig{Forward: fwd}
	}
	return dc, nil
}

type styleConfigDTO struct {
	ID      string         `mapstructure:"id"`
	Path    string         `mapstructure:"path"`
	Forward fileForwardDTO `mapstructure:"forward"`
}

type geojsonConfigDTO struct {
	Group   string         `mapstructure:"group"`
	Layer   string         `mapstructure:"layer"`
	Root    string         `mapstructure:"root"` // if set, path is derived as root/group/layer.geojson
	Path    string         `mapstructure:"path"`
	Forward fileForwardDTO `mapstructure:"forward"`
}

// path resolves the on-disk location of this entry: an explicit Path
// wins, otherwise it's derived from Root using the layout every
// (group, layer) document follows.
func (g geojsonConfigDTO) path() string {
	if g.Path != "" {
		return g.Path
	}
	return g.Root + "/" + geojson.LayerPath(g.Group, g.Layer)
}

type fontConfigDTO struct {
	ID      string         `mapstructure:"id"`
	Root    string         `mapstructure:"root"`
	Forward fileForwardDTO `mapstructure:"forward"`
}

type spriteConfigDTO struct {
	ID      string         `mapstructure:"id"`
	Root    string         `mapstructure:"root"`
	Default bool           `mapstructure:"default"`
	Forward fileForwardDTO `mapstructure:"forward"`
}

// loadRegistryConfig reads the configured file into a registry.Config.
// Entries with a malformed "type" are dropped here (not deeper in
// registry.New) so load-time errors name the offending entry before any
// backend is opened.
func loadRegistryConfig() (registry.Config, error) {
	var fc fileConfig
	if err := viper.Unmarshal(&fc); err != nil {
		return registry.Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg := registry.Config{
		Styles:   make([]registry.StyleConfig, len(fc.Styles)),
		GeoJSONs: make([]registry.GeoJSONConfig, len(fc.GeoJSONs)),
		Fonts:    make([]registry.FontConfig, len(fc.Fonts)),
		Sprites:  make([]registry.SpriteConfig, len(fc.Sprites)),
	}
	for _, d := range fc.Datas {
		dc, err := d.toDataConfig()
		if err != nil {
			if logger != nil {
				logger.Error("config: skipping data entry", "id", d.ID, "error", err)
			}
			continue
		}
		cfg.Datas = append(cfg.Datas, dc)
	}
	for i, s := range fc.Styles {
		cfg.Styles[i] = registry.StyleConfig{ID: s.ID, Path: s.Path, Forward: s.Forward.toFileForward()}
	}
	for i, g := range fc.GeoJSONs {
		cfg.GeoJSONs[i] = registry.GeoJSONConfig{Group: g.Group, Layer: g.Layer, Path: g.path(), Forward: g.Forward.toFileForward()}
	}
	for i, f := range fc.Fonts {
		cfg.Fonts[i] = registry.FontConfig{ID: f.ID, Root: f.Root, Forward: f.Forward.toFileForward()}
	}
	for i, s := range fc.Sprites {
		cfg.Sprites[i] = registry.SpriteConfig{ID: s.ID, Root: s.Root, Default: s.Default, Forward: s.Forward.toFileForward()}
	}
	return cfg, nil
}

// --- seed/cleanup config (§4.H) ---

type coverageDTO struct {
	BBox    [4]float64 `mapstructure:"bbox"`
	MinZoom uint32     `mapstructure:"minzoom"`
	MaxZoom uint32     `mapstructure:"maxzoom"`
}

func (c coverageDTO) toCoverage() tile.Coverage {
	return tile.NewCoverage(tile.BBox(c.BBox), c.MinZoom, c.MaxZoom)
}

type targetDTO struct {
	Type      string `mapstructure:"type"` // mbtiles | xyz | pg
	Path      string `mapstructure:"path"`
	Extension string `mapstructure:"extension"`
	URI       string `mapstructure:"uri"`
	Table     string `mapstructure:"table"`
}

func (t targetDTO) open(ctx context.Context) (store.Store, error) {
	switch t.Type {
	case "mbtiles":
		return mbtilestore.Open(t.Path, true, store.OpenTimeout)
	case "xyz":
		return xyzstore.Open(t.Path, t.Extension, true, store.OpenTimeout)
	case "pg":
		return pgstore.Open(ctx, t.URI, t.Table, true, store.OpenTimeout)
	default:
		return nil, fmt.Errorf("export target: unknown type %q", t.Type)
	}
}

type refreshDTO struct {
	Mode string  `mapstructure:"mode"` // unconditional | before | hash
	Days float64 `mapstructure:"days"`
	Time string  `mapstructure:"time"`
}

func (d refreshDTO) toPolicy() (export.RefreshPolicy, error) {
	switch d.Mode {
	case "", "unconditional":
		return export.RefreshUnconditional(), nil
	case "hash":
		return export.RefreshHashCompare(), nil
	case "before":
		if d.Time != "" {
			t, err := time.Parse(time.RFC3339, d.Time)
			if err != nil {
				return export.RefreshPolicy{}, fmt.Errorf("refresh.time %q: %w", d.Time, err)
			}
			return export.RefreshBeforeTime(t), nil
		}
		return export.RefreshBeforeDays(d.Days), nil
	default:
		return export.RefreshPolicy{}, fmt.Errorf("refresh: unknown mode %q", d.Mode)
	}
}

type exportSpecDTO struct {
	SourceID         string        `mapstructure:"source_id"`
	Target           targetDTO     `mapstructure:"target"`
	Coverages        []coverageDTO `mapstructure:"coverages"`
	Concurrency      int           `mapstructure:"concurrency"`
	StoreTransparent bool          `mapstructure:"store_transparent"`
	Refresh          refreshDTO    `mapstructure:"refresh"`
}

type downloadSpecDTO struct {
	Path    string         `mapstructure:"path"`
	Forward fileForwardDTO `mapstructure:"forward"`
}

type seedEntryDTO struct {
	ID       string           `mapstructure:"id"`
	Kind     string           `mapstructure:"kind"` // export | download
	Export   *exportSpecDTO   `mapstructure:"export"`
	Download *downloadSpecDTO `mapstructure:"download"`
}

type removeTileSpecDTO struct {
	Target    targetDTO     `mapstructure:"target"`
	Coverages []coverageDTO `mapstructure:"coverages"`
}

type removeFileSpecDTO struct {
	Paths []string `mapstructure:"paths"`
}

type cleanupEntryDTO struct {
	ID         string             `mapstructure:"id"`
	Kind       string             `mapstructure:"kind"` // remove_tile | remove_file
	RemoveTile *removeTileSpecDTO `mapstructure:"remove_tile"`
	RemoveFile *removeFileSpecDTO `mapstructure:"remove_file"`
}

type seedConfigDTO struct {
	Seeds    []seedEntryDTO    `mapstructure:"seeds"`
	Cleanups []cleanupEntryDTO `mapstructure:"cleanups"`
}

// toSeedConfig resolves every seed/cleanup entry against reg (for
// source lookups) and opens each target backend eagerly, so a
// malformed entry fails before the run starts rather than mid-batch.
func (s seedConfigDTO) toSeedConfig(ctx context.Context, reg *registry.Registry) (seed.Config, error) {
	var cfg seed.Config
	for _, e := range s.Seeds {
		entry, err := e.toSeedEntry(ctx, reg)
		if err != nil {
			return seed.Config{}, fmt.Errorf("seed %q: %w", e.ID, err)
		}
		cfg.Seeds = append(cfg.Seeds, entry)
	}
	for _, c := range s.Cleanups {
		entry, err := c.toCleanupEntry(ctx)
		if err != nil {
			return seed.Config{}, fmt.Errorf("cleanup %q: %w", c.ID, err)
		}
		cfg.Cleanups = append(cfg.Cleanups, entry)
	}
	return cfg, nil
}

func (e seedEntryDTO) toSeedEntry(ctx context.Context, reg *registry.Registry) (seed.SeedEntry, error) {
	switch e.Kind {
	case "export":
		if e.Export == nil {
			return seed.SeedEntry{}, fmt.Errorf("export kind with no export spec")
		}
		src, ok := reg.TileSource(e.Export.SourceID)
		if !ok {
			return seed.SeedEntry{}, fmt.Errorf("unknown source %q", e.Export.SourceID)
		}
		target, err := e.Export.Target.open(ctx)
		if err != nil {
			return seed.SeedEntry{}, err
		}
		refresh, err := e.Export.Refresh.toPolicy()
		if err != nil {
			target.Close()
			return seed.SeedEntry{}, err
		}
		coverages := make([]tile.Coverage, len(e.Export.Coverages))
		for i, c := range e.Export.Coverages {
			coverages[i] = c.toCoverage()
		}
		workers := e.Export.Concurrency
		if workers <= 0 {
			workers = 1
		}
		params := export.Params{
			ID:               e.ID,
			Source:           src,
			Target:           target,
			Coverages:        coverages,
			Concurrency:      workers,
			StoreTransparent: e.Export.StoreTransparent,
			Refresh:          refresh,
		}
		return seed.SeedEntry{ID: e.ID, Kind: seed.SeedExport, Export: &params}, nil
	case "download":
		if e.Download == nil {
			return seed.SeedEntry{}, fmt.Errorf("download kind with no download spec")
		}
		fwd := e.Download.Forward.toFileForward()
		if fwd == nil {
			return seed.SeedEntry{}, fmt.Errorf("download kind with no forward.url")
		}
		return seed.SeedEntry{ID: e.ID, Kind: seed.SeedDownload, Download: &seed.DownloadSpec{Path: e.Download.Path, Forward: *fwd}}, nil
	default:
		return seed.SeedEntry{}, fmt.Errorf("unknown kind %q", e.Kind)
	}
}

func (c cleanupEntryDTO) toCleanupEntry(ctx context.Context) (seed.CleanupEntry, error) {
	switch c.Kind {
	case "remove_tile":
		if c.RemoveTile == nil {
			return seed.CleanupEntry{}, fmt.Errorf("remove_tile kind with no spec")
		}
		target, err := c.RemoveTile.Target.open(ctx)
		if err != nil {
			return seed.CleanupEntry{}, err
		}
		coverages := make([]tile.Coverage, len(c.RemoveTile.Coverages))
		for i, cv := range c.RemoveTile.Coverages {
			coverages[i] = cv.toCoverage()
		}
		return seed.CleanupEntry{ID: c.ID, Kind: seed.CleanupRemoveTile, RemoveTile: &seed.RemoveTileSpec{Target: target, Coverages: coverages}}, nil
	case "remove_file":
		if c.RemoveFile == nil {
			return seed.CleanupEntry{}, fmt.Errorf("remove_file kind with no spec")
		}
		return seed.CleanupEntry{ID: c.ID, Kind: seed.CleanupRemoveFile, RemoveFile: &seed.RemoveFileSpec{Paths: c.RemoveFile.Paths}}, nil
	default:
		return seed.CleanupEntry{}, fmt.Errorf("unknown kind %q", c.Kind)
	}
}
