// Package registry builds the §4.I repository registry: a name-keyed
// map of opened backend handles and file sources, built once at process
// startup from a declarative Config and never partially re-initialized
// afterward — a config change needs a restart, matching the teacher's
// load-once-at-boot config package.
package registry

import (
	"github.com/tileproxy/tileproxy/internal/resolver"
	"github.com/tileproxy/tileproxy/internal/store"
)

// SourceType tags which backend a DataConfig opens, replacing a type
// switch over dynamic fields with an explicit, exhaustively-checked
// enum.
type SourceType string

const (
	SourceMBTiles SourceType = "mbtiles"
	SourcePMTiles SourceType = "pmtiles"
	SourceXYZ     SourceType = "xyz"
	SourcePG      SourceType = "pg"
)

// MBTilesConfig opens an MBTiles backend at Path.
type MBTilesConfig struct {
	Path string
}

// PMTilesConfig opens a read-only PMTiles archive at Ref (a local path
// or URL the pmtilestore package understands).
type PMTilesConfig struct {
	Ref string
}

// XYZConfig opens an on-disk XYZ tree rooted at Root, storing tiles as
// "<z>/<x>/<y>.<Extension>" plus its sibling md5 SQLite index.
type XYZConfig struct {
	Root      string
	Extension string
}

// PGConfig opens a PostgreSQL-backed tile table.
type PGConfig struct {
	URI   string
	Table string
}

// CacheConfig, when present on a DataConfig, marks the entry as a
// cached (forward-enabled) source rather than a direct one: its backend
// path lives under the cache root and misses fall through to Forward.
type CacheConfig struct {
	Forward resolver.Forward
}

// DataConfig is one `datas` registry entry. Exactly one of MBTiles,
// PMTiles, XYZ, PG must be set; it is otherwise skipped with a logged
// error rather than aborting the whole registry build.
type DataConfig struct {
	ID       string
	Type     SourceType
	MBTiles  *MBTilesConfig
	PMTiles  *PMTilesConfig
	XYZ      *XYZConfig
	PG       *PGConfig
	Cache    *CacheConfig
	Metadata store.MetadataPatch // user overrides, preserved over derived metadata
}

// StyleConfig is one `styles` entry: a single style JSON document.
type StyleConfig struct {
	ID      string
	Path    string
	Forward *resolver.FileForward
}

// GeoJSONConfig is one `geojsons` entry, keyed by (Group, Layer).
type GeoJSONConfig struct {
	Group   string
	Layer   string
	Path    string
	Forward *resolver.FileForward
}

// FontConfig is one `fonts` entry: a font id's range-file root.
type FontConfig struct {
	ID      string
	Root    string
	Forward *resolver.FileForward
}

// SpriteConfig is one `sprites` entry: a sprite id's file root.
// Setting Default marks it as the bundled fallback sprites.Resolve
// falls back to when an id is unknown or unresolvable.
type SpriteConfig struct {
	ID      string
	Root    string
	Forward *resolver.FileForward
	Default bool
}

// Config is the full declarative registry, normally loaded once from
// the process's configuration file at startup.
type Config struct {
	Datas    []DataConfig
	Styles   []StyleConfig
	GeoJSONs []GeoJSONConfig
	Fonts    []FontConfig
	Sprites  []SpriteConfig
}
