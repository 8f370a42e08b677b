// Package store defines the storage-backend capability interface shared by
// the four tile backends (MBTiles, PMTiles, XYZ-on-disk, PostgreSQL) and
// the errors/types the resolver, exporter, and seeder drive them through.
// Every backend is a tagged variant implementing Store; call sites never
// switch on backend type (§9's "dynamic dispatch over storage backends"
// design note).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tileproxy/tileproxy/internal/tile"
)

// ErrNotFound is returned by Get when the requested tile has no record.
// It is the Go analogue of the source's "Tile does not exist" throw,
// turned into a plain sentinel per §9's "exception for control flow"
// design note.
var ErrNotFound = errors.New("store: tile does not exist")

// ErrReadOnly is returned by Put/Delete on backends that do not support
// writes (PMTiles).
var ErrReadOnly = errors.New("store: backend is read-only")

// InfoKind selects which column ExtraInfo reports.
type InfoKind int

const (
	InfoHash InfoKind = iota
	InfoCreated
)

// TileJSON is the metadata document describing a tile source, per the
// TileJSON 2.2.0 shape §3 and §6 require the registry and HTTP surface to
// expose.
type TileJSON struct {
	Name         string             `json:"name,omitempty"`
	Description  string             `json:"description,omitempty"`
	Attribution  string             `json:"attribution,omitempty"`
	Version      string             `json:"version,omitempty"`
	Type         string             `json:"type,omitempty"` // "baselayer" | "overlay"
	Format       string             `json:"format"`         // "jpeg" | "jpg" | "pbf" | "png" | "webp" | "gif"
	MinZoom      uint32             `json:"minzoom"`
	MaxZoom      uint32             `json:"maxzoom"`
	Bounds       tile.BBox          `json:"bounds"`
	Center       [3]float64         `json:"center"`
	VectorLayers []VectorLayerMeta  `json:"vector_layers,omitempty"`
	Scheme       tile.Scheme        `json:"scheme,omitempty"`
	extra        map[string]string  // raw key/value rows not modeled above, preserved on round-trip
}

// VectorLayerMeta is the TileJSON "vector_layers" entry shape.
type VectorLayerMeta struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Extra returns a raw metadata value not covered by a named TileJSON
// field, for backends that preserve arbitrary key/value metadata rows.
func (m TileJSON) Extra(key string) (string, bool) {
	v, ok := m.extra[key]
	return v, ok
}

// WithExtra returns a copy of m with key set in its raw metadata map.
func (m TileJSON) WithExtra(key, value string) TileJSON {
	out := m
	out.extra = make(map[string]string, len(m.extra)+1)
	for k, v := range m.extra {
		out.extra[k] = v
	}
	out.extra[key] = value
	return out
}

// MetadataPatch is a partial TileJSON update; nil/zero fields are left
// untouched by UpdateMetadata.
type MetadataPatch struct {
	Name        *string
	Description *string
	Attribution *string
	Version     *string
	Type        *string
	Format      *string
	MinZoom     *uint32
	MaxZoom     *uint32
	Bounds      *tile.BBox
	Center      *[3]float64
}

// Apply merges p into base, returning the result.
func (p MetadataPatch) Apply(base TileJSON) TileJSON {
	if p.Name != nil {
		base.Name = *p.Name
	}
	if p.Description != nil {
		base.Description = *p.Description
	}
	if p.Attribution != nil {
		base.Attribution = *p.Attribution
	}
	if p.Version != nil {
		base.Version = *p.Version
	}
	if p.Type != nil {
		base.Type = *p.Type
	}
	if p.Format != nil {
		base.Format = *p.Format
	}
	if p.MinZoom != nil {
		base.MinZoom = *p.MinZoom
	}
	if p.MaxZoom != nil {
		base.MaxZoom = *p.MaxZoom
	}
	if p.Bounds != nil {
		base.Bounds = *p.Bounds
	}
	if p.Center != nil {
		base.Center = *p.Center
	}
	return base
}

// Coords addresses one tile in XYZ. Every Store method speaks XYZ; the
// XYZ<->TMS conversion happens once, inside the backend implementation.
type Coords = tile.Coords

// TileInfo is one entry of an ExtraInfo result: the hash or created
// timestamp for a single tile, keyed externally as "z/x/y".
type TileInfo struct {
	Hash    string
	Created int64 // unix milliseconds
}

// Store is the capability set every backend implements (§4.E).
type Store interface {
	// Get returns a tile's raw bytes, or ErrNotFound.
	Get(ctx context.Context, c Coords) ([]byte, error)
	// Put writes a tile. When storeTransparent is false and data is a
	// fully-transparent PNG, the write is silently skipped (§3 invariant).
	Put(ctx context.Context, c Coords, data []byte, storeTransparent bool) error
	// Delete removes a tile record; deleting an absent tile is not an error.
	Delete(ctx context.Context, c Coords) error

	// Metadata returns the backend's TileJSON, deriving any field absent
	// from the metadata table per §4.E's derivation rules.
	Metadata(ctx context.Context) (TileJSON, error)
	// UpdateMetadata merges patch into the stored metadata.
	UpdateMetadata(ctx context.Context, patch MetadataPatch) error

	// CountTiles returns the number of tile records.
	CountTiles(ctx context.Context) (int64, error)
	// Size returns the on-disk footprint in bytes, where meaningful.
	Size(ctx context.Context) (int64, error)

	// ExtraInfo returns per-tile hash or created values for every tile in
	// cov, keyed by "z/x/y" in XYZ.
	ExtraInfo(ctx context.Context, cov tile.Coverage, kind InfoKind) (map[string]TileInfo, error)
	// CalculateExtraInfo scans rows with a NULL hash and fills hash+created
	// in batches, for backends populated without integrity metadata.
	CalculateExtraInfo(ctx context.Context, batchSize int) error

	// Close releases the backend's handle (DB connection, open file).
	Close() error
}

// Overviewer is implemented by writable backends capable of generating
// lower-zoom mosaics from existing tiles (§4.E "add overviews"). PMTiles,
// being read-only, does not implement it.
type Overviewer interface {
	AddOverviews(ctx context.Context, concurrency int, compositor TileCompositor) error
}

// TileCompositor composites four child tiles (top-left, top-right,
// bottom-left, bottom-right, any of which may be nil) into one parent
// tile at the same pixel size, downscaled. Image work is a delegated
// collaborator per §4.E; the default implementation lives in
// internal/store/overview.
type TileCompositor interface {
	Composite(tl, tr, bl, br []byte, format string) ([]byte, error)
}

// OpenTimeout bounds how long Open implementations retry on a transient
// "database is locked"/"busy" condition before giving up (§5).
const OpenTimeout = 5 * time.Second

// NewNotFound wraps ErrNotFound with tile coordinates for log context.
func NewNotFound(c Coords) error {
	return fmt.Errorf("%w: %s", ErrNotFound, c.String())
}
