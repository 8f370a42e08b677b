package pmtilestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/tile"
)

const maxDirectoryDepth = 4

// Store is a read-only view over a single PMTiles v3 archive, addressed
// by a local file path or an http(s):// URL.
type Store struct {
	src    byteSource
	header HeaderV3

	mu   sync.Mutex
	root []EntryV3 // decompressed root directory, cached after first fetch
}

// Open opens ref (a local file path or http(s) URL) as a PMTiles archive
// and parses its header and root directory.
func Open(ctx context.Context, ref string) (*Store, error) {
	var src byteSource
	if isRemote(ref) {
		src = openHTTPSource(ref)
	} else {
		fs, err := openFileSource(ref)
		if err != nil {
			return nil, err
		}
		src = fs
	}

	headerBytes, err := src.readRange(ctx, 0, headerSize)
	if err != nil {
		src.close()
		return nil, fmt.Errorf("pmtilestore: read header: %w", err)
	}
	header, err := ParseHeader(headerBytes)
	if err != nil {
		src.close()
		return nil, err
	}

	s := &Store{src: src, header: header}
	if _, err := s.rootDirectory(ctx); err != nil {
		src.close()
		return nil, err
	}
	return s, nil
}

func (s *Store) rootDirectory(ctx context.Context) ([]EntryV3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root != nil {
		return s.root, nil
	}

	raw, err := s.src.readRange(ctx, s.header.RootOffset, s.header.RootLength)
	if err != nil {
		return nil, fmt.Errorf("pmtilestore: read root directory: %w", err)
	}
	decompressed, err := decompressSection(raw, s.header.InternalCompression)
	if err != nil {
		return nil, fmt.Errorf("pmtilestore: decompress root directory: %w", err)
	}
	entries, err := deserializeEntries(decompressed)
	if err != nil {
		return nil, fmt.Errorf("pmtilestore: parse root directory: %w", err)
	}
	s.root = entries
	return entries, nil
}

func (s *Store) leafDirectory(ctx context.Context, offset uint64, length uint64) ([]EntryV3, error) {
	raw, err := s.src.readRange(ctx, s.header.LeafDirsOffset+offset, length)
	if err != nil {
		return nil, fmt.Errorf("pmtilestore: read leaf directory: %w", err)
	}
	decompressed, err := decompressSection(raw, s.header.InternalCompression)
	if err != nil {
		return nil, fmt.Errorf("pmtilestore: decompress leaf directory: %w", err)
	}
	return deserializeEntries(decompressed)
}

// Get resolves c through up to maxDirectoryDepth levels of directory
// indirection (root, then nested leaves) to a tile-data offset/length,
// per the PMTiles lookup algorithm.
func (s *Store) Get(ctx context.Context, c store.Coords) ([]byte, error) {
	if c.Z < uint32(s.header.MinZoom) || c.Z > uint32(s.header.MaxZoom) {
		return nil, store.NewNotFound(c)
	}
	tileID := zxyToID(uint8(c.Z), c.X, c.Y)

	directory, err := s.rootDirectory(ctx)
	if err != nil {
		return nil, err
	}

	for depth := 0; depth < maxDirectoryDepth; depth++ {
		entry, ok := findTile(directory, tileID)
		if !ok {
			return nil, store.NewNotFound(c)
		}
		if entry.RunLength > 0 {
			data, err := s.src.readRange(ctx, s.header.TileDataOffset+entry.Offset, uint64(entry.Length))
			if err != nil {
				return nil, fmt.Errorf("pmtilestore: read tile %s: %w", c.String(), err)
			}
			return data, nil
		}
		directory, err = s.leafDirectory(ctx, entry.Offset, uint64(entry.Length))
		if err != nil {
			return nil, err
		}
	}
	return nil, store.NewNotFound(c)
}

// Put always fails: PMTiles archives are read-only (§4.E).
func (s *Store) Put(context.Context, store.Coords, []byte, bool) error {
	return store.ErrReadOnly
}

// Delete always fails: PMTiles archives are read-only (§4.E).
func (s *Store) Delete(context.Context, store.Coords) error {
	return store.ErrReadOnly
}

func (s *Store) CountTiles(context.Context) (int64, error) {
	return int64(s.header.NumAddressedTiles), nil
}

// Size is not derivable without downloading the whole archive for a
// remote source; report the tile-data section length, which is the
// dominant contributor for any real archive.
func (s *Store) Size(context.Context) (int64, error) {
	return int64(s.header.TileDataLength), nil
}

func (s *Store) Close() error {
	return s.src.close()
}

// UpdateMetadata always fails: PMTiles archives are read-only.
func (s *Store) UpdateMetadata(context.Context, store.MetadataPatch) error {
	return store.ErrReadOnly
}

// CalculateExtraInfo is a no-op: PMTiles archives carry no mutable hash
// column to backfill.
func (s *Store) CalculateExtraInfo(context.Context, int) error {
	return nil
}

// Metadata derives a TileJSON from the header's zoom/bounds fields and
// the archive's embedded JSON metadata blob.
func (s *Store) Metadata(ctx context.Context) (store.TileJSON, error) {
	tj := store.TileJSON{
		MinZoom: uint32(s.header.MinZoom),
		MaxZoom: uint32(s.header.MaxZoom),
		Format:  s.header.TileType.extension(),
		Scheme:  tile.SchemeXYZ,
		Bounds: tile.NewBBox(
			float64(s.header.MinLonE7)/1e7,
			float64(s.header.MinLatE7)/1e7,
			float64(s.header.MaxLonE7)/1e7,
			float64(s.header.MaxLatE7)/1e7,
		),
		Center: [3]float64{
			float64(s.header.CenterLonE7) / 1e7,
			float64(s.header.CenterLatE7) / 1e7,
			float64(s.header.CenterZoom),
		},
	}

	if s.header.MetadataLength == 0 {
		return tj, nil
	}
	raw, err := s.src.readRange(ctx, s.header.MetadataOffset, s.header.MetadataLength)
	if err != nil {
		return tj, fmt.Errorf("pmtilestore: read metadata blob: %w", err)
	}
	decompressed, err := decompressSection(raw, s.header.InternalCompression)
	if err != nil {
		return tj, fmt.Errorf("pmtilestore: decompress metadata blob: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(decompressed, &doc); err != nil {
		return tj, nil // metadata blob is advisory; a malformed one is not fatal
	}
	applyJSONMetadata(&tj, doc)
	return tj, nil
}

func applyJSONMetadata(tj *store.TileJSON, doc map[string]any) {
	if v, ok := doc["name"].(string); ok {
		tj.Name = v
	}
	if v, ok := doc["description"].(string); ok {
		tj.Description = v
	}
	if v, ok := doc["attribution"].(string); ok {
		tj.Attribution = v
	}
	if v, ok := doc["version"].(string); ok {
		tj.Version = v
	}
	if v, ok := doc["type"].(string); ok {
		tj.Type = v
	}
	if layers, ok := doc["vector_layers"].([]any); ok {
		for _, raw := range layers {
			layer, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			meta := store.VectorLayerMeta{Fields: map[string]string{}}
			if id, ok := layer["id"].(string); ok {
				meta.ID = id
			}
			if fields, ok := layer["fields"].(map[string]any); ok {
				for k, v := range fields {
					if s, ok := v.(string); ok {
						meta.Fields[k] = s
					}
				}
			}
			tj.VectorLayers = append(tj.VectorLayers, meta)
		}
	}
}

// ExtraInfo has no integrity-hash column in PMTiles; report tiles within
// cov as present, with no hash/created data.
func (s *Store) ExtraInfo(ctx context.Context, cov tile.Coverage, kind store.InfoKind) (map[string]store.TileInfo, error) {
	out := make(map[string]store.TileInfo)
	cov.ForEach(func(z, x, y uint32) bool {
		c := store.Coords{Z: z, X: x, Y: y}
		if _, err := s.Get(ctx, c); err == nil {
			out[fmt.Sprintf("%d/%d/%d", z, x, y)] = store.TileInfo{}
		}
		return true
	})
	return out, nil
}
