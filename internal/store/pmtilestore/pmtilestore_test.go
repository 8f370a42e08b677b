package pmtilestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/tileproxy/tileproxy/internal/store"
)

// buildFixture assembles a minimal single-tile, uncompressed PMTiles v3
// archive on disk and returns its path.
func buildFixture(t *testing.T, tileData []byte) string {
	t.Helper()

	tileID := zxyToID(1, 0, 0)
	rootEntries := serializeEntries([]EntryV3{
		{TileID: tileID, Offset: 0, Length: uint32(len(tileData)), RunLength: 1},
	})

	meta, err := json.Marshal(map[string]any{"name": "fixture", "description": "test archive"})
	if err != nil {
		t.Fatal(err)
	}

	h := HeaderV3{
		RootOffset:        headerSize,
		RootLength:        uint64(len(rootEntries)),
		MetadataOffset:    headerSize + uint64(len(rootEntries)),
		MetadataLength:    uint64(len(meta)),
		TileDataOffset:    headerSize + uint64(len(rootEntries)) + uint64(len(meta)),
		TileDataLength:    uint64(len(tileData)),
		NumAddressedTiles: 1,
		NumTileEntries:    1,
		NumTileContents:   1,
		Clustered:         true,
		InternalCompression: CompressionNone,
		TileCompression:     CompressionNone,
		TileType:            TileTypePNG,
		MinZoom:             1,
		MaxZoom:             1,
		MinLonE7:            -1800000000 / 10,
		MinLatE7:            -850051290 / 10,
		MaxLonE7:            1800000000 / 10,
		MaxLatE7:            850051290 / 10,
		CenterZoom:          1,
	}

	var buf []byte
	buf = append(buf, h.Marshal()...)
	buf = append(buf, rootEntries...)
	buf = append(buf, meta...)
	buf = append(buf, tileData...)

	path := filepath.Join(t.TempDir(), "fixture.pmtiles")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenAndGetRoundTrip(t *testing.T) {
	data := []byte{0x89, 0x50, 0x4E, 0x47, 1, 2, 3, 4}
	path := buildFixture(t, data)

	ctx := context.Background()
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got, err := s.Get(ctx, store.Coords{Z: 1, X: 0, Y: 0})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get = %v, want %v", got, data)
	}
}

func TestGetOutOfZoomRangeReturnsNotFound(t *testing.T) {
	path := buildFixture(t, []byte{1, 2, 3})
	ctx := context.Background()
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.Get(ctx, store.Coords{Z: 5, X: 0, Y: 0}); err == nil {
		t.Error("expected NotFound for zoom outside archive range")
	}
}

func TestGetMissingTileReturnsNotFound(t *testing.T) {
	path := buildFixture(t, []byte{1, 2, 3})
	ctx := context.Background()
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.Get(ctx, store.Coords{Z: 1, X: 1, Y: 1}); err == nil {
		t.Error("expected NotFound for an unaddressed tile")
	}
}

func TestPutAndDeleteReturnReadOnly(t *testing.T) {
	path := buildFixture(t, []byte{1, 2, 3})
	ctx := context.Background()
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Put(ctx, store.Coords{Z: 1, X: 0, Y: 0}, []byte{1}, true); err != store.ErrReadOnly {
		t.Errorf("Put = %v, want ErrReadOnly", err)
	}
	if err := s.Delete(ctx, store.Coords{Z: 1, X: 0, Y: 0}); err != store.ErrReadOnly {
		t.Errorf("Delete = %v, want ErrReadOnly", err)
	}
}

func TestMetadataReadsEmbeddedJSON(t *testing.T) {
	path := buildFixture(t, []byte{1, 2, 3})
	ctx := context.Background()
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	tj, err := s.Metadata(ctx)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if tj.Name != "fixture" {
		t.Errorf("Name = %q, want fixture", tj.Name)
	}
	if tj.MinZoom != 1 || tj.MaxZoom != 1 {
		t.Errorf("zoom range = %d-%d, want 1-1", tj.MinZoom, tj.MaxZoom)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pmtiles")
	if err := os.WriteFile(path, make([]byte, headerSize), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), path); err == nil {
		t.Error("expected error opening a file with no pmtiles magic")
	}
}

func TestFindTileBinarySearch(t *testing.T) {
	entries := []EntryV3{
		{TileID: 0, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 5, Offset: 10, Length: 10, RunLength: 3},
		{TileID: 20, Offset: 20, Length: 10, RunLength: 1},
	}
	if e, ok := findTile(entries, 6); !ok || e.TileID != 5 {
		t.Errorf("findTile(6) = %+v, %v", e, ok)
	}
	if _, ok := findTile(entries, 100); ok {
		t.Error("expected no match past the last entry's run")
	}
}
