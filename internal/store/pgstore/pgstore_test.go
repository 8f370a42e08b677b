package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/tileproxy/tileproxy/internal/tile"
)

func pbfFixture(t *testing.T, layerNames ...string) []byte {
	t.Helper()
	layers := make(mvt.Layers, 0, len(layerNames))
	for _, name := range layerNames {
		fc := geojson.NewFeatureCollection()
		fc.Append(geojson.NewFeature(orb.Point{0, 0}))
		layers = append(layers, mvt.NewLayer(name, fc))
	}
	data, err := mvt.MarshalGzipped(layers)
	if err != nil {
		t.Fatalf("MarshalGzipped: %v", err)
	}
	return data
}

// requireTestDB skips the test unless TILEPROXY_TEST_POSTGRES_URI is set,
// since a real PostgreSQL instance is not available in this environment.
func requireTestDB(t *testing.T) string {
	t.Helper()
	uri := os.Getenv("TILEPROXY_TEST_POSTGRES_URI")
	if uri == "" {
		t.Skip("TILEPROXY_TEST_POSTGRES_URI not set; skipping PostgreSQL integration test")
	}
	return uri
}

func TestSanitizeIdent(t *testing.T) {
	tests := []struct{ in, want string }{
		{"my_table", "my_table"},
		{"my-table; DROP TABLE x;--", "mytableDROPTABLEx"},
		{"", "tiles"},
	}
	for _, tt := range tests {
		if got := sanitizeIdent(tt.in); got != tt.want {
			t.Errorf("sanitizeIdent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	uri := requireTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, uri, "pgstore_test_tiles", true, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	c := tile.Coords{Z: 1, X: 0, Y: 0}
	data := []byte{0x89, 0x50, 0x4E, 0x47}

	if err := s.Put(ctx, c, data, true); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, c)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get = %v, want %v", got, data)
	}
}

func TestMetadataDerivesFormatAndVectorLayers(t *testing.T) {
	uri := requireTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, uri, "pgstore_test_meta", true, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Put(ctx, tile.Coords{Z: 1, X: 0, Y: 0}, pbfFixture(t, "water"), false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, tile.Coords{Z: 2, X: 1, Y: 1}, pbfFixture(t, "roads"), false); err != nil {
		t.Fatalf("Put: %v", err)
	}

	meta, err := s.Metadata(ctx)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.Format != "pbf" {
		t.Fatalf("format = %q, want pbf", meta.Format)
	}
	got := make(map[string]bool, len(meta.VectorLayers))
	for _, l := range meta.VectorLayers {
		got[l.ID] = true
	}
	for _, want := range []string{"water", "roads"} {
		if !got[want] {
			t.Errorf("vector_layers missing %q, got %v", want, meta.VectorLayers)
		}
	}
}
