package store

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
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

func pagedFetch(pages [][][]byte) TilePage {
	return func(page, batchSize int) ([][]byte, error) {
		if page >= len(pages) {
			return nil, nil
		}
		return pages[page], nil
	}
}

func TestDeriveFormatAndVectorLayersUnionsAcrossPages(t *testing.T) {
	pages := [][][]byte{
		{pbfFixture(t, "water")},
		{pbfFixture(t, "roads"), pbfFixture(t, "water")},
	}
	tj := &TileJSON{}
	if err := DeriveFormatAndVectorLayers(tj, 1, pagedFetch(pages)); err != nil {
		t.Fatalf("DeriveFormatAndVectorLayers: %v", err)
	}
	if tj.Format != "pbf" {
		t.Fatalf("Format = %q, want pbf", tj.Format)
	}
	got := make(map[string]bool, len(tj.VectorLayers))
	for _, l := range tj.VectorLayers {
		got[l.ID] = true
	}
	for _, want := range []string{"water", "roads"} {
		if !got[want] {
			t.Errorf("missing layer %q in %v", want, tj.VectorLayers)
		}
	}
}

func TestDeriveFormatAndVectorLayersSkipsWhenAlreadyKnown(t *testing.T) {
	tj := &TileJSON{Format: "png"}
	called := false
	fetch := func(page, batchSize int) ([][]byte, error) {
		called = true
		return nil, nil
	}
	if err := DeriveFormatAndVectorLayers(tj, 1000, fetch); err != nil {
		t.Fatalf("DeriveFormatAndVectorLayers: %v", err)
	}
	if called {
		t.Error("expected no fetch when format is known and non-pbf")
	}
}

func TestDeriveFormatAndVectorLayersDerivesLayersWhenFormatPreset(t *testing.T) {
	tj := &TileJSON{Format: "pbf"}
	pages := [][][]byte{{pbfFixture(t, "landuse")}}
	if err := DeriveFormatAndVectorLayers(tj, 10, pagedFetch(pages)); err != nil {
		t.Fatalf("DeriveFormatAndVectorLayers: %v", err)
	}
	if len(tj.VectorLayers) != 1 || tj.VectorLayers[0].ID != "landuse" {
		t.Errorf("VectorLayers = %v, want [landuse]", tj.VectorLayers)
	}
}
