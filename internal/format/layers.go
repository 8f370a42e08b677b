package format

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/paulmach/orb/encoding/mvt"
)

// VectorLayer describes one layer found inside a Mapbox Vector Tile, in
// the shape TileJSON's "vector_layers" array expects.
type VectorLayer struct {
	ID     string `json:"id"`
	Fields map[string]string
}

// VectorLayers decodes a (possibly gzip-compressed) PBF tile and returns
// the set of layer names it contains, sorted for deterministic TileJSON
// output. Field types are not inspected: §4.C only requires the layer
// list, and deriving per-field types would mean scanning every feature of
// every sample tile rather than one.
func VectorLayers(data []byte) ([]VectorLayer, error) {
	unmarshal := mvt.Unmarshal
	if bytes.HasPrefix(data, gzipSig) {
		unmarshal = mvt.UnmarshalGzipped
	}

	layers, err := unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("format: decode mvt: %w", err)
	}

	out := make([]VectorLayer, 0, len(layers))
	for _, l := range layers {
		out = append(out, VectorLayer{ID: l.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
