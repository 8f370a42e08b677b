// Package geojson validates the GeoJSON documents the registry and
// resolver serve under /geojsons/:group/:layer. Each document is stored
// and forwarded as opaque bytes (§4.F); this package rejects a document
// that is not well-formed GeoJSON before it is handed to a caller, and
// names a (group, layer) document's on-disk path. Validation runs in the
// HTTP handler after the resolver has returned the document, so a
// forwarded document's cache write-through does not wait on it.
package geojson

import (
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// Validate parses data as a GeoJSON FeatureCollection, returning an error
// if it is malformed. A successfully parsed document is otherwise passed
// through unmodified: this proxy never re-encodes or re-projects GeoJSON
// (§1 Non-goals).
func Validate(data []byte) error {
	if _, err := geojson.UnmarshalFeatureCollection(data); err != nil {
		return fmt.Errorf("geojson: invalid feature collection: %w", err)
	}
	return nil
}

// LayerPath returns the on-disk path, relative to a GeoJSON source's
// root, for one (group, layer) document per §6's "one file per (group,
// layer)" persisted-state layout.
func LayerPath(group, layer string) string {
	return fmt.Sprintf("%s/%s.geojson", group, layer)
}
