package store

import (
	"fmt"

	"github.com/tileproxy/tileproxy/internal/format"
)

// TilePage fetches up to batchSize raw tile blobs for the given zero-based
// page index, in any stable order. An empty slice (with a nil error)
// signals there are no more pages.
type TilePage func(page, batchSize int) ([][]byte, error)

// DeriveFormatAndVectorLayers fills in tj.Format, if empty, by sniffing
// sampled tile bytes, and tj.VectorLayers, if tj.Format is "pbf" and none
// are set, by decoding every tile fetch returns and unioning their layer
// names across pages (§4.E "vector_layers by decoding tile protobuf layer
// names ... paged batches of 1000, merging a set of names across pages").
// It is a no-op if both are already known. It returns an error only when
// fetch itself fails: a tile that can't be sniffed/decoded is skipped
// rather than treated as fatal, since a metadata derivation best-effort
// fills gaps rather than gating availability on every tile's byte shape
// being well-formed.
func DeriveFormatAndVectorLayers(tj *TileJSON, batchSize int, fetch TilePage) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	needFormat := tj.Format == ""
	needLayers := tj.Format == "pbf" && len(tj.VectorLayers) == 0
	if !needFormat && !needLayers {
		return nil
	}

	seen := make(map[string]bool)
	var layers []VectorLayerMeta

	for page := 0; needFormat || needLayers; page++ {
		batch, err := fetch(page, batchSize)
		if err != nil {
			return fmt.Errorf("store: fetch tile page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, data := range batch {
			if needFormat {
				if f, ferr := format.Detect(data); ferr == nil {
					tj.Format = f.Extension()
					needFormat = false
					needLayers = tj.Format == "pbf" && len(tj.VectorLayers) == 0
				}
			}
			if needLayers {
				if found, lerr := format.VectorLayers(data); lerr == nil {
					for _, l := range found {
						if seen[l.ID] {
							continue
						}
						seen[l.ID] = true
						layers = append(layers, VectorLayerMeta{ID: l.ID, Fields: l.Fields})
					}
				}
			}
		}
	}

	if len(layers) > 0 {
		tj.VectorLayers = layers
	}
	return nil
}
