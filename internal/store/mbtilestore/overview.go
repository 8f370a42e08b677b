package mbtilestore

import (
	"context"
	"fmt"

	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/store/overview"
)

// AddOverviews implements store.Overviewer by running the shared overview
// driver against this store, then writing the resulting minzoom back into
// the metadata table.
func (s *Store) AddOverviews(ctx context.Context, concurrency int, compositor store.TileCompositor) error {
	minZoom, err := overview.Drive(ctx, s, concurrency, compositor)
	if err != nil {
		return fmt.Errorf("mbtilestore: add overviews: %w", err)
	}
	return s.UpdateMetadata(ctx, store.MetadataPatch{MinZoom: &minZoom})
}
