package xyzstore

import (
	"context"
	"fmt"

	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/store/overview"
)

func (s *Store) AddOverviews(ctx context.Context, concurrency int, compositor store.TileCompositor) error {
	minZoom, err := overview.Drive(ctx, s, concurrency, compositor)
	if err != nil {
		return fmt.Errorf("xyzstore: add overviews: %w", err)
	}
	return s.UpdateMetadata(ctx, store.MetadataPatch{MinZoom: &minZoom})
}
