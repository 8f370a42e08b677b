// Package overview implements §4.E's "add overviews" operation: walking
// down from a backend's maximum zoom, compositing each 2x2 block of
// child tiles into a single downscaled parent tile. The driver is
// backend-agnostic — it only uses the store.Store interface — so every
// writable backend (MBTiles, XYZ, PostgreSQL) shares one implementation
// instead of three copies of the same tile-mosaic math.
package overview

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/disintegration/gift"

	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/tile"
)

// TileSize is the pixel width/height assumed for every raster tile this
// proxy serves; it matches the de facto web-map standard (256px) that the
// teacher repo's overview-free renderer also targeted per tile.
const TileSize = 256

// PNGCompositor composites four child tiles into one parent tile by
// placing them on a 2x2 canvas and downscaling with Lanczos resampling,
// then re-encoding as PNG. Non-raster formats (PBF) are not composable
// and are rejected.
type PNGCompositor struct{}

func (PNGCompositor) Composite(tl, tr, bl, br []byte, format string) ([]byte, error) {
	if format != "png" {
		return nil, fmt.Errorf("overview: compositing is only supported for png tiles, got %q", format)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, TileSize*2, TileSize*2))
	if err := drawChild(canvas, tl, image.Pt(0, 0)); err != nil {
		return nil, err
	}
	if err := drawChild(canvas, tr, image.Pt(TileSize, 0)); err != nil {
		return nil, err
	}
	if err := drawChild(canvas, bl, image.Pt(0, TileSize)); err != nil {
		return nil, err
	}
	if err := drawChild(canvas, br, image.Pt(TileSize, TileSize)); err != nil {
		return nil, err
	}

	dst := image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize))
	g := gift.New(gift.Resize(TileSize, TileSize, gift.LanczosResampling))
	g.Draw(dst, canvas)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("overview: encode composited tile: %w", err)
	}
	return buf.Bytes(), nil
}

func drawChild(canvas *image.NRGBA, data []byte, at image.Point) error {
	if data == nil {
		return nil // transparent background for a missing child, per §4.E
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("overview: decode child tile: %w", err)
	}
	draw.Draw(canvas, image.Rect(at.X, at.Y, at.X+TileSize, at.Y+TileSize), img, image.Point{}, draw.Src)
	return nil
}

// Drive runs the overview algorithm against s, starting from its current
// maxzoom and walking down one level at a time until the parent
// rectangle collapses to a single tile. It returns the lowest zoom level
// it generated tiles at, to be written back as the store's new minzoom.
func Drive(ctx context.Context, s store.Store, concurrency int, compositor store.TileCompositor) (uint32, error) {
	meta, err := s.Metadata(ctx)
	if err != nil {
		return 0, fmt.Errorf("overview: read metadata: %w", err)
	}
	if meta.Format != "png" {
		return meta.MinZoom, fmt.Errorf("overview: addOverviews only supports png sources, got %q", meta.Format)
	}

	childZoom := meta.MaxZoom
	lastGenerated := childZoom

	for childZoom > 0 {
		childBound := tile.NewCoverage(meta.Bounds, childZoom, childZoom).ZoomBounds[childZoom]

		parentZoom := childZoom - 1
		parentMinX, parentMinY := childBound.MinX/2, childBound.MinY/2
		parentMaxX, parentMaxY := childBound.MaxX/2, childBound.MaxY/2

		if parentMaxX == parentMinX && parentMaxY == parentMinY {
			// One parent tile left: generate it, then stop — the source
			// footprint is now within a single tile (§4.E's 95% rule,
			// simplified to its single-tile boundary case).
			if err := generateParent(ctx, s, parentZoom, parentMinX, parentMinY, compositor); err != nil {
				return lastGenerated, err
			}
			return parentZoom, nil
		}

		if err := generateLevel(ctx, s, parentZoom, parentMinX, parentMinY, parentMaxX, parentMaxY, concurrency, compositor); err != nil {
			return lastGenerated, err
		}
		lastGenerated = parentZoom
		childZoom = parentZoom
	}

	return lastGenerated, nil
}

func generateLevel(ctx context.Context, s store.Store, z, minX, minY, maxX, maxY uint32, concurrency int, compositor store.TileCompositor) error {
	type parent struct{ x, y uint32 }
	var parents []parent
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			parents = append(parents, parent{x, y})
		}
	}

	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	errs := make(chan error, len(parents))

	for _, p := range parents {
		sem <- struct{}{}
		go func(p parent) {
			defer func() { <-sem }()
			errs <- generateParent(ctx, s, z, p.x, p.y, compositor)
		}(p)
	}
	for range parents {
		if err := <-errs; err != nil {
			return err
		}
	}
	return nil
}

func generateParent(ctx context.Context, s store.Store, z, x, y uint32, compositor store.TileCompositor) error {
	childZ := z + 1
	get := func(cx, cy uint32) []byte {
		data, err := s.Get(ctx, tile.Coords{Z: childZ, X: cx, Y: cy})
		if err != nil {
			return nil
		}
		return data
	}

	tl := get(2*x, 2*y)
	tr := get(2*x+1, 2*y)
	bl := get(2*x, 2*y+1)
	br := get(2*x+1, 2*y+1)
	if tl == nil && tr == nil && bl == nil && br == nil {
		return nil
	}

	composited, err := compositor.Composite(tl, tr, bl, br, "png")
	if err != nil {
		return fmt.Errorf("overview: composite parent z%d_x%d_y%d: %w", z, x, y, err)
	}

	if err := s.Put(ctx, tile.Coords{Z: z, X: x, Y: y}, composited, true); err != nil {
		return fmt.Errorf("overview: store parent z%d_x%d_y%d: %w", z, x, y, err)
	}
	return nil
}
