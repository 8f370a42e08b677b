package tile

// Coverage describes the set of tiles a source should be considered to
// have, expanded per zoom level. Sources commonly publish bounds (and a
// minzoom/maxzoom pair) rather than an explicit tile list; Coverage is the
// expansion of that into per-zoom tile-index rectangles, used by the
// exporter and seeder to enumerate work without re-deriving it at every
// zoom on every call.
type Coverage struct {
	BBox       BBox
	MinZoom    uint32
	MaxZoom    uint32
	ZoomBounds map[uint32]ZoomBound
}

// ZoomBound is the inclusive tile-index rectangle, in XYZ, a BBox covers
// at one zoom level.
type ZoomBound struct {
	MinX, MinY, MaxX, MaxY uint32
}

// NewCoverage expands bbox into a ZoomBound for every zoom in
// [minZoom, maxZoom].
func NewCoverage(bbox BBox, minZoom, maxZoom uint32) Coverage {
	zb := make(map[uint32]ZoomBound, maxZoom-minZoom+1)
	for z := minZoom; z <= maxZoom; z++ {
		zb[z] = zoomBoundFromBBox(bbox, z)
	}
	return Coverage{BBox: bbox, MinZoom: minZoom, MaxZoom: maxZoom, ZoomBounds: zb}
}

func zoomBoundFromBBox(b BBox, z uint32) ZoomBound {
	minX, maxY := XYZFromLonLatZ(b[0], b[1], z)
	maxX, minY := XYZFromLonLatZ(b[2], b[3], z)
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	return ZoomBound{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// Count returns the number of tiles covered across all zooms.
func (c Coverage) Count() uint64 {
	var total uint64
	for _, zb := range c.ZoomBounds {
		total += uint64(zb.MaxX-zb.MinX+1) * uint64(zb.MaxY-zb.MinY+1)
	}
	return total
}

// Contains reports whether (x, y) at zoom z falls inside the coverage,
// treating a zoom with no recorded bound as uncovered.
func (c Coverage) Contains(z, x, y uint32) bool {
	zb, ok := c.ZoomBounds[z]
	if !ok {
		return false
	}
	return x >= zb.MinX && x <= zb.MaxX && y >= zb.MinY && y <= zb.MaxY
}

// ForEach invokes fn for every tile coordinate in the coverage, in
// ascending zoom/x/y order, stopping early if fn returns false.
func (c Coverage) ForEach(fn func(z, x, y uint32) bool) {
	for z := c.MinZoom; z <= c.MaxZoom; z++ {
		zb, ok := c.ZoomBounds[z]
		if !ok {
			continue
		}
		for x := zb.MinX; x <= zb.MaxX; x++ {
			for y := zb.MinY; y <= zb.MaxY; y++ {
				if !fn(z, x, y) {
					return
				}
			}
		}
	}
}
