package tile

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxLat is the Web Mercator latitude clamp (±85.051129°); beyond this the
// projection's Y coordinate diverges to infinity.
const MaxLat = 85.051129

// BBox is a geographic bounding box in WGS84: [minLon, minLat, maxLon, maxLat].
type BBox [4]float64

// NewBBox builds a BBox, clamping latitude to ±MaxLat and longitude to
// ±180 per §3. It does not validate min < max; callers that need that
// invariant (e.g. rejecting antimeridian-crossing input) call Validate.
func NewBBox(minLon, minLat, maxLon, maxLat float64) BBox {
	return BBox{
		clampLon(minLon), clampLat(minLat),
		clampLon(maxLon), clampLat(maxLat),
	}
}

func clampLat(v float64) float64 {
	if v > MaxLat {
		return MaxLat
	}
	if v < -MaxLat {
		return -MaxLat
	}
	return v
}

func clampLon(v float64) float64 {
	if v > 180 {
		return 180
	}
	if v < -180 {
		return -180
	}
	return v
}

// Validate rejects a bbox crossing the antimeridian or with inverted axes;
// callers are expected to split antimeridian-crossing requests themselves.
func (b BBox) Validate() error {
	if b[0] >= b[2] {
		return fmt.Errorf("bbox: minLon %.6f >= maxLon %.6f (antimeridian-crossing bboxes are rejected)", b[0], b[2])
	}
	if b[1] >= b[3] {
		return fmt.Errorf("bbox: minLat %.6f >= maxLat %.6f", b[1], b[3])
	}
	return nil
}

// Cover returns the smallest BBox containing both a and b.
func Cover(a, b BBox) BBox {
	return BBox{
		min(a[0], b[0]), min(a[1], b[1]),
		max(a[2], b[2]), max(a[3], b[3]),
	}
}

// CenterFromBBox returns the lon/lat/zoom center triple for a bbox, the
// canonical way to derive TileJSON "center" when metadata omits it
// (§9 design note: unify on this instead of an arithmetic-mean variant).
func CenterFromBBox(b BBox, z int) [3]float64 {
	return [3]float64{
		(b[0] + b[2]) / 2,
		(b[1] + b[3]) / 2,
		float64(z),
	}
}

// FromTileBounds returns the geographic BBox covering tile columns
// [xMin,xMax] and rows [yMin,yMax] at zoom z, expressed in scheme s.
// Rows are converted to XYZ (the scheme maptile.Bound expects) before
// lookup when s is TMS.
func FromTileBounds(xMin, yMin, xMax, yMax uint32, z uint32, s Scheme) BBox {
	if s == SchemeTMS {
		yMin, yMax = FlipY(z, yMax), FlipY(z, yMin)
	}

	topLeft := maptile.New(xMin, yMin, maptile.Zoom(z)).Bound()
	bottomRight := maptile.New(xMax, yMax, maptile.Zoom(z)).Bound()

	return Cover(
		BBox{topLeft.Min.Lon(), topLeft.Min.Lat(), topLeft.Max.Lon(), topLeft.Max.Lat()},
		BBox{bottomRight.Min.Lon(), bottomRight.Min.Lat(), bottomRight.Max.Lon(), bottomRight.Max.Lat()},
	)
}

// XYZFromLonLatZ returns the XYZ tile column/row containing (lon, lat) at
// zoom z.
func XYZFromLonLatZ(lon, lat float64, z uint32) (x, y uint32) {
	t := maptile.At(orb.Point{lon, lat}, maptile.Zoom(z))
	return t.X, t.Y
}
