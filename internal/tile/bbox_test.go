package tile

import "testing"

func TestNewBBoxClampsToWebMercatorRange(t *testing.T) {
	b := NewBBox(-200, -90, 200, 90)
	want := BBox{-180, -MaxLat, 180, MaxLat}
	if b != want {
		t.Errorf("NewBBox clamp = %v, want %v", b, want)
	}
}

func TestBBoxValidateRejectsInverted(t *testing.T) {
	b := BBox{10, 10, -10, 20}
	if err := b.Validate(); err == nil {
		t.Error("expected error for minLon >= maxLon")
	}
}

func TestCover(t *testing.T) {
	a := BBox{0, 0, 10, 10}
	b := BBox{-5, 5, 5, 15}
	got := Cover(a, b)
	want := BBox{-5, 0, 10, 15}
	if got != want {
		t.Errorf("Cover() = %v, want %v", got, want)
	}
}

func TestCenterFromBBox(t *testing.T) {
	b := BBox{0, 0, 10, 20}
	got := CenterFromBBox(b, 5)
	want := [3]float64{5, 10, 5}
	if got != want {
		t.Errorf("CenterFromBBox() = %v, want %v", got, want)
	}
}

func TestXYZFromLonLatZRoundTripsThroughBounds(t *testing.T) {
	x, y := XYZFromLonLatZ(9.74, 52.37, 13) // Hanover
	coords := Coords{Z: 13, X: x, Y: y}
	bounds := coords.Bounds()

	if 9.74 < bounds[0] || 9.74 > bounds[2] {
		t.Errorf("lon 9.74 outside derived tile bounds %v", bounds)
	}
	if 52.37 < bounds[1] || 52.37 > bounds[3] {
		t.Errorf("lat 52.37 outside derived tile bounds %v", bounds)
	}
}

func TestFromTileBoundsXYZVsTMSSameRow(t *testing.T) {
	z := uint32(5)
	// XYZ row 0 is the northernmost row; its TMS equivalent is FlipY(z, 0).
	xyz := FromTileBounds(3, 0, 3, 0, z, SchemeXYZ)
	tms := FromTileBounds(3, FlipY(z, 0), 3, FlipY(z, 0), z, SchemeTMS)

	if xyz != tms {
		t.Errorf("FromTileBounds scheme mismatch: xyz=%v tms=%v", xyz, tms)
	}
}
