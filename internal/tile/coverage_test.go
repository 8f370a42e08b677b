package tile

import "testing"

func TestNewCoverageCount(t *testing.T) {
	// One tile at z0 covering the whole world.
	c := NewCoverage(BBox{-180, -MaxLat, 180, MaxLat}, 0, 2)

	if got := c.Count(); got == 0 {
		t.Fatal("expected nonzero tile count")
	}
	z0 := c.ZoomBounds[0]
	if z0.MinX != 0 || z0.MaxX != 0 || z0.MinY != 0 || z0.MaxY != 0 {
		t.Errorf("z0 bound = %+v, want single tile 0,0", z0)
	}
}

func TestCoverageContains(t *testing.T) {
	c := NewCoverage(BBox{9.5, 52.2, 10.0, 52.5}, 10, 14)

	var any bool
	c.ForEach(func(z, x, y uint32) bool {
		any = true
		if !c.Contains(z, x, y) {
			t.Errorf("Contains(%d,%d,%d) = false for tile yielded by ForEach", z, x, y)
		}
		return true
	})
	if !any {
		t.Fatal("ForEach yielded no tiles")
	}

	if c.Contains(20, 0, 0) {
		t.Error("Contains should be false for a zoom outside the coverage")
	}
}

func TestCoverageForEachEarlyStop(t *testing.T) {
	c := NewCoverage(BBox{-10, -10, 10, 10}, 3, 6)

	count := 0
	c.ForEach(func(z, x, y uint32) bool {
		count++
		return count < 5
	})
	if count != 5 {
		t.Errorf("ForEach did not stop early: visited %d tiles, want 5", count)
	}
}
