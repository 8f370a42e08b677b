package tile

import "testing"

func TestFlipY(t *testing.T) {
	tests := []struct {
		z, y, want uint32
	}{
		{0, 0, 0},
		{1, 0, 1},
		{1, 1, 0},
		{13, 2754, (1<<13)-1-2754},
	}

	for _, tt := range tests {
		if got := FlipY(tt.z, tt.y); got != tt.want {
			t.Errorf("FlipY(%d, %d) = %d, want %d", tt.z, tt.y, got, tt.want)
		}
	}
}

func TestFlipYIsSelfInverse(t *testing.T) {
	for z := uint32(0); z < 14; z++ {
		for y := uint32(0); y < (1 << z); y += 37 {
			if got := FlipY(z, FlipY(z, y)); got != y {
				t.Errorf("FlipY(z=%d) not self-inverse for y=%d: got %d", z, y, got)
			}
		}
	}
}
