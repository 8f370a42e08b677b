package pmtilestore

// zxyToID maps a z/x/y tile coordinate to its globally ordered tile ID, by
// offsetting a per-zoom Hilbert curve index by the number of tiles at all
// lower zoom levels. This mirrors the addressing scheme PMTiles archives
// are built with, so directory lookups must use the same mapping.
func zxyToID(z uint8, x, y uint32) uint64 {
	if z == 0 {
		return 0
	}

	var acc uint64
	for t := uint8(0); t < z; t++ {
		acc += numTilesAtZoom(t)
	}

	return acc + hilbertXYToD(uint64(x), uint64(y), z)
}

func numTilesAtZoom(z uint8) uint64 {
	return uint64(1) << (uint(z) * 2)
}

// hilbertXYToD converts (x, y) within a 2^z square into its position along
// the Hilbert space-filling curve.
func hilbertXYToD(x, y uint64, z uint8) uint64 {
	n := uint64(1) << z
	var rx, ry, d uint64
	tx, ty := x, y
	for s := n / 2; s > 0; s /= 2 {
		if tx&s > 0 {
			rx = 1
		} else {
			rx = 0
		}
		if ty&s > 0 {
			ry = 1
		} else {
			ry = 0
		}
		d += s * s * ((3 * rx) ^ ry)
		tx, ty = hilbertRotate(s, tx, ty, rx, ry)
	}
	return d
}

func hilbertRotate(s, x, y, rx, ry uint64) (uint64, uint64) {
	if ry == 0 {
		if rx == 1 {
			x = s - 1 - x
			y = s - 1 - y
		}
		x, y = y, x
	}
	return x, y
}
