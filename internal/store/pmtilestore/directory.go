package pmtilestore

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// EntryV3 is one row of a PMTiles directory. RunLength == 0 marks the
// entry as a pointer to a leaf directory rather than a tile; RunLength
// >= 1 means TileId through TileId+RunLength-1 all share this Offset and
// Length in the tile data section.
type EntryV3 struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// decompressSection inflates raw per h.InternalCompression.
func decompressSection(raw []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone, CompressionUnknown:
		return raw, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("pmtilestore: gzip reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("pmtilestore: unsupported internal compression %d", c)
	}
}

// deserializeEntries decodes a directory from its wire format: a varint
// entry count, then four parallel varint-encoded columns (tile ID deltas,
// run lengths, data lengths, and offsets, with an offset of 0 meaning
// "immediately follows the previous entry's data").
func deserializeEntries(data []byte) ([]EntryV3, error) {
	buf := bytes.NewReader(data)

	numEntries, err := binary.ReadUvarint(buf)
	if err != nil {
		return nil, fmt.Errorf("pmtilestore: read entry count: %w", err)
	}
	entries := make([]EntryV3, numEntries)

	var lastID uint64
	for i := range entries {
		v, err := binary.ReadUvarint(buf)
		if err != nil {
			return nil, fmt.Errorf("pmtilestore: read tile id delta %d: %w", i, err)
		}
		lastID += v
		entries[i].TileID = lastID
	}

	for i := range entries {
		v, err := binary.ReadUvarint(buf)
		if err != nil {
			return nil, fmt.Errorf("pmtilestore: read run length %d: %w", i, err)
		}
		entries[i].RunLength = uint32(v)
	}

	for i := range entries {
		v, err := binary.ReadUvarint(buf)
		if err != nil {
			return nil, fmt.Errorf("pmtilestore: read length %d: %w", i, err)
		}
		entries[i].Length = uint32(v)
	}

	for i := range entries {
		v, err := binary.ReadUvarint(buf)
		if err != nil {
			return nil, fmt.Errorf("pmtilestore: read offset %d: %w", i, err)
		}
		if v == 0 && i > 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = v - 1
		}
	}

	return entries, nil
}

// serializeEntries is the inverse of deserializeEntries, used only by
// tests to build fixture archives.
func serializeEntries(entries []EntryV3) []byte {
	var buf bytes.Buffer
	putUvarint(&buf, uint64(len(entries)))

	var lastID uint64
	for _, e := range entries {
		putUvarint(&buf, e.TileID-lastID)
		lastID = e.TileID
	}
	for _, e := range entries {
		putUvarint(&buf, uint64(e.RunLength))
	}
	for _, e := range entries {
		putUvarint(&buf, uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && entries[i-1].Offset+uint64(entries[i-1].Length) == e.Offset {
			putUvarint(&buf, 0)
		} else {
			putUvarint(&buf, e.Offset+1)
		}
	}
	return buf.Bytes()
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// findTile returns the entry governing tileID, if any: either a direct
// hit (tileID within [entry.TileID, entry.TileID+RunLength)) or, for
// RunLength == 0, the leaf-directory pointer whose range contains it.
func findTile(entries []EntryV3, tileID uint64) (EntryV3, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].TileID > tileID })
	if i == 0 {
		return EntryV3{}, false
	}
	e := entries[i-1]
	if e.RunLength == 0 {
		return e, true
	}
	if tileID >= e.TileID && tileID < e.TileID+uint64(e.RunLength) {
		return e, true
	}
	return EntryV3{}, false
}
