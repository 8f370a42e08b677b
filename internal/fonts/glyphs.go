// Package fonts implements §4.F's font range resolve and glyph merge: a
// requested comma-separated list of font ids for one {range}.pbf is
// resolved per id (falling back to a bundled "Open Sans" family on
// failure) and the resulting glyph PBFs are merged by glyph id, first
// writer wins, into a single response.
//
// No library in the retrieval pack decodes the Mapbox "glyphs" protobuf
// schema (it is unrelated to the orb/encoding/mvt vector-tile format),
// so where format/layers.go leans on a library for MVT, this package
// hand-rolls the wire format: a minimal varint/length-delimited reader
// and writer scoped to exactly the three messages the schema defines.
package fonts

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Glyph is one decoded "glyph" message: an id plus its bitmap metrics.
// The bitmap payload itself is treated as an opaque blob — this proxy
// never rasterizes or re-encodes glyphs (§1 Non-goals), it only merges
// PBF messages by id.
type Glyph struct {
	ID      uint32
	Bitmap  []byte
	Width   uint32
	Height  uint32
	Left    int32
	Top     int32
	Advance uint32
}

// FontStack is one decoded "fontstack" message.
type FontStack struct {
	Name   string
	Range  string
	Glyphs []Glyph
}

// protobuf wire types used by the glyphs schema.
const (
	wireVarint = 0
	wireBytes  = 2
)

// Decode parses a "glyphs" top-level message (repeated fontstack = 1)
// into its constituent FontStacks.
func Decode(data []byte) ([]FontStack, error) {
	var stacks []FontStack
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		field, wire, err := readTag(r)
		if err != nil {
			return nil, fmt.Errorf("fonts: read glyphs tag: %w", err)
		}
		if field == 1 && wire == wireBytes {
			raw, err := readBytes(r)
			if err != nil {
				return nil, fmt.Errorf("fonts: read fontstack bytes: %w", err)
			}
			fs, err := decodeFontStack(raw)
			if err != nil {
				return nil, err
			}
			stacks = append(stacks, fs)
			continue
		}
		if err := skipField(r, wire); err != nil {
			return nil, fmt.Errorf("fonts: skip unknown glyphs field %d: %w", field, err)
		}
	}
	return stacks, nil
}

func decodeFontStack(data []byte) (FontStack, error) {
	var fs FontStack
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		field, wire, err := readTag(r)
		if err != nil {
			return fs, fmt.Errorf("fonts: read fontstack tag: %w", err)
		}
		switch {
		case field == 1 && wire == wireBytes:
			b, err := readBytes(r)
			if err != nil {
				return fs, err
			}
			fs.Name = string(b)
		case field == 2 && wire == wireBytes:
			b, err := readBytes(r)
			if err != nil {
				return fs, err
			}
			fs.Range = string(b)
		case field == 3 && wire == wireBytes:
			b, err := readBytes(r)
			if err != nil {
				return fs, err
			}
			g, err := decodeGlyph(b)
			if err != nil {
				return fs, err
			}
			fs.Glyphs = append(fs.Glyphs, g)
		default:
			if err := skipField(r, wire); err != nil {
				return fs, fmt.Errorf("fonts: skip unknown fontstack field %d: %w", field, err)
			}
		}
	}
	return fs, nil
}

func decodeGlyph(data []byte) (Glyph, error) {
	var g Glyph
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		field, wire, err := readTag(r)
		if err != nil {
			return g, fmt.Errorf("fonts: read glyph tag: %w", err)
		}
		switch {
		case field == 1 && wire == wireVarint:
			v, err := binary.ReadUvarint(r)
			if err != nil {
				return g, err
			}
			g.ID = uint32(v)
		case field == 2 && wire == wireBytes:
			b, err := readBytes(r)
			if err != nil {
				return g, err
			}
			g.Bitmap = b
		case field == 3 && wire == wireVarint:
			v, err := binary.ReadUvarint(r)
			if err != nil {
				return g, err
			}
			g.Width = uint32(v)
		case field == 4 && wire == wireVarint:
			v, err := binary.ReadUvarint(r)
			if err != nil {
				return g, err
			}
			g.Height = uint32(v)
		case field == 5 && wire == wireVarint:
			v, err := binary.ReadUvarint(r)
			if err != nil {
				return g, err
			}
			g.Left = zigzagDecode(v)
		case field == 6 && wire == wireVarint:
			v, err := binary.ReadUvarint(r)
			if err != nil {
				return g, err
			}
			g.Top = zigzagDecode(v)
		case field == 7 && wire == wireVarint:
			v, err := binary.ReadUvarint(r)
			if err != nil {
				return g, err
			}
			g.Advance = uint32(v)
		default:
			if err := skipField(r, wire); err != nil {
				return g, fmt.Errorf("fonts: skip unknown glyph field %d: %w", field, err)
			}
		}
	}
	return g, nil
}

// Encode serializes stacks back into a "glyphs" top-level message.
func Encode(stacks []FontStack) []byte {
	var out bytes.Buffer
	for _, fs := range stacks {
		buf := encodeFontStack(fs)
		writeTag(&out, 1, wireBytes)
		writeVarint(&out, uint64(len(buf)))
		out.Write(buf)
	}
	return out.Bytes()
}

func encodeFontStack(fs FontStack) []byte {
	var buf bytes.Buffer
	writeTag(&buf, 1, wireBytes)
	writeVarint(&buf, uint64(len(fs.Name)))
	buf.WriteString(fs.Name)

	if fs.Range != "" {
		writeTag(&buf, 2, wireBytes)
		writeVarint(&buf, uint64(len(fs.Range)))
		buf.WriteString(fs.Range)
	}

	for _, g := range fs.Glyphs {
		gb := encodeGlyph(g)
		writeTag(&buf, 3, wireBytes)
		writeVarint(&buf, uint64(len(gb)))
		buf.Write(gb)
	}
	return buf.Bytes()
}

func encodeGlyph(g Glyph) []byte {
	var buf bytes.Buffer
	writeTag(&buf, 1, wireVarint)
	writeVarint(&buf, uint64(g.ID))

	if len(g.Bitmap) > 0 {
		writeTag(&buf, 2, wireBytes)
		writeVarint(&buf, uint64(len(g.Bitmap)))
		buf.Write(g.Bitmap)
	}
	if g.Width != 0 {
		writeTag(&buf, 3, wireVarint)
		writeVarint(&buf, uint64(g.Width))
	}
	if g.Height != 0 {
		writeTag(&buf, 4, wireVarint)
		writeVarint(&buf, uint64(g.Height))
	}
	if g.Left != 0 {
		writeTag(&buf, 5, wireVarint)
		writeVarint(&buf, zigzagEncode(g.Left))
	}
	if g.Top != 0 {
		writeTag(&buf, 6, wireVarint)
		writeVarint(&buf, zigzagEncode(g.Top))
	}
	if g.Advance != 0 {
		writeTag(&buf, 7, wireVarint)
		writeVarint(&buf, uint64(g.Advance))
	}
	return buf.Bytes()
}

// Merge decodes each of datas as a "glyphs" message and combines all
// their fontstacks into a single stack: the glyph id set is the union
// across inputs, with the earliest input in datas winning where two
// define the same id, and stack names concatenated with "," in input
// order (§4.F "Font merge").
func Merge(datas [][]byte) ([]byte, error) {
	seen := make(map[uint32]bool)
	var names []string
	var merged []Glyph
	var rng string

	for _, d := range datas {
		stacks, err := Decode(d)
		if err != nil {
			return nil, fmt.Errorf("fonts: decode for merge: %w", err)
		}
		for _, fs := range stacks {
			names = append(names, fs.Name)
			if rng == "" {
				rng = fs.Range
			}
			for _, g := range fs.Glyphs {
				if seen[g.ID] {
					continue
				}
				seen[g.ID] = true
				merged = append(merged, g)
			}
		}
	}

	out := FontStack{Name: joinNames(names), Range: rng, Glyphs: merged}
	return Encode([]FontStack{out}), nil
}

func joinNames(names []string) string {
	if len(names) == 0 {
		return ""
	}
	out := names[0]
	for _, n := range names[1:] {
		out += "," + n
	}
	return out
}

func zigzagEncode(v int32) uint64 {
	return uint64((v << 1) ^ (v >> 31))
}

func zigzagDecode(v uint64) int32 {
	return int32((v >> 1) ^ -(v & 1))
}

func readTag(r *bytes.Reader) (field int, wire int, err error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, 0, err
	}
	return int(v >> 3), int(v & 0x7), nil
}

func writeTag(w *bytes.Buffer, field, wire int) {
	writeVarint(w, uint64(field<<3|wire))
}

func writeVarint(w *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.Write(tmp[:n])
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func skipField(r *bytes.Reader, wire int) error {
	switch wire {
	case wireVarint:
		_, err := binary.ReadUvarint(r)
		return err
	case wireBytes:
		_, err := readBytes(r)
		return err
	default:
		return fmt.Errorf("fonts: unsupported wire type %d", wire)
	}
}
