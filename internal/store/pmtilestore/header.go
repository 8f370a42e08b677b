// Package pmtilestore implements the read-only PMTiles storage backend:
// a single-file archive of a 127-byte header, a root directory, leaf
// directories, and tile data, addressed by a Hilbert-curve tile ID. See
// §4.E. Archives are read from a local file or over HTTP range requests;
// there is no write path.
package pmtilestore

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const headerSize = 127

var magic = [7]byte{'P', 'M', 'T', 'i', 'l', 'e', 's'}

// Compression identifies how a section of the archive is compressed.
type Compression uint8

const (
	CompressionUnknown Compression = iota
	CompressionNone
	CompressionGzip
	CompressionBrotli
	CompressionZstd
)

// TileType identifies the payload format stored in the archive.
type TileType uint8

const (
	TileTypeUnknown TileType = iota
	TileTypeMVT
	TileTypePNG
	TileTypeJPEG
	TileTypeWebP
	TileTypeAVIF
)

// HeaderV3 is the fixed 127-byte PMTiles spec v3 header.
type HeaderV3 struct {
	RootOffset           uint64
	RootLength           uint64
	MetadataOffset        uint64
	MetadataLength        uint64
	LeafDirsOffset       uint64
	LeafDirsLength       uint64
	TileDataOffset       uint64
	TileDataLength       uint64
	NumAddressedTiles    uint64
	NumTileEntries       uint64
	NumTileContents      uint64
	Clustered            bool
	InternalCompression Compression
	TileCompression      Compression
	TileType             TileType
	MinZoom              uint8
	MaxZoom              uint8
	MinLonE7             int32
	MinLatE7             int32
	MaxLonE7             int32
	MaxLatE7             int32
	CenterZoom           uint8
	CenterLonE7          int32
	CenterLatE7          int32
}

// ErrBadMagic is returned when the first bytes of an archive do not match
// the PMTiles magic number.
var ErrBadMagic = errors.New("pmtilestore: not a pmtiles v3 archive")

// ParseHeader decodes the fixed-size header from the first headerSize
// bytes of an archive.
func ParseHeader(data []byte) (HeaderV3, error) {
	if len(data) < headerSize {
		return HeaderV3{}, fmt.Errorf("pmtilestore: header requires %d bytes, got %d", headerSize, len(data))
	}
	if [7]byte(data[0:7]) != magic || data[7] != 3 {
		return HeaderV3{}, ErrBadMagic
	}

	le := binary.LittleEndian
	h := HeaderV3{
		RootOffset:        le.Uint64(data[8:16]),
		RootLength:        le.Uint64(data[16:24]),
		MetadataOffset:    le.Uint64(data[24:32]),
		MetadataLength:    le.Uint64(data[32:40]),
		LeafDirsOffset:    le.Uint64(data[40:48]),
		LeafDirsLength:    le.Uint64(data[48:56]),
		TileDataOffset:    le.Uint64(data[56:64]),
		TileDataLength:    le.Uint64(data[64:72]),
		NumAddressedTiles: le.Uint64(data[72:80]),
		NumTileEntries:    le.Uint64(data[80:88]),
		NumTileContents:   le.Uint64(data[88:96]),
		Clustered:         data[96] != 0,
		InternalCompression: Compression(data[97]),
		TileCompression:     Compression(data[98]),
		TileType:            TileType(data[99]),
		MinZoom:             data[100],
		MaxZoom:             data[101],
		MinLonE7:            int32(le.Uint32(data[102:106])),
		MinLatE7:            int32(le.Uint32(data[106:110])),
		MaxLonE7:            int32(le.Uint32(data[110:114])),
		MaxLatE7:            int32(le.Uint32(data[114:118])),
		CenterZoom:          data[118],
		CenterLonE7:         int32(le.Uint32(data[119:123])),
		CenterLatE7:         int32(le.Uint32(data[123:127])),
	}
	return h, nil
}

// Marshal encodes h back into a headerSize-byte buffer, used by tests to
// construct fixture archives.
func (h HeaderV3) Marshal() []byte {
	data := make([]byte, headerSize)
	copy(data[0:7], magic[:])
	data[7] = 3

	le := binary.LittleEndian
	le.PutUint64(data[8:16], h.RootOffset)
	le.PutUint64(data[16:24], h.RootLength)
	le.PutUint64(data[24:32], h.MetadataOffset)
	le.PutUint64(data[32:40], h.MetadataLength)
	le.PutUint64(data[40:48], h.LeafDirsOffset)
	le.PutUint64(data[48:56], h.LeafDirsLength)
	le.PutUint64(data[56:64], h.TileDataOffset)
	le.PutUint64(data[64:72], h.TileDataLength)
	le.PutUint64(data[72:80], h.NumAddressedTiles)
	le.PutUint64(data[80:88], h.NumTileEntries)
	le.PutUint64(data[88:96], h.NumTileContents)
	if h.Clustered {
		data[96] = 1
	}
	data[97] = byte(h.InternalCompression)
	data[98] = byte(h.TileCompression)
	data[99] = byte(h.TileType)
	data[100] = h.MinZoom
	data[101] = h.MaxZoom
	le.PutUint32(data[102:106], uint32(h.MinLonE7))
	le.PutUint32(data[106:110], uint32(h.MinLatE7))
	le.PutUint32(data[110:114], uint32(h.MaxLonE7))
	le.PutUint32(data[114:118], uint32(h.MaxLatE7))
	data[118] = h.CenterZoom
	le.PutUint32(data[119:123], uint32(h.CenterLonE7))
	le.PutUint32(data[123:127], uint32(h.CenterLatE7))
	return data
}

func (t TileType) contentType() string {
	switch t {
	case TileTypeMVT:
		return "application/vnd.mapbox-vector-tile"
	case TileTypePNG:
		return "image/png"
	case TileTypeJPEG:
		return "image/jpeg"
	case TileTypeWebP:
		return "image/webp"
	case TileTypeAVIF:
		return "image/avif"
	default:
		return "application/octet-stream"
	}
}

func (t TileType) extension() string {
	switch t {
	case TileTypeMVT:
		return "pbf"
	case TileTypePNG:
		return "png"
	case TileTypeJPEG:
		return "jpg"
	case TileTypeWebP:
		return "webp"
	case TileTypeAVIF:
		return "avif"
	default:
		return ""
	}
}
