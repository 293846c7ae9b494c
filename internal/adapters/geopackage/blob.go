package geopackage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// GeoPackage binary header flag bits.
const (
	flagByteOrder = 0x01 // 1 = little endian header fields
	flagEnvelope  = 0x0e // envelope contents indicator, bits 1-3
	flagEmpty     = 0x10
)

var errBadHeader = errors.New("invalid GeoPackage geometry header")

// envelopeSize returns the envelope length in bytes for an indicator value.
func envelopeSize(indicator byte) (int, error) {
	switch indicator {
	case 0:
		return 0, nil
	case 1:
		return 32, nil
	case 2, 3:
		return 48, nil
	case 4:
		return 64, nil
	default:
		return 0, fmt.Errorf("%w: envelope indicator %d", errBadHeader, indicator)
	}
}

// decodeGeometry parses a GeoPackage geometry blob ("GP" header followed by
// standard WKB). It returns the geometry and the SRID from the header.
// Empty geometries decode to nil.
func decodeGeometry(blob []byte) (orb.Geometry, int32, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, 0, errBadHeader
	}
	flags := blob[3]

	var order binary.ByteOrder = binary.BigEndian
	if flags&flagByteOrder != 0 {
		order = binary.LittleEndian
	}
	srid := int32(order.Uint32(blob[4:8]))

	envSize, err := envelopeSize((flags & flagEnvelope) >> 1)
	if err != nil {
		return nil, 0, err
	}
	offset := 8 + envSize
	if len(blob) < offset {
		return nil, 0, fmt.Errorf("%w: truncated envelope", errBadHeader)
	}
	if flags&flagEmpty != 0 {
		return nil, srid, nil
	}

	geom, err := wkb.Unmarshal(blob[offset:])
	if err != nil {
		return nil, srid, fmt.Errorf("decoding WKB: %w", err)
	}
	return geom, srid, nil
}
