package geopackage

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

func TestDecodeGeometry(t *testing.T) {
	point := orb.Point{7.1, 50.7}
	blob := encodeGeometry(t, point, 4326)

	geom, srid, err := decodeGeometry(blob)
	if err != nil {
		t.Fatalf("decodeGeometry() error = %v", err)
	}
	if srid != 4326 {
		t.Errorf("srid = %d, want 4326", srid)
	}
	if p, ok := geom.(orb.Point); !ok || !p.Equal(point) {
		t.Errorf("geometry = %v, want %v", geom, point)
	}
}

func TestDecodeGeometryWithEnvelope(t *testing.T) {
	line := orb.LineString{{0, 0}, {1, 2}}
	body, err := wkb.Marshal(line, binary.BigEndian)
	if err != nil {
		t.Fatal(err)
	}

	// Big-endian header with an xy envelope (indicator 1, 32 bytes).
	blob := []byte{'G', 'P', 0, 1 << 1}
	blob = binary.BigEndian.AppendUint32(blob, 4326)
	blob = append(blob, make([]byte, 32)...)
	blob = append(blob, body...)

	geom, srid, err := decodeGeometry(blob)
	if err != nil {
		t.Fatalf("decodeGeometry() error = %v", err)
	}
	if srid != 4326 {
		t.Errorf("srid = %d, want 4326", srid)
	}
	if ls, ok := geom.(orb.LineString); !ok || len(ls) != 2 {
		t.Errorf("geometry = %v, want %v", geom, line)
	}
}

func TestDecodeGeometryEmptyFlag(t *testing.T) {
	blob := []byte{'G', 'P', 0, flagByteOrder | flagEmpty, 0xE6, 0x10, 0, 0}

	geom, srid, err := decodeGeometry(blob)
	if err != nil {
		t.Fatalf("decodeGeometry() error = %v", err)
	}
	if geom != nil {
		t.Errorf("geometry = %v, want nil", geom)
	}
	if srid != 4326 {
		t.Errorf("srid = %d, want 4326", srid)
	}
}

func TestDecodeGeometryInvalid(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"bad magic", []byte{'X', 'P', 0, 1, 0, 0, 0, 0, 1}},
		{"short", []byte{'G', 'P', 0}},
		{"bad envelope", []byte{'G', 'P', 0, 7 << 1, 0, 0, 0, 0}},
		{"truncated envelope", []byte{'G', 'P', 0, 1 << 1, 0, 0, 0, 0, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeGeometry(tt.blob)
			if !errors.Is(err, errBadHeader) {
				t.Errorf("decodeGeometry() error = %v, want errBadHeader", err)
			}
		})
	}
}
