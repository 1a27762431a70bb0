package qmesh

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// DecodedTile is the parsed form of an encoded tile, enough to verify what
// was written: quantized vertex streams, triangle indices, edge index lists
// and oct-encoded normals.
type DecodedTile struct {
	Header    header
	U, V, H   []uint16
	Triangles [][3]uint32

	West, South, East, North []uint32

	// OctNormals holds the raw two-byte normal encodings, one per vertex,
	// when the octvertexnormals extension is present.
	OctNormals [][2]uint8
}

// Decode parses an encoded tile.
func Decode(data []byte) (*DecodedTile, error) {
	r := bytes.NewReader(data)
	t := &DecodedTile{}

	if err := binary.Read(r, byteOrder, &t.Header); err != nil {
		return nil, err
	}

	var vertexCount uint32
	if err := binary.Read(r, byteOrder, &vertexCount); err != nil {
		return nil, err
	}
	n := int(vertexCount)

	var err error
	if t.U, err = readZigZagDelta(r, n); err != nil {
		return nil, err
	}
	if t.V, err = readZigZagDelta(r, n); err != nil {
		return nil, err
	}
	if t.H, err = readZigZagDelta(r, n); err != nil {
		return nil, err
	}

	use32 := n > 65535
	alignment := int64(2)
	if use32 {
		alignment = 4
	}
	pos := int64(len(data)) - int64(r.Len())
	if pad := pos % alignment; pad != 0 {
		if _, err := r.Seek(alignment-pad, io.SeekCurrent); err != nil {
			return nil, err
		}
	}

	var triangleCount uint32
	if err := binary.Read(r, byteOrder, &triangleCount); err != nil {
		return nil, err
	}
	indices, err := readWatermarked(r, int(triangleCount)*3, use32)
	if err != nil {
		return nil, err
	}
	t.Triangles = make([][3]uint32, triangleCount)
	for i := range t.Triangles {
		t.Triangles[i] = [3]uint32{indices[i*3], indices[i*3+1], indices[i*3+2]}
	}

	for _, edge := range []*[]uint32{&t.West, &t.South, &t.East, &t.North} {
		var count uint32
		if err := binary.Read(r, byteOrder, &count); err != nil {
			return nil, err
		}
		*edge = make([]uint32, count)
		for i := range *edge {
			if use32 {
				if err := binary.Read(r, byteOrder, &(*edge)[i]); err != nil {
					return nil, err
				}
			} else {
				var v uint16
				if err := binary.Read(r, byteOrder, &v); err != nil {
					return nil, err
				}
				(*edge)[i] = uint32(v)
			}
		}
	}

	// Extensions.
	for r.Len() > 0 {
		extID, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		var extLen uint32
		if err := binary.Read(r, byteOrder, &extLen); err != nil {
			return nil, err
		}
		payload := make([]byte, extLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		if extID == lightExtensionID {
			if int(extLen) != 2*n {
				return nil, errors.New("octvertexnormals extension length mismatch")
			}
			t.OctNormals = make([][2]uint8, n)
			for i := range t.OctNormals {
				t.OctNormals[i] = [2]uint8{payload[i*2], payload[i*2+1]}
			}
		}
	}

	return t, nil
}

func readZigZagDelta(r io.Reader, n int) ([]uint16, error) {
	raw := make([]uint16, n)
	if err := binary.Read(r, byteOrder, raw); err != nil {
		return nil, err
	}
	acc := 0
	for i, code := range raw {
		acc += int(code>>1) ^ -int(code&1)
		raw[i] = uint16(acc)
	}
	return raw, nil
}

func readWatermarked(r io.Reader, n int, use32 bool) ([]uint32, error) {
	out := make([]uint32, n)
	watermark := uint32(0)
	for i := range out {
		var code uint32
		if use32 {
			if err := binary.Read(r, byteOrder, &code); err != nil {
				return nil, err
			}
		} else {
			var c16 uint16
			if err := binary.Read(r, byteOrder, &c16); err != nil {
				return nil, err
			}
			code = uint32(c16)
		}
		out[i] = watermark - code
		if code == 0 {
			watermark++
		}
	}
	return out, nil
}
