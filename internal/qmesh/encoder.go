// Package qmesh serializes terrain meshes to the Cesium quantized-mesh 1.0
// format with the octvertexnormals extension, and carries the layer.json
// document types.
package qmesh

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/geoforge/ctod/internal/apperr"
	"github.com/geoforge/ctod/internal/mesher"
)

// ContentType is the media type of an encoded tile.
const ContentType = "application/vnd.quantized-mesh;extensions=octvertexnormals"

const (
	quantizedMax      = 32767
	headerSize        = 88
	lightExtensionID  = 1
)

var byteOrder = binary.LittleEndian

// header is the fixed-size quantized-mesh tile header.
type header struct {
	CenterX, CenterY, CenterZ float64

	MinimumHeight float32
	MaximumHeight float32

	BoundingSphereCenterX float64
	BoundingSphereCenterY float64
	BoundingSphereCenterZ float64
	BoundingSphereRadius  float64

	HorizonOcclusionPointX float64
	HorizonOcclusionPointY float64
	HorizonOcclusionPointZ float64
}

// Encode serializes a mesh. The output is byte-stable for a given input.
func Encode(m *mesher.Mesh) ([]byte, error) {
	if len(m.Vertices) < 3 || len(m.Triangles) < 1 {
		return nil, apperr.New(apperr.EncodingFailed, "mesh has %d vertices and %d triangles", len(m.Vertices), len(m.Triangles))
	}

	minH, maxH := math.Inf(1), math.Inf(-1)
	for _, v := range m.Vertices {
		minH = math.Min(minH, v[2])
		maxH = math.Max(maxH, v[2])
	}

	var buf bytes.Buffer
	h := buildHeader(m, minH, maxH)
	if err := binary.Write(&buf, byteOrder, h); err != nil {
		return nil, apperr.Wrap(apperr.EncodingFailed, err, "write header")
	}

	// Vertex data: three zigzag-delta streams, u then v then height.
	n := len(m.Vertices)
	us := make([]uint16, n)
	vs := make([]uint16, n)
	hs := make([]uint16, n)
	heightSpan := maxH - minH
	if heightSpan == 0 {
		heightSpan = 1
	}
	for i, v := range m.Vertices {
		us[i] = quantize(v[0])
		vs[i] = quantize(v[1])
		hs[i] = quantize((v[2] - minH) / heightSpan)
	}

	binary.Write(&buf, byteOrder, uint32(n))
	writeZigZagDelta(&buf, us)
	writeZigZagDelta(&buf, vs)
	writeZigZagDelta(&buf, hs)

	// Index data, 32-bit when the vertex count needs it, aligned.
	use32 := n > 65535
	alignment := 2
	if use32 {
		alignment = 4
	}
	if pad := buf.Len() % alignment; pad != 0 {
		buf.Write(make([]byte, alignment-pad))
	}

	binary.Write(&buf, byteOrder, uint32(len(m.Triangles)))
	writeWatermarked(&buf, m.Triangles, use32)

	// Edge indices in wire order: west, south, east, north.
	for _, edge := range [][]mesher.EdgeVertex{m.West, m.South, m.East, m.North} {
		binary.Write(&buf, byteOrder, uint32(len(edge)))
		for _, ev := range edge {
			if use32 {
				binary.Write(&buf, byteOrder, ev.Index)
			} else {
				binary.Write(&buf, byteOrder, uint16(ev.Index))
			}
		}
	}

	if len(m.Normals) > 0 {
		if len(m.Normals) != n {
			return nil, apperr.New(apperr.EncodingFailed, "have %d normals for %d vertices", len(m.Normals), n)
		}
		buf.WriteByte(lightExtensionID)
		binary.Write(&buf, byteOrder, uint32(2*n))
		for _, nrm := range m.Normals {
			enc := OctEncode(nrm)
			buf.Write(enc[:])
		}
	}

	return buf.Bytes(), nil
}

func quantize(v float64) uint16 {
	return uint16(math.Round(clamp(v, 0, 1) * quantizedMax))
}

// writeZigZagDelta writes one quantized stream as zigzag-encoded deltas.
func writeZigZagDelta(buf *bytes.Buffer, vals []uint16) {
	prev := 0
	out := make([]uint16, len(vals))
	for i, v := range vals {
		d := int(v) - prev
		out[i] = uint16((d >> 31) ^ (d << 1))
		prev = int(v)
	}
	binary.Write(buf, byteOrder, out)
}

// writeWatermarked writes triangle indices with the high-watermark encoding:
// each index is stored as the distance below the highest index seen so far.
func writeWatermarked(buf *bytes.Buffer, triangles [][3]uint32, use32 bool) {
	watermark := uint32(0)
	emit := func(idx uint32) {
		code := watermark - idx
		if use32 {
			binary.Write(buf, byteOrder, code)
		} else {
			binary.Write(buf, byteOrder, uint16(code))
		}
		if idx == watermark {
			watermark++
		}
	}
	for _, t := range triangles {
		emit(t[0])
		emit(t[1])
		emit(t[2])
	}
}

func buildHeader(m *mesher.Mesh, minH, maxH float64) header {
	b := m.Bounds

	// ECEF positions of every vertex, for the bounding sphere and horizon
	// occlusion point.
	ecef := make([][3]float64, len(m.Vertices))
	for i, v := range m.Vertices {
		lon := b.West + v[0]*b.Width()
		lat := b.South + v[1]*b.Height()
		ecef[i] = mesher.ToECEF(lon, lat, v[2])
	}

	var center [3]float64
	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, p := range ecef {
		for k := 0; k < 3; k++ {
			lo[k] = math.Min(lo[k], p[k])
			hi[k] = math.Max(hi[k], p[k])
		}
	}
	for k := 0; k < 3; k++ {
		center[k] = (lo[k] + hi[k]) / 2
	}

	var radius float64
	for _, p := range ecef {
		dx := p[0] - center[0]
		dy := p[1] - center[1]
		dz := p[2] - center[2]
		radius = math.Max(radius, math.Sqrt(dx*dx+dy*dy+dz*dz))
	}

	occ := horizonOcclusionPoint(ecef, center)

	return header{
		CenterX: center[0], CenterY: center[1], CenterZ: center[2],
		MinimumHeight: float32(minH), MaximumHeight: float32(maxH),
		BoundingSphereCenterX: center[0],
		BoundingSphereCenterY: center[1],
		BoundingSphereCenterZ: center[2],
		BoundingSphereRadius:  radius,
		HorizonOcclusionPointX: occ[0],
		HorizonOcclusionPointY: occ[1],
		HorizonOcclusionPointZ: occ[2],
	}
}

// WGS84 inverse radii for the ellipsoid-scaled space the horizon occlusion
// point is computed in.
var invRadii = [3]float64{1 / 6378137.0, 1 / 6378137.0, 1 / 6356752.3142451793}

// horizonOcclusionPoint returns the point from which the whole tile is
// hidden below the horizon, per the Cesium occlusion culling scheme.
func horizonOcclusionPoint(points [][3]float64, center [3]float64) [3]float64 {
	scaledCenter := [3]float64{
		center[0] * invRadii[0],
		center[1] * invRadii[1],
		center[2] * invRadii[2],
	}
	centerMag := math.Sqrt(scaledCenter[0]*scaledCenter[0] + scaledCenter[1]*scaledCenter[1] + scaledCenter[2]*scaledCenter[2])
	if centerMag == 0 {
		return center
	}

	maxMagnitude := math.Inf(-1)
	for _, p := range points {
		scaled := [3]float64{p[0] * invRadii[0], p[1] * invRadii[1], p[2] * invRadii[2]}
		maxMagnitude = math.Max(maxMagnitude, occlusionMagnitude(scaled, scaledCenter, centerMag))
	}
	if math.IsInf(maxMagnitude, 1) {
		maxMagnitude = centerMag
	}

	// Scale the center direction out to the computed magnitude, then map
	// back from ellipsoid-scaled space.
	return [3]float64{
		scaledCenter[0] / centerMag * maxMagnitude / invRadii[0],
		scaledCenter[1] / centerMag * maxMagnitude / invRadii[1],
		scaledCenter[2] / centerMag * maxMagnitude / invRadii[2],
	}
}

func occlusionMagnitude(position, direction [3]float64, directionMag float64) float64 {
	magnitudeSquared := position[0]*position[0] + position[1]*position[1] + position[2]*position[2]
	magnitude := math.Sqrt(magnitudeSquared)

	// Points below the ellipsoid count as on it.
	magnitudeSquared = math.Max(1, magnitudeSquared)
	magnitude = math.Max(1, magnitude)

	unitDir := [3]float64{direction[0] / directionMag, direction[1] / directionMag, direction[2] / directionMag}
	unitPos := [3]float64{position[0] / magnitude, position[1] / magnitude, position[2] / magnitude}

	cosAlpha := unitPos[0]*unitDir[0] + unitPos[1]*unitDir[1] + unitPos[2]*unitDir[2]
	sinAlpha := math.Sqrt(math.Max(0, 1-cosAlpha*cosAlpha))
	cosBeta := 1 / magnitude
	sinBeta := math.Sqrt(magnitudeSquared-1) * cosBeta

	denom := cosAlpha*cosBeta - sinAlpha*sinBeta
	if denom <= 0 {
		return math.Inf(1)
	}
	return 1 / denom
}
