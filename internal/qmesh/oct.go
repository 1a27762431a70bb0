package qmesh

import "math"

// Oct encoding packs a unit vector into two bytes, the octahedral mapping
// the octvertexnormals extension uses.

func clamp(v, lo, hi float64) float64 {
	return math.Max(math.Min(v, hi), lo)
}

func signNotZero(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func toSnorm(v float64) uint8 {
	return uint8(math.Round((clamp(v, -1, 1)*0.5 + 0.5) * 255))
}

func fromSnorm(v uint8) float64 {
	return clamp(float64(v), 0, 255)/255*2 - 1
}

// OctEncode packs a unit vector into two bytes.
func OctEncode(n [3]float64) [2]uint8 {
	l1 := math.Abs(n[0]) + math.Abs(n[1]) + math.Abs(n[2])
	if l1 == 0 {
		return [2]uint8{128, 128} // +Z
	}
	x := n[0] / l1
	y := n[1] / l1
	if n[2] < 0 {
		ox, oy := x, y
		x = (1 - math.Abs(oy)) * signNotZero(ox)
		y = (1 - math.Abs(ox)) * signNotZero(oy)
	}
	return [2]uint8{toSnorm(x), toSnorm(y)}
}

// OctDecode unpacks two bytes into a unit vector.
func OctDecode(ex, ey uint8) [3]float64 {
	x := fromSnorm(ex)
	y := fromSnorm(ey)
	z := 1 - math.Abs(x) - math.Abs(y)
	if z < 0 {
		ox := x
		x = (1 - math.Abs(y)) * signNotZero(ox)
		y = (1 - math.Abs(ox)) * signNotZero(y)
	}
	l := math.Sqrt(x*x + y*y + z*z)
	return [3]float64{x / l, y / l, z / l}
}
