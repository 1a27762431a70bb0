package cog

import (
	"math"

	"github.com/geoforge/ctod/internal/apperr"
)

// Resampling method names accepted by ReadWindow.
const (
	ResamplingNone        = "none"
	ResamplingNearest     = "nearest"
	ResamplingBilinear    = "bilinear"
	ResamplingCubic       = "cubic"
	ResamplingCubicSpline = "cubic_spline"
	ResamplingLanczos     = "lanczos"
	ResamplingAverage     = "average"
	ResamplingMode        = "mode"
	ResamplingGauss       = "gauss"
	ResamplingRMS         = "rms"
)

// ValidResampling reports whether the named method is known.
func ValidResampling(name string) bool {
	_, err := kernelFor(name)
	return err == nil
}

// kernelFunc samples a level at fractional pixel coordinates. scale is the
// ratio of requested resolution to level resolution, >= 1 when the level is
// finer than the request; the aggregate kernels use it as their footprint.
type kernelFunc func(s *levelSampler, px, py, scale float64) (float32, error)

func kernelFor(name string) (kernelFunc, error) {
	switch name {
	case ResamplingNone, ResamplingNearest, "":
		return sampleNearest, nil
	case ResamplingBilinear:
		return sampleBilinear, nil
	case ResamplingCubic:
		return convolve4x4(catmullRomWeight), nil
	case ResamplingCubicSpline:
		return convolve4x4(bSplineWeight), nil
	case ResamplingLanczos:
		return sampleLanczos, nil
	case ResamplingAverage:
		return aggregate(aggAverage), nil
	case ResamplingMode:
		return aggregate(aggMode), nil
	case ResamplingGauss:
		return sampleGauss, nil
	case ResamplingRMS:
		return aggregate(aggRMS), nil
	default:
		return nil, apperr.New(apperr.BadRequest, "unknown resampling method %q", name)
	}
}

func sampleNearest(s *levelSampler, px, py, _ float64) (float32, error) {
	return s.at(int(math.Floor(px)), int(math.Floor(py)))
}

func sampleBilinear(s *levelSampler, px, py, _ float64) (float32, error) {
	x0 := math.Floor(px - 0.5)
	y0 := math.Floor(py - 0.5)
	fx := px - 0.5 - x0
	fy := py - 0.5 - y0

	var vals [4]float32
	coords := [4][2]int{
		{int(x0), int(y0)}, {int(x0) + 1, int(y0)},
		{int(x0), int(y0) + 1}, {int(x0) + 1, int(y0) + 1},
	}
	for i, c := range coords {
		v, err := s.at(c[0], c[1])
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}
	top := float64(vals[0])*(1-fx) + float64(vals[1])*fx
	bot := float64(vals[2])*(1-fx) + float64(vals[3])*fx
	return float32(top*(1-fy) + bot*fy), nil
}

// convolve4x4 builds a separable 4x4 convolution kernel from a weight
// function over [-2, 2].
func convolve4x4(weight func(float64) float64) kernelFunc {
	return func(s *levelSampler, px, py, _ float64) (float32, error) {
		cx := px - 0.5
		cy := py - 0.5
		x0 := int(math.Floor(cx)) - 1
		y0 := int(math.Floor(cy)) - 1

		var sum, wsum float64
		for j := 0; j < 4; j++ {
			wy := weight(cy - float64(y0+j))
			if wy == 0 {
				continue
			}
			for i := 0; i < 4; i++ {
				wx := weight(cx - float64(x0+i))
				if wx == 0 {
					continue
				}
				v, err := s.at(x0+i, y0+j)
				if err != nil {
					return 0, err
				}
				sum += float64(v) * wx * wy
				wsum += wx * wy
			}
		}
		if wsum == 0 {
			return sampleNearest(s, px, py, 0)
		}
		return float32(sum / wsum), nil
	}
}

// catmullRomWeight is the cubic kernel GDAL calls "cubic".
func catmullRomWeight(t float64) float64 {
	t = math.Abs(t)
	switch {
	case t < 1:
		return 1.5*t*t*t - 2.5*t*t + 1
	case t < 2:
		return -0.5*t*t*t + 2.5*t*t - 4*t + 2
	default:
		return 0
	}
}

// bSplineWeight is the smoothing kernel GDAL calls "cubicspline".
func bSplineWeight(t float64) float64 {
	t = math.Abs(t)
	switch {
	case t < 1:
		return (4 + t*t*(3*t-6)) / 6
	case t < 2:
		d := 2 - t
		return d * d * d / 6
	default:
		return 0
	}
}

func sampleLanczos(s *levelSampler, px, py, _ float64) (float32, error) {
	const a = 3.0
	cx := px - 0.5
	cy := py - 0.5
	x0 := int(math.Floor(cx)) - 2
	y0 := int(math.Floor(cy)) - 2

	var sum, wsum float64
	for j := 0; j < 6; j++ {
		wy := lanczosWeight(cy-float64(y0+j), a)
		if wy == 0 {
			continue
		}
		for i := 0; i < 6; i++ {
			wx := lanczosWeight(cx-float64(x0+i), a)
			if wx == 0 {
				continue
			}
			v, err := s.at(x0+i, y0+j)
			if err != nil {
				return 0, err
			}
			sum += float64(v) * wx * wy
			wsum += wx * wy
		}
	}
	if wsum == 0 {
		return sampleNearest(s, px, py, 0)
	}
	return float32(sum / wsum), nil
}

func lanczosWeight(t, a float64) float64 {
	if t == 0 {
		return 1
	}
	if math.Abs(t) >= a {
		return 0
	}
	pt := math.Pi * t
	return a * math.Sin(pt) * math.Sin(pt/a) / (pt * pt)
}

func sampleGauss(s *levelSampler, px, py, scale float64) (float32, error) {
	sigma := math.Max(scale/2, 0.6)
	radius := int(math.Ceil(sigma * 2))
	cx := px - 0.5
	cy := py - 0.5
	x0 := int(math.Floor(cx))
	y0 := int(math.Floor(cy))

	var sum, wsum float64
	for j := -radius; j <= radius; j++ {
		for i := -radius; i <= radius; i++ {
			dx := cx - float64(x0+i)
			dy := cy - float64(y0+j)
			w := math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			v, err := s.at(x0+i, y0+j)
			if err != nil {
				return 0, err
			}
			sum += float64(v) * w
			wsum += w
		}
	}
	return float32(sum / wsum), nil
}

type aggFunc func(vals []float64) float64

// aggregate samples every level pixel under the output pixel's footprint
// and reduces them. Used for average, mode and rms.
func aggregate(reduce aggFunc) kernelFunc {
	return func(s *levelSampler, px, py, scale float64) (float32, error) {
		half := math.Max(scale/2, 0.5)
		x0 := int(math.Floor(px - half))
		x1 := int(math.Ceil(px + half))
		y0 := int(math.Floor(py - half))
		y1 := int(math.Ceil(py + half))

		vals := make([]float64, 0, (x1-x0)*(y1-y0))
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				v, err := s.at(x, y)
				if err != nil {
					return 0, err
				}
				vals = append(vals, float64(v))
			}
		}
		if len(vals) == 0 {
			return sampleNearest(s, px, py, 0)
		}
		return float32(reduce(vals)), nil
	}
}

func aggAverage(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func aggRMS(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(vals)))
}

func aggMode(vals []float64) float64 {
	counts := make(map[float64]int, len(vals))
	best := vals[0]
	bestN := 0
	for _, v := range vals {
		counts[v]++
		if counts[v] > bestN {
			best, bestN = v, counts[v]
		}
	}
	return best
}
