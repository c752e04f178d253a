package designer

import (
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/cwbudde/govizier/internal/study"
)

// Space maps between the unit cube [0,1]^d and the parameters of a search
// space, one coordinate per parameter in declaration order.
type Space struct {
	params []study.ParameterConfig
}

func NewSpace(ss study.SearchSpace) Space {
	return Space{params: ss.Parameters}
}

// Dim is the number of coordinates.
func (s Space) Dim() int { return len(s.params) }

// Decode maps a unit-cube point to parameter values. Coordinates outside
// [0,1] are clipped.
func (s Space) Decode(u []float64) map[string]study.ParameterValue {
	out := make(map[string]study.ParameterValue, len(s.params))
	for i, p := range s.params {
		x := Clip(u[i])
		switch p.Type {
		case study.Double:
			out[p.Name] = study.Num(p.Min + x*(p.Max-p.Min))
		case study.Integer:
			out[p.Name] = study.Num(math.Round(p.Min + x*(p.Max-p.Min)))
		case study.Categorical:
			out[p.Name] = study.Cat(p.Categories[bucket(x, len(p.Categories))])
		case study.Discrete:
			out[p.Name] = study.Num(p.FeasiblePoints[bucket(x, len(p.FeasiblePoints))])
		}
	}
	return out
}

// Encode maps parameter values back into the unit cube. ok is false when a
// parameter is missing or holds a value outside the space.
func (s Space) Encode(values map[string]study.ParameterValue) (u []float64, ok bool) {
	u = make([]float64, len(s.params))
	for i, p := range s.params {
		v, present := values[p.Name]
		if !present {
			return nil, false
		}
		switch p.Type {
		case study.Double, study.Integer:
			if p.Max == p.Min {
				u[i] = 0.5
			} else {
				u[i] = Clip((v.Number - p.Min) / (p.Max - p.Min))
			}
		case study.Categorical:
			idx := -1
			for j, c := range p.Categories {
				if c == v.Category {
					idx = j
					break
				}
			}
			if idx < 0 {
				return nil, false
			}
			u[i] = (float64(idx) + 0.5) / float64(len(p.Categories))
		case study.Discrete:
			idx := -1
			for j, fp := range p.FeasiblePoints {
				if fp == v.Number {
					idx = j
					break
				}
			}
			if idx < 0 {
				return nil, false
			}
			u[i] = (float64(idx) + 0.5) / float64(len(p.FeasiblePoints))
		default:
			return nil, false
		}
	}
	return u, true
}

func bucket(x float64, k int) int {
	idx := int(math.Floor(x * float64(k)))
	if idx >= k {
		idx = k - 1
	}
	return idx
}

// Clip limits x to [0, 1]. NaN becomes 0.5.
func Clip(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0.5
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

// SeedFromGUID derives a stream seed from a study guid.
func SeedFromGUID(guid string) uint64 {
	return xxhash.Sum64String(guid)
}
