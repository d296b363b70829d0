package tensor

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises the finite values of a tensor. NaN and Inf elements are
// counted and excluded from the moments.
type Stats struct {
	Min, Max  float64
	Mean, Std float64
	NaN, Inf  int
}

// HasNonFinite reports whether any NaN or Inf was seen.
func (s Stats) HasNonFinite() bool { return s.NaN > 0 || s.Inf > 0 }

func (t *Tensor) Stats() Stats {
	var s Stats
	finite := make([]float64, 0, len(t.Data))
	for _, v := range t.Data {
		f := float64(v)
		switch {
		case math.IsNaN(f):
			s.NaN++
		case math.IsInf(f, 0):
			s.Inf++
		default:
			finite = append(finite, f)
		}
	}
	if len(finite) == 0 {
		return s
	}

	s.Min = floats.Min(finite)
	s.Max = floats.Max(finite)
	if len(finite) == 1 {
		s.Mean = finite[0]
		return s
	}
	s.Mean, s.Std = stat.MeanStdDev(finite, nil)
	return s
}
