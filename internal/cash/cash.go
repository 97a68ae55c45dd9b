// Copyright (C) 2023 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package cash implements the Poisson likelihood (Cash) fit statistic
// evaluated on one pixel neighbourhood, plus the helpers the amplitude
// solvers need: derivative, root bounds and the weighted least squares estimate.
package cash

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Default scale from fit amplitudes to physical flux units. Keeps fitted amplitudes of order one.
const FluxFactor = 1e-12

// Returns the Cash statistic 2*(model - counts*ln(model)) for a single pixel.
// Pixels with non-positive model do not contribute.
func Cash(counts, model float64) float64 {
	if model > 0 {
		return 2 * (model - counts*math.Log(model))
	}
	return 0
}

// Computes the per-pixel Cash statistic for whole arrays, storing the result in res
func CashImage(res, counts, model []float64) {
	for i, m := range model {
		res[i] = Cash(counts[i], m)
	}
}

// Returns the sum of the per-pixel Cash statistic
func CashSum(counts, model []float64) float64 {
	sum := float64(0)
	for i, m := range model {
		if m > 0 {
			sum += m - counts[i]*math.Log(m)
		}
	}
	return 2 * sum
}

// A pixel neighbourhood cut out of the counts, background and model template images.
// All slices have the size of the kernel. Model is the kernel multiplied with exposure.
type Slice struct {
	Counts     []float64
	Background []float64
	Model      []float64
	Scale      float64 // amplitude to flux conversion, normally FluxFactor

	pred []float64 // scratchpad for predicted counts
}

// Creates a new slice with the given arrays, which are not copied
func NewSlice(counts, background, model []float64, scale float64) *Slice {
	return &Slice{
		Counts:     counts,
		Background: background,
		Model:      model,
		Scale:      scale,
		pred:       make([]float64, len(model)),
	}
}

// Returns the Cash statistic for background plus the model template at amplitude x.
// Not safe for concurrent use, as it reuses a scratchpad.
func (s *Slice) Stat(x float64) float64 {
	if len(s.pred) != len(s.Model) {
		s.pred = make([]float64, len(s.Model))
	}
	xs := x * s.Scale
	for i, m := range s.Model {
		s.pred[i] = s.Background[i] + xs*m
	}
	return CashSum(s.Counts, s.pred)
}

// Returns the derivative of the Cash statistic with respect to the amplitude x.
// The best fit amplitude is a root of this function.
func (s *Slice) StatDerivative(x float64) float64 {
	sum := float64(0)
	xs := x * s.Scale
	for i, m := range s.Model {
		if m > 0 {
			if c := s.Counts[i]; c > 0 {
				sum += m * (1 - c/(xs*m+s.Background[i]))
			} else {
				sum += m
			}
		}
	}
	return 2 * sum
}

// Returns the total number of counts in the slice
func (s *Slice) CountsSum() float64 {
	return floats.Sum(s.Counts)
}

// Returns bounds for the root of StatDerivative. [min, max] brackets the root.
// minTotal is the smallest amplitude for which background plus model
// stays non-negative in all pixels with positive model.
func (s *Slice) Bounds() (min, max, minTotal float64) {
	sModel, sCounts := float64(0), float64(0)
	snMin, cMin, snMinTotal := 1e14, float64(1), 1e14
	for i, m := range s.Model {
		if m <= 0 {
			continue
		}
		sModel += m
		sn := s.Background[i] / m
		if c := s.Counts[i]; c > 0 {
			sCounts += c
			if sn < snMin {
				snMin, cMin = sn, c
			}
		}
		if sn < snMinTotal {
			snMinTotal = sn
		}
	}
	bMin := cMin/sModel - snMin
	bMax := sCounts/sModel - snMin
	return bMin / s.Scale, bMax / s.Scale, -snMinTotal / s.Scale
}

// Returns the closed-form weighted least squares estimate of the model amplitude, in physical units
func (s *Slice) BestLeastSq(weights []float64) float64 {
	sum, norm := float64(0), float64(0)
	for i, m := range s.Model {
		if m > 0 {
			sum += (s.Counts[i] - s.Background[i]) * m / weights[i]
			norm += m * m / weights[i]
		}
	}
	return sum / norm
}

// Returns the flux error at amplitude x from the inverse second derivative of the statistic.
// Result is in flux units. May be NaN or Inf for degenerate slices.
func (s *Slice) AmplitudeErr(x float64) float64 {
	sum := float64(0)
	xs := x * s.Scale
	for i, m := range s.Model {
		p := s.Background[i] + xs*m
		sum += m * m * s.Counts[i] / (p * p)
	}
	return math.Sqrt(1 / sum)
}
