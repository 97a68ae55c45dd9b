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

package ts

import (
	"math"

	"github.com/mlnoga/gammalight/internal/cash"
	"github.com/mlnoga/gammalight/internal/root"
)

const (
	brentqRTol    = 1e-3 // relative tolerance of the bracketed amplitude search
	newtonTol     = 1e-2 // absolute tolerance of the secant iteration
	leastSqRTol   = 1e-3 // relative change at which the reweighting stops
	profileOffset = 1e4  // search interval of the likelihood profile error
)

// Fits the amplitude of one slice, starting from seed where the method uses one.
// Returns NaN and the iteration cap when the fit does not converge.
type amplitudeFunc func(s *cash.Slice, seed float64) (amplitude float64, niter int)

// Resolves a method to its amplitude function
func amplitudeFor(m Method, maxIter int) amplitudeFunc {
	switch m {
	case MethodRootNewton:
		return newtonAmplitude(maxIter)
	case MethodLeastSqIter:
		return leastSqAmplitude(maxIter)
	default:
		return brentqAmplitude(maxIter)
	}
}

func brentqAmplitude(maxIter int) amplitudeFunc {
	return func(s *cash.Slice, seed float64) (float64, int) {
		min, max, minTotal := s.Bounds()
		if !(s.CountsSum() > 0) {
			return minTotal, 0
		}
		x, niter, err := root.Brentq(s.StatDerivative, min, max, root.DefaultXTol, brentqRTol, maxIter)
		if err != nil {
			return math.NaN(), maxIter
		}
		return math.Max(x, minTotal), niter
	}
}

func newtonAmplitude(maxIter int) amplitudeFunc {
	return func(s *cash.Slice, seed float64) (float64, int) {
		_, _, minTotal := s.Bounds()
		if !(s.CountsSum() > 0) {
			return minTotal, 0
		}
		x, niter, err := root.Secant(s.StatDerivative, seed, newtonTol, maxIter)
		if err != nil {
			return math.NaN(), maxIter
		}
		return math.Max(x, minTotal), niter
	}
}

func leastSqAmplitude(maxIter int) amplitudeFunc {
	return func(s *cash.Slice, seed float64) (float64, int) {
		_, _, minTotal := s.Bounds()
		if !(s.CountsSum() > 0) {
			return minTotal, 0
		}
		weights := make([]float64, len(s.Model))
		for i := range weights {
			weights[i] = 1
		}
		x, xOld := 0.0, 0.0
		for i := 0; i < maxIter; i++ {
			x = s.BestLeastSq(weights)
			if math.Abs((x-xOld)/x) < leastSqRTol {
				return math.Max(x/s.Scale, minTotal), i + 1
			}
			for j, m := range s.Model {
				weights[j] = x*m + s.Background[j]
			}
			xOld = x
		}
		return math.Max(x/s.Scale, minTotal), maxIter
	}
}

// Returns the amplitude offset from x at which the statistic has grown by one,
// in flux units. NaN if the profile does not cross within the search interval
func profileErr(s *cash.Slice, x, statAtX float64, maxIter int) float64 {
	if math.IsNaN(x) {
		return math.NaN()
	}
	f := func(xp float64) float64 { return (statAtX + 1) - s.Stat(xp) }
	r, _, err := root.Brentq(f, x, x+profileOffset, root.DefaultXTol, brentqRTol, maxIter)
	if err != nil {
		return math.NaN()
	}
	return s.Scale * (r - x)
}

// Returns -1, 0 or 1 for the sign of v, NaN for NaN
func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	case v == 0:
		return 0
	}
	return math.NaN()
}
