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

// Package root finds roots of scalar functions with Brent's bracketing
// method and with the derivative-free secant variant of Newton's method.
package root

import (
	"math"

	"github.com/pkg/errors"
)

// Default absolute tolerance for Brentq
const DefaultXTol = 2e-12

var (
	ErrSign        = errors.New("f(a) and f(b) must have different signs")
	ErrConvergence = errors.New("failed to converge")
	ErrTolerance   = errors.New("invalid tolerance")
)

// A scalar function
type Func func(x float64) float64

// Finds a root of f in the bracket [a,b] with Brent's method, using inverse quadratic
// interpolation or extrapolation where it is safe and bisection otherwise.
// Returns the root, the number of iterations and an error if f(a) and f(b) do not bracket
// a root or if maxIter iterations did not reach the tolerance delta=(xtol+rtol*|x|)/2.
func Brentq(f Func, a, b, xtol, rtol float64, maxIter int) (x float64, iterations int, err error) {
	if xtol <= 0 {
		return math.NaN(), 0, errors.Wrapf(ErrTolerance, "xtol=%g must be positive", xtol)
	}
	if rtol < 4*epsilon {
		return math.NaN(), 0, errors.Wrapf(ErrTolerance, "rtol=%g too small", rtol)
	}

	xpre, xcur := a, b
	xblk, fblk, spre, scur := float64(0), float64(0), float64(0), float64(0)
	fpre, fcur := f(xpre), f(xcur)
	if fpre*fcur > 0 {
		return math.NaN(), 0, errors.Wrapf(ErrSign, "f(%g)=%g f(%g)=%g", a, fpre, b, fcur)
	}
	if fpre == 0 {
		return xpre, 0, nil
	}
	if fcur == 0 {
		return xcur, 0, nil
	}

	for iterations = 1; iterations <= maxIter; iterations++ {
		if fpre*fcur < 0 {
			xblk, fblk = xpre, fpre
			spre = xcur - xpre
			scur = spre
		}
		if math.Abs(fblk) < math.Abs(fcur) {
			xpre, xcur, xblk = xcur, xblk, xcur
			fpre, fcur, fblk = fcur, fblk, fcur
		}

		delta := (xtol + rtol*math.Abs(xcur)) / 2
		sbis := (xblk - xcur) / 2
		if fcur == 0 || math.Abs(sbis) < delta {
			return xcur, iterations, nil
		}

		if math.Abs(spre) > delta && math.Abs(fcur) < math.Abs(fpre) {
			var stry float64
			if xpre == xblk {
				// interpolate
				stry = -fcur * (xcur - xpre) / (fcur - fpre)
			} else {
				// extrapolate
				dpre := (fpre - fcur) / (xpre - xcur)
				dblk := (fblk - fcur) / (xblk - xcur)
				stry = -fcur * (fblk*dblk - fpre*dpre) / (dblk * dpre * (fblk - fpre))
			}
			if 2*math.Abs(stry) < math.Min(math.Abs(spre), 3*math.Abs(sbis)-delta) {
				// good short step
				spre, scur = scur, stry
			} else {
				spre, scur = sbis, sbis
			}
		} else {
			spre, scur = sbis, sbis
		}

		xpre, fpre = xcur, fcur
		if math.Abs(scur) > delta {
			xcur += scur
		} else if sbis > 0 {
			xcur += delta
		} else {
			xcur -= delta
		}
		fcur = f(xcur)
	}
	return xcur, maxIter, errors.Wrapf(ErrConvergence, "after %d iterations, value is %g", maxIter, xcur)
}

// Finds a root of f near x0 with the secant method. The second starting point is
// offset from x0 by a small relative and absolute step. Succeeds once two successive
// estimates differ by less than tol, or when the function values of the last two
// estimates are exactly equal, in which case their midpoint is returned.
func Secant(f Func, x0, tol float64, maxIter int) (x float64, iterations int, err error) {
	p0 := x0
	p1 := x0 * (1 + 1e-4)
	if x0 >= 0 {
		p1 += 1e-4
	} else {
		p1 -= 1e-4
	}
	q0, q1 := f(p0), f(p1)
	p := p1
	for iterations = 1; iterations <= maxIter; iterations++ {
		if q1 == q0 {
			return (p1 + p0) / 2, iterations, nil
		}
		p = p1 - q1*(p1-p0)/(q1-q0)
		if math.Abs(p-p1) < tol {
			return p, iterations, nil
		}
		p0, q0 = p1, q1
		p1 = p
		q1 = f(p1)
	}
	return math.NaN(), maxIter, errors.Wrapf(ErrConvergence, "after %d iterations, value is %g", maxIter, p)
}

const epsilon = 2.220446049250313e-16 // float64 machine epsilon
