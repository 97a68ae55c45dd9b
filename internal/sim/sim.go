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

// Package sim synthesizes counts maps from a background, an exposure and a set
// of sources, for testing detection pipelines end to end.
package sim

import (
	"math"

	"github.com/mlnoga/gammalight/internal/kernel"
	"github.com/mlnoga/gammalight/internal/sky"
	"github.com/pkg/errors"
	"github.com/valyala/fastrand"
)

// A source at a pixel position. Flux is in the units of the flux maps, so that
// the expected excess is Flux*exposure*kernel
type Source struct {
	X    int     `json:"x"`
	Y    int     `json:"y"`
	Flux float64 `json:"flux"`
}

// Returns the predicted counts: background plus the sources folded with kernel k.
// Source contributions falling off the map are dropped
func NPred(background, exposure *sky.Image, k *kernel.Kernel, sources []Source) (*sky.Image, error) {
	if !background.SameShape(exposure) {
		return nil, errors.Wrapf(sky.ErrShape, "background %s vs exposure %s", background, exposure)
	}
	npred := background.Copy()
	npred.Name = "npred"
	cx, cy := k.Center()
	for _, s := range sources {
		if s.X < 0 || s.X >= npred.Width || s.Y < 0 || s.Y >= npred.Height {
			return nil, errors.Errorf("source at %d,%d outside %s", s.X, s.Y, npred)
		}
		for ky := 0; ky < k.Height; ky++ {
			y := s.Y + ky - cy
			if y < 0 || y >= npred.Height {
				continue
			}
			for kx := 0; kx < k.Width; kx++ {
				x := s.X + kx - cx
				if x < 0 || x >= npred.Width {
					continue
				}
				idx := y*npred.Width + x
				npred.Data[idx] += s.Flux * exposure.Data[idx] * k.At(kx, ky)
			}
		}
	}
	return npred, nil
}

// Returns a counts map Poisson sampled from npred. Non-finite or non-positive
// expectations yield zero counts
func Counts(npred *sky.Image, seed uint32) *sky.Image {
	rng := fastrand.RNG{}
	rng.Seed(seed)
	counts := npred.EmptyLike("counts", 0)
	for i, lambda := range npred.Data {
		counts.Data[i] = Poisson(&rng, lambda)
	}
	return counts
}

// Returns a uniform random number in the open interval (0,1)
func uniform(rng *fastrand.RNG) float64 {
	return (float64(rng.Uint32()) + 0.5) / (1 << 32)
}

// Draws a Poisson distributed value with expectation lambda. Uses Knuth's
// multiplication method for small lambda, and Hörmann's transformed rejection
// (PTRS) otherwise
func Poisson(rng *fastrand.RNG, lambda float64) float64 {
	if !(lambda > 0) || math.IsInf(lambda, 0) {
		return 0
	}
	if lambda < 10 {
		limit, p, n := math.Exp(-lambda), 1.0, -1.0
		for p > limit {
			p *= uniform(rng)
			n++
		}
		return n
	}

	slam, loglam := math.Sqrt(lambda), math.Log(lambda)
	b := 0.931 + 2.53*slam
	a := -0.059 + 0.02483*b
	invalpha := 1.1239 + 1.1328/(b-3.4)
	vr := 0.9277 - 3.6224/(b-2)
	for {
		u := uniform(rng) - 0.5
		v := uniform(rng)
		us := 0.5 - math.Abs(u)
		k := math.Floor((2*a/us+b)*u + lambda + 0.43)
		if us >= 0.07 && v <= vr {
			return k
		}
		if k < 0 || (us < 0.013 && v > us) {
			continue
		}
		lg, _ := math.Lgamma(k + 1)
		if math.Log(v)+math.Log(invalpha)-math.Log(a/(us*us)+b) <= -lambda+k*loglam-lg {
			return k
		}
	}
}
