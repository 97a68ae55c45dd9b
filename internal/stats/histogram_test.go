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

package stats

import (
	"math"
	"testing"
)

// Returns n quantiles of the unit normal distribution
func normalQuantiles(n int) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = math.Sqrt2 * math.Erfinv(2*(float64(i)+0.5)/float64(n)-1)
	}
	return res
}

func TestHistogram(t *testing.T) {
	data := []float64{0, 0.5, 1, 1.5, 2, math.NaN(), -1, 3}
	bins := make([]int, 4)
	n := Histogram(data, 0, 2, bins)
	if n != 5 {
		t.Errorf("binned %d values; want 5", n)
	}
	want := []int{1, 1, 1, 2}
	for i := range want {
		if bins[i] != want[i] {
			t.Errorf("bin %d = %d; want %d", i, bins[i], want[i])
		}
	}
	if x, y := GetPeak(bins, 0, 2); x != 1.75 || y != 2 {
		t.Errorf("peak %g,%g; want 1.75,2", x, y)
	}
}

func TestFitGaussian(t *testing.T) {
	data := normalQuantiles(20000)
	for i := range data {
		data[i] = 0.5 + 2*data[i]
	}
	bins := make([]int, 80)
	Histogram(data, -8, 8, bins)
	g, err := FitGaussian(bins, -8, 8)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(g.Mean-0.5) > 0.05 || math.Abs(g.Sigma-2) > 0.1 {
		t.Errorf("fit mean %g sigma %g; want 0.5, 2", g.Mean, g.Sigma)
	}
}

func TestNewSignificance(t *testing.T) {
	data := append(normalQuantiles(10000), math.NaN(), math.Inf(1))
	s, err := NewSignificance(data, -5, 5, 50)
	if err != nil {
		t.Fatal(err)
	}
	if s.Pixels != 10000 {
		t.Errorf("pixels %d; want 10000", s.Pixels)
	}
	if math.Abs(s.Mean) > 1e-6 || math.Abs(s.StdDev-1) > 0.01 {
		t.Errorf("mean %g stddev %g; want 0, 1", s.Mean, s.StdDev)
	}
	if math.Abs(s.FitMean) > 0.05 || math.Abs(s.FitSigma-1) > 0.1 {
		t.Errorf("fit mean %g sigma %g; want 0, 1", s.FitMean, s.FitSigma)
	}
	if _, err := NewSignificance([]float64{math.NaN()}, -5, 5, 50); err == nil {
		t.Errorf("expected error for an all-NaN map")
	}
}
