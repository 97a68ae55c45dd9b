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

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

var ErrEmpty = errors.New("no finite values")

// Calculate histogram of the finite data values between min and max into given bins.
// Values outside [min,max] are ignored. Returns the number of values binned
func Histogram(data []float64, min, max float64, bins []int) int {
	for i := range bins {
		bins[i] = 0
	}
	n := 0
	scale := float64(len(bins)) / (max - min)
	for _, d := range data {
		if math.IsNaN(d) || d < min || d > max {
			continue
		}
		index := int((d - min) * scale)
		if index >= len(bins) {
			index = len(bins) - 1
		}
		bins[index]++
		n++
	}
	return n
}

// Returns the center of bin i
func binCenter(i int, min, max float64, numBins int) float64 {
	return min + (float64(i)+0.5)*(max-min)/float64(numBins)
}

// Returns the location and the value of the histogram peak
func GetPeak(bins []int, min, max float64) (x, y float64) {
	maxIndex, maxValue := 0, math.MinInt
	for i, v := range bins {
		if v > maxValue {
			maxIndex, maxValue = i, v
		}
	}
	return binCenter(maxIndex, min, max, len(bins)), float64(maxValue)
}

// A Gaussian fitted to a histogram. Amplitude is the area under the curve in counts times bin width
type Gaussian struct {
	Amplitude float64
	Mean      float64
	Sigma     float64
}

// Fits a Gaussian to the histogram by minimizing the RMS difference with Nelder-Mead
func FitGaussian(bins []int, min, max float64) (g Gaussian, err error) {
	// Take an educated initial guess: the histogram peak with a tenth of the range as width
	peak, peakVal := GetPeak(bins, min, max)
	sigma0 := (max - min) / 10
	x0 := []float64{peakVal * sigma0 * math.Sqrt(2*math.Pi), peak, sigma0}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			alpha, mu, sigma := x[0], x[1], math.Abs(x[2])
			scaler := alpha / (sigma * math.Sqrt(2*math.Pi))
			sumSqDiff := float64(0)
			for i, y := range bins {
				xmusig := (binCenter(i, min, max, len(bins)) - mu) / sigma
				diff := float64(y) - scaler*math.Exp(-0.5*xmusig*xmusig)
				sumSqDiff += diff * diff
			}
			return math.Sqrt(sumSqDiff / float64(len(bins)))
		},
	}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return Gaussian{}, err
	}
	return Gaussian{Amplitude: result.X[0], Mean: result.X[1], Sigma: math.Abs(result.X[2])}, nil
}

// Summary of a significance map. Without sources, sqrt_ts follows a unit normal distribution
type Significance struct {
	Pixels   int     `json:"pixels"`   // Number of finite pixels
	Mean     float64 `json:"mean"`     // Sample mean
	StdDev   float64 `json:"stdDev"`   // Sample standard deviation
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	FitMean  float64 `json:"fitMean"`  // Mean of the Gaussian fitted to the histogram
	FitSigma float64 `json:"fitSigma"` // Width of the Gaussian fitted to the histogram
}

// Calculates the significance summary of a sqrt_ts map, using a histogram of numBins bins over [min,max]
func NewSignificance(sqrtTS []float64, min, max float64, numBins int) (s Significance, err error) {
	finite := make([]float64, 0, len(sqrtTS))
	s.Min, s.Max = math.Inf(1), math.Inf(-1)
	for _, v := range sqrtTS {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		finite = append(finite, v)
		s.Min, s.Max = math.Min(s.Min, v), math.Max(s.Max, v)
	}
	if len(finite) == 0 {
		return Significance{}, ErrEmpty
	}
	s.Pixels = len(finite)
	s.Mean, s.StdDev = stat.MeanStdDev(finite, nil)

	bins := make([]int, numBins)
	if Histogram(finite, min, max, bins) == 0 {
		return s, errors.Wrapf(ErrEmpty, "in [%g,%g]", min, max)
	}
	g, err := FitGaussian(bins, min, max)
	if err != nil {
		return s, errors.Wrap(err, "fitting sqrt_ts histogram")
	}
	s.FitMean, s.FitSigma = g.Mean, g.Sigma
	return s, nil
}
