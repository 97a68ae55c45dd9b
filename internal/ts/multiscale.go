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
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/mlnoga/gammalight/internal/kernel"
	"github.com/mlnoga/gammalight/internal/sky"
	"github.com/pkg/errors"
)

var (
	ErrUnknownMorphology = errors.New("unknown morphology")
	ErrNoResults         = errors.New("no scale results")
	ErrBinSize           = errors.New("counts image has no pixel size")
)

// Assumed source morphology of a multiscale run
type Morphology int

const (
	Gaussian2D Morphology = iota
	Shell2D
)

var morphologyNames = []string{"Gaussian2D", "Shell2D"}

func (m Morphology) String() string {
	if m < 0 || int(m) >= len(morphologyNames) {
		return fmt.Sprintf("Morphology(%d)", int(m))
	}
	return morphologyNames[m]
}

// Returns the morphology with the given name
func ParseMorphology(s string) (Morphology, error) {
	for i, n := range morphologyNames {
		if n == s {
			return Morphology(i), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownMorphology, "'%s'", s)
}

func (m Morphology) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Morphology) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMorphology(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Parameters of a multiscale run
type MultiscaleConfig struct {
	Scales     []float64            `json:"scales"`     // Source sizes in degrees, 0 for a point source
	Morphology Morphology           `json:"morphology"`
	ShellWidth float64              `json:"shellWidth"` // Shell width relative to its radius
	Residual   bool                 `json:"residual"`   // Add the model image to the background
	PSF        kernel.PSFParameters `json:"psf"`
	Estimator  Config               `json:"estimator"`
}

// Returns a point source run with the default estimator
func DefaultMultiscaleConfig() MultiscaleConfig {
	return MultiscaleConfig{
		Scales:     []float64{0},
		Morphology: Gaussian2D,
		ShellWidth: 0.2,
		Estimator:  DefaultConfig(),
	}
}

// TS images computed for one source scale
type ScaleResult struct {
	Images     *sky.List
	Scale      float64
	Morphology Morphology
	Factor     int     // Downsampling factor used
	Runtime    float64 // Estimator wall clock seconds
}

// Returns the downsampling factor for a source scale, both in degrees
func AutoDownsampleFactor(scale, binSize float64) int {
	switch {
	case scale < 5*binSize:
		return 1
	case scale < 10*binSize:
		return 2
	case scale < 20*binSize:
		return 4
	case scale < 40*binSize:
		return 4
	}
	return 8
}

// Returns the downsampling factor to use for the given scale. Shells get half the
// factor, to keep the shell edge resolved
func (c *MultiscaleConfig) factor(scale, binSize float64) int {
	f := int(c.Estimator.Downsample)
	if c.Estimator.Downsample == DownsampleAuto {
		f = AutoDownsampleFactor(scale, binSize)
	}
	if f > 1 && c.Morphology == Shell2D {
		f /= 2
	}
	return f
}

// Returns the block reduction for an input image. Exposure is averaged, everything else summed
func reduceFor(name string) sky.Reduce {
	if name == "exposure" {
		return sky.Mean
	}
	return sky.NanSum
}

// Returns the kernel for a source scale at the given pixel size, i.e. the PSF
// folded with the source morphology
func (c *MultiscaleConfig) Kernel(scale, binSize float64, factor int) (*kernel.Kernel, error) {
	newBinSize := binSize * float64(factor)
	psf, err := kernel.MultiGaussPSF(c.PSF, binSize, newBinSize)
	if err != nil {
		return nil, err
	}
	if scale <= 0 {
		return psf, nil
	}

	sigma := scale / newBinSize
	var src *kernel.Kernel
	switch c.Morphology {
	case Gaussian2D:
		src, err = kernel.Gaussian2D(sigma)
	case Shell2D:
		src, err = kernel.Shell2D(sigma, sigma*c.ShellWidth, kernel.ShellSize(sigma, c.ShellWidth, psf.Width))
	default:
		err = errors.Wrapf(ErrUnknownMorphology, "%d", int(c.Morphology))
	}
	if err != nil {
		return nil, err
	}
	k := kernel.Convolve(src, psf)
	if err := k.Normalize(); err != nil {
		return nil, err
	}
	return k, nil
}

// Computes TS images for every configured scale. Images are padded and downsampled
// where the scale allows, and results are brought back to the input grid.
func RunMultiscale(images *sky.List, cfg MultiscaleConfig, logWriter io.Writer) ([]*ScaleResult, error) {
	if logWriter == nil {
		logWriter = io.Discard
	}
	required := []string{"counts", "background", "exposure"}
	if cfg.Residual {
		required = append(required, "model")
	}
	if err := images.CheckRequired(required...); err != nil {
		return nil, err
	}
	binSize := images.Get("counts").BinSize
	if !(binSize > 0) {
		return nil, ErrBinSize
	}

	results := make([]*ScaleResult, 0, len(cfg.Scales))
	for _, scale := range cfg.Scales {
		resid := ""
		if cfg.Residual {
			resid = "residual "
		}
		fmt.Fprintf(logWriter, "Computing %sTS image for scale %.3f deg and %s morphology.\n", resid, scale, cfg.Morphology)

		factor := cfg.factor(scale, binSize)
		if factor > 1 {
			fmt.Fprintf(logWriter, "Using down sampling factor of %d\n", factor)
		} else {
			fmt.Fprintf(logWriter, "No down sampling used.\n")
		}

		pad := images.Get("counts").PadToMultiple(factor)
		work := sky.NewList()
		for _, name := range required {
			img := images.Get(name)
			if factor > 1 {
				down, err := img.Pad(pad, 0).Downsample(factor, reduceFor(name))
				if err != nil {
					return nil, err
				}
				img = down
			}
			work.Set(img)
		}
		if cfg.Residual {
			bkg := work.Get("background").Copy()
			for i, m := range work.Get("model").Data {
				bkg.Data[i] += m
			}
			work.Set(bkg)
		}

		k, err := cfg.Kernel(scale, binSize, factor)
		if err != nil {
			return nil, errors.Wrapf(err, "kernel for scale %g", scale)
		}
		est, err := NewEstimator(k, cfg.Estimator, logWriter)
		if err != nil {
			return nil, err
		}
		res, err := est.Run(work)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(logWriter, "TS image computation took %.1f s\n", res.Meta.Runtime)

		if factor > 1 {
			up := sky.NewList()
			up.Meta = res.Meta
			for _, name := range res.Names() {
				order := 1
				if name == "niter" {
					order = 0
				}
				img, err := res.Get(name).Upsample(factor, order)
				if err != nil {
					return nil, err
				}
				up.Set(img.Crop(pad))
			}
			res = up
		}
		res.Meta.Morphology = cfg.Morphology.String()
		res.Meta.Scale = scale

		results = append(results, &ScaleResult{
			Images:     res,
			Scale:      scale,
			Morphology: cfg.Morphology,
			Factor:     factor,
			Runtime:    res.Meta.Runtime,
		})
	}
	return results, nil
}

// Combines scale results pixel by pixel, keeping the scale with the highest TS.
// Returns ts, niter, flux and the selected scale. The maximum propagates NaN, and
// pixels whose maximum is NaN keep zero flux, niter and scale. On exact ties the
// later scale wins.
func MaximumTS(results []*ScaleResult) (*sky.List, error) {
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	for _, r := range results {
		if err := r.Images.CheckRequired("ts", "niter", "flux"); err != nil {
			return nil, errors.Wrapf(err, "scale %g", r.Scale)
		}
		if !r.Images.Get("ts").SameShape(results[0].Images.Get("ts")) {
			return nil, errors.Wrapf(ErrShapeMismatch, "scale %g", r.Scale)
		}
	}

	first := results[0].Images.Get("ts")
	tsMax := first.EmptyLike("ts", math.Inf(-1))
	for _, r := range results {
		for i, v := range r.Images.Get("ts").Data {
			cur := tsMax.Data[i]
			if math.IsNaN(cur) {
				continue
			}
			if math.IsNaN(v) || v > cur {
				tsMax.Data[i] = v
			}
		}
	}

	niter := first.EmptyLike("niter", 0)
	flux := first.EmptyLike("flux", 0)
	scale := first.EmptyLike("scale", 0)
	for _, r := range results {
		ts, rn, rf := r.Images.Get("ts").Data, r.Images.Get("niter").Data, r.Images.Get("flux").Data
		for i, v := range ts {
			if v == tsMax.Data[i] {
				scale.Data[i] = r.Scale
				niter.Data[i] = rn[i]
				flux.Data[i] = rf[i]
			}
		}
	}

	res := sky.NewList(tsMax, niter, flux, scale)
	res.Meta.Morphology = results[0].Morphology.String()
	res.Meta.Method = results[0].Images.Meta.Method
	return res, nil
}
