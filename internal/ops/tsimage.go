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

package ops

import (
	"fmt"
	"sync"

	"github.com/mlnoga/gammalight/internal/kernel"
	"github.com/mlnoga/gammalight/internal/sky"
	"github.com/mlnoga/gammalight/internal/stats"
	"github.com/mlnoga/gammalight/internal/ts"
	"github.com/pkg/errors"
)

// Computes TS images at the native resolution for a single source scale.
// Takes n inputs, produces n outputs
type OpTSImage struct {
	OpUnaryBase
	PSF        kernel.PSFParameters `json:"psf"`
	Scale      float64              `json:"scale"` // Source size in degrees, 0 for a point source
	Morphology ts.Morphology        `json:"morphology"`
	ShellWidth float64              `json:"shellWidth"`
	Estimator  ts.Config            `json:"estimator"`
	Outputs    []string             `json:"outputs"`    // Selected outputs, all if empty
	KeepInputs bool                 `json:"keepInputs"` // Pass the input images through with the results
}

func init() { SetOperatorFactory(func() Operator { return NewOpTSImageDefault() }) } // register the operator for JSON decoding

func NewOpTSImageDefault() *OpTSImage {
	ms := ts.DefaultMultiscaleConfig()
	op := OpTSImage{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "tsImage", Active: true}},
		Morphology:  ms.Morphology,
		ShellWidth:  ms.ShellWidth,
		Estimator:   ms.Estimator,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpTSImage) Apply(l *sky.List, c *Context) (result *sky.List, err error) {
	if err := l.CheckRequired("counts"); err != nil {
		return nil, errors.Wrapf(err, "%s operator", op.Type)
	}
	ms := ts.MultiscaleConfig{Morphology: op.Morphology, ShellWidth: op.ShellWidth, PSF: op.PSF}
	k, err := ms.Kernel(op.Scale, l.Get("counts").BinSize, 1)
	if err != nil {
		return nil, errors.Wrapf(err, "%s operator", op.Type)
	}
	cfg := op.Estimator
	if cfg.MaxThreads == 0 {
		cfg.MaxThreads = c.MaxThreads
	}
	est, err := ts.NewEstimator(k, cfg, c.Log)
	if err != nil {
		return nil, err
	}
	res, err := est.Run(l, op.Outputs...)
	if err != nil {
		return nil, err
	}
	res.Meta.Scale = op.Scale
	res.Meta.Morphology = op.Morphology.String()
	countTSPixels(res.Get("ts"))
	fmt.Fprintf(c.Log, "TS image computation took %.2f s\n", res.Meta.Runtime)

	if op.KeepInputs {
		for _, name := range l.Names() {
			if res.Get(name) == nil {
				res.Set(l.Get(name))
			}
		}
	}
	return res, nil
}

// Computes TS images for several source scales, downsampling where the scale allows.
// Takes n inputs, produces one output per input and scale, in that order
type OpMultiscale struct {
	OpBase
	ts.MultiscaleConfig
}

func init() { SetOperatorFactory(func() Operator { return NewOpMultiscaleDefault() }) } // register the operator for JSON decoding

func NewOpMultiscaleDefault() *OpMultiscale {
	return &OpMultiscale{
		OpBase:           OpBase{Type: "multiscale", Active: true},
		MultiscaleConfig: ts.DefaultMultiscaleConfig(),
	}
}

func (op *OpMultiscale) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) == 0 {
		return nil, errors.Wrapf(ErrInputs, "%s operator with %d inputs", op.Type, len(ins))
	}
	if len(op.Scales) == 0 {
		return nil, errors.Errorf("%s operator with no scales", op.Type)
	}
	cfg := op.MultiscaleConfig
	if cfg.Estimator.MaxThreads == 0 {
		cfg.Estimator.MaxThreads = c.MaxThreads
	}
	for _, in := range ins {
		loaded := memoize(in)
		var once sync.Once
		perScale := false
		plan := func(l *sky.List) {
			once.Do(func() { perScale = !op.fitsMemory(l, c) })
		}
		var results []*ts.ScaleResult
		all := memoize(func() (*sky.List, error) {
			l, err := loaded()
			if err != nil {
				return nil, err
			}
			_, err = observe(op.Type, func() (*sky.List, error) {
				results, err = ts.RunMultiscale(l, cfg, c.Log)
				return nil, err
			})
			return nil, err
		})
		for i := range cfg.Scales {
			i := i
			outs = append(outs, memoize(func() (*sky.List, error) {
				l, err := loaded()
				if err != nil {
					return nil, err
				}
				plan(l)
				var res *sky.List
				if perScale {
					single := cfg
					single.Scales = cfg.Scales[i : i+1]
					res, err = observe(op.Type, func() (*sky.List, error) {
						r, err := ts.RunMultiscale(l, single, c.Log)
						if err != nil {
							return nil, err
						}
						return r[0].Images, nil
					})
				} else if _, err = all(); err == nil {
					res = results[i].Images
				}
				if err != nil {
					return nil, err
				}
				countTSPixels(res.Get("ts"))
				return res, nil
			}))
		}
	}
	return outs, nil
}

// Estimates the memory needed to compute all scales of l at once, and checks it
// against the context limit. Logs the estimate
func (op *OpMultiscale) fitsMemory(l *sky.List, c *Context) bool {
	counts := l.Get("counts")
	if counts == nil {
		return true // RunMultiscale reports the missing image
	}
	// Per scale: the outputs, the padded and reduced working copies, c0 and the flux seed
	perScale := int64(counts.Width) * int64(counts.Height) * 8 * int64(len(ts.OutputNames)+l.Len()+2)
	mib := (perScale*int64(len(op.Scales)) + 1024*1024 - 1) / 1024 / 1024
	fits := mib <= int64(c.TSMemoryMB)
	mode := "all scales at once"
	if !fits {
		mode = "one scale at a time"
	}
	fmt.Fprintf(c.Log, "%d scales of %dx%d pixels need about %d MiB, limit is %d MiB, computing %s.\n",
		len(op.Scales), counts.Width, counts.Height, mib, c.TSMemoryMB, mode)
	return fits
}

// Combines TS images of several scales into the maximum TS per pixel, with the
// matching flux, iteration count and scale, plus sqrt_ts. Takes n inputs, produces one output
type OpMaxTS struct {
	OpBase
}

func init() { SetOperatorFactory(func() Operator { return NewOpMaxTSDefault() }) } // register the operator for JSON decoding

func NewOpMaxTSDefault() *OpMaxTS {
	return &OpMaxTS{OpBase: OpBase{Type: "maxTS", Active: true}}
}

func (op *OpMaxTS) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) == 0 {
		return nil, errors.Wrapf(ErrInputs, "%s operator with %d inputs", op.Type, len(ins))
	}
	out := func() (*sky.List, error) {
		lists, err := MaterializeAll(ins, 1)
		if err != nil {
			return nil, err
		}
		return observe(op.Type, func() (*sky.List, error) { return op.Apply(lists, c) })
	}
	return []Promise{out}, nil
}

func (op *OpMaxTS) Apply(lists []*sky.List, c *Context) (*sky.List, error) {
	results := make([]*ts.ScaleResult, len(lists))
	for i, l := range lists {
		morph := ts.Gaussian2D
		if l.Meta.Morphology != "" {
			m, err := ts.ParseMorphology(l.Meta.Morphology)
			if err != nil {
				return nil, err
			}
			morph = m
		}
		results[i] = &ts.ScaleResult{Images: l, Scale: l.Meta.Scale, Morphology: morph, Runtime: l.Meta.Runtime}
	}
	res, err := ts.MaximumTS(results)
	if err != nil {
		return nil, errors.Wrapf(err, "%s operator", op.Type)
	}
	tsImg := res.Get("ts")
	sqrtTS := tsImg.EmptyLike("sqrt_ts", 0)
	ts.SqrtTS(sqrtTS.Data, tsImg.Data)
	res.Set(sqrtTS)
	fmt.Fprintf(c.Log, "Combined TS images of %d scales\n", len(results))
	return res, nil
}

// Logs the significance distribution of sqrt_ts, computed from ts where needed.
// Takes n inputs, produces the n inputs with sqrt_ts added where missing
type OpTSStats struct {
	OpUnaryBase
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Bins int     `json:"bins"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpTSStatsDefault() }) } // register the operator for JSON decoding

func NewOpTSStatsDefault() *OpTSStats {
	op := OpTSStats{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "tsStats", Active: true}},
		Min:         -5,
		Max:         5,
		Bins:        100,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpTSStats) Apply(l *sky.List, c *Context) (result *sky.List, err error) {
	result = l
	if tsImg := l.Get("ts"); tsImg != nil && l.Get("sqrt_ts") == nil {
		result = l.Clone()
		sqrtTS := tsImg.EmptyLike("sqrt_ts", 0)
		ts.SqrtTS(sqrtTS.Data, tsImg.Data)
		result.Set(sqrtTS)
	}
	s, err := op.Significance(result)
	if err != nil {
		return nil, errors.Wrapf(err, "%s operator", op.Type)
	}
	fmt.Fprintf(c.Log, "sqrt_ts over %d pixels: mean %.3f stddev %.3f min %.3f max %.3f, fitted mean %.3f sigma %.3f\n",
		s.Pixels, s.Mean, s.StdDev, s.Min, s.Max, s.FitMean, s.FitSigma)
	return result, nil
}

// Returns the significance summary of the list
func (op *OpTSStats) Significance(l *sky.List) (stats.Significance, error) {
	if op.Bins < 1 || !(op.Max > op.Min) {
		return stats.Significance{}, errors.Errorf("invalid histogram of %d bins over [%g,%g]", op.Bins, op.Min, op.Max)
	}
	sqrtTS := l.Get("sqrt_ts")
	if sqrtTS == nil {
		if err := l.CheckRequired("ts"); err != nil {
			return stats.Significance{}, err
		}
		tsImg := l.Get("ts")
		sqrtTS = tsImg.EmptyLike("sqrt_ts", 0)
		ts.SqrtTS(sqrtTS.Data, tsImg.Data)
	}
	return stats.NewSignificance(sqrtTS.Data, op.Min, op.Max, op.Bins)
}
