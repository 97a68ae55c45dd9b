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

// Package ts computes test statistic images: per pixel maximum likelihood fits
// of a source kernel amplitude on top of a known background.
package ts

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/mlnoga/gammalight/internal/cash"
	"github.com/mlnoga/gammalight/internal/kernel"
	"github.com/mlnoga/gammalight/internal/sky"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

var (
	ErrMissingImage  = sky.ErrMissing
	ErrShapeMismatch = sky.ErrShape
	ErrUnknownOutput = errors.New("unknown output image")
	ErrKernel        = errors.New("invalid kernel")
)

// Names of the output images, in output order
var OutputNames = []string{"ts", "sqrt_ts", "flux", "flux_err", "flux_err_profile", "niter"}

// Default containment fraction of the flux correlation radius
const DefaultContainment = 0.8

// Computes TS images for one kernel with a fixed configuration
type Estimator struct {
	kernel *kernel.Kernel
	cfg    Config
	log    io.Writer
}

// Creates an estimator. The configuration is copied, and validated here so that
// misconfiguration fails before any pixel is processed
func NewEstimator(k *kernel.Kernel, cfg Config, logWriter io.Writer) (*Estimator, error) {
	if k == nil || k.Width%2 != 1 || k.Height%2 != 1 || len(k.Data) != k.Width*k.Height {
		return nil, errors.Wrapf(ErrKernel, "%v", k)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logWriter == nil {
		logWriter = io.Discard
	}
	if cfg.Threshold != nil {
		t := *cfg.Threshold
		cfg.Threshold = &t
	}
	return &Estimator{kernel: k, cfg: cfg, log: logWriter}, nil
}

// Returns a copy of the estimator configuration
func (e *Estimator) Config() Config {
	return e.cfg
}

// Returns the kernel
func (e *Estimator) Kernel() *kernel.Kernel {
	return e.kernel
}

// Result of fitting one pixel
type fitResult struct {
	ts, flux, fluxErr, fluxErrProfile float64
	niter                             int
}

// Read-only per-run images shared by all workers
type frame struct {
	width                    int
	counts, background, expo []float64
	c0, seed                 []float64
}

// Per-worker scratch buffers for one kernel-sized neighbourhood
type workspace struct {
	counts, background, exposure, c0 []float64
	slice                            *cash.Slice
}

func (e *Estimator) newWorkspace() *workspace {
	n := len(e.kernel.Data)
	w := &workspace{
		counts:     make([]float64, n),
		background: make([]float64, n),
		exposure:   make([]float64, n),
		c0:         make([]float64, n),
	}
	w.slice = cash.NewSlice(w.counts, w.background, make([]float64, n), e.cfg.FluxScale)
	return w
}

// Fits the amplitude at one position
func (e *Estimator) tsValue(w *workspace, f *frame, pos Position, fit amplitudeFunc) fitResult {
	k := e.kernel
	extract(f.counts, f.width, k, pos, w.counts)
	extract(f.background, f.width, k, pos, w.background)
	extract(f.expo, f.width, k, pos, w.exposure)
	extract(f.c0, f.width, k, pos, w.c0)
	floats.MulTo(w.slice.Model, w.exposure, k.Data)

	c0 := floats.Sum(w.c0)
	seed := 0.0
	if f.seed != nil {
		seed = f.seed[pos.Y*f.width+pos.X]
	}

	if e.cfg.Threshold != nil {
		gap := c0 - w.slice.Stat(seed)
		if gap < *e.cfg.Threshold {
			return fitResult{ts: gap, flux: seed * e.cfg.FluxScale, fluxErr: math.NaN(), fluxErrProfile: math.NaN()}
		}
	}

	amplitude, niter := fit(w.slice, seed)
	c1 := w.slice.Stat(amplitude)
	return fitResult{
		ts:             (c0 - c1) * sign(amplitude),
		flux:           amplitude * e.cfg.FluxScale,
		niter:          niter,
		fluxErr:        w.slice.AmplitudeErr(amplitude),
		fluxErrProfile: profileErr(w.slice, amplitude, c1, e.cfg.MaxIter),
	}
}

// Returns the set of selected output names
func selectOutputs(which []string) (map[string]bool, error) {
	sel := make(map[string]bool)
	if len(which) == 0 || (len(which) == 1 && which[0] == "all") {
		for _, n := range OutputNames {
			sel[n] = true
		}
		return sel, nil
	}
outer:
	for _, w := range which {
		for _, n := range OutputNames {
			if w == n {
				sel[w] = true
				continue outer
			}
		}
		return nil, errors.Wrapf(ErrUnknownOutput, "'%s'", w)
	}
	return sel, nil
}

// Computes the TS images for the counts, background and exposure images in the list.
// which selects outputs from OutputNames, all of them if empty or "all". Inputs are not modified.
func (e *Estimator) Run(images *sky.List, which ...string) (*sky.List, error) {
	start := time.Now()
	sel, err := selectOutputs(which)
	if err != nil {
		return nil, err
	}
	if err := images.CheckRequired("counts", "background", "exposure"); err != nil {
		return nil, err
	}
	counts := images.Get("counts")
	width, height := counts.Width, counts.Height

	f := &frame{
		width:      width,
		counts:     counts.Data,
		background: images.Get("background").Data,
		expo:       append([]float64(nil), images.Get("exposure").Data...),
		c0:         make([]float64, len(counts.Data)),
	}
	fmt.Fprintf(e.log, "Using method '%s'\n", e.cfg.Method)

	cash.CashImage(f.c0, f.counts, f.background)
	mask, _ := Mask(f.expo, f.background, e.log)
	positions := Positions(mask, width, height, e.kernel)

	if e.cfg.Method == MethodRootNewton || e.cfg.Threshold != nil {
		f.seed = EstimateFlux(f.counts, f.background, f.expo, width, e.kernel, e.cfg.FluxScale)
	}

	results := e.fitAll(f, positions)

	res := sky.NewList()
	outs := make(map[string]*sky.Image)
	for _, n := range OutputNames {
		if sel[n] {
			outs[n] = counts.EmptyLike(n, math.NaN())
			res.Set(outs[n])
		}
	}
	tsImg := counts.EmptyLike("ts", math.NaN())
	for i, pos := range positions {
		r := &results[i]
		idx := pos.Y*width + pos.X
		tsImg.Data[idx] = r.ts
		setIf(outs["flux"], idx, r.flux)
		setIf(outs["flux_err"], idx, r.fluxErr)
		setIf(outs["flux_err_profile"], idx, r.fluxErrProfile)
		setIf(outs["niter"], idx, float64(r.niter))
	}
	if out := outs["ts"]; out != nil {
		copy(out.Data, tsImg.Data)
	}
	if out := outs["sqrt_ts"]; out != nil {
		SqrtTS(out.Data, tsImg.Data)
	}

	res.Meta.Method = e.cfg.Method.String()
	res.Meta.Runtime = math.Round(time.Since(start).Seconds()*100) / 100
	return res, nil
}

func setIf(img *sky.Image, idx int, v float64) {
	if img != nil {
		img.Data[idx] = v
	}
}

// Fits all positions, in parallel batches if configured. Results are indexed like positions
func (e *Estimator) fitAll(f *frame, positions []Position) []fitResult {
	results := make([]fitResult, len(positions))
	fit := amplitudeFor(e.cfg.Method, e.cfg.MaxIter)
	threads := e.cfg.threads()
	if threads > len(positions) {
		threads = len(positions)
	}
	if threads <= 1 {
		fmt.Fprintf(e.log, "Computing TS image for %d pixels serially\n", len(positions))
		w := e.newWorkspace()
		for i, pos := range positions {
			results[i] = e.tsValue(w, f, pos, fit)
		}
		return results
	}
	fmt.Fprintf(e.log, "Using %d threads to compute TS image for %d pixels\n", threads, len(positions))

	// split into 8*threads work packages, limit parallelism to threads
	numBatches := 8 * threads
	batchSize := (len(positions) + numBatches - 1) / numBatches
	sem := make(chan bool, threads)
	for lower := 0; lower < len(positions); lower += batchSize {
		upper := lower + batchSize
		if upper > len(positions) {
			upper = len(positions)
		}

		sem <- true
		go func(lower, upper int) {
			defer func() { <-sem }()
			w := e.newWorkspace()
			for i := lower; i < upper; i++ {
				results[i] = e.tsValue(w, f, positions[i], fit)
			}
		}(lower, upper)
	}
	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}
	return results
}

// Writes sign(ts)*sqrt(|ts|) into res. NaN stays NaN
func SqrtTS(res, ts []float64) {
	for i, t := range ts {
		if t > 0 {
			res[i] = math.Sqrt(t)
		} else {
			res[i] = -math.Sqrt(-t)
		}
	}
}

// Returns the flux seed image: (counts-background)/exposure/fluxScale with non-finite
// values zeroed, convolved with the kernel and divided by the kernel's squared sum
func EstimateFlux(counts, background, exposure []float64, width int, k *kernel.Kernel, fluxScale float64) []float64 {
	flux := make([]float64, len(counts))
	for i := range flux {
		v := (counts[i] - background[i]) / exposure[i] / fluxScale
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		flux[i] = v
	}
	res := make([]float64, len(counts))
	kernel.ConvolveImage(res, flux, width, k)
	floats.Scale(1/k.SquaredSum(), res)
	return res
}

// Returns the radius of the top-hat kernel with the same containment radius as k
// for the given containment fraction, in pixels
func FluxCorrelationRadius(k *kernel.Kernel, containment float64) (float64, error) {
	r, err := k.ContainmentRadius(containment)
	if err != nil {
		return math.NaN(), err
	}
	return r / math.Sqrt(containment), nil
}
