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
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/mlnoga/gammalight/internal/cash"
	"github.com/mlnoga/gammalight/internal/kernel"
	"github.com/mlnoga/gammalight/internal/sky"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const testExposure = 1e12 // makes amplitude 1 predict one count per unit kernel sum

func testKernel(t *testing.T) *kernel.Kernel {
	k, err := kernel.Gaussian2D(0.5)
	if err != nil {
		t.Fatal(err)
	}
	if err := k.Normalize(); err != nil {
		t.Fatal(err)
	}
	return k
}

// Returns counts with a point source in the image center on top of a fluctuating
// background, together with a flat background and exposure
func testImages(width, height int) *sky.List {
	counts := sky.New("counts", width, height, 0.02)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			counts.Set(x, y, float64((3*x+5*y)%4))
		}
	}
	cx, cy := width/2, height/2
	counts.Set(cx, cy, counts.At(cx, cy)+30)
	for _, d := range [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		counts.Set(cx+d[0], cy+d[1], counts.At(cx+d[0], cy+d[1])+8)
	}
	return sky.NewList(
		counts,
		sky.NewFilled("background", width, height, 0.02, 1.5),
		sky.NewFilled("exposure", width, height, 0.02, testExposure),
	)
}

func newTestEstimator(t *testing.T, cfg Config) *Estimator {
	e, err := NewEstimator(testKernel(t), cfg, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func run(t *testing.T, cfg Config, images *sky.List) *sky.List {
	res, err := newTestEstimator(t, cfg).Run(images)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func sameValue(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

func TestParseMethod(t *testing.T) {
	for i, n := range methodNames {
		m, err := ParseMethod(n)
		if err != nil || m != Method(i) {
			t.Errorf("ParseMethod(%q) = %v, %v; want %v", n, m, err, Method(i))
		}
	}
	if _, err := ParseMethod("simplex"); errors.Cause(err) != ErrUnknownMethod {
		t.Errorf("ParseMethod(simplex) error %v; want %v", err, ErrUnknownMethod)
	}
}

func TestConfigJSON(t *testing.T) {
	cfg := DefaultConfig()
	if err := json.Unmarshal([]byte(`{"method":"leastsq iter","downsample":4,"threshold":2.5}`), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Method != MethodLeastSqIter || cfg.Downsample != 4 || cfg.Threshold == nil || *cfg.Threshold != 2.5 {
		t.Errorf("decoded %+v", cfg)
	}
	if cfg.MaxIter != MaxIter || cfg.FluxScale != cash.FluxFactor || !cfg.Parallel {
		t.Errorf("defaults lost in %+v", cfg)
	}
	if err := json.Unmarshal([]byte(`{"downsample":"auto"}`), &cfg); err != nil || cfg.Downsample != DownsampleAuto {
		t.Errorf("downsample auto gives %v, %v", cfg.Downsample, err)
	}
	if err := json.Unmarshal([]byte(`{"method":"fancy"}`), &cfg); errors.Cause(err) != ErrUnknownMethod {
		t.Errorf("unknown method gives %v; want %v", err, ErrUnknownMethod)
	}
	if err := json.Unmarshal([]byte(`{"downsample":"half"}`), &cfg); errors.Cause(err) != ErrDownsample {
		t.Errorf("bad downsample gives %v; want %v", err, ErrDownsample)
	}
	b, err := json.Marshal(DefaultConfig())
	if err != nil || !strings.Contains(string(b), `"method":"root brentq"`) || !strings.Contains(string(b), `"downsample":"auto"`) {
		t.Errorf("marshal gives %s, %v", b, err)
	}
}

func TestNewEstimatorValidates(t *testing.T) {
	k := testKernel(t)
	cfg := DefaultConfig()
	cfg.Method = Method(7)
	if _, err := NewEstimator(k, cfg, nil); errors.Cause(err) != ErrUnknownMethod {
		t.Errorf("got %v; want %v", err, ErrUnknownMethod)
	}
	cfg = DefaultConfig()
	cfg.MaxIter = 0
	if _, err := NewEstimator(k, cfg, nil); errors.Cause(err) != ErrConfig {
		t.Errorf("got %v; want %v", err, ErrConfig)
	}
	if _, err := NewEstimator(&kernel.Kernel{Width: 2, Height: 2, Data: make([]float64, 4)}, DefaultConfig(), nil); errors.Cause(err) != ErrKernel {
		t.Errorf("got %v; want %v", err, ErrKernel)
	}
}

func TestConfigNotMutated(t *testing.T) {
	cfg := DefaultConfig()
	threshold := 3.0
	cfg.Threshold = &threshold
	e := newTestEstimator(t, cfg)
	threshold = 100
	if _, err := e.Run(testImages(11, 11)); err != nil {
		t.Fatal(err)
	}
	if got := e.Config(); *got.Threshold != 3 || got.Method != MethodRootBrentq {
		t.Errorf("config changed to %+v, threshold %g", got, *got.Threshold)
	}
}

func TestZeroCountFloor(t *testing.T) {
	k := testKernel(t)
	n := len(k.Data)
	counts := make([]float64, n)
	background := make([]float64, n)
	model := make([]float64, n)
	for i := range background {
		background[i] = 1 + 0.1*float64(i%3)
		model[i] = k.Data[i] * testExposure
	}
	s := cash.NewSlice(counts, background, model, cash.FluxFactor)
	_, _, minTotal := s.Bounds()
	for m := range methodNames {
		x, niter := amplitudeFor(Method(m), MaxIter)(s, 1)
		if x != minTotal || niter != 0 {
			t.Errorf("%s: amplitude %g niter %d; want %g, 0", Method(m), x, niter, minTotal)
		}
	}
}

func TestAmplitudeMethodsAgree(t *testing.T) {
	images := testImages(11, 11)
	want := math.NaN()
	for m := range methodNames {
		cfg := DefaultConfig()
		cfg.Method = Method(m)
		res := run(t, cfg, images)
		flux := res.Get("flux").At(5, 5)
		niter := res.Get("niter").At(5, 5)
		if !(flux > 0) || niter >= MaxIter {
			t.Fatalf("%s: flux %g niter %g at source", Method(m), flux, niter)
		}
		if m == 0 {
			want = flux
			continue
		}
		if math.Abs(flux-want) > 0.02*want {
			t.Errorf("%s: flux %g; want %g", Method(m), flux, want)
		}
	}
}

func TestSourceDetected(t *testing.T) {
	res := run(t, DefaultConfig(), testImages(11, 11))
	ts := res.Get("ts").At(5, 5)
	if ts < 25 {
		t.Errorf("ts at source = %g; want > 25", ts)
	}
	if e := res.Get("flux_err").At(5, 5); !(e > 0) || math.IsInf(e, 0) {
		t.Errorf("flux_err = %g; want positive finite", e)
	}
	if e := res.Get("flux_err_profile").At(5, 5); !(e > 0) || math.IsInf(e, 0) {
		t.Errorf("flux_err_profile = %g; want positive finite", e)
	}
	if res.Meta.Method != "root brentq" || res.Meta.Runtime < 0 {
		t.Errorf("meta %+v", res.Meta)
	}
	// border pixels are never processed
	for _, n := range OutputNames {
		if v := res.Get(n).At(0, 0); !math.IsNaN(v) {
			t.Errorf("%s at border = %g; want NaN", n, v)
		}
	}
}

func TestSignConvention(t *testing.T) {
	res := run(t, DefaultConfig(), testImages(15, 15))
	ts, flux, niter := res.Get("ts").Data, res.Get("flux").Data, res.Get("niter").Data
	negative := 0
	for i := range ts {
		if math.IsNaN(ts[i]) || niter[i] >= MaxIter || math.Abs(ts[i]) < 1e-9 {
			continue
		}
		if (ts[i] < 0) != (flux[i] < 0) {
			t.Errorf("pixel %d: ts %g flux %g have different signs", i, ts[i], flux[i])
		}
		if flux[i] < 0 {
			negative++
		}
	}
	if negative == 0 {
		t.Errorf("no negative fluctuation found, test data too smooth")
	}
}

func TestNonConvergenceGivesNaN(t *testing.T) {
	for m := range methodNames {
		cfg := DefaultConfig()
		cfg.Method = Method(m)
		cfg.MaxIter = 1
		res, err := newTestEstimator(t, cfg).Run(testImages(11, 11))
		if err != nil {
			t.Fatalf("%s: %v", Method(m), err)
		}
		processed, failed := 0, 0
		niter := res.Get("niter").Data
		for i, n := range niter {
			if math.IsNaN(n) {
				continue
			}
			processed++
			if n != 1 {
				t.Errorf("%s pixel %d: niter %g; want 1", Method(m), i, n)
			}
			nan := 0
			for _, name := range []string{"ts", "sqrt_ts", "flux", "flux_err"} {
				if math.IsNaN(res.Get(name).Data[i]) {
					nan++
				}
			}
			if Method(m) == MethodLeastSqIter {
				if nan != 0 {
					t.Errorf("%s pixel %d: %d NaN outputs; want the capped estimate", Method(m), i, nan)
				}
				continue
			}
			if nan != 4 {
				t.Errorf("%s pixel %d: %d of 4 outputs NaN; want all", Method(m), i, nan)
			}
			failed++
		}
		if processed != 49 {
			t.Errorf("%s: %d pixels processed; want 49", Method(m), processed)
		}
		if Method(m) != MethodLeastSqIter && failed != processed {
			t.Errorf("%s: %d of %d pixels failed; want all", Method(m), failed, processed)
		}
	}
}

func TestParallelMatchesSerial(t *testing.T) {
	for m := range methodNames {
		images := testImages(15, 15)
		cfg := DefaultConfig()
		cfg.Method = Method(m)
		cfg.MaxThreads = 4
		par := run(t, cfg, images)
		cfg.Parallel = false
		ser := run(t, cfg, images)
		for _, n := range OutputNames {
			p, s := par.Get(n).Data, ser.Get(n).Data
			for i := range p {
				if !sameValue(p[i], s[i]) {
					t.Errorf("%s %s pixel %d: parallel %g serial %g", Method(m), n, i, p[i], s[i])
				}
			}
		}
	}
}

func TestThresholdShortCircuit(t *testing.T) {
	images := testImages(11, 11)
	cfg := DefaultConfig()
	threshold := 1e10
	cfg.Threshold = &threshold
	e := newTestEstimator(t, cfg)
	res, err := e.Run(images)
	if err != nil {
		t.Fatal(err)
	}

	counts, bkg, expo := images.Get("counts"), images.Get("background"), images.Get("exposure")
	k := e.Kernel()
	seed := EstimateFlux(counts.Data, bkg.Data, expo.Data, counts.Width, k, cfg.FluxScale)
	c0 := make([]float64, len(counts.Data))
	cash.CashImage(c0, counts.Data, bkg.Data)

	n := len(k.Data)
	cs, bs, es, c0s, ms := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for y := 2; y < 9; y++ {
		for x := 2; x < 9; x++ {
			pos := Position{x, y}
			extract(counts.Data, counts.Width, k, pos, cs)
			extract(bkg.Data, counts.Width, k, pos, bs)
			extract(expo.Data, counts.Width, k, pos, es)
			extract(c0, counts.Width, k, pos, c0s)
			for i := range ms {
				ms[i] = es[i] * k.Data[i]
			}
			sum := floats.Sum(c0s)
			sd := seed[y*counts.Width+x]
			want := sum - cash.NewSlice(cs, bs, ms, cfg.FluxScale).Stat(sd)

			if got := res.Get("ts").At(x, y); got != want {
				t.Errorf("ts(%d,%d) = %g; want gap %g", x, y, got, want)
			}
			if got := res.Get("niter").At(x, y); got != 0 {
				t.Errorf("niter(%d,%d) = %g; want 0", x, y, got)
			}
			if got := res.Get("flux").At(x, y); got != sd*cfg.FluxScale {
				t.Errorf("flux(%d,%d) = %g; want seed %g", x, y, got, sd*cfg.FluxScale)
			}
			if got := res.Get("flux_err").At(x, y); !math.IsNaN(got) {
				t.Errorf("flux_err(%d,%d) = %g; want NaN", x, y, got)
			}
		}
	}
}

func TestFlatImageGivesUniformTS(t *testing.T) {
	images := sky.NewList(
		sky.NewFilled("counts", 12, 10, 0.02, 3),
		sky.NewFilled("background", 12, 10, 0.02, 2),
		sky.NewFilled("exposure", 12, 10, 0.02, testExposure),
	)
	res := run(t, DefaultConfig(), images)
	ts := res.Get("ts")
	want := ts.At(2, 2)
	if !(want > 0) {
		t.Fatalf("ts = %g; want positive for an excess", want)
	}
	for y := 0; y < 10; y++ {
		for x := 0; x < 12; x++ {
			inside := x >= 2 && x < 10 && y >= 2 && y < 8
			got := ts.At(x, y)
			if inside && got != want {
				t.Errorf("ts(%d,%d) = %g; want %g", x, y, got, want)
			}
			if !inside && !math.IsNaN(got) {
				t.Errorf("ts(%d,%d) = %g outside the interior; want NaN", x, y, got)
			}
		}
	}
}

func TestAnomalyCorrection(t *testing.T) {
	images := testImages(9, 9)
	images.Get("exposure").Set(4, 4, 5)
	images.Get("background").Set(4, 4, 0)

	var log bytes.Buffer
	e, err := NewEstimator(testKernel(t), DefaultConfig(), &log)
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Run(images)
	if err != nil {
		t.Fatalf("run failed on anomalous pixel: %v", err)
	}
	if !strings.Contains(log.String(), "Warning:") {
		t.Errorf("log %q; want a warning", log.String())
	}
	if got := images.Get("exposure").At(4, 4); got != 5 {
		t.Errorf("caller exposure changed to %g", got)
	}
	if got := res.Get("niter").At(4, 4); !math.IsNaN(got) {
		t.Errorf("anomalous pixel was processed, niter %g", got)
	}
	if got := res.Get("niter").At(3, 4); math.IsNaN(got) {
		t.Errorf("neighbour of anomalous pixel was not processed")
	}
}

func TestMaskAndPositions(t *testing.T) {
	exposure := []float64{1, 1, 1, 0, 1, 1, 1, 1, 1, 1, 1, 1}
	background := []float64{1, 1, 1, 1, 0, 1, 1, 1, 1, 1, 1, 1}
	var log bytes.Buffer
	mask, anomalies := Mask(exposure, background, &log)
	if anomalies != 1 || exposure[4] != 0 || mask[4] || mask[3] || !mask[0] {
		t.Errorf("mask %v anomalies %d exposure %v", mask, anomalies, exposure)
	}
	k, _ := kernel.New(3, 1, []float64{1, 1, 1})
	positions := Positions(mask, 4, 3, k)
	want := []Position{{1, 0}, {2, 0}, {1, 1}, {2, 1}, {1, 2}, {2, 2}}
	// columns 0 and 3 are margin
	if len(positions) != len(want) {
		t.Fatalf("positions %v; want %v", positions, want)
	}
	for i := range want {
		if positions[i] != want[i] {
			t.Errorf("position %d = %v; want %v", i, positions[i], want[i])
		}
	}
}

func TestSelectOutputs(t *testing.T) {
	e := newTestEstimator(t, DefaultConfig())
	res, err := e.Run(testImages(9, 9), "ts", "niter")
	if err != nil {
		t.Fatal(err)
	}
	if names := res.Names(); len(names) != 2 || names[0] != "ts" || names[1] != "niter" {
		t.Errorf("outputs %v; want [ts niter]", names)
	}
	if _, err := e.Run(testImages(9, 9), "amplitude"); errors.Cause(err) != ErrUnknownOutput {
		t.Errorf("got %v; want %v", err, ErrUnknownOutput)
	}
}

func TestRunRequiresImages(t *testing.T) {
	e := newTestEstimator(t, DefaultConfig())
	images := testImages(9, 9)
	missing := sky.NewList(images.Get("counts"), images.Get("background"))
	if _, err := e.Run(missing); errors.Cause(err) != ErrMissingImage {
		t.Errorf("got %v; want %v", err, ErrMissingImage)
	}
	images.Set(sky.NewFilled("exposure", 9, 8, 0.02, 1))
	if _, err := e.Run(images); errors.Cause(err) != ErrShapeMismatch {
		t.Errorf("got %v; want %v", err, ErrShapeMismatch)
	}
}

func TestSqrtTS(t *testing.T) {
	ts := []float64{4, -9, math.NaN(), 0, 2}
	res := make([]float64, len(ts))
	SqrtTS(res, ts)
	for i, v := range ts {
		want := math.Copysign(math.Sqrt(math.Abs(v)), v)
		if !sameValue(res[i], want) {
			t.Errorf("sqrt_ts(%g) = %g; want %g", v, res[i], want)
		}
	}
}

func TestEstimateFlux(t *testing.T) {
	k, _ := kernel.New(1, 1, []float64{1})
	counts := []float64{3, 1, 2, 5}
	background := []float64{1, 1, 1, 1}
	exposure := []float64{2, 0, 1, 4}
	flux := EstimateFlux(counts, background, exposure, 2, k, 1)
	want := []float64{1, 0, 1, 1}
	for i := range want {
		if flux[i] != want[i] {
			t.Errorf("flux[%d] = %g; want %g", i, flux[i], want[i])
		}
	}
}

func TestFluxCorrelationRadius(t *testing.T) {
	k, err := kernel.Gaussian2D(3)
	if err != nil {
		t.Fatal(err)
	}
	r, err := FluxCorrelationRadius(k, DefaultContainment)
	if err != nil {
		t.Fatal(err)
	}
	// 80% containment of a Gaussian lies at 1.794 sigma
	want := 1.794 * 3 / math.Sqrt(DefaultContainment)
	if math.Abs(r-want) > 1 {
		t.Errorf("radius %g; want about %g", r, want)
	}
	if _, err := FluxCorrelationRadius(k, 1.5); err == nil {
		t.Errorf("expected error for containment 1.5")
	}
}
