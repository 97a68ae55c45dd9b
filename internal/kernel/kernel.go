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

// Package kernel provides small odd-sized 2D convolution kernels: Gaussians,
// multi-Gaussian PSF mixtures, projected shells, and their convolutions.
package kernel

import (
	"fmt"
	"math"
	"sort"

	"github.com/mlnoga/gammalight/internal/root"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

var (
	ErrShape      = errors.New("kernel dimensions must be odd and positive")
	ErrZeroSum    = errors.New("kernel sum is zero")
	ErrNoPSF      = errors.New("no PSF components given")
	ErrBadBinSize = errors.New("invalid bin size")
)

// Default oversampling factor for discretizing analytic models
const Oversample = 10

const fwhmToSigma = 1 / 2.3548200450309493 // 1/(2*sqrt(2*ln(2)))

// A 2D kernel with odd dimensions. Data is stored row by row.
type Kernel struct {
	Width  int
	Height int
	Data   []float64
}

// Creates a kernel of the given dimensions. Data is not copied, allocated if nil
func New(width, height int, data []float64) (*Kernel, error) {
	if width <= 0 || height <= 0 || width%2 == 0 || height%2 == 0 {
		return nil, errors.Wrapf(ErrShape, "got %dx%d", width, height)
	}
	if data == nil {
		data = make([]float64, width*height)
	} else if len(data) != width*height {
		return nil, errors.Errorf("kernel data length %d does not match %dx%d", len(data), width, height)
	}
	return &Kernel{Width: width, Height: height, Data: data}, nil
}

// Creates a kernel with dimensions that are known to be odd
func mustNew(width, height int) *Kernel {
	k, err := New(width, height, nil)
	if err != nil {
		panic(err)
	}
	return k
}

// Returns the center pixel coordinate
func (k *Kernel) Center() (x, y int) {
	return k.Width / 2, k.Height / 2
}

func (k *Kernel) At(x, y int) float64 { return k.Data[y*k.Width+x] }

func (k *Kernel) Sum() float64 { return floats.Sum(k.Data) }

// Returns the sum of squared kernel values
func (k *Kernel) SquaredSum() float64 { return floats.Dot(k.Data, k.Data) }

// Scales the kernel to unit sum. Operates in-place
func (k *Kernel) Normalize() error {
	sum := k.Sum()
	if sum == 0 {
		return ErrZeroSum
	}
	floats.Scale(1/sum, k.Data)
	return nil
}

// Returns a copy of the kernel multiplied with the given factor
func (k *Kernel) Scaled(factor float64) *Kernel {
	res := &Kernel{Width: k.Width, Height: k.Height, Data: make([]float64, len(k.Data))}
	floats.ScaleTo(res.Data, factor, k.Data)
	return res
}

// Returns a copy of the kernel zero padded symmetrically to the given dimensions.
// Dimensions smaller than the current ones are kept.
func (k *Kernel) Pad(width, height int) *Kernel {
	if width < k.Width {
		width = k.Width
	}
	if height < k.Height {
		height = k.Height
	}
	res := mustNew(width|1, height|1)
	offX, offY := (res.Width-k.Width)/2, (res.Height-k.Height)/2
	for y := 0; y < k.Height; y++ {
		copy(res.Data[(y+offY)*res.Width+offX:], k.Data[y*k.Width:(y+1)*k.Width])
	}
	return res
}

// Returns the centered sum of two kernels. The result has the larger extent of both
func (k *Kernel) Add(o *Kernel) *Kernel {
	width, height := k.Width, k.Height
	if o.Width > width {
		width = o.Width
	}
	if o.Height > height {
		height = o.Height
	}
	res := k.Pad(width, height)
	floats.Add(res.Data, o.Pad(width, height).Data)
	return res
}

func (k *Kernel) String() string {
	return fmt.Sprintf("%dx%d kernel with sum %.4g", k.Width, k.Height, k.Sum())
}

// Rounds up to the nearest odd integer
func RoundUpToOdd(value float64) int {
	i := int(math.Ceil(value))
	if i%2 == 0 {
		return i + 1
	}
	return i
}

// A 2D model function, evaluated relative to the kernel center
type Model func(x, y float64) float64

// Discretizes the model onto a kernel of given size by averaging over an oversampled grid
func Discretize(model Model, width, height, oversample int) (*Kernel, error) {
	k, err := New(width, height, nil)
	if err != nil {
		return nil, err
	}
	if oversample < 1 {
		oversample = 1
	}
	cx, cy := k.Center()
	step := 1 / float64(oversample)
	norm := step * step
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum := float64(0)
			for sy := 0; sy < oversample; sy++ {
				yy := float64(y-cy) - 0.5 + (float64(sy)+0.5)*step
				for sx := 0; sx < oversample; sx++ {
					xx := float64(x-cx) - 0.5 + (float64(sx)+0.5)*step
					sum += model(xx, yy)
				}
			}
			k.Data[y*width+x] = sum * norm
		}
	}
	return k, nil
}

// Returns a normalized 2D Gaussian model with given standard deviation in pixels
func GaussianModel(sigma float64) Model {
	amplitude := 1 / (2 * math.Pi * sigma * sigma)
	scale := -0.5 / (sigma * sigma)
	return func(x, y float64) float64 {
		return amplitude * math.Exp((x*x+y*y)*scale)
	}
}

// Generates a 2D Gaussian kernel with given standard deviation in pixels.
// The kernel covers eight standard deviations and is not renormalized after truncation.
func Gaussian2D(sigma float64) (*Kernel, error) {
	if !(sigma > 0) {
		return nil, errors.Errorf("gaussian sigma=%g must be positive", sigma)
	}
	size := RoundUpToOdd(8 * sigma)
	return Discretize(GaussianModel(sigma), size, size, Oversample)
}

// Returns a normalized projected shell model with inner radius rIn and given width, in pixels
func ShellModel(rIn, width float64) Model {
	rrIn := rIn * rIn
	rOut := rIn + width
	rrOut := rOut * rOut
	amplitude := 1 / (2 * math.Pi / 3 * (rrOut*rOut - rrIn*rIn))
	return func(x, y float64) float64 {
		rr := x*x + y*y
		switch {
		case rr <= rrIn:
			return amplitude * (math.Sqrt(rrOut-rr) - math.Sqrt(rrIn-rr))
		case rr <= rrOut:
			return amplitude * math.Sqrt(rrOut-rr)
		}
		return 0
	}
}

// Returns the kernel size needed to contain a shell of radius sigma and relative width,
// convolved with a PSF of the given width
func ShellSize(sigma, width float64, psfWidth int) int {
	return RoundUpToOdd(2*sigma*(1+width) + float64(psfWidth)/2)
}

// Generates a projected shell kernel of given size with inner radius rIn and width in pixels
func Shell2D(rIn, width float64, size int) (*Kernel, error) {
	if !(rIn > 0) || width < 0 {
		return nil, errors.Errorf("shell radius=%g width=%g invalid", rIn, width)
	}
	return Discretize(ShellModel(rIn, width), size, size, Oversample)
}

// One Gaussian component of a multi-Gaussian PSF. FWHM is in pixels at the native bin size,
// amplitude is the peak value relative to the other components.
type PSFComponent struct {
	FWHM      float64 `json:"fwhm"`
	Amplitude float64 `json:"ampl"`
}

// Parameters of a multi-Gaussian PSF keyed by component name, e.g. psf1, psf2, psf3.
// Components are summed in key order.
type PSFParameters map[string]PSFComponent

// Generates a normalized multi-Gaussian PSF kernel. binSize is the native pixel size
// the FWHM values refer to, newBinSize the pixel size of the kernel to generate.
func MultiGaussPSF(params PSFParameters, binSize, newBinSize float64) (*Kernel, error) {
	if len(params) == 0 {
		return nil, ErrNoPSF
	}
	if !(binSize > 0) || !(newBinSize > 0) {
		return nil, errors.Wrapf(ErrBadBinSize, "binSize=%g newBinSize=%g", binSize, newBinSize)
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var psf *Kernel
	for _, name := range names {
		c := params[name]
		sigma := fwhmToSigma * c.FWHM * binSize / newBinSize
		g, err := Gaussian2D(sigma)
		if err != nil {
			return nil, errors.Wrapf(err, "PSF component %s", name)
		}
		g = g.Scaled(2 * math.Pi * sigma * sigma * c.Amplitude)
		if psf == nil {
			psf = g
		} else {
			psf = psf.Add(g)
		}
	}
	if err := psf.Normalize(); err != nil {
		return nil, err
	}
	return psf, nil
}

// Convolves two kernels. The result has the larger extent of both, so it contains both kernels.
func Convolve(a, b *Kernel) *Kernel {
	width, height := a.Width, a.Height
	if b.Width > width {
		width = b.Width
	}
	if b.Height > height {
		height = b.Height
	}
	res := mustNew(width, height)
	// offsets of the result window inside the full convolution
	offX := (a.Width + b.Width - 1 - width) / 2
	offY := (a.Height + b.Height - 1 - height) / 2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			fx, fy := x+offX, y+offY
			sum := float64(0)
			for by := 0; by < b.Height; by++ {
				ay := fy - by
				if ay < 0 || ay >= a.Height {
					continue
				}
				for bx := 0; bx < b.Width; bx++ {
					ax := fx - bx
					if ax < 0 || ax >= a.Width {
						continue
					}
					sum += a.Data[ay*a.Width+ax] * b.Data[by*b.Width+bx]
				}
			}
			res.Data[y*width+x] = sum
		}
	}
	return res
}

// Convolves the 2D image given by data and width with the kernel, and stores the result in res.
// Output has the same size as the input, pixels outside the image count as zero.
func ConvolveImage(res, data []float64, width int, k *Kernel) {
	height := len(data) / width
	cx, cy := k.Center()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum := float64(0)
			for ky := 0; ky < k.Height; ky++ {
				yy := y + cy - ky
				if yy < 0 || yy >= height {
					continue
				}
				row := data[yy*width : (yy+1)*width]
				krow := k.Data[ky*k.Width : (ky+1)*k.Width]
				for kx, kv := range krow {
					xx := x + cx - kx
					if xx < 0 || xx >= width {
						continue
					}
					sum += row[xx] * kv
				}
			}
			res[y*width+x] = sum
		}
	}
}

// Returns the fraction of the kernel sum within radius r of the center pixel
func (k *Kernel) ContainmentFraction(r float64) float64 {
	cx, cy := k.Center()
	rr := r * r
	inside := float64(0)
	for y := 0; y < k.Height; y++ {
		dy := float64(y - cy)
		for x := 0; x < k.Width; x++ {
			dx := float64(x - cx)
			if dx*dx+dy*dy < rr {
				inside += k.Data[y*k.Width+x]
			}
		}
	}
	return inside / k.Sum()
}

// Returns the radius around the center pixel which contains the given fraction of the kernel sum
func (k *Kernel) ContainmentRadius(fraction float64) (float64, error) {
	if !(fraction > 0 && fraction < 1) {
		return math.NaN(), errors.Errorf("containment fraction %g outside (0,1)", fraction)
	}
	f := func(r float64) float64 { return k.ContainmentFraction(r) - fraction }
	rMax := float64(k.Width)
	if k.Height > k.Width {
		rMax = float64(k.Height)
	}
	r, _, err := root.Brentq(f, 0, rMax, 1e-6, 1e-6, 200)
	if err != nil {
		return math.NaN(), errors.Wrap(err, "containment radius")
	}
	return r, nil
}
