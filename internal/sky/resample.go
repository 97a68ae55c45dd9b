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

package sky

import (
	"math"

	"github.com/pkg/errors"
)

// Pixels added on each side of an image
type Padding struct {
	Left, Right, Bottom, Top int
}

// Returns true if no pixels are added
func (p Padding) IsZero() bool {
	return p == Padding{}
}

// Returns the padding needed to grow size to the next multiple of factor, split
// between both sides with the smaller half first
func PadWidth(size, factor int) (lo, hi int) {
	if factor <= 1 {
		return 0, 0
	}
	diff := (size+factor-1)/factor*factor - size
	lo = diff / 2
	return lo, diff - lo
}

// Returns the padding that makes both dimensions divisible by factor
func (img *Image) PadToMultiple(factor int) Padding {
	var p Padding
	p.Left, p.Right = PadWidth(img.Width, factor)
	p.Bottom, p.Top = PadWidth(img.Height, factor)
	return p
}

// Returns a new image grown by the given padding, new pixels set to fill
func (img *Image) Pad(p Padding, fill float64) *Image {
	w, h := img.Width+p.Left+p.Right, img.Height+p.Bottom+p.Top
	res := NewFilled(img.Name, w, h, img.BinSize, fill)
	for y := 0; y < img.Height; y++ {
		copy(res.Data[(y+p.Bottom)*w+p.Left:], img.Data[y*img.Width:(y+1)*img.Width])
	}
	return res
}

// Returns a new image with the given padding removed. Inverse of Pad
func (img *Image) Crop(p Padding) *Image {
	w, h := img.Width-p.Left-p.Right, img.Height-p.Bottom-p.Top
	if w <= 0 || h <= 0 {
		return New(img.Name, 0, 0, img.BinSize)
	}
	res := New(img.Name, w, h, img.BinSize)
	for y := 0; y < h; y++ {
		start := (y+p.Bottom)*img.Width + p.Left
		copy(res.Data[y*w:(y+1)*w], img.Data[start:start+w])
	}
	return res
}

// Combines the values of one block into one value
type Reduce func(block []float64) float64

// Sums up all non-NaN values. Preserves counts
func NanSum(block []float64) float64 {
	sum := 0.0
	for _, v := range block {
		if !math.IsNaN(v) {
			sum += v
		}
	}
	return sum
}

// Averages all non-NaN values, NaN if there are none. Preserves intensities like exposure
func Mean(block []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range block {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Returns a new image where each factor x factor block is reduced to one pixel.
// Both dimensions must be divisible by factor
func (img *Image) Downsample(factor int, reduce Reduce) (*Image, error) {
	if factor < 1 || img.Width%factor != 0 || img.Height%factor != 0 {
		return nil, errors.Wrapf(ErrFactor, "%s: cannot downsample %dx%d by %d", img.Name, img.Width, img.Height, factor)
	}
	if factor == 1 {
		return img.Copy(), nil
	}
	w, h := img.Width/factor, img.Height/factor
	res := New(img.Name, w, h, img.BinSize*float64(factor))
	block := make([]float64, factor*factor)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for yoff := 0; yoff < factor; yoff++ {
				row := (y*factor + yoff) * img.Width
				copy(block[yoff*factor:(yoff+1)*factor], img.Data[row+x*factor:row+(x+1)*factor])
			}
			res.Data[y*w+x] = reduce(block)
		}
	}
	return res, nil
}

// Returns a new image enlarged by factor in both dimensions. Order 0 picks the
// nearest input pixel, order 1 interpolates bilinearly. The first and last output
// pixels of each axis coincide with the first and last input pixels
func (img *Image) Upsample(factor, order int) (*Image, error) {
	if factor < 1 || (order != 0 && order != 1) {
		return nil, errors.Wrapf(ErrFactor, "%s: cannot upsample by %d with order %d", img.Name, factor, order)
	}
	if factor == 1 {
		return img.Copy(), nil
	}
	w, h := img.Width*factor, img.Height*factor
	res := New(img.Name, w, h, img.BinSize/float64(factor))
	xs := cornerAligned(img.Width, w)
	ys := cornerAligned(img.Height, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if order == 0 {
				res.Data[y*w+x] = img.At(int(math.Round(xs[x])), int(math.Round(ys[y])))
			} else {
				res.Data[y*w+x] = img.bilinear(xs[x], ys[y])
			}
		}
	}
	return res, nil
}

// Returns the input coordinates of n output pixels for an axis of given size
func cornerAligned(size, n int) []float64 {
	coords := make([]float64, n)
	if n <= 1 || size <= 1 {
		return coords
	}
	step := float64(size-1) / float64(n-1)
	for i := range coords {
		coords[i] = math.Min(float64(i)*step, float64(size-1))
	}
	return coords
}

// Interpolates bilinearly at fractional coordinates inside the image
func (img *Image) bilinear(x, y float64) float64 {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 >= img.Width {
		x1 = x0
	}
	if y1 >= img.Height {
		y1 = y0
	}
	fx, fy := x-float64(x0), y-float64(y0)

	v00, v10 := img.At(x0, y0), img.At(x1, y0)
	v01, v11 := img.At(x0, y1), img.At(x1, y1)
	return lerp(lerp(v00, v10, fx), lerp(v01, v11, fx), fy)
}

// Linear interpolation which keeps exact values at the end points
func lerp(a, b, t float64) float64 {
	if t == 0 {
		return a
	}
	if t == 1 {
		return b
	}
	return a*(1-t) + b*t
}
