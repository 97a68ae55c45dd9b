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

// Package sky holds named 2D sky maps on a common pixel grid, and the
// resampling operations the multiscale estimator needs.
package sky

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

var (
	ErrShape  = errors.New("image shapes differ")
	ErrFactor = errors.New("invalid resampling factor")
)

// A 2D map in row-major order, x varying fastest
type Image struct {
	Name    string
	Width   int
	Height  int
	BinSize float64 // pixel size in degrees, 0 if unknown
	Data    []float64
}

// Creates a zero-filled image
func New(name string, width, height int, binSize float64) *Image {
	return &Image{Name: name, Width: width, Height: height, BinSize: binSize, Data: make([]float64, width*height)}
}

// Creates an image with every pixel set to the given value
func NewFilled(name string, width, height int, binSize, value float64) *Image {
	img := New(name, width, height, binSize)
	for i := range img.Data {
		img.Data[i] = value
	}
	return img
}

// Creates an image from existing data, which is not copied
func NewFromData(name string, width, height int, binSize float64, data []float64) (*Image, error) {
	if width <= 0 || height <= 0 || len(data) != width*height {
		return nil, errors.Wrapf(ErrShape, "%s: %d values for %dx%d", name, len(data), width, height)
	}
	return &Image{Name: name, Width: width, Height: height, BinSize: binSize, Data: data}, nil
}

// Returns a deep copy
func (img *Image) Copy() *Image {
	res := *img
	res.Data = append([]float64(nil), img.Data...)
	return &res
}

// Returns a new image with the same geometry, filled with the given value
func (img *Image) EmptyLike(name string, value float64) *Image {
	return NewFilled(name, img.Width, img.Height, img.BinSize, value)
}

// Returns true if both images have the same width and height
func (img *Image) SameShape(o *Image) bool {
	return img.Width == o.Width && img.Height == o.Height
}

// Returns the value at the given coordinates
func (img *Image) At(x, y int) float64 {
	return img.Data[y*img.Width+x]
}

// Sets the value at the given coordinates
func (img *Image) Set(x, y int, v float64) {
	img.Data[y*img.Width+x] = v
}

// Returns the sum of all non-NaN pixels
func (img *Image) NanSum() float64 {
	sum := 0.0
	for _, v := range img.Data {
		if !math.IsNaN(v) {
			sum += v
		}
	}
	return sum
}

func (img *Image) String() string {
	return fmt.Sprintf("%s %dx%d binsz=%g", img.Name, img.Width, img.Height, img.BinSize)
}
