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

package fits

import (
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Write a grayscale FITS image to JPG, using the given min, max and gamma.
func (f *Image) WriteMonoJPGToFile(fileName string, min, max, gamma float64, quality int) error {
	return writeToFile(fileName, func(w io.Writer) error { return f.WriteMonoJPG(w, min, max, gamma, quality) })
}

// Write a grayscale FITS image to JPG, using the given min, max and gamma.
func (f *Image) WriteMonoJPG(writer io.Writer, min, max, gamma float64, quality int) error {
	width := int(f.Naxisn[0])
	img := image.NewGray(image.Rect(0, 0, width, int(f.Naxisn[1])))
	for i, v := range f.Data {
		img.SetGray(i%width, i/width, color.Gray{Y: uint8(normalize(v, min, max, gamma) * 255)})
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// End points of the diverging colour map for signed maps like sqrt_ts
var (
	divergingLow  = colorful.Color{R: 0.230, G: 0.299, B: 0.754}
	divergingMid  = colorful.Color{R: 0.865, G: 0.865, B: 0.865}
	divergingHigh = colorful.Color{R: 0.706, G: 0.016, B: 0.150}
)

// Returns the diverging map colour for t in [-1,1], blended in CIE L*a*b*
func DivergingColor(t float64) colorful.Color {
	if math.IsNaN(t) {
		return colorful.Color{}
	}
	if t < 0 {
		if t < -1 {
			t = -1
		}
		return divergingMid.BlendLab(divergingLow, -t).Clamped()
	}
	if t > 1 {
		t = 1
	}
	return divergingMid.BlendLab(divergingHigh, t).Clamped()
}

// Write a signed FITS image to a colour JPG with a diverging colour map symmetric around zero.
// Values at or beyond +-limit saturate, NaNs are black.
func (f *Image) WriteColorJPGToFile(fileName string, limit float64, quality int) error {
	return writeToFile(fileName, func(w io.Writer) error { return f.WriteColorJPG(w, limit, quality) })
}

// Write a signed FITS image to a colour JPG with a diverging colour map symmetric around zero.
func (f *Image) WriteColorJPG(writer io.Writer, limit float64, quality int) error {
	width := int(f.Naxisn[0])
	img := image.NewRGBA(image.Rect(0, 0, width, int(f.Naxisn[1])))
	for i, v := range f.Data {
		r, g, b := DivergingColor(v / limit).RGB255()
		img.SetRGBA(i%width, i/width, color.RGBA{r, g, b, 255})
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Maps v from [min,max] to [0,1] with the given gamma. NaNs become zeros for export, else output breaks
func normalize(v, min, max, gamma float64) float64 {
	v = (v - min) / (max - min)
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	if gamma != 1.0 {
		v = math.Pow(v, 1/gamma)
	}
	return v
}
