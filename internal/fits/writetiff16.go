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
	"io"

	"golang.org/x/image/tiff"
)

// Write a grayscale FITS image to 16-bit TIFF, using the given min, max and gamma.
func (f *Image) WriteMonoTIFF16ToFile(fileName string, min, max, gamma float64) error {
	return writeToFile(fileName, func(w io.Writer) error { return f.WriteMonoTIFF16(w, min, max, gamma) })
}

// Write a grayscale FITS image to 16-bit TIFF, using the given min, max and gamma.
func (f *Image) WriteMonoTIFF16(writer io.Writer, min, max, gamma float64) error {
	width := int(f.Naxisn[0])
	img := image.NewGray16(image.Rect(0, 0, width, int(f.Naxisn[1])))
	for i, v := range f.Data {
		img.SetGray16(i%width, i/width, color.Gray16{Y: uint16(normalize(v, min, max, gamma) * 65535)})
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}
