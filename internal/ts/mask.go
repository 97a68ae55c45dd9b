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
	"fmt"
	"io"

	"github.com/mlnoga/gammalight/internal/kernel"
)

// A pixel coordinate, x varying fastest
type Position struct {
	X, Y int
}

// Builds the mask of pixels to process, which is exposure > 0. Pixels with exposure
// but zero background are anomalous. Their exposure is set to zero in place, and a
// warning is logged. Returns the mask and the number of anomalous pixels.
func Mask(exposure, background []float64, logWriter io.Writer) (mask []bool, anomalies int) {
	mask = make([]bool, len(exposure))
	for i, e := range exposure {
		if e > 0 && background[i] == 0 {
			exposure[i] = 0
			anomalies++
		}
		mask[i] = exposure[i] > 0
	}
	if anomalies > 0 {
		fmt.Fprintf(logWriter, "Warning: %d pixels have exposure but zero background, which can cause the TS computation to fail. Setting their exposure to zero.\n", anomalies)
	}
	return mask, anomalies
}

// Returns the masked positions in row-major order whose kernel-sized neighbourhood
// lies fully inside the image
func Positions(mask []bool, width, height int, k *kernel.Kernel) []Position {
	xMin, xMax := k.Width/2, width-k.Width/2
	yMin, yMax := k.Height/2, height-k.Height/2
	positions := make([]Position, 0, len(mask))
	for y := yMin; y < yMax; y++ {
		for x := xMin; x < xMax; x++ {
			if mask[y*width+x] {
				positions = append(positions, Position{x, y})
			}
		}
	}
	return positions
}

// Copies the kernel-sized neighbourhood of pos out of a row-major image into dst
func extract(data []float64, width int, k *kernel.Kernel, pos Position, dst []float64) {
	x0, y0 := pos.X-k.Width/2, pos.Y-k.Height/2
	for y := 0; y < k.Height; y++ {
		start := (y0+y)*width + x0
		copy(dst[y*k.Width:(y+1)*k.Width], data[start:start+k.Width])
	}
}
