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
	"bytes"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"golang.org/x/image/tiff"
)

func TestWriteReadRoundTrip(t *testing.T) {
	img := NewImageFromNaxisn([]int32{3, 2}, []float64{1, -2.5, 3e-12, math.NaN(), 0, 7})
	img.Header.Floats["CDELT1"] = 0.02
	img.Header.Floats["RUNTIME"] = 1.25
	img.Header.Ints["NITER"] = 20
	img.Header.Strings["METHOD"] = "root brentq"
	img.Header.Bools["RESID"] = true
	img.Header.History = append(img.Header.History, "tsImage")

	var buf bytes.Buffer
	if err := img.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.Len()%fitsBlockSize != 0 {
		t.Errorf("file length %d is not a multiple of %d", buf.Len(), fitsBlockSize)
	}

	res := NewImage()
	if err := res.Read(&buf, true, io.Discard); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !EqualInt32Slice(res.Naxisn, img.Naxisn) {
		t.Errorf("naxisn %v; want %v", res.Naxisn, img.Naxisn)
	}
	for i, want := range img.Data {
		got := res.Data[i]
		if math.IsNaN(want) {
			if !math.IsNaN(got) {
				t.Errorf("pixel %d = %g; want NaN", i, got)
			}
			continue
		}
		if got != want {
			t.Errorf("pixel %d = %g; want %g", i, got, want)
		}
	}
	if v, ok := res.Header.Number("CDELT1"); !ok || math.Abs(v-0.02) > 1e-12 {
		t.Errorf("CDELT1 = %g, %v; want 0.02", v, ok)
	}
	if v, ok := res.Header.Number("NITER"); !ok || v != 20 {
		t.Errorf("NITER = %g, %v; want 20", v, ok)
	}
	if s := res.Header.Strings["METHOD"]; s != "root brentq" {
		t.Errorf("METHOD = %q; want %q", s, "root brentq")
	}
	if !res.Header.Bools["RESID"] {
		t.Errorf("RESID not read back")
	}
	if len(res.Header.History) != 1 || res.Header.History[0] != "tsImage" {
		t.Errorf("history %q; want [tsImage]", res.Header.History)
	}
}

func TestReadRejectsNonFITS(t *testing.T) {
	data := bytes.Repeat([]byte(" "), fitsBlockSize)
	copy(data, []byte("END"))
	if err := NewImage().Read(bytes.NewReader(data), true, io.Discard); errors.Cause(err) != ErrNotFITS {
		t.Errorf("got %v; want ErrNotFITS for header without SIMPLE", err)
	}
}

// Pads header lines to 80 characters and the header to a full block
func rawHeader(lines ...string) []byte {
	b := strings.Builder{}
	for _, l := range lines {
		b.WriteString(l + strings.Repeat(" ", HeaderLineSize-len(l)))
	}
	b.WriteString("END" + strings.Repeat(" ", HeaderLineSize-3))
	return []byte(b.String() + strings.Repeat(" ", fitsBlockSize-b.Len()))
}

func TestReadHeaderVariants(t *testing.T) {
	data := rawHeader(
		"SIMPLE  =                    T",
		"BITPIX  =                    8",
		"NAXIS   =                    1",
		"NAXIS1  =                    2",
		"BZERO   =                   10",
		"EXPOSURE=               1.5D+3 / Fortran exponent",
		"OBJECT  = 'It''s a long &'",
		"CONTINUE  'value&'",
		"CONTINUE  ' here'",
		"BIGINT  =          99999999999",
	)
	data = append(data, 1, 2)
	img := NewImage()
	if err := img.Read(bytes.NewReader(data), true, io.Discard); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if img.Data[0] != 11 || img.Data[1] != 12 {
		t.Errorf("data %v; want [11 12] after BZERO", img.Data)
	}
	if v, ok := img.Header.Number("EXPOSURE"); !ok || v != 1500 {
		t.Errorf("EXPOSURE = %g, %v; want 1500", v, ok)
	}
	if s := img.Header.Strings["OBJECT"]; s != "It's a long value here" {
		t.Errorf("OBJECT = %q; want %q", s, "It's a long value here")
	}
	if v, ok := img.Header.Number("BIGINT"); !ok || v != 99999999999 {
		t.Errorf("BIGINT = %g, %v; want 99999999999", v, ok)
	}
	if _, ok := img.Header.Number("BZERO"); ok {
		t.Errorf("BZERO left in header")
	}
}

func TestReadRejectsBitpix(t *testing.T) {
	data := rawHeader("SIMPLE  =                    T", "BITPIX  =                   12", "NAXIS   =                    0")
	err := NewImage().Read(bytes.NewReader(data), true, io.Discard)
	if errors.Cause(err) != ErrBitpix {
		t.Errorf("got %v; want ErrBitpix", err)
	}
}

func TestMinMax(t *testing.T) {
	img := NewImageFromNaxisn([]int32{4, 1}, []float64{math.NaN(), 2, -1, math.Inf(1)})
	if min, max := img.MinMax(); min != -1 || max != 2 {
		t.Errorf("MinMax = %g, %g; want -1, 2", min, max)
	}
	empty := NewImageFromNaxisn([]int32{1, 1}, []float64{math.NaN()})
	if min, _ := empty.MinMax(); !math.IsNaN(min) {
		t.Errorf("MinMax of all-NaN image = %g; want NaN", min)
	}
}

func TestDivergingColor(t *testing.T) {
	if c := DivergingColor(0); !c.AlmostEqualRgb(divergingMid) {
		t.Errorf("DivergingColor(0) = %v; want %v", c, divergingMid)
	}
	if c := DivergingColor(5); !c.AlmostEqualRgb(divergingHigh) {
		t.Errorf("DivergingColor(5) = %v; want %v", c, divergingHigh)
	}
	if c := DivergingColor(-1); !c.AlmostEqualRgb(divergingLow) {
		t.Errorf("DivergingColor(-1) = %v; want %v", c, divergingLow)
	}
	if r, g, b := DivergingColor(math.NaN()).RGB255(); r != 0 || g != 0 || b != 0 {
		t.Errorf("DivergingColor(NaN) = %d,%d,%d; want black", r, g, b)
	}
}

func TestWriteMonoTIFF16(t *testing.T) {
	img := NewImageFromNaxisn([]int32{2, 2}, []float64{0, 1, 2, math.NaN()})
	var buf bytes.Buffer
	if err := img.WriteMonoTIFF16(&buf, 0, 2, 1); err != nil {
		t.Fatalf("WriteMonoTIFF16: %v", err)
	}
	dec, err := tiff.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b := dec.Bounds(); b.Dx() != 2 || b.Dy() != 2 {
		t.Errorf("bounds %v; want 2x2", b)
	}
	if r, _, _, _ := dec.At(0, 1).RGBA(); r != 65535 {
		t.Errorf("pixel (0,1) = %d; want 65535", r)
	}
}
