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
	"math"
	"strings"

	"github.com/mlnoga/gammalight/internal/fits"
	"github.com/mlnoga/gammalight/internal/kernel"
	"github.com/mlnoga/gammalight/internal/sim"
	"github.com/mlnoga/gammalight/internal/sky"
	"github.com/pkg/errors"
)

var ErrSuffix = errors.New("unknown file suffix")

// Loads a list of named images from FITS files. Takes zero inputs, produces one output
type OpLoad struct {
	OpBase
	Files map[string]string `json:"files"` // Image name to file name, e.g. counts: counts.fits
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadDefault() }) } // register the operator for JSON decoding

func NewOpLoadDefault() *OpLoad { return NewOpLoad(nil) }

func NewOpLoad(files map[string]string) *OpLoad {
	return &OpLoad{
		OpBase: OpBase{Type: "load", Active: true},
		Files:  files,
	}
}

func (op *OpLoad) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) > 0 {
		return nil, errors.Wrapf(ErrInputs, "%s operator with non-zero input", op.Type)
	}
	if len(op.Files) == 0 {
		return nil, errors.Errorf("%s operator with no files to load", op.Type)
	}
	for _, fileName := range op.Files {
		if err := c.checkPath(fileName); err != nil {
			return nil, err
		}
	}
	out := func() (*sky.List, error) {
		return observe(op.Type, func() (*sky.List, error) { return sky.LoadList(op.Files, c.Log) })
	}
	return []Promise{out}, nil
}

// Synthesizes counts, background and exposure maps with Poisson noise.
// Takes zero inputs, produces one output
type OpSimulate struct {
	OpBase
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	BinSize    float64              `json:"binSize"`    // Degrees per pixel
	Background float64              `json:"background"` // Expected background counts per pixel
	Exposure   float64              `json:"exposure"`
	PSF        kernel.PSFParameters `json:"psf"` // Defaults to DefaultPSF if empty
	Sources    []sim.Source         `json:"sources"`
	Seed       uint32               `json:"seed"` // Random seed, 0 for a random one
	KeepNPred  bool                 `json:"keepNPred"`
}

// Single Gaussian PSF used for simulations without PSF parameters
var DefaultPSF = kernel.PSFParameters{"psf1": {FWHM: 5, Amplitude: 1}}

func init() { SetOperatorFactory(func() Operator { return NewOpSimulateDefault() }) } // register the operator for JSON decoding

func NewOpSimulateDefault() *OpSimulate {
	return &OpSimulate{
		OpBase:     OpBase{Type: "simulate", Active: true},
		Width:      100,
		Height:     100,
		BinSize:    0.02,
		Background: 1,
		Exposure:   1e12,
		Seed:       1,
	}
}

func (op *OpSimulate) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) > 0 {
		return nil, errors.Wrapf(ErrInputs, "%s operator with non-zero input", op.Type)
	}
	out := func() (*sky.List, error) {
		return observe(op.Type, func() (*sky.List, error) { return op.Apply(c) })
	}
	return []Promise{out}, nil
}

func (op *OpSimulate) Apply(c *Context) (*sky.List, error) {
	if op.Width <= 0 || op.Height <= 0 {
		return nil, errors.Wrapf(sky.ErrShape, "%s operator with %dx%d pixels", op.Type, op.Width, op.Height)
	}
	psf := op.PSF
	if len(psf) == 0 {
		psf = DefaultPSF
	}
	k, err := kernel.MultiGaussPSF(psf, op.BinSize, op.BinSize)
	if err != nil {
		return nil, errors.Wrapf(err, "%s operator", op.Type)
	}
	bkg := sky.NewFilled("background", op.Width, op.Height, op.BinSize, op.Background)
	expo := sky.NewFilled("exposure", op.Width, op.Height, op.BinSize, op.Exposure)
	npred, err := sim.NPred(bkg, expo, k, op.Sources)
	if err != nil {
		return nil, err
	}
	counts := sim.Counts(npred, op.Seed)
	fmt.Fprintf(c.Log, "Simulated %s with %d sources and %.0f total counts\n", counts, len(op.Sources), counts.NanSum())

	l := sky.NewList(counts, bkg, expo)
	if op.KeepNPred {
		l.Set(npred)
	}
	return l, nil
}

// Saves all images of the given list. The file pattern must contain %s, which is
// replaced with the image name. The suffix selects FITS, JPEG or 16-bit TIFF output.
// Takes n inputs, produces the n unchanged inputs
type OpSave struct {
	OpUnaryBase
	FilePattern string  `json:"filePattern"`
	Limit       float64 `json:"limit"` // Colour scale limit for signed map previews, 0 for automatic
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault() }) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("") }

func NewOpSave(filePattern string) *OpSave {
	op := OpSave{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "save", Active: filePattern != ""}},
		FilePattern: filePattern,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Signed maps get a diverging colour preview
var signedMaps = map[string]bool{"ts": true, "sqrt_ts": true, "flux": true}

func (op *OpSave) Apply(l *sky.List, c *Context) (result *sky.List, err error) {
	if !op.Active || op.FilePattern == "" {
		return l, nil
	}
	if err := c.checkPath(op.FilePattern); err != nil {
		return nil, err
	}
	fnLower := strings.ToLower(op.FilePattern)

	switch {
	case strings.HasSuffix(fnLower, ".fits") || strings.HasSuffix(fnLower, ".fit") || strings.HasSuffix(fnLower, ".fts"):
		err = l.Save(op.FilePattern, c.Log)
	case strings.HasSuffix(fnLower, ".jpeg") || strings.HasSuffix(fnLower, ".jpg"):
		err = op.savePreviews(l, c, func(f *fits.Image, name, fileName string) error {
			min, max := f.MinMax()
			if !signedMaps[name] {
				return f.WriteMonoJPGToFile(fileName, min, max, 1, 95)
			}
			limit := op.Limit
			if limit <= 0 {
				limit = math.Max(math.Abs(min), math.Abs(max))
			}
			return f.WriteColorJPGToFile(fileName, limit, 95)
		})
	case strings.HasSuffix(fnLower, ".tiff") || strings.HasSuffix(fnLower, ".tif"):
		err = op.savePreviews(l, c, func(f *fits.Image, name, fileName string) error {
			min, max := f.MinMax()
			return f.WriteMonoTIFF16ToFile(fileName, min, max, 1)
		})
	default:
		err = errors.Wrapf(ErrSuffix, "'%s'", op.FilePattern)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s operator", op.Type)
	}
	return l, nil
}

func (op *OpSave) savePreviews(l *sky.List, c *Context, write func(f *fits.Image, name, fileName string) error) error {
	if !strings.Contains(op.FilePattern, "%s") {
		return errors.Wrapf(sky.ErrPattern, "'%s'", op.FilePattern)
	}
	for _, name := range l.Names() {
		fileName := fmt.Sprintf(op.FilePattern, name)
		f := sky.ToFITS(l.Get(name), l.Meta)
		fmt.Fprintf(c.Log, "Writing %s pixel preview of %s to %s\n", f.DimensionsToString(), name, fileName)
		if err := write(f, name, fileName); err != nil {
			return errors.Wrapf(err, "writing %s", fileName)
		}
	}
	return nil
}
