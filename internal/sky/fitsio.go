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
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/mlnoga/gammalight/internal/fits"
	"github.com/pkg/errors"
)

var ErrPattern = errors.New("file pattern must contain %s")

// Converts a FITS image into a named sky map. Accepts two axes, or three with a single plane
func FromFITS(name string, f *fits.Image) (*Image, error) {
	n := f.Naxisn
	if len(n) < 2 || (len(n) == 3 && n[2] != 1) || len(n) > 3 {
		return nil, errors.Wrapf(ErrShape, "%s: need a 2D image, have %s", name, f.DimensionsToString())
	}
	img, err := NewFromData(name, int(n[0]), int(n[1]), 0, f.Data)
	if err != nil {
		return nil, err
	}
	if v, ok := f.Header.Number("CDELT1"); ok {
		img.BinSize = math.Abs(v)
	} else if v, ok := f.Header.Number("BINSZ"); ok {
		img.BinSize = v
	}
	return img, nil
}

// Converts a sky map into a FITS image, recording pixel size and run metadata in the header
func ToFITS(img *Image, meta Meta) *fits.Image {
	f := fits.NewImageFromNaxisn([]int32{int32(img.Width), int32(img.Height)}, img.Data)
	f.FileName = img.Name
	f.Header.Strings["EXTNAME"] = strings.ToUpper(img.Name)
	if img.BinSize > 0 {
		f.Header.Floats["CDELT1"] = -img.BinSize
		f.Header.Floats["CDELT2"] = img.BinSize
		f.Header.Floats["BINSZ"] = img.BinSize
	}
	if meta.Method != "" {
		f.Header.Strings["METHOD"] = meta.Method
		f.Header.Floats["RUNTIME"] = meta.Runtime
	}
	if meta.Morphology != "" {
		f.Header.Strings["MORPH"] = meta.Morphology
		f.Header.Floats["SCALE"] = meta.Scale
	}
	return f
}

// Reads run metadata back from a FITS header
func metaFromFITS(f *fits.Image) Meta {
	m := Meta{Method: f.Header.Strings["METHOD"], Morphology: f.Header.Strings["MORPH"]}
	m.Runtime, _ = f.Header.Number("RUNTIME")
	m.Scale, _ = f.Header.Number("SCALE")
	return m
}

// Loads a list of images from FITS files, keyed by image name. Images are added in name order
func LoadList(files map[string]string, logWriter io.Writer) (*List, error) {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	l := NewList()
	for id, n := range names {
		f, err := fits.NewImageFromFile(files[n], id, logWriter)
		if err != nil {
			return nil, errors.Wrapf(err, "loading %s", n)
		}
		img, err := FromFITS(n, f)
		if err != nil {
			return nil, err
		}
		if l.Meta.Method == "" {
			l.Meta = metaFromFITS(f)
		}
		fmt.Fprintf(logWriter, "%d: Loaded %s from %s\n", id, img, files[n])
		l.Set(img)
	}
	return l, nil
}

// Saves every image into a FITS file named by substituting the image name for %s in pattern
func (l *List) Save(pattern string, logWriter io.Writer) error {
	if !strings.Contains(pattern, "%s") {
		return errors.Wrapf(ErrPattern, "%q", pattern)
	}
	for _, n := range l.names {
		fileName := fmt.Sprintf(pattern, n)
		if err := ToFITS(l.images[n], l.Meta).WriteFile(fileName); err != nil {
			return errors.Wrapf(err, "saving %s", n)
		}
		fmt.Fprintf(logWriter, "Wrote %s to %s\n", n, fileName)
	}
	return nil
}
