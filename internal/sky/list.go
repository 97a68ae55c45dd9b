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
	"github.com/pkg/errors"
)

var ErrMissing = errors.New("required image missing")

// Run metadata attached to a list of result maps
type Meta struct {
	Runtime    float64 `json:"runtime"`              // Wall clock seconds, rounded to two decimals
	Method     string  `json:"method,omitempty"`     // Amplitude solver name
	Morphology string  `json:"morphology,omitempty"` // Source morphology of a multiscale run
	Scale      float64 `json:"scale,omitempty"`      // Source scale of a multiscale run, in degrees
}

// An ordered collection of named images sharing one pixel grid
type List struct {
	Meta   Meta
	names  []string
	images map[string]*Image
}

// Creates a list from the given images, keyed by their names
func NewList(images ...*Image) *List {
	l := &List{images: make(map[string]*Image)}
	for _, img := range images {
		l.Set(img)
	}
	return l
}

// Returns the image with the given name, or nil
func (l *List) Get(name string) *Image {
	if l == nil {
		return nil
	}
	return l.images[name]
}

// Adds an image under its name, replacing an existing one in place
func (l *List) Set(img *Image) {
	if l.images == nil {
		l.images = make(map[string]*Image)
	}
	if _, ok := l.images[img.Name]; !ok {
		l.names = append(l.names, img.Name)
	}
	l.images[img.Name] = img
}

// Returns the image names in insertion order
func (l *List) Names() []string {
	return append([]string(nil), l.names...)
}

// Returns the number of images
func (l *List) Len() int {
	return len(l.names)
}

// Returns a shallow copy. Images are shared, the name index is not
func (l *List) Clone() *List {
	res := NewList()
	res.Meta = l.Meta
	for _, n := range l.names {
		res.Set(l.images[n])
	}
	return res
}

// Checks that all named images are present and share the shape of the first one
func (l *List) CheckRequired(names ...string) error {
	var first *Image
	for _, n := range names {
		img := l.Get(n)
		if img == nil {
			return errors.Wrapf(ErrMissing, "%s", n)
		}
		if first == nil {
			first = img
		} else if !first.SameShape(img) {
			return errors.Wrapf(ErrShape, "%s is %dx%d, %s is %dx%d", first.Name, first.Width, first.Height, n, img.Width, img.Height)
		}
	}
	return nil
}
