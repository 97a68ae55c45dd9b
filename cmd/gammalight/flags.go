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

package main

import (
	"math"
	"strconv"
	"strings"

	"github.com/mlnoga/gammalight/internal/kernel"
	"github.com/mlnoga/gammalight/internal/sim"
	"github.com/pkg/errors"
)

var errFlagSyntax = errors.New("invalid flag syntax")

// Parses a comma-separated list of floats, e.g. 0,0.05,0.1
func parseFloats(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	res := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Wrapf(errFlagSyntax, "'%s' in '%s'", p, s)
		}
		res[i] = v
	}
	return res, nil
}

// Parses multi-Gaussian PSF components given as fwhm:ampl pairs separated by commas,
// e.g. 3:1,8:0.1. The amplitude defaults to one. Components are named psf1, psf2, ...
func parsePSF(s string) (kernel.PSFParameters, error) {
	params := kernel.PSFParameters{}
	for i, p := range strings.Split(s, ",") {
		fields := strings.Split(strings.TrimSpace(p), ":")
		if len(fields) > 2 {
			return nil, errors.Wrapf(errFlagSyntax, "PSF component '%s'", p)
		}
		vals := []float64{0, 1}
		for j, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrapf(errFlagSyntax, "PSF component '%s'", p)
			}
			vals[j] = v
		}
		params["psf"+strconv.Itoa(i+1)] = kernel.PSFComponent{FWHM: vals[0], Amplitude: vals[1]}
	}
	return params, nil
}

// Parses sources given as x:y:flux triples separated by commas, e.g. 50:50:1e-11
func parseSources(s string) ([]sim.Source, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var res []sim.Source
	for _, p := range strings.Split(s, ",") {
		fields := strings.Split(strings.TrimSpace(p), ":")
		if len(fields) != 3 {
			return nil, errors.Wrapf(errFlagSyntax, "source '%s'", p)
		}
		x, errX := strconv.Atoi(fields[0])
		y, errY := strconv.Atoi(fields[1])
		flux, errF := strconv.ParseFloat(fields[2], 64)
		if errX != nil || errY != nil || errF != nil {
			return nil, errors.Wrapf(errFlagSyntax, "source '%s'", p)
		}
		res = append(res, sim.Source{X: x, Y: y, Flux: flux})
	}
	return res, nil
}

// Parses an optional threshold. Empty strings and NaN mean no threshold
func parseThreshold(s string) (*float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.Wrapf(errFlagSyntax, "threshold '%s'", s)
	}
	if math.IsNaN(v) {
		return nil, nil
	}
	return &v, nil
}

// Parses a comma-separated list of names, dropping blanks
func parseNames(s string) []string {
	var res []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}
