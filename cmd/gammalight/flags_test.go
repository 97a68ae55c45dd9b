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
	"testing"

	"github.com/pkg/errors"
)

func TestParseFloats(t *testing.T) {
	got, err := parseFloats("0, 0.05,0.1")
	if err != nil || len(got) != 3 || got[1] != 0.05 {
		t.Errorf("got %v, %v; want [0 0.05 0.1]", got, err)
	}
	if got, err := parseFloats(""); err != nil || got != nil {
		t.Errorf("got %v, %v; want nil", got, err)
	}
	if _, err := parseFloats("1,x"); errors.Cause(err) != errFlagSyntax {
		t.Errorf("got %v; want errFlagSyntax", err)
	}
}

func TestParsePSF(t *testing.T) {
	psf, err := parsePSF("3,8:0.1")
	if err != nil {
		t.Fatal(err)
	}
	if c := psf["psf1"]; c.FWHM != 3 || c.Amplitude != 1 {
		t.Errorf("psf1 = %+v; want fwhm 3 ampl 1", c)
	}
	if c := psf["psf2"]; c.FWHM != 8 || c.Amplitude != 0.1 {
		t.Errorf("psf2 = %+v; want fwhm 8 ampl 0.1", c)
	}
	for _, bad := range []string{"1:2:3", "a", "3:b"} {
		if _, err := parsePSF(bad); err == nil {
			t.Errorf("parsePSF(%q) succeeded; want error", bad)
		}
	}
}

func TestParseSources(t *testing.T) {
	srcs, err := parseSources("10:20:1e-11, 5:6:2e-12")
	if err != nil || len(srcs) != 2 {
		t.Fatalf("got %v, %v; want two sources", srcs, err)
	}
	if s := srcs[0]; s.X != 10 || s.Y != 20 || s.Flux != 1e-11 {
		t.Errorf("first source %+v; want 10,20,1e-11", s)
	}
	if _, err := parseSources("1:2"); err == nil {
		t.Errorf("expected error for missing flux")
	}
}

func TestParseThreshold(t *testing.T) {
	if th, err := parseThreshold(""); th != nil || err != nil {
		t.Errorf("empty threshold gave %v, %v; want nil", th, err)
	}
	if th, err := parseThreshold("NaN"); th != nil || err != nil {
		t.Errorf("NaN threshold gave %v, %v; want nil", th, err)
	}
	if th, err := parseThreshold("2.5"); err != nil || th == nil || *th != 2.5 {
		t.Errorf("got %v, %v; want 2.5", th, err)
	}
}

func TestParseNames(t *testing.T) {
	got := parseNames("ts, sqrt_ts,,flux")
	if len(got) != 3 || got[1] != "sqrt_ts" {
		t.Errorf("got %v; want [ts sqrt_ts flux]", got)
	}
}
