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

package root

import (
	"math"
	"testing"

	"github.com/pkg/errors"
)

func TestBrentq(t *testing.T) {
	tcs := []struct {
		Name string
		F    Func
		A, B float64
		Want float64
	}{
		{"linear", func(x float64) float64 { return 2*x - 1 }, 0, 3, 0.5},
		{"cubic", func(x float64) float64 { return x*x*x - 2*x - 5 }, 2, 3, 2.0945514815423265},
		{"cos", math.Cos, 0, 2, math.Pi / 2},
		{"exp", func(x float64) float64 { return math.Exp(x) - 10 }, -5, 5, math.Log(10)},
	}
	for _, tc := range tcs {
		x, iter, err := Brentq(tc.F, tc.A, tc.B, DefaultXTol, 1e-10, 100)
		if err != nil {
			t.Errorf("%s: err=%v; want nil", tc.Name, err)
			continue
		}
		if math.Abs(x-tc.Want) > 1e-8 {
			t.Errorf("%s: x=%.12f; want %.12f", tc.Name, x, tc.Want)
		}
		if iter <= 0 || iter > 100 {
			t.Errorf("%s: iterations=%d; want in (0,100]", tc.Name, iter)
		}
	}
}

func TestBrentqEndpointRoot(t *testing.T) {
	x, iter, err := Brentq(func(x float64) float64 { return x - 1 }, 1, 4, DefaultXTol, 1e-3, 20)
	if err != nil || x != 1 || iter != 0 {
		t.Errorf("x=%f iter=%d err=%v; want 1 0 nil", x, iter, err)
	}
}

func TestBrentqSignError(t *testing.T) {
	_, _, err := Brentq(func(x float64) float64 { return x*x + 1 }, -1, 1, DefaultXTol, 1e-3, 20)
	if errors.Cause(err) != ErrSign {
		t.Errorf("err=%v; want %v", err, ErrSign)
	}
}

func TestBrentqConvergenceError(t *testing.T) {
	_, iter, err := Brentq(math.Sin, 3, 4, DefaultXTol, 1e-15, 2)
	if errors.Cause(err) != ErrConvergence {
		t.Errorf("err=%v; want %v", err, ErrConvergence)
	}
	if iter != 2 {
		t.Errorf("iterations=%d; want 2", iter)
	}
}

func TestBrentqTolerance(t *testing.T) {
	if _, _, err := Brentq(math.Sin, 3, 4, 0, 1e-3, 20); errors.Cause(err) != ErrTolerance {
		t.Errorf("err=%v; want %v", err, ErrTolerance)
	}
	if _, _, err := Brentq(math.Sin, 3, 4, DefaultXTol, 1e-17, 20); errors.Cause(err) != ErrTolerance {
		t.Errorf("err=%v; want %v", err, ErrTolerance)
	}
}

func TestSecant(t *testing.T) {
	x, _, err := Secant(func(x float64) float64 { return x*x - 2 }, 1, 1e-10, 50)
	if err != nil {
		t.Fatalf("err=%v; want nil", err)
	}
	if math.Abs(x-math.Sqrt2) > 1e-9 {
		t.Errorf("x=%.12f; want %.12f", x, math.Sqrt2)
	}

	x, _, err = Secant(func(x float64) float64 { return x + 3 }, -1, 1e-10, 50)
	if err != nil || math.Abs(x+3) > 1e-9 {
		t.Errorf("x=%f err=%v; want -3 nil", x, err)
	}
}

func TestSecantFlat(t *testing.T) {
	x, iter, err := Secant(func(x float64) float64 { return 7 }, 2, 1e-2, 20)
	if err != nil || iter != 1 {
		t.Errorf("iter=%d err=%v; want 1 nil", iter, err)
	}
	if want := (2 + 2*(1+1e-4) + 1e-4) / 2; math.Abs(x-want) > 1e-12 {
		t.Errorf("x=%f; want %f", x, want)
	}
}

func TestSecantNoConvergence(t *testing.T) {
	x, iter, err := Secant(func(x float64) float64 { return x*x + 1 }, 0.5, 1e-12, 20)
	if errors.Cause(err) != ErrConvergence {
		t.Errorf("err=%v; want %v", err, ErrConvergence)
	}
	if !math.IsNaN(x) || iter != 20 {
		t.Errorf("x=%f iter=%d; want NaN 20", x, iter)
	}
}
