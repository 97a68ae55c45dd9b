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
	"encoding/json"
	"runtime"
	"strconv"

	"github.com/mlnoga/gammalight/internal/cash"
	"github.com/pkg/errors"
)

var (
	ErrUnknownMethod = errors.New("not a valid method")
	ErrDownsample    = errors.New("downsample must be \"auto\" or a positive integer")
	ErrConfig        = errors.New("invalid estimator configuration")
)

// Amplitude fitting strategy
type Method int

const (
	MethodRootBrentq  Method = iota // Bracketed root of the statistic derivative, the default
	MethodRootNewton                // Secant iteration on the derivative from a flux seed. Reports the secant iteration count as niter
	MethodLeastSqIter               // Iteratively reweighted least squares
)

var methodNames = []string{"root brentq", "root newton", "leastsq iter"}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return "Method(" + strconv.Itoa(int(m)) + ")"
	}
	return methodNames[m]
}

// Returns the method with the given name
func ParseMethod(s string) (Method, error) {
	for i, n := range methodNames {
		if n == s {
			return Method(i), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownMethod, "'%s'", s)
}

func (m Method) valid() bool {
	return m >= 0 && int(m) < len(methodNames)
}

func (m Method) MarshalJSON() ([]byte, error) {
	if !m.valid() {
		return nil, errors.Wrapf(ErrUnknownMethod, "%d", int(m))
	}
	return json.Marshal(m.String())
}

func (m *Method) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMethod(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Downsampling policy of the multiscale driver. Zero selects the factor automatically
type Downsample int

const DownsampleAuto Downsample = 0

// Parses "auto" or a positive integer
func ParseDownsample(s string) (Downsample, error) {
	if s == "auto" || s == "" {
		return DownsampleAuto, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < 1 {
		return 0, errors.Wrapf(ErrDownsample, "'%s'", s)
	}
	return Downsample(i), nil
}

func (d Downsample) String() string {
	if d == DownsampleAuto {
		return "auto"
	}
	return strconv.Itoa(int(d))
}

func (d Downsample) MarshalJSON() ([]byte, error) {
	if d == DownsampleAuto {
		return []byte(`"auto"`), nil
	}
	return json.Marshal(int(d))
}

func (d *Downsample) UnmarshalJSON(data []byte) error {
	var i int
	if err := json.Unmarshal(data, &i); err == nil {
		if i < 1 {
			return errors.Wrapf(ErrDownsample, "%d", i)
		}
		*d = Downsample(i)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrapf(ErrDownsample, "%s", string(data))
	}
	parsed, err := ParseDownsample(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Default iteration cap of all solvers
const MaxIter = 20

// Estimator parameters. Fixed when the estimator is created
type Config struct {
	Method     Method     `json:"method"`
	Downsample Downsample `json:"downsample"`
	Parallel   bool       `json:"parallel"`
	MaxThreads int        `json:"maxThreads,omitempty"` // Worker limit for parallel runs, 0 for one per CPU
	Threshold  *float64   `json:"threshold,omitempty"`  // Skip fitting where the seed statistic gap is below this
	MaxIter    int        `json:"maxIter"`
	FluxScale  float64    `json:"fluxScale"`
}

// Returns the default configuration: brentq, automatic downsampling, parallel, no threshold
func DefaultConfig() Config {
	return Config{
		Method:     MethodRootBrentq,
		Downsample: DownsampleAuto,
		Parallel:   true,
		MaxIter:    MaxIter,
		FluxScale:  cash.FluxFactor,
	}
}

// Returns the number of worker goroutines to use
func (c *Config) threads() int {
	if !c.Parallel {
		return 1
	}
	if c.MaxThreads > 0 {
		return c.MaxThreads
	}
	return runtime.NumCPU()
}

func (c *Config) validate() error {
	if !c.Method.valid() {
		return errors.Wrapf(ErrUnknownMethod, "%d", int(c.Method))
	}
	if c.MaxIter < 1 {
		return errors.Wrapf(ErrConfig, "maxIter=%d must be positive", c.MaxIter)
	}
	if !(c.FluxScale > 0) {
		return errors.Wrapf(ErrConfig, "fluxScale=%g must be positive", c.FluxScale)
	}
	if c.Downsample < 0 {
		return errors.Wrapf(ErrDownsample, "%d", int(c.Downsample))
	}
	return nil
}
