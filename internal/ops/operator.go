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

// Package ops chains loading, simulation, TS estimation and saving into
// operator sequences that can be described in JSON.
package ops

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/cpuid"
	"github.com/mlnoga/gammalight/internal/sky"
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
)

var (
	ErrInputs          = errors.New("wrong number of inputs")
	ErrPathNotAllowed  = errors.New("path outside current directory tree")
	ErrUnknownOperator = errors.New("unknown operator type")
)

// An execution context for operators
type Context struct {
	Log           io.Writer
	MemoryMB      int    // memory.TotalMemory()/1024/1024
	TSMemoryMB    int    // MemoryMB*7/10, the budget for multiscale results held at once
	MaxThreads    int    `json:"maxThreads"`
	CPU           string // CPU brand name and core counts
	RestrictPaths bool   // Only allow relative file names within the current directory tree
}

func NewContext(log io.Writer) *Context {
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	return &Context{
		Log:        log,
		MemoryMB:   memoryMB,
		TSMemoryMB: memoryMB * 7 / 10,
		MaxThreads: runtime.GOMAXPROCS(0),
		CPU:        CPUInfo(),
	}
}

// Returns a one-line description of the CPU
func CPUInfo() string {
	avx2 := ""
	if cpuid.CPU.AVX2() {
		avx2 = ", AVX2"
	}
	return fmt.Sprintf("%s with %d physical and %d logical cores%s",
		strings.TrimSpace(cpuid.CPU.BrandName), cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, avx2)
}

// Checks a file name against the context's path restrictions
func (c *Context) checkPath(p string) error {
	if c.RestrictPaths && !isPathAllowed(p) {
		return errors.Wrapf(ErrPathNotAllowed, "'%s'", p)
	}
	return nil
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func isPathAllowed(p string) bool {
	if filepath.IsAbs(p) {
		return false
	}
	return !strings.Contains(p, "..")
}

// A promise for a list of sky images. Returns the materialized list, or an error
type Promise func() (l *sky.List, err error)

// Wraps a promise so that it is materialized at most once, however often it is called
func memoize(p Promise) Promise {
	var once sync.Once
	var l *sky.List
	var err error
	return func() (*sky.List, error) {
		once.Do(func() { l, err = p() })
		return l, err
	}
}

// Materializes all promises with given concurrency limit. Errors are combined
func MaterializeAll(ins []Promise, maxThreads int) (outs []*sky.List, err error) {
	if len(ins) == 0 {
		return nil, nil
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	outs = make([]*sky.List, len(ins))
	errs := make([]error, len(ins))
	limiter := make(chan bool, maxThreads)
	for i, in := range ins {
		limiter <- true
		go func(i int, theIn Promise) {
			defer func() { <-limiter }()
			outs[i], errs[i] = theIn() // materialize the promise
		}(i, in)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	for _, e := range errs {
		if e == nil {
			continue
		}
		if err == nil {
			err = e
		} else {
			err = errors.Errorf("%s; %s", err.Error(), e.Error())
		}
	}
	if err != nil {
		return nil, err
	}
	return outs, nil
}

// An image processing operator: takes n promises as inputs,
// and produces m promises as output or an error
type Operator interface {
	GetType() string
	IsActive() bool
	MakePromises(ins []Promise, c *Context) (outs []Promise, err error)
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool  { return op.Active }

// Factory method for operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from operator type strings to factory method for the type
var operatorFactories = map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of Operator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	t := f().GetType()
	if GetOperatorFactory(t) != nil {
		panic(fmt.Sprintf("error: re-registering operator key %s\n", t))
	}
	operatorFactories[t] = f
}

// Returns the registered operator types in sorted order
func OperatorTypes() []string {
	types := make([]string, 0, len(operatorFactories))
	for t := range operatorFactories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// A unary operator: given n promises as inputs,
// applies itself to each of them individually and returns n output promises or an error
type OperatorUnary interface {
	Operator
	Apply(l *sky.List, c *Context) (lOut *sky.List, err error)
}

// Abstract base type for unary operators. Uses golang workaround for abstract classes
// from https://golangbyexample.com/go-abstract-class/
type OpUnaryBase struct {
	OpBase
	Apply func(l *sky.List, c *Context) (lOut *sky.List, err error) `json:"-"`
}

func (op *OpUnaryBase) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) == 0 {
		return nil, errors.Wrapf(ErrInputs, "%s operator with %d inputs", op.Type, len(ins))
	}
	if !op.Active {
		return ins, nil
	}
	outs = make([]Promise, len(ins))
	for i, in := range ins {
		outs[i] = op.MakePromise(in, c)
	}
	return outs, nil
}

func (op *OpUnaryBase) MakePromise(in Promise, c *Context) (out Promise) {
	return func() (l *sky.List, err error) {
		if l, err = in(); err != nil { // materialize input promise
			return nil, err
		}
		return observe(op.Type, func() (*sky.List, error) { return op.Apply(l, c) })
	}
}

// Applies a sequence of operators to a promise. Number of inputs, outputs as per the chained steps
type OpSequence struct {
	OpBase
	Steps    []Operator        `json:"-"`     // the actual steps
	StepsRaw []json.RawMessage `json:"steps"` // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault() }) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase: OpBase{Type: "seq", Active: len(steps) > 0},
		Steps:  steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON.
// Uses temporary op.StepsRaw inspired by https://alexkappa.medium.com/json-polymorphism-in-go-4cade1e58ed1
func (op *OpSequence) UnmarshalJSON(b []byte) error {
	type alias OpSequence
	if err := json.Unmarshal(b, (*alias)(op)); err != nil {
		return err
	}

	for _, raw := range op.StepsRaw {
		var step OpBase
		if err := json.Unmarshal(raw, &step); err != nil {
			return err
		}
		factory := GetOperatorFactory(step.Type)
		if factory == nil {
			return errors.Wrapf(ErrUnknownOperator, "'%s' in raw JSON message '%s'", step.Type, string(raw))
		}
		i := factory()
		if err := json.Unmarshal(raw, i); err != nil {
			return errors.Wrapf(err, "decoding %s operator", step.Type)
		}
		op.Steps = append(op.Steps, i)
	}
	op.StepsRaw = nil
	return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	op.Steps = append(op.Steps, steps...)
	op.Active = len(op.Steps) > 0
}

// Marshals a sequence with polymorphic operators to JSON.
// Uses the actual op.Steps with label "steps", and ignores op.StepsRaw
func (op *OpSequence) MarshalJSON() (bs []byte, err error) {
	buf := bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner, err := json.Marshal(op.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	fmt.Fprintf(&buf, ", \"active\":%v, \"steps\":", op.Active)
	steps := op.Steps
	if steps == nil {
		steps = []Operator{}
	}
	inner, err = json.Marshal(steps)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	buf.WriteRune('}')
	return buf.Bytes(), nil
}

func (op *OpSequence) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	return op.applyRecursive(op.Steps, ins, c)
}

func (op *OpSequence) applyRecursive(steps []Operator, ins []Promise, c *Context) (outs []Promise, err error) {
	if len(steps) == 0 {
		return ins, nil
	}
	if steps[0].IsActive() {
		if ins, err = steps[0].MakePromises(ins, c); err != nil {
			return nil, err
		}
	}
	return op.applyRecursive(steps[1:], ins, c)
}

// Builds and materializes the promises of an operator with no inputs. Promises are
// materialized one at a time, as each estimator run already uses all threads
func Run(op Operator, c *Context) ([]*sky.List, error) {
	promises, err := op.MakePromises(nil, c)
	if err != nil {
		return nil, err
	}
	return MaterializeAll(promises, 1)
}
