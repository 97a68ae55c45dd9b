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
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	nl "github.com/mlnoga/gammalight/internal"
	"github.com/mlnoga/gammalight/internal/ops"
	"github.com/mlnoga/gammalight/internal/rest"
	"github.com/mlnoga/gammalight/internal/ts"
	"github.com/pkg/errors"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out = flag.String("out", "ts_%s.fits", "save output maps to FITS files with given pattern, %s is replaced by the map name")
var jpg = flag.String("jpg", "%auto", "save 8bit previews of output maps as JPEG with given pattern. `%auto` replaces suffix of output pattern with .jpg")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` derives it from the output pattern")

var counts = flag.String("counts", "counts.fits", "load counts map from `file`")
var background = flag.String("background", "background.fits", "load background map from `file`")
var exposure = flag.String("exposure", "exposure.fits", "load exposure map from `file`")
var model = flag.String("model", "", "load model map from `file`, required for -residual")

var psf = flag.String("psf", "5", "multi-Gaussian PSF as comma-separated fwhm:ampl pairs, FWHM in pixels")
var method = flag.String("method", "root brentq", "amplitude solver, one of 'root brentq', 'root newton', 'leastsq iter'")
var threshold = flag.String("threshold", "", "skip fitting where the TS of the flux seed is below this, blank for none")
var downsample = flag.String("downsample", "auto", "downsampling factor for multiscale runs, or auto")
var serial = flag.Bool("serial", false, "compute the TS image in a single thread")
var threads = flag.Int("threads", runtime.GOMAXPROCS(0), "number of threads for parallel TS computation")
var tsMemory = flag.Int("tsMemory", 0, "MiB available for multiscale results held at once, 0 for 70% of physical memory")
var maxIter = flag.Int("maxIter", ts.MaxIter, "maximum iterations of the amplitude solver")
var outputs = flag.String("outputs", "all", "comma-separated outputs, from "+strings.Join(ts.OutputNames, ", "))

var scale = flag.Float64("scale", 0, "source scale in degrees for tsimage, 0 for a point source")
var scales = flag.String("scales", "0,0.05,0.1,0.2", "comma-separated source scales in degrees for multiscale")
var morph = flag.String("morph", "Gaussian2D", "source morphology, one of Gaussian2D, Shell2D")
var shellWidth = flag.Float64("shellWidth", 0.2, "shell width relative to its radius")
var residual = flag.Bool("residual", false, "compute residual TS images, adding the model map to the background")

var width = flag.Int("width", 100, "width of simulated maps in pixels")
var height = flag.Int("height", 100, "height of simulated maps in pixels")
var binSize = flag.Float64("binSize", 0.02, "pixel size of simulated maps in degrees")
var bkgRate = flag.Float64("bkgRate", 1, "expected background counts per pixel of simulated maps")
var expo = flag.Float64("expo", 1e12, "exposure of simulated maps")
var sources = flag.String("sources", "", "simulated point sources as comma-separated x:y:flux triples")
var seed = flag.Uint("seed", 1, "random seed for simulation")

var addr = flag.String("addr", ":8080", "listen address for serve")
var chroot = flag.String("chroot", "", "change filesystem root to `dir` before serving (requires root)")
var setuid = flag.Int("setuid", -1, "change user id to given value before serving, -1 to keep")

func main() {
	logWriter := nl.Log
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Gammalight Copyright (c) 2023 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (tsimage|multiscale|simulate|run|serve|legal|version) [job.json]

Commands:
  tsimage    Compute TS, significance, flux and error maps for one source scale
  multiscale Compute TS maps for several source scales and combine them into the maximum
  simulate   Simulate counts, background and exposure maps with Poisson noise
  run        Run the operator sequence from the given JSON job file
  serve      Serve the REST API
  legal      Show license and attribution information
  version    Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	// Initialize logging to file in addition to stdout, if selected
	if *log == "%auto" {
		*log = ""
		if args[0] == "tsimage" || args[0] == "multiscale" {
			*log = autoName(*out, ".log")
		}
	}
	if *log != "" {
		if err := nl.LogAlsoToFile(*log); err != nil {
			nl.LogFatalf("Unable to open logfile '%s': %s\n", *log, err)
		}
	}
	defer nl.LogClose()

	// Also auto-select JPEG output pattern
	if *jpg == "%auto" {
		*jpg = autoName(*out, ".jpg")
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatalf("Could not create CPU profile: %s\n", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatalf("Could not start CPU profile: %s\n", err)
		}
		defer pprof.StopCPUProfile()
	}

	var err error
	switch args[0] {
	case "tsimage", "multiscale", "simulate", "run":
		var seq *ops.OpSequence
		if seq, err = sequenceFor(args); err == nil {
			err = runSequence(seq)
		}

	case "serve":
		if err = rest.MakeSandbox(*chroot, *setuid, logWriter); err == nil {
			fmt.Fprintf(logWriter, "Serving on %s with %d threads\n", *addr, *threads)
			err = rest.Serve(*addr, *threads)
		}

	case "legal":
		fmt.Fprint(logWriter, legal)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)
		fmt.Fprintf(logWriter, "Running on %s\n", ops.CPUInfo())

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	fmt.Fprintf(logWriter, "\nDone after %v\n", time.Since(start))

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			nl.LogFatalf("Could not create memory profile: %s\n", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			nl.LogFatalf("Could not write allocation profile: %s\n", err)
		}
	}

	if err != nil {
		nl.LogFatalf("Error: %s\n", err.Error())
	}
}

// Replaces the suffix of a file name pattern, e.g. ts_%s.fits to ts_%s.jpg
func autoName(pattern, suffix string) string {
	if pattern == "" {
		return ""
	}
	name := strings.TrimSuffix(pattern, filepath.Ext(pattern)) + suffix
	if suffix == ".log" {
		name = strings.ReplaceAll(name, "_%s", "")
		name = strings.ReplaceAll(name, "%s", "")
		if filepath.Base(name) == suffix {
			name = filepath.Join(filepath.Dir(name), "gammalight"+suffix)
		}
	}
	return name
}

// Builds the operator sequence for a command from the flags
func sequenceFor(args []string) (*ops.OpSequence, error) {
	if args[0] == "run" {
		if len(args) != 2 {
			return nil, errors.New("run needs exactly one job file")
		}
		bs, err := os.ReadFile(args[1])
		if err != nil {
			return nil, err
		}
		seq := ops.NewOpSequenceDefault()
		if err := json.Unmarshal(bs, seq); err != nil {
			return nil, errors.Wrapf(err, "decoding job file %s", args[1])
		}
		return seq, nil
	}

	psfParams, err := parsePSF(*psf)
	if err != nil {
		return nil, err
	}
	if args[0] == "simulate" {
		srcs, err := parseSources(*sources)
		if err != nil {
			return nil, err
		}
		opSim := ops.NewOpSimulateDefault()
		opSim.Width, opSim.Height, opSim.BinSize = *width, *height, *binSize
		opSim.Background, opSim.Exposure = *bkgRate, *expo
		opSim.PSF, opSim.Sources, opSim.Seed = psfParams, srcs, uint32(*seed)
		return ops.NewOpSequence(opSim, ops.NewOpSave(*out)), nil
	}

	cfg, err := estimatorConfig()
	if err != nil {
		return nil, err
	}
	morphology, err := ts.ParseMorphology(*morph)
	if err != nil {
		return nil, err
	}
	files := map[string]string{"counts": *counts, "background": *background, "exposure": *exposure}
	if *model != "" {
		files["model"] = *model
	}
	seq := ops.NewOpSequence(ops.NewOpLoad(files))

	if args[0] == "tsimage" {
		opTS := ops.NewOpTSImageDefault()
		opTS.PSF, opTS.Scale, opTS.Morphology, opTS.ShellWidth = psfParams, *scale, morphology, *shellWidth
		opTS.Estimator, opTS.Outputs = cfg, parseNames(*outputs)
		seq.Append(opTS)
	} else {
		scaleList, err := parseFloats(*scales)
		if err != nil {
			return nil, err
		}
		opMS := ops.NewOpMultiscaleDefault()
		opMS.Scales, opMS.Morphology, opMS.ShellWidth = scaleList, morphology, *shellWidth
		opMS.Residual, opMS.PSF, opMS.Estimator = *residual, psfParams, cfg
		seq.Append(opMS, ops.NewOpMaxTSDefault())
	}
	seq.Append(ops.NewOpTSStatsDefault(), ops.NewOpSave(*out), ops.NewOpSave(*jpg))
	return seq, nil
}

// Returns the estimator configuration from the flags
func estimatorConfig() (ts.Config, error) {
	cfg := ts.DefaultConfig()
	m, err := ts.ParseMethod(*method)
	if err != nil {
		return cfg, err
	}
	d, err := ts.ParseDownsample(*downsample)
	if err != nil {
		return cfg, err
	}
	th, err := parseThreshold(*threshold)
	if err != nil {
		return cfg, err
	}
	cfg.Method, cfg.Downsample, cfg.Threshold = m, d, th
	cfg.Parallel, cfg.MaxThreads, cfg.MaxIter = !*serial, *threads, *maxIter
	return cfg, nil
}

// Logs and runs an operator sequence
func runSequence(seq *ops.OpSequence) error {
	m, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(nl.Log, "Running these steps:\n%s\n", string(m))

	c := ops.NewContext(nl.Log)
	c.MaxThreads = *threads
	if *tsMemory > 0 {
		c.TSMemoryMB = *tsMemory
	}
	fmt.Fprintf(nl.Log, "Running on %s with %d MB memory, %d MB for multiscale results\n", c.CPU, c.MemoryMB, c.TSMemoryMB)
	_, err = ops.Run(seq, c)
	return err
}
