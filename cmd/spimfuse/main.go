// Copyright (C) 2020 Markus L. Noga
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
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"strings"
	"time"

	nl "github.com/mlnoga/spimfuse/internal"
	"github.com/mlnoga/spimfuse/internal/config"
	"github.com/mlnoga/spimfuse/internal/dataset"
	"github.com/mlnoga/spimfuse/internal/device"
	"github.com/mlnoga/spimfuse/internal/export"
	"github.com/mlnoga/spimfuse/internal/fusion"
	"github.com/mlnoga/spimfuse/internal/ops"
	"github.com/mlnoga/spimfuse/internal/rest"
	"github.com/mlnoga/spimfuse/internal/vol"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var manifest = flag.String("manifest", "dataset.yaml", "read views, registrations and beads from `file`")
var cfgFile = flag.String("config", "", "read fusion settings from YAML `file`, blank for defaults")
var out = flag.String("out", "out", "write fused volumes into `directory`")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` logs to spimfuse.log in the output directory")

var decon = flag.Bool("decon", true, "deconvolve. false fuses by weighted average only")
var mode = flag.String("mode", "", "override iteration mode: opt2, opt1, bayesian, independent or overlapOnly")
var iterations = flag.Int("iterations", 0, "override number of iterations, 0 keeps the configured value")
var devices = flag.String("devices", "", "override comma-separated device list, e.g. `cpu,gpu:0`")
var memMB = flag.Int("memory", 0, "override MiB of work memory, 0 keeps the configured value")
var tp = flag.Int("tp", 0, "timepoint for the psf command")

var tiff = flag.Bool("tiff", false, "also write 16-bit TIFF planes of each result")
var jpg = flag.Bool("jpg", true, "also write a maximum intensity projection JPEG preview of each result")

var addr = flag.String("addr", ":8080", "listen on `address` for the serve command")
var chroot = flag.String("chroot", "", "change filesystem root to `directory` before serving")
var setuid = flag.Int("setuid", -1, "change user id before serving, -1 keeps the current user")

func main() {
	logWriter := nl.LogWriter()
	debug.SetGCPercent(10)
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `spimfuse Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (fuse|overlap|views|bbox|psf|config|devices|serve|legal|version)

Commands:
  fuse    Fuse and deconvolve all timepoints and channels of the dataset
  overlap Write the per-voxel sum of blending weights instead of fusing
  views   Write every resampled view on its own instead of fusing
  bbox    Show the bounding box of the fused volume
  psf     Build the point spread functions of one timepoint and write them
  config  Write the effective configuration to config.yaml in the output directory
  devices List available compute devices
  serve   Serve the REST API
  legal   Show license and attribution information
  version Show version information

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
		if *out != "" && (args[0] == "fuse" || args[0] == "overlap" || args[0] == "views" || args[0] == "psf") {
			if err := os.MkdirAll(*out, 0755); err != nil {
				nl.LogFatalf("Unable to create output directory '%s': %s\n", *out, err.Error())
			}
			*log = filepath.Join(*out, "spimfuse.log")
		}
	}
	if *log != "" {
		if err := nl.LogAlsoToFile(*log); err != nil {
			nl.LogFatalf("Unable to open logfile '%s'\n", *log)
		}
	}
	defer nl.LogSync()

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatalf("Could not create CPU profile: %s\n", err.Error())
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatalf("Could not start CPU profile: %s\n", err.Error())
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch args[0] {
	case "fuse":
		err = cmdFuse(ctx, logWriter, nil)

	case "overlap":
		err = cmdFuse(ctx, logWriter, func(cfg *config.Config) {
			cfg.Deconvolve, cfg.IterationMode = true, "overlapOnly"
		})

	case "views":
		err = cmdFuse(ctx, logWriter, func(cfg *config.Config) {
			cfg.Deconvolve, cfg.IndependentViews = false, true
		})

	case "bbox":
		err = cmdBoundingBox(logWriter)

	case "psf":
		err = cmdPSF(logWriter)

	case "config":
		err = cmdConfig(logWriter)

	case "devices":
		err = cmdDevices(logWriter)

	case "serve":
		if err = rest.MakeSandbox(*chroot, *setuid, logWriter); err == nil {
			err = rest.Serve(*addr)
		}

	case "legal":
		fmt.Fprint(logWriter, legal)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

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
			nl.LogFatalf("Could not create memory profile: %s\n", err.Error())
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			nl.LogFatalf("Could not write allocation profile: %s\n", err.Error())
		}
	}

	if err != nil {
		nl.LogFatalf("Error: %s\n", err.Error())
	}
}

// Loads the configuration file and applies the command line overrides
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*cfgFile)
	if err != nil {
		return cfg, err
	}
	if !*decon {
		cfg.Deconvolve = false
	}
	if *mode != "" {
		cfg.IterationMode = *mode
	}
	if *iterations > 0 {
		cfg.NumIterations = *iterations
	}
	if *devices != "" {
		cfg.DeviceList = strings.Split(*devices, ",")
	}
	if *memMB > 0 {
		cfg.MemoryMB = *memMB
	}
	return cfg, cfg.Validate()
}

// Fuses all batches, with the configuration optionally adjusted for the command
func cmdFuse(ctx context.Context, logWriter io.Writer, adjust func(*config.Config)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if adjust != nil {
		adjust(&cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	ds, err := dataset.LoadManifest(*manifest)
	if err != nil {
		return err
	}
	exp := export.Multi{&export.RawExporter{Dir: *out}}
	if *tiff {
		exp = append(exp, &export.TIFFExporter{Dir: *out})
	}
	if *jpg {
		exp = append(exp, &export.PreviewExporter{Dir: *out, Ramp: vol.HeatRamp})
	}
	exp = append(exp, &export.LogExporter{Log: logWriter})
	return fusion.Run(ctx, ops.NewContext(logWriter), ds, cfg, exp)
}

func cmdBoundingBox(logWriter io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ds, err := dataset.LoadManifest(*manifest)
	if err != nil {
		return err
	}
	_, err = fusion.ResolveBox(ds, cfg, ops.NewContext(logWriter))
	return err
}

// Builds the PSFs of one timepoint in the fused frame and writes them to psf_TP<t>_Ch<c>_Ang<a>_Ill<i>.spv
func cmdPSF(logWriter io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ds, err := dataset.LoadManifest(*manifest)
	if err != nil {
		return err
	}
	set, err := fusion.BuildPSFs(ds, *tp, cfg, ops.NewContext(logWriter))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*out, 0755); err != nil {
		return err
	}
	for _, ch := range ds.Channels() {
		for _, v := range ds.ViewsOf(*tp, ch) {
			k, err := set.Get(v.ID)
			if err != nil {
				continue // view not present
			}
			id := v.ID
			fileName := filepath.Join(*out, fmt.Sprintf("psf_TP%d_Ch%d_Ang%d_Ill%d.spv", id.Timepoint, id.Channel, id.Angle, id.Illumination))
			if err := k.WriteFile(fileName); err != nil {
				return err
			}
			fmt.Fprintf(logWriter, "%v: wrote %s PSF to %s\n", id, k.DimensionsToString(), fileName)
		}
	}
	return nil
}

func cmdConfig(logWriter io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fileName := filepath.Join(*out, "config.yaml")
	if err := cfg.Save(fileName); err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "Wrote configuration to %s\n", fileName)
	return nil
}

func cmdDevices(logWriter io.Writer) error {
	devs, err := device.Available()
	for _, d := range devs {
		fmt.Fprintf(logWriter, "%-6s %v\n", d.ID(), d)
	}
	if err != nil {
		fmt.Fprintf(logWriter, "Warning: %s\n", err.Error())
	}
	return nil
}
