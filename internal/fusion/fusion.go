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

// Package fusion runs the fusion pipeline for every (timepoint, channel) batch of a dataset:
// bounding box, PSFs, resampling, deconvolution or weighted averaging, and export.
package fusion

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mlnoga/spimfuse/internal/bbox"
	"github.com/mlnoga/spimfuse/internal/config"
	"github.com/mlnoga/spimfuse/internal/conv"
	"github.com/mlnoga/spimfuse/internal/dataset"
	"github.com/mlnoga/spimfuse/internal/decon"
	"github.com/mlnoga/spimfuse/internal/device"
	"github.com/mlnoga/spimfuse/internal/export"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/fft"
	"github.com/mlnoga/spimfuse/internal/ops"
	"github.com/mlnoga/spimfuse/internal/prep"
	"github.com/mlnoga/spimfuse/internal/psf"
	"github.com/mlnoga/spimfuse/internal/vol"
)

// State carried from batch to batch of one run
type carry struct {
	speedup int // OSEM speedup fixed by the first deconvolved batch, zero before
}

// Processes all batches of the dataset sequentially. A failing batch is logged and skipped,
// the returned error joins the errors of all failed batches. The OSEM speedup is computed
// from the overlap of the first deconvolved batch and reused for all later ones
func Run(ctx context.Context, c *ops.Context, ds *dataset.Dataset, cfg config.Config, exp export.Exporter) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c = c.With(cfg.MemoryMB, cfg.MaxThreads)
	box, err := ResolveBox(ds, cfg, c)
	if err != nil {
		return err
	}

	batches := ds.Batches()
	fmt.Fprintf(c.Log, "Processing %d batches into %v\n", len(batches), box)
	var psfs *psf.Set
	psfTimepoint := -1
	var errs error
	state := &carry{}
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return fault.Join(errs, err)
		}
		fmt.Fprintf(c.Log, "\nStarting batch %d of %d, %s with %d views...\n", i+1, len(batches), batch.Name(), len(batch.Present()))
		if cfg.Deconvolves() && batch.Timepoint != psfTimepoint {
			psfs, err = BuildPSFs(ds, batch.Timepoint, cfg, c)
			if err != nil {
				psfs, psfTimepoint = nil, -1
				fmt.Fprintf(c.Log, "Error: %s: %s\n", batch.Name(), err.Error())
				errs = fault.Join(errs, fmt.Errorf("%s: %w", batch.Name(), err))
				continue
			}
			psfTimepoint = batch.Timepoint
		}
		if err := runBatch(ctx, c, batch, box, psfs, cfg, exp, state); err != nil {
			fmt.Fprintf(c.Log, "Error: %s: %s\n", batch.Name(), err.Error())
			errs = fault.Join(errs, fmt.Errorf("%s: %w", batch.Name(), err))
		}
		fft.ClearPools()
		debug.FreeOSMemory()
	}
	return errs
}

// Processes a single batch, building its PSFs if needed
func RunBatch(ctx context.Context, c *ops.Context, ds *dataset.Dataset, batch *dataset.Batch, cfg config.Config, exp export.Exporter) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c = c.With(cfg.MemoryMB, cfg.MaxThreads)
	box, err := ResolveBox(ds, cfg, c)
	if err != nil {
		return err
	}
	var psfs *psf.Set
	if cfg.Deconvolves() {
		if psfs, err = BuildPSFs(ds, batch.Timepoint, cfg, c); err != nil {
			return err
		}
	}
	return runBatch(ctx, c, batch, box, psfs, cfg, exp, &carry{})
}

// Resolves the bounding box over all present views of the dataset, so all batches share
// one grid. A manual box is clamped into the resolved one
func ResolveBox(ds *dataset.Dataset, cfg config.Config, c *ops.Context) (bbox.BoundingBox, error) {
	iv, err := bbox.Resolve(ds.Views, nil)
	if err != nil {
		return bbox.BoundingBox{}, err
	}
	box, err := bbox.New(iv, cfg.Downsampling, cfg.OutputPixelType())
	if err != nil {
		return box, err
	}
	if m := cfg.BoundingBox; m != nil {
		req := bbox.BoundingBox{Min: m.Min, Max: m.Max, Downsampling: cfg.Downsampling, PixelType: box.PixelType}
		if box, err = bbox.Manual(req, box); err != nil {
			return box, err
		}
	}
	fmt.Fprintf(c.Log, "Bounding box %v, %d MiB as floating point\n", box, box.NumVoxels()*4/1024/1024)
	return box, nil
}

// Builds the PSFs of all channels of a timepoint
func BuildPSFs(ds *dataset.Dataset, timepoint int, cfg config.Config, c *ops.Context) (*psf.Set, error) {
	sources, err := cfg.PSFSources()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	set, err := psf.Build(ds, timepoint, sources, cfg.PSFOptions(), c.Log)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "TP%d: built %d PSFs in %v\n", timepoint, set.Len(), time.Since(start).Round(time.Millisecond))
	return set, nil
}

func runBatch(ctx context.Context, c *ops.Context, batch *dataset.Batch, box bbox.BoundingBox, psfs *psf.Set, cfg config.Config, exp export.Exporter, state *carry) error {
	start := time.Now()
	defer func() {
		for _, v := range batch.Views {
			v.Unload()
		}
	}()
	prepOpts, err := cfg.PrepOptions()
	if err != nil {
		return err
	}
	views, err := prep.Prepare(ctx, c, batch, box, psfs, prepOpts)
	if err != nil {
		return err
	}

	if cfg.IndependentViews {
		return exportIndependent(c, batch, box, views, exp, start)
	}

	var fused *vol.Volume
	if !cfg.Deconvolve {
		if fused, err = prep.WeightedAverage(views); err != nil {
			return err
		}
	} else if fused, err = deconvolve(ctx, c, batch, box, views, cfg, exp, state); err != nil {
		return err
	}

	res := &export.Result{Name: batch.Name(), Volume: fused, Box: box, PixelType: box.PixelType}
	if err := exp.Export(res); err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "%s: done after %v\n", batch.Name(), time.Since(start).Round(time.Millisecond))
	return nil
}

// Exports every resampled view of the batch on its own, named by its view
func exportIndependent(c *ops.Context, batch *dataset.Batch, box bbox.BoundingBox, views []*prep.AlignedView, exp export.Exporter, start time.Time) error {
	for _, av := range views {
		id := av.ID
		name := fmt.Sprintf("TP%d_Ch%d_Ang%d_Ill%d", id.Timepoint, id.Channel, id.Angle, id.Illumination)
		if err := exp.Export(&export.Result{Name: name, Volume: av.Image, Box: box, PixelType: box.PixelType}); err != nil {
			return err
		}
	}
	fmt.Fprintf(c.Log, "%s: exported %d independent views after %v\n", batch.Name(), len(views), time.Since(start).Round(time.Millisecond))
	return nil
}

func deconvolve(ctx context.Context, c *ops.Context, batch *dataset.Batch, box bbox.BoundingBox, views []*prep.AlignedView, cfg config.Config, exp export.Exporter, state *carry) (*vol.Volume, error) {
	opts, err := cfg.SolverOptions()
	if err != nil {
		return nil, err
	}
	if _, overlapOnly := opts.Mode.(decon.OverlapOnly); !overlapOnly {
		if state.speedup == 0 {
			stats, err := prep.Overlap(views)
			if err != nil {
				return nil, err
			}
			state.speedup = decon.Speedup(opts.OSEM, stats, len(views))
			fmt.Fprintf(c.Log, "%s: OSEM %v with %v gives speedup %d for all batches\n", batch.Name(), opts.OSEM, stats, state.speedup)
		}
		opts.OSEM = decon.Fixed{N: state.speedup}
	}
	if opts.DebugInterval > 0 {
		opts.Observer = func(it int, psi *vol.Volume) {
			name := fmt.Sprintf("%s_it%04d", batch.Name(), it)
			if err := exp.Export(&export.Result{Name: name, Volume: psi, Box: box, PixelType: bbox.Float32}); err != nil {
				fmt.Fprintf(c.Log, "Warning: %s: %s\n", name, err.Error())
			}
		}
	}
	pad, err := cfg.ConvPadding()
	if err != nil {
		return nil, err
	}
	devs, err := device.ParseList(cfg.DeviceList)
	if err != nil {
		return nil, err
	}
	if devs, err = device.Select(devs, cfg.RequireGPU, c.Log); err != nil {
		return nil, err
	}
	for _, d := range devs {
		fmt.Fprintf(c.Log, "%s: using %v\n", batch.Name(), d)
	}
	solver := &decon.Solver{
		Convolver: conv.NewConvolver(devs, cfg.BlockSize.Dims, pad, c.MaxThreads),
		Options:   opts,
		Log:       c.Log,
	}
	psi, err := solver.Run(ctx, batch.Name(), views)
	if err == nil || !fault.IsResource(err) || cfg.RequireGPU || !usesGPU(devs) {
		return psi, err
	}
	fmt.Fprintf(c.Log, "Warning: %s: %s, falling back to the CPU\n", batch.Name(), err.Error())
	solver.Convolver = conv.NewConvolver([]device.Device{device.HostCPU()}, cfg.BlockSize.Dims, pad, c.MaxThreads)
	return solver.Run(ctx, batch.Name(), views)
}

func usesGPU(devs []device.Device) bool {
	for _, d := range devs {
		if d.Kind == device.GPU {
			return true
		}
	}
	return false
}
