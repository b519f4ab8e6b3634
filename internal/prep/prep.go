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

// Package prep resamples the views of a batch into the fused grid, together with
// their blending weights and point spread functions.
package prep

import (
	"context"
	"fmt"

	"github.com/mlnoga/spimfuse/internal/bbox"
	"github.com/mlnoga/spimfuse/internal/blend"
	"github.com/mlnoga/spimfuse/internal/dataset"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/geom"
	"github.com/mlnoga/spimfuse/internal/ops"
	"github.com/mlnoga/spimfuse/internal/psf"
	"github.com/mlnoga/spimfuse/internal/vol"
)

// Resampling options
type Options struct {
	Interpolation vol.Interpolation
	Border        [3]int // blending border per axis, in local pixels
	Range         [3]int // blending ramp length per axis, in local pixels
	Ramp          blend.Ramp
	NoBlending    bool       // weight one everywhere inside the view
	ContentBased  bool       // multiply the weights with the local image content
	ContentSigmas [2]float64 // sigmas of the content filter, for the difference and the variance
}

// A view resampled into the fused grid. Image, weight and kernel are owned by the view
type AlignedView struct {
	ID     dataset.ViewID
	Image  *vol.Volume // intensities, zero outside the view
	Weight *vol.Volume // blending weights in [0,1], zero outside the view
	Kernel *vol.Volume // normalized PSF in the fused frame, nil for plain fusion
}

// Resamples all present views of the batch into the box. Views are processed concurrently
// within the memory budget of the context, and in angle and illumination order in the result.
// Kernels are taken from psfs, which may be nil if no deconvolution follows
func Prepare(ctx context.Context, c *ops.Context, batch *dataset.Batch, box bbox.BoundingBox, psfs *psf.Set, opts Options) ([]*AlignedView, error) {
	views := batch.Present()
	if len(views) == 0 {
		return nil, fault.Data("%s has no views present", batch.Name())
	}
	fusedMiB := box.NumVoxels() * 4 / 1024 / 1024
	rawMiB := int64(0)
	for _, v := range views {
		if m := int64(v.Dims[0]) * int64(v.Dims[1]) * int64(v.Dims[2]) * 4 / 1024 / 1024; m > rawMiB {
			rawMiB = m
		}
	}
	budget, err := ops.Plan(c, len(views), rawMiB, 2*fusedMiB, 0)
	if err != nil {
		return nil, err
	}

	out := make([]*AlignedView, len(views))
	promises := make([]ops.Promise, 0, 2*len(views))
	for i, v := range views {
		av := &AlignedView{ID: v.ID}
		if psfs != nil {
			k, err := psfs.Get(v.ID)
			if err != nil {
				return nil, err
			}
			av.Kernel = k
		}
		out[i] = av
		v := v
		promises = append(promises, func() (*vol.Volume, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			img, weight, err := resample(v, box, opts, c.MaxThreads)
			v.Unload()
			if err != nil {
				return nil, err
			}
			av.Image, av.Weight = img, weight
			fmt.Fprintf(c.Log, "%s %v: resampled %s, %v\n", batch.Name(), v.ID, img.DimensionsToString(), img.Stats())
			return img, nil
		})
	}
	if _, err := ops.MaterializeAll(promises, budget.Threads); err != nil {
		return nil, err
	}
	return out, nil
}

// Resamples the image and the blending weight of one view through the inverse of its model
func resample(v *dataset.View, box bbox.BoundingBox, opts Options, threads int) (img, weight *vol.Volume, err error) {
	raw, err := v.Image()
	if err != nil {
		return nil, nil, err
	}
	inv, err := v.Model().Invert()
	if err != nil {
		return nil, nil, fault.Wrap(fault.KindData, err, "%v: model cannot be inverted", v.ID)
	}
	toLocal := inv.Compose(box.GridTransform())
	field := blend.NewField(raw.Dims, opts.Border, opts.Range, opts.Ramp)
	var content *vol.Volume
	if opts.ContentBased {
		content = blend.ContentWeights(raw, opts.ContentSigmas[0], opts.ContentSigmas[1])
	}

	dims := box.Dims()
	img, weight = vol.New(dims), vol.New(dims)
	forEachPlane(dims[2], threads, func(z int) {
		for y := 0; y < dims[1]; y++ {
			o := img.Index(0, y, z)
			for x := 0; x < dims[0]; x++ {
				p := toLocal.Apply(geom.Vec([3]float64{float64(x), float64(y), float64(z)}))
				val, ok := raw.Sample(p, opts.Interpolation)
				if !ok {
					continue
				}
				img.Data[o+x] = val
				w := float32(1)
				if !opts.NoBlending {
					w = field.At(p)
				}
				if content != nil && w > 0 {
					c, _ := content.Sample(p, vol.Linear)
					w *= c
				}
				weight.Data[o+x] = w
			}
		}
	})
	return img, weight, nil
}

// Calls f for every z-plane, with at most the given number of planes in parallel
func forEachPlane(depth, threads int, f func(z int)) {
	if threads < 1 {
		threads = 1
	}
	sem := make(chan bool, threads)
	for z := 0; z < depth; z++ {
		sem <- true
		go func(z int) {
			defer func() { <-sem }()
			f(z)
		}(z)
	}
	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}
}
