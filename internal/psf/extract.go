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

package psf

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/vol"
	"gonum.org/v1/gonum/optimize"
)

// Largest sub-pixel shift accepted when registering a bead onto the mean, in voxels
const maxShift = 1.0

// Extracts a PSF from the beads at the given local points. Each bead is sampled into an
// equally sized patch centered on its point, optionally registered onto the mean of all
// patches with sub-pixel shifts, and the patches are averaged. The minimum of the average
// is subtracted as background. Returns the kernel and the number of beads used
func Extract(img *vol.Volume, points []r3.Vector, size [3]int, refine bool) (*vol.Volume, int, error) {
	size = OddSize(size)
	half := r3.Vector{X: float64(size[0] / 2), Y: float64(size[1] / 2), Z: float64(size[2] / 2)}

	// keep beads whose patch including the maximal shift lies inside the image
	var beads []r3.Vector
	for _, p := range points {
		lo, hi := p.Sub(half), p.Add(half)
		if lo.X < maxShift || lo.Y < maxShift || lo.Z < maxShift ||
			hi.X > float64(img.Dims[0]-1)-maxShift || hi.Y > float64(img.Dims[1]-1)-maxShift || hi.Z > float64(img.Dims[2]-1)-maxShift {
			continue
		}
		beads = append(beads, p)
	}
	if len(beads) == 0 {
		return nil, 0, fault.Data("none of %d beads lies far enough inside the image for a %dx%dx%d PSF",
			len(points), size[0], size[1], size[2])
	}

	patches := make([]*vol.Volume, len(beads))
	for i, p := range beads {
		patches[i] = samplePatch(img, p, size)
	}
	mean := average(patches)

	if refine && len(beads) > 1 {
		for i, p := range beads {
			s := registerShift(img, p, size, mean)
			patches[i] = samplePatch(img, p.Add(s), size)
		}
		mean = average(patches)
	}

	bg := mean.Stats().Min
	for i := range mean.Data {
		mean.Data[i] -= bg
	}
	return mean, len(beads), nil
}

// Samples a patch of the given size centered at p with trilinear interpolation
func samplePatch(img *vol.Volume, p r3.Vector, size [3]int) *vol.Volume {
	out := vol.New(size)
	half := r3.Vector{X: float64(size[0] / 2), Y: float64(size[1] / 2), Z: float64(size[2] / 2)}
	origin := p.Sub(half)
	i := 0
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[0]; x++ {
				q := r3.Vector{X: origin.X + float64(x), Y: origin.Y + float64(y), Z: origin.Z + float64(z)}
				out.Data[i], _ = img.Sample(q, vol.Linear)
				i++
			}
		}
	}
	return out
}

func average(patches []*vol.Volume) *vol.Volume {
	out := vol.New(patches[0].Dims)
	for _, p := range patches {
		for i, d := range p.Data {
			out.Data[i] += d
		}
	}
	scale := 1 / float32(len(patches))
	for i := range out.Data {
		out.Data[i] *= scale
	}
	return out
}

// Finds the sub-pixel shift of the bead at p which minimizes the squared difference to the
// reference patch. Both patches are compared after normalizing to unit sum
func registerShift(img *vol.Volume, p r3.Vector, size [3]int, ref *vol.Volume) r3.Vector {
	refSum := ref.Stats().Sum
	if refSum <= 0 {
		return r3.Vector{}
	}
	cost := func(x []float64) float64 {
		if math.Abs(x[0]) > maxShift || math.Abs(x[1]) > maxShift || math.Abs(x[2]) > maxShift {
			return math.Inf(1)
		}
		patch := samplePatch(img, p.Add(r3.Vector{X: x[0], Y: x[1], Z: x[2]}), size)
		sum := patch.Stats().Sum
		if sum <= 0 {
			return math.Inf(1)
		}
		ssd := 0.0
		for i, d := range patch.Data {
			diff := float64(d)/sum - float64(ref.Data[i])/refSum
			ssd += diff * diff
		}
		return ssd
	}

	x0 := []float64{0, 0, 0}
	problem := optimize.Problem{Func: cost}
	settings := &optimize.Settings{FuncEvaluations: 200}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{SimplexSize: 0.25})
	if err != nil || result == nil || !(result.F < cost(x0)) {
		return r3.Vector{}
	}
	return r3.Vector{X: result.X[0], Y: result.X[1], Z: result.X[2]}
}
