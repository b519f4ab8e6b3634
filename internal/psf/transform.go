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
	"github.com/mlnoga/spimfuse/internal/geom"
	"github.com/mlnoga/spimfuse/internal/vol"
)

// Largest transformed kernel size per axis
const maxTransformedSize = 255

// Resamples a kernel given in local view coordinates into the fused frame, using the linear
// part of the view model. The kernel center stays at the center. The output size is the
// smallest odd size covering the transformed kernel extent
func Transform(k *vol.Volume, model geom.Affine) (*vol.Volume, error) {
	lin := model.Linear()
	inv, err := lin.Invert()
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, err, "view model")
	}

	halfIn := r3.Vector{X: float64(k.Dims[0] / 2), Y: float64(k.Dims[1] / 2), Z: float64(k.Dims[2] / 2)}
	var size [3]int
	ext := geom.EmptyInterval()
	for _, c := range geom.Corners(k.Dims) {
		ext = ext.AddPoint(lin.Apply(c.Sub(halfIn)))
	}
	for d := 0; d < 3; d++ {
		r := math.Max(math.Abs(geom.Component(ext.Min, d)), math.Abs(geom.Component(ext.Max, d)))
		size[d] = 2*int(math.Ceil(r-1e-6)) + 1
		if size[d] > maxTransformedSize {
			return nil, fault.Config("transformed PSF axis %d has size %d, larger than %d", d, size[d], maxTransformedSize)
		}
	}

	out := vol.New(size)
	halfOut := r3.Vector{X: float64(size[0] / 2), Y: float64(size[1] / 2), Z: float64(size[2] / 2)}
	i := 0
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[0]; x++ {
				o := r3.Vector{X: float64(x), Y: float64(y), Z: float64(z)}.Sub(halfOut)
				local := inv.Apply(o).Add(halfIn)
				out.Data[i], _ = k.Sample(local, vol.Linear)
				i++
			}
		}
	}
	return out, nil
}
