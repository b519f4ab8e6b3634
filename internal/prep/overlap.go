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

package prep

import (
	"fmt"

	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/vol"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// How many views see each voxel
type OverlapStats struct {
	Min float64     // minimal number of views over covered voxels
	Avg float64     // average number of views over covered voxels
	Map *vol.Volume // sum of blending weights per voxel
}

func (o OverlapStats) String() string {
	return fmt.Sprintf("overlap min %.0f avg %.2f", o.Min, o.Avg)
}

// Computes the overlap of the aligned views. Voxels no view covers are ignored for
// the minimum and the average, which are zero if nothing is covered
func Overlap(views []*AlignedView) (OverlapStats, error) {
	if len(views) == 0 {
		return OverlapStats{}, fault.Data("no views to compute overlap")
	}
	if views[0] == nil || views[0].Weight == nil {
		return OverlapStats{}, fault.Data("missing weights of the first view")
	}
	dims := views[0].Weight.Dims
	sum := vol.New(dims)
	counts := make([]float64, len(sum.Data))
	for _, v := range views {
		if v == nil || v.Weight == nil || v.Weight.Dims != dims {
			return OverlapStats{}, fault.Data("%v: missing or mismatched weights", v.ID)
		}
		for i, w := range v.Weight.Data {
			if w > 0 {
				sum.Data[i] += w
				counts[i]++
			}
		}
	}
	covered := counts[:0]
	for _, c := range counts {
		if c > 0 {
			covered = append(covered, c)
		}
	}
	if len(covered) == 0 {
		return OverlapStats{Map: sum}, nil
	}
	return OverlapStats{Min: floats.Min(covered), Avg: stat.Mean(covered, nil), Map: sum}, nil
}

// Weighted average of the views, sum(w*g)/sum(w). Zero where no view contributes
func WeightedAverage(views []*AlignedView) (*vol.Volume, error) {
	if len(views) == 0 {
		return nil, fault.Data("no views to fuse")
	}
	if views[0] == nil || views[0].Image == nil {
		return nil, fault.Data("missing image of the first view")
	}
	dims := views[0].Image.Dims
	num := make([]float64, views[0].Image.Len())
	den := make([]float64, len(num))
	for _, v := range views {
		if v == nil || v.Image == nil || v.Weight == nil {
			return nil, fault.Data("missing image or weight")
		}
		if v.Image.Dims != dims || v.Weight.Dims != dims {
			return nil, fault.Data("%v: image or weight dimensions differ from %v", v.ID, dims)
		}
		for i, w := range v.Weight.Data {
			num[i] += float64(w) * float64(v.Image.Data[i])
			den[i] += float64(w)
		}
	}
	out := vol.New(dims)
	for i := range out.Data {
		if den[i] > 0 {
			out.Data[i] = float32(num[i] / den[i])
		}
	}
	return out, nil
}
