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

package geom

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// A continuous axis-aligned box with real bounds
type Interval struct {
	Min r3.Vector
	Max r3.Vector
}

// An interval which contains nothing. Extending it with a point yields that point
func EmptyInterval() Interval {
	inf := math.Inf(1)
	return Interval{
		Min: r3.Vector{X: inf, Y: inf, Z: inf},
		Max: r3.Vector{X: -inf, Y: -inf, Z: -inf},
	}
}

func (iv Interval) IsEmpty() bool {
	return iv.Min.X > iv.Max.X || iv.Min.Y > iv.Max.Y || iv.Min.Z > iv.Max.Z
}

// Returns the interval extended to contain the given point
func (iv Interval) AddPoint(p r3.Vector) Interval {
	return Interval{
		Min: r3.Vector{X: math.Min(iv.Min.X, p.X), Y: math.Min(iv.Min.Y, p.Y), Z: math.Min(iv.Min.Z, p.Z)},
		Max: r3.Vector{X: math.Max(iv.Max.X, p.X), Y: math.Max(iv.Max.Y, p.Y), Z: math.Max(iv.Max.Z, p.Z)},
	}
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%.2f, %.2f, %.2f] -> [%.2f, %.2f, %.2f]",
		iv.Min.X, iv.Min.Y, iv.Min.Z, iv.Max.X, iv.Max.Y, iv.Max.Z)
}

// The 8 corners of the local voxel range [0, dim-1] per axis
func Corners(dims [3]int) [8]r3.Vector {
	var cs [8]r3.Vector
	for i := 0; i < 8; i++ {
		cs[i] = r3.Vector{
			X: float64((i & 1) * (dims[0] - 1)),
			Y: float64(((i >> 1) & 1) * (dims[1] - 1)),
			Z: float64(((i >> 2) & 1) * (dims[2] - 1)),
		}
	}
	return cs
}

// Axis-aligned bounds of the given local voxel range after transformation
func TransformedBounds(dims [3]int, t Affine) Interval {
	iv := EmptyInterval()
	for _, c := range Corners(dims) {
		iv = iv.AddPoint(t.Apply(c))
	}
	return iv
}

// Returns the component d of a vector
func Component(p r3.Vector, d int) float64 {
	switch d {
	case 0:
		return p.X
	case 1:
		return p.Y
	}
	return p.Z
}

// Returns a vector with the given components
func Vec(c [3]float64) r3.Vector { return r3.Vector{X: c[0], Y: c[1], Z: c[2]} }
