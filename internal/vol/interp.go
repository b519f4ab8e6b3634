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

package vol

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Interpolation mode for resampling
type Interpolation int

const (
	Nearest Interpolation = iota
	Linear
)

func (i Interpolation) String() string {
	switch i {
	case Nearest:
		return "nearest"
	case Linear:
		return "linear"
	}
	return fmt.Sprintf("interpolation(%d)", int(i))
}

func ParseInterpolation(s string) (Interpolation, error) {
	switch s {
	case "nearest", "nn":
		return Nearest, nil
	case "linear", "trilinear", "":
		return Linear, nil
	}
	return Nearest, fmt.Errorf("unknown interpolation '%s'", s)
}

// Returns true if the continuous position lies within the half-voxel extended volume
func (v *Volume) Covers(p r3.Vector) bool {
	return p.X >= -0.5 && p.Y >= -0.5 && p.Z >= -0.5 &&
		p.X <= float64(v.Dims[0])-0.5 && p.Y <= float64(v.Dims[1])-0.5 && p.Z <= float64(v.Dims[2])-0.5
}

// Samples the volume at a continuous position. Returns 0 and false outside of the volume
func (v *Volume) Sample(p r3.Vector, mode Interpolation) (float32, bool) {
	if !v.Covers(p) {
		return 0, false
	}
	if mode == Nearest {
		x := clampInt(int(math.Floor(p.X+0.5)), 0, v.Dims[0]-1)
		y := clampInt(int(math.Floor(p.Y+0.5)), 0, v.Dims[1]-1)
		z := clampInt(int(math.Floor(p.Z+0.5)), 0, v.Dims[2]-1)
		return v.At(x, y, z), true
	}
	return v.trilinear(p), true
}

// Trilinear interpolation with coordinates clamped into the volume
func (v *Volume) trilinear(p r3.Vector) float32 {
	x := clampFloat(p.X, 0, float64(v.Dims[0]-1))
	y := clampFloat(p.Y, 0, float64(v.Dims[1]-1))
	z := clampFloat(p.Z, 0, float64(v.Dims[2]-1))
	x0, y0, z0 := int(x), int(y), int(z)
	x1, y1, z1 := x0+1, y0+1, z0+1
	if x1 >= v.Dims[0] {
		x1 = x0
	}
	if y1 >= v.Dims[1] {
		y1 = y0
	}
	if z1 >= v.Dims[2] {
		z1 = z0
	}
	fx, fy, fz := float32(x-float64(x0)), float32(y-float64(y0)), float32(z-float64(z0))

	c00 := v.At(x0, y0, z0)*(1-fx) + v.At(x1, y0, z0)*fx
	c10 := v.At(x0, y1, z0)*(1-fx) + v.At(x1, y1, z0)*fx
	c01 := v.At(x0, y0, z1)*(1-fx) + v.At(x1, y0, z1)*fx
	c11 := v.At(x0, y1, z1)*(1-fx) + v.At(x1, y1, z1)*fx
	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy
	return c0*(1-fz) + c1*fz
}

func clampFloat(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
