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

package blend

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Smallest weight inside the transition range
const Floor = 1e-4

// Shape of the transition from the border to the interior
type Ramp int

const (
	Cosine Ramp = iota
	Linear
)

func (r Ramp) String() string {
	switch r {
	case Cosine:
		return "cosine"
	case Linear:
		return "linear"
	}
	return fmt.Sprintf("ramp(%d)", int(r))
}

func ParseRamp(s string) (Ramp, error) {
	switch s {
	case "cosine", "cos", "":
		return Cosine, nil
	case "linear":
		return Linear, nil
	}
	return Cosine, fmt.Errorf("unknown blending ramp '%s'", s)
}

// Per-voxel confidence of one view, in its local pixel coordinates. Zero outside the
// view and inside the border exclusion zone, ramping up to one over the range zone
type Field struct {
	Dims   [3]int
	Border [3]float64
	Range  [3]float64
	Ramp   Ramp
}

func NewField(dims [3]int, border, rng [3]int, ramp Ramp) *Field {
	f := &Field{Dims: dims, Ramp: ramp}
	for d := 0; d < 3; d++ {
		f.Border[d], f.Range[d] = float64(border[d]), float64(rng[d])
	}
	return f
}

// Weight at a continuous local position. The total weight is the product of the per-axis weights
func (f *Field) At(p r3.Vector) float32 {
	w := f.axis(p.X, 0)
	if w == 0 {
		return 0
	}
	w *= f.axis(p.Y, 1)
	if w == 0 {
		return 0
	}
	return float32(w * f.axis(p.Z, 2))
}

// Weight along axis d at local coordinate l
func (f *Field) axis(l float64, d int) float64 {
	maxL := float64(f.Dims[d] - 1)
	if l < -0.5 || l > maxL+0.5 {
		return 0
	}
	dist := math.Min(l, maxL-l) - f.Border[d]
	if dist < 0 {
		return 0
	}
	if dist >= f.Range[d] {
		return 1
	}
	t := dist / f.Range[d]
	if f.Ramp == Cosine {
		t = 0.5 * (1 - math.Cos(math.Pi*t))
	}
	return Floor + (1-Floor)*t
}
