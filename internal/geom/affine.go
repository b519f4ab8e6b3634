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
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// A 3D affine coordinate transformation, stored as the upper 3x4 rows of a
// homogeneous matrix in row-major order:
//
//	x' = M[0]*x + M[1]*y + M[2]*z + M[3]
//	y' = M[4]*x + M[5]*y + M[6]*z + M[7]
//	z' = M[8]*x + M[9]*y + M[10]*z + M[11]
type Affine struct {
	M [12]float64
}

func Identity() Affine {
	return Affine{M: [12]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0}}
}

func Translation(t r3.Vector) Affine {
	return Affine{M: [12]float64{1, 0, 0, t.X, 0, 1, 0, t.Y, 0, 0, 1, t.Z}}
}

func Scaling(s r3.Vector) Affine {
	return Affine{M: [12]float64{s.X, 0, 0, 0, 0, s.Y, 0, 0, 0, 0, s.Z, 0}}
}

// Creates an affine transform from 12 row-major values
func FromRows(rows []float64) (Affine, error) {
	if len(rows) != 12 {
		return Affine{}, fmt.Errorf("affine transform needs 12 values, got %d", len(rows))
	}
	var a Affine
	copy(a.M[:], rows)
	return a, nil
}

func (a Affine) String() string {
	m := a.M
	return fmt.Sprintf("x'=%.5gx %+.5gy %+.5gz %+.4g, y'=%.5gx %+.5gy %+.5gz %+.4g, z'=%.5gx %+.5gy %+.5gz %+.4g",
		m[0], m[1], m[2], m[3], m[4], m[5], m[6], m[7], m[8], m[9], m[10], m[11])
}

// Apply the transformation to the given point
func (a Affine) Apply(p r3.Vector) r3.Vector {
	m := &a.M
	return r3.Vector{
		X: m[0]*p.X + m[1]*p.Y + m[2]*p.Z + m[3],
		Y: m[4]*p.X + m[5]*p.Y + m[6]*p.Z + m[7],
		Z: m[8]*p.X + m[9]*p.Y + m[10]*p.Z + m[11],
	}
}

// Apply only the linear part of the transformation, i.e. without translation
func (a Affine) ApplyLinear(p r3.Vector) r3.Vector {
	m := &a.M
	return r3.Vector{
		X: m[0]*p.X + m[1]*p.Y + m[2]*p.Z,
		Y: m[4]*p.X + m[5]*p.Y + m[6]*p.Z,
		Z: m[8]*p.X + m[9]*p.Y + m[10]*p.Z,
	}
}

// Returns the linear part of the transformation, with translation removed
func (a Affine) Linear() Affine {
	l := a
	l.M[3], l.M[7], l.M[11] = 0, 0, 0
	return l
}

// Returns the composition a∘b, which applies b first and then a
func (a Affine) Compose(b Affine) Affine {
	am, bm := a.dense(), b.dense()
	var c mat.Dense
	c.Mul(am, bm)
	return fromDense(&c)
}

// Invert the transformation. Returns an error if it is singular
func (a Affine) Invert() (Affine, error) {
	m := &a.M
	det := m[0]*(m[5]*m[10]-m[6]*m[9]) - m[1]*(m[4]*m[10]-m[6]*m[8]) + m[2]*(m[4]*m[9]-m[5]*m[8])
	if math.Abs(det) < 1e-12 {
		return Affine{}, errors.New(fmt.Sprintf("Matrix has no inverse, determinant=%g", det))
	}
	var inv mat.Dense
	if err := inv.Inverse(a.dense()); err != nil {
		return Affine{}, err
	}
	return fromDense(&inv), nil
}

// Maximum absolute difference of all coefficients
func (a Affine) MaxDiff(b Affine) float64 {
	d := 0.0
	for i := range a.M {
		d = math.Max(d, math.Abs(a.M[i]-b.M[i]))
	}
	return d
}

// homogeneous 4x4 form
func (a Affine) dense() *mat.Dense {
	data := make([]float64, 16)
	copy(data, a.M[:])
	data[15] = 1
	return mat.NewDense(4, 4, data)
}

func fromDense(d *mat.Dense) Affine {
	var a Affine
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			a.M[r*4+c] = d.At(r, c)
		}
	}
	return a
}
