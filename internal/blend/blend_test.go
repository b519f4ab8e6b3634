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
	"testing"

	"github.com/golang/geo/r3"
	"github.com/mlnoga/spimfuse/internal/vol"
	"github.com/valyala/fastrand"
)

func TestMonotoneTowardsBorder(t *testing.T) {
	for _, ramp := range []Ramp{Cosine, Linear} {
		f := NewField([3]int{101, 81, 41}, [3]int{5, 5, 2}, [3]int{20, 15, 8}, ramp)
		// walk from the center towards each border of each axis in small steps
		center := r3.Vector{X: 50, Y: 40, Z: 20}
		for d := 0; d < 3; d++ {
			for _, dir := range []float64{-1, 1} {
				prev := f.At(center)
				for s := 0.0; s <= 60; s += 0.25 {
					p := center
					switch d {
					case 0:
						p.X += dir * s
					case 1:
						p.Y += dir * s
					default:
						p.Z += dir * s
					}
					w := f.At(p)
					if w > prev {
						t.Fatalf("ramp=%v axis=%d dir=%v step=%v: weight increased %g -> %g", ramp, d, dir, s, prev, w)
					}
					if w < 0 || w > 1 {
						t.Fatalf("weight %g out of range", w)
					}
					prev = w
				}
			}
		}
	}
}

func TestZones(t *testing.T) {
	f := NewField([3]int{101, 101, 101}, [3]int{5, 5, 5}, [3]int{10, 10, 10}, Cosine)
	cases := []struct {
		p    r3.Vector
		want float32
		cmp  string
	}{
		{r3.Vector{X: 50, Y: 50, Z: 50}, 1, "eq"},    // interior
		{r3.Vector{X: 15, Y: 50, Z: 50}, 1, "eq"},    // exactly border+range from the edge
		{r3.Vector{X: 85, Y: 15, Z: 85}, 1, "eq"},    // all axes on the interior boundary
		{r3.Vector{X: 3, Y: 50, Z: 50}, 0, "eq"},     // border exclusion
		{r3.Vector{X: 5, Y: 50, Z: 50}, Floor, "eq"}, // start of the ramp
		{r3.Vector{X: 10, Y: 50, Z: 50}, 0.5, "eq"},
		{r3.Vector{X: -1, Y: 50, Z: 50}, 0, "eq"},   // outside
		{r3.Vector{X: 50, Y: 50, Z: 101}, 0, "eq"},  // outside
		{r3.Vector{X: 12, Y: 50, Z: 50}, 0.5, "gt"}, // inside the ramp
	}
	for _, c := range cases {
		got := f.At(c.p)
		switch c.cmp {
		case "eq":
			if d := got - c.want; d > 1e-4 || d < -1e-4 {
				t.Errorf("p=%v weight %g; want %g", c.p, got, c.want)
			}
		case "gt":
			if got <= c.want || got >= 1 {
				t.Errorf("p=%v weight %g; want in (%g,1)", c.p, got, c.want)
			}
		}
	}
}

func TestNoBorderNoRange(t *testing.T) {
	f := NewField([3]int{8, 8, 8}, [3]int{0, 0, 0}, [3]int{0, 0, 0}, Linear)
	for z := 0; z < 8; z++ {
		for x := 0; x < 8; x++ {
			if w := f.At(r3.Vector{X: float64(x), Y: 0, Z: float64(z)}); w != 1 {
				t.Errorf("(%d,0,%d) weight %g; want 1", x, z, w)
			}
		}
	}
}

func TestGaussianKernel1D(t *testing.T) {
	for _, sigma := range []float64{0.5, 1, 2.5} {
		k := GaussianKernel1D(sigma)
		if len(k)%2 != 1 {
			t.Fatalf("sigma %g: even kernel length %d", sigma, len(k))
		}
		sum := float32(0)
		for i, v := range k {
			sum += v
			if v != k[len(k)-1-i] {
				t.Errorf("sigma %g: kernel %v not symmetric", sigma, k)
				break
			}
		}
		if sum < 0.9999 || sum > 1.0001 {
			t.Errorf("sigma %g: kernel sums to %g", sigma, sum)
		}
	}
	if len(GaussianKernel1D(2.5)) <= len(GaussianKernel1D(0.5)) {
		t.Errorf("wider sigma should give a longer kernel")
	}
}

func TestContentWeights(t *testing.T) {
	// left half textured, right half flat
	img := vol.New([3]int{24, 8, 8})
	rng := fastrand.RNG{}
	rng.Seed(5)
	for z := 0; z < 8; z++ {
		for y := 0; y < 8; y++ {
			for x := 0; x < 24; x++ {
				v := float32(50)
				if x < 12 {
					v = float32(rng.Uint32n(100))
				}
				img.Set(x, y, z, v)
			}
		}
	}
	w := ContentWeights(img, 1, 1.5)
	textured, flat := w.At(4, 4, 4), w.At(20, 4, 4)
	if textured <= flat {
		t.Errorf("textured weight %g not above flat weight %g", textured, flat)
	}
	for i, d := range w.Data {
		if d < Floor || d > 1 {
			t.Fatalf("weight at %d=%g; want within [%g,1]", i, d, Floor)
		}
	}

	const c = 7
	uniform := vol.New([3]int{6, 6, 6})
	uniform.Fill(c)
	if g := GaussFilter3D(uniform, 2); g.At(0, 0, 0) < c-1e-4 || g.At(5, 5, 5) > c+1e-4 {
		t.Errorf("filtering a constant volume changed it to %g", g.At(0, 0, 0))
	}
}
