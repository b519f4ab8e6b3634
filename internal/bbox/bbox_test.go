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

package bbox

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/mlnoga/spimfuse/internal/dataset"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/geom"
	"github.com/mlnoga/spimfuse/internal/vol"
)

func view(angle int, dims [3]int, reg geom.Affine) *dataset.View {
	return dataset.NewInMemoryView(dataset.ViewID{Angle: angle}, vol.New(dims), reg)
}

func TestIdentityView(t *testing.T) {
	dims := [3]int{31, 17, 9}
	iv, err := Resolve([]*dataset.View{view(0, dims, geom.Identity())}, nil)
	if err != nil {
		t.Fatal(err)
	}
	bb, err := New(iv, 1, Float32)
	if err != nil {
		t.Fatal(err)
	}
	for d := 0; d < 3; d++ {
		if bb.Min[d] != 0 || bb.Max[d] != dims[d]-1 {
			t.Errorf("axis %d: bbox [%d, %d]; want [0, %d]", d, bb.Min[d], bb.Max[d], dims[d]-1)
		}
	}
	if bb.Dims() != dims {
		t.Errorf("dims=%v; want %v", bb.Dims(), dims)
	}
}

func TestTwoOffsetViews(t *testing.T) {
	dims := [3]int{20, 10, 5}
	a := geom.Translation(r3.Vector{X: -3.5, Y: 2, Z: 0})
	b := geom.Affine{M: [12]float64{0, -1, 0, 40, 1, 0, 0, -6, 0, 0, 2, 1.25}}
	iv, err := Resolve([]*dataset.View{view(0, dims, a), view(90, dims, b)}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// direct computation over both corner sets
	want := geom.EmptyInterval()
	for _, tr := range []geom.Affine{a, b} {
		for _, c := range geom.Corners(dims) {
			want = want.AddPoint(tr.Apply(c))
		}
	}
	if iv.Min.Sub(want.Min).Norm() > 1e-9 || iv.Max.Sub(want.Max).Norm() > 1e-9 {
		t.Errorf("bbox %v; want %v", iv, want)
	}
	// view b maps y in [0,9] to x in [31,40]
	if math.Abs(iv.Max.X-40) > 1e-9 || math.Abs(iv.Min.X+3.5) > 1e-9 {
		t.Errorf("x range %f..%f; want -3.5..40", iv.Min.X, iv.Max.X)
	}

	bb, err := New(iv, 1, Uint16)
	if err != nil {
		t.Fatal(err)
	}
	if bb.Min[0] != -4 || bb.Max[0] != 40 || bb.Max[2] != 10 {
		t.Errorf("rounded bbox %v", bb)
	}
}

func TestNoPresentView(t *testing.T) {
	v := view(0, [3]int{4, 4, 4}, geom.Identity())
	v.Present = false
	if _, err := Resolve([]*dataset.View{v}, nil); !fault.IsConfig(err) {
		t.Errorf("err=%v; want configuration error", err)
	}
	if _, err := Resolve(nil, nil); !fault.IsConfig(err) {
		t.Errorf("err=%v; want configuration error", err)
	}
}

func TestManual(t *testing.T) {
	feasible := BoundingBox{Min: [3]int{0, 0, 0}, Max: [3]int{99, 49, 19}, Downsampling: 1}
	cases := []struct {
		req     BoundingBox
		want    BoundingBox
		wantErr bool
	}{
		{BoundingBox{Min: [3]int{10, 5, 2}, Max: [3]int{20, 15, 8}, Downsampling: 1},
			BoundingBox{Min: [3]int{10, 5, 2}, Max: [3]int{20, 15, 8}, Downsampling: 1}, false},
		{BoundingBox{Min: [3]int{-10, 5, 2}, Max: [3]int{200, 15, 8}, Downsampling: 2},
			BoundingBox{Min: [3]int{0, 5, 2}, Max: [3]int{99, 15, 8}, Downsampling: 2}, false},
		{BoundingBox{Min: [3]int{30, 5, 2}, Max: [3]int{20, 15, 8}, Downsampling: 1}, BoundingBox{}, true},
	}
	for i, c := range cases {
		got, err := Manual(c.req, feasible)
		if c.wantErr {
			if !fault.IsConfig(err) {
				t.Errorf("case %d: err=%v; want configuration error", i, err)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("case %d: got %v err=%v; want %v", i, got, err, c.want)
		}
	}
}

func TestDownsampledGrid(t *testing.T) {
	bb := BoundingBox{Min: [3]int{-4, 0, 2}, Max: [3]int{5, 9, 2}, Downsampling: 2}
	if got, want := bb.Dims(), [3]int{5, 5, 1}; got != want {
		t.Errorf("dims=%v; want %v", got, want)
	}
	p := bb.GridToWorld(2, 1, 0)
	if q := bb.GridTransform().Apply(r3.Vector{X: 2, Y: 1, Z: 0}); p.Sub(q).Norm() > 1e-12 {
		t.Errorf("grid transform %v; want %v", q, p)
	}
	if want := (r3.Vector{X: 0, Y: 2, Z: 2}); p != want {
		t.Errorf("world=%v; want %v", p, want)
	}
}
