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
	"fmt"
	"io"
	"math"

	"github.com/golang/geo/r3"
	"github.com/mlnoga/spimfuse/internal/dataset"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/geom"
)

// Numeric type of the fused output
type PixelType int

const (
	Float32 PixelType = iota
	Uint16
)

func (p PixelType) String() string {
	switch p {
	case Float32:
		return "float32"
	case Uint16:
		return "uint16"
	}
	return fmt.Sprintf("pixeltype(%d)", int(p))
}

func ParsePixelType(s string) (PixelType, error) {
	switch s {
	case "float32", "float", "":
		return Float32, nil
	case "uint16", "16bit":
		return Uint16, nil
	}
	return Float32, fault.Config("unknown pixel type '%s'", s)
}

// The common output volume all views are resampled into, in integer voxel
// coordinates of the fused frame. Min and max are inclusive
type BoundingBox struct {
	Min          [3]int
	Max          [3]int
	Downsampling int
	PixelType    PixelType
}

// Calculates the continuous bounds covering all present views. Transforms the 8 corners
// of each view's local voxel range and tracks the running minimum and maximum per axis
func Resolve(views []*dataset.View, logWriter io.Writer) (geom.Interval, error) {
	iv := geom.EmptyInterval()
	present := 0
	for _, v := range views {
		if v == nil || !v.Present {
			continue
		}
		b := geom.TransformedBounds(v.Dims, v.Model())
		if logWriter != nil {
			fmt.Fprintf(logWriter, "%v: bbox %v\n", v.ID, b)
		}
		iv = iv.AddPoint(b.Min).AddPoint(b.Max)
		present++
	}
	if present == 0 || iv.IsEmpty() {
		return iv, fault.Config("no view is present, cannot compute a bounding box")
	}
	return iv, nil
}

// Creates a bounding box from continuous bounds, rounding the minimum down and the maximum up
func New(iv geom.Interval, downsampling int, pixelType PixelType) (BoundingBox, error) {
	if iv.IsEmpty() {
		return BoundingBox{}, fault.Config("empty bounding box %v", iv)
	}
	var bb BoundingBox
	for d := 0; d < 3; d++ {
		// tolerate rounding noise from the transformation before flooring and ceiling
		lo, hi := geom.Component(iv.Min, d), geom.Component(iv.Max, d)
		bb.Min[d] = int(math.Floor(lo + 1e-6))
		bb.Max[d] = int(math.Ceil(hi - 1e-6))
		if bb.Max[d] < bb.Min[d] {
			bb.Max[d] = bb.Min[d]
		}
	}
	bb.Downsampling = downsampling
	bb.PixelType = pixelType
	return bb, bb.Validate()
}

// Clamps a requested box into the feasible range. Fails if min exceeds max afterwards
func Manual(req BoundingBox, feasible BoundingBox) (BoundingBox, error) {
	out := req
	for d := 0; d < 3; d++ {
		out.Min[d] = clamp(req.Min[d], feasible.Min[d], feasible.Max[d])
		out.Max[d] = clamp(req.Max[d], feasible.Min[d], feasible.Max[d])
	}
	if out.Downsampling == 0 {
		out.Downsampling = 1
	}
	return out, out.Validate()
}

// Checks the invariants of the box
func (bb BoundingBox) Validate() error {
	for d := 0; d < 3; d++ {
		if bb.Min[d] > bb.Max[d] {
			return fault.Config("bounding box axis %d: min cannot be larger than max (%d > %d)", d, bb.Min[d], bb.Max[d])
		}
	}
	if bb.Downsampling < 1 {
		return fault.Config("downsampling must be at least 1, got %d", bb.Downsampling)
	}
	return nil
}

// Dimensions of the fused grid in voxels
func (bb BoundingBox) Dims() [3]int {
	var dims [3]int
	for d := 0; d < 3; d++ {
		dims[d] = (bb.Max[d]-bb.Min[d])/bb.Downsampling + 1
	}
	return dims
}

// Number of voxels of the fused grid
func (bb BoundingBox) NumVoxels() int64 {
	dims := bb.Dims()
	return int64(dims[0]) * int64(dims[1]) * int64(dims[2])
}

// Maps a fused grid voxel to fused frame coordinates
func (bb BoundingBox) GridToWorld(x, y, z int) r3.Vector {
	ds := float64(bb.Downsampling)
	return r3.Vector{
		X: float64(bb.Min[0]) + float64(x)*ds,
		Y: float64(bb.Min[1]) + float64(y)*ds,
		Z: float64(bb.Min[2]) + float64(z)*ds,
	}
}

// The affine transform from fused grid voxels to fused frame coordinates
func (bb BoundingBox) GridTransform() geom.Affine {
	ds := float64(bb.Downsampling)
	return geom.Translation(r3.Vector{X: float64(bb.Min[0]), Y: float64(bb.Min[1]), Z: float64(bb.Min[2])}).
		Compose(geom.Scaling(r3.Vector{X: ds, Y: ds, Z: ds}))
}

func (bb BoundingBox) String() string {
	dims := bb.Dims()
	return fmt.Sprintf("[%d, %d, %d] -> [%d, %d, %d], dimensions %dx%dx%d, downsampling %d, %s",
		bb.Min[0], bb.Min[1], bb.Min[2], bb.Max[0], bb.Max[1], bb.Max[2],
		dims[0], dims[1], dims[2], bb.Downsampling, bb.PixelType)
}

func clamp(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
