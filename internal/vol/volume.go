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
)

// A 3-dimensional raster of float32 values. Most quickly varying dimension first (i.e. X,Y,Z)
type Volume struct {
	Dims [3]int    // Axis dimensions
	Data []float32 // The voxel data, x + y*Dims[0] + z*Dims[0]*Dims[1]
}

// How voxels outside of a volume are filled when reading beyond its borders
type Padding int

const (
	PadZero Padding = iota // zeros outside
	PadEdge                // replicate the nearest edge voxel
)

func (p Padding) String() string {
	switch p {
	case PadZero:
		return "zero"
	case PadEdge:
		return "edge"
	}
	return fmt.Sprintf("padding(%d)", int(p))
}

// Parses a padding mode name
func ParsePadding(s string) (Padding, error) {
	switch s {
	case "zero", "zeros":
		return PadZero, nil
	case "edge", "replicate", "":
		return PadEdge, nil
	}
	return PadZero, fmt.Errorf("unknown padding mode '%s'", s)
}

// Creates a new zero-filled volume with the given dimensions
func New(dims [3]int) *Volume {
	return &Volume{Dims: dims, Data: make([]float32, dims[0]*dims[1]*dims[2])}
}

// Creates a volume around the given data, which is not copied
func FromData(dims [3]int, data []float32) (*Volume, error) {
	if n := dims[0] * dims[1] * dims[2]; n != len(data) {
		return nil, fmt.Errorf("volume %v needs %d voxels, got %d", dims, n, len(data))
	}
	return &Volume{Dims: dims, Data: data}, nil
}

// Number of voxels
func (v *Volume) Len() int { return len(v.Data) }

// Size of the volume data in bytes
func (v *Volume) Bytes() int64 { return int64(len(v.Data)) * 4 }

// Linear index of the given voxel
func (v *Volume) Index(x, y, z int) int {
	return x + v.Dims[0]*(y+v.Dims[1]*z)
}

func (v *Volume) At(x, y, z int) float32 { return v.Data[v.Index(x, y, z)] }

func (v *Volume) Set(x, y, z int, val float32) { v.Data[v.Index(x, y, z)] = val }

// Returns true if the given voxel lies inside the volume
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Dims[0] && y < v.Dims[1] && z < v.Dims[2]
}

// Returns the voxel value at the given position, applying padding outside the volume
func (v *Volume) AtPadded(x, y, z int, pad Padding) float32 {
	if v.Contains(x, y, z) {
		return v.At(x, y, z)
	}
	if pad == PadZero {
		return 0
	}
	return v.At(clampInt(x, 0, v.Dims[0]-1), clampInt(y, 0, v.Dims[1]-1), clampInt(z, 0, v.Dims[2]-1))
}

// Deep copy
func (v *Volume) Clone() *Volume {
	data := make([]float32, len(v.Data))
	copy(data, v.Data)
	return &Volume{Dims: v.Dims, Data: data}
}

// Sets all voxels to the given value
func (v *Volume) Fill(val float32) {
	for i := range v.Data {
		v.Data[i] = val
	}
}

// Returns true if both volumes have identical dimensions
func (v *Volume) SameDims(o *Volume) bool { return v.Dims == o.Dims }

func (v *Volume) DimensionsToString() string {
	return fmt.Sprintf("%dx%dx%d", v.Dims[0], v.Dims[1], v.Dims[2])
}

// Copies the region starting at min with the given dimensions into a new volume.
// Voxels outside of v are filled according to the padding mode
func (v *Volume) Crop(min, dims [3]int, pad Padding) *Volume {
	out := New(dims)
	inside := min[0] >= 0 && min[1] >= 0 && min[2] >= 0 &&
		min[0]+dims[0] <= v.Dims[0] && min[1]+dims[1] <= v.Dims[1] && min[2]+dims[2] <= v.Dims[2]
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			o := out.Index(0, y, z)
			if inside {
				s := v.Index(min[0], min[1]+y, min[2]+z)
				copy(out.Data[o:o+dims[0]], v.Data[s:s+dims[0]])
				continue
			}
			for x := 0; x < dims[0]; x++ {
				out.Data[o+x] = v.AtPadded(min[0]+x, min[1]+y, min[2]+z, pad)
			}
		}
	}
	return out
}

// Copies the region of src starting at srcMin with the given dimensions into v at dstMin
func (v *Volume) Paste(src *Volume, srcMin, dstMin, dims [3]int) {
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			s := src.Index(srcMin[0], srcMin[1]+y, srcMin[2]+z)
			d := v.Index(dstMin[0], dstMin[1]+y, dstMin[2]+z)
			copy(v.Data[d:d+dims[0]], src.Data[s:s+dims[0]])
		}
	}
}

// Maximum intensity projection along z. Returns a 2D volume with depth 1
func (v *Volume) MaxProjectionZ() *Volume {
	out := New([3]int{v.Dims[0], v.Dims[1], 1})
	plane := v.Dims[0] * v.Dims[1]
	copy(out.Data, v.Data[:plane])
	for z := 1; z < v.Dims[2]; z++ {
		src := v.Data[z*plane : (z+1)*plane]
		for i, s := range src {
			if s > out.Data[i] {
				out.Data[i] = s
			}
		}
	}
	return out
}

func clampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
