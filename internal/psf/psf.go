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

// Package psf builds point spread functions per view: extracted from bead images
// or loaded from file, resampled into the fused frame and normalized to unit energy.
package psf

import (
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/vol"
)

// Returns the given kernel size with every even axis incremented by one
func OddSize(size [3]int) [3]int {
	for d := 0; d < 3; d++ {
		if size[d]%2 == 0 {
			size[d]++
		}
	}
	return size
}

// Pads a kernel with even dimensions to odd ones with a trailing zero plane.
// Odd kernels are returned unchanged
func MakeOdd(k *vol.Volume) *vol.Volume {
	dims := OddSize(k.Dims)
	if dims == k.Dims {
		return k
	}
	out := vol.New(dims)
	out.Paste(k, [3]int{}, [3]int{}, k.Dims)
	return out
}

// Scales the kernel to unit sum, clamping negative values to zero first
func Normalize(k *vol.Volume) error {
	sum := 0.0
	for i, d := range k.Data {
		if d < 0 || d != d {
			k.Data[i] = 0
			continue
		}
		sum += float64(d)
	}
	if sum <= 0 {
		return fault.Data("PSF has no energy")
	}
	scale := float32(1 / sum)
	for i := range k.Data {
		k.Data[i] *= scale
	}
	return nil
}
