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

// Package conv implements FFT-based 3D convolution of volumes with point spread
// functions, on the CPU or on registered native devices, optionally split into blocks.
package conv

import (
	"sync"

	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/fft"
	"github.com/mlnoga/spimfuse/internal/vol"
)

// A convolution kernel with odd dimensions, centered in its volume.
// Spectra are computed once per padded size and shared by all goroutines
// until released
type Kernel struct {
	Vol *vol.Volume

	mu      sync.Mutex
	spectra map[[3]int][]complex128
	flipped *Kernel
}

func NewKernel(v *vol.Volume) (*Kernel, error) {
	for d := 0; d < 3; d++ {
		if v.Dims[d]%2 == 0 {
			return nil, fault.Config("kernel dimensions %s must be odd", v.DimensionsToString())
		}
	}
	return &Kernel{Vol: v, spectra: map[[3]int][]complex128{}}, nil
}

func (k *Kernel) Radius() [3]int {
	return [3]int{k.Vol.Dims[0] / 2, k.Vol.Dims[1] / 2, k.Vol.Dims[2] / 2}
}

// Returns the point-reflected kernel, as used for the back projection. The result is cached
func (k *Kernel) Flipped() *Kernel {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.flipped == nil {
		out := vol.New(k.Vol.Dims)
		n := len(k.Vol.Data)
		for i, d := range k.Vol.Data {
			out.Data[n-1-i] = d
		}
		k.flipped = &Kernel{Vol: out, spectra: map[[3]int][]complex128{}, flipped: k}
	}
	return k.flipped
}

// Returns the spectrum of the kernel, zero-padded to the given dimensions
// and wrapped so its center lies at the origin
func (k *Kernel) spectrum(dims [3]int, threads int) []complex128 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if s, ok := k.spectra[dims]; ok {
		return s
	}
	s := make([]complex128, dims[0]*dims[1]*dims[2])
	r := k.Radius()
	kd := k.Vol.Dims
	for z := 0; z < kd[2]; z++ {
		wz := wrap(z-r[2], dims[2])
		for y := 0; y < kd[1]; y++ {
			wy := wrap(y-r[1], dims[1])
			for x := 0; x < kd[0]; x++ {
				wx := wrap(x-r[0], dims[0])
				s[wx+dims[0]*(wy+dims[1]*wz)] += complex(float64(k.Vol.At(x, y, z)), 0)
			}
		}
	}
	fft.Forward(s, dims, threads)
	k.spectra[dims] = s
	return s
}

// Drops all cached spectra of the kernel and of its flipped counterpart
func (k *Kernel) Release() {
	k.mu.Lock()
	k.spectra = map[[3]int][]complex128{}
	f := k.flipped
	k.mu.Unlock()
	if f != nil {
		f.mu.Lock()
		f.spectra = map[[3]int][]complex128{}
		f.mu.Unlock()
	}
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}
