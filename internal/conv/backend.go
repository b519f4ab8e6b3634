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

package conv

import (
	"github.com/mlnoga/spimfuse/internal/device"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/fft"
	"github.com/mlnoga/spimfuse/internal/vol"
)

// Convolves a block with a kernel on a device. The output has the dimensions of the input.
// Voxels beyond the block are filled according to the padding mode
type Backend interface {
	Convolve(block *vol.Volume, k *Kernel, dev device.Device) (*vol.Volume, error)
}

// Backends which can share transforms between several kernels or inputs
type SpectralBackend interface {
	Backend
	// Convolves one block with several kernels, transforming the block only once
	ConvolveMany(block *vol.Volume, ks []*Kernel, dev device.Device) ([]*vol.Volume, error)
	// Returns the sum of the convolutions of blocks[i] with ks[i], with a single inverse transform
	ConvolveSum(blocks []*vol.Volume, ks []*Kernel, dev device.Device) (*vol.Volume, error)
}

// Returns the padded transform size for a block with the given kernel radius
func PaddedDims(dims, radius [3]int) [3]int {
	return fft.GoodSizes([3]int{dims[0] + 2*radius[0], dims[1] + 2*radius[1], dims[2] + 2*radius[2]})
}

// Convolution with the FFT routines of this package on the host CPU
type CPUBackend struct {
	Pad     vol.Padding
	Threads int
}

func (b *CPUBackend) Convolve(block *vol.Volume, k *Kernel, dev device.Device) (*vol.Volume, error) {
	outs, err := b.ConvolveMany(block, []*Kernel{k}, dev)
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}

func (b *CPUBackend) ConvolveMany(block *vol.Volume, ks []*Kernel, dev device.Device) ([]*vol.Volume, error) {
	r := maxRadius(ks)
	pdims := PaddedDims(block.Dims, r)
	threads := b.threads(dev)

	spec := fft.GetComplex128(pdims[0] * pdims[1] * pdims[2])
	defer fft.PutComplex128(spec)
	b.load(spec, block, r, pdims)
	fft.Forward(spec, pdims, threads)

	work := fft.GetComplex128(len(spec))
	defer fft.PutComplex128(work)
	outs := make([]*vol.Volume, len(ks))
	for i, k := range ks {
		ks := k.spectrum(pdims, threads)
		for j := range work {
			work[j] = spec[j] * ks[j]
		}
		fft.Inverse(work, pdims, threads)
		outs[i] = store(work, block.Dims, r, pdims)
	}
	return outs, nil
}

func (b *CPUBackend) ConvolveSum(blocks []*vol.Volume, ks []*Kernel, dev device.Device) (*vol.Volume, error) {
	if len(blocks) != len(ks) || len(blocks) == 0 {
		return nil, fault.Config("need one kernel per block, got %d blocks and %d kernels", len(blocks), len(ks))
	}
	r := maxRadius(ks)
	pdims := PaddedDims(blocks[0].Dims, r)
	threads := b.threads(dev)
	n := pdims[0] * pdims[1] * pdims[2]

	sum := fft.GetComplex128(n)
	defer fft.PutComplex128(sum)
	for j := range sum {
		sum[j] = 0
	}
	work := fft.GetComplex128(n)
	defer fft.PutComplex128(work)
	for i, block := range blocks {
		if block.Dims != blocks[0].Dims {
			return nil, fault.Data("block %d has dimensions %s, expected %v", i, block.DimensionsToString(), blocks[0].Dims)
		}
		b.load(work, block, r, pdims)
		fft.Forward(work, pdims, threads)
		ks := ks[i].spectrum(pdims, threads)
		for j := range sum {
			sum[j] += work[j] * ks[j]
		}
	}
	fft.Inverse(sum, pdims, threads)
	return store(sum, blocks[0].Dims, r, pdims), nil
}

func (b *CPUBackend) threads(dev device.Device) int {
	if b.Threads > 0 {
		return b.Threads
	}
	if dev.Threads > 0 {
		return dev.Threads
	}
	return 1
}

// Copies the block into the padded buffer at offset r, filling the remainder per padding mode
func (b *CPUBackend) load(dst []complex128, block *vol.Volume, r, pdims [3]int) {
	for z := 0; z < pdims[2]; z++ {
		for y := 0; y < pdims[1]; y++ {
			row := pdims[0] * (y + pdims[1]*z)
			for x := 0; x < pdims[0]; x++ {
				dst[row+x] = complex(float64(block.AtPadded(x-r[0], y-r[1], z-r[2], b.Pad)), 0)
			}
		}
	}
}

// Extracts the real part of the unpadded region
func store(src []complex128, dims, r, pdims [3]int) *vol.Volume {
	out := vol.New(dims)
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			row := r[0] + pdims[0]*(y+r[1]+pdims[1]*(z+r[2]))
			o := out.Index(0, y, z)
			for x := 0; x < dims[0]; x++ {
				out.Data[o+x] = float32(real(src[row+x]))
			}
		}
	}
	return out
}

func maxRadius(ks []*Kernel) [3]int {
	var r [3]int
	for _, k := range ks {
		kr := k.Radius()
		for d := 0; d < 3; d++ {
			if kr[d] > r[d] {
				r[d] = kr[d]
			}
		}
	}
	return r
}

// Convolution on a device of the registered native library
type GPUBackend struct {
	Pad vol.Padding
}

func (b *GPUBackend) Convolve(block *vol.Volume, k *Kernel, dev device.Device) (*vol.Volume, error) {
	n, ok := device.LoadedNative()
	if !ok {
		return nil, fault.Resource("no native GPU library available for %s", dev.ID())
	}
	if dev.Kind != device.GPU {
		return nil, fault.Config("GPU backend cannot run on %s", dev.ID())
	}
	if err := device.CheckBlockMemory(dev, PaddedDims(block.Dims, k.Radius()), 1); err != nil {
		return nil, err
	}
	out := block.Clone()
	if err := n.Convolve(dev.Index, out.Data, out.Dims, k.Vol.Data, k.Vol.Dims, b.Pad); err != nil {
		return nil, fault.Wrap(fault.KindResource, err, "%s convolution on %s", n.Name(), dev.ID())
	}
	return out, nil
}

// Dispatches to the CPU or GPU backend depending on the device kind
type MixedBackend struct {
	CPU *CPUBackend
	GPU *GPUBackend
}

func NewMixedBackend(pad vol.Padding, threads int) *MixedBackend {
	return &MixedBackend{CPU: &CPUBackend{Pad: pad, Threads: threads}, GPU: &GPUBackend{Pad: pad}}
}

func (b *MixedBackend) Convolve(block *vol.Volume, k *Kernel, dev device.Device) (*vol.Volume, error) {
	if dev.Kind == device.GPU {
		return b.GPU.Convolve(block, k, dev)
	}
	return b.CPU.Convolve(block, k, dev)
}

func (b *MixedBackend) ConvolveMany(block *vol.Volume, ks []*Kernel, dev device.Device) ([]*vol.Volume, error) {
	if dev.Kind != device.GPU {
		return b.CPU.ConvolveMany(block, ks, dev)
	}
	outs := make([]*vol.Volume, len(ks))
	for i, k := range ks {
		out, err := b.GPU.Convolve(block, k, dev)
		if err != nil {
			return nil, err
		}
		outs[i] = out
	}
	return outs, nil
}

func (b *MixedBackend) ConvolveSum(blocks []*vol.Volume, ks []*Kernel, dev device.Device) (*vol.Volume, error) {
	if dev.Kind != device.GPU {
		return b.CPU.ConvolveSum(blocks, ks, dev)
	}
	if len(blocks) != len(ks) || len(blocks) == 0 {
		return nil, fault.Config("need one kernel per block, got %d blocks and %d kernels", len(blocks), len(ks))
	}
	var sum *vol.Volume
	for i, block := range blocks {
		out, err := b.GPU.Convolve(block, ks[i], dev)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = out
			continue
		}
		for j, d := range out.Data {
			sum.Data[j] += d
		}
	}
	return sum, nil
}
