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
	"fmt"

	"github.com/mlnoga/spimfuse/internal/device"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/vol"
)

// A rectangular part of a volume, processed as one convolution job
type Block struct {
	Offset [3]int // position of the block core in the volume
	Dims   [3]int // size of the block core
}

func (b Block) String() string {
	return fmt.Sprintf("block %v+%v", b.Offset, b.Dims)
}

// Splits a volume into blocks of at most the given size. A zero or oversized axis yields
// a single block along that axis
func Partition(dims, blockSize [3]int) []Block {
	var steps [3]int
	for d := 0; d < 3; d++ {
		steps[d] = blockSize[d]
		if steps[d] <= 0 || steps[d] > dims[d] {
			steps[d] = dims[d]
		}
	}
	var blocks []Block
	for z := 0; z < dims[2]; z += steps[2] {
		for y := 0; y < dims[1]; y += steps[1] {
			for x := 0; x < dims[0]; x += steps[0] {
				b := Block{Offset: [3]int{x, y, z}}
				for d := 0; d < 3; d++ {
					b.Dims[d] = steps[d]
					if rest := dims[d] - b.Offset[d]; rest < b.Dims[d] {
						b.Dims[d] = rest
					}
				}
				blocks = append(blocks, b)
			}
		}
	}
	return blocks
}

// Convolves whole volumes by splitting them into blocks with ghost margins of the maximal
// kernel radius, running the blocks round-robin across a pool of devices and stitching the
// block cores back together
type Convolver struct {
	Backend   Backend
	Pool      *device.Pool
	BlockSize [3]int // zero for whole volumes
	Pad       vol.Padding
}

func NewConvolver(devices []device.Device, blockSize [3]int, pad vol.Padding, threads int) *Convolver {
	return &Convolver{
		Backend:   NewMixedBackend(pad, threads),
		Pool:      device.NewPool(devices),
		BlockSize: blockSize,
		Pad:       pad,
	}
}

// All blocks of a volume are transformed with the dimensions of the first one, so each
// kernel caches a single spectrum. Blocks at the far edges are padded beyond the volume
func (c *Convolver) coreDims(dims [3]int) [3]int {
	return Partition(dims, c.BlockSize)[0].Dims
}

// Checks that blocks of a volume with the given dimensions fit into every device,
// together with one cached spectrum for each of the given number of kernels
func (c *Convolver) Check(dims, radius [3]int, kernels int) error {
	core := c.coreDims(dims)
	var ghosted [3]int
	for d := 0; d < 3; d++ {
		ghosted[d] = core[d] + 2*radius[d]
	}
	for _, dev := range c.Pool.Devices() {
		if err := device.CheckBlockMemory(dev, PaddedDims(ghosted, radius), kernels); err != nil {
			return err
		}
	}
	return nil
}

// Returns in*k
func (c *Convolver) Convolve(in *vol.Volume, k *Kernel) (*vol.Volume, error) {
	outs, err := c.ConvolveMany(in, []*Kernel{k})
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}

// Returns in*ks[i] for all kernels
func (c *Convolver) ConvolveMany(in *vol.Volume, ks []*Kernel) ([]*vol.Volume, error) {
	outs := make([]*vol.Volume, len(ks))
	for i := range outs {
		outs[i] = vol.New(in.Dims)
	}
	g, core := maxRadius(ks), c.coreDims(in.Dims)
	err := c.run(in.Dims, func(b Block, dev device.Device) error {
		block := c.ghosted(in, b, core, g)
		var res []*vol.Volume
		if sb, ok := c.Backend.(SpectralBackend); ok {
			var err error
			if res, err = sb.ConvolveMany(block, ks, dev); err != nil {
				return err
			}
		} else {
			res = make([]*vol.Volume, len(ks))
			for i, k := range ks {
				r, err := c.Backend.Convolve(block, k, dev)
				if err != nil {
					return err
				}
				res[i] = r
			}
		}
		for i, r := range res {
			outs[i].Paste(r, g, b.Offset, b.Dims)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outs, nil
}

// Returns the sum of ins[i]*ks[i]
func (c *Convolver) ConvolveSum(ins []*vol.Volume, ks []*Kernel) (*vol.Volume, error) {
	if len(ins) != len(ks) || len(ins) == 0 {
		return nil, fault.Config("need one kernel per volume, got %d volumes and %d kernels", len(ins), len(ks))
	}
	for _, in := range ins[1:] {
		if !in.SameDims(ins[0]) {
			return nil, fault.Data("volume dimensions %s and %s differ", in.DimensionsToString(), ins[0].DimensionsToString())
		}
	}
	out := vol.New(ins[0].Dims)
	g, core := maxRadius(ks), c.coreDims(out.Dims)
	err := c.run(out.Dims, func(b Block, dev device.Device) error {
		blocks := make([]*vol.Volume, len(ins))
		for i, in := range ins {
			blocks[i] = c.ghosted(in, b, core, g)
		}
		var sum *vol.Volume
		if sb, ok := c.Backend.(SpectralBackend); ok {
			var err error
			if sum, err = sb.ConvolveSum(blocks, ks, dev); err != nil {
				return err
			}
		} else {
			for i, block := range blocks {
				r, err := c.Backend.Convolve(block, ks[i], dev)
				if err != nil {
					return err
				}
				if sum == nil {
					sum = r
					continue
				}
				for j, d := range r.Data {
					sum.Data[j] += d
				}
			}
		}
		out.Paste(sum, g, b.Offset, b.Dims)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Copies a core of the given size at the block offset with its ghost margin out of the
// volume, padding beyond the borders. Only the block's own core is pasted back
func (c *Convolver) ghosted(in *vol.Volume, b Block, core, g [3]int) *vol.Volume {
	min := [3]int{b.Offset[0] - g[0], b.Offset[1] - g[1], b.Offset[2] - g[2]}
	dims := [3]int{core[0] + 2*g[0], core[1] + 2*g[1], core[2] + 2*g[2]}
	return in.Crop(min, dims, c.Pad)
}

func (c *Convolver) run(dims [3]int, job func(b Block, dev device.Device) error) error {
	blocks := Partition(dims, c.BlockSize)
	return c.Pool.RunAll(len(blocks), func(i int, dev device.Device) error {
		return job(blocks[i], dev)
	})
}
