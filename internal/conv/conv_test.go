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
	"math"
	"sync"
	"testing"

	"github.com/mlnoga/spimfuse/internal/device"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/vol"
	"github.com/valyala/fastrand"
)

func randomVolume(dims [3]int, seed uint32) *vol.Volume {
	rng := fastrand.RNG{}
	rng.Seed(seed)
	v := vol.New(dims)
	for i := range v.Data {
		v.Data[i] = float32(rng.Uint32n(1000)) / 100
	}
	return v
}

func randomKernel(dims [3]int, seed uint32) *Kernel {
	k, _ := NewKernel(randomVolume(dims, seed))
	return k
}

// direct spatial convolution for reference
func direct(in *vol.Volume, k *vol.Volume, pad vol.Padding) *vol.Volume {
	out := vol.New(in.Dims)
	r := [3]int{k.Dims[0] / 2, k.Dims[1] / 2, k.Dims[2] / 2}
	for z := 0; z < in.Dims[2]; z++ {
		for y := 0; y < in.Dims[1]; y++ {
			for x := 0; x < in.Dims[0]; x++ {
				sum := 0.0
				for kz := 0; kz < k.Dims[2]; kz++ {
					for ky := 0; ky < k.Dims[1]; ky++ {
						for kx := 0; kx < k.Dims[0]; kx++ {
							v := in.AtPadded(x-(kx-r[0]), y-(ky-r[1]), z-(kz-r[2]), pad)
							sum += float64(v) * float64(k.At(kx, ky, kz))
						}
					}
				}
				out.Set(x, y, z, float32(sum))
			}
		}
	}
	return out
}

func maxRelDiff(a, b *vol.Volume) float64 {
	worst := 0.0
	for i := range a.Data {
		d := math.Abs(float64(a.Data[i]-b.Data[i])) / math.Max(1, math.Abs(float64(b.Data[i])))
		if d > worst {
			worst = d
		}
	}
	return worst
}

func cpuDevice() device.Device {
	return device.Device{Kind: device.CPU, Index: -1, Name: "test", Threads: 2}
}

func TestCPUMatchesDirect(t *testing.T) {
	in := randomVolume([3]int{11, 9, 7}, 1)
	k := randomKernel([3]int{3, 5, 3}, 2)
	for _, pad := range []vol.Padding{vol.PadZero, vol.PadEdge} {
		b := &CPUBackend{Pad: pad, Threads: 2}
		got, err := b.Convolve(in, k, cpuDevice())
		if err != nil {
			t.Fatal(err)
		}
		want := direct(in, k.Vol, pad)
		if d := maxRelDiff(got, want); d > 1e-5 {
			t.Errorf("padding=%v max relative difference %g", pad, d)
		}
	}
}

func TestFlippedKernel(t *testing.T) {
	k := randomKernel([3]int{3, 3, 5}, 9)
	f := k.Flipped()
	if f.Flipped() != k {
		t.Errorf("flipping twice should return the original kernel")
	}
	if f.Vol.At(0, 0, 0) != k.Vol.At(2, 2, 4) {
		t.Errorf("flipped corner %g; want %g", f.Vol.At(0, 0, 0), k.Vol.At(2, 2, 4))
	}
}

func TestEvenKernelRejected(t *testing.T) {
	if _, err := NewKernel(vol.New([3]int{4, 3, 3})); !fault.IsConfig(err) {
		t.Errorf("error=%v; want configuration error", err)
	}
}

func TestPartition(t *testing.T) {
	cases := []struct {
		dims, size [3]int
		want       int
	}{
		{[3]int{10, 10, 10}, [3]int{}, 1},
		{[3]int{10, 10, 10}, [3]int{20, 20, 20}, 1},
		{[3]int{10, 10, 10}, [3]int{5, 5, 5}, 8},
		{[3]int{10, 10, 10}, [3]int{4, 10, 10}, 3},
	}
	for _, c := range cases {
		blocks := Partition(c.dims, c.size)
		if len(blocks) != c.want {
			t.Errorf("Partition(%v,%v) gave %d blocks; want %d", c.dims, c.size, len(blocks), c.want)
		}
		voxels := 0
		for _, b := range blocks {
			voxels += b.Dims[0] * b.Dims[1] * b.Dims[2]
		}
		if voxels != c.dims[0]*c.dims[1]*c.dims[2] {
			t.Errorf("Partition(%v,%v) covers %d voxels", c.dims, c.size, voxels)
		}
	}
}

func TestBlockedEqualsWhole(t *testing.T) {
	in := randomVolume([3]int{24, 20, 18}, 3)
	ks := []*Kernel{randomKernel([3]int{5, 5, 7}, 4), randomKernel([3]int{3, 3, 3}, 5)}
	devs := []device.Device{cpuDevice()}
	for _, pad := range []vol.Padding{vol.PadZero, vol.PadEdge} {
		whole := NewConvolver(devs, [3]int{}, pad, 2)
		blocked := NewConvolver(devs, [3]int{7, 8, 5}, pad, 2)

		a, err := whole.ConvolveMany(in, ks)
		if err != nil {
			t.Fatal(err)
		}
		b, err := blocked.ConvolveMany(in, ks)
		if err != nil {
			t.Fatal(err)
		}
		for i := range ks {
			if d := maxRelDiff(b[i], a[i]); d > 1e-5 {
				t.Errorf("padding=%v kernel %d blocked differs from whole by %g", pad, i, d)
			}
		}
	}
}

func TestConvolveSum(t *testing.T) {
	ins := []*vol.Volume{randomVolume([3]int{12, 10, 8}, 6), randomVolume([3]int{12, 10, 8}, 7)}
	ks := []*Kernel{randomKernel([3]int{3, 3, 5}, 8), randomKernel([3]int{5, 3, 3}, 9)}
	c := NewConvolver([]device.Device{cpuDevice()}, [3]int{6, 6, 6}, vol.PadEdge, 2)
	got, err := c.ConvolveSum(ins, ks)
	if err != nil {
		t.Fatal(err)
	}
	want := direct(ins[0], ks[0].Vol, vol.PadEdge)
	other := direct(ins[1], ks[1].Vol, vol.PadEdge)
	for i := range want.Data {
		want.Data[i] += other.Data[i]
	}
	if d := maxRelDiff(got, want); d > 1e-5 {
		t.Errorf("sum differs from direct reference by %g", d)
	}
}

// shifts the data by one voxel along x, standing in for a vendor library
type shiftNative struct{ calls int }

func (s *shiftNative) Name() string {
	return "shift"
}

func (s *shiftNative) NumDevices() (int, error) {
	return 1, nil
}

func (s *shiftNative) DeviceInfo(int) (string, int64, error) {
	return "shifter", 1024, nil
}

func (s *shiftNative) Convolve(index int, data []float32, dims [3]int, kernel []float32, kdims [3]int, pad vol.Padding) error {
	s.calls++
	for i := len(data) - 1; i > 0; i-- {
		data[i] = data[i-1]
	}
	return nil
}

func TestGPUBackend(t *testing.T) {
	device.RegisterNative(nil)
	gpu := device.Device{Kind: device.GPU, Index: 0, Name: "shifter", MemoryMB: 1024}
	b := &GPUBackend{}
	k := randomKernel([3]int{3, 3, 3}, 1)
	if _, err := b.Convolve(vol.New([3]int{4, 4, 4}), k, gpu); !fault.IsResource(err) {
		t.Errorf("error=%v; want resource error without native library", err)
	}

	n := &shiftNative{}
	device.RegisterNative(n)
	defer device.RegisterNative(nil)
	in := randomVolume([3]int{4, 4, 4}, 2)
	c := &Convolver{Backend: NewMixedBackend(vol.PadZero, 1), Pool: device.NewPool([]device.Device{gpu}), Pad: vol.PadZero}
	if _, err := c.ConvolveMany(in, []*Kernel{k, k}); err != nil {
		t.Fatal(err)
	}
	if n.calls != 2 {
		t.Errorf("native library called %d times; want 2", n.calls)
	}
}

func cachedSpectra(k *Kernel) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.spectra)
}

// records the dimensions of all blocks it convolves
type recordingBackend struct {
	Backend
	mu   sync.Mutex
	dims map[[3]int]int
}

func (r *recordingBackend) Convolve(block *vol.Volume, k *Kernel, dev device.Device) (*vol.Volume, error) {
	r.mu.Lock()
	r.dims[block.Dims]++
	r.mu.Unlock()
	return r.Backend.Convolve(block, k, dev)
}

func TestBlocksShareOneSpectrum(t *testing.T) {
	in := randomVolume([3]int{24, 20, 18}, 12)
	k := randomKernel([3]int{5, 5, 5}, 13)
	rec := &recordingBackend{Backend: &CPUBackend{Pad: vol.PadEdge, Threads: 2}, dims: map[[3]int]int{}}
	c := NewConvolver([]device.Device{cpuDevice()}, [3]int{7, 8, 5}, vol.PadEdge, 2)
	c.Backend = rec

	got, err := c.Convolve(in, k)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.dims) != 1 || rec.dims[[3]int{11, 12, 9}] != 4*3*4 {
		t.Errorf("block dimensions %v; want 48 blocks of [11 12 9]", rec.dims)
	}
	if n := cachedSpectra(k); n != 1 {
		t.Errorf("kernel caches %d spectra; want 1", n)
	}
	if d := maxRelDiff(got, direct(in, k.Vol, vol.PadEdge)); d > 1e-5 {
		t.Errorf("blocked result differs from direct reference by %g", d)
	}

	if _, err := c.Convolve(in, k.Flipped()); err != nil {
		t.Fatal(err)
	}
	k.Release()
	if cachedSpectra(k) != 0 || cachedSpectra(k.Flipped()) != 0 {
		t.Errorf("release left %d and %d spectra", cachedSpectra(k), cachedSpectra(k.Flipped()))
	}
}
