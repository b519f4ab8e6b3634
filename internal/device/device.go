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

package device

import (
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/cpuid"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/vol"
	"github.com/pbnjay/memory"
)

// Kind of compute device
type Kind int

const (
	CPU Kind = iota
	GPU
)

func (k Kind) String() string {
	if k == GPU {
		return "gpu"
	}
	return "cpu"
}

// A compute device for convolutions
type Device struct {
	Kind     Kind
	Index    int    // GPU index, -1 for the CPU
	Name     string // human readable description
	MemoryMB int64  // total memory available for convolution buffers
	Threads  int    // worker threads, CPU only
}

func (d Device) String() string {
	if d.Kind == CPU {
		return fmt.Sprintf("cpu (%s, %d threads, %d MiB)", d.Name, d.Threads, d.MemoryMB)
	}
	return fmt.Sprintf("gpu:%d (%s, %d MiB)", d.Index, d.Name, d.MemoryMB)
}

// Identifier as used in configuration files
func (d Device) ID() string {
	if d.Kind == CPU {
		return "cpu"
	}
	return fmt.Sprintf("gpu:%d", d.Index)
}

// Describes the CPU of this machine
func HostCPU() Device {
	name := strings.TrimSpace(cpuid.CPU.BrandName)
	if name == "" {
		name = runtime.GOARCH
	}
	if cpuid.CPU.AVX2() {
		name += ", AVX2"
	}
	return Device{
		Kind:     CPU,
		Index:    -1,
		Name:     name,
		MemoryMB: int64(memory.TotalMemory() / 1024 / 1024),
		Threads:  runtime.GOMAXPROCS(0),
	}
}

// Parses an ordered list of device identifiers: "cpu" (or -1) for the CPU, "gpu:N" (or N) for GPU N.
// GPU entries are placeholders until resolved by Select
func ParseList(ids []string) ([]Device, error) {
	if len(ids) == 0 {
		return []Device{HostCPU()}, nil
	}
	var devs []Device
	seen := map[string]bool{}
	for _, id := range ids {
		s := strings.ToLower(strings.TrimSpace(id))
		var d Device
		switch {
		case s == "cpu" || s == "-1":
			d = HostCPU()
		case strings.HasPrefix(s, "gpu:") || strings.HasPrefix(s, "cuda:"):
			n, err := strconv.Atoi(s[strings.Index(s, ":")+1:])
			if err != nil || n < 0 {
				return nil, fault.Config("invalid GPU device '%s'", id)
			}
			d = Device{Kind: GPU, Index: n, Name: "unresolved"}
		default:
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				return nil, fault.Config("invalid device '%s', expected cpu or gpu:N", id)
			}
			d = Device{Kind: GPU, Index: n, Name: "unresolved"}
		}
		if seen[d.ID()] {
			return nil, fault.Config("device %s listed twice", d.ID())
		}
		seen[d.ID()] = true
		devs = append(devs, d)
	}
	return devs, nil
}

// A vendor-accelerated FFT convolution library. Implementations are registered at run time,
// the core never depends on how the native library is loaded
type Native interface {
	Name() string
	// Number of usable devices, or an error if the library cannot initialize
	NumDevices() (int, error)
	// Description and memory of the given device
	DeviceInfo(index int) (name string, totalMB int64, err error)
	// Convolves data with kernel in place on the given device. Kernel dimensions are odd, the
	// kernel is centered, and voxels outside the data follow the padding mode
	Convolve(index int, data []float32, dims [3]int, kernel []float32, kernelDims [3]int, pad vol.Padding) error
}

var nativeMu sync.RWMutex
var native Native

// Registers the native library to use for GPU devices. Passing nil unregisters it
func RegisterNative(n Native) {
	nativeMu.Lock()
	native = n
	nativeMu.Unlock()
}

// Returns the registered native library, if any
func LoadedNative() (Native, bool) {
	nativeMu.RLock()
	defer nativeMu.RUnlock()
	return native, native != nil
}

// Resolves GPU placeholders against the native library. If it is missing or fails, GPU entries
// are replaced by the CPU unless the run requires GPUs, in which case a resource error is returned
func Select(devs []Device, requireGPU bool, logWriter io.Writer) ([]Device, error) {
	var out []Device
	hasCPU := false
	for _, d := range devs {
		if d.Kind == CPU {
			if !hasCPU {
				out = append(out, d)
				hasCPU = true
			}
			continue
		}
		resolved, err := resolveGPU(d)
		if err == nil {
			out = append(out, resolved)
			continue
		}
		if requireGPU {
			return nil, err
		}
		fmt.Fprintf(logWriter, "Warning: %s, falling back to CPU\n", err.Error())
		if !hasCPU {
			out = append(out, HostCPU())
			hasCPU = true
		}
	}
	if len(out) == 0 {
		out = append(out, HostCPU())
	}
	return out, nil
}

// Lists the CPU and all devices of the registered native library. A native library
// failing to initialize contributes no devices, its error is returned alongside the CPU
func Available() ([]Device, error) {
	devs := []Device{HostCPU()}
	n, ok := LoadedNative()
	if !ok {
		return devs, nil
	}
	count, err := n.NumDevices()
	if err != nil {
		return devs, fault.Wrap(fault.KindResource, err, "initializing %s", n.Name())
	}
	for i := 0; i < count; i++ {
		d, err := resolveGPU(Device{Kind: GPU, Index: i})
		if err != nil {
			return devs, err
		}
		devs = append(devs, d)
	}
	return devs, nil
}

func resolveGPU(d Device) (Device, error) {
	n, ok := LoadedNative()
	if !ok {
		return d, fault.Resource("no native GPU library available for gpu:%d", d.Index)
	}
	count, err := n.NumDevices()
	if err != nil {
		return d, fault.Wrap(fault.KindResource, err, "initializing %s", n.Name())
	}
	if d.Index >= count {
		return d, fault.Resource("gpu:%d requested, but %s reports %d devices", d.Index, n.Name(), count)
	}
	name, totalMB, err := n.DeviceInfo(d.Index)
	if err != nil {
		return d, fault.Wrap(fault.KindResource, err, "querying gpu:%d", d.Index)
	}
	d.Name, d.MemoryMB = name, totalMB
	return d, nil
}

// Estimated memory in MiB to convolve one block of the given padded FFT size with the given
// number of kernels. The CPU holds the complex block, one cached spectrum per kernel and one
// scratch buffer. Native libraries work in single precision
func EstimateBlockMB(d Device, paddedDims [3]int, kernels int) int64 {
	n := int64(paddedDims[0]) * int64(paddedDims[1]) * int64(paddedDims[2])
	perElem := int64(16) // complex128
	if d.Kind == GPU {
		perElem = 8 // complex64
	}
	return (n*perElem*int64(2+kernels) + 1024*1024 - 1) / (1024 * 1024)
}

// Checks that a block of the given padded size fits into the device memory
func CheckBlockMemory(d Device, paddedDims [3]int, kernels int) error {
	need := EstimateBlockMB(d, paddedDims, kernels)
	if d.MemoryMB > 0 && need > d.MemoryMB {
		return fault.Resource("%s out of memory for block %v: needs %d MiB, has %d MiB", d.ID(), paddedDims, need, d.MemoryMB)
	}
	return nil
}
