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
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/vol"
)

type fakeNative struct{ count int }

func (f *fakeNative) Name() string { return "fake" }
func (f *fakeNative) NumDevices() (int, error) {
	if f.count < 0 {
		return 0, errors.New("driver not loaded")
	}
	return f.count, nil
}
func (f *fakeNative) DeviceInfo(i int) (string, int64, error) { return "fake device", 2048, nil }
func (f *fakeNative) Convolve(int, []float32, [3]int, []float32, [3]int, vol.Padding) error {
	return nil
}

func TestParseList(t *testing.T) {
	devs, err := ParseList([]string{"cpu", "gpu:1", "3"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"cpu", "gpu:1", "gpu:3"}
	if len(devs) != len(want) {
		t.Fatalf("got %d devices; want %d", len(devs), len(want))
	}
	for i, d := range devs {
		if d.ID() != want[i] {
			t.Errorf("device %d is %s; want %s", i, d.ID(), want[i])
		}
	}

	devs, err = ParseList([]string{"-1"})
	if err != nil || len(devs) != 1 || devs[0].Kind != CPU {
		t.Errorf("-1 should parse as the CPU, got %v %v", devs, err)
	}

	for _, bad := range [][]string{{"tpu"}, {"gpu:x"}, {"cpu", "cpu"}, {"gpu:-2"}} {
		if _, err := ParseList(bad); !fault.IsConfig(err) {
			t.Errorf("ParseList(%v) error=%v; want configuration error", bad, err)
		}
	}
}

func TestSelectFallsBackToCPU(t *testing.T) {
	RegisterNative(nil)
	devs, _ := ParseList([]string{"gpu:0", "gpu:1"})
	got, err := Select(devs, false, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Kind != CPU {
		t.Errorf("got %v; want a single CPU", got)
	}

	if _, err := Select(devs, true, io.Discard); !fault.IsResource(err) {
		t.Errorf("error=%v; want resource error when GPUs are required", err)
	}
}

func TestSelectWithNative(t *testing.T) {
	RegisterNative(&fakeNative{count: 2})
	defer RegisterNative(nil)

	devs, _ := ParseList([]string{"gpu:0", "gpu:1", "cpu"})
	got, err := Select(devs, true, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].MemoryMB != 2048 || got[1].Name != "fake device" {
		t.Errorf("unexpected devices %v", got)
	}

	devs, _ = ParseList([]string{"gpu:5"})
	if _, err := Select(devs, true, io.Discard); !fault.IsResource(err) {
		t.Errorf("error=%v; want resource error for missing index", err)
	}

	RegisterNative(&fakeNative{count: -1})
	if _, err := Select(devs, true, io.Discard); !fault.IsResource(err) {
		t.Errorf("error=%v; want resource error for failing driver", err)
	}
}

func TestCheckBlockMemory(t *testing.T) {
	d := Device{Kind: GPU, Index: 0, MemoryMB: 100}
	if err := CheckBlockMemory(d, [3]int{64, 64, 64}, 1); err != nil {
		t.Errorf("small block rejected: %v", err)
	}
	if err := CheckBlockMemory(d, [3]int{512, 512, 512}, 1); !fault.IsResource(err) {
		t.Errorf("error=%v; want resource error for large block", err)
	}
}

func TestPoolOneJobPerDevice(t *testing.T) {
	p := NewPool([]Device{{Kind: CPU, Index: -1}, {Kind: GPU, Index: 0}, {Kind: GPU, Index: 1}})
	var mu sync.Mutex
	busy := map[int]bool{}
	var maxBusy, count int32
	err := p.RunAll(20, func(i int, d Device) error {
		slot := p.Assign(i)
		if p.Devices()[slot].Index != d.Index {
			t.Errorf("job %d ran on %s; want slot %d", i, d.ID(), slot)
		}
		mu.Lock()
		if busy[slot] {
			t.Errorf("device slot %d used twice concurrently", slot)
		}
		busy[slot] = true
		n := int32(len(busy))
		mu.Unlock()
		for {
			m := atomic.LoadInt32(&maxBusy)
			if n <= m || atomic.CompareAndSwapInt32(&maxBusy, m, n) {
				break
			}
		}
		atomic.AddInt32(&count, 1)
		mu.Lock()
		delete(busy, slot)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 20 {
		t.Errorf("ran %d jobs; want 20", count)
	}
	if maxBusy > 3 {
		t.Errorf("%d devices busy at once; want at most 3", maxBusy)
	}
}

func TestPoolJoinsErrors(t *testing.T) {
	p := NewPool([]Device{HostCPU()})
	boom := fault.Data("boom")
	err := p.RunAll(3, func(i int, d Device) error {
		if i == 1 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("error=%v; want boom", err)
	}
}

func TestAvailable(t *testing.T) {
	RegisterNative(&fakeNative{count: 2})
	defer RegisterNative(nil)
	devs, err := Available()
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 3 || devs[0].Kind != CPU || devs[2].ID() != "gpu:1" || devs[2].MemoryMB != 2048 {
		t.Errorf("got %v", devs)
	}

	RegisterNative(&fakeNative{count: -1})
	devs, err = Available()
	if !fault.IsResource(err) || len(devs) != 1 {
		t.Errorf("got %v, %v; want the CPU and a resource error", devs, err)
	}
}
