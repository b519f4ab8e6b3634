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

package ops

import (
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/vol"
)

func TestMaterializeAll(t *testing.T) {
	var running, maxRunning int32
	ins := make([]Promise, 10)
	for i := range ins {
		i := i
		ins[i] = func() (*vol.Volume, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			defer atomic.AddInt32(&running, -1)
			if i%4 == 3 {
				return nil, fault.Data("view %d missing", i)
			}
			v := vol.New([3]int{1, 1, 1})
			v.Data[0] = float32(i)
			return v, nil
		}
	}
	outs, err := MaterializeAll(ins, 3)
	if !fault.IsData(err) || !strings.Contains(err.Error(), "view 3") || !strings.Contains(err.Error(), "view 7") {
		t.Errorf("error=%v; want joined data errors for views 3 and 7", err)
	}
	if maxRunning > 3 {
		t.Errorf("%d promises ran concurrently; want at most 3", maxRunning)
	}
	for i, o := range outs {
		if (o == nil) != (i%4 == 3) {
			t.Errorf("output %d=%v", i, o)
		} else if o != nil && o.Data[0] != float32(i) {
			t.Errorf("output %d out of order, holds %g", i, o.Data[0])
		}
	}
}

func TestPlan(t *testing.T) {
	c := &Context{Log: io.Discard, MemoryMB: 1000, WorkMemoryMB: 700, MaxThreads: 8}
	cases := []struct {
		jobs                   int
		jobMiB, resMiB, fixMiB int64
		want                   int
	}{
		{4, 10, 10, 0, 4},
		{20, 100, 10, 0, 5},
		{3, 300, 50, 100, 1},
	}
	for _, cs := range cases {
		b, err := Plan(c, cs.jobs, cs.jobMiB, cs.resMiB, cs.fixMiB)
		if err != nil {
			t.Fatal(err)
		}
		if b.Threads != cs.want {
			t.Errorf("Plan(%d,%d,%d,%d) threads=%d; want %d", cs.jobs, cs.jobMiB, cs.resMiB, cs.fixMiB, b.Threads, cs.want)
		}
		if b.TotalMiB() > int64(c.WorkMemoryMB) {
			t.Errorf("plan %+v exceeds work memory", b)
		}
	}
	if _, err := Plan(c, 2, 800, 0, 0); !fault.IsResource(err) {
		t.Errorf("error=%v; want resource error", err)
	}
}

func TestIsPathAllowed(t *testing.T) {
	for p, want := range map[string]bool{"data/views.yaml": true, "/etc/passwd": false, "../x": false} {
		if got := IsPathAllowed(p); got != want {
			t.Errorf("IsPathAllowed(%q)=%v; want %v", p, got, want)
		}
	}
}
