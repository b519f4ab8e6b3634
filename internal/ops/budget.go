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
	"fmt"

	"github.com/mlnoga/spimfuse/internal/fault"
)

// Memory plan for running a number of equally sized jobs in parallel
type Budget struct {
	Jobs      int   // number of jobs
	Threads   int   // jobs running concurrently
	JobMiB    int64 // transient memory per running job
	ResultMiB int64 // memory retained per finished job
	FixedMiB  int64 // memory needed independent of the jobs
}

// Finds the highest concurrency for which all job results, the fixed memory and the
// transient memory of the running jobs fit into the work memory of the context.
// Fails if not even a single thread fits
func Plan(c *Context, jobs int, jobMiB, resultMiB, fixedMiB int64) (Budget, error) {
	b := Budget{Jobs: jobs, JobMiB: jobMiB, ResultMiB: resultMiB, FixedMiB: fixedMiB}
	if jobs < 1 {
		b.Threads = 1
		return b, nil
	}
	available := int64(c.WorkMemoryMB) - fixedMiB - int64(jobs)*resultMiB
	fmt.Fprintf(c.Log, "%d jobs need %d MiB for results and %d MiB fixed, %d MiB each while running. Physical memory is %d MiB, work memory is %d MiB.\n",
		jobs, int64(jobs)*resultMiB, fixedMiB, jobMiB, c.MemoryMB, c.WorkMemoryMB)

	maxThreads := c.MaxThreads
	if maxThreads > jobs {
		maxThreads = jobs
	}
	for b.Threads = maxThreads; b.Threads >= 1; b.Threads-- {
		if int64(b.Threads)*jobMiB <= available {
			break
		}
	}
	if b.Threads < 1 {
		return b, fault.Resource("cannot find an execution path within %d MiB of work memory", c.WorkMemoryMB)
	}
	fmt.Fprintf(c.Log, "Using %d jobs in parallel, %d MiB in total.\n", b.Threads, b.TotalMiB())
	return b, nil
}

// Total memory of the plan in MiB
func (b Budget) TotalMiB() int64 {
	return b.FixedMiB + int64(b.Jobs)*b.ResultMiB + int64(b.Threads)*b.JobMiB
}
