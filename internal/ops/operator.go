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
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/vol"
	"github.com/pbnjay/memory"
)

// An execution context for a fusion run
type Context struct {
	Log          io.Writer
	MemoryMB     int // memory.TotalMemory()/1024/1024
	WorkMemoryMB int // MemoryMB*7/10 unless configured
	MaxThreads   int `json:"maxThreads"`
}

func NewContext(log io.Writer) *Context {
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	return &Context{
		Log:          log,
		MemoryMB:     memoryMB,
		WorkMemoryMB: memoryMB * 7 / 10,
		MaxThreads:   runtime.GOMAXPROCS(0),
	}
}

// Returns a copy of the context with the given memory budget and thread limit, where positive
func (c *Context) With(workMemoryMB, maxThreads int) *Context {
	out := *c
	if workMemoryMB > 0 {
		out.WorkMemoryMB = workMemoryMB
	}
	if maxThreads > 0 {
		out.MaxThreads = maxThreads
	}
	return &out
}

// A promise for a volume. Returns a materialized volume, or an error
type Promise func() (v *vol.Volume, err error)

// Materializes all promises with given concurrency limit. Results keep the order of the
// promises, with nil entries for failed ones. Errors of all failed promises are joined
func MaterializeAll(ins []Promise, maxThreads int) (outs []*vol.Volume, err error) {
	if len(ins) == 0 {
		return nil, nil
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	outs = make([]*vol.Volume, len(ins))
	limiter := make(chan bool, maxThreads)
	errs := make(chan error, len(ins))
	for i, in := range ins {
		limiter <- true
		go func(i int, theIn Promise) {
			defer func() { <-limiter }()
			v, err := theIn() // materialize the promise
			outs[i] = v
			errs <- err
		}(i, in)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	for i := 0; i < len(ins); i++ { // collect errors
		err = fault.Join(err, <-errs)
	}
	return outs, err
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func IsPathAllowed(p string) bool {
	if filepath.IsAbs(p) {
		return false // relative paths only
	}
	if strings.Contains(p, "..") {
		return false // no going outside the tree
	}
	return true
}
