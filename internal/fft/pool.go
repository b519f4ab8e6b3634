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

package fft

import (
	"runtime"
	"sync"
)

// Pool of constant sized complex arrays, to reduce memory allocation overhead for
// padded convolution buffers, which are reused for every block of every iteration
var poolComplex128 = struct {
	sync.RWMutex
	m map[int]*sync.Pool
}{m: make(map[int]*sync.Pool)}

// Clears all memory pools and triggers garbage collection
func ClearPools() {
	poolComplex128.Lock()
	poolComplex128.m = make(map[int]*sync.Pool)
	poolComplex128.Unlock()
	runtime.GC()
}

// Returns a pool for complex128 arrays of the given size
func getSizedPoolComplex128(size int) *sync.Pool {
	poolComplex128.RLock()
	pool := poolComplex128.m[size]
	poolComplex128.RUnlock()
	if pool == nil {
		pool = &sync.Pool{
			New: func() interface{} {
				return make([]complex128, size)
			},
		}
		poolComplex128.Lock()
		if existing := poolComplex128.m[size]; existing != nil {
			pool = existing
		} else {
			poolComplex128.m[size] = pool
		}
		poolComplex128.Unlock()
	}
	return pool
}

// Retrieves an array of given size from pool. Contents are undefined
func GetComplex128(size int) []complex128 {
	pool := getSizedPoolComplex128(size)
	return pool.Get().([]complex128)
}

// Returns an array to the pool
func PutComplex128(arr []complex128) {
	pool := getSizedPoolComplex128(cap(arr))
	pool.Put(arr[:cap(arr)])
}
