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

// Package fft implements separable 3D discrete Fourier transforms on top of
// the one-dimensional transforms of gonum.
package fft

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Returns the smallest size >= n whose only prime factors are 2, 3 and 5
func GoodSize(n int) int {
	if n <= 1 {
		return 1
	}
	for m := n; ; m++ {
		r := m
		for _, p := range []int{2, 3, 5} {
			for r%p == 0 {
				r /= p
			}
		}
		if r == 1 {
			return m
		}
	}
}

// Returns the per-axis good sizes
func GoodSizes(dims [3]int) [3]int {
	return [3]int{GoodSize(dims[0]), GoodSize(dims[1]), GoodSize(dims[2])}
}

// Forward 3D transform of the given data in place. Data is ordered x fastest, then y, then z
func Forward(data []complex128, dims [3]int, threads int) {
	transform(data, dims, threads, false)
}

// Inverse 3D transform of the given data in place, normalized by the number of elements
func Inverse(data []complex128, dims [3]int, threads int) {
	transform(data, dims, threads, true)
	scale := complex(1/float64(len(data)), 0)
	for i := range data {
		data[i] *= scale
	}
}

func transform(data []complex128, dims [3]int, threads int, inverse bool) {
	if n := dims[0] * dims[1] * dims[2]; n != len(data) {
		panic(fmt.Sprintf("fft: dimensions %v need %d elements, got %d", dims, n, len(data)))
	}
	if threads < 1 {
		threads = 1
	}
	for axis := 0; axis < 3; axis++ {
		if dims[axis] > 1 {
			transformAxis(data, dims, axis, threads, inverse)
		}
	}
}

// Transforms all lines along the given axis. Lines are split into one work package per thread,
// each with its own gonum transform, as those hold internal work buffers
func transformAxis(data []complex128, dims [3]int, axis, threads int, inverse bool) {
	n := dims[axis]
	numLines := len(data) / n
	var stride int
	switch axis {
	case 0:
		stride = 1
	case 1:
		stride = dims[0]
	default:
		stride = dims[0] * dims[1]
	}
	lineStart := func(l int) int {
		switch axis {
		case 0:
			return l * dims[0]
		case 1:
			x, z := l%dims[0], l/dims[0]
			return x + z*dims[0]*dims[1]
		}
		return l
	}

	numBatches := threads
	if numBatches > numLines {
		numBatches = numLines
	}
	batchSize := (numLines + numBatches - 1) / numBatches
	sem := make(chan bool, threads)
	for lower := 0; lower < numLines; lower += batchSize {
		upper := lower + batchSize
		if upper > numLines {
			upper = numLines
		}
		sem <- true
		go func(lower, upper int) {
			defer func() { <-sem }()
			plan := fourier.NewCmplxFFT(n)
			line, coeffs := make([]complex128, n), make([]complex128, n)
			for l := lower; l < upper; l++ {
				start := lineStart(l)
				for i := 0; i < n; i++ {
					line[i] = data[start+i*stride]
				}
				if inverse {
					plan.Sequence(coeffs, line)
				} else {
					plan.Coefficients(coeffs, line)
				}
				for i := 0; i < n; i++ {
					data[start+i*stride] = coeffs[i]
				}
			}
		}(lower, upper)
	}
	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}
}
