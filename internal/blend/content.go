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

package blend

import (
	"math"

	"github.com/mlnoga/spimfuse/internal/vol"
)

// Area under the normal distribution with mean mu and deviation sigma left of x
func gaussianDefiniteIntegral(mu, sigma, x float64) float64 {
	return 0.5 * (1 + math.Erf((x-mu)/(sigma*math.Sqrt2)))
}

// Returns a normalized 1D Gaussian kernel, discretized by integrating over each pixel.
// The kernel is truncated where less than 1% of the area lies outside
func GaussianKernel1D(sigma float64) []float32 {
	radius := 0
	for gaussianDefiniteIntegral(0, sigma, -0.5-float64(radius)) >= 0.01 {
		radius++
	}
	if radius > 0 {
		radius--
	}
	kernel := make([]float32, 2*radius+1)
	sum := 0.0
	lower := gaussianDefiniteIntegral(0, sigma, -0.5-float64(radius))
	for i := 0; i <= radius; i++ {
		upper := gaussianDefiniteIntegral(0, sigma, -0.5-float64(radius)+float64(i+1))
		kernel[i] = float32(upper - lower)
		sum += upper - lower
		lower = upper
	}
	// mirror the left half
	for i := 1; i <= radius; i++ {
		kernel[radius+i] = kernel[radius-i]
		sum += float64(kernel[radius-i])
	}
	for i := range kernel {
		kernel[i] = float32(float64(kernel[i]) / sum)
	}
	return kernel
}

// Reflects an index at the borders of an axis of the given size
func reflect(size, x int) int {
	for x < 0 || x >= size {
		if x < 0 {
			x = -x - 1
		}
		if x >= size {
			x = 2*size - x - 1
		}
	}
	return x
}

// Separable Gaussian filter along all three axes, reflecting at the borders
func GaussFilter3D(v *vol.Volume, sigma float64) *vol.Volume {
	kernel := GaussianKernel1D(sigma)
	k := len(kernel) / 2
	cur, next := vol.New(v.Dims), vol.New(v.Dims)
	copy(cur.Data, v.Data)
	stride := [3]int{1, v.Dims[0], v.Dims[0] * v.Dims[1]}
	for d := 0; d < 3; d++ {
		if v.Dims[d] < 2 {
			continue
		}
		for z := 0; z < v.Dims[2]; z++ {
			for y := 0; y < v.Dims[1]; y++ {
				for x := 0; x < v.Dims[0]; x++ {
					pos := [3]int{x, y, z}
					base := v.Index(x, y, z) - pos[d]*stride[d]
					sum := float32(0)
					for i := -k; i <= k; i++ {
						sum += cur.Data[base+reflect(v.Dims[d], pos[d]+i)*stride[d]] * kernel[i+k]
					}
					next.Data[v.Index(x, y, z)] = sum
				}
			}
		}
		cur, next = next, cur
	}
	return cur
}

// Content-based weights of an image: the local variance of the image around its
// smoothed version, smoothed again and scaled to the range [Floor, 1]. Textured regions
// get high weights, flat or blurry regions low ones
func ContentWeights(img *vol.Volume, sigma1, sigma2 float64) *vol.Volume {
	smooth := GaussFilter3D(img, sigma1)
	for i, d := range img.Data {
		diff := d - smooth.Data[i]
		smooth.Data[i] = diff * diff
	}
	out := GaussFilter3D(smooth, sigma2)
	max := float32(0)
	for _, d := range out.Data {
		if d > max {
			max = d
		}
	}
	for i, d := range out.Data {
		w := float32(1)
		if max > 0 {
			w = d / max
		}
		if w < Floor {
			w = Floor
		}
		out.Data[i] = w
	}
	return out
}
