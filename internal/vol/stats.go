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

package vol

import (
	"fmt"
	"math"
)

// Basic volume statistics
type Stats struct {
	Min    float32
	Max    float32
	Mean   float32
	StdDev float32
	Sum    float64
	NaNs   int
}

// Calculates basic statistics, ignoring NaNs
func (v *Volume) Stats() Stats {
	s := Stats{Min: float32(math.MaxFloat32), Max: float32(-math.MaxFloat32)}
	sum, sumSq, n := 0.0, 0.0, 0
	for _, d := range v.Data {
		if math.IsNaN(float64(d)) {
			s.NaNs++
			continue
		}
		if d < s.Min {
			s.Min = d
		}
		if d > s.Max {
			s.Max = d
		}
		sum += float64(d)
		sumSq += float64(d) * float64(d)
		n++
	}
	if n == 0 {
		return Stats{NaNs: s.NaNs}
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	s.Mean, s.StdDev, s.Sum = float32(mean), float32(math.Sqrt(variance)), sum
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("Min %.4g Max %.4g Mean %.4g StdDev %.4g", s.Min, s.Max, s.Mean, s.StdDev)
}

// Calculate histogram of data between min and max into given bins
func Histogram(data []float32, min, max float32, bins []int32) {
	for i := range bins {
		bins[i] = 0
	}
	if max <= min {
		bins[0] = int32(len(data))
		return
	}
	scale := float32(len(bins)-1) / (max - min)
	for _, d := range data {
		if math.IsNaN(float64(d)) || d < min || d > max {
			continue
		}
		bins[int((d-min)*scale)]++
	}
}

// Returns the data values at the given low and high percentiles, for scaling previews and
// integer exports. Uses a histogram with the given number of bins
func (v *Volume) DisplayRange(lowPerc, highPerc float32, numBins int) (lo, hi float32) {
	s := v.Stats()
	if s.Max <= s.Min {
		return s.Min, s.Max
	}
	bins := make([]int32, numBins)
	Histogram(v.Data, s.Min, s.Max, bins)
	total := int64(0)
	for _, b := range bins {
		total += int64(b)
	}
	binWidth := (s.Max - s.Min) / float32(numBins-1)
	lowCount, highCount := int64(float32(total)*lowPerc/100), int64(float32(total)*(100-highPerc)/100)

	lo, hi = s.Min, s.Max
	acc := int64(0)
	for i, b := range bins {
		acc += int64(b)
		if acc > lowCount {
			lo = s.Min + float32(i)*binWidth
			break
		}
	}
	acc = 0
	for i := len(bins) - 1; i >= 0; i-- {
		acc += int64(bins[i])
		if acc > highCount {
			hi = s.Min + float32(i+1)*binWidth
			break
		}
	}
	if hi > s.Max {
		hi = s.Max
	}
	if hi <= lo {
		return s.Min, s.Max
	}
	return lo, hi
}
