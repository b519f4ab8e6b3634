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

package decon

import (
	"fmt"
	"math"

	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/prep"
	"github.com/valyala/fastrand"
)

// Ordered subset acceleration: how many groups the views are split into.
// Each iteration applies the update of one group only
type OSEM interface {
	fmt.Stringer
	// Raw speedup factor before rounding and clamping
	factor(o prep.OverlapStats) float64
}

// A fixed number of groups. Fixed{1} updates with all views in every iteration
type Fixed struct{ N int }

// As many groups as the minimal number of views overlapping in any covered voxel
type MinOverlap struct{}

// As many groups as the average number of views overlapping per covered voxel
type AvgOverlap struct{}

// A user supplied speedup factor
type Manual struct{ Value float64 }

func (o Fixed) factor(prep.OverlapStats) float64 {
	return float64(o.N)
}

func (MinOverlap) factor(s prep.OverlapStats) float64 {
	return s.Min
}

func (AvgOverlap) factor(s prep.OverlapStats) float64 {
	return s.Avg
}

func (o Manual) factor(prep.OverlapStats) float64 {
	return o.Value
}

func (o Fixed) String() string {
	return fmt.Sprintf("fixed(%d)", o.N)
}

func (MinOverlap) String() string {
	return "minOverlap"
}

func (AvgOverlap) String() string {
	return "avgOverlap"
}

func (o Manual) String() string {
	return fmt.Sprintf("manual(%g)", o.Value)
}

// Parses an OSEM mode name. The value is used by the fixed and manual modes
func ParseOSEM(s string, value float64) (OSEM, error) {
	switch s {
	case "fixed", "":
		n := int(math.Round(value))
		if n < 1 {
			n = 1
		}
		return Fixed{N: n}, nil
	case "minOverlap":
		return MinOverlap{}, nil
	case "avgOverlap":
		return AvgOverlap{}, nil
	case "manual":
		if value <= 0 {
			return nil, fault.Config("manual OSEM speedup must be positive, got %g", value)
		}
		return Manual{Value: value}, nil
	}
	return nil, fault.Config("unknown OSEM mode '%s'", s)
}

// Returns the number of groups for the given overlap, rounded and clamped to [1, numViews]
func Speedup(o OSEM, stats prep.OverlapStats, numViews int) int {
	s := int(math.Round(o.factor(stats)))
	if s > numViews {
		s = numViews
	}
	if s < 1 {
		s = 1
	}
	return s
}

// Splits n views into s groups round-robin. A non-zero seed shuffles the view order first,
// deterministically for the seed
func Groups(n, s int, seed uint32) [][]int {
	if s < 1 {
		s = 1
	}
	if s > n {
		s = n
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if seed != 0 {
		rng := fastrand.RNG{}
		rng.Seed(seed)
		for i := n - 1; i > 0; i-- {
			j := int(rng.Uint32n(uint32(i + 1)))
			order[i], order[j] = order[j], order[i]
		}
	}
	groups := make([][]int, s)
	for i, v := range order {
		groups[i%s] = append(groups[i%s], v)
	}
	return groups
}
