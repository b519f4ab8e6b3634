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
	"math"

	"github.com/mlnoga/spimfuse/internal/conv"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/vol"
)

// Floor for the forward projection in the Richardson-Lucy ratio
const Epsilon = 1e-6

// How the per-view corrections of a group are combined into a new estimate
type Mode interface {
	String() string
	// Applies one update with the views of the given group to the state estimate
	step(s *State, group []int) error
}

// Shares the forward transform of the estimate across views and backprojects the
// weighted ratios of all views with a single inverse transform per block. Fast, approximate
type Opt2 struct{}

// The Bayesian product update, with the forward transform of the estimate shared across views
type Opt1 struct{}

// The multi-view Bayesian product update: psi * prod_v b_v^(w_v/sum w)
type Bayesian struct{}

// Single-view Richardson-Lucy updates applied one view after the other, each relaxed by its weight
type Independent struct{}

// No deconvolution. The result is the per-voxel sum of the blending weights
type OverlapOnly struct{}

func (Opt2) String() string        { return "opt2" }
func (Opt1) String() string        { return "opt1" }
func (Bayesian) String() string    { return "bayesian" }
func (Independent) String() string { return "independent" }
func (OverlapOnly) String() string { return "overlapOnly" }

// Parses an iteration mode name
func ParseMode(s string) (Mode, error) {
	switch s {
	case "opt2":
		return Opt2{}, nil
	case "opt1", "":
		return Opt1{}, nil
	case "bayesian":
		return Bayesian{}, nil
	case "independent":
		return Independent{}, nil
	case "overlapOnly":
		return OverlapOnly{}, nil
	}
	return nil, fault.Config("unknown iteration mode '%s'", s)
}

func (Independent) step(s *State, group []int) error {
	for _, i := range group {
		v := s.views[i]
		b, err := s.backproject(v, nil)
		if err != nil {
			return err
		}
		psi := s.Psi.Data
		for j, w := range v.weight.Data {
			if w <= 0 {
				continue
			}
			cand := s.regularize(float64(psi[j]) * float64(b.Data[j]))
			psi[j] += float32(float64(w) * (cand - float64(psi[j])))
		}
	}
	return nil
}

func (Bayesian) step(s *State, group []int) error {
	return s.product(group, nil)
}

func (Opt1) step(s *State, group []int) error {
	ks := make([]*conv.Kernel, len(group))
	for gi, i := range group {
		ks[gi] = s.views[i].kernel
	}
	cs, err := s.conv.ConvolveMany(s.Psi, ks)
	if err != nil {
		return err
	}
	return s.product(group, cs)
}

func (Opt2) step(s *State, group []int) error {
	ks := make([]*conv.Kernel, len(group))
	flipped := make([]*conv.Kernel, len(group))
	for gi, i := range group {
		ks[gi] = s.views[i].kernel
		flipped[gi] = s.views[i].kernel.Flipped()
	}
	cs, err := s.conv.ConvolveMany(s.Psi, ks)
	if err != nil {
		return err
	}
	wsum := s.weightSum(group)
	for gi, i := range group {
		v, c := s.views[i], cs[gi]
		for j, g := range v.image.Data {
			c.Data[j] = v.weight.Data[j] * ratio(g, c.Data[j])
		}
	}
	sum, err := s.conv.ConvolveSum(cs, flipped)
	if err != nil {
		return err
	}
	psi := s.Psi.Data
	for j, ws := range wsum {
		if ws <= 0 {
			continue
		}
		psi[j] = float32(s.regularize(float64(psi[j]) * float64(sum.Data[j]) / ws))
	}
	return nil
}

func (OverlapOnly) step(s *State, group []int) error {
	return fault.Config("overlapOnly mode does not iterate")
}

// Bayesian product update over the group. Forward projections may be supplied precomputed
func (s *State) product(group []int, forward []*vol.Volume) error {
	wsum := s.weightSum(group)
	prod := make([]float64, s.Psi.Len())
	for j := range prod {
		prod[j] = 1
	}
	for gi, i := range group {
		v := s.views[i]
		var c *vol.Volume
		if forward != nil {
			c = forward[gi]
		}
		b, err := s.backproject(v, c)
		if err != nil {
			return err
		}
		for j, w := range v.weight.Data {
			if w <= 0 || wsum[j] <= 0 {
				continue
			}
			prod[j] *= math.Pow(float64(b.Data[j]), float64(w)/wsum[j])
		}
	}
	psi := s.Psi.Data
	for j, ws := range wsum {
		if ws <= 0 {
			continue
		}
		psi[j] = float32(s.regularize(float64(psi[j]) * prod[j]))
	}
	return nil
}

// Returns conv(g/max(conv(psi,h),eps), flip h) for one view. The forward projection
// conv(psi,h) is computed unless given
func (s *State) backproject(v *view, forward *vol.Volume) (*vol.Volume, error) {
	c := forward
	if c == nil {
		var err error
		if c, err = s.conv.Convolve(s.Psi, v.kernel); err != nil {
			return nil, err
		}
	}
	r := vol.New(c.Dims)
	for j, g := range v.image.Data {
		r.Data[j] = ratio(g, c.Data[j])
	}
	return s.conv.Convolve(r, v.kernel.Flipped())
}

// Per-voxel sum of the weights of the group
func (s *State) weightSum(group []int) []float64 {
	wsum := make([]float64, s.Psi.Len())
	for _, i := range group {
		for j, w := range s.views[i].weight.Data {
			wsum[j] += float64(w)
		}
	}
	return wsum
}

// Tikhonov regularized update of a candidate estimate, or the candidate if disabled
func (s *State) regularize(cand float64) float64 {
	if !s.opts.Tikhonov || s.opts.Lambda <= 0 || cand <= 0 {
		return cand
	}
	return (math.Sqrt(1+2*s.opts.Lambda*cand) - 1) / s.opts.Lambda
}

func ratio(g, c float32) float32 {
	if c < Epsilon {
		c = Epsilon
	}
	return g / c
}
