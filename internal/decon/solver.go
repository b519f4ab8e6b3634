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

// Package decon implements multi-view Richardson-Lucy deconvolution of aligned views,
// with ordered subset acceleration and optional Tikhonov regularization.
package decon

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mlnoga/spimfuse/internal/conv"
	"github.com/mlnoga/spimfuse/internal/dataset"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/prep"
	"github.com/mlnoga/spimfuse/internal/vol"
)

// How the estimate is initialized
type Initial int

const (
	InitAverage  Initial = iota // weighted average of the views
	InitConstant                // constant mean intensity
)

func (i Initial) String() string {
	if i == InitConstant {
		return "constant"
	}
	return "average"
}

func ParseInitial(s string) (Initial, error) {
	switch s {
	case "average", "":
		return InitAverage, nil
	case "constant":
		return InitConstant, nil
	}
	return InitAverage, fault.Config("unknown initial estimate '%s'", s)
}

// Receives intermediate estimates. The volume must not be retained beyond the call
type Observer func(iteration int, psi *vol.Volume)

// Solver settings
type Options struct {
	Mode          Mode
	OSEM          OSEM
	ShuffleSeed   uint32 // non-zero: shuffle views before grouping
	Iterations    int
	Tikhonov      bool
	Lambda        float64
	Initial       Initial
	DebugInterval int      // call the observer every n iterations, if positive
	Observer      Observer // optional
}

func (o Options) Validate() error {
	if o.Mode == nil {
		return fault.Config("no iteration mode")
	}
	if _, ok := o.Mode.(OverlapOnly); ok {
		return nil
	}
	if o.OSEM == nil {
		return fault.Config("no OSEM mode")
	}
	if o.Iterations < 1 {
		return fault.Config("number of iterations must be positive, got %d", o.Iterations)
	}
	if o.Lambda < 0 {
		return fault.Config("lambda must not be negative, got %g", o.Lambda)
	}
	return nil
}

// Phase of a solver run
type Phase int

const (
	PhaseInit Phase = iota
	PhaseIterating
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseIterating:
		return "ITERATING"
	}
	return "DONE"
}

// One view as seen by the solver
type view struct {
	image  *vol.Volume
	weight *vol.Volume
	kernel *conv.Kernel
}

// The estimate and iteration counter of one solver run. Never shared between runs
type State struct {
	Phase     Phase
	Iteration int
	Psi       *vol.Volume
	Groups    [][]int

	views []*view
	conv  *conv.Convolver
	opts  Options
}

// Deconvolves one batch of aligned views
type Solver struct {
	Convolver *conv.Convolver
	Options   Options
	Log       io.Writer
}

// Runs the solver to completion and returns the final estimate. The context is checked
// between iterations. On cancellation no estimate is returned
func (sv *Solver) Run(ctx context.Context, name string, views []*prep.AlignedView) (*vol.Volume, error) {
	if err := sv.Options.Validate(); err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, fault.Data("%s: no views to deconvolve", name)
	}
	_, overlapOnly := sv.Options.Mode.(OverlapOnly)
	if err := checkViews(views, !overlapOnly); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	stats, err := prep.Overlap(views)
	if err != nil {
		return nil, err
	}
	if overlapOnly {
		fmt.Fprintf(sv.Log, "%s: %v, returning weight overlap map\n", name, stats)
		return stats.Map, nil
	}

	s, err := sv.NewState(views, stats)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer s.Release()
	fmt.Fprintf(sv.Log, "%s: %v, OSEM %v gives %d groups, mode %v, %d iterations, estimated memory %d MiB\n",
		name, stats, sv.Options.OSEM, len(s.Groups), sv.Options.Mode, sv.Options.Iterations, s.EstimateMiB())

	for s.Phase != PhaseDone {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		if err := s.Step(); err != nil {
			return nil, fmt.Errorf("%s: iteration %d: %w", name, s.Iteration+1, err)
		}
		fmt.Fprintf(sv.Log, "%s: iteration %d/%d took %v, %v\n", name, s.Iteration, sv.Options.Iterations,
			time.Since(start).Round(time.Millisecond), s.Psi.Stats())
	}
	return s.Psi, nil
}

// Checks that every view carries an image and a weight of the same dimensions,
// and a PSF if kernels are required
func checkViews(views []*prep.AlignedView, kernels bool) error {
	var dims [3]int
	for i, av := range views {
		if av == nil || av.Image == nil || av.Weight == nil {
			id := dataset.ViewID{}
			if av != nil {
				id = av.ID
			}
			return fault.Data("%v: missing transformed image or weight", id)
		}
		if kernels && av.Kernel == nil {
			return fault.Data("%v: missing PSF", av.ID)
		}
		if i == 0 {
			dims = av.Image.Dims
		}
		if av.Image.Dims != dims || av.Weight.Dims != dims {
			return fault.Data("%v: dimensions differ from %v", av.ID, dims)
		}
	}
	return nil
}

// Initializes the state for the given views: wraps the kernels, groups the views
// and computes the initial estimate
func (sv *Solver) NewState(views []*prep.AlignedView, stats prep.OverlapStats) (*State, error) {
	if len(views) == 0 {
		return nil, fault.Data("no views to deconvolve")
	}
	if err := checkViews(views, true); err != nil {
		return nil, err
	}
	s := &State{Phase: PhaseInit, conv: sv.Convolver, opts: sv.Options}
	dims := views[0].Image.Dims
	var maxR [3]int
	for _, av := range views {
		k, err := conv.NewKernel(av.Kernel)
		if err != nil {
			return nil, err
		}
		for d, r := range k.Radius() {
			if r > maxR[d] {
				maxR[d] = r
			}
		}
		s.views = append(s.views, &view{image: av.Image, weight: av.Weight, kernel: k})
	}
	// each view caches the spectra of its kernel and of the flipped kernel
	if err := sv.Convolver.Check(dims, maxR, 2*len(views)); err != nil {
		return nil, err
	}

	speedup := Speedup(sv.Options.OSEM, stats, len(views))
	s.Groups = Groups(len(views), speedup, sv.Options.ShuffleSeed)

	avg, err := prep.WeightedAverage(views)
	if err != nil {
		return nil, err
	}
	s.Psi = avg
	if sv.Options.Initial == InitConstant {
		// mean intensity over the voxels covered by any view
		sum, n := 0.0, 0
		for j, w := range stats.Map.Data {
			if w > 0 {
				sum += float64(avg.Data[j])
				n++
			}
		}
		mean := float32(0)
		if n > 0 {
			mean = float32(sum / float64(n))
		}
		s.Psi.Fill(mean)
	}
	s.Phase = PhaseIterating
	return s, nil
}

// Runs one iteration, applying the group of the current iteration
func (s *State) Step() error {
	if s.Phase != PhaseIterating {
		return fault.Config("cannot iterate in phase %v", s.Phase)
	}
	group := s.Groups[s.Iteration%len(s.Groups)]
	if err := s.opts.Mode.step(s, group); err != nil {
		return err
	}
	s.Iteration++
	if s.opts.Observer != nil && s.opts.DebugInterval > 0 && s.Iteration%s.opts.DebugInterval == 0 {
		s.opts.Observer(s.Iteration, s.Psi)
	}
	if s.Iteration >= s.opts.Iterations {
		s.Phase = PhaseDone
	}
	return nil
}

// Drops the cached kernel spectra of all views
func (s *State) Release() {
	for _, v := range s.views {
		v.kernel.Release()
	}
}

// Estimated memory of the run in MiB: images and weights of all views, the estimate,
// and the temporaries of one group update
func (s *State) EstimateMiB() int64 {
	vox := int64(s.Psi.Len())
	maxGroup := 0
	for _, g := range s.Groups {
		if len(g) > maxGroup {
			maxGroup = len(g)
		}
	}
	volumes := int64(2*len(s.views)) + 1 + int64(2*maxGroup) + 2
	return (volumes*vox*4 + vox*8) / 1024 / 1024
}
