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

package psf

import (
	"fmt"
	"io"

	"github.com/mlnoga/spimfuse/internal/dataset"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/vol"
)

// Options for building PSFs
type Options struct {
	Size            [3]int // extraction size, forced odd
	Transform       bool   // resample into the fused frame
	SameForAllViews bool   // file sources: load one file and use it for every view
	Refine          bool   // register beads with sub-pixel shifts before averaging
}

// Normalized PSFs in the fused frame, per view of one timepoint. Each view owns its kernel
type Set struct {
	kernels map[dataset.ViewID]*vol.Volume
	files   map[string]*vol.Volume // raw kernels loaded from file, by path
}

// Returns the kernel of the given view
func (s *Set) Get(id dataset.ViewID) (*vol.Volume, error) {
	k, ok := s.kernels[id]
	if !ok || k == nil {
		return nil, fault.Data("no PSF for %v", id)
	}
	return k, nil
}

func (s *Set) Len() int { return len(s.kernels) }

// Builds the PSFs of all present views of the given timepoint. Providing channels are built
// first, SameAs channels then receive copies of the kernel with matching angle and illumination
func Build(ds *dataset.Dataset, timepoint int, sources map[int]Source, opts Options, logWriter io.Writer) (*Set, error) {
	order, err := ResolveSources(sources, ds.Channels())
	if err != nil {
		return nil, err
	}
	s := &Set{kernels: map[dataset.ViewID]*vol.Volume{}, files: map[string]*vol.Volume{}}
	for _, ch := range order {
		for _, v := range ds.ViewsOf(timepoint, ch) {
			if !v.Present {
				continue
			}
			k, err := s.build(ds, v, sources[ch], opts, logWriter)
			if err != nil {
				return nil, err
			}
			s.kernels[v.ID] = k
		}
	}
	return s, nil
}

// Builds the kernel of one view
func (s *Set) build(ds *dataset.Dataset, v *dataset.View, src Source, opts Options, logWriter io.Writer) (*vol.Volume, error) {
	var k *vol.Volume
	switch src := src.(type) {
	case SameAs:
		ref := v.ID
		ref.Channel = src.Channel
		orig, err := s.Get(ref)
		if err != nil {
			return nil, fault.Data("%v: channel %d has no PSF for angle %d illumination %d",
				v.ID, src.Channel, v.ID.Angle, v.ID.Illumination)
		}
		fmt.Fprintf(logWriter, "%v: copying PSF from %v\n", v.ID, ref)
		return orig.Clone(), nil // already transformed and normalized

	case Extracted:
		img, err := v.Image()
		if err != nil {
			return nil, err
		}
		points := v.Beads[src.Label]
		if len(points) == 0 {
			return nil, fault.Data("%v has no bead correspondences labelled '%s'", v.ID, src.Label)
		}
		var used int
		k, used, err = Extract(img, points, opts.Size, opts.Refine)
		if err != nil {
			return nil, fault.Wrap(fault.KindData, err, "%v", v.ID)
		}
		fmt.Fprintf(logWriter, "%v: extracted %dx%dx%d PSF from %d of %d beads\n",
			v.ID, k.Dims[0], k.Dims[1], k.Dims[2], used, len(points))

	case File:
		path := src.Path
		if !opts.SameForAllViews || path == "" {
			if v.PSFFile != "" {
				path = v.PSFFile
			}
		}
		if path == "" {
			return nil, fault.Config("%v: no PSF file configured", v.ID)
		}
		loaded, ok := s.files[path]
		if !ok {
			var err error
			if loaded, err = vol.ReadFile(ds.Path(path)); err != nil {
				return nil, err
			}
			loaded = MakeOdd(loaded)
			s.files[path] = loaded
		}
		k = loaded.Clone()
		fmt.Fprintf(logWriter, "%v: loaded %dx%dx%d PSF from %s\n", v.ID, k.Dims[0], k.Dims[1], k.Dims[2], path)

	default:
		return nil, fault.Config("%v: unknown PSF source %v", v.ID, src)
	}

	if opts.Transform {
		t, err := Transform(k, v.Model())
		if err != nil {
			return nil, err
		}
		k = t
	}
	if err := Normalize(k); err != nil {
		return nil, fault.Wrap(fault.KindData, err, "%v", v.ID)
	}
	return k, nil
}

// Builds a set from kernels already in the fused frame. The kernels are normalized in place
func NewSet(kernels map[dataset.ViewID]*vol.Volume) (*Set, error) {
	s := &Set{kernels: map[dataset.ViewID]*vol.Volume{}}
	for id, k := range kernels {
		k = MakeOdd(k)
		if err := Normalize(k); err != nil {
			return nil, fault.Wrap(fault.KindData, err, "%v", id)
		}
		s.kernels[id] = k
	}
	return s, nil
}
