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

package dataset

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/geom"
	"github.com/mlnoga/spimfuse/internal/vol"
)

// Identifies one acquisition
type ViewID struct {
	Timepoint    int `yaml:"timepoint" json:"timepoint"`
	Channel      int `yaml:"channel" json:"channel"`
	Angle        int `yaml:"angle" json:"angle"`
	Illumination int `yaml:"illumination" json:"illumination"`
}

func (id ViewID) String() string {
	return fmt.Sprintf("TP%d Ch%d Ang%d Ill%d", id.Timepoint, id.Channel, id.Angle, id.Illumination)
}

// One registered 3D acquisition. Immutable after loading, except for the cached pixels
type View struct {
	ID           ViewID
	Dims         [3]int                 // raw pixel dimensions
	Calibration  r3.Vector              // voxel size per axis
	Registration geom.Affine            // maps calibrated local coordinates into the fused frame
	Present      bool                   // false if the view is missing for its timepoint
	ImageFile    string                 // volume file holding the pixels
	PSFFile      string                 // optional external PSF for this view
	Beads        map[string][]r3.Vector // correspondence points per label, in local pixel coordinates

	mu     sync.Mutex
	loaded bool
	image  *vol.Volume
	err    error
}

// Creates a view whose pixels are already in memory
func NewInMemoryView(id ViewID, img *vol.Volume, registration geom.Affine) *View {
	v := &View{
		ID:           id,
		Dims:         img.Dims,
		Calibration:  r3.Vector{X: 1, Y: 1, Z: 1},
		Registration: registration,
		Present:      true,
		image:        img,
		loaded:       true,
	}
	return v
}

// Model maps local pixel coordinates into the fused frame: the registration
// applied after scaling with the calibration relative to the x axis
func (v *View) Model() geom.Affine {
	c := v.Calibration
	if c.X == 0 || c.Y == 0 || c.Z == 0 {
		return v.Registration
	}
	scale := geom.Scaling(r3.Vector{X: 1, Y: c.Y / c.X, Z: c.Z / c.X})
	return v.Registration.Compose(scale)
}

// Returns the pixels of the view, loading them on first use after creation or unloading
func (v *View) Image() (*vol.Volume, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.loaded {
		return v.image, v.err
	}
	v.loaded = true
	if v.ImageFile == "" {
		v.err = fault.Data("%v has no image", v.ID)
		return nil, v.err
	}
	v.image, v.err = vol.ReadFile(v.ImageFile)
	if v.err == nil && v.image.Dims != v.Dims {
		v.err = fault.Data("%v: image %s has dimensions %v, expected %v", v.ID, v.ImageFile, v.image.Dims, v.Dims)
		v.image = nil
	}
	return v.image, v.err
}

// Drops the cached pixels of a view backed by a file, so they are read again on next use.
// Views created in memory keep their pixels
func (v *View) Unload() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ImageFile == "" {
		return
	}
	v.loaded, v.image, v.err = false, nil, nil
}

// A collection of views
type Dataset struct {
	Dir   string // base directory for relative file names
	Views []*View
}

// All views of one (timepoint, channel), sorted by angle and illumination
type Batch struct {
	Timepoint int
	Channel   int
	Views     []*View
}

// Output name of a batch
func (b *Batch) Name() string { return fmt.Sprintf("TP%d_Ch%d", b.Timepoint, b.Channel) }

// Returns the views of the batch which are present
func (b *Batch) Present() []*View {
	out := make([]*View, 0, len(b.Views))
	for _, v := range b.Views {
		if v.Present {
			out = append(out, v)
		}
	}
	return out
}

// Groups the views by (timepoint, channel). Batches are ordered by timepoint, then channel
func (ds *Dataset) Batches() []*Batch {
	index := map[[2]int]*Batch{}
	var batches []*Batch
	for _, v := range ds.Views {
		key := [2]int{v.ID.Timepoint, v.ID.Channel}
		b := index[key]
		if b == nil {
			b = &Batch{Timepoint: v.ID.Timepoint, Channel: v.ID.Channel}
			index[key] = b
			batches = append(batches, b)
		}
		b.Views = append(b.Views, v)
	}
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].Timepoint != batches[j].Timepoint {
			return batches[i].Timepoint < batches[j].Timepoint
		}
		return batches[i].Channel < batches[j].Channel
	})
	for _, b := range batches {
		sort.Slice(b.Views, func(i, j int) bool {
			a, c := b.Views[i].ID, b.Views[j].ID
			if a.Angle != c.Angle {
				return a.Angle < c.Angle
			}
			return a.Illumination < c.Illumination
		})
	}
	return batches
}

// Returns all views of the given timepoint and channel
func (ds *Dataset) ViewsOf(timepoint, channel int) []*View {
	var out []*View
	for _, v := range ds.Views {
		if v.ID.Timepoint == timepoint && v.ID.Channel == channel {
			out = append(out, v)
		}
	}
	return out
}

// Returns the sorted list of distinct channels
func (ds *Dataset) Channels() []int {
	seen := map[int]bool{}
	var chs []int
	for _, v := range ds.Views {
		if !seen[v.ID.Channel] {
			seen[v.ID.Channel] = true
			chs = append(chs, v.ID.Channel)
		}
	}
	sort.Ints(chs)
	return chs
}

// Resolves a file name relative to the dataset directory
func (ds *Dataset) Path(name string) string {
	if name == "" || filepath.IsAbs(name) || ds.Dir == "" {
		return name
	}
	return filepath.Join(ds.Dir, name)
}
