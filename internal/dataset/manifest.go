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
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/geom"
	"gopkg.in/yaml.v3"
)

// On-disk description of a dataset. Views reference volume files, and carry their
// registration and bead correspondences as computed by upstream tools
type Manifest struct {
	Views []ViewEntry `yaml:"views" json:"views"`
}

type ViewEntry struct {
	ViewID       `yaml:",inline" json:",inline"`
	Image        string                  `yaml:"image" json:"image"`
	Dims         [3]int                  `yaml:"dims" json:"dims"`
	Calibration  []float64               `yaml:"calibration,omitempty" json:"calibration,omitempty"`
	Registration []float64               `yaml:"registration,omitempty" json:"registration,omitempty"`
	Present      *bool                   `yaml:"present,omitempty" json:"present,omitempty"`
	PSFFile      string                  `yaml:"psfFile,omitempty" json:"psfFile,omitempty"`
	Beads        map[string][][3]float64 `yaml:"beads,omitempty" json:"beads,omitempty"`
}

// Loads a manifest from a YAML file. Relative file names are resolved against its directory
func LoadManifest(fileName string) (*Dataset, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, err, "reading manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, err, "parsing manifest %s", fileName)
	}
	return m.Dataset(filepath.Dir(fileName))
}

// Builds a dataset from the manifest, validating each entry
func (m *Manifest) Dataset(dir string) (*Dataset, error) {
	ds := &Dataset{Dir: dir}
	seen := map[ViewID]bool{}
	for i, e := range m.Views {
		if seen[e.ViewID] {
			return nil, fault.Config("view %d: duplicate %v", i, e.ViewID)
		}
		seen[e.ViewID] = true
		v, err := e.view(ds)
		if err != nil {
			return nil, fault.Wrap(fault.KindConfiguration, err, "view %d (%v)", i, e.ViewID)
		}
		ds.Views = append(ds.Views, v)
	}
	if len(ds.Views) == 0 {
		return nil, fault.Config("manifest has no views")
	}
	return ds, nil
}

func (e *ViewEntry) view(ds *Dataset) (*View, error) {
	for d := 0; d < 3; d++ {
		if e.Dims[d] <= 0 {
			return nil, fmt.Errorf("invalid dimensions %v", e.Dims)
		}
	}
	v := &View{
		ID:           e.ViewID,
		Dims:         e.Dims,
		Calibration:  r3.Vector{X: 1, Y: 1, Z: 1},
		Registration: geom.Identity(),
		Present:      e.Present == nil || *e.Present,
		ImageFile:    ds.Path(e.Image),
		PSFFile:      ds.Path(e.PSFFile),
	}
	if len(e.Calibration) > 0 {
		if len(e.Calibration) != 3 {
			return nil, fmt.Errorf("calibration needs 3 values, got %d", len(e.Calibration))
		}
		v.Calibration = r3.Vector{X: e.Calibration[0], Y: e.Calibration[1], Z: e.Calibration[2]}
		if v.Calibration.X <= 0 || v.Calibration.Y <= 0 || v.Calibration.Z <= 0 {
			return nil, fmt.Errorf("calibration must be positive, got %v", e.Calibration)
		}
	}
	if len(e.Registration) > 0 {
		reg, err := geom.FromRows(e.Registration)
		if err != nil {
			return nil, err
		}
		v.Registration = reg
	}
	if len(e.Beads) > 0 {
		v.Beads = make(map[string][]r3.Vector, len(e.Beads))
		for label, pts := range e.Beads {
			vs := make([]r3.Vector, len(pts))
			for i, p := range pts {
				vs[i] = r3.Vector{X: p[0], Y: p[1], Z: p[2]}
			}
			v.Beads[label] = vs
		}
	}
	return v, nil
}
