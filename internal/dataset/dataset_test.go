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
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/vol"
)

const manifestYAML = `
views:
  - {timepoint: 0, channel: 1, angle: 90, illumination: 0, image: v1.spv, dims: [4, 4, 2]}
  - {timepoint: 0, channel: 1, angle: 0, illumination: 0, image: v0.spv, dims: [4, 4, 2],
     calibration: [0.5, 0.5, 2.0],
     registration: [1, 0, 0, 10, 0, 1, 0, 0, 0, 0, 1, 0],
     beads: {beads: [[1, 2, 1], [2, 2, 0.5]]}}
  - {timepoint: 0, channel: 0, angle: 0, illumination: 0, image: v2.spv, dims: [4, 4, 2], present: false}
`

func writeManifest(t *testing.T) string {
	dir := t.TempDir()
	fn := filepath.Join(dir, "dataset.yaml")
	if err := os.WriteFile(fn, []byte(manifestYAML), 0644); err != nil {
		t.Fatal(err)
	}
	img := vol.New([3]int{4, 4, 2})
	img.Fill(3)
	if err := img.WriteFile(filepath.Join(dir, "v0.spv")); err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestLoadManifest(t *testing.T) {
	ds, err := LoadManifest(writeManifest(t))
	if err != nil {
		t.Fatalf("load: %s", err)
	}
	batches := ds.Batches()
	if len(batches) != 2 {
		t.Fatalf("got %d batches; want 2", len(batches))
	}
	if b := batches[0]; b.Channel != 0 || len(b.Present()) != 0 {
		t.Errorf("first batch ch=%d present=%d; want ch 0 with no present views", b.Channel, len(b.Present()))
	}
	b := batches[1]
	if b.Name() != "TP0_Ch1" || len(b.Views) != 2 || b.Views[0].ID.Angle != 0 || b.Views[1].ID.Angle != 90 {
		t.Fatalf("second batch %s views sorted wrongly", b.Name())
	}
	v := b.Views[0]
	if len(v.Beads["beads"]) != 2 {
		t.Errorf("beads=%v; want 2 points", v.Beads)
	}
	// calibration is relative to x: z is stretched by 4
	p := v.Model().Apply(r3.Vector{X: 1, Y: 1, Z: 1})
	if want := (r3.Vector{X: 11, Y: 1, Z: 4}); p.Sub(want).Norm() > 1e-9 {
		t.Errorf("model(1,1,1)=%v; want %v", p, want)
	}
	img, err := v.Image()
	if err != nil || img.At(3, 3, 1) != 3 {
		t.Errorf("image=%v err=%v", img, err)
	}
	if _, err := b.Views[1].Image(); !fault.IsData(err) {
		t.Errorf("missing image err=%v; want data error", err)
	}
}

func TestManifestErrors(t *testing.T) {
	cases := []Manifest{
		{},
		{Views: []ViewEntry{{Dims: [3]int{0, 1, 1}}}},
		{Views: []ViewEntry{{Dims: [3]int{1, 1, 1}, Registration: []float64{1, 2, 3}}}},
		{Views: []ViewEntry{{Dims: [3]int{1, 1, 1}}, {Dims: [3]int{1, 1, 1}}}},
	}
	for i, m := range cases {
		if _, err := m.Dataset(""); !fault.IsConfig(err) {
			t.Errorf("case %d: err=%v; want configuration error", i, err)
		}
	}
}

func TestUnload(t *testing.T) {
	ds, err := LoadManifest(writeManifest(t))
	if err != nil {
		t.Fatal(err)
	}
	var v *View
	for _, w := range ds.Views {
		if w.ID.Angle == 0 && w.ID.Channel == 1 {
			v = w
		}
	}
	first, err := v.Image()
	if err != nil {
		t.Fatal(err)
	}
	v.Unload()
	if v.image != nil || v.loaded {
		t.Errorf("unloaded view still holds its image")
	}
	again, err := v.Image()
	if err != nil {
		t.Fatal(err)
	}
	if again == first || again.Data[0] != 3 || again.Dims != first.Dims {
		t.Errorf("reload gave %v %v; want a fresh copy of the file", again.Dims, again.Data[0])
	}

	img := vol.New([3]int{2, 2, 2})
	mem := NewInMemoryView(ViewID{}, img, v.Registration)
	mem.Unload()
	if got, err := mem.Image(); err != nil || got != img {
		t.Errorf("in-memory view lost its image: %v, %v", got, err)
	}
}
