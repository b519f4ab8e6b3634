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

package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/spimfuse/internal/bbox"
	"github.com/mlnoga/spimfuse/internal/vol"
	"golang.org/x/image/tiff"
)

func testResult(pt bbox.PixelType) *Result {
	v := vol.New([3]int{8, 6, 3})
	for i := range v.Data {
		v.Data[i] = float32(i) * 1.5
	}
	v.Data[0] = -3
	box := bbox.BoundingBox{Max: [3]int{7, 5, 2}, Downsampling: 1, PixelType: pt}
	return &Result{Name: "TP0_Ch1", Volume: v, Box: box, PixelType: pt}
}

func TestRawExporter(t *testing.T) {
	dir := t.TempDir()
	r := testResult(bbox.Uint16)
	if err := (&RawExporter{Dir: dir}).Export(r); err != nil {
		t.Fatal(err)
	}
	back, err := vol.ReadFile(filepath.Join(dir, "TP0_Ch1.spv"))
	if err != nil {
		t.Fatal(err)
	}
	if back.Dims != r.Volume.Dims || back.Data[0] != 0 || back.Data[3] != 5 {
		t.Errorf("read back %v with data %v", back.Dims, back.Data[:4])
	}
	meta, err := os.ReadFile(filepath.Join(dir, "TP0_Ch1.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(meta), "pixelType: uint16") {
		t.Errorf("sidecar lacks pixel type:\n%s", meta)
	}
	if r.Volume.Data[0] != -3 {
		t.Errorf("exporter modified the result volume")
	}
}

func TestTIFFAndPreview(t *testing.T) {
	dir := t.TempDir()
	r := testResult(bbox.Float32)
	var log bytes.Buffer
	m := Multi{&TIFFExporter{Dir: dir}, &PreviewExporter{Dir: dir, Ramp: vol.HeatRamp}, &LogExporter{Log: &log}}
	if err := m.Export(r); err != nil {
		t.Fatal(err)
	}
	for z := 0; z < 3; z++ {
		f, err := os.Open(filepath.Join(dir, "TP0_Ch1_z000"+string(rune('0'+z))+".tif"))
		if err != nil {
			t.Fatal(err)
		}
		img, err := tiff.Decode(f)
		f.Close()
		if err != nil {
			t.Fatal(err)
		}
		if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
			t.Errorf("plane %d has bounds %v", z, b)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "TP0_Ch1.jpg")); err != nil {
		t.Errorf("preview missing: %v", err)
	}
	if !strings.Contains(log.String(), "TP0_Ch1") {
		t.Errorf("log output %q", log.String())
	}
}

func TestQuantize(t *testing.T) {
	v := vol.New([3]int{4, 1, 1})
	copy(v.Data, []float32{-1, 2.6, 70000, 12})
	q := Quantize(v, bbox.Uint16)
	want := []float32{0, 3, 65535, 12}
	for i := range want {
		if q.Data[i] != want[i] {
			t.Errorf("quantized %g to %g; want %g", v.Data[i], q.Data[i], want[i])
		}
	}
	if Quantize(v, bbox.Float32) != v {
		t.Errorf("float volumes should pass through")
	}
}
