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

// Package export hands fused volumes to writers.
package export

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/mlnoga/spimfuse/internal/bbox"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/vol"
	"gopkg.in/yaml.v3"
)

// A fused volume of one (timepoint, channel)
type Result struct {
	Name      string // TP<t>_Ch<c>, with an iteration suffix for intermediate results
	Volume    *vol.Volume
	Box       bbox.BoundingBox
	PixelType bbox.PixelType
}

// Receives results. Implementations must not modify the volume
type Exporter interface {
	Export(r *Result) error
}

// Writes results with several exporters, stopping at the first error
type Multi []Exporter

func (m Multi) Export(r *Result) error {
	for _, e := range m {
		if err := e.Export(r); err != nil {
			return err
		}
	}
	return nil
}

// Logs each result. Useful as the only exporter for dry runs
type LogExporter struct {
	Log io.Writer
}

func (e *LogExporter) Export(r *Result) error {
	fmt.Fprintf(e.Log, "%s: %s %s voxels, box %v, %v\n", r.Name, r.PixelType, r.Volume.DimensionsToString(), r.Box, r.Volume.Stats())
	return nil
}

// Metadata written next to raw volumes
type sidecar struct {
	Name         string `yaml:"name"`
	Dims         [3]int `yaml:"dims"`
	Min          [3]int `yaml:"min"`
	Max          [3]int `yaml:"max"`
	Downsampling int    `yaml:"downsampling"`
	PixelType    string `yaml:"pixelType"`
}

// Writes each result as a compressed volume file <Dir>/<Name>.spv, with the bounding box
// in <Dir>/<Name>.yaml. Integer pixel types are rounded and clamped before writing
type RawExporter struct {
	Dir string
}

func (e *RawExporter) Export(r *Result) error {
	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return fault.Wrap(fault.KindResource, err, "creating output directory %s", e.Dir)
	}
	base := filepath.Join(e.Dir, r.Name)
	if err := Quantize(r.Volume, r.PixelType).WriteFile(base + ".spv"); err != nil {
		return fault.Wrap(fault.KindResource, err, "writing %s.spv", base)
	}
	meta := sidecar{Name: r.Name, Dims: r.Volume.Dims, Min: r.Box.Min, Max: r.Box.Max,
		Downsampling: r.Box.Downsampling, PixelType: r.PixelType.String()}
	data, err := yaml.Marshal(&meta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(base+".yaml", data, 0644); err != nil {
		return fault.Wrap(fault.KindResource, err, "writing %s.yaml", base)
	}
	return nil
}

// Writes each result as a series of 16-bit TIFF planes <Dir>/<Name>_z0000.tif and so on.
// Float results are scaled from their minimum and maximum, integer results are written as is
type TIFFExporter struct {
	Dir string
}

func (e *TIFFExporter) Export(r *Result) error {
	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return fault.Wrap(fault.KindResource, err, "creating output directory %s", e.Dir)
	}
	min, max := float32(0), float32(math.MaxUint16)
	if r.PixelType == bbox.Float32 {
		s := r.Volume.Stats()
		min, max = s.Min, s.Max
	}
	pattern := filepath.Join(e.Dir, r.Name+"_z%04d.tif")
	if err := r.Volume.WriteTIFF16Planes(pattern, min, max, 1); err != nil {
		return fault.Wrap(fault.KindResource, err, "writing %s", pattern)
	}
	return nil
}

// Writes a false-color maximum intensity projection <Dir>/<Name>.jpg per result,
// stretched between low and high percentiles of the histogram
type PreviewExporter struct {
	Dir     string
	Quality int
	Ramp    vol.Ramp
}

func (e *PreviewExporter) Export(r *Result) error {
	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return fault.Wrap(fault.KindResource, err, "creating output directory %s", e.Dir)
	}
	quality := e.Quality
	if quality <= 0 {
		quality = 95
	}
	lo, hi := r.Volume.DisplayRange(0.1, 99.9, 4096)
	fileName := filepath.Join(e.Dir, r.Name+".jpg")
	if err := r.Volume.WriteMIPJPGToFile(fileName, lo, hi, 1, quality, e.Ramp); err != nil {
		return fault.Wrap(fault.KindResource, err, "writing %s", fileName)
	}
	return nil
}

// Returns the volume converted to the value range of the pixel type. Float volumes are returned unchanged
func Quantize(v *vol.Volume, pt bbox.PixelType) *vol.Volume {
	if pt != bbox.Uint16 {
		return v
	}
	out := vol.New(v.Dims)
	for i, d := range v.Data {
		switch {
		case d != d || d < 0:
			out.Data[i] = 0
		case d > math.MaxUint16:
			out.Data[i] = math.MaxUint16
		default:
			out.Data[i] = float32(math.Round(float64(d)))
		}
	}
	return out
}
