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

package config

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mlnoga/spimfuse/internal/decon"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/psf"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	opts, err := cfg.SolverOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Mode != (decon.Opt1{}) || opts.OSEM != (decon.Fixed{N: 1}) || opts.Iterations != 10 || opts.Lambda != 0.006 {
		t.Errorf("unexpected solver defaults %+v", opts)
	}
	if cfg.BlendingBorder != [3]int{9, 9, 5} {
		t.Errorf("blending border %v; want [9 9 5]", cfg.BlendingBorder)
	}
	if !cfg.BlockSize.Whole() {
		t.Errorf("block size %v; want whole", cfg.BlockSize)
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
iterationMode: bayesian
osem:
  mode: manual
  value: 2.5
  shuffleSeed: 7
numIterations: 4
blockSize: [64, 64, 32]
deviceList: [cpu, "gpu:0"]
psfSize: [10, 10, 12]
psf:
  0: {extract: beads}
  1: {sameAs: 0}
boundingBox: {min: [0, 0, 0], max: [99, 99, 49]}
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BlockSize.Dims != [3]int{64, 64, 32} {
		t.Errorf("block size %v", cfg.BlockSize)
	}
	if cfg.Lambda != 0.006 || cfg.Interpolation != "linear" {
		t.Errorf("unspecified keys should keep their defaults, got %+v", cfg)
	}
	opts, _ := cfg.SolverOptions()
	if opts.OSEM != (decon.Manual{Value: 2.5}) || opts.ShuffleSeed != 7 || opts.Mode != (decon.Bayesian{}) {
		t.Errorf("unexpected solver options %+v", opts)
	}
	if got := cfg.PSFOptions().Size; got != [3]int{11, 11, 13} {
		t.Errorf("psf size %v; want odd [11 11 13]", got)
	}
	sources, err := cfg.PSFSources()
	if err != nil {
		t.Fatal(err)
	}
	if sources[0] != (psf.Extracted{Label: "beads"}) || sources[1] != (psf.SameAs{Channel: 0}) {
		t.Errorf("unexpected sources %v", sources)
	}
}

func TestParseRejects(t *testing.T) {
	for _, doc := range []string{
		"iterationMode: fastest",
		"osem: {mode: manual, value: 0}",
		"numIterations: 0",
		"lambda: -1",
		"padding: mirror",
		"blockSize: 12x12",
		"psf: {0: {extract: beads, sameAs: 1}}",
		"boundingBox: {min: [5, 0, 0], max: [4, 9, 9]}",
		"downsampling: 0",
		"independentViews: true",
		"{useContentBased: true, contentSigmas: [0, 4]}",
	} {
		if _, err := Parse([]byte(doc)); !fault.IsConfig(err) {
			t.Errorf("Parse(%q) error=%v; want configuration error", doc, err)
		}
	}
}

func TestPrepOptions(t *testing.T) {
	cfg, err := Parse([]byte("{useBlending: false, useContentBased: true, contentSigmas: [2, 3]}"))
	if err != nil {
		t.Fatal(err)
	}
	opts, _ := cfg.PrepOptions()
	if !opts.NoBlending || !opts.ContentBased || opts.ContentSigmas != [2]float64{2, 3} {
		t.Errorf("unexpected prep options %+v", opts)
	}

	cfg, err = Parse([]byte("{deconvolve: false, independentViews: true, useContentBased: true}"))
	if err != nil {
		t.Fatal(err)
	}
	if opts, _ := cfg.PrepOptions(); !opts.NoBlending || opts.ContentBased {
		t.Errorf("independent views should be neither blended nor content weighted, got %+v", opts)
	}
	if opts, _ := Default().PrepOptions(); opts.NoBlending || opts.ContentBased {
		t.Errorf("defaults should blend without content weights, got %+v", opts)
	}
}

func TestBlockSizeForms(t *testing.T) {
	for s, want := range map[string][3]int{"whole": {}, "32x32x16": {32, 32, 16}, "8,8,8": {8, 8, 8}} {
		b, err := ParseBlockSize(s)
		if err != nil || b.Dims != want {
			t.Errorf("ParseBlockSize(%q)=%v, %v; want %v", s, b, err, want)
		}
	}

	cfg := Default()
	cfg.BlockSize = BlockSize{Dims: [3]int{16, 16, 8}}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	var back Config
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.BlockSize != cfg.BlockSize {
		t.Errorf("json block size %v; want %v", back.BlockSize, cfg.BlockSize)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "fuse.yaml")
	cfg := Default()
	cfg.IterationMode = "independent"
	cfg.BlockSize = BlockSize{Dims: [3]int{20, 20, 20}}
	zero := 0
	cfg.PSF = map[int]psf.SourceConfig{0: {File: "psf.spv"}, 2: {SameAs: &zero}}
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.IterationMode != "independent" || got.BlockSize != cfg.BlockSize || got.PSF[0].File != "psf.spv" || *got.PSF[2].SameAs != 0 {
		t.Errorf("loaded %+v", got)
	}

	missing, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil || missing.IterationMode != "opt1" {
		t.Errorf("missing file should give defaults, got %+v, %v", missing, err)
	}
}
