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

// Package config loads and validates the settings of a fusion run from YAML.
// A Config is a plain value, passed explicitly to every batch.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mlnoga/spimfuse/internal/bbox"
	"github.com/mlnoga/spimfuse/internal/blend"
	"github.com/mlnoga/spimfuse/internal/decon"
	"github.com/mlnoga/spimfuse/internal/fault"
	"github.com/mlnoga/spimfuse/internal/prep"
	"github.com/mlnoga/spimfuse/internal/psf"
	"github.com/mlnoga/spimfuse/internal/vol"
	"gopkg.in/yaml.v3"
)

// Ordered subset settings
type OSEM struct {
	Mode        string  `yaml:"mode" json:"mode"`                                   // fixed, minOverlap, avgOverlap or manual
	Value       float64 `yaml:"value,omitempty" json:"value,omitempty"`             // group count for fixed, speedup for manual
	ShuffleSeed uint32  `yaml:"shuffleSeed,omitempty" json:"shuffleSeed,omitempty"` // non-zero shuffles views before grouping
}

// A manually requested bounding box, clamped to the feasible range
type ManualBox struct {
	Min [3]int `yaml:"min" json:"min"`
	Max [3]int `yaml:"max" json:"max"`
}

// The settings of a fusion run
type Config struct {
	Deconvolve      bool      `yaml:"deconvolve" json:"deconvolve"` // false fuses by weighted average only
	IterationMode   string    `yaml:"iterationMode" json:"iterationMode"`
	OSEM            OSEM      `yaml:"osem" json:"osem"`
	NumIterations   int       `yaml:"numIterations" json:"numIterations"`
	UseTikhonov     bool      `yaml:"useTikhonov" json:"useTikhonov"`
	Lambda          float64   `yaml:"lambda" json:"lambda"`
	BlockSize       BlockSize `yaml:"blockSize" json:"blockSize"`
	DeviceList      []string  `yaml:"deviceList" json:"deviceList"`
	RequireGPU      bool      `yaml:"requireGPU" json:"requireGPU"`
	InitialEstimate string    `yaml:"initialEstimate" json:"initialEstimate"`
	DebugInterval   int       `yaml:"debugInterval,omitempty" json:"debugInterval,omitempty"`

	PSF                map[int]psf.SourceConfig `yaml:"psf" json:"psf"`
	PSFSize            [3]int                   `yaml:"psfSize" json:"psfSize"`
	TransformPSFs      bool                     `yaml:"transformPSFs" json:"transformPSFs"`
	RefinePSFs         bool                     `yaml:"refinePSFs" json:"refinePSFs"`
	PSFSameForAllViews bool                     `yaml:"psfSameForAllViews" json:"psfSameForAllViews"`

	UseBlending      bool       `yaml:"useBlending" json:"useBlending"`
	BlendingBorder   [3]int     `yaml:"blendingBorder" json:"blendingBorder"`
	BlendingRange    [3]int     `yaml:"blendingRange" json:"blendingRange"`
	BlendingRamp     string     `yaml:"blendingRamp" json:"blendingRamp"`
	UseContentBased  bool       `yaml:"useContentBased" json:"useContentBased"`
	ContentSigmas    [2]float64 `yaml:"contentSigmas" json:"contentSigmas"`       // Gaussian sigmas of the content filter
	IndependentViews bool       `yaml:"independentViews" json:"independentViews"` // export every resampled view instead of fusing
	Interpolation    string     `yaml:"interpolation" json:"interpolation"`
	Padding          string     `yaml:"padding" json:"padding"`
	BoundingBox      *ManualBox `yaml:"boundingBox,omitempty" json:"boundingBox,omitempty"`
	Downsampling     int        `yaml:"downsampling" json:"downsampling"`
	PixelType        string     `yaml:"pixelType" json:"pixelType"`

	MemoryMB   int `yaml:"memoryMB,omitempty" json:"memoryMB,omitempty"`     // work memory, 0 for 70% of physical memory
	MaxThreads int `yaml:"maxThreads,omitempty" json:"maxThreads,omitempty"` // 0 for GOMAXPROCS
}

// Returns a configuration with default values
func Default() Config {
	psfSize := [3]int{19, 19, 25}
	return Config{
		Deconvolve:      true,
		IterationMode:   "opt1",
		OSEM:            OSEM{Mode: "fixed", Value: 1},
		NumIterations:   10,
		UseTikhonov:     true,
		Lambda:          0.006,
		DeviceList:      []string{"cpu"},
		InitialEstimate: "average",
		PSF:             map[int]psf.SourceConfig{},
		PSFSize:         psfSize,
		TransformPSFs:   true,
		UseBlending:     true,
		BlendingBorder:  [3]int{psfSize[0] / 2, psfSize[1] / 2, psfSize[2] / 5},
		BlendingRange:   [3]int{12, 12, 12},
		BlendingRamp:    "cosine",
		ContentSigmas:   [2]float64{20, 40},
		Interpolation:   "linear",
		Padding:         "edge",
		Downsampling:    1,
		PixelType:       "float32",
	}
}

// Loads the configuration from a YAML file. Missing keys keep their defaults,
// a missing file yields the defaults
func Load(configPath string) (Config, error) {
	cfg := Default()
	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fault.Wrap(fault.KindConfiguration, err, "reading config file %s", configPath)
	}
	return Parse(data)
}

// Parses a YAML configuration over the defaults and validates it
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fault.Wrap(fault.KindConfiguration, err, "parsing config")
	}
	return cfg, cfg.Validate()
}

// Saves the configuration to a YAML file
func (cfg Config) Save(configPath string) error {
	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Checks all options and their combinations
func (cfg Config) Validate() error {
	if _, err := cfg.SolverOptions(); err != nil {
		return err
	}
	if _, err := cfg.PrepOptions(); err != nil {
		return err
	}
	if _, err := cfg.ConvPadding(); err != nil {
		return err
	}
	if _, err := cfg.PSFSources(); err != nil {
		return err
	}
	if _, err := bbox.ParsePixelType(cfg.PixelType); err != nil {
		return fault.Config("%s", err.Error())
	}
	for d := 0; d < 3; d++ {
		if cfg.PSFSize[d] < 1 {
			return fault.Config("psfSize must be positive, got %v", cfg.PSFSize)
		}
		if cfg.BlendingBorder[d] < 0 || cfg.BlendingRange[d] < 0 {
			return fault.Config("blending border and range must not be negative")
		}
		if cfg.BlockSize.Dims[d] < 0 {
			return fault.Config("blockSize must not be negative, got %v", cfg.BlockSize.Dims)
		}
	}
	if cfg.Downsampling < 1 {
		return fault.Config("downsampling must be at least 1, got %d", cfg.Downsampling)
	}
	if cfg.Deconvolves() && cfg.Downsampling != 1 {
		return fault.Config("deconvolution requires downsampling 1, got %d", cfg.Downsampling)
	}
	if cfg.IndependentViews && cfg.Deconvolve {
		return fault.Config("independent views cannot be deconvolved, set deconvolve to false")
	}
	if cfg.UseContentBased && (cfg.ContentSigmas[0] <= 0 || cfg.ContentSigmas[1] <= 0) {
		return fault.Config("content sigmas must be positive, got %v", cfg.ContentSigmas)
	}
	if cfg.MemoryMB < 0 || cfg.MaxThreads < 0 || cfg.DebugInterval < 0 {
		return fault.Config("memoryMB, maxThreads and debugInterval must not be negative")
	}
	if bb := cfg.BoundingBox; bb != nil {
		for d := 0; d < 3; d++ {
			if bb.Min[d] > bb.Max[d] {
				return fault.Config("bounding box axis %d: min cannot be larger than max (%d > %d)", d, bb.Min[d], bb.Max[d])
			}
		}
	}
	return nil
}

// Returns true if the run deconvolves, i.e. needs PSFs
func (cfg Config) Deconvolves() bool {
	if !cfg.Deconvolve {
		return false
	}
	mode, err := decon.ParseMode(cfg.IterationMode)
	if err != nil {
		return false
	}
	_, overlapOnly := mode.(decon.OverlapOnly)
	return !overlapOnly
}

// Solver options. The observer is left for the caller to set
func (cfg Config) SolverOptions() (decon.Options, error) {
	mode, err := decon.ParseMode(cfg.IterationMode)
	if err != nil {
		return decon.Options{}, err
	}
	osem, err := decon.ParseOSEM(cfg.OSEM.Mode, cfg.OSEM.Value)
	if err != nil {
		return decon.Options{}, err
	}
	initial, err := decon.ParseInitial(cfg.InitialEstimate)
	if err != nil {
		return decon.Options{}, err
	}
	opts := decon.Options{
		Mode:          mode,
		OSEM:          osem,
		ShuffleSeed:   cfg.OSEM.ShuffleSeed,
		Iterations:    cfg.NumIterations,
		Tikhonov:      cfg.UseTikhonov,
		Lambda:        cfg.Lambda,
		Initial:       initial,
		DebugInterval: cfg.DebugInterval,
	}
	return opts, opts.Validate()
}

// Resampling options. Independent views are neither blended nor weighted by content
func (cfg Config) PrepOptions() (prep.Options, error) {
	interp, err := vol.ParseInterpolation(cfg.Interpolation)
	if err != nil {
		return prep.Options{}, fault.Config("%s", err.Error())
	}
	ramp, err := blend.ParseRamp(cfg.BlendingRamp)
	if err != nil {
		return prep.Options{}, fault.Config("%s", err.Error())
	}
	opts := prep.Options{
		Interpolation: interp,
		Border:        cfg.BlendingBorder,
		Range:         cfg.BlendingRange,
		Ramp:          ramp,
		NoBlending:    !cfg.UseBlending || cfg.IndependentViews,
		ContentBased:  cfg.UseContentBased && !cfg.IndependentViews,
		ContentSigmas: cfg.ContentSigmas,
	}
	return opts, nil
}

// Padding of convolution blocks
func (cfg Config) ConvPadding() (vol.Padding, error) {
	p, err := vol.ParsePadding(cfg.Padding)
	if err != nil {
		return p, fault.Config("%s", err.Error())
	}
	return p, nil
}

// PSF sources per channel
func (cfg Config) PSFSources() (map[int]psf.Source, error) {
	out := make(map[int]psf.Source, len(cfg.PSF))
	for ch, sc := range cfg.PSF {
		s, err := sc.Source()
		if err != nil {
			return nil, fault.Wrap(fault.KindConfiguration, err, "channel %d", ch)
		}
		out[ch] = s
	}
	return out, nil
}

// PSF building options
func (cfg Config) PSFOptions() psf.Options {
	return psf.Options{
		Size:            psf.OddSize(cfg.PSFSize),
		Transform:       cfg.TransformPSFs,
		SameForAllViews: cfg.PSFSameForAllViews,
		Refine:          cfg.RefinePSFs,
	}
}

// Parsed output pixel type
func (cfg Config) OutputPixelType() bbox.PixelType {
	pt, _ := bbox.ParsePixelType(cfg.PixelType)
	return pt
}
