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
	"sort"

	"github.com/mlnoga/spimfuse/internal/fault"
)

// Where the PSFs of a channel come from. One of Extracted, File or SameAs
type Source interface {
	fmt.Stringer
	isSource()
}

// Extract PSFs from the bead correspondences with the given label
type Extracted struct {
	Label string
}

// Load PSFs from file. An empty path uses the per-view PSF file of the dataset
type File struct {
	Path string
}

// Copy the PSFs of another channel, matched by angle and illumination
type SameAs struct {
	Channel int
}

func (Extracted) isSource() {}
func (File) isSource()      {}
func (SameAs) isSource()    {}

func (s Extracted) String() string { return fmt.Sprintf("extract(%s)", s.Label) }
func (s File) String() string      { return fmt.Sprintf("file(%s)", s.Path) }
func (s SameAs) String() string    { return fmt.Sprintf("sameAs(channel %d)", s.Channel) }

// Serialized form of a source, as used in configuration files. Exactly one field must be set
type SourceConfig struct {
	Extract string `yaml:"extract,omitempty" json:"extract,omitempty"`
	File    string `yaml:"file,omitempty" json:"file,omitempty"`
	SameAs  *int   `yaml:"sameAs,omitempty" json:"sameAs,omitempty"`
	PerView bool   `yaml:"perView,omitempty" json:"perView,omitempty"` // file source: use the dataset's per-view files
}

// Converts the configuration into a source
func (c SourceConfig) Source() (Source, error) {
	n := 0
	var s Source
	if c.Extract != "" {
		n, s = n+1, Extracted{Label: c.Extract}
	}
	if c.File != "" || c.PerView {
		n, s = n+1, File{Path: c.File}
	}
	if c.SameAs != nil {
		n, s = n+1, SameAs{Channel: *c.SameAs}
	}
	if n != 1 {
		return nil, fault.Config("PSF source needs exactly one of extract, file or sameAs, got %d", n)
	}
	return s, nil
}

// Checks the sources of the given channels and returns the channels in processing order:
// channels providing their own PSFs first, then channels copying from them. A SameAs
// relation must point to a providing channel, chains and cycles are rejected
func ResolveSources(sources map[int]Source, channels []int) ([]int, error) {
	var providers, copiers []int
	for _, ch := range channels {
		src, ok := sources[ch]
		if !ok || src == nil {
			return nil, fault.Config("channel %d has no PSF source", ch)
		}
		switch s := src.(type) {
		case Extracted, File:
			providers = append(providers, ch)
		case SameAs:
			if s.Channel == ch {
				return nil, fault.Config("channel %d cannot use its own PSF", ch)
			}
			target, ok := sources[s.Channel]
			if !ok {
				return nil, fault.Config("channel %d uses the PSF of channel %d, which has no PSF source", ch, s.Channel)
			}
			if _, chained := target.(SameAs); chained {
				return nil, fault.Config("channel %d uses the PSF of channel %d, which itself uses %v; only direct references are allowed",
					ch, s.Channel, target)
			}
			if !contains(channels, s.Channel) {
				return nil, fault.Config("channel %d uses the PSF of channel %d, which is not part of the dataset", ch, s.Channel)
			}
			copiers = append(copiers, ch)
		default:
			return nil, fault.Config("channel %d has unknown PSF source %v", ch, src)
		}
	}
	if len(providers) == 0 {
		return nil, fault.Config("no channel is configured to extract or load a PSF")
	}
	sort.Ints(providers)
	sort.Ints(copiers)
	return append(providers, copiers...), nil
}

func contains(xs []int, x int) bool {
	for _, y := range xs {
		if y == x {
			return true
		}
	}
	return false
}
