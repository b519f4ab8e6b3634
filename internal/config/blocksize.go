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
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Convolution block size. All zero means the whole volume
type BlockSize struct {
	Dims [3]int
}

func (b BlockSize) Whole() bool { return b.Dims == [3]int{} }

func (b BlockSize) String() string {
	if b.Whole() {
		return "whole"
	}
	return fmt.Sprintf("%dx%dx%d", b.Dims[0], b.Dims[1], b.Dims[2])
}

// Parses "whole", or three sizes separated by x or commas
func ParseBlockSize(s string) (BlockSize, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "whole" || s == "" {
		return BlockSize{}, nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == 'x' || r == ',' || r == ' ' })
	if len(parts) != 3 {
		return BlockSize{}, fmt.Errorf("block size '%s' needs three dimensions or 'whole'", s)
	}
	var b BlockSize
	for d, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return BlockSize{}, fmt.Errorf("invalid block dimension '%s'", p)
		}
		b.Dims[d] = n
	}
	return b, nil
}

func (b *BlockSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseBlockSize(value.Value)
		if err != nil {
			return err
		}
		*b = parsed
		return nil
	}
	var dims [3]int
	if err := value.Decode(&dims); err != nil {
		return err
	}
	b.Dims = dims
	return nil
}

func (b BlockSize) MarshalYAML() (interface{}, error) {
	if b.Whole() {
		return "whole", nil
	}
	return b.Dims, nil
}

func (b *BlockSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseBlockSize(s)
		if err != nil {
			return err
		}
		*b = parsed
		return nil
	}
	return json.Unmarshal(data, &b.Dims)
}

func (b BlockSize) MarshalJSON() ([]byte, error) {
	if b.Whole() {
		return json.Marshal("whole")
	}
	return json.Marshal(b.Dims)
}
