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

package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKinds(t *testing.T) {
	cases := []struct {
		err                    error
		config, resource, data bool
	}{
		{Config("bad box"), true, false, false},
		{Resource("no gpu"), false, true, false},
		{Data("missing psf"), false, false, true},
		{fmt.Errorf("batch 3: %w", Data("missing image")), false, false, true},
		{io.EOF, false, false, false},
	}
	for i, c := range cases {
		if IsConfig(c.err) != c.config || IsResource(c.err) != c.resource || IsData(c.err) != c.data {
			t.Errorf("case %d: err=%v classified %v/%v/%v; want %v/%v/%v", i, c.err,
				IsConfig(c.err), IsResource(c.err), IsData(c.err), c.config, c.resource, c.data)
		}
	}
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(KindData, io.ErrUnexpectedEOF, "reading %s", "view.spv")
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err=%v does not wrap cause", err)
	}
	if Wrap(KindData, nil, "x") != nil {
		t.Errorf("wrapping nil should give nil")
	}
}

func TestJoin(t *testing.T) {
	err := Join(nil, nil)
	err = Join(err, errors.New("a"))
	err = Join(err, nil)
	err = Join(err, errors.New("b"))
	if err == nil || err.Error() != "a\nb" {
		t.Errorf("got %q; want a and b on separate lines", err)
	}

	first := Data("missing psf")
	if Join(nil, first) != first || Join(first, nil) != first {
		t.Errorf("joining with nil should return the error unchanged")
	}
	joined := Join(Join(first, io.EOF), Resource("no gpu"))
	if !errors.Is(joined, first) || !errors.Is(joined, io.EOF) || !IsData(joined) {
		t.Errorf("joined error %v lost its parts", joined)
	}
}
