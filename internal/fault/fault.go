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

// Package fault classifies the errors of a fusion run. Configuration errors
// and data errors abort one (timepoint, channel) batch, resource errors may
// trigger a fallback to the CPU.
package fault

import (
	"errors"
	"fmt"
)

// Kind of a classified error
type Kind int

const (
	KindConfiguration Kind = iota
	KindResource
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindResource:
		return "resource error"
	case KindData:
		return "data error"
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// Error is a classified error with an optional cause
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Config creates a configuration error
func Config(format string, args ...interface{}) error {
	return &Error{Kind: KindConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// Resource creates a resource error
func Resource(format string, args ...interface{}) error {
	return &Error{Kind: KindResource, Msg: fmt.Sprintf(format, args...)}
}

// Data creates a data error
func Data(format string, args ...interface{}) error {
	return &Error{Kind: KindData, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, keeping it as the cause
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of the first classified error in the chain
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsConfig(err error) bool   { k, ok := KindOf(err); return ok && k == KindConfiguration }
func IsResource(err error) bool { k, ok := KindOf(err); return ok && k == KindResource }
func IsData(err error) bool     { k, ok := KindOf(err); return ok && k == KindData }

// Join combines errors from parallel workers into one, skipping nils. A single
// non-nil error is returned as is
func Join(err, e error) error {
	if e == nil {
		return err
	}
	if err == nil {
		return e
	}
	return errors.Join(err, e)
}
