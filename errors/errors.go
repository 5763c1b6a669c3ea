// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines the error kinds that the LCFS core raises. The
// translation from those kinds to errno values happens at the
// RequestDispatch boundary, in fs.toErrno.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error raised anywhere in the core. See spec §7.
type Kind int

const (
	// NoSpace indicates the allocator is exhausted.
	NoSpace Kind = iota
	// NotFound indicates an inode or name is not present.
	NotFound
	// Exists indicates a name collision on create.
	Exists
	// NotEmpty indicates rmdir was attempted on a non-empty directory.
	NotEmpty
	// IoError indicates a BlockDevice failure, corruption, or shutdown.
	IoError
	// ReadOnly indicates a modification was attempted on a frozen/snapshot layer.
	ReadOnly
	// Invalid indicates a malformed request (bad offset, bad handle).
	Invalid
)

func (k Kind) String() string {
	switch k {
	case NoSpace:
		return "NoSpace"
	case NotFound:
		return "NotFound"
	case Exists:
		return "Exists"
	case NotEmpty:
		return "NotEmpty"
	case IoError:
		return "IoError"
	case ReadOnly:
		return "ReadOnly"
	case Invalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// Error is a Kind-tagged error. Core code should construct these with New or
// Wrap rather than ad hoc fmt.Errorf, so that the dispatch boundary can
// recover the Kind with errors.As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a Kind-tagged error with no underlying cause.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an underlying error with a Kind, preserving it for
// errors.Unwrap / errors.Is chains the way fs.go's "LookUpChild: %w" idiom
// does, but additionally tagging a Kind for the dispatch boundary.
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to IoError for errors that
// were never tagged (e.g. a raw device read failure that never went through
// New/Wrap).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return IoError
}
