// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ftlerrors implements a small error type carrying an
// interpretable Kind, for the collateral codec libraries' serialization
// I/O. The core mapping engine has no fallible operations and never
// constructs one of these; only pgm and blockcodec, when loading a
// caller-supplied byte slice, return them.
package ftlerrors

import (
	"bytes"
	"strings"
)

// Kind classifies a serialization failure.
type Kind int

const (
	// Other indicates an unclassified error.
	Other Kind = iota
	// TooShort indicates the input ended before a required field.
	TooShort
	// TrailingBytes indicates the input has bytes past the last valid record.
	TrailingBytes
	// InvalidHeader indicates a header field failed a sanity check.
	InvalidHeader
)

var kinds = map[Kind]string{
	Other:         "unknown error",
	TooShort:      "input too short",
	TrailingBytes: "trailing bytes after last record",
	InvalidHeader: "invalid header",
}

// String returns a human-readable name for k.
func (k Kind) String() string {
	if s, ok := kinds[k]; ok {
		return s
	}
	return "unknown error"
}

// Error is the error type returned by serialization entry points in the
// pgm and blockcodec packages. Errors may chain through Err to attribute
// one error to another.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// E constructs an *Error from the provided arguments. Arguments are
// interpreted according to their type:
//
//   - Kind: sets the error's kind
//   - string: sets (or appends to) the error's message
//   - error: sets the error's cause
//
// If a kind is not supplied but a cause is, and the cause is itself an
// *Error, the kind is inherited from the cause.
func E(args ...interface{}) *Error {
	e := new(Error)
	var msg strings.Builder
	for _, arg := range args {
		switch arg := arg.(type) {
		case Kind:
			e.Kind = arg
		case string:
			if msg.Len() > 0 {
				msg.WriteString(" ")
			}
			msg.WriteString(arg)
		case *Error:
			if e.Kind == Other {
				e.Kind = arg.Kind
			}
			e.Err = arg
		case error:
			e.Err = arg
		}
	}
	e.Message = msg.String()
	return e
}

// Error returns a human-readable description of e.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b bytes.Buffer
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Kind != Other {
		pad(&b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		pad(&b, ": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns e's cause, if any, letting the standard library's
// errors.Is/As traverse the chain.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether e's kind matches the kind of target, when target is
// itself an *Error. This lets callers write errors.Is(err, ftlerrors.E(TooShort)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func pad(b *bytes.Buffer, s string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(s)
}
