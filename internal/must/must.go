// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package must provides a handful of functions to express fatal
// assertions, used where an invariant violation is program-terminating
// (a background-thread observation that its own encoder, or the
// foreground, broke a structural guarantee).
package must

import (
	"fmt"

	"github.com/js0-site/ftlmap/ftllog"
)

// Func is the function called to report an error and interrupt execution.
var Func func(...interface{}) = ftllog.Panic

// True is a no-op if b is true. If it is false, True formats a message in
// the manner of fmt.Sprint and calls Func.
func True(b bool, v ...interface{}) {
	if b {
		return
	}
	if len(v) == 0 {
		Func("must: assertion failed")
		return
	}
	Func(v...)
}

// Truef is a no-op if x is true. If it is false, Truef formats a message
// in the manner of fmt.Sprintf and calls Func.
func Truef(x bool, format string, v ...interface{}) {
	if x {
		return
	}
	Func(fmt.Sprintf(format, v...))
}

// Nil asserts that v is nil; v is typically a value of type error.
func Nil(v interface{}, args ...interface{}) {
	if v == nil {
		return
	}
	if len(args) == 0 {
		Func(v)
		return
	}
	Func(fmt.Sprint(args...), ": ", v)
}
