// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ftllog provides simple level logging for the mapping engine.
// Log output is implemented by an outputter, which by default outputs to
// Go's standard logging package; tests substitute their own outputter to
// capture the one line the background flusher emits on a terminating
// invariant violation.
package ftllog

import (
	"fmt"
	golog "log"
	"os"
)

// An Outputter provides a destination for leveled log output.
type Outputter interface {
	Level() Level
	Output(calldepth int, level Level, s string) error
}

var out Outputter = gologOutputter{}

// SetOutputter installs a new outputter, returning the previous one.
// Not safe to call concurrently with log output.
func SetOutputter(newOut Outputter) Outputter {
	old := out
	out = newOut
	return old
}

// At reports whether the logger is currently logging at the given level.
func At(level Level) bool {
	return level <= out.Level()
}

// Level is a log verbosity level. Lower levels have higher priority.
type Level int

const (
	// Off never outputs messages.
	Off = Level(-2)
	// Error outputs only error and fatal messages.
	Error = Level(-1)
	// Info is the standard logging level.
	Info = Level(0)
)

func (l Level) String() string {
	switch l {
	case Off:
		return "off"
	case Error:
		return "error"
	case Info:
		return "info"
	default:
		return "info"
	}
}

// Print formats a message in the manner of fmt.Sprint and outputs it at
// the Info level.
func Print(v ...interface{}) {
	if At(Info) {
		out.Output(2, Info, fmt.Sprint(v...))
	}
}

// Printf formats a message in the manner of fmt.Sprintf and outputs it
// at the Info level.
func Printf(format string, v ...interface{}) {
	if At(Info) {
		out.Output(2, Info, fmt.Sprintf(format, v...))
	}
}

// Fatal formats a message in the manner of fmt.Sprint, outputs it at the
// Error level, and calls os.Exit(1).
func Fatal(v ...interface{}) {
	out.Output(2, Error, fmt.Sprint(v...))
	os.Exit(1)
}

// Fatalf formats a message in the manner of fmt.Sprintf, outputs it at
// the Error level, and calls os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	out.Output(2, Error, fmt.Sprintf(format, v...))
	os.Exit(1)
}

// Panic formats a message in the manner of fmt.Sprint, outputs it at the
// Error level, and panics. Used for invariant violations the caller may
// want to recover from in tests.
func Panic(v ...interface{}) {
	s := fmt.Sprint(v...)
	out.Output(2, Error, s)
	panic(s)
}

type gologOutputter struct{}

func (gologOutputter) Level() Level { return Info }

func (gologOutputter) Output(calldepth int, level Level, s string) error {
	return golog.Output(calldepth+1, s)
}
