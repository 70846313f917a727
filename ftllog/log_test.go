// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ftllog

import (
	"strings"
	"testing"
)

type captureOutputter struct {
	level Level
	lines []string
}

func (c *captureOutputter) Level() Level { return c.level }

func (c *captureOutputter) Output(calldepth int, level Level, s string) error {
	c.lines = append(c.lines, s)
	return nil
}

func TestPrintRespectsLevel(t *testing.T) {
	cap := &captureOutputter{level: Off}
	defer SetOutputter(SetOutputter(cap))

	Print("hello", " ", "world")
	if len(cap.lines) != 0 {
		t.Fatalf("expected no output at Off, got %v", cap.lines)
	}

	cap.level = Info
	Print("hello", " ", "world")
	if len(cap.lines) != 1 || cap.lines[0] != "hello world" {
		t.Fatalf("unexpected output: %v", cap.lines)
	}
}

func TestPrintfFormats(t *testing.T) {
	cap := &captureOutputter{level: Info}
	defer SetOutputter(SetOutputter(cap))

	Printf("n=%d", 42)
	if len(cap.lines) != 1 || cap.lines[0] != "n=42" {
		t.Fatalf("unexpected output: %v", cap.lines)
	}
}

func TestPanicOutputsAndPanics(t *testing.T) {
	cap := &captureOutputter{level: Error}
	defer SetOutputter(SetOutputter(cap))

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected Panic to panic")
		}
		if !strings.Contains(cap.lines[0], "boom") {
			t.Fatalf("expected captured line to contain message, got %v", cap.lines)
		}
	}()
	Panic("boom")
}

func TestLevelString(t *testing.T) {
	cases := map[Level]string{Off: "off", Error: "error", Info: "info", Level(7): "info"}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}
