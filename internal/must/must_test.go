// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package must

import "testing"

func withCapturedFunc(t *testing.T) *[]string {
	t.Helper()
	var calls []string
	old := Func
	Func = func(v ...interface{}) {
		s := ""
		for i, x := range v {
			if i > 0 {
				s += " "
			}
			if str, ok := x.(string); ok {
				s += str
			} else {
				s += "?"
			}
		}
		calls = append(calls, s)
	}
	t.Cleanup(func() { Func = old })
	return &calls
}

func TestTrueNoopWhenTrue(t *testing.T) {
	calls := withCapturedFunc(t)
	True(true, "should not fire")
	if len(*calls) != 0 {
		t.Fatalf("expected no calls, got %v", *calls)
	}
}

func TestTrueFiresWhenFalse(t *testing.T) {
	calls := withCapturedFunc(t)
	True(false, "bad state")
	if len(*calls) != 1 {
		t.Fatalf("expected one call, got %v", *calls)
	}
}

func TestTrueDefaultMessage(t *testing.T) {
	calls := withCapturedFunc(t)
	True(false)
	if len(*calls) != 1 || (*calls)[0] != "must: assertion failed" {
		t.Fatalf("unexpected calls: %v", *calls)
	}
}

func TestTruefFormats(t *testing.T) {
	calls := withCapturedFunc(t)
	Truef(false, "group %d missing", 3)
	if len(*calls) != 1 || (*calls)[0] != "group 3 missing" {
		t.Fatalf("unexpected calls: %v", *calls)
	}
}

func TestNilNoopWhenNil(t *testing.T) {
	calls := withCapturedFunc(t)
	Nil(nil)
	if len(*calls) != 0 {
		t.Fatalf("expected no calls, got %v", *calls)
	}
}

func TestNilFiresWhenNonNil(t *testing.T) {
	calls := withCapturedFunc(t)
	Nil("boom")
	if len(*calls) != 1 {
		t.Fatalf("expected one call, got %v", *calls)
	}
}
