// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ftlerrors

import (
	"errors"
	"testing"
)

func TestEBuildsMessageAndKind(t *testing.T) {
	e := E(TooShort, "blockcodec:", "truncated vector")
	if e.Kind != TooShort {
		t.Fatalf("Kind = %v, want TooShort", e.Kind)
	}
	if got, want := e.Error(), "blockcodec: truncated vector: input too short"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestEInheritsKindFromWrappedError(t *testing.T) {
	inner := E(InvalidHeader, "bad magic")
	outer := E("load failed", inner)
	if outer.Kind != InvalidHeader {
		t.Fatalf("Kind = %v, want InvalidHeader", outer.Kind)
	}
	if !errors.Is(outer, E(InvalidHeader)) {
		t.Fatal("expected errors.Is to match on Kind")
	}
	if errors.Is(outer, E(TooShort)) {
		t.Fatal("expected errors.Is to not match a different Kind")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	e := E(cause)
	if errors.Unwrap(e) != cause {
		t.Fatalf("Unwrap() = %v, want %v", errors.Unwrap(e), cause)
	}
}

func TestKindStringUnknown(t *testing.T) {
	if got := Kind(99).String(); got != "unknown error" {
		t.Fatalf("Kind(99).String() = %q", got)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *Error
	if e.Error() != "<nil>" {
		t.Fatalf("nil *Error.Error() = %q, want <nil>", e.Error())
	}
}
