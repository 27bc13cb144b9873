// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	stderrors "errors"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestErrorKindRoundTrip(t *testing.T) {
	err := newError(KindSignatureError, "bad tag %d", 7)
	kind, ok := ErrorKind(err)
	if !ok {
		t.Fatal("ErrorKind reported false for an engine error")
	}
	if kind != KindSignatureError {
		t.Errorf("ErrorKind = %v, want %v", kind, KindSignatureError)
	}
}

func TestErrorKindWrapped(t *testing.T) {
	err := errors.Wrapf(newError(KindIndexOutOfRange, "row %d", 3), "resolving TypeDef")
	kind, ok := ErrorKind(err)
	if !ok || kind != KindIndexOutOfRange {
		t.Errorf("ErrorKind(wrapped) = (%v, %v), want (%v, true)", kind, ok, KindIndexOutOfRange)
	}
}

func TestErrorKindForeignError(t *testing.T) {
	_, ok := ErrorKind(stderrors.New("not ours"))
	if ok {
		t.Error("ErrorKind reported true for a foreign error")
	}
}

func TestKindString(t *testing.T) {
	if KindContractViolation.String() != "ContractViolation" {
		t.Errorf("KindContractViolation.String() = %q, want %q",
			KindContractViolation.String(), "ContractViolation")
	}
	if Kind(999).String() != "Unknown" {
		t.Errorf("Kind(999).String() = %q, want %q", Kind(999).String(), "Unknown")
	}
}
