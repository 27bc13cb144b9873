// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind classifies a metadata engine error into one of the load/build
// failure categories. Unlike the plain sentinel errors used by the PE
// envelope (ErrInvalidPESize, ErrDOSMagicNotFound, ...), engine errors carry
// a Kind so callers can branch on category without string matching, and are
// wrapped with cockroachdb/errors so the originating frame survives through
// the load/resolve/build call chain.
type Kind int

const (
	// KindMalformedImage: stream header or row width inconsistent, a
	// truncated heap, or a bad magic number.
	KindMalformedImage Kind = iota

	// KindIndexOutOfRange: a token or coded index refers to a nonexistent row.
	KindIndexOutOfRange

	// KindSignatureError: a blob violates signature grammar or refers to a
	// nonexistent type row.
	KindSignatureError

	// KindInvalidOpcode: an unknown opcode byte was encountered decoding IL.
	KindInvalidOpcode

	// KindDuplicateDescriptor: the build path tried to add two Fields or
	// Methods with an identical signature to the same class.
	KindDuplicateDescriptor

	// KindUnresolvedLabel: a branch-target label was never bound before
	// emission.
	KindUnresolvedLabel

	// KindContractViolation: mutation after finalisation, or resolve called
	// before materialise.
	KindContractViolation
)

func (k Kind) String() string {
	switch k {
	case KindMalformedImage:
		return "MalformedImage"
	case KindIndexOutOfRange:
		return "IndexOutOfRange"
	case KindSignatureError:
		return "SignatureError"
	case KindInvalidOpcode:
		return "InvalidOpcode"
	case KindDuplicateDescriptor:
		return "DuplicateDescriptor"
	case KindUnresolvedLabel:
		return "UnresolvedLabel"
	case KindContractViolation:
		return "ContractViolation"
	default:
		return "Unknown"
	}
}

type engineError struct {
	kind Kind
	msg  string
}

func (e *engineError) Error() string { return e.kind.String() + ": " + e.msg }

// newError builds a Kind-tagged error, wrapped so callers further up the
// load/build pipeline can add context with errors.Wrapf without losing the
// kind (retrievable via ErrorKind).
func newError(kind Kind, format string, args ...interface{}) error {
	return errors.WithStack(&engineError{kind: kind, msg: fmt.Sprintf(format, args...)})
}

// ErrorKind extracts the Kind carried by an engine error, walking the
// wrap chain. The second return is false for errors that did not
// originate from this package (e.g. the PE-envelope sentinels).
func ErrorKind(err error) (Kind, bool) {
	var ee *engineError
	if errors.As(err, &ee) {
		return ee.kind, true
	}
	return KindMalformedImage, false
}

// ErrMalformedImage is a convenience sentinel for the common "no arguments"
// case; prefer newError(KindX, "...", args...) when a message is needed.
var (
	ErrMalformedImage      = newError(KindMalformedImage, "malformed image")
	ErrIndexOutOfRange     = newError(KindIndexOutOfRange, "index out of range")
	ErrSignatureError      = newError(KindSignatureError, "invalid signature blob")
	ErrInvalidOpcode       = newError(KindInvalidOpcode, "invalid opcode")
	ErrDuplicateDescriptor = newError(KindDuplicateDescriptor, "duplicate field or method descriptor")
	ErrUnresolvedLabel     = newError(KindUnresolvedLabel, "unresolved branch label")
	ErrContractViolation   = newError(KindContractViolation, "contract violation")
)
