// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

// minimalAssembly returns a single-TypeDef, single-Field, single-Method
// assembly: the smallest graph that exercises row assignment, child-range
// numbering, and simple-row emission together.
func minimalAssembly() *Assembly {
	td := &TypeDef{Name: "Program", Namespace: "App"}
	f := &Field{Name: "counter", Signature: FieldSig{Type: TypeSig{Elem: ElementTypeI4}}, Owner: td}
	m := &Method{
		Name:      "Main",
		Signature: MethodSig{RetType: ParamSig{Type: TypeSig{Elem: ElementTypeVoid}}},
		Owner:     td,
	}
	td.Fields = []*Field{f}
	td.Methods = []*Method{m}

	return &Assembly{
		Module:  &Module{Name: "App.dll"},
		TypeDefs: []*TypeDef{td},
		Fields:  []*Field{f},
		Methods: []*Method{m},
	}
}

func TestBuilderEnumerateAssignsRows(t *testing.T) {
	a := minimalAssembly()
	b := NewBuilder(a)
	if err := b.Enumerate(); err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}

	if b.rowOf[a.Module] != 1 {
		t.Errorf("Module row = %d, want 1", b.rowOf[a.Module])
	}
	if b.rowOf[a.TypeDefs[0]] != 1 {
		t.Errorf("TypeDef row = %d, want 1", b.rowOf[a.TypeDefs[0]])
	}
	if b.rowOf[a.Fields[0]] != 1 {
		t.Errorf("Field row = %d, want 1", b.rowOf[a.Fields[0]])
	}
	if b.rowOf[a.Methods[0]] != 1 {
		t.Errorf("Method row = %d, want 1", b.rowOf[a.Methods[0]])
	}

	if b.rowCounts[typeDef] != 1 {
		t.Errorf("typeDef row count = %d, want 1", b.rowCounts[typeDef])
	}
	if b.rowCounts[field] != 1 {
		t.Errorf("field row count = %d, want 1", b.rowCounts[field])
	}
	if b.rowCounts[MethodDef] != 1 {
		t.Errorf("MethodDef row count = %d, want 1", b.rowCounts[MethodDef])
	}
}

func TestBuilderEmitProducesHeader(t *testing.T) {
	a := minimalAssembly()
	b := NewBuilder(a)
	if err := b.Enumerate(); err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	out, err := b.Emit()
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(out) < 24 {
		t.Fatalf("Emit output too short: %d bytes", len(out))
	}
	// Reserved dword, then major/minor version (2, 0) per ECMA-335 §II.24.2.6.
	if out[4] != 2 || out[5] != 0 {
		t.Errorf("table stream version = (%d, %d), want (2, 0)", out[4], out[5])
	}
}

func TestBuilderContractViolations(t *testing.T) {
	a := minimalAssembly()
	b := NewBuilder(a)

	if _, err := b.Emit(); ErrorKindOrPanic(t, err) != KindContractViolation {
		t.Error("Emit before Enumerate should be a contract violation")
	}

	if err := b.Enumerate(); err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if err := b.Enumerate(); ErrorKindOrPanic(t, err) != KindContractViolation {
		t.Error("calling Enumerate twice should be a contract violation")
	}

	if _, err := b.Emit(); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if _, err := b.Emit(); ErrorKindOrPanic(t, err) != KindContractViolation {
		t.Error("calling Emit twice should be a contract violation")
	}
}

// ErrorKindOrPanic extracts err's Kind, failing the test if err does not
// carry one (distinguishing "wrong kind" from "not our error type" in the
// contract-violation assertions above).
func ErrorKindOrPanic(t *testing.T, err error) Kind {
	t.Helper()
	kind, ok := ErrorKind(err)
	if !ok {
		t.Fatalf("expected an engine error, got %v", err)
	}
	return kind
}

func TestBuilderEmptyAssembly(t *testing.T) {
	a := &Assembly{Module: &Module{Name: "Empty.dll"}}
	b := NewBuilder(a)
	if err := b.Enumerate(); err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	out, err := b.Emit()
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(out) == 0 {
		t.Error("Emit of an empty assembly produced no bytes")
	}
}
