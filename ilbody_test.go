// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

func TestMethodBodyTinyRoundTrip(t *testing.T) {
	m := NewMethodBody()
	m.Insns = []Instruction{
		{Op: opcodeTable[0x02]}, // ldarg.0
		{Op: opcodeTable[0x2A]}, // ret
	}
	if err := m.Resolve(); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	b, err := m.Serialise()
	if err != nil {
		t.Fatalf("Serialise failed: %v", err)
	}
	// Tiny header: length<<2 | 0x02.
	if b[0]&0x03 != 0x02 {
		t.Fatalf("expected tiny header, got flags %#x", b[0]&0x03)
	}

	got, err := DecodeMethodBody(b)
	if err != nil {
		t.Fatalf("DecodeMethodBody failed: %v", err)
	}
	if len(got.Insns) != 2 {
		t.Fatalf("decoded %d instructions, want 2", len(got.Insns))
	}
	if got.Insns[0].Op.name != "ldarg.0" || got.Insns[1].Op.name != "ret" {
		t.Errorf("decoded ops = %q, %q, want ldarg.0, ret", got.Insns[0].Op.name, got.Insns[1].Op.name)
	}
}

func TestMethodBodyFatWithLocals(t *testing.T) {
	m := NewMethodBody()
	m.MaxStack = 4
	m.InitLocals = true
	m.LocalsSig = MakeToken(0x11, 5) // StandAloneSig token, row 5
	m.Insns = []Instruction{
		{Op: opcodeTable[0x16]}, // ldc.i4.0
		{Op: opcodeTable[0x0A]}, // stloc.0
		{Op: opcodeTable[0x2A]}, // ret
	}
	if err := m.Resolve(); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	b, err := m.Serialise()
	if err != nil {
		t.Fatalf("Serialise failed: %v", err)
	}
	if b[0]&0x03 != 0x03 {
		t.Fatalf("expected fat header, got flags %#x", b[0]&0x03)
	}

	got, err := DecodeMethodBody(b)
	if err != nil {
		t.Fatalf("DecodeMethodBody failed: %v", err)
	}
	if got.MaxStack != 4 || !got.InitLocals || got.LocalsSig != m.LocalsSig {
		t.Errorf("decoded header mismatch: MaxStack=%d InitLocals=%v LocalsSig=%v",
			got.MaxStack, got.InitLocals, got.LocalsSig)
	}
	if len(got.Insns) != 3 {
		t.Fatalf("decoded %d instructions, want 3", len(got.Insns))
	}
}

func TestMethodBodyBranchLabelRoundTrip(t *testing.T) {
	m := NewMethodBody()
	lbl := Label(0)
	m.Insns = []Instruction{
		{Op: opcodeTable[0x16]},                 // ldc.i4.0
		{Op: opcodeTable[0x2D], Label: lbl},     // brtrue.s -> lbl
		{Op: opcodeTable[0x17]},                 // ldc.i4.1
		{Op: opcodeTable[0x2A]},                 // ret
	}
	if err := m.MarkLabel(lbl); err != nil {
		t.Fatalf("MarkLabel failed: %v", err)
	}
	m.Insns = append(m.Insns,
		Instruction{Op: opcodeTable[0x18]}, // ldc.i4.2
		Instruction{Op: opcodeTable[0x2A]}, // ret
	)

	if err := m.Resolve(); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	b, err := m.Serialise()
	if err != nil {
		t.Fatalf("Serialise failed: %v", err)
	}

	got, err := DecodeMethodBody(b)
	if err != nil {
		t.Fatalf("DecodeMethodBody failed: %v", err)
	}
	if len(got.Insns) != 6 {
		t.Fatalf("decoded %d instructions, want 6", len(got.Insns))
	}
	// The branch at index 1 should target the instruction at index 4
	// (the ldc.i4.2 following the original MarkLabel point).
	branchTarget := got.labels[got.Insns[1].Label]
	if branchTarget != got.Insns[4].Offset {
		t.Errorf("branch target offset = %d, want %d (ldc.i4.2)", branchTarget, got.Insns[4].Offset)
	}
}

func TestMethodBodyUnresolvedLabel(t *testing.T) {
	m := NewMethodBody()
	m.Insns = []Instruction{
		{Op: opcodeTable[0x2B], Label: Label(99)}, // br.s to a never-marked label
	}
	err := m.Resolve()
	kind, ok := ErrorKind(err)
	if !ok || kind != KindUnresolvedLabel {
		t.Errorf("Resolve with an unbound label = (%v, %v), want KindUnresolvedLabel", kind, ok)
	}
}

func TestMethodBodySerialiseBeforeResolve(t *testing.T) {
	m := NewMethodBody()
	m.Insns = []Instruction{{Op: opcodeTable[0x2A]}}
	_, err := m.Serialise()
	kind, ok := ErrorKind(err)
	if !ok || kind != KindContractViolation {
		t.Errorf("Serialise before Resolve = (%v, %v), want KindContractViolation", kind, ok)
	}
}

func TestMethodBodyEHClauseRoundTrip(t *testing.T) {
	m := NewMethodBody()
	m.Insns = []Instruction{
		{Op: opcodeTable[0x02]}, // ldarg.0
		{Op: opcodeTable[0x2A]}, // ret
	}
	m.EHClauses = []EHClause{
		{
			Flags:         EHException,
			TryOffset:     0,
			TryLength:     2,
			HandlerOffset: 2,
			HandlerLength: 4,
			ClassToken:    MakeToken(typeDef, 3),
		},
	}
	if err := m.Resolve(); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	b, err := m.Serialise()
	if err != nil {
		t.Fatalf("Serialise failed: %v", err)
	}
	// Non-tiny format is forced by the presence of EH clauses.
	if b[0]&0x03 != 0x03 {
		t.Fatalf("expected fat header when EH clauses are present, got flags %#x", b[0]&0x03)
	}

	got, err := DecodeMethodBody(b)
	if err != nil {
		t.Fatalf("DecodeMethodBody failed: %v", err)
	}
	if len(got.EHClauses) != 1 {
		t.Fatalf("decoded %d EH clauses, want 1", len(got.EHClauses))
	}
	c := got.EHClauses[0]
	want := m.EHClauses[0]
	if c.Flags != want.Flags || c.TryOffset != want.TryOffset || c.TryLength != want.TryLength ||
		c.HandlerOffset != want.HandlerOffset || c.HandlerLength != want.HandlerLength ||
		c.ClassToken != want.ClassToken {
		t.Errorf("decoded EH clause = %+v, want %+v", c, want)
	}
}

func TestDecodeMethodBodyEmpty(t *testing.T) {
	if _, err := DecodeMethodBody(nil); err == nil {
		t.Error("DecodeMethodBody(nil) should fail")
	}
}

func TestDecodeMethodBodyInvalidOpcode(t *testing.T) {
	// Tiny header, 1 byte of code: 0x77 falls in an unassigned opcode gap.
	if _, err := DecodeMethodBody([]byte{0x06, 0x77}); err == nil {
		t.Error("DecodeMethodBody with an unknown opcode byte should fail")
	}
}
