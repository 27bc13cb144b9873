// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"math"
)

// OperandKind classifies what follows an opcode's 1- or 2-byte encoding in
// the IL stream (ECMA-335 §III.1.8-9, Partition III Appendix).
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandI                // 4-byte signed int
	OperandI8               // 8-byte signed int
	OperandR                // 8-byte float64
	OperandR8               // 4-byte float32; named InlineR8/ShortInlineR in System.Reflection.Emit
	OperandVar              // 2-byte local/arg index
	OperandShortVar          // 1-byte local/arg index
	OperandShortI            // 1-byte signed int (ldc.i4.s)
	OperandBrTarget          // 4-byte relative branch offset
	OperandShortBrTarget     // 1-byte relative branch offset
	OperandSwitch            // u32 count + that many 4-byte relative offsets
	OperandTok               // 4-byte metadata token, unresolved kind (ldtoken)
	OperandString            // 4-byte #US heap token
	OperandSig               // 4-byte StandAloneSig token (calli)
	OperandMethod            // 4-byte MethodDef/MemberRef/MethodSpec token
	OperandField             // 4-byte FieldDef/MemberRef token
	OperandType              // 4-byte TypeDef/TypeRef/TypeSpec token
)

// opDef describes one opcode's fixed encoding and operand shape.
type opDef struct {
	name    string
	encoded []byte // 1 byte, or {0xFE, n} for the two-byte opcode space
	operand OperandKind
	// stackDelta is informational (push count - pop count of a non-variadic
	// instruction); call-shaped opcodes vary with their signature and are
	// left at 0.
	stackDelta int
}

// opcodeTable is indexed first by the single leading byte; entries with
// encoded[0] == 0xFE are instead looked up in opcodeTableFE by the second
// byte. This mirrors the two-level dispatch the CLI JIT itself uses.
var opcodeTable = buildOpcodeTable()
var opcodeTableFE = buildOpcodeTableFE()

func op(name string, b byte, kind OperandKind, delta int) opDef {
	return opDef{name: name, encoded: []byte{b}, operand: kind, stackDelta: delta}
}

func op2(name string, b byte, kind OperandKind, delta int) opDef {
	return opDef{name: name, encoded: []byte{0xFE, b}, operand: kind, stackDelta: delta}
}

func buildOpcodeTable() map[byte]opDef {
	t := map[byte]opDef{
		0x00: op("nop", 0x00, OperandNone, 0),
		0x01: op("break", 0x01, OperandNone, 0),
		0x02: op("ldarg.0", 0x02, OperandNone, 1),
		0x03: op("ldarg.1", 0x03, OperandNone, 1),
		0x04: op("ldarg.2", 0x04, OperandNone, 1),
		0x05: op("ldarg.3", 0x05, OperandNone, 1),
		0x06: op("ldloc.0", 0x06, OperandNone, 1),
		0x07: op("ldloc.1", 0x07, OperandNone, 1),
		0x08: op("ldloc.2", 0x08, OperandNone, 1),
		0x09: op("ldloc.3", 0x09, OperandNone, 1),
		0x0A: op("stloc.0", 0x0A, OperandNone, -1),
		0x0B: op("stloc.1", 0x0B, OperandNone, -1),
		0x0C: op("stloc.2", 0x0C, OperandNone, -1),
		0x0D: op("stloc.3", 0x0D, OperandNone, -1),
		0x0E: op("ldarg.s", 0x0E, OperandShortVar, 1),
		0x0F: op("ldarga.s", 0x0F, OperandShortVar, 1),
		0x10: op("starg.s", 0x10, OperandShortVar, -1),
		0x11: op("ldloc.s", 0x11, OperandShortVar, 1),
		0x12: op("ldloca.s", 0x12, OperandShortVar, 1),
		0x13: op("stloc.s", 0x13, OperandShortVar, -1),
		0x14: op("ldnull", 0x14, OperandNone, 1),
		0x15: op("ldc.i4.m1", 0x15, OperandNone, 1),
		0x16: op("ldc.i4.0", 0x16, OperandNone, 1),
		0x17: op("ldc.i4.1", 0x17, OperandNone, 1),
		0x18: op("ldc.i4.2", 0x18, OperandNone, 1),
		0x19: op("ldc.i4.3", 0x19, OperandNone, 1),
		0x1A: op("ldc.i4.4", 0x1A, OperandNone, 1),
		0x1B: op("ldc.i4.5", 0x1B, OperandNone, 1),
		0x1C: op("ldc.i4.6", 0x1C, OperandNone, 1),
		0x1D: op("ldc.i4.7", 0x1D, OperandNone, 1),
		0x1E: op("ldc.i4.8", 0x1E, OperandNone, 1),
		0x1F: op("ldc.i4.s", 0x1F, OperandShortI, 1),
		0x20: op("ldc.i4", 0x20, OperandI, 1),
		0x21: op("ldc.i8", 0x21, OperandI8, 1),
		0x22: op("ldc.r4", 0x22, OperandR8, 1),
		0x23: op("ldc.r8", 0x23, OperandR, 1),
		0x25: op("dup", 0x25, OperandNone, 1),
		0x26: op("pop", 0x26, OperandNone, -1),
		0x27: op("jmp", 0x27, OperandMethod, 0),
		0x28: op("call", 0x28, OperandMethod, 0),
		0x29: op("calli", 0x29, OperandSig, 0),
		0x2A: op("ret", 0x2A, OperandNone, 0),
		0x2B: op("br.s", 0x2B, OperandShortBrTarget, 0),
		0x2C: op("brfalse.s", 0x2C, OperandShortBrTarget, -1),
		0x2D: op("brtrue.s", 0x2D, OperandShortBrTarget, -1),
		0x2E: op("beq.s", 0x2E, OperandShortBrTarget, -2),
		0x2F: op("bge.s", 0x2F, OperandShortBrTarget, -2),
		0x30: op("bgt.s", 0x30, OperandShortBrTarget, -2),
		0x31: op("ble.s", 0x31, OperandShortBrTarget, -2),
		0x32: op("blt.s", 0x32, OperandShortBrTarget, -2),
		0x33: op("bne.un.s", 0x33, OperandShortBrTarget, -2),
		0x34: op("bge.un.s", 0x34, OperandShortBrTarget, -2),
		0x35: op("bgt.un.s", 0x35, OperandShortBrTarget, -2),
		0x36: op("ble.un.s", 0x36, OperandShortBrTarget, -2),
		0x37: op("blt.un.s", 0x37, OperandShortBrTarget, -2),
		0x38: op("br", 0x38, OperandBrTarget, 0),
		0x39: op("brfalse", 0x39, OperandBrTarget, -1),
		0x3A: op("brtrue", 0x3A, OperandBrTarget, -1),
		0x3B: op("beq", 0x3B, OperandBrTarget, -2),
		0x3C: op("bge", 0x3C, OperandBrTarget, -2),
		0x3D: op("bgt", 0x3D, OperandBrTarget, -2),
		0x3E: op("ble", 0x3E, OperandBrTarget, -2),
		0x3F: op("blt", 0x3F, OperandBrTarget, -2),
		0x40: op("bne.un", 0x40, OperandBrTarget, -2),
		0x41: op("bge.un", 0x41, OperandBrTarget, -2),
		0x42: op("bgt.un", 0x42, OperandBrTarget, -2),
		0x43: op("ble.un", 0x43, OperandBrTarget, -2),
		0x44: op("blt.un", 0x44, OperandBrTarget, -2),
		0x45: op("switch", 0x45, OperandSwitch, -1),
		0x46: op("ldind.i1", 0x46, OperandNone, 0),
		0x47: op("ldind.u1", 0x47, OperandNone, 0),
		0x48: op("ldind.i2", 0x48, OperandNone, 0),
		0x49: op("ldind.u2", 0x49, OperandNone, 0),
		0x4A: op("ldind.i4", 0x4A, OperandNone, 0),
		0x4B: op("ldind.u4", 0x4B, OperandNone, 0),
		0x4C: op("ldind.i8", 0x4C, OperandNone, 0),
		0x4D: op("ldind.i", 0x4D, OperandNone, 0),
		0x4E: op("ldind.r4", 0x4E, OperandNone, 0),
		0x4F: op("ldind.r8", 0x4F, OperandNone, 0),
		0x50: op("ldind.ref", 0x50, OperandNone, 0),
		0x51: op("stind.ref", 0x51, OperandNone, -2),
		0x52: op("stind.i1", 0x52, OperandNone, -2),
		0x53: op("stind.i2", 0x53, OperandNone, -2),
		0x54: op("stind.i4", 0x54, OperandNone, -2),
		0x55: op("stind.i8", 0x55, OperandNone, -2),
		0x56: op("stind.r4", 0x56, OperandNone, -2),
		0x57: op("stind.r8", 0x57, OperandNone, -2),
		0x58: op("add", 0x58, OperandNone, -1),
		0x59: op("sub", 0x59, OperandNone, -1),
		0x5A: op("mul", 0x5A, OperandNone, -1),
		0x5B: op("div", 0x5B, OperandNone, -1),
		0x5C: op("div.un", 0x5C, OperandNone, -1),
		0x5D: op("rem", 0x5D, OperandNone, -1),
		0x5E: op("rem.un", 0x5E, OperandNone, -1),
		0x5F: op("and", 0x5F, OperandNone, -1),
		0x60: op("or", 0x60, OperandNone, -1),
		0x61: op("xor", 0x61, OperandNone, -1),
		0x62: op("shl", 0x62, OperandNone, -1),
		0x63: op("shr", 0x63, OperandNone, -1),
		0x64: op("shr.un", 0x64, OperandNone, -1),
		0x65: op("neg", 0x65, OperandNone, 0),
		0x66: op("not", 0x66, OperandNone, 0),
		0x67: op("conv.i1", 0x67, OperandNone, 0),
		0x68: op("conv.i2", 0x68, OperandNone, 0),
		0x69: op("conv.i4", 0x69, OperandNone, 0),
		0x6A: op("conv.i8", 0x6A, OperandNone, 0),
		0x6B: op("conv.r4", 0x6B, OperandNone, 0),
		0x6C: op("conv.r8", 0x6C, OperandNone, 0),
		0x6D: op("conv.u4", 0x6D, OperandNone, 0),
		0x6E: op("conv.u8", 0x6E, OperandNone, 0),
		0x6F: op("callvirt", 0x6F, OperandMethod, 0),
		0x70: op("cpobj", 0x70, OperandType, -2),
		0x71: op("ldobj", 0x71, OperandType, 0),
		0x72: op("ldstr", 0x72, OperandString, 1),
		0x73: op("newobj", 0x73, OperandMethod, 0),
		0x74: op("castclass", 0x74, OperandType, 0),
		0x75: op("isinst", 0x75, OperandType, 0),
		0x76: op("conv.r.un", 0x76, OperandNone, 0),
		0x79: op("unbox", 0x79, OperandType, 0),
		0x7A: op("throw", 0x7A, OperandNone, -1),
		0x7B: op("ldfld", 0x7B, OperandField, 0),
		0x7C: op("ldflda", 0x7C, OperandField, 0),
		0x7D: op("stfld", 0x7D, OperandField, -2),
		0x7E: op("ldsfld", 0x7E, OperandField, 1),
		0x7F: op("ldsflda", 0x7F, OperandField, 1),
		0x80: op("stsfld", 0x80, OperandField, -1),
		0x81: op("stobj", 0x81, OperandType, -2),
		0x82: op("conv.ovf.i1.un", 0x82, OperandNone, 0),
		0x83: op("conv.ovf.i2.un", 0x83, OperandNone, 0),
		0x84: op("conv.ovf.i4.un", 0x84, OperandNone, 0),
		0x85: op("conv.ovf.i8.un", 0x85, OperandNone, 0),
		0x86: op("conv.ovf.u1.un", 0x86, OperandNone, 0),
		0x87: op("conv.ovf.u2.un", 0x87, OperandNone, 0),
		0x88: op("conv.ovf.u4.un", 0x88, OperandNone, 0),
		0x89: op("conv.ovf.u8.un", 0x89, OperandNone, 0),
		0x8A: op("conv.ovf.i.un", 0x8A, OperandNone, 0),
		0x8B: op("conv.ovf.u.un", 0x8B, OperandNone, 0),
		0x8C: op("box", 0x8C, OperandType, 0),
		0x8D: op("newarr", 0x8D, OperandType, 0),
		0x8E: op("ldlen", 0x8E, OperandNone, 0),
		0x8F: op("ldelema", 0x8F, OperandType, -1),
		0x90: op("ldelem.i1", 0x90, OperandNone, -1),
		0x91: op("ldelem.u1", 0x91, OperandNone, -1),
		0x92: op("ldelem.i2", 0x92, OperandNone, -1),
		0x93: op("ldelem.u2", 0x93, OperandNone, -1),
		0x94: op("ldelem.i4", 0x94, OperandNone, -1),
		0x95: op("ldelem.u4", 0x95, OperandNone, -1),
		0x96: op("ldelem.i8", 0x96, OperandNone, -1),
		0x97: op("ldelem.i", 0x97, OperandNone, -1),
		0x98: op("ldelem.r4", 0x98, OperandNone, -1),
		0x99: op("ldelem.r8", 0x99, OperandNone, -1),
		0x9A: op("ldelem.ref", 0x9A, OperandNone, -1),
		0x9B: op("stelem.i", 0x9B, OperandNone, -3),
		0x9C: op("stelem.i1", 0x9C, OperandNone, -3),
		0x9D: op("stelem.i2", 0x9D, OperandNone, -3),
		0x9E: op("stelem.i4", 0x9E, OperandNone, -3),
		0x9F: op("stelem.i8", 0x9F, OperandNone, -3),
		0xA0: op("stelem.r4", 0xA0, OperandNone, -3),
		0xA1: op("stelem.r8", 0xA1, OperandNone, -3),
		0xA2: op("stelem.ref", 0xA2, OperandNone, -3),
		0xA3: op("ldelem", 0xA3, OperandType, -1),
		0xA4: op("stelem", 0xA4, OperandType, -3),
		0xA5: op("unbox.any", 0xA5, OperandType, 0),
		0xB3: op("conv.ovf.i1", 0xB3, OperandNone, 0),
		0xB4: op("conv.ovf.u1", 0xB4, OperandNone, 0),
		0xB5: op("conv.ovf.i2", 0xB5, OperandNone, 0),
		0xB6: op("conv.ovf.u2", 0xB6, OperandNone, 0),
		0xB7: op("conv.ovf.i4", 0xB7, OperandNone, 0),
		0xB8: op("conv.ovf.u4", 0xB8, OperandNone, 0),
		0xB9: op("conv.ovf.i8", 0xB9, OperandNone, 0),
		0xBA: op("conv.ovf.u8", 0xBA, OperandNone, 0),
		0xC2: op("refanyval", 0xC2, OperandType, 0),
		0xC3: op("ckfinite", 0xC3, OperandNone, 0),
		0xC6: op("mkrefany", 0xC6, OperandType, 0),
		0xD0: op("ldtoken", 0xD0, OperandTok, 1),
		0xD1: op("conv.u2", 0xD1, OperandNone, 0),
		0xD2: op("conv.u1", 0xD2, OperandNone, 0),
		0xD3: op("conv.i", 0xD3, OperandNone, 0),
		0xD4: op("conv.ovf.i", 0xD4, OperandNone, 0),
		0xD5: op("conv.ovf.u", 0xD5, OperandNone, 0),
		0xD6: op("add.ovf", 0xD6, OperandNone, -1),
		0xD7: op("add.ovf.un", 0xD7, OperandNone, -1),
		0xD8: op("mul.ovf", 0xD8, OperandNone, -1),
		0xD9: op("mul.ovf.un", 0xD9, OperandNone, -1),
		0xDA: op("sub.ovf", 0xDA, OperandNone, -1),
		0xDB: op("sub.ovf.un", 0xDB, OperandNone, -1),
		0xDC: op("endfinally", 0xDC, OperandNone, 0),
		0xDD: op("leave", 0xDD, OperandBrTarget, 0),
		0xDE: op("leave.s", 0xDE, OperandShortBrTarget, 0),
		0xDF: op("stind.i", 0xDF, OperandNone, -2),
		0xE0: op("conv.u", 0xE0, OperandNone, 0),
	}
	return t
}

func buildOpcodeTableFE() map[byte]opDef {
	return map[byte]opDef{
		0x00: op2("arglist", 0x00, OperandNone, 1),
		0x01: op2("ceq", 0x01, OperandNone, -1),
		0x02: op2("cgt", 0x02, OperandNone, -1),
		0x03: op2("cgt.un", 0x03, OperandNone, -1),
		0x04: op2("clt", 0x04, OperandNone, -1),
		0x05: op2("clt.un", 0x05, OperandNone, -1),
		0x06: op2("ldftn", 0x06, OperandMethod, 1),
		0x07: op2("ldvirtftn", 0x07, OperandMethod, 0),
		0x09: op2("ldarg", 0x09, OperandVar, 1),
		0x0A: op2("ldarga", 0x0A, OperandVar, 1),
		0x0B: op2("starg", 0x0B, OperandVar, -1),
		0x0C: op2("ldloc", 0x0C, OperandVar, 1),
		0x0D: op2("ldloca", 0x0D, OperandVar, 1),
		0x0E: op2("stloc", 0x0E, OperandVar, -1),
		0x0F: op2("localloc", 0x0F, OperandNone, 0),
		0x11: op2("endfilter", 0x11, OperandNone, -1),
		0x12: op2("unaligned.", 0x12, OperandShortI, 0),
		0x13: op2("volatile.", 0x13, OperandNone, 0),
		0x14: op2("tail.", 0x14, OperandNone, 0),
		0x15: op2("initobj", 0x15, OperandType, -1),
		0x16: op2("constrained.", 0x16, OperandType, 0),
		0x17: op2("cpblk", 0x17, OperandNone, -3),
		0x18: op2("initblk", 0x18, OperandNone, -3),
		0x1A: op2("rethrow", 0x1A, OperandNone, 0),
		0x1C: op2("sizeof", 0x1C, OperandType, 1),
		0x1D: op2("refanytype", 0x1D, OperandNone, 0),
		0x1E: op2("readonly.", 0x1E, OperandNone, 0),
	}
}

// Instruction is a decoded IL instruction. BrTarget operands are resolved to
// Label, not kept as raw relative offsets, so bodies can be edited (shifting
// instructions) without the caller redoing offset arithmetic.
type Instruction struct {
	Offset  uint32 // IL offset this instruction starts at (load path only)
	Op      opDef
	IntArg  int64
	FloatArg float64
	Token   Token
	Label   Label   // BrTarget / ShortBrTarget
	Targets []Label // Switch
}

// Label identifies an IL offset symbolically. A body under construction
// binds labels to offsets with (*MethodBody).MarkLabel before Serialise;
// resolving a never-bound label is KindUnresolvedLabel.
type Label uint32

// EHClauseFlags classifies one exception handler region, ECMA-335 §II.25.4.6.
type EHClauseFlags uint32

const (
	EHException EHClauseFlags = 0x0000
	EHFilter     EHClauseFlags = 0x0001
	EHFinally    EHClauseFlags = 0x0002
	EHFault      EHClauseFlags = 0x0004
)

// EHClause is one entry of a method body's exception-handling table.
type EHClause struct {
	Flags         EHClauseFlags
	TryOffset     uint32
	TryLength     uint32
	HandlerOffset uint32
	HandlerLength uint32
	// ClassToken is valid iff Flags == EHException.
	ClassToken Token
	// FilterOffset is valid iff Flags == EHFilter.
	FilterOffset uint32
}

// bodyState is the C6 state machine: Assembling -> Resolved -> Serialised.
type bodyState int

const (
	bodyAssembling bodyState = iota
	bodyResolved
	bodySerialised
)

// MethodBody is a method's IL: instructions, exception handlers, and the
// frame shape (max-stack, locals signature). It is built incrementally
// (Assembling), label offsets are fixed by Resolve, and Serialise then
// produces the final tiny/fat on-disk encoding.
type MethodBody struct {
	MaxStack   uint16
	InitLocals bool
	LocalsSig  Token // StandAloneSig token, or nil token for no locals
	Insns      []Instruction
	EHClauses  []EHClause

	state  bodyState
	labels map[Label]uint32 // label -> IL offset, populated by MarkLabel
}

// NewMethodBody starts an empty body in the Assembling state.
func NewMethodBody() *MethodBody {
	return &MethodBody{MaxStack: 8, labels: make(map[Label]uint32)}
}

// MarkLabel binds lbl to the IL offset immediately following the
// instructions appended so far. Must be called before Resolve.
func (m *MethodBody) MarkLabel(lbl Label) error {
	if m.state != bodyAssembling {
		return newError(KindContractViolation, "MarkLabel after body left Assembling state")
	}
	m.labels[lbl] = m.computeOffset(len(m.Insns))
	return nil
}

func (m *MethodBody) computeOffset(uptoInsn int) uint32 {
	var off uint32
	for i := 0; i < uptoInsn; i++ {
		off += instructionSize(m.Insns[i])
	}
	return off
}

func instructionSize(ins Instruction) uint32 {
	size := uint32(len(ins.Op.encoded))
	switch ins.Op.operand {
	case OperandNone:
	case OperandShortI, OperandShortVar, OperandShortBrTarget:
		size++
	case OperandI, OperandR8, OperandBrTarget, OperandVar,
		OperandTok, OperandString, OperandSig, OperandMethod,
		OperandField, OperandType:
		size += 4
	case OperandI8, OperandR:
		size += 8
	case OperandSwitch:
		size += 4 + uint32(len(ins.Targets))*4
	}
	return size
}

// Resolve fixes every instruction's IL offset and checks that every branch
// label is bound, moving the body from Assembling to Resolved; Serialise
// later turns labels into the relative displacement the on-disk form
// requires. Resolving a label that was never bound with MarkLabel is a
// KindUnresolvedLabel error.
func (m *MethodBody) Resolve() error {
	if m.state != bodyAssembling {
		return newError(KindContractViolation, "Resolve called outside Assembling state")
	}
	var off uint32
	for i := range m.Insns {
		m.Insns[i].Offset = off
		off += instructionSize(m.Insns[i])
	}
	for _, ins := range m.Insns {
		if ins.Op.operand == OperandBrTarget || ins.Op.operand == OperandShortBrTarget {
			if _, ok := m.labels[ins.Label]; !ok {
				return newError(KindUnresolvedLabel, "branch target label %d never bound", ins.Label)
			}
		}
		if ins.Op.operand == OperandSwitch {
			for _, t := range ins.Targets {
				if _, ok := m.labels[t]; !ok {
					return newError(KindUnresolvedLabel, "switch target label %d never bound", t)
				}
			}
		}
	}
	m.state = bodyResolved
	return nil
}

// codeSize returns the resolved IL byte length.
func (m *MethodBody) codeSize() uint32 {
	if len(m.Insns) == 0 {
		return 0
	}
	last := m.Insns[len(m.Insns)-1]
	return last.Offset + instructionSize(last)
}

// Serialise emits the method body's on-disk bytes: tiny or fat header, IL
// stream, and any EH data sections. The body must already be Resolved.
func (m *MethodBody) Serialise() ([]byte, error) {
	if m.state != bodyResolved {
		return nil, newError(KindContractViolation, "Serialise called before body was Resolved")
	}

	code, err := m.encodeCode()
	if err != nil {
		return nil, err
	}

	useTiny := m.MaxStack <= 8 && m.LocalsSig.IsNil() && len(m.EHClauses) == 0 && len(code) < 64
	var out []byte
	if useTiny {
		out = append(out, byte(len(code))<<2|0x02)
		out = append(out, code...)
	} else {
		flags := uint16(0x03) // CorILMethod_FatFormat
		if m.InitLocals {
			flags |= 0x10 // CorILMethod_InitLocals
		}
		if len(m.EHClauses) > 0 {
			flags |= 0x08 // CorILMethod_MoreSects
		}
		flags |= 3 << 12 // header size in dwords, always 3

		hdr := make([]byte, 12)
		binary.LittleEndian.PutUint16(hdr[0:2], flags)
		binary.LittleEndian.PutUint16(hdr[2:4], m.MaxStack)
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(code)))
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(m.LocalsSig))
		out = append(out, hdr...)
		out = append(out, code...)

		if len(m.EHClauses) > 0 {
			if rem := len(out) % 4; rem != 0 {
				out = append(out, make([]byte, 4-rem)...)
			}
			out = append(out, m.encodeEHSections()...)
		}
	}

	m.state = bodySerialised
	return out, nil
}

func (m *MethodBody) encodeCode() ([]byte, error) {
	var code []byte
	for _, ins := range m.Insns {
		code = append(code, ins.Op.encoded...)
		switch ins.Op.operand {
		case OperandNone:
		case OperandShortI:
			code = append(code, byte(ins.IntArg))
		case OperandShortVar:
			code = append(code, byte(ins.IntArg))
		case OperandVar:
			code = appendU16(code, uint16(ins.IntArg))
		case OperandI:
			code = appendU32(code, uint32(ins.IntArg))
		case OperandI8:
			code = appendU64(code, uint64(ins.IntArg))
		case OperandR8:
			code = appendU32(code, math.Float32bits(float32(ins.FloatArg)))
		case OperandR:
			code = appendU64(code, math.Float64bits(ins.FloatArg))
		case OperandShortBrTarget:
			target := m.labels[ins.Label]
			rel := int32(target) - int32(ins.Offset+instructionSize(ins))
			if rel < -128 || rel > 127 {
				return nil, newError(KindMalformedImage,
					"branch target too far for short form at offset %d", ins.Offset)
			}
			code = append(code, byte(int8(rel)))
		case OperandBrTarget:
			target := m.labels[ins.Label]
			rel := int32(target) - int32(ins.Offset+instructionSize(ins))
			code = appendU32(code, uint32(rel))
		case OperandSwitch:
			code = appendU32(code, uint32(len(ins.Targets)))
			// Relative offsets in a switch are measured from the
			// instruction immediately after the whole switch, per
			// ECMA-335 §III.3.68.
			next := ins.Offset + instructionSize(ins)
			for _, t := range ins.Targets {
				target := m.labels[t]
				rel := int32(target) - int32(next)
				code = appendU32(code, uint32(rel))
			}
		case OperandTok, OperandString, OperandSig, OperandMethod, OperandField, OperandType:
			code = appendU32(code, uint32(ins.Token))
		}
	}
	return code, nil
}

// ehSmallMax is the largest offset/length a small-form EH clause can encode;
// exceeding it, or having more than 20 clauses, forces the fat form (§4.6).
const ehSmallMax = 0xFFFF

func (m *MethodBody) needsFatEH() bool {
	if len(m.EHClauses) > 20 {
		return true
	}
	for _, c := range m.EHClauses {
		if c.TryOffset > ehSmallMax || c.TryLength > 0xFF ||
			c.HandlerOffset > ehSmallMax || c.HandlerLength > 0xFF {
			return true
		}
	}
	return false
}

func (m *MethodBody) encodeEHSections() []byte {
	fat := m.needsFatEH()
	var body []byte
	for _, c := range m.EHClauses {
		extra := uint32(c.FilterOffset)
		if c.Flags == EHException {
			extra = uint32(c.ClassToken)
		}
		if fat {
			body = appendU32(body, uint32(c.Flags))
			body = appendU32(body, c.TryOffset)
			body = appendU32(body, c.TryLength)
			body = appendU32(body, c.HandlerOffset)
			body = appendU32(body, c.HandlerLength)
			body = appendU32(body, extra)
		} else {
			body = appendU16(body, uint16(c.Flags))
			body = appendU16(body, uint16(c.TryOffset))
			body = append(body, byte(c.TryLength))
			body = appendU16(body, uint16(c.HandlerOffset))
			body = append(body, byte(c.HandlerLength))
			body = appendU32(body, extra)
		}
	}

	kind := byte(0x01) // CorILMethod_Sect_EHTable
	if fat {
		kind |= 0x40 // CorILMethod_Sect_FatFormat
	}
	dataLen := len(body) + 4
	var header []byte
	if fat {
		header = appendU32(nil, uint32(dataLen)<<8|uint32(kind))
	} else {
		header = []byte{kind, byte(dataLen), 0, 0}
	}
	return append(header, body...)
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}
func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

// DecodeMethodBody parses a method body's on-disk bytes (tiny or fat) into
// instructions and EH clauses. Branch targets are converted from relative
// offsets into Labels bound to the targeted IL offset, so the result is
// already in the Resolved state and can be re-serialised without further
// label bookkeeping.
func DecodeMethodBody(b []byte) (*MethodBody, error) {
	if len(b) == 0 {
		return nil, newError(KindMalformedImage, "empty method body")
	}

	m := &MethodBody{labels: make(map[Label]uint32)}
	var code []byte
	var ehData []byte

	switch b[0] & 0x03 {
	case 0x02: // tiny
		size := uint32(b[0]) >> 2
		m.MaxStack = 8
		if uint32(len(b)) < 1+size {
			return nil, newError(KindMalformedImage, "tiny method body truncated")
		}
		code = b[1 : 1+size]

	case 0x03: // fat
		if len(b) < 12 {
			return nil, newError(KindMalformedImage, "fat method header truncated")
		}
		flags := binary.LittleEndian.Uint16(b[0:2])
		headerDwords := flags >> 12
		if headerDwords != 3 {
			return nil, newError(KindMalformedImage, "fat method header size must be 3 dwords, got %d", headerDwords)
		}
		m.MaxStack = binary.LittleEndian.Uint16(b[2:4])
		codeSize := binary.LittleEndian.Uint32(b[4:8])
		m.LocalsSig = Token(binary.LittleEndian.Uint32(b[8:12]))
		m.InitLocals = flags&0x10 != 0

		start := 12
		end := start + int(codeSize)
		if end > len(b) {
			return nil, newError(KindMalformedImage, "fat method body code truncated")
		}
		code = b[start:end]

		if flags&0x08 != 0 { // MoreSects
			sectStart := end
			if rem := sectStart % 4; rem != 0 {
				sectStart += 4 - rem
			}
			if sectStart < len(b) {
				ehData = b[sectStart:]
			}
		}

	default:
		return nil, newError(KindMalformedImage, "invalid method body header flags 0x%x", b[0])
	}

	if err := m.decodeCode(code); err != nil {
		return nil, err
	}
	if len(ehData) > 0 {
		if err := m.decodeEHSections(ehData); err != nil {
			return nil, err
		}
	}
	m.state = bodyResolved
	return m, nil
}

func (m *MethodBody) decodeCode(code []byte) error {
	type pending struct {
		idx     int
		next    uint32
		targets []int32 // raw relative offsets (single-entry except switch)
	}
	var fixups []pending

	pos := 0
	for pos < len(code) {
		start := pos
		b := code[pos]
		var def opDef
		var ok bool
		if b == 0xFE {
			if pos+1 >= len(code) {
				return newError(KindInvalidOpcode, "truncated two-byte opcode at IL offset %d", start)
			}
			def, ok = opcodeTableFE[code[pos+1]]
			pos += 2
		} else {
			def, ok = opcodeTable[b]
			pos++
		}
		if !ok {
			return newError(KindInvalidOpcode, "unknown opcode byte 0x%x at IL offset %d", b, start)
		}

		ins := Instruction{Offset: uint32(start), Op: def}

		switch def.operand {
		case OperandNone:
		case OperandShortI:
			if pos >= len(code) {
				return newError(KindMalformedImage, "truncated operand at IL offset %d", start)
			}
			ins.IntArg = int64(int8(code[pos]))
			pos++
		case OperandShortVar:
			if pos >= len(code) {
				return newError(KindMalformedImage, "truncated operand at IL offset %d", start)
			}
			ins.IntArg = int64(code[pos])
			pos++
		case OperandVar:
			if pos+2 > len(code) {
				return newError(KindMalformedImage, "truncated operand at IL offset %d", start)
			}
			ins.IntArg = int64(binary.LittleEndian.Uint16(code[pos:]))
			pos += 2
		case OperandI:
			if pos+4 > len(code) {
				return newError(KindMalformedImage, "truncated operand at IL offset %d", start)
			}
			ins.IntArg = int64(int32(binary.LittleEndian.Uint32(code[pos:])))
			pos += 4
		case OperandI8:
			if pos+8 > len(code) {
				return newError(KindMalformedImage, "truncated operand at IL offset %d", start)
			}
			ins.IntArg = int64(binary.LittleEndian.Uint64(code[pos:]))
			pos += 8
		case OperandR8:
			if pos+4 > len(code) {
				return newError(KindMalformedImage, "truncated operand at IL offset %d", start)
			}
			ins.FloatArg = float64(math.Float32frombits(binary.LittleEndian.Uint32(code[pos:])))
			pos += 4
		case OperandR:
			if pos+8 > len(code) {
				return newError(KindMalformedImage, "truncated operand at IL offset %d", start)
			}
			ins.FloatArg = math.Float64frombits(binary.LittleEndian.Uint64(code[pos:]))
			pos += 8
		case OperandShortBrTarget:
			if pos >= len(code) {
				return newError(KindMalformedImage, "truncated operand at IL offset %d", start)
			}
			rel := int32(int8(code[pos]))
			pos++
			fixups = append(fixups, pending{idx: len(m.Insns), next: uint32(pos), targets: []int32{rel}})
		case OperandBrTarget:
			if pos+4 > len(code) {
				return newError(KindMalformedImage, "truncated operand at IL offset %d", start)
			}
			rel := int32(binary.LittleEndian.Uint32(code[pos:]))
			pos += 4
			fixups = append(fixups, pending{idx: len(m.Insns), next: uint32(pos), targets: []int32{rel}})
		case OperandSwitch:
			if pos+4 > len(code) {
				return newError(KindMalformedImage, "truncated switch count at IL offset %d", start)
			}
			n := binary.LittleEndian.Uint32(code[pos:])
			pos += 4
			rels := make([]int32, n)
			for i := range rels {
				if pos+4 > len(code) {
					return newError(KindMalformedImage, "truncated switch target at IL offset %d", start)
				}
				rels[i] = int32(binary.LittleEndian.Uint32(code[pos:]))
				pos += 4
			}
			fixups = append(fixups, pending{idx: len(m.Insns), next: uint32(pos), targets: rels})
		case OperandTok, OperandString, OperandSig, OperandMethod, OperandField, OperandType:
			if pos+4 > len(code) {
				return newError(KindMalformedImage, "truncated token operand at IL offset %d", start)
			}
			ins.Token = Token(binary.LittleEndian.Uint32(code[pos:]))
			pos += 4
		}

		m.Insns = append(m.Insns, ins)
	}

	nextLabel := Label(0)
	labelFor := make(map[uint32]Label)
	bind := func(off uint32) Label {
		if l, ok := labelFor[off]; ok {
			return l
		}
		l := nextLabel
		nextLabel++
		labelFor[off] = l
		m.labels[l] = off
		return l
	}
	for _, fx := range fixups {
		if len(fx.targets) == 1 {
			m.Insns[fx.idx].Label = bind(uint32(int32(fx.next) + fx.targets[0]))
			continue
		}
		targets := make([]Label, len(fx.targets))
		for i, rel := range fx.targets {
			targets[i] = bind(uint32(int32(fx.next) + rel))
		}
		m.Insns[fx.idx].Targets = targets
	}

	return nil
}

func (m *MethodBody) decodeEHSections(data []byte) error {
	for len(data) > 0 {
		kind := data[0]
		fat := kind&0x40 != 0
		var dataLen int
		var clauseBytes []byte
		if fat {
			if len(data) < 4 {
				return newError(KindMalformedImage, "truncated fat EH section header")
			}
			dataLen = int(binary.LittleEndian.Uint32(data[0:4]) >> 8)
			if len(data) < dataLen {
				return newError(KindMalformedImage, "truncated fat EH section")
			}
			clauseBytes = data[4:dataLen]
		} else {
			if len(data) < 4 {
				return newError(KindMalformedImage, "truncated small EH section header")
			}
			dataLen = int(data[1])
			if len(data) < dataLen {
				return newError(KindMalformedImage, "truncated small EH section")
			}
			clauseBytes = data[4:dataLen]
		}

		if kind&0x01 != 0 { // EHTable
			clauseSize := 12
			if fat {
				clauseSize = 24
			}
			for off := 0; off+clauseSize <= len(clauseBytes); off += clauseSize {
				cb := clauseBytes[off : off+clauseSize]
				var c EHClause
				if fat {
					c.Flags = EHClauseFlags(binary.LittleEndian.Uint32(cb[0:4]))
					c.TryOffset = binary.LittleEndian.Uint32(cb[4:8])
					c.TryLength = binary.LittleEndian.Uint32(cb[8:12])
					c.HandlerOffset = binary.LittleEndian.Uint32(cb[12:16])
					c.HandlerLength = binary.LittleEndian.Uint32(cb[16:20])
					extra := binary.LittleEndian.Uint32(cb[20:24])
					if c.Flags == EHException {
						c.ClassToken = Token(extra)
					} else if c.Flags == EHFilter {
						c.FilterOffset = extra
					}
				} else {
					c.Flags = EHClauseFlags(binary.LittleEndian.Uint16(cb[0:2]))
					c.TryOffset = uint32(binary.LittleEndian.Uint16(cb[2:4]))
					c.TryLength = uint32(cb[4])
					c.HandlerOffset = uint32(binary.LittleEndian.Uint16(cb[5:7]))
					c.HandlerLength = uint32(cb[7])
					extra := binary.LittleEndian.Uint32(cb[8:12])
					if c.Flags == EHException {
						c.ClassToken = Token(extra)
					} else if c.Flags == EHFilter {
						c.FilterOffset = extra
					}
				}
				m.EHClauses = append(m.EHClauses, c)
			}
		}

		if kind&0x80 == 0 { // no more sections
			break
		}
		// Chained sections are 4-byte aligned (§II.25.4.5).
		next := dataLen
		if rem := next % 4; rem != 0 {
			next += 4 - rem
		}
		data = data[next:]
	}
	return nil
}
